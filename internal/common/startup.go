package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"

	"github.com/G-Research/minionfleet/internal/common/config"
	"github.com/G-Research/minionfleet/internal/common/logging"
)

const EnvPrefix = "FLEET"

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads config.yaml from defaultPath, merges the override files on top of it, applies FLEET_ environment
// variables and decodes the result into config. The process exits if the configuration cannot be read.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs ...string) *viper.Viper {
	v, err := loadConfig(config, defaultPath, overrideConfigs...)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

func loadConfig(cfg interface{}, defaultPath string, overrideConfigs ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading default configuration from %s", defaultPath)
	}

	for _, overrideConfig := range overrideConfigs {
		if overrideConfig == "" {
			continue
		}
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "merging configuration from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg, config.CustomHooks...); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	return v, nil
}

var logHook sync.Once

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
	logHook.Do(func() {
		hook, err := promrus.NewPrometheusHook()
		if err != nil {
			log.WithError(err).Warn("log messages will not be counted")
			return
		}
		log.AddHook(hook)
	})
}

// ConfigureCommandLineLogging prints the bare messages, for command line tools.
func ConfigureCommandLineLogging() {
	log.SetFormatter(new(logging.CommandLineFormatter))
	log.SetOutput(os.Stdout)
}

// ServeMetrics exposes the default prometheus registry on /metrics and returns a function stopping the server.
func ServeMetrics(port uint16) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("Stopping metrics server")
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("metrics server did not stop gracefully")
		}
	}
}
