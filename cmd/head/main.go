package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/G-Research/minionfleet/internal/common"
	"github.com/G-Research/minionfleet/internal/common/config"
	"github.com/G-Research/minionfleet/internal/head"
	"github.com/G-Research/minionfleet/internal/head/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var cfg configuration.HeadConfiguration
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&cfg, "./config/head", userSpecifiedConfig)
	if err := cfg.Validate(); err != nil {
		config.LogValidationErrors(err)
		os.Exit(-1)
	}

	log.Info("Starting...")
	log.Infof("Config %+v", cfg)

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	shutdownMetricServer := common.ServeMetrics(cfg.MetricsPort)
	defer shutdownMetricServer()

	shutdown, wg := head.StartUp(cfg)
	go func() {
		<-stopSignal
		shutdown()
	}()
	wg.Wait()
}
