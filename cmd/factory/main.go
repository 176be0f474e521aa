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
	"github.com/G-Research/minionfleet/internal/demo"
	"github.com/G-Research/minionfleet/internal/factory"
	"github.com/G-Research/minionfleet/internal/factory/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var cfg configuration.FactoryConfiguration
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&cfg, "./config/factory", userSpecifiedConfig)
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

	scenarios, err := demo.NewCatalogue(demo.DefaultOptions()).Scenarios()
	if err != nil {
		log.Errorf("Failed to build the scenarios because %s", err)
		os.Exit(-1)
	}
	shutdown, wg := factory.StartUp(cfg, scenarios)
	go func() {
		<-stopSignal
		shutdown()
	}()
	wg.Wait()
}
