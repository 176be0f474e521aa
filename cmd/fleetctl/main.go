package main

import (
	"os"

	"github.com/G-Research/minionfleet/cmd/fleetctl/cmd"
	"github.com/G-Research/minionfleet/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
