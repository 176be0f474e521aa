package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/minionfleet/internal/fleetctl"
)

// initParams reads the persistent flags shared by the commands.
func initParams(cmd *cobra.Command, params *fleetctl.Params) error {
	var err error
	if params.Profile, err = cmd.Flags().GetString("profile"); err != nil {
		return err
	}
	if params.SpeedFactor, err = cmd.Flags().GetFloat64("speed-factor"); err != nil {
		return err
	}
	return nil
}
