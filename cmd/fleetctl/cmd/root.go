package cmd

import (
	"github.com/spf13/cobra"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetctl",
		Short: "fleetctl runs load-testing campaigns of the demo catalogue and inspects ramp-up profiles.",
	}

	cmd.PersistentFlags().String("profile", "", "Ramp-up profile in YAML, e.g. '{type: regular, regular: {periodMs: 100, minionsCountProLaunch: 5}}'")
	cmd.PersistentFlags().Float64("speed-factor", 1, "Speed factor dividing the periods of the profile")

	cmd.AddCommand(
		runCmd(),
		profileCmd(),
	)

	return cmd
}
