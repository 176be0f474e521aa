package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/minionfleet/internal/fleetctl"
)

func profileCmd() *cobra.Command {
	a := fleetctl.New()

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the starting lines of a ramp-up profile",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			a.Out = cmd.OutOrStdout()
			return initParams(cmd, &a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			minions, err := cmd.Flags().GetInt("minions")
			if err != nil {
				return err
			}
			return a.Profile(minions)
		},
	}
	cmd.Flags().Int("minions", 100, "Number of minions to start")
	return cmd
}
