package cmd

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/G-Research/minionfleet/internal/demo"
	"github.com/G-Research/minionfleet/internal/fleetctl"
)

func runCmd() *cobra.Command {
	a := fleetctl.New()

	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run a campaign in this process",
		Long: `Run a campaign of the demo scenarios on an in-process head and factories connected in memory, then
print its report. Without argument, the checkout scenario is run.`,
		Args: cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			a.Out = cmd.OutOrStdout()
			if err := initParams(cmd, &a.Params); err != nil {
				return err
			}
			a.Params.Scenarios = args
			if len(args) == 0 {
				a.Params.Scenarios = []string{demo.CheckoutScenario}
			}
			var err error
			if a.Params.Factories, err = cmd.Flags().GetInt("factories"); err != nil {
				return err
			}
			if a.Params.MinionsCount, err = cmd.Flags().GetInt("minions"); err != nil {
				return err
			}
			if a.Params.Timeout, err = cmd.Flags().GetDuration("timeout"); err != nil {
				return err
			}
			if a.Params.Demo.FailureRatio, err = cmd.Flags().GetFloat64("failure-ratio"); err != nil {
				return err
			}
			if a.Params.Demo.Latency, err = cmd.Flags().GetDuration("latency"); err != nil {
				return err
			}
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}
			if !verbose {
				log.SetLevel(log.WarnLevel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Run()
		},
	}
	defaults := demo.DefaultOptions()
	cmd.Flags().Int("factories", 2, "Number of factories sharing the minions")
	cmd.Flags().Int("minions", 0, "Number of minions of each scenario, the scenario default when 0")
	cmd.Flags().Duration("timeout", time.Minute, "The campaign is aborted when it lasts longer")
	cmd.Flags().Float64("failure-ratio", defaults.FailureRatio, "Share of the simulated requests failing")
	cmd.Flags().Duration("latency", defaults.Latency, "Latency of a simulated request")
	cmd.Flags().BoolP("verbose", "v", false, "Log what the head and the factories do")
	return cmd
}
