package cli

import (
	"github.com/spf13/cobra"
)

type statsOptions struct {
	*RootOptions
	DryRun bool
}

func newStatsCommand(root *RootOptions) *cobra.Command {
	opts := &statsOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Recount posts per user and fix users.stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env()
			if err != nil {
				return err
			}
			defer env.close()

			ctx := cmd.Context()
			if !opts.DryRun {
				if err := Countdown(ctx, env.Clock, env.GracePeriod, "stats reconcile", cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			report, err := env.Runner.ReconcileStats(ctx, opts.DryRun)
			if err != nil {
				return err
			}
			return writeStatsReport(cmd.OutOrStdout(), report, opts.Format)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "only report users with stale counters")
	return cmd
}
