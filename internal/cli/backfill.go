package cli

import (
	"github.com/spf13/cobra"
)

type backfillOptions struct {
	*RootOptions
	DryRun bool
}

func newBackfillCommand(root *RootOptions) *cobra.Command {
	opts := &backfillOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rewrite cached display names in all posts",
		Long: `Scan every user, compute the canonical display name (User_<first 6 chars of id>
when empty) and update each post in works and questions whose cached copy differs.

With --dry-run nothing is written; the command reports how many posts would be
updated and the estimated write cost.

Example:
  namesync backfill --dry-run
  namesync backfill --continue-on-error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.env()
			if err != nil {
				return err
			}
			defer env.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if opts.DryRun {
				report, err := env.Runner.DryRun(ctx)
				if err != nil {
					return err
				}
				return writeRunReport(out, report, opts.Format)
			}

			if err := Countdown(ctx, env.Clock, env.GracePeriod, "backfill", cmd.ErrOrStderr()); err != nil {
				return err
			}
			report, err := env.Runner.Backfill(ctx)
			if report != nil {
				if werr := writeRunReport(out, report, opts.Format); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "only estimate writes and cost")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "record per-user failures and keep going")
	return cmd
}
