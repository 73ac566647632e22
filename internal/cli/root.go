package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/namesync/internal/clock"
	"github.com/d60-Lab/namesync/internal/service"
)

// Runner 离线工具调用的同步操作
type Runner interface {
	Backfill(ctx context.Context) (*service.RunReport, error)
	DryRun(ctx context.Context) (*service.RunReport, error)
	ReconcileStats(ctx context.Context, dryRun bool) (*service.StatsReport, error)
}

// Env 命令执行所需的依赖，由 Opener 构造
type Env struct {
	Runner      Runner
	Clock       clock.Clock
	GracePeriod time.Duration
	Close       func() error
}

// Opener 在命令真正执行时才建立连接
type Opener func(opts *RootOptions) (*Env, error)

// RootOptions 全局参数
type RootOptions struct {
	Format          string
	Verbose         bool
	ContinueOnError bool
	open            Opener
}

var validFormats = []string{"text", "json"}

// NewRootCommand 构造 namesync 命令树
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "namesync",
		Short: "Keep denormalized display names in posts consistent",
		Long: `namesync propagates users' display names into the posts that cache them
(works and questions) and reconciles per-user post counters.

Both commands are idempotent: documents that already hold the expected value
are skipped, so an interrupted run converges when re-run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newBackfillCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	return cmd
}

func (o *RootOptions) env() (*Env, error) {
	env, err := o.open(o)
	if err != nil {
		return nil, err
	}
	if env.Clock == nil {
		env.Clock = clock.Real{}
	}
	return env, nil
}

func (e *Env) close() {
	if e.Close != nil {
		_ = e.Close()
	}
}
