package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/d60-Lab/namesync/internal/clock"
)

// Countdown 在破坏性操作前打印警告并等待 grace；ctx 被取消（Ctrl+C）时中止
func Countdown(ctx context.Context, clk clock.Clock, grace time.Duration, action string, out io.Writer) error {
	if grace <= 0 {
		return nil
	}
	fmt.Fprintf(out, "WARNING: %s will modify the database. Starting in %s, press Ctrl+C to abort.\n", action, grace)
	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "Aborted.")
		return ctx.Err()
	case <-clk.After(grace):
		return nil
	}
}
