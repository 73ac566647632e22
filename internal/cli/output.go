package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/d60-Lab/namesync/internal/service"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRunReport(w io.Writer, r *service.RunReport, format string) error {
	if format == "json" {
		return writeJSON(w, r)
	}
	if r.DryRun {
		fmt.Fprintln(w, "Dry run: no documents were modified.")
	} else {
		fmt.Fprintln(w, "Backfill finished.")
	}
	fmt.Fprintf(w, "run id: %s\n", r.RunID)
	fmt.Fprintf(w, "users: %d\n", r.Users)
	fmt.Fprintf(w, "posts scanned: %d\n", r.Scanned)
	fmt.Fprintf(w, "posts needing update: %d\n", r.NeedsUpdate)
	if !r.DryRun {
		fmt.Fprintf(w, "posts updated: %d\n", r.Updated)
	}
	fmt.Fprintf(w, "batches: %d\n", r.Batches)
	fmt.Fprintf(w, "estimated cost: $%.6f\n", r.EstimatedCost)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "failed: %s: %s\n", f.UserID, f.Error)
	}
	fmt.Fprintf(w, "duration: %s\n", r.Duration)
	return nil
}

func writeStatsReport(w io.Writer, r *service.StatsReport, format string) error {
	if format == "json" {
		return writeJSON(w, r)
	}
	if r.DryRun {
		fmt.Fprintln(w, "Dry run: no documents were modified.")
	} else {
		fmt.Fprintln(w, "Stats reconcile finished.")
	}
	fmt.Fprintf(w, "run id: %s\n", r.RunID)
	fmt.Fprintf(w, "users: %d\n", r.Users)
	fmt.Fprintf(w, "stale counters: %d\n", r.Mismatched)
	if !r.DryRun {
		fmt.Fprintf(w, "users updated: %d\n", r.Updated)
	}
	fmt.Fprintf(w, "batches: %d\n", r.Batches)
	fmt.Fprintf(w, "estimated cost: $%.6f\n", r.EstimatedCost)
	fmt.Fprintf(w, "duration: %s\n", r.Duration)
	return nil
}
