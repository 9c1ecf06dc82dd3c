package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyseavey/mtg-finder/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dataset freshness and the next scheduled update",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.finder.DatabaseStatus(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, kind := range models.AllDatasetKinds() {
		ds := status.Datasets[kind]
		if !ds.Exists {
			fmt.Fprintf(out, "%-9s missing\n", kind)
			continue
		}
		stale := ""
		if ds.Stale {
			stale = "  STALE"
		}
		fmt.Fprintf(out, "%-9s %6d entries  updated %s (%.1f days ago)%s\n",
			kind, ds.EntryCount, ds.CollectedAt.Local().Format(time.DateTime), *ds.DaysSinceUpdate, stale)
	}

	if !status.AutoUpdateEnabled {
		fmt.Fprintln(out, "Auto update: disabled")
	} else if status.NextScheduledUpdate != nil {
		fmt.Fprintf(out, "Next update: %s\n", status.NextScheduledUpdate.Local().Format(time.DateTime))
	}
	return nil
}
