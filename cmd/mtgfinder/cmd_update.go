package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/services"
)

var updateCmd = &cobra.Command{
	Use:       "update [retailer|market|all]",
	Short:     "Acquire datasets and replace their snapshots",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"retailer", "market", "all", "outland", "scryfall"},
	RunE:      runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	target := "all"
	if len(args) == 1 {
		target = args[0]
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var results []*services.UpdateResult
	if target == "all" {
		results, err = a.updater.UpdateAll(ctx)
	} else {
		kind, perr := models.ParseDatasetKind(target)
		if perr != nil {
			return perr
		}
		var r *services.UpdateResult
		r, err = a.updater.Update(ctx, kind)
		if r != nil {
			results = append(results, r)
		}
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "%-9s %6d entries  %d pages", r.Dataset, r.Entries, r.PagesFetched)
		if r.PagesFailed > 0 {
			fmt.Fprintf(out, " (%d failed)", r.PagesFailed)
		}
		if r.Truncated {
			fmt.Fprint(out, " truncated")
		}
		fmt.Fprintf(out, "  %s\n", r.Duration.Round(time.Second))
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
	}
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}
