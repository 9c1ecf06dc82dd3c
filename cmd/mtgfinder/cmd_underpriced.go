package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codyseavey/mtg-finder/internal/services"
)

var underpricedFlags struct {
	threshold float64
	sort      string
	limit     int
	asJSON    bool
}

var underpricedCmd = &cobra.Command{
	Use:   "underpriced",
	Short: "List retailer cards priced below the market",
	RunE:  runUnderpriced,
}

func init() {
	f := underpricedCmd.Flags()
	f.Float64Var(&underpricedFlags.threshold, "threshold", services.DefaultThreshold, "Minimum market/local price ratio (> 1.0)")
	f.StringVar(&underpricedFlags.sort, "sort", "ratio", "Sort by ratio, savings or name")
	f.IntVar(&underpricedFlags.limit, "limit", 50, "Rows to print, 0 for all")
	f.BoolVar(&underpricedFlags.asJSON, "json", false, "Print the result as JSON")
}

func runUnderpriced(cmd *cobra.Command, _ []string) error {
	sortKey, err := services.ParseSortKey(underpricedFlags.sort)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.finder.Underpriced(cmd.Context(), underpricedFlags.threshold, sortKey)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if underpricedFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if note := missingNote(result.Missing); note != "" {
		fmt.Fprintln(out, note)
		return nil
	}

	fmt.Fprintf(out, "%d cards at ratio >= %.2f (1 USD = %s NOK)\n\n", result.Count, result.Threshold, result.ExchangeRate)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tNOK\tMARKET USD\tMARKET NOK\tRATIO\tSAVINGS")
	for _, c := range services.Paginate(result.Cards, underpricedFlags.limit, 1) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n", c.Name, c.LocalPrice.StringFixed(2), c.MarketPrice.StringFixed(2), c.MarketPriceLocal.StringFixed(2), c.Ratio, c.Savings.StringFixed(2))
	}
	return tw.Flush()
}
