package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/codyseavey/mtg-finder/internal/models"
	"github.com/codyseavey/mtg-finder/internal/services"
)

var commanderFlags struct {
	url      string
	name     string
	maxPrice string
	limit    int
	page     int
	tier     string
	asJSON   bool
}

var commanderCmd = &cobra.Command{
	Use:   "commander",
	Short: "List affordable EDHREC recommendations for a commander",
	RunE:  runCommander,
}

func init() {
	f := commanderCmd.Flags()
	f.StringVar(&commanderFlags.url, "url", "", "EDHREC commander page URL")
	f.StringVar(&commanderFlags.name, "name", "", "Commander name, used when --url is not given")
	f.StringVar(&commanderFlags.maxPrice, "max-price", "25", "Price ceiling in NOK, 0 for none")
	f.IntVar(&commanderFlags.limit, "limit", services.DefaultCommanderLimit, "Cards per page")
	f.IntVar(&commanderFlags.page, "page", 1, "Page number (1-based)")
	f.StringVar(&commanderFlags.tier, "tier", "any", "Recommendation list: any, budget, expensive or auto")
	f.BoolVar(&commanderFlags.asJSON, "json", false, "Print the result as JSON")

	commanderCmd.MarkFlagsOneRequired("url", "name")
}

func runCommander(cmd *cobra.Command, _ []string) error {
	maxPrice, err := decimal.NewFromString(commanderFlags.maxPrice)
	if err != nil {
		return fmt.Errorf("--max-price must be a number: %w", err)
	}

	query := services.CommanderQuery{
		URL:      commanderFlags.url,
		Name:     commanderFlags.name,
		MaxPrice: maxPrice,
		Limit:    commanderFlags.limit,
		Page:     commanderFlags.page,
	}
	if strings.EqualFold(commanderFlags.tier, "auto") {
		query.AutoTier = true
	} else {
		tier, err := models.ParseBudgetTier(commanderFlags.tier)
		if err != nil {
			return err
		}
		query.Tier = tier
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.finder.CommanderSearch(cmd.Context(), query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if commanderFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if note := missingNote(result.Missing); note != "" {
		fmt.Fprintln(out, note)
		return nil
	}

	fmt.Fprintf(out, "%s (%s): page %d, %d of %d cards\n\n", result.Commander, result.Tier, result.Page, len(result.Cards), result.Total)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tNOK\tSYNERGY\tURL")
	for _, c := range result.Cards {
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%s\n", c.Name, c.LocalPrice.StringFixed(2), c.Synergy, c.PurchaseURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if result.HasMore {
		fmt.Fprintf(out, "\nMore results: --page %d\n", result.Page+1)
	}
	return nil
}
