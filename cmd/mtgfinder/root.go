// mtgfinder finds Magic cards the retailer sells below market value and affordable
// recommendations for a commander.
//
// Usage:
//
//	mtgfinder serve
//	mtgfinder update [retailer|market|all]
//	mtgfinder underpriced [--threshold=1.3] [--sort=ratio|savings|name]
//	mtgfinder commander (--url=<edhrec url> | --name=<commander>) [--max-price=25] [--limit=25] [--page=1]
//	mtgfinder status
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "mtgfinder",
	Short: "Find underpriced Magic cards at Outland",
	Long:  "mtgfinder compares the Outland singles catalog against Scryfall market prices\nand EDHREC commander recommendations.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(underpricedCmd)
	rootCmd.AddCommand(commanderCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
