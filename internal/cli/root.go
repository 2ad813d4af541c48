package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "llab",
	Short: "Listing Lab - SEO experiments for your marketplace listings",
	Long: `Listing Lab runs controlled SEO experiments on marketplace listings.
Each experiment changes exactly one variable (title, description, tags, or
thumbnail ordering), measures views against a seasonality-adjusted baseline,
and is kept or reverted based on the outcome.

Typical flow:
  llab sync                 pull listings and record today's views
  llab propose <listing>    generate three change options
  llab select <listing>     pick one option to queue
  llab accept <listing>     apply the queued change and start the clock
  llab evaluate <listing>   score a running experiment
  llab keep / revert        finalize`,
	RunE: runServe, // Default action is to start the server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("LLAB_DB_PATH", "./listing-lab.db"), "database path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
