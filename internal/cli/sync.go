package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/config"
	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/internal/store"
	shopsync "github.com/listing-lab/listing-lab/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull listings and record today's view counts",
	Long: `Fetch every active listing from the shop, refresh the local cache and
image manifests, and append today's row to the performance history.

Run this daily (the serve command schedules it automatically) so experiments
have a continuous view series to evaluate against.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireEtsy(); err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		client := marketplace.NewEtsyClient(cfg.ShopID, cfg.EtsyKeystring, cfg.EtsyToken, cfg.EtsyRefresh)
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		result, err := shopsync.New(s, client, logger).Run(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Synced %d listings on %s (%d total views)\n", result.Listings, result.Date, result.Views)
		return nil
	})
}
