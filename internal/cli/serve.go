package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/listing-lab/listing-lab/internal/config"
	"github.com/listing-lab/listing-lab/internal/evaluate"
	"github.com/listing-lab/listing-lab/internal/lifecycle"
	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/internal/proposal"
	"github.com/listing-lab/listing-lab/internal/report"
	"github.com/listing-lab/listing-lab/internal/server"
	"github.com/listing-lab/listing-lab/internal/snapshot"
	"github.com/listing-lab/listing-lab/internal/store"
	shopsync "github.com/listing-lab/listing-lab/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Listing Lab server",
	Long: `Start the JSON API server and the daily sync schedule.

The server exposes the proposal, lifecycle, and evaluation operations over
HTTP; a cron job pulls listings and records view counts once a day.`,
	RunE: runServe,
}

var serveNoCron bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoCron, "no-cron", false, "disable the daily sync schedule")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireEtsy(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	client := marketplace.NewEtsyClient(cfg.ShopID, cfg.EtsyKeystring, cfg.EtsyToken, cfg.EtsyRefresh)

	var generator proposal.Generator
	var reports *report.Service
	if cfg.RequireOpenAI() == nil {
		g, err := proposal.NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel)
		if err != nil {
			return err
		}
		generator = g

		summarizer, err := report.NewOpenAISummarizer(cfg.OpenAIKey, cfg.OpenAIModel)
		if err != nil {
			return err
		}
		reports = report.New(s, summarizer)
	} else {
		logger.Warn("OpenAI credentials not set; proposal generation and reports disabled")
	}

	engine := lifecycle.New(s, client, snapshot.New(client), generator)
	evaluator := evaluate.New(s)
	syncer := shopsync.New(s, client, logger)

	if !serveNoCron {
		c := cron.New()
		if _, err := c.AddFunc("@daily", func() {
			if _, err := syncer.Run(context.Background()); err != nil {
				logger.Error("scheduled sync failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule daily sync: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	return server.New(s, engine, evaluator, syncer, reports, cfg.Port, logger).Start()
}
