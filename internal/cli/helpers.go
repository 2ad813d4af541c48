package cli

import (
	"fmt"

	"github.com/listing-lab/listing-lab/internal/config"
	"github.com/listing-lab/listing-lab/internal/lifecycle"
	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/internal/proposal"
	"github.com/listing-lab/listing-lab/internal/snapshot"
	"github.com/listing-lab/listing-lab/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withEngine additionally wires the marketplace client and, when OpenAI
// credentials are present, the proposal generator.
func withEngine(fn func(*lifecycle.Engine, *store.SQLiteStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireEtsy(); err != nil {
		return err
	}

	return withStore(func(s *store.SQLiteStore) error {
		client := marketplace.NewEtsyClient(cfg.ShopID, cfg.EtsyKeystring, cfg.EtsyToken, cfg.EtsyRefresh)

		var generator proposal.Generator
		if cfg.RequireOpenAI() == nil {
			g, err := proposal.NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel)
			if err != nil {
				return err
			}
			generator = g
		}

		engine := lifecycle.New(s, client, snapshot.New(client), generator)
		return fn(engine, s)
	})
}
