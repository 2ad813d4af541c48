// Package sync pulls the shop's active listings from the marketplace into
// the local cache and appends one performance row per run. The performance
// table is append-only; repeating a sync on the same date overwrites that
// date's row with fresh counts.
package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/internal/store"
)

type Service struct {
	store  store.Store
	client marketplace.Client
	logger *slog.Logger

	today func() string
}

func New(st store.Store, client marketplace.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, client: client, logger: logger, today: store.Today}
}

// Result summarizes one sync run.
type Result struct {
	Date     string `json:"date"`
	Listings int    `json:"listings"`
	Views    int    `json:"total_views"`
}

// Run fetches every active listing, upserts the cache and image manifests,
// and records today's view counts.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	listings, err := s.client.FetchAllListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shop listings: %w", err)
	}

	date := s.today()
	views := make(map[int64]int, len(listings))
	total := 0

	for _, l := range listings {
		if err := s.store.UpsertListing(ctx, &store.Listing{
			ID:          l.ListingID,
			Title:       l.Title,
			Description: l.Description,
			Tags:        l.Tags,
			Views:       l.Views,
			State:       l.State,
		}); err != nil {
			return nil, err
		}

		images, err := s.client.FetchImages(ctx, l.ListingID)
		if err != nil {
			s.logger.Warn("skipping image manifest", "listing_id", l.ListingID, "error", err)
		} else if err := s.store.SaveListingImages(ctx, l.ListingID, toStoreImages(images)); err != nil {
			return nil, err
		}

		views[l.ListingID] = l.Views
		total += l.Views
	}

	if err := s.store.SavePerformanceRow(ctx, date, views); err != nil {
		return nil, err
	}

	s.logger.Info("sync complete", "date", date, "listings", len(listings), "total_views", total)
	return &Result{Date: date, Listings: len(listings), Views: total}, nil
}

func toStoreImages(images []marketplace.ListingImage) []store.Image {
	converted := make([]store.Image, 0, len(images))
	for _, img := range images {
		converted = append(converted, store.Image{ID: img.ImageID, URL: img.URL, Rank: img.Rank})
	}
	return converted
}
