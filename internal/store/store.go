package store

import "context"

// Store defines the persistence interface over the experiment manifests,
// listing cache, performance history, and settings. Manifest membership
// (untested/testing/tested) is a derived index over each record's state.
type Store interface {
	// Proposal bundles
	SaveBundle(ctx context.Context, b *Bundle) error
	GetBundle(ctx context.Context, listingID int64) (*Bundle, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)
	DeleteBundle(ctx context.Context, listingID int64) error
	// PromoteBundle atomically moves every option of the listing's bundle to
	// untested, attaches the snapshot to the selected option, and deletes
	// the bundle.
	PromoteBundle(ctx context.Context, listingID int64, selectedID string, snap *Snapshot) (*Experiment, error)

	// Experiments
	GetExperiment(ctx context.Context, listingID int64, experimentID string) (*Experiment, error)
	UpdateExperiment(ctx context.Context, e *Experiment) error
	ListExperiments(ctx context.Context, states ...State) ([]*Experiment, error)
	ListListingExperiments(ctx context.Context, listingID int64, states ...State) ([]*Experiment, error)

	// Listing cache
	UpsertListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, listingID int64) (*Listing, error)
	ListListings(ctx context.Context) ([]*Listing, error)
	SaveListingImages(ctx context.Context, listingID int64, images []Image) error
	GetListingImages(ctx context.Context, listingID int64) ([]Image, error)

	// Image archive for thumbnail experiments
	ArchiveImages(ctx context.Context, experimentID string, images []Image) error
	ArchivedImages(ctx context.Context, experimentID string) ([]Image, error)

	// Performance history
	SavePerformanceRow(ctx context.Context, date string, views map[int64]int) error
	LoadPerformanceHistory(ctx context.Context) (PerformanceHistory, error)

	// Settings
	GetSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error

	// Experiment reports, stored as opaque documents
	SaveReport(ctx context.Context, id string, payload []byte) error
	GetReport(ctx context.Context, id string) ([]byte, error)
	ListReports(ctx context.Context) ([][]byte, error)

	// Lifecycle
	Close() error
}
