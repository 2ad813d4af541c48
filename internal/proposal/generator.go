// Package proposal produces experiment proposal bundles: exactly three
// structured single-variable change options per listing.
package proposal

import (
	"context"

	"github.com/listing-lab/listing-lab/internal/store"
)

// Option is one proposed change with its hypothesis. Experiment ids are
// assigned on ingestion by the lifecycle engine, never by the generator.
type Option struct {
	Change     store.Change
	Hypothesis string
}

// Generator is the idea-generating collaborator. Implementations must
// return exactly store.BundleSize options or an error.
type Generator interface {
	Generate(ctx context.Context, listing *store.Listing, images []store.Image, prior []*store.Experiment) ([]Option, error)
	Model() string
}
