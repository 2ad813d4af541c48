// Package marketplace is the boundary to the listing marketplace. The core
// consumes the Client interface; the Etsy implementation lives alongside.
package marketplace

import "context"

// ListingFields are the mutable SEO-relevant fields of a listing.
type ListingFields struct {
	ListingID   int64    `json:"listing_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Views       int      `json:"views"`
	State       string   `json:"state,omitempty"`
}

// ListingImage is one entry of a listing's ordered image set.
type ListingImage struct {
	ImageID int64  `json:"listing_image_id"`
	URL     string `json:"url,omitempty"`
	Rank    int    `json:"rank"`
}

// UpdatePayload carries exactly the fields a change variant mutates. Nil /
// empty fields are omitted from the request.
type UpdatePayload struct {
	Title       *string
	Description *string
	Tags        *[]string // full resulting tag list; a pointer to an empty slice clears all tags
	ImageIDs    []int64   // full resulting image ordering
}

// Empty reports whether the payload would mutate nothing.
func (p UpdatePayload) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Tags == nil && len(p.ImageIDs) == 0
}

// Client is the marketplace collaborator. Failures are terminal for the
// triggering operation; retries belong to the caller, not the core.
type Client interface {
	FetchListing(ctx context.Context, listingID int64) (*ListingFields, error)
	FetchImages(ctx context.Context, listingID int64) ([]ListingImage, error)
	FetchAllListings(ctx context.Context) ([]*ListingFields, error)
	ApplyUpdate(ctx context.Context, listingID int64, payload UpdatePayload) error
}
