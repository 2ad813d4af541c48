package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/tests/testutil"
)

type fakeClient struct {
	listings []*marketplace.ListingFields
	images   map[int64][]marketplace.ListingImage
	fetchErr error
}

func (f *fakeClient) FetchListing(ctx context.Context, listingID int64) (*marketplace.ListingFields, error) {
	for _, l := range f.listings {
		if l.ListingID == listingID {
			return l, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (f *fakeClient) FetchImages(ctx context.Context, listingID int64) ([]marketplace.ListingImage, error) {
	return f.images[listingID], nil
}

func (f *fakeClient) FetchAllListings(ctx context.Context) ([]*marketplace.ListingFields, error) {
	return f.listings, f.fetchErr
}

func (f *fakeClient) ApplyUpdate(ctx context.Context, listingID int64, payload marketplace.UpdatePayload) error {
	return nil
}

func TestRun(t *testing.T) {
	s := testutil.SetupTestStore(t)
	client := &fakeClient{
		listings: []*marketplace.ListingFields{
			{ListingID: 100, Title: "Mug", Tags: []string{"ceramic"}, Views: 10},
			{ListingID: 200, Title: "Bowl", Views: 90},
		},
		images: map[int64][]marketplace.ListingImage{
			100: {{ImageID: 1, URL: "u1", Rank: 1}},
		},
	}

	svc := New(s, client, nil)
	svc.today = func() string { return "2024-03-01" }

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Listings != 2 || result.Views != 100 || result.Date != "2024-03-01" {
		t.Errorf("result: %+v", result)
	}

	ctx := context.Background()
	listing, err := s.GetListing(ctx, 100)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.Title != "Mug" || listing.Views != 10 {
		t.Errorf("listing not cached: %+v", listing)
	}

	images, err := s.GetListingImages(ctx, 100)
	if err != nil {
		t.Fatalf("GetListingImages: %v", err)
	}
	if len(images) != 1 || images[0].ID != 1 {
		t.Errorf("images not cached: %+v", images)
	}

	history, err := s.LoadPerformanceHistory(ctx)
	if err != nil {
		t.Fatalf("LoadPerformanceHistory: %v", err)
	}
	if history["2024-03-01"][100] != 10 || history["2024-03-01"][200] != 90 {
		t.Errorf("performance row: %v", history["2024-03-01"])
	}
}

func TestRun_SameDayOverwrites(t *testing.T) {
	s := testutil.SetupTestStore(t)
	client := &fakeClient{
		listings: []*marketplace.ListingFields{{ListingID: 100, Title: "Mug", Views: 10}},
	}

	svc := New(s, client, nil)
	svc.today = func() string { return "2024-03-01" }

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	client.listings[0].Views = 15
	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run again: %v", err)
	}

	history, err := s.LoadPerformanceHistory(context.Background())
	if err != nil {
		t.Fatalf("LoadPerformanceHistory: %v", err)
	}
	if history["2024-03-01"][100] != 15 {
		t.Errorf("same-day row not overwritten: %v", history["2024-03-01"])
	}
	if len(history.Dates()) != 1 {
		t.Errorf("got %d dates, want 1", len(history.Dates()))
	}
}

func TestRun_FetchFailure(t *testing.T) {
	s := testutil.SetupTestStore(t)
	client := &fakeClient{fetchErr: fmt.Errorf("etsy down")}

	if _, err := New(s, client, nil).Run(context.Background()); err == nil {
		t.Fatal("expected error when listing fetch fails")
	}

	history, err := s.LoadPerformanceHistory(context.Background())
	if err != nil {
		t.Fatalf("LoadPerformanceHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("no rows should be written on failure: %v", history)
	}
}
