// Package snapshot captures pre-change listing state and builds the exact
// inverse payload for a revert.
package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/internal/store"
)

// Service reads pre-change state from the marketplace collaborator.
type Service struct {
	client marketplace.Client
}

func New(client marketplace.Client) *Service {
	return &Service{client: client}
}

// Capture reads only the fields the change type touches, at selection time.
func (s *Service) Capture(ctx context.Context, listingID int64, changeType store.ChangeType) (*store.Snapshot, error) {
	switch changeType {
	case store.ChangeTitle, store.ChangeDescription, store.ChangeTags:
		fields, err := s.client.FetchListing(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("failed to capture listing fields: %w", err)
		}
		snap := &store.Snapshot{}
		switch changeType {
		case store.ChangeTitle:
			snap.Title = fields.Title
		case store.ChangeDescription:
			snap.Description = fields.Description
		case store.ChangeTags:
			snap.Tags = fields.Tags
		}
		return snap, nil
	case store.ChangeThumbnail:
		images, err := s.client.FetchImages(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("failed to capture image ordering: %w", err)
		}
		return &store.Snapshot{ImageIDs: imageIDs(images)}, nil
	default:
		return nil, fmt.Errorf("unknown change type: %q", changeType)
	}
}

// Restore builds the update payload that undoes a change. For thumbnail
// changes, currentImageIDs is the listing's image set at revert time:
// the snapshotted ordering comes first and ids added since the experiment
// started are appended, preserving their relative order of addition.
func Restore(snap *store.Snapshot, changeType store.ChangeType, currentImageIDs []int64) (marketplace.UpdatePayload, error) {
	if snap == nil {
		return marketplace.UpdatePayload{}, fmt.Errorf("experiment is missing its pre-change snapshot")
	}
	switch changeType {
	case store.ChangeTitle:
		title := snap.Title
		return marketplace.UpdatePayload{Title: &title}, nil
	case store.ChangeDescription:
		description := snap.Description
		return marketplace.UpdatePayload{Description: &description}, nil
	case store.ChangeTags:
		// The pre-change list may be empty; the pointer keeps "clear all
		// tags" distinct from "no tags field".
		tags := snap.Tags
		if tags == nil {
			tags = []string{}
		}
		return marketplace.UpdatePayload{Tags: &tags}, nil
	case store.ChangeThumbnail:
		return marketplace.UpdatePayload{
			ImageIDs: restoredOrdering(snap.ImageIDs, currentImageIDs),
		}, nil
	default:
		return marketplace.UpdatePayload{}, fmt.Errorf("unknown change type: %q", changeType)
	}
}

// restoredOrdering keeps every snapshotted id that still exists, in the
// snapshotted order, then appends ids absent from the snapshot.
func restoredOrdering(snapshotIDs, currentIDs []int64) []int64 {
	current := make(map[int64]bool, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = true
	}
	snapshotted := make(map[int64]bool, len(snapshotIDs))

	ordering := make([]int64, 0, len(currentIDs))
	for _, id := range snapshotIDs {
		snapshotted[id] = true
		if current[id] {
			ordering = append(ordering, id)
		}
	}
	for _, id := range currentIDs {
		if !snapshotted[id] {
			ordering = append(ordering, id)
		}
	}
	return ordering
}

func imageIDs(images []marketplace.ListingImage) []int64 {
	ranked := make([]marketplace.ListingImage, len(images))
	copy(ranked, images)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })
	ids := make([]int64, 0, len(ranked))
	for _, img := range ranked {
		ids = append(ids, img.ImageID)
	}
	return ids
}
