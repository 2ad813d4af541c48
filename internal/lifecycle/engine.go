// Package lifecycle implements the experiment state machine:
//
//	proposed --select--> untested --accept--> testing --(time)--> finished
//	                                              |                   |
//	                                              +------extend------>+
//	                                                                  +--keep--> kept
//	                                                                  +--revert--> reverted
//
// Every operation either fully succeeds (state advances) or fully fails
// (stored state unchanged). Marketplace calls happen before any persistence
// so a collaborator failure never leaves a partial commit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/listing-lab/listing-lab/internal/guardrail"
	"github.com/listing-lab/listing-lab/internal/marketplace"
	"github.com/listing-lab/listing-lab/internal/proposal"
	"github.com/listing-lab/listing-lab/internal/snapshot"
	"github.com/listing-lab/listing-lab/internal/store"
)

// ErrBundleExists signals that a live proposal bundle is already pending
// for the listing; regenerate it instead of proposing again.
var ErrBundleExists = errors.New("a live proposal bundle already exists")

// CollaboratorError wraps a failed marketplace or generator call. The
// triggering operation is terminal; retries belong to the caller.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator call failed during %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Engine orchestrates the store, snapshot service, guardrails, and the
// marketplace/generator collaborators. Operations for the same listing are
// serialized through a per-listing mutex because the guardrail-check-then-
// commit sequence is not atomic across concurrent callers.
type Engine struct {
	store     store.Store
	client    marketplace.Client
	snapshots *snapshot.Service
	generator proposal.Generator

	today func() string

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(st store.Store, client marketplace.Client, snapshots *snapshot.Service, generator proposal.Generator) *Engine {
	return &Engine{
		store:     st,
		client:    client,
		snapshots: snapshots,
		generator: generator,
		today:     store.Today,
		locks:     make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lockListing(listingID int64) func() {
	e.mu.Lock()
	l, ok := e.locks[listingID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[listingID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Propose generates a fresh three-option bundle for the listing. It fails
// if a bundle is already live or any experiment is outstanding.
func (e *Engine) Propose(ctx context.Context, listingID int64) (*store.Bundle, error) {
	if e.generator == nil {
		return nil, fmt.Errorf("no proposal generator configured")
	}
	defer e.lockListing(listingID)()

	listing, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("listing %d has not been synced yet: %w", listingID, store.ErrNotFound)
		}
		return nil, err
	}

	if _, err := e.store.GetBundle(ctx, listingID); err == nil {
		return nil, ErrBundleExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	experiments, err := e.store.ListListingExperiments(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := guardrail.NoPendingBundleConflict(experiments, e.today()); err != nil {
		return nil, err
	}

	images, err := e.store.GetListingImages(ctx, listingID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	prior := priorExperiments(experiments, 5)
	options, err := e.generator.Generate(ctx, listing, images, prior)
	if err != nil {
		return nil, &CollaboratorError{Op: "propose", Err: err}
	}
	if len(options) != store.BundleSize {
		return nil, &CollaboratorError{
			Op:  "propose",
			Err: fmt.Errorf("generator returned %d options, want %d", len(options), store.BundleSize),
		}
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	bundle := &store.Bundle{
		ListingID:   listingID,
		GeneratedAt: time.Now().UTC(),
	}
	for _, opt := range options {
		bundle.Options = append(bundle.Options, &store.Experiment{
			ID:              uuid.New().String(),
			ListingID:       listingID,
			State:           store.StateProposed,
			Change:          opt.Change,
			Hypothesis:      opt.Hypothesis,
			RunDurationDays: settings.RunDurationDays,
			ModelUsed:       e.generator.Model(),
		})
	}

	if err := e.store.SaveBundle(ctx, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Regenerate discards the listing's live bundle and proposes a new one.
func (e *Engine) Regenerate(ctx context.Context, listingID int64) (*store.Bundle, error) {
	func() {
		defer e.lockListing(listingID)()
		_ = e.store.DeleteBundle(ctx, listingID)
	}()
	return e.Propose(ctx, listingID)
}

// Select expands the chosen bundle option into a full experiment: the
// pre-change snapshot is captured from the live listing, the option moves
// to untested, and the bundle is deleted. The two non-selected options are
// kept in the untested backlog rather than discarded.
func (e *Engine) Select(ctx context.Context, listingID int64, experimentID string) (*store.Experiment, error) {
	defer e.lockListing(listingID)()

	bundle, err := e.store.GetBundle(ctx, listingID)
	if err != nil {
		return nil, err
	}
	opt := bundle.Option(experimentID)
	if opt == nil {
		return nil, fmt.Errorf("experiment %s is not part of the bundle for listing %d: %w",
			experimentID, listingID, store.ErrNotFound)
	}
	if err := guardrail.ValidTransition(opt.State, "select"); err != nil {
		return nil, err
	}

	experiments, err := e.store.ListListingExperiments(ctx, listingID,
		store.StateUntested, store.StateTesting)
	if err != nil {
		return nil, err
	}
	if err := guardrail.NoPendingBundleConflict(experiments, e.today()); err != nil {
		return nil, err
	}

	snap, err := e.snapshots.Capture(ctx, listingID, opt.Change.Type())
	if err != nil {
		return nil, &CollaboratorError{Op: "select", Err: err}
	}

	return e.store.PromoteBundle(ctx, listingID, experimentID, snap)
}

// Accept applies the untested experiment's change to the marketplace and
// moves it to testing. Ordering: validate, capture baseline, archive
// images (thumbnail only), apply, persist. A failed marketplace call
// leaves the record untested.
func (e *Engine) Accept(ctx context.Context, listingID int64, experimentID string) (*store.Experiment, error) {
	defer e.lockListing(listingID)()

	exp, err := e.store.GetExperiment(ctx, listingID, experimentID)
	if err != nil {
		return nil, err
	}
	today := e.today()
	if err := guardrail.ValidTransition(exp.EffectiveState(today), "accept"); err != nil {
		return nil, err
	}

	active, err := e.store.ListListingExperiments(ctx, listingID, store.StateTesting)
	if err != nil {
		return nil, err
	}
	if err := guardrail.AtMostOneActive(active, today); err != nil {
		return nil, err
	}

	payload, err := e.buildApplyPayload(exp)
	if err != nil {
		return nil, err
	}

	exp.Baseline = e.captureBaseline(ctx, listingID)

	if exp.Change.Type() == store.ChangeThumbnail {
		images, err := e.client.FetchImages(ctx, listingID)
		if err != nil {
			return nil, &CollaboratorError{Op: "accept", Err: err}
		}
		if err := e.store.ArchiveImages(ctx, exp.ID, toStoreImages(images)); err != nil {
			return nil, err
		}
	}

	if err := e.client.ApplyUpdate(ctx, listingID, payload); err != nil {
		return nil, &CollaboratorError{Op: "accept", Err: err}
	}

	exp.State = store.StateTesting
	exp.StartDate = today
	if exp.RunDurationDays <= 0 {
		settings, err := e.store.GetSettings(ctx)
		if err != nil {
			return nil, err
		}
		exp.RunDurationDays = settings.RunDurationDays
	}
	plannedEnd, err := store.AddDays(exp.StartDate, exp.RunDurationDays)
	if err != nil {
		return nil, err
	}
	exp.PlannedEndDate = plannedEnd

	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Extend pushes the planned end date forward; the record stays testing.
func (e *Engine) Extend(ctx context.Context, listingID int64, experimentID string, additionalDays int) (*store.Experiment, error) {
	if additionalDays <= 0 {
		return nil, fmt.Errorf("additional_days must be positive, got %d", additionalDays)
	}
	defer e.lockListing(listingID)()

	exp, err := e.store.GetExperiment(ctx, listingID, experimentID)
	if err != nil {
		return nil, err
	}
	if err := guardrail.ValidTransition(exp.EffectiveState(e.today()), "extend"); err != nil {
		return nil, err
	}

	base := exp.PlannedEndDate
	if base == "" {
		base = exp.StartDate
	}
	extended, err := store.AddDays(base, additionalDays)
	if err != nil {
		return nil, err
	}
	exp.PlannedEndDate = extended

	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Keep finalizes the experiment: the applied change stays live on the
// marketplace and the listing's testing slot frees up.
func (e *Engine) Keep(ctx context.Context, listingID int64, experimentID string) (*store.Experiment, error) {
	defer e.lockListing(listingID)()

	exp, err := e.store.GetExperiment(ctx, listingID, experimentID)
	if err != nil {
		return nil, err
	}
	if err := guardrail.ValidTransition(exp.EffectiveState(e.today()), "keep"); err != nil {
		return nil, err
	}

	exp.State = store.StateKept
	exp.FinalState = store.StateKept
	exp.EndDate = e.today()

	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Revert restores the pre-change snapshot on the marketplace and finalizes
// the experiment. For thumbnail changes the snapshotted first-3 ordering
// is restored and images added since acceptance are appended, preserving
// their relative order.
func (e *Engine) Revert(ctx context.Context, listingID int64, experimentID string) (*store.Experiment, error) {
	defer e.lockListing(listingID)()

	exp, err := e.store.GetExperiment(ctx, listingID, experimentID)
	if err != nil {
		return nil, err
	}
	if err := guardrail.ValidTransition(exp.EffectiveState(e.today()), "revert"); err != nil {
		return nil, err
	}

	var currentIDs []int64
	var currentImages []marketplace.ListingImage
	if exp.Change.Type() == store.ChangeThumbnail {
		currentImages, err = e.client.FetchImages(ctx, listingID)
		if err != nil {
			return nil, &CollaboratorError{Op: "revert", Err: err}
		}
		for _, img := range currentImages {
			currentIDs = append(currentIDs, img.ImageID)
		}
	}

	payload, err := snapshot.Restore(exp.Snapshot, exp.Change.Type(), currentIDs)
	if err != nil {
		return nil, err
	}
	if err := e.client.ApplyUpdate(ctx, listingID, payload); err != nil {
		return nil, &CollaboratorError{Op: "revert", Err: err}
	}

	if exp.Change.Type() == store.ChangeThumbnail {
		if err := e.restoreImageManifest(ctx, exp, payload.ImageIDs, currentImages); err != nil {
			return nil, err
		}
	}
	e.revertListingCache(ctx, exp)

	exp.State = store.StateReverted
	exp.FinalState = store.StateReverted
	exp.EndDate = e.today()

	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// buildApplyPayload validates the change against its type-specific limits
// and produces the marketplace payload. Invalid payloads are rejected here,
// before any marketplace call.
func (e *Engine) buildApplyPayload(exp *store.Experiment) (marketplace.UpdatePayload, error) {
	if exp.Snapshot == nil {
		return marketplace.UpdatePayload{}, fmt.Errorf("experiment %s is missing its pre-change snapshot", exp.ID)
	}
	switch change := exp.Change.(type) {
	case store.TitleChange:
		if change.NewTitle == "" {
			return marketplace.UpdatePayload{}, &store.InvalidChangeError{Reason: "title change missing new_title"}
		}
		title := change.NewTitle
		return marketplace.UpdatePayload{Title: &title}, nil
	case store.DescriptionChange:
		if change.NewDescription == "" {
			return marketplace.UpdatePayload{}, &store.InvalidChangeError{Reason: "description change missing new_description"}
		}
		description := change.NewDescription
		return marketplace.UpdatePayload{Description: &description}, nil
	case store.TagsChange:
		if err := guardrail.TagLimits(change, exp.Snapshot.Tags); err != nil {
			return marketplace.UpdatePayload{}, err
		}
		tags := guardrail.ApplyTagChange(exp.Snapshot.Tags, change)
		return marketplace.UpdatePayload{Tags: &tags}, nil
	case store.ThumbnailChange:
		if err := guardrail.ThumbnailPreservesFullSet(exp.Snapshot.ImageIDs, change.NewOrdering); err != nil {
			return marketplace.UpdatePayload{}, err
		}
		return marketplace.UpdatePayload{
			ImageIDs: guardrail.CompleteOrdering(exp.Snapshot.ImageIDs, change.NewOrdering),
		}, nil
	default:
		return marketplace.UpdatePayload{}, fmt.Errorf("unsupported change type: %s", exp.Change.Type())
	}
}

// captureBaseline reads the most recent performance row for the listing.
// Missing history means no baseline; evaluation stays blocked until one
// exists.
func (e *Engine) captureBaseline(ctx context.Context, listingID int64) *store.Baseline {
	history, err := e.store.LoadPerformanceHistory(ctx)
	if err != nil {
		return nil
	}
	date, row, ok := history.Latest()
	if !ok {
		return nil
	}
	views, ok := row[listingID]
	if !ok {
		return nil
	}
	return &store.Baseline{Date: date, Views: views}
}

// restoreImageManifest rebuilds the stored image manifest from the archive
// in the restored order; images added after acceptance keep their entries.
func (e *Engine) restoreImageManifest(ctx context.Context, exp *store.Experiment, ordering []int64, current []marketplace.ListingImage) error {
	archived, err := e.store.ArchivedImages(ctx, exp.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	byID := make(map[int64]store.Image, len(archived)+len(current))
	for _, img := range current {
		byID[img.ImageID] = store.Image{ID: img.ImageID, URL: img.URL}
	}
	for _, img := range archived {
		byID[img.ID] = img
	}

	manifest := make([]store.Image, 0, len(ordering))
	for rank, id := range ordering {
		img := byID[id]
		img.ID = id
		img.Rank = rank + 1
		manifest = append(manifest, img)
	}
	return e.store.SaveListingImages(ctx, exp.ListingID, manifest)
}

// revertListingCache reflects the restored fields in the local listing
// cache so reads agree with the marketplace without another sync.
func (e *Engine) revertListingCache(ctx context.Context, exp *store.Experiment) {
	listing, err := e.store.GetListing(ctx, exp.ListingID)
	if err != nil {
		return
	}
	switch exp.Change.Type() {
	case store.ChangeTitle:
		listing.Title = exp.Snapshot.Title
	case store.ChangeDescription:
		listing.Description = exp.Snapshot.Description
	case store.ChangeTags:
		listing.Tags = exp.Snapshot.Tags
	}
	_ = e.store.UpsertListing(ctx, listing)
}

func priorExperiments(experiments []*store.Experiment, max int) []*store.Experiment {
	var finalized []*store.Experiment
	for _, exp := range experiments {
		if exp.State == store.StateKept || exp.State == store.StateReverted {
			finalized = append(finalized, exp)
		}
	}
	if len(finalized) > max {
		finalized = finalized[len(finalized)-max:]
	}
	return finalized
}

func toStoreImages(images []marketplace.ListingImage) []store.Image {
	converted := make([]store.Image, 0, len(images))
	for _, img := range images {
		converted = append(converted, store.Image{ID: img.ImageID, URL: img.URL, Rank: img.Rank})
	}
	return converted
}
