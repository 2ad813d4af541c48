// Package guardrail holds the stateless invariant predicates the lifecycle
// engine runs before committing any mutation. Each predicate either passes
// or returns an error carrying a machine-readable reason code; the engine
// never partially applies a mutation after a failure.
package guardrail

import (
	"fmt"
	"strings"

	"github.com/listing-lab/listing-lab/internal/store"
)

// Reason codes carried by Violation.
const (
	CodeActiveExperiment   = "active_experiment_exists"
	CodePendingExperiments = "pending_experiments_exist"
	CodeInvalidTransition  = "invalid_state_transition"
)

// Violation is a broken cross-entity invariant.
type Violation struct {
	Code   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guardrail violation (%s): %s", v.Code, v.Detail)
}

// Limits from the marketplace: 13 tags per listing, 20 chars per tag, and
// our own cap of 4 combined add/remove per experiment so a trial stays a
// single interpretable variable.
const (
	MaxListingTags   = 13
	MaxTagLength     = 20
	MaxTagOps        = 4
	ThumbnailWindow  = 3
	MinBundleOptions = 3
)

// AtMostOneActive fails when any of the listing's experiments is testing
// (or derived finished). This is the single-active-slot invariant.
func AtMostOneActive(experiments []*store.Experiment, today string) error {
	for _, e := range experiments {
		if e.Active(today) {
			return &Violation{
				Code:   CodeActiveExperiment,
				Detail: fmt.Sprintf("listing %d already has experiment %s in %s", e.ListingID, e.ID, e.EffectiveState(today)),
			}
		}
	}
	return nil
}

// NoPendingBundleConflict fails when the listing has any untested, testing,
// or finished experiment outstanding; a new proposal bundle may not be
// generated until those resolve.
func NoPendingBundleConflict(experiments []*store.Experiment, today string) error {
	for _, e := range experiments {
		switch e.EffectiveState(today) {
		case store.StateUntested, store.StateTesting, store.StateFinished:
			return &Violation{
				Code:   CodePendingExperiments,
				Detail: fmt.Sprintf("listing %d has experiment %s in %s", e.ListingID, e.ID, e.EffectiveState(today)),
			}
		}
	}
	return nil
}

// TagLimits validates a tag change against the resulting tag set. Breaches
// surface as InvalidChangeError so they are rejected before any marketplace
// call.
func TagLimits(change store.TagsChange, currentTags []string) error {
	if len(change.TagsToAdd)+len(change.TagsToRemove) == 0 {
		return &store.InvalidChangeError{Reason: "tag change adds and removes nothing"}
	}
	if ops := len(change.TagsToAdd) + len(change.TagsToRemove); ops > MaxTagOps {
		return &store.InvalidChangeError{
			Reason: fmt.Sprintf("%d combined tag operations exceed the limit of %d", ops, MaxTagOps),
		}
	}
	for _, tag := range change.TagsToAdd {
		if len(tag) > MaxTagLength {
			return &store.InvalidChangeError{
				Reason: fmt.Sprintf("tag %q exceeds the %d-character limit", tag, MaxTagLength),
			}
		}
	}
	if resulting := len(ApplyTagChange(currentTags, change)); resulting > MaxListingTags {
		return &store.InvalidChangeError{
			Reason: fmt.Sprintf("resulting tag count %d exceeds the limit of %d", resulting, MaxListingTags),
		}
	}
	return nil
}

// ApplyTagChange computes the resulting tag list: removals are
// case-insensitive, additions skip duplicates and preserve order.
func ApplyTagChange(currentTags []string, change store.TagsChange) []string {
	removeSet := make(map[string]bool, len(change.TagsToRemove))
	for _, tag := range change.TagsToRemove {
		removeSet[lower(tag)] = true
	}

	var result []string
	seen := make(map[string]bool)
	for _, tag := range currentTags {
		if removeSet[lower(tag)] {
			continue
		}
		result = append(result, tag)
		seen[lower(tag)] = true
	}
	for _, tag := range change.TagsToAdd {
		if tag == "" || seen[lower(tag)] {
			continue
		}
		result = append(result, tag)
		seen[lower(tag)] = true
	}
	return result
}

// ThumbnailPreservesFullSet validates a thumbnail reordering: the ordering
// may only name ids from the listing's current set, only the first 3 slots
// are adjustable, and the completed ordering must preserve the set exactly.
func ThumbnailPreservesFullSet(originalIDs []int64, newOrdering []int64) error {
	if len(newOrdering) == 0 {
		return &store.InvalidChangeError{Reason: "thumbnail change requires new_ordering values"}
	}
	if len(newOrdering) > ThumbnailWindow {
		return &store.InvalidChangeError{
			Reason: fmt.Sprintf("thumbnail ordering may name at most the first %d images", ThumbnailWindow),
		}
	}
	original := make(map[int64]bool, len(originalIDs))
	for _, id := range originalIDs {
		original[id] = true
	}
	seen := make(map[int64]bool, len(newOrdering))
	for _, id := range newOrdering {
		if !original[id] {
			return &store.InvalidChangeError{
				Reason: fmt.Sprintf("image %d is not part of the listing", id),
			}
		}
		if seen[id] {
			return &store.InvalidChangeError{
				Reason: fmt.Sprintf("image %d appears twice in the ordering", id),
			}
		}
		seen[id] = true
	}
	completed := CompleteOrdering(originalIDs, newOrdering)
	if len(completed) != len(originalIDs) {
		return &store.InvalidChangeError{Reason: "thumbnail ordering would drop images"}
	}
	return nil
}

// CompleteOrdering appends every untouched id after the reordered prefix,
// preserving the original relative order. The full id set always survives.
func CompleteOrdering(originalIDs []int64, prefix []int64) []int64 {
	inPrefix := make(map[int64]bool, len(prefix))
	for _, id := range prefix {
		inPrefix[id] = true
	}
	result := make([]int64, 0, len(originalIDs))
	result = append(result, prefix...)
	for _, id := range originalIDs {
		if !inPrefix[id] {
			result = append(result, id)
		}
	}
	return result
}

// transitions is the legal edge set of the state machine. Finished is the
// derived presentation of testing, so any operation legal from finished is
// legal from testing and vice versa.
var transitions = map[store.State][]string{
	store.StateProposed: {"select"},
	store.StateUntested: {"accept"},
	store.StateTesting:  {"extend", "keep", "revert", "evaluate"},
	store.StateFinished: {"extend", "keep", "revert", "evaluate"},
}

// ValidTransition fails unless the requested operation is legal from the
// record's effective state.
func ValidTransition(current store.State, op string) error {
	for _, allowed := range transitions[current] {
		if allowed == op {
			return nil
		}
	}
	return &Violation{
		Code:   CodeInvalidTransition,
		Detail: fmt.Sprintf("operation %q is not valid from state %q", op, current),
	}
}

func lower(s string) string {
	return strings.ToLower(s)
}
