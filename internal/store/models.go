package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// State is the lifecycle state of an experiment. Finished is never stored;
// it is derived from a testing record whose planned end date has passed.
type State string

const (
	StateProposed State = "proposed"
	StateUntested State = "untested"
	StateTesting  State = "testing"
	StateFinished State = "finished"
	StateKept     State = "kept"
	StateReverted State = "reverted"
)

// Action is the evaluator's recommendation.
type Action string

const (
	ActionKeep         Action = "keep"
	ActionRevert       Action = "revert"
	ActionInconclusive Action = "inconclusive"
)

type ChangeType string

const (
	ChangeTitle       ChangeType = "title"
	ChangeDescription ChangeType = "description"
	ChangeTags        ChangeType = "tags"
	ChangeThumbnail   ChangeType = "thumbnail"
)

// Change is the single listing mutation an experiment trials. Exactly one
// variant exists per change kind so limit checks and revert payloads stay
// exhaustive over the type switch.
type Change interface {
	Type() ChangeType
}

type TitleChange struct {
	NewTitle string `json:"new_title"`
}

func (TitleChange) Type() ChangeType { return ChangeTitle }

type DescriptionChange struct {
	NewDescription string `json:"new_description"`
}

func (DescriptionChange) Type() ChangeType { return ChangeDescription }

type TagsChange struct {
	TagsToAdd    []string `json:"tags_to_add"`
	TagsToRemove []string `json:"tags_to_remove"`
}

func (TagsChange) Type() ChangeType { return ChangeTags }

type ThumbnailChange struct {
	NewOrdering []int64 `json:"new_ordering"`
}

func (ThumbnailChange) Type() ChangeType { return ChangeThumbnail }

// InvalidChangeError reports a change payload that breaks a per-type limit
// (tag counts, thumbnail ordering) before any marketplace call is made.
type InvalidChangeError struct {
	Reason string
}

func (e *InvalidChangeError) Error() string {
	return "invalid change payload: " + e.Reason
}

// changeEnvelope is the stored JSON form: a change_type tag plus the fields
// of the matching variant.
type changeEnvelope struct {
	ChangeType     ChangeType `json:"change_type"`
	NewTitle       string     `json:"new_title,omitempty"`
	NewDescription string     `json:"new_description,omitempty"`
	TagsToAdd      []string   `json:"tags_to_add,omitempty"`
	TagsToRemove   []string   `json:"tags_to_remove,omitempty"`
	NewOrdering    []int64    `json:"new_ordering,omitempty"`
}

// EncodeChange serializes a change as its tagged JSON envelope.
func EncodeChange(c Change) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("change is nil")
	}
	env := changeEnvelope{ChangeType: c.Type()}
	switch v := c.(type) {
	case TitleChange:
		env.NewTitle = v.NewTitle
	case DescriptionChange:
		env.NewDescription = v.NewDescription
	case TagsChange:
		env.TagsToAdd = v.TagsToAdd
		env.TagsToRemove = v.TagsToRemove
	case ThumbnailChange:
		env.NewOrdering = v.NewOrdering
	default:
		return nil, fmt.Errorf("unsupported change type: %s", c.Type())
	}
	return json.Marshal(env)
}

// DecodeChange parses a tagged JSON envelope back into its variant.
func DecodeChange(data []byte) (Change, error) {
	var env changeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode change: %w", err)
	}
	switch env.ChangeType {
	case ChangeTitle:
		return TitleChange{NewTitle: env.NewTitle}, nil
	case ChangeDescription:
		return DescriptionChange{NewDescription: env.NewDescription}, nil
	case ChangeTags:
		return TagsChange{TagsToAdd: env.TagsToAdd, TagsToRemove: env.TagsToRemove}, nil
	case ChangeThumbnail:
		return ThumbnailChange{NewOrdering: env.NewOrdering}, nil
	default:
		return nil, fmt.Errorf("unknown change type: %q", env.ChangeType)
	}
}

// Snapshot is the pre-change copy of the listing fields touched by a
// change. Only the fields relevant to the change type are populated. It is
// captured at selection time and consumed on revert.
type Snapshot struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ImageIDs    []int64  `json:"image_ids,omitempty"`
}

// Baseline is a dated view count for one listing.
type Baseline struct {
	Date  string `json:"date"`
	Views int    `json:"views"`
}

// Evaluation is the evaluator's write-back. Recomputation overwrites it.
type Evaluation struct {
	Baseline          Baseline `json:"baseline"`
	Latest            Baseline `json:"latest"`
	Delta             float64  `json:"delta"`
	PctChange         float64  `json:"pct_change"`
	NormalizedDelta   float64  `json:"normalized_delta"`
	Confidence        float64  `json:"confidence"`
	LowConfidence     bool     `json:"low_confidence"`
	SeasonalityFactor float64  `json:"seasonality_factor"`
	RecommendedAction Action   `json:"recommended_action"`
}

// Experiment is the central entity. Records are created as proposed bundle
// options, move between manifests via lifecycle operations, and are never
// deleted once selected.
type Experiment struct {
	ID              string      `json:"experiment_id"`
	ListingID       int64       `json:"listing_id"`
	State           State       `json:"state"`
	Change          Change      `json:"-"`
	Hypothesis      string      `json:"hypothesis,omitempty"`
	Snapshot        *Snapshot   `json:"pre_change_snapshot,omitempty"`
	Baseline        *Baseline   `json:"baseline,omitempty"`
	StartDate       string      `json:"start_date,omitempty"`
	PlannedEndDate  string      `json:"planned_end_date,omitempty"`
	RunDurationDays int         `json:"run_duration_days,omitempty"`
	ModelUsed       string      `json:"model_used,omitempty"`
	Evaluation      *Evaluation `json:"evaluation,omitempty"`
	EndDate         string      `json:"end_date,omitempty"`
	FinalState      State       `json:"final_state,omitempty"`
}

// MarshalJSON inlines the change envelope under the "change" key.
func (e *Experiment) MarshalJSON() ([]byte, error) {
	type alias Experiment
	var change json.RawMessage
	if e.Change != nil {
		encoded, err := EncodeChange(e.Change)
		if err != nil {
			return nil, err
		}
		change = encoded
	}
	return json.Marshal(struct {
		*alias
		ChangeJSON json.RawMessage `json:"change,omitempty"`
	}{(*alias)(e), change})
}

func (e *Experiment) UnmarshalJSON(data []byte) error {
	type alias Experiment
	aux := struct {
		*alias
		ChangeJSON json.RawMessage `json:"change,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.ChangeJSON) > 0 {
		change, err := DecodeChange(aux.ChangeJSON)
		if err != nil {
			return err
		}
		e.Change = change
	}
	return nil
}

// EffectiveState presents a testing record past its planned end date as
// finished without storing the transition.
func (e *Experiment) EffectiveState(today string) State {
	if e.State == StateTesting && e.PlannedEndDate != "" && e.PlannedEndDate <= today {
		return StateFinished
	}
	return e.State
}

// Active reports whether the experiment occupies the listing's single
// testing slot.
func (e *Experiment) Active(today string) bool {
	s := e.EffectiveState(today)
	return s == StateTesting || s == StateFinished
}

// BundleSize is the number of options a proposal bundle carries.
const BundleSize = 3

// Bundle is a group of exactly three proposed options generated together
// for one listing. At most one live bundle exists per listing.
type Bundle struct {
	ListingID   int64         `json:"listing_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Options     []*Experiment `json:"options"`
}

// Option returns the bundle option with the given experiment id.
func (b *Bundle) Option(experimentID string) *Experiment {
	for _, opt := range b.Options {
		if opt.ID == experimentID {
			return opt
		}
	}
	return nil
}

// Listing is the locally cached copy of a marketplace listing.
type Listing struct {
	ID          int64    `json:"listing_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Views       int      `json:"views"`
	State       string   `json:"state,omitempty"`
}

// Image is one entry of a listing's ordered image manifest.
type Image struct {
	ID   int64  `json:"image_id"`
	URL  string `json:"url,omitempty"`
	Rank int    `json:"rank"`
}

// ImageIDs extracts ids in rank order.
func ImageIDs(images []Image) []int64 {
	sorted := make([]Image, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	ids := make([]int64, 0, len(sorted))
	for _, img := range sorted {
		ids = append(ids, img.ID)
	}
	return ids
}

// PerformanceHistory maps date -> listing id -> views. One row set is
// appended per sync; rows are never rewritten.
type PerformanceHistory map[string]map[int64]int

// Dates returns the recorded dates in ascending order.
func (h PerformanceHistory) Dates() []string {
	dates := make([]string, 0, len(h))
	for d := range h {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Latest returns the most recent date and its row, if any exists.
func (h PerformanceHistory) Latest() (string, map[int64]int, bool) {
	dates := h.Dates()
	if len(dates) == 0 {
		return "", nil, false
	}
	last := dates[len(dates)-1]
	return last, h[last], true
}

// ShopTotal sums views across all listings on a date. Returns 0 when the
// date has no row.
func (h PerformanceHistory) ShopTotal(date string) int {
	total := 0
	for _, views := range h[date] {
		total += views
	}
	return total
}

// ListingSeries returns the listing's view counts in date order, skipping
// dates where the listing has no entry.
func (h PerformanceHistory) ListingSeries(listingID int64) []int {
	var series []int
	for _, date := range h.Dates() {
		if views, ok := h[date][listingID]; ok {
			series = append(series, views)
		}
	}
	return series
}

// Settings are the persisted per-shop experiment defaults.
type Settings struct {
	RunDurationDays int     `json:"run_duration_days"`
	GenerationModel string  `json:"generation_model,omitempty"`
	Tolerance       float64 `json:"tolerance"`
}

// DefaultSettings returns the shipped defaults: two-week runs, 5% tolerance.
func DefaultSettings() *Settings {
	return &Settings{RunDurationDays: 14, Tolerance: 0.05}
}

// DateLayout is the layout for all date-valued fields and history keys.
const DateLayout = "2006-01-02"

// Today returns the current date in DateLayout.
func Today() string {
	return time.Now().Format(DateLayout)
}

// AddDays shifts an ISO date by a number of days.
func AddDays(date string, days int) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format(DateLayout), nil
}
