// Package evaluate computes seasonality-normalized results for testing and
// finished experiments. The shop-wide view trend between the baseline date
// and the comparison date acts as the seasonality control: a listing that
// merely rode a shop-wide surge scores near zero after normalization.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/listing-lab/listing-lab/internal/guardrail"
	"github.com/listing-lab/listing-lab/internal/store"
)

// ErrMissingBaseline means the experiment was accepted before any
// performance history existed; it cannot be evaluated until a sync records
// a baseline-comparable row.
var ErrMissingBaseline = errors.New("experiment has no baseline")

// DataMissingError reports a performance row required by the computation
// that was never recorded.
type DataMissingError struct {
	ListingID int64
	Date      string
}

func (e *DataMissingError) Error() string {
	return fmt.Sprintf("no performance data for listing %d on %s", e.ListingID, e.Date)
}

// minSamples is the number of day-to-day deltas needed before the variance
// estimate is trusted.
const minSamples = 3

type Engine struct {
	store store.Store
}

func New(st store.Store) *Engine {
	return &Engine{store: st}
}

// Evaluate scores the experiment against the most recent performance row
// using the persisted tolerance, and writes the result back to the record.
func (e *Engine) Evaluate(ctx context.Context, listingID int64, experimentID string) (*store.Evaluation, error) {
	return e.EvaluateAt(ctx, listingID, experimentID, "", 0)
}

// EvaluateAt is Evaluate with an explicit comparison date and tolerance.
// An empty date means the latest recorded row; a non-positive tolerance
// means the persisted setting. Recomputing with unchanged history
// overwrites the evaluation block with identical values; state is never
// touched.
func (e *Engine) EvaluateAt(ctx context.Context, listingID int64, experimentID, comparisonDate string, tolerance float64) (*store.Evaluation, error) {
	exp, err := e.store.GetExperiment(ctx, listingID, experimentID)
	if err != nil {
		return nil, err
	}
	if err := guardrail.ValidTransition(exp.EffectiveState(store.Today()), "evaluate"); err != nil {
		return nil, err
	}
	if exp.Baseline == nil {
		return nil, ErrMissingBaseline
	}

	history, err := e.store.LoadPerformanceHistory(ctx)
	if err != nil {
		return nil, err
	}

	if tolerance <= 0 {
		settings, err := e.store.GetSettings(ctx)
		if err != nil {
			return nil, err
		}
		tolerance = settings.Tolerance
	}

	eval, err := Compute(history, listingID, *exp.Baseline, comparisonDate, tolerance)
	if err != nil {
		return nil, err
	}

	exp.Evaluation = eval
	if err := e.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return eval, nil
}

// Compute derives the full evaluation block from history. Both the baseline
// and comparison view counts come from their performance rows; an empty
// comparisonDate selects the most recent row.
func Compute(history store.PerformanceHistory, listingID int64, baseline store.Baseline, comparisonDate string, tolerance float64) (*store.Evaluation, error) {
	if comparisonDate == "" {
		latest, _, ok := history.Latest()
		if !ok {
			return nil, &DataMissingError{ListingID: listingID, Date: store.Today()}
		}
		comparisonDate = latest
	}

	baselineViews, ok := history[baseline.Date][listingID]
	if !ok {
		return nil, &DataMissingError{ListingID: listingID, Date: baseline.Date}
	}
	latestViews, ok := history[comparisonDate][listingID]
	if !ok {
		return nil, &DataMissingError{ListingID: listingID, Date: comparisonDate}
	}

	factor := seasonalityFactor(history, baseline.Date, comparisonDate)
	expected := float64(baselineViews) * factor
	delta := float64(latestViews) - expected

	var pct float64
	switch {
	case expected > 0:
		pct = delta / math.Max(expected, 1)
	case latestViews > 0:
		pct = 1.0
	default:
		pct = 0.0
	}

	confidence, low := confidenceScore(history.ListingSeries(listingID), delta)

	eval := &store.Evaluation{
		Baseline:          store.Baseline{Date: baseline.Date, Views: baselineViews},
		Latest:            store.Baseline{Date: comparisonDate, Views: latestViews},
		Delta:             delta,
		PctChange:         pct,
		NormalizedDelta:   pct,
		Confidence:        confidence,
		LowConfidence:     low,
		SeasonalityFactor: factor,
		RecommendedAction: recommend(pct, tolerance),
	}
	return eval, nil
}

// seasonalityFactor is the ratio of shop-wide views on the comparison date
// to the baseline date. A missing or zero baseline total disables the
// adjustment.
func seasonalityFactor(history store.PerformanceHistory, baselineDate, comparisonDate string) float64 {
	baseTotal := history.ShopTotal(baselineDate)
	latestTotal := history.ShopTotal(comparisonDate)
	if baseTotal <= 0 || latestTotal <= 0 {
		return 1.0
	}
	return float64(latestTotal) / float64(baseTotal)
}

// confidenceScore maps the observed delta against the listing's day-to-day
// noise: 1 - 1/(1+|z|) where z = delta / stddev of daily deltas. Fewer than
// minSamples usable deltas, or zero variance, yields zero confidence and
// the low-confidence flag.
func confidenceScore(series []int, delta float64) (float64, bool) {
	var diffs []float64
	for i := 1; i < len(series); i++ {
		diffs = append(diffs, float64(series[i]-series[i-1]))
	}
	if len(diffs) < minSamples {
		return 0, true
	}

	var mean float64
	for _, d := range diffs {
		mean += d
	}
	mean /= float64(len(diffs))

	var variance float64
	for _, d := range diffs {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(diffs))

	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0, true
	}

	z := math.Abs(delta) / stddev
	return 1 - 1/(1+z), false
}

func recommend(pct, tolerance float64) store.Action {
	switch {
	case pct >= tolerance:
		return store.ActionKeep
	case pct <= -tolerance:
		return store.ActionRevert
	default:
		return store.ActionInconclusive
	}
}
