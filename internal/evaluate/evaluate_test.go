package evaluate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/listing-lab/listing-lab/internal/guardrail"
	"github.com/listing-lab/listing-lab/internal/store"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompute_SeasonalityNormalization(t *testing.T) {
	// Shop traffic rose 20% over the run; the listing must beat that rise.
	history := store.PerformanceHistory{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-02": {100: 104, 200: 926},
		"2024-01-03": {100: 109, 200: 961},
		"2024-01-04": {100: 112, 200: 988},
		"2024-01-08": {100: 130, 200: 1070},
	}

	eval, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if !almostEqual(eval.SeasonalityFactor, 1.2) {
		t.Errorf("seasonality factor: got %v, want 1.2", eval.SeasonalityFactor)
	}
	if !almostEqual(eval.Delta, 10) {
		t.Errorf("delta: got %v, want 10", eval.Delta)
	}
	if math.Abs(eval.PctChange-10.0/120.0) > 1e-9 {
		t.Errorf("pct change: got %v, want %v", eval.PctChange, 10.0/120.0)
	}
	if eval.NormalizedDelta != eval.PctChange {
		t.Errorf("normalized delta should equal pct change, got %v", eval.NormalizedDelta)
	}
	if eval.RecommendedAction != store.ActionKeep {
		t.Errorf("recommendation: got %s, want keep", eval.RecommendedAction)
	}
	if eval.Latest.Date != "2024-01-08" || eval.Latest.Views != 130 {
		t.Errorf("latest: got %+v", eval.Latest)
	}
}

func TestCompute_ZeroBaseline(t *testing.T) {
	history := store.PerformanceHistory{
		"2024-01-01": {100: 0, 200: 50},
		"2024-01-08": {100: 5, 200: 50},
	}

	eval, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 0}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !almostEqual(eval.PctChange, 1.0) {
		t.Errorf("pct change with zero baseline and views: got %v, want 1.0", eval.PctChange)
	}

	flat := store.PerformanceHistory{
		"2024-01-01": {100: 0, 200: 50},
		"2024-01-08": {100: 0, 200: 50},
	}
	eval, err = Compute(flat, 100, store.Baseline{Date: "2024-01-01", Views: 0}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !almostEqual(eval.PctChange, 0.0) {
		t.Errorf("pct change with zero baseline and no views: got %v, want 0.0", eval.PctChange)
	}
}

func TestCompute_ZeroShopTotalDisablesNormalization(t *testing.T) {
	// The baseline day recorded no shop-wide views, so no ratio exists.
	history := store.PerformanceHistory{
		"2024-01-01": {100: 0},
		"2024-01-08": {100: 130, 200: 1070},
	}

	eval, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 0}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !almostEqual(eval.SeasonalityFactor, 1.0) {
		t.Errorf("factor with zero shop total: got %v, want 1.0", eval.SeasonalityFactor)
	}
	if !almostEqual(eval.Delta, 130) {
		t.Errorf("delta: got %v, want 130", eval.Delta)
	}
}

func TestCompute_MissingBaselineRow(t *testing.T) {
	history := store.PerformanceHistory{
		"2024-01-08": {100: 130, 200: 1070},
	}
	_, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	var missing *DataMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want DataMissingError", err)
	}
	if missing.ListingID != 100 || missing.Date != "2024-01-01" {
		t.Errorf("got %+v", missing)
	}
}

func TestCompute_NoDataForListing(t *testing.T) {
	history := store.PerformanceHistory{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-08": {200: 1070},
	}
	_, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	var missing *DataMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want DataMissingError", err)
	}
	if missing.ListingID != 100 || missing.Date != "2024-01-08" {
		t.Errorf("got %+v", missing)
	}
}

func TestCompute_EmptyHistory(t *testing.T) {
	_, err := Compute(store.PerformanceHistory{}, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	var missing *DataMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want DataMissingError", err)
	}
}

func TestCompute_LowConfidenceWithShortHistory(t *testing.T) {
	// Two data points yield one delta, below the minimum sample count.
	history := store.PerformanceHistory{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-08": {100: 130, 200: 1070},
	}
	eval, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !eval.LowConfidence || eval.Confidence != 0 {
		t.Errorf("short history should flag low confidence: %+v", eval)
	}
	// The result is still produced.
	if eval.RecommendedAction == "" {
		t.Error("low confidence must not suppress the recommendation")
	}
}

func TestCompute_ZeroVarianceIsLowConfidence(t *testing.T) {
	history := store.PerformanceHistory{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-02": {100: 110, 200: 900},
		"2024-01-03": {100: 120, 200: 900},
		"2024-01-04": {100: 130, 200: 900},
		"2024-01-05": {100: 140, 200: 900},
	}
	eval, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// Every day-to-day delta is exactly 10, so the noise estimate is zero.
	if !eval.LowConfidence || eval.Confidence != 0 {
		t.Errorf("zero variance should flag low confidence: %+v", eval)
	}
}

func TestCompute_ConfidenceGrowsWithSignal(t *testing.T) {
	history := store.PerformanceHistory{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-02": {100: 103, 200: 900},
		"2024-01-03": {100: 99, 200: 900},
		"2024-01-04": {100: 105, 200: 900},
		"2024-01-05": {100: 160, 200: 900},
	}
	eval, err := Compute(history, 100, store.Baseline{Date: "2024-01-01", Views: 100}, "", 0.05)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if eval.LowConfidence {
		t.Fatalf("unexpected low-confidence flag: %+v", eval)
	}
	if eval.Confidence <= 0 || eval.Confidence >= 1 {
		t.Errorf("confidence out of range: %v", eval.Confidence)
	}
}

func TestRecommend_ToleranceBand(t *testing.T) {
	tests := []struct {
		pct  float64
		want store.Action
	}{
		{0.10, store.ActionKeep},
		{0.05, store.ActionKeep},
		{0.04, store.ActionInconclusive},
		{0.0, store.ActionInconclusive},
		{-0.04, store.ActionInconclusive},
		{-0.05, store.ActionRevert},
		{-0.10, store.ActionRevert},
	}
	for _, tt := range tests {
		if got := recommend(tt.pct, 0.05); got != tt.want {
			t.Errorf("recommend(%v): got %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestEvaluate_WritesBackIdempotently(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	bundle := &store.Bundle{
		ListingID: 100,
		Options: []*store.Experiment{
			{ID: "exp-1", State: store.StateProposed, Change: store.TitleChange{NewTitle: "New"}},
			{ID: "exp-2", State: store.StateProposed, Change: store.TagsChange{TagsToAdd: []string{"x"}}},
			{ID: "exp-3", State: store.StateProposed, Change: store.DescriptionChange{NewDescription: "d"}},
		},
	}
	if err := s.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	exp, err := s.PromoteBundle(ctx, 100, "exp-1", &store.Snapshot{Title: "Old"})
	if err != nil {
		t.Fatalf("PromoteBundle: %v", err)
	}
	exp.State = store.StateTesting
	exp.StartDate = "2024-01-01"
	exp.PlannedEndDate = "2024-01-15"
	exp.Baseline = &store.Baseline{Date: "2024-01-01", Views: 100}
	if err := s.UpdateExperiment(ctx, exp); err != nil {
		t.Fatalf("UpdateExperiment: %v", err)
	}

	rows := map[string]map[int64]int{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-02": {100: 104, 200: 926},
		"2024-01-03": {100: 109, 200: 961},
		"2024-01-04": {100: 112, 200: 988},
		"2024-01-08": {100: 130, 200: 1070},
	}
	for date, views := range rows {
		if err := s.SavePerformanceRow(ctx, date, views); err != nil {
			t.Fatalf("SavePerformanceRow: %v", err)
		}
	}

	engine := New(s)
	first, err := engine.Evaluate(ctx, 100, "exp-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := engine.Evaluate(ctx, 100, "exp-1")
	if err != nil {
		t.Fatalf("Evaluate again: %v", err)
	}
	if *first != *second {
		t.Errorf("re-evaluation changed the result:\nfirst  %+v\nsecond %+v", first, second)
	}

	stored, err := s.GetExperiment(ctx, 100, "exp-1")
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if stored.Evaluation == nil || stored.Evaluation.RecommendedAction != first.RecommendedAction {
		t.Errorf("evaluation not written back: %+v", stored.Evaluation)
	}
	if stored.State != store.StateTesting {
		t.Errorf("evaluation must not change state, got %s", stored.State)
	}
}

func TestEvaluateAt_ExplicitDateAndTolerance(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	bundle := &store.Bundle{
		ListingID: 100,
		Options: []*store.Experiment{
			{ID: "exp-1", State: store.StateProposed, Change: store.TitleChange{NewTitle: "New"}},
			{ID: "exp-2", State: store.StateProposed, Change: store.TagsChange{TagsToAdd: []string{"x"}}},
			{ID: "exp-3", State: store.StateProposed, Change: store.DescriptionChange{NewDescription: "d"}},
		},
	}
	if err := s.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	exp, err := s.PromoteBundle(ctx, 100, "exp-1", &store.Snapshot{Title: "Old"})
	if err != nil {
		t.Fatalf("PromoteBundle: %v", err)
	}
	exp.State = store.StateTesting
	exp.Baseline = &store.Baseline{Date: "2024-01-01", Views: 100}
	if err := s.UpdateExperiment(ctx, exp); err != nil {
		t.Fatalf("UpdateExperiment: %v", err)
	}

	rows := map[string]map[int64]int{
		"2024-01-01": {100: 100, 200: 900},
		"2024-01-04": {100: 112, 200: 988},
		"2024-01-08": {100: 130, 200: 1070},
	}
	for date, views := range rows {
		if err := s.SavePerformanceRow(ctx, date, views); err != nil {
			t.Fatalf("SavePerformanceRow: %v", err)
		}
	}

	eval, err := New(s).EvaluateAt(ctx, 100, "exp-1", "2024-01-04", 0.5)
	if err != nil {
		t.Fatalf("EvaluateAt: %v", err)
	}
	if eval.Latest.Date != "2024-01-04" || eval.Latest.Views != 112 {
		t.Errorf("comparison row: got %+v", eval.Latest)
	}
	if !almostEqual(eval.SeasonalityFactor, 1.1) {
		t.Errorf("seasonality factor: got %v, want 1.1", eval.SeasonalityFactor)
	}
	// 1.8% lift against a 50% tolerance cannot be conclusive.
	if eval.RecommendedAction != store.ActionInconclusive {
		t.Errorf("recommendation: got %s, want inconclusive", eval.RecommendedAction)
	}
}

func TestEvaluate_RejectsNonTestingState(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	bundle := &store.Bundle{
		ListingID: 100,
		Options: []*store.Experiment{
			{ID: "exp-1", State: store.StateProposed, Change: store.TitleChange{NewTitle: "New"}},
			{ID: "exp-2", State: store.StateProposed, Change: store.TagsChange{TagsToAdd: []string{"x"}}},
			{ID: "exp-3", State: store.StateProposed, Change: store.DescriptionChange{NewDescription: "d"}},
		},
	}
	if err := s.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	// Promotion leaves the record untested, which the state machine does
	// not allow evaluation from.
	if _, err := s.PromoteBundle(ctx, 100, "exp-1", &store.Snapshot{Title: "Old"}); err != nil {
		t.Fatalf("PromoteBundle: %v", err)
	}

	_, err = New(s).Evaluate(ctx, 100, "exp-1")
	var violation *guardrail.Violation
	if !errors.As(err, &violation) {
		t.Fatalf("got %v, want guardrail.Violation", err)
	}
	if violation.Code != guardrail.CodeInvalidTransition {
		t.Errorf("violation code: got %s", violation.Code)
	}
}

func TestEvaluate_MissingBaseline(t *testing.T) {
	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	bundle := &store.Bundle{
		ListingID: 100,
		Options: []*store.Experiment{
			{ID: "exp-1", State: store.StateProposed, Change: store.TitleChange{NewTitle: "New"}},
			{ID: "exp-2", State: store.StateProposed, Change: store.TagsChange{TagsToAdd: []string{"x"}}},
			{ID: "exp-3", State: store.StateProposed, Change: store.DescriptionChange{NewDescription: "d"}},
		},
	}
	if err := s.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}
	exp, err := s.PromoteBundle(ctx, 100, "exp-1", &store.Snapshot{Title: "Old"})
	if err != nil {
		t.Fatalf("PromoteBundle: %v", err)
	}
	exp.State = store.StateTesting
	if err := s.UpdateExperiment(ctx, exp); err != nil {
		t.Fatalf("UpdateExperiment: %v", err)
	}

	if _, err := New(s).Evaluate(ctx, 100, "exp-1"); !errors.Is(err, ErrMissingBaseline) {
		t.Fatalf("got %v, want ErrMissingBaseline", err)
	}
}
