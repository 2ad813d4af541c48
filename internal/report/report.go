// Package report builds LLM-backed summaries of recently finalized
// experiments: which changes won, which lost, and the strategies a shop
// owner should take away from them.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/listing-lab/listing-lab/internal/evaluate"
	"github.com/listing-lab/listing-lab/internal/store"
)

// ErrNoExperiments means no experiment was kept or reverted inside the
// requested window, so there is nothing to report on.
var ErrNoExperiments = errors.New("no experiments finalized in the requested window")

const defaultWindowDays = 30

// Insight is one takeaway the model extracted from the window. Each gets a
// stable id so it can be referenced later.
type Insight struct {
	ID        string `json:"insight_id"`
	Summary   string `json:"summary"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Window is the reporting period, closed on both ends.
type Window struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	DaysBack int    `json:"days_back"`
}

// ExperimentSummary is one finalized experiment as presented to the model
// and echoed back in the stored report.
type ExperimentSummary struct {
	ListingID    int64             `json:"listing_id"`
	ExperimentID string            `json:"experiment_id"`
	FinalState   store.State       `json:"final_state"`
	EndDate      string            `json:"end_date"`
	Hypothesis   string            `json:"hypothesis,omitempty"`
	Change       json.RawMessage   `json:"change"`
	Before       *store.Snapshot   `json:"before,omitempty"`
	Evaluation   *store.Evaluation `json:"evaluation,omitempty"`
}

// Report is the generated document, persisted as-is.
type Report struct {
	ID          string              `json:"report_id"`
	GeneratedAt string              `json:"generated_at"`
	Window      Window              `json:"window"`
	Experiments []ExperimentSummary `json:"experiments"`
	Markdown    string              `json:"report_markdown"`
	Insights    []Insight           `json:"insights"`
	ModelUsed   string              `json:"model_used,omitempty"`
}

// Summary is the model's parsed response.
type Summary struct {
	Markdown string
	Insights []Insight
}

// Summarizer turns the serialized window payload into a written report.
type Summarizer interface {
	Summarize(ctx context.Context, input string) (*Summary, error)
	Model() string
}

type Service struct {
	store      store.Store
	summarizer Summarizer
	today      func() string
}

func New(st store.Store, summarizer Summarizer) *Service {
	return &Service{store: st, summarizer: summarizer, today: store.Today}
}

// Generate reports on every experiment kept or reverted within the last
// daysBack days, re-scoring each against its own end date so the numbers
// reflect the run rather than whatever happened afterwards. The report is
// persisted before it is returned.
func (s *Service) Generate(ctx context.Context, daysBack int) (*Report, error) {
	if s.summarizer == nil {
		return nil, fmt.Errorf("report generation requires a configured model")
	}
	if daysBack <= 0 {
		daysBack = defaultWindowDays
	}

	end := s.today()
	start, err := store.AddDays(end, -daysBack)
	if err != nil {
		return nil, err
	}
	window := Window{Start: start, End: end, DaysBack: daysBack}

	finalized, err := s.store.ListExperiments(ctx, store.StateKept, store.StateReverted)
	if err != nil {
		return nil, err
	}
	history, err := s.store.LoadPerformanceHistory(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	var summaries []ExperimentSummary
	for _, exp := range finalized {
		if exp.EndDate == "" || exp.EndDate < start || exp.EndDate > end {
			continue
		}
		summary, err := summarizeExperiment(exp, history, settings.Tolerance)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("%w (%s to %s)", ErrNoExperiments, start, end)
	}

	input, err := json.MarshalIndent(map[string]any{
		"window":      window,
		"experiments": summaries,
	}, "", "  ")
	if err != nil {
		return nil, err
	}

	summary, err := s.summarizer.Summarize(ctx, string(input))
	if err != nil {
		return nil, fmt.Errorf("report generation failed: %w", err)
	}

	insights := make([]Insight, 0, len(summary.Insights))
	for _, insight := range summary.Insights {
		insight.ID = uuid.New().String()
		insights = append(insights, insight)
	}

	report := &Report{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Window:      window,
		Experiments: summaries,
		Markdown:    summary.Markdown,
		Insights:    insights,
		ModelUsed:   s.summarizer.Model(),
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveReport(ctx, report.ID, payload); err != nil {
		return nil, err
	}
	return report, nil
}

// summarizeExperiment scores the record at its end date. A record that
// cannot be scored (no baseline, missing rows) keeps whatever evaluation it
// already carries; scoring failures never block the report.
func summarizeExperiment(exp *store.Experiment, history store.PerformanceHistory, tolerance float64) (ExperimentSummary, error) {
	change, err := store.EncodeChange(exp.Change)
	if err != nil {
		return ExperimentSummary{}, fmt.Errorf("experiment %s: %w", exp.ID, err)
	}

	evaluation := exp.Evaluation
	if exp.Baseline != nil {
		if eval, err := evaluate.Compute(history, exp.ListingID, *exp.Baseline, exp.EndDate, tolerance); err == nil {
			evaluation = eval
		}
	}

	return ExperimentSummary{
		ListingID:    exp.ListingID,
		ExperimentID: exp.ID,
		FinalState:   exp.FinalState,
		EndDate:      exp.EndDate,
		Hypothesis:   exp.Hypothesis,
		Change:       change,
		Before:       exp.Snapshot,
		Evaluation:   evaluation,
	}, nil
}
