package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/listing-lab/listing-lab/internal/evaluate"
	"github.com/listing-lab/listing-lab/internal/guardrail"
	"github.com/listing-lab/listing-lab/internal/lifecycle"
	"github.com/listing-lab/listing-lab/internal/report"
	"github.com/listing-lab/listing-lab/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	Listings      int    `json:"listings"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListListings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Listings:      len(listings),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.Run(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListListings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	listing, err := s.store.GetListing(r.Context(), listingID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	bundles, err := s.store.ListBundles(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundles)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	bundle, err := s.engine.Propose(r.Context(), listingID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bundle)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	bundle, err := s.engine.Regenerate(r.Context(), listingID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bundle)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	exp, err := s.engine.Select(r.Context(), listingID, r.PathValue("experimentID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// handleBoard serves the untested, testing, finished, and tested manifests.
// The finished board is the subset of testing records past their planned
// end; tested is the kept/reverted history.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	board := r.PathValue("board")
	today := store.Today()

	switch board {
	case "untested":
		experiments, err := s.store.ListExperiments(r.Context(), store.StateUntested)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, experiments)
	case "testing", "finished":
		experiments, err := s.store.ListExperiments(r.Context(), store.StateTesting)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filtered := make([]*store.Experiment, 0, len(experiments))
		for _, exp := range experiments {
			if string(exp.EffectiveState(today)) == board {
				filtered = append(filtered, exp)
			}
		}
		writeJSON(w, http.StatusOK, filtered)
	case "tested":
		experiments, err := s.store.ListExperiments(r.Context(), store.StateKept, store.StateReverted)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, experiments)
	default:
		http.Error(w, "unknown board: "+board, http.StatusNotFound)
	}
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.engine.Accept)
}

func (s *Server) handleKeep(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.engine.Keep)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.engine.Revert)
}

type ExtendRequest struct {
	AdditionalDays int `json:"additional_days"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.AdditionalDays <= 0 {
		http.Error(w, "additional_days must be positive", http.StatusBadRequest)
		return
	}
	exp, err := s.engine.Extend(r.Context(), listingID, r.PathValue("experimentID"), req.AdditionalDays)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type EvaluateRequest struct {
	ComparisonDate string  `json:"comparison_date"`
	Tolerance      float64 `json:"tolerance"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	// The body is optional; an empty request evaluates against the latest
	// row with the persisted tolerance.
	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	eval, err := s.evaluator.EvaluateAt(r.Context(), listingID, r.PathValue("experimentID"), req.ComparisonDate, req.Tolerance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

type SummaryResponse struct {
	Listings int `json:"listings"`
	Proposed int `json:"proposed"`
	Untested int `json:"untested"`
	Testing  int `json:"testing"`
	Finished int `json:"finished"`
	Kept     int `json:"kept"`
	Reverted int `json:"reverted"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListListings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	summary := SummaryResponse{Listings: len(listings)}
	today := store.Today()
	for _, exp := range experiments {
		switch exp.EffectiveState(today) {
		case store.StateProposed:
			summary.Proposed++
		case store.StateUntested:
			summary.Untested++
		case store.StateTesting:
			summary.Testing++
		case store.StateFinished:
			summary.Finished++
		case store.StateKept:
			summary.Kept++
		case store.StateReverted:
			summary.Reverted++
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if settings.RunDurationDays <= 0 {
		http.Error(w, "run_duration_days must be positive", http.StatusBadRequest)
		return
	}
	if settings.Tolerance < 0 {
		http.Error(w, "tolerance must not be negative", http.StatusBadRequest)
		return
	}
	if err := s.store.SaveSettings(r.Context(), &settings); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &settings)
}

type GenerateReportRequest struct {
	DaysBack int `json:"days_back"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		http.Error(w, "report generation requires an OpenAI API key", http.StatusServiceUnavailable)
		return
	}
	var req GenerateReportRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	rep, err := s.reports.Generate(r.Context(), req.DaysBack)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	payloads, err := s.store.ListReports(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	reports := make([]json.RawMessage, 0, len(payloads))
	for _, payload := range payloads {
		reports = append(reports, json.RawMessage(payload))
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	payload, err := s.store.GetReport(r.Context(), r.PathValue("reportID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(payload))
}

type lifecycleFunc func(ctx context.Context, listingID int64, experimentID string) (*store.Experiment, error)

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request, op lifecycleFunc) {
	listingID, ok := pathInt64(w, r, "listingID")
	if !ok {
		return
	}
	exp, err := op(r.Context(), listingID, r.PathValue("experimentID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// writeError maps the error taxonomy to HTTP statuses: not-found 404,
// guardrail conflicts 409, invalid payloads 400, collaborator failures 502.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		violation    *guardrail.Violation
		invalid      *store.InvalidChangeError
		collaborator *lifecycle.CollaboratorError
		missing      *evaluate.DataMissingError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &violation):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, lifecycle.ErrBundleExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &invalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &collaborator):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, evaluate.ErrMissingBaseline), errors.As(err, &missing):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, report.ErrNoExperiments):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}
