package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/listing-lab/listing-lab/internal/evaluate"
	"github.com/listing-lab/listing-lab/internal/lifecycle"
	"github.com/listing-lab/listing-lab/internal/report"
	"github.com/listing-lab/listing-lab/internal/store"
	shopsync "github.com/listing-lab/listing-lab/internal/sync"
)

// Server exposes the lifecycle engine, evaluator, reporter, and sync
// service over a local JSON API.
type Server struct {
	store     store.Store
	engine    *lifecycle.Engine
	evaluator *evaluate.Engine
	syncer    *shopsync.Service
	reports   *report.Service // nil when no report model is configured
	logger    *slog.Logger
	port      int
	router    *http.ServeMux
	startTime time.Time
}

func New(st store.Store, engine *lifecycle.Engine, evaluator *evaluate.Engine, syncer *shopsync.Service, reports *report.Service, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:     st,
		engine:    engine,
		evaluator: evaluator,
		syncer:    syncer,
		reports:   reports,
		logger:    logger,
		port:      port,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("POST /sync", s.handleSync)

	s.router.HandleFunc("GET /listings", s.handleListings)
	s.router.HandleFunc("GET /listings/{listingID}", s.handleListing)

	s.router.HandleFunc("GET /proposals", s.handleProposals)
	s.router.HandleFunc("POST /listings/{listingID}/proposals", s.handlePropose)
	s.router.HandleFunc("POST /listings/{listingID}/proposals/regenerate", s.handleRegenerate)
	s.router.HandleFunc("POST /listings/{listingID}/proposals/{experimentID}/select", s.handleSelect)

	s.router.HandleFunc("GET /experiments/{board}", s.handleBoard)
	s.router.HandleFunc("POST /listings/{listingID}/experiments/{experimentID}/accept", s.handleAccept)
	s.router.HandleFunc("POST /listings/{listingID}/experiments/{experimentID}/extend", s.handleExtend)
	s.router.HandleFunc("POST /listings/{listingID}/experiments/{experimentID}/keep", s.handleKeep)
	s.router.HandleFunc("POST /listings/{listingID}/experiments/{experimentID}/revert", s.handleRevert)
	s.router.HandleFunc("POST /listings/{listingID}/experiments/{experimentID}/evaluate", s.handleEvaluate)

	s.router.HandleFunc("POST /reports", s.handleGenerateReport)
	s.router.HandleFunc("GET /reports", s.handleListReports)
	s.router.HandleFunc("GET /reports/{reportID}", s.handleGetReport)

	s.router.HandleFunc("GET /summary", s.handleSummary)
	s.router.HandleFunc("GET /settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /settings", s.handlePutSettings)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("listing-lab serving", "addr", fmt.Sprintf("http://localhost:%d", s.port))
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler {
	return s.router
}
