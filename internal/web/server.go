// Package web serves the JSON API over chi.
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"manin/internal/auth"
	"manin/internal/cache"
	"manin/internal/market"
	"manin/internal/moonshot"
	"manin/internal/news"
	"manin/internal/scanner"
	"manin/internal/symbols"
	"manin/pkg/model"
)

// ScanService runs scans and single-ticker analysis
type ScanService interface {
	Scan(ctx context.Context, req scanner.Request) (*model.ScanResult, error)
	Analyze(ctx context.Context, ticker string) (*model.AnalysisResult, error)
}

type OverviewSource interface {
	Get(ctx context.Context) (market.Overview, error)
}

type MoonshotSource interface {
	Top(ctx context.Context) ([]moonshot.Candidate, error)
}

type NewsSource interface {
	Intelligence(ctx context.Context) ([]news.Item, error)
	AnalyzeTickers(ctx context.Context, tickers []string) []news.Item
}

type UniverseSource interface {
	Snapshot(ctx context.Context) (symbols.Snapshot, error)
}

type StatusSource interface {
	Status() market.Status
}

// Deps wires the services behind the API
type Deps struct {
	Scanner   ScanService
	Overview  OverviewSource
	Moonshots MoonshotSource
	News      NewsSource
	Universe  UniverseSource
	Session   StatusSource
	Store     cache.Store
	Auth      *auth.Verifier
	Trials    *auth.TrialLedger
}

// Server represents the API server
type Server struct {
	Deps
	jobs *jobStore
	srv  *http.Server

	// background jobs outlive their request but not the server
	baseCtx    context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Deps:       d,
		jobs:       newJobStore(time.Hour, time.Now),
		baseCtx:    ctx,
		cancelJobs: cancel,
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/market/overview", s.handleOverview)
	r.Get("/api/meta/universe", s.handleUniverse)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireUser)
		r.Get("/api/penny/basic", s.handleBasic)
		r.Get("/api/penny/analyze/{ticker}", s.handleAnalyze)
		r.Get("/api/penny/jobs/{id}", s.handleJobStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequirePro(s.Trials))
		r.Get("/api/penny/scan", s.handleFullScan)
		r.Get("/api/penny/scan_batch", s.handleBatchScan)
		r.Get("/api/penny/scan/stream", s.handleScanStream)
		r.Get("/api/penny/moonshots", s.handleMoonshots)
		r.Post("/api/penny/jobs", s.handleStartJob)
		r.Get("/api/news/intelligence", s.handleNewsIntelligence)
		r.Post("/api/news/analyze", s.handleNewsAnalyze)
	})

	return r
}

// Start starts the server on the specified port
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Int("port", port).Msg("starting manin API")
	return s.srv.ListenAndServe()
}

// Shutdown stops background jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelJobs()
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown: scan jobs still running")
	}
	return err
}

// corsMiddleware adds CORS headers for browser clients
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
