// Package server provides the HTTP API over the trading pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/internal/engine"
	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/diagnostics"
	"github.com/aristath/touchline/internal/modules/evolution"
	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/aristath/touchline/internal/modules/portfolio"
	"github.com/aristath/touchline/internal/modules/scoring"
	"github.com/aristath/touchline/internal/scheduler"
)

// LevelStore reads and replaces the level sheet.
type LevelStore interface {
	Replace(ctx context.Context, day string, levels []domain.PriceLevel) error
	Latest(ctx context.Context) (string, []domain.PriceLevel, error)
}

// RecommendationSource exposes the most recent recommendation.
type RecommendationSource interface {
	Latest() *domain.Recommendation
}

// PortfolioReader summarizes the paper portfolio.
type PortfolioReader interface {
	Summary(ctx context.Context, closedLimit int) (*portfolio.Summary, error)
}

// PositionCloser closes a position outside the exit rules.
type PositionCloser interface {
	ClosePosition(ctx context.Context, id string, price float64) (*domain.Position, error)
}

// ReviewQueue is the discovered-pattern review queue.
type ReviewQueue interface {
	CurrentPattern(ctx context.Context) (*memory.QueuedPattern, error)
	MarkDecision(ctx context.Context, queueID int64, decision memory.Decision) error
}

// EvolutionReader reads per-direction outcome records.
type EvolutionReader interface {
	Records(ctx context.Context, sig domain.PatternSignature) ([]evolution.Record, error)
	BestDirection(ctx context.Context, sig domain.PatternSignature) (domain.Direction, bool)
}

// ResilienceStore records and scores pattern resilience.
type ResilienceStore interface {
	Record(ctx context.Context, patternID string, outcome scoring.Outcome, volatility, durationMinutes float64) error
	Score(ctx context.Context, patternID string) (float64, error)
}

// HealthMonitor is the diagnostics sink plus its readable state.
type HealthMonitor interface {
	domain.HealthSink
	Status() map[string]diagnostics.ComponentStatus
	Unhealthy() []string
}

// TickSource exposes the last engine iteration.
type TickSource interface {
	LastTick() (*engine.TickResult, time.Time)
}

// Config holds server configuration and the services it fronts.
// Any service left nil makes its routes answer 503.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	Symbol  string
	Version string

	Levels          LevelStore
	Prices          domain.PriceSource
	Recommendations RecommendationSource
	Portfolio       PortfolioReader
	Closer          PositionCloser
	Review          ReviewQueue
	Evolution       EvolutionReader
	Resilience      ResilienceStore
	Monitor         HealthMonitor
	Ticks           TickSource
	Events          *events.Manager
	Scheduler       *scheduler.Scheduler
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	cfg       Config
	log       zerolog.Logger
	startedAt time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		log:       cfg.Log.With().Str("component", "server").Logger(),
		startedAt: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/ping", s.handlePing)
		r.Get("/events", s.handleEvents)

		r.Get("/levels", s.handleGetLevels)
		r.Post("/levels", s.handlePostLevels)

		r.Get("/price", s.handlePrice)
		r.Get("/recommendations/latest", s.handleLatestRecommendation)

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/", s.handlePortfolio)
			r.Post("/close/{id}", s.handleClosePosition)
		})

		r.Get("/patterns/current", s.handleCurrentPattern)
		r.Post("/patterns/decision", s.handlePatternDecision)
		r.Get("/evolution", s.handleEvolution)

		r.Post("/resilience", s.handleRecordResilience)
		r.Get("/resilience/{patternID}", s.handleResilienceScore)

		r.Get("/jobs", s.handleJobs)
		r.Post("/jobs/{name}", s.handleRunJob)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
