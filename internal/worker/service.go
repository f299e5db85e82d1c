package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/internal/engine"
	"github.com/thebtf/incident-cluster/internal/selection"
	"github.com/thebtf/incident-cluster/internal/stream"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout bounds the work done for one clustering or publish request.
	DefaultHTTPTimeout = 30 * time.Second

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout = 10 * time.Second
)

// Service is the HTTP front of the clustering engine.
type Service struct {
	config   config.Config
	engine   *engine.Engine
	selector *selection.Selector
	producer *stream.Producer // nil when no Redis is configured
	limiter  *PerClientRateLimiter

	requestTimeout time.Duration

	router    *chi.Mux
	server    *http.Server
	startTime time.Time
	wg        sync.WaitGroup
}

// NewService creates the service and wires its routes.
// producer may be nil, in which case /events answers 503.
func NewService(cfg config.Config, eng *engine.Engine, producer *stream.Producer) *Service {
	svc := &Service{
		config:         cfg,
		engine:         eng,
		selector:       selection.NewSelector(nil, cfg.SelectMaxItems),
		producer:       producer,
		limiter:        NewPerClientRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		requestTimeout: DefaultHTTPTimeout,
		router:         chi.NewRouter(),
		startTime:      time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	return svc
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(s.config.MaxBodyBytes))
	s.router.Use(RequireJSONContentType)
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health needs no auth
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(PerClientRateLimitMiddleware(s.limiter))
		r.Use(APIKeyAuth(s.config.APIKey))

		r.Post("/cluster", s.handleCluster)
		r.Post("/select", s.handleSelect)
		r.Post("/events", s.handleEvents)
	})
}

// Start starts the HTTP server in the background.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", s.config.Addr()).
		Str("version", s.config.Version).
		Bool("api_key_configured", trimSecret(s.config.APIKey) != "").
		Bool("events_enabled", s.producer != nil).
		Msg("Worker HTTP server started")

	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		if err = s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	log.Info().
		Dur("uptime", time.Since(s.startTime)).
		Interface("rate_limit", s.limiter.Stats()).
		Msg("Worker service shutdown complete")
	return err
}
