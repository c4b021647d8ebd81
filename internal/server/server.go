package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/resolver"
	"github.com/aristath/propcompliance/internal/rules"
	"github.com/aristath/propcompliance/internal/supervisor"
)

// requestIDHeader is the response header carrying the request correlation
// ID, generated with a real UUID rather than chi's default incrementing
// counter so IDs stay unique across process restarts and match the
// correlation IDs the monitor loop logs.
const requestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Config holds HTTP server configuration.
type Config struct {
	Port      int
	Log       zerolog.Logger
	DevMode   bool
	Resolver  *resolver.Resolver
	SoftRules SoftRuleLookup
	Taxonomy  rules.Taxonomies
	Sup       *supervisor.Supervisor
}

// SoftRuleLookup reads the advisory strings a firm/program has on file, for
// the review API's include_soft_rules=true response. Nil
// disables the feature (requests with include_soft_rules=true get a
// response without a soft_rules field rather than an error).
type SoftRuleLookup func(firm, programID string) ([]string, error)

// Server is the compliance monitor's HTTP surface: the stateless review API
// and operational status endpoints.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	resolver  *resolver.Resolver
	softRules SoftRuleLookup
	taxonomy  rules.Taxonomies
	sup       *supervisor.Supervisor
}

// New builds a Server ready to ListenAndServe.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		resolver:  cfg.Resolver,
		softRules: cfg.SoftRules,
		taxonomy:  cfg.Taxonomy,
		sup:       cfg.Sup,
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

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestIDMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/compliance", func(r chi.Router) {
		r.Post("/review", s.handleComplianceReview)
	})
}

// Start starts the HTTP server; it blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
