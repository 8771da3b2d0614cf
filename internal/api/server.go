package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/archeval/arbiter/internal/config"
	"github.com/archeval/arbiter/internal/generate"
	"github.com/archeval/arbiter/internal/session"
	"github.com/archeval/arbiter/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	sessions       *session.Manager
	problemLoader  *generate.Loader
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	sessions *session.Manager,
	loader *generate.Loader,
	repo storage.Repository,
) *Server {
	s := &Server{
		config:         cfg,
		sessions:       sessions,
		problemLoader:  loader,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// Evaluation sessions
		r.Route("/sessions", func(r chi.Router) {
			r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/", s.handleListSessions)
			r.With(s.authMiddleware.RequirePermission("sessions:write")).Post("/", s.handleCreateSession)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/", s.handleGetSession)
				r.With(s.authMiddleware.RequirePermission("sessions:write")).Delete("/", s.handleDeleteSession)
				r.With(s.authMiddleware.RequirePermission("sessions:write")).Post("/regenerate", s.handleRegenerate)
				r.With(s.authMiddleware.RequirePermission("runs:write")).Post("/run", s.handleStartRun)
				r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/scores", s.handleGetScores)
				r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/selection", s.handleGetSelection)
				r.With(s.authMiddleware.RequirePermission("sessions:read")).Get("/events", s.handleSessionEvents)
			})
		})

		// Problem template catalog
		r.Route("/problems", func(r chi.Router) {
			r.With(s.authMiddleware.RequirePermission("problems:read")).Get("/", s.handleListProblems)
			r.With(s.authMiddleware.RequirePermission("problems:read")).Get("/{name}", s.handleGetProblem)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
