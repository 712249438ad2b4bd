package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"prp-generator/internal/config"
	"prp-generator/internal/engine"
	"prp-generator/internal/generation"
	"prp-generator/internal/observability"
	"prp-generator/internal/store"
	"prp-generator/internal/telemetry"
)

// Server holds all dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	store      *store.Store
	generation *generation.Service
	telemetry  *telemetry.Registry
	engine     *engine.Supervisor
	locator    *engine.Locator
	metrics    *observability.Metrics
}

// Deps are the collaborators the server is built from.
type Deps struct {
	Config     *config.Config
	Store      *store.Store
	Generation *generation.Service
	Telemetry  *telemetry.Registry
	Metrics    *observability.Metrics
}

// NewServer creates a new server with all dependencies.
func NewServer(deps Deps) *Server {
	return &Server{
		config:     deps.Config,
		store:      deps.Store,
		generation: deps.Generation,
		telemetry:  deps.Telemetry,
		engine:     engine.NewSupervisor(),
		locator:    engine.NewLocator(),
		metrics:    deps.Metrics,
	}
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   srv.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", srv.handleHealth)
	r.Handle("/metrics", srv.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if srv.config.APIToken != "" {
			r.Use(AuthMiddleware(srv.config.APIToken))
		}

		// Generation routes
		r.With(middleware.AllowContentType("application/json")).Post("/generate", srv.handleGenerate)
		r.Post("/generate/cancel", srv.handleCancelGeneration)

		// Engine routes
		r.Get("/engine/status", srv.handleEngineStatus)
		r.With(middleware.AllowContentType("application/json")).Post("/engine/test", srv.handleTestEngine)
		r.Put("/engine/path", srv.handleSetEnginePath)

		// Telemetry routes
		r.Get("/telemetry", srv.handleGetTelemetry)

		// Template routes
		r.Get("/templates", srv.handleListTemplates)
		r.Post("/templates", srv.handleCreateTemplate)
		r.Get("/templates/search", srv.handleSearchTemplates)
		r.Get("/templates/{id}", srv.handleGetTemplate)
		r.Put("/templates/{id}", srv.handleUpdateTemplate)
		r.Delete("/templates/{id}", srv.handleDeleteTemplate)

		// PRP routes
		r.Get("/prps", srv.handleListPRPs)
		r.Get("/prps/{id}", srv.handleGetPRP)
		r.Put("/prps/{id}", srv.handleUpdatePRP)
		r.Delete("/prps/{id}", srv.handleDeletePRP)
		r.Get("/prps/{id}/versions", srv.handleListPRPVersions)
	})

	return r
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
