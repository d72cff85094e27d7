// Package api exposes a signed-in user's collection, the catalog and the
// filter engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bookshelf/internal/catalog"
	"bookshelf/internal/filter"
	"bookshelf/internal/ratelimit"
	"bookshelf/internal/repository"
	"bookshelf/internal/session"
)

// Deps are the services the handlers work with
type Deps struct {
	Registry *session.Registry
	Store    *repository.Repository
	Engine   *filter.Engine
	Catalog  *catalog.Catalog
	Taxonomy *catalog.Taxonomy
	Limiter  *ratelimit.KeyedLimiter
	Auth     *Authenticator
	MiniApp  InitDataVerifier // optional
}

// Server holds dependencies for HTTP handlers
type Server struct {
	registry *session.Registry
	store    *repository.Repository
	engine   *filter.Engine
	catalog  *catalog.Catalog
	taxonomy *catalog.Taxonomy
	limiter  *ratelimit.KeyedLimiter
	auth     *Authenticator
	miniApp  InitDataVerifier
	router   *chi.Mux
	logger   *zap.Logger
}

// NewServer creates a new HTTP server with all routes configured
func NewServer(deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		registry: deps.Registry,
		store:    deps.Store,
		engine:   deps.Engine,
		catalog:  deps.Catalog,
		taxonomy: deps.Taxonomy,
		limiter:  deps.Limiter,
		auth:     deps.Auth,
		miniApp:  deps.MiniApp,
		router:   chi.NewRouter(),
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.handleListBooks)
			r.Post("/", s.handleCreateBook)
			r.Get("/{id}", s.handleGetBook)
			r.Patch("/{id}", s.handleUpdateBook)
			r.Delete("/{id}", s.handleDeleteBook)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/state", s.handleState)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/limits", s.handleLimits)

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", s.handleListCatalog)
			r.Get("/facets", s.handleCatalogFacets)
			r.Post("/{id}/add", s.handleAddFromCatalog)
		})
		r.Get("/taxonomy", s.handleTaxonomy)

		// Reads straight from the store, bypassing the session list
		r.Route("/store/books", func(r chi.Router) {
			r.Get("/", s.handleStoreBooks)
			r.Get("/{id}", s.handleStoreBook)
		})

		r.Post("/session/logout", s.handleLogout)
	})
}

// logRequests logs one line per request with zap
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
