package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ha1tch/friendgraph/pkg/config"
	"github.com/ha1tch/friendgraph/pkg/directory"
	"github.com/ha1tch/friendgraph/pkg/relay"
	"github.com/rs/zerolog"
)

// Banner is the body of the root route
const Banner = "This is the backend for the website"

// ServerName is sent in the Server header of every response
const ServerName = "Friends"

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	directory  *directory.Directory
	relay      *relay.Relay
	logger     zerolog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

// New creates a new server instance
func New(
	cfg *config.Config,
	dir *directory.Directory,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		config:    cfg,
		directory: dir,
		relay:     relay.New(logger),
		logger:    logger.With().Str("component", "server").Logger(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(commonHeaders)

	// Long-lived, so outside the timeout and compression groups
	s.router.Get("/friendws", s.relay.ServeHTTP)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
		r.Use(middleware.Compress(5))

		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		// API routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Throttle(s.config.Workers))
			r.Use(s.requireReady)

			r.Get("/getusers", s.handleGetUsers)
			r.Post("/adduser", s.handleAddUser)
			r.Get("/getuid", s.handleGetUID)
			r.Get("/addfriend", s.handleAddFriend)
			r.Get("/updateuser", s.handleUpdateUser)
		})
	})
}

// commonHeaders stamps the headers every route carries
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", ServerName)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// requireReady holds API traffic back until bootstrap has finished
func (s *Server) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.directory.Ready() {
			s.writeError(w, r, http.StatusServiceUnavailable, "Server is starting")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server and blocks until it is shut down
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleRoot returns the banner
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, http.StatusOK, Banner)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !s.directory.Ready() {
		status, code = "bootstrapping", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"version": config.Version,
		"indexed": s.directory.Index().Len(),
	})
}

// handleVersion returns server version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": config.Version,
	})
}
