// Package web serves the operator console: an HTML page driven by form posts
// and a JSON API over the same per-operator workflow.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetgate/internal/config"
	"github.com/JonMunkholm/sheetgate/internal/core"
	mw "github.com/JonMunkholm/sheetgate/internal/web/middleware"
)

// maintenanceInterval is how often idle sessions and rate-limit entries are
// pruned.
const maintenanceInterval = time.Minute

// StatusSource is the availability signal plus change notifications.
// *core.Monitor satisfies it.
type StatusSource interface {
	core.AvailabilitySource
	Subscribe() (<-chan core.Availability, func())
}

// Deps are the collaborators the console drives.
type Deps struct {
	Status   StatusSource
	Limiter  *core.CallLimiter
	Uploader *core.Uploader
	Saver    *core.Saver
	Logger   *slog.Logger
}

// Server is the HTTP server for the operator console.
type Server struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	sessions *sessionStore
	limiter  *rateLimiter
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires routes and middleware. It does not start listening.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.sessions = newSessionStore(cfg.Session.CookieName, cfg.Session.SecureCookie, cfg.Session.TTL,
		func(id string) *core.Workflow {
			return core.NewWorkflow(deps.Status, deps.Uploader, deps.Saver, logger.With("session", id))
		})
	if cfg.Rate.Enabled {
		s.limiter = newRateLimiter(cfg.Rate.RequestsPerMinute, time.Minute)
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5, "text/html", "application/json"))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
	if s.limiter != nil {
		s.router.Use(s.limiter.middleware)
	}
	s.router.Use(mw.APIKeyAuth(s.cfg.Security, "/healthz"))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	// The status stream stays open for as long as the operator has the page
	// loaded, so it sits outside the request timeout.
	s.router.Get("/api/status/stream", s.handleStatusStream)

	s.router.Group(func(r chi.Router) {
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}

		r.Get("/", s.handlePage)

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/datasets", s.handleDatasets)
			r.Get("/state", s.handleState)
			r.Get("/report/export", s.handleExport)

			r.Post("/dataset", s.handleSelectDataset)
			r.Post("/file", s.handleChooseFile)
			r.Post("/validate", s.handleValidate)
			r.Post("/save", s.handleSave)
			r.Post("/clear", s.handleClear)
		})
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // zero keeps the status stream open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.Info("server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// RunMaintenance prunes idle sessions and stale rate-limit entries until ctx
// is done.
func (s *Server) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.sweep(); n > 0 {
				s.logger.Info("expired idle sessions", "count", n, "remaining", s.sessions.count())
			}
			if s.limiter != nil {
				s.limiter.prune()
			}
		}
	}
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				// Inline style and script come only from the page component.
				w.Header().Set("Content-Security-Policy",
					"default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON encodes v with the given status. Encoding errors are logged
// since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
