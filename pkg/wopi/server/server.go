// Package server wires the WOPI request pipeline together: the Request
// Parser (pkg/wopi), the Access Gate (pkg/wopi/access), the Lock Table
// (pkg/wopi/lock), a Storage Adapter (pkg/wopi/storage), the Auxiliary
// State (pkg/wopi/state), and the Proof-Key Validator
// (pkg/wopi/proofkey) into one HTTP handler plus the operation handlers
// (C5) and response encoder (C6) that implement the protocol contract.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/YananZhang666/wopihost/internal/logger"
	"github.com/YananZhang666/wopihost/pkg/wopi/access"
	"github.com/YananZhang666/wopihost/pkg/wopi/lock"
	"github.com/YananZhang666/wopihost/pkg/wopi/metrics"
	"github.com/YananZhang666/wopihost/pkg/wopi/proofkey"
	"github.com/YananZhang666/wopihost/pkg/wopi/state"
	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
)

// Identity carries the information CheckFileInfo surfaces about the
// requesting user beyond what the access token itself proves.
type Identity struct {
	OwnerID           string
	UserFriendlyName  string
	UserPrincipalName string
}

// Core is the single injected value the spec's Design Notes §9 call for
// in place of process-wide singletons: it bundles every collaborator an
// operation handler needs, with the mutexes living inside Locks,
// UserInfo, and RevokedLinks rather than at package scope.
type Core struct {
	Locks        *lock.Table
	Storage      storage.Adapter
	Gate         *access.Gate
	Minter       *access.Minter
	ProofKey     proofkey.Validator
	UserInfo     *state.UserInfo
	RevokedLinks *state.RevokedLinks

	// ServerVersion and MachineName are stamped on every response
	// (X-WOPI-ServerVersion, X-WOPI-MachineName).
	ServerVersion string
	MachineName   string

	// RootName is the configured root folder's name, compared
	// case-insensitively against the FolderId in CheckFolderInfo.
	RootName string

	// Now is the clock handlers and the lock table use; overridable in
	// tests. Defaults to time.Now when nil.
	Now func() time.Time

	// Identity resolves display/principal fields for a user; defaults to
	// echoing the user name in every field if nil.
	Identity func(user string) Identity

	// Metrics records per-operation request counts and latency. May be
	// nil, in which case observation is skipped.
	Metrics *metrics.Metrics
}

func (c *Core) observe(operation, status string, duration time.Duration) {
	if c.Metrics != nil {
		c.Metrics.ObserveRequest(operation, status, duration)
	}
}

func (c *Core) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Core) identity(user string) Identity {
	if c.Identity != nil {
		return c.Identity(user)
	}
	return Identity{OwnerID: user, UserFriendlyName: user, UserPrincipalName: user}
}

// Config configures the top-level Server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server is the top-level HTTP server hosting the WOPI endpoints plus
// the health and metrics endpoints.
type Server struct {
	http         *http.Server
	core         *Core
	shutdownOnce sync.Once
}

// New builds a Server from cfg and core, routes already wired.
func New(cfg Config, core *Core) *Server {
	cfg.applyDefaults()

	router := newRouter(core)

	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		core: core,
	}
}

// Start serves requests until ctx is cancelled, then gracefully shuts
// down within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("wopi server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("wopi server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("wopi server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("wopi server shutdown error: %w", err)
			logger.Error("wopi server shutdown error", "error", err)
			return
		}
		logger.Info("wopi server stopped gracefully")
	})
	return shutdownErr
}

func newRouter(core *Core) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", handleLiveness)
		r.Get("/ready", handleReadiness(core))
		r.Get("/stores", handleStoreHealth(core))
	})

	r.Handle("/metrics", metricsHandler())

	h := &handler{core: core}
	r.Route("/wopi", func(r chi.Router) {
		r.Get("/files/{id}", h.dispatch)
		r.Post("/files/{id}", h.dispatch)
		r.Get("/files/{id}/contents", h.dispatch)
		r.Post("/files/{id}/contents", h.dispatch)
		r.Get("/files/{id}/ancestry", h.dispatch)
		r.Get("/folders/{id}", h.dispatch)
		r.Get("/folders/{id}/children", h.dispatch)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("wopi request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
