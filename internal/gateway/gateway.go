// ABOUTME: Gateway orchestrator that runs the HTTP server over the dispatcher.
// ABOUTME: Owns route registration, CORS, and ordered graceful shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/contextstore"
	"github.com/toolgate/toolgate/internal/protocol"
	"github.com/toolgate/toolgate/internal/registry"
)

// shutdownTimeout bounds graceful HTTP shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Gateway serves the REST surface over the protocol dispatcher.
type Gateway struct {
	config     *config.Config
	registry   *registry.Registry
	dispatcher *protocol.Dispatcher
	browser    contextstore.Browser
	httpServer *http.Server
	logger     *slog.Logger
	version    string
}

// NewConfig contains configuration options for New.
type NewConfig struct {
	Config     *config.Config
	Registry   *registry.Registry
	Dispatcher *protocol.Dispatcher
	Browser    contextstore.Browser // nil disables GET /interactions
	Logger     *slog.Logger
	Version    string
}

// New creates a Gateway with its routes registered but not yet listening.
func New(cfg NewConfig) (*Gateway, error) {
	if cfg.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("gateway: dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:     cfg.Config,
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		browser:    cfg.Browser,
		logger:     logger,
		version:    cfg.Version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/capabilities", g.handleCapabilities)
	mux.HandleFunc("/invoke", g.handleInvoke)
	mux.HandleFunc("/interactions", g.handleInteractions)

	var handler http.Handler = mux
	if cfg.Config.CORS.Active() {
		handler = g.corsMiddleware(handler)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Config.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler exposes the configured HTTP handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP until the context is cancelled or the listener fails,
// then performs a graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP gateway listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	g.logger.Info("HTTP gateway stopped")
	return nil
}

// corsMiddleware applies the configured CORS policy. Preflight requests are
// answered directly with 204.
func (g *Gateway) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && g.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) originAllowed(origin string) bool {
	allowed := g.config.CORS.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
