// ABOUTME: HTTP server assembly for widget-gateway
// ABOUTME: Routes the session API, the page bridge, health, and metrics

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aivie/widget-gateway/internal/auth"
	"github.com/aivie/widget-gateway/internal/config"
	"github.com/aivie/widget-gateway/internal/identity"
	"github.com/aivie/widget-gateway/internal/upstream"
)

// defaultSessionTTL bounds how long an untouched session stays registered.
const defaultSessionTTL = 30 * time.Minute

// defaultMaxSessions caps concurrent sessions per gateway instance.
const defaultMaxSessions = 10000

// Server hosts the widget session API and the page bridge.
type Server struct {
	config   *config.Config
	upstream *upstream.Client
	identity *identity.Mapper
	kv       *identity.SQLiteKV
	registry *Registry
	verifier auth.TokenVerifier
	limiter  *limiterPool
	logger   *slog.Logger

	noticeBuffers *noticeBufferMap
	pages         *pageMap

	httpServer *http.Server
	promReg    *prometheus.Registry
}

// New assembles a server from configuration. The identity store opens the
// configured SQLite database; callers own Shutdown.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := identity.NewSQLiteKV(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	// Every removal path drops the session's side tables too: eviction
	// and TTL expiry must not leak notice buffers or bridge records.
	notices := newNoticeBufferMap()
	pages := newPageMap()
	onRemove := func(id string) {
		notices.drop(id)
		pages.drop(id)
		activeSessions.Dec()
	}

	s := &Server{
		config: cfg,
		upstream: upstream.New(upstream.Config{
			BaseURL: cfg.Upstream.BaseURL,
			APIKey:  cfg.Upstream.APIKey,
			Timeout: cfg.Upstream.Timeout,
		}, logger),
		identity: identity.NewMapper(kv, logger),
		kv:       kv,
		registry: NewRegistry(defaultSessionTTL, defaultMaxSessions, onRemove, logger),
		limiter:  newLimiterPool(5, 10),
		logger:   logger.With("component", "server"),
		promReg:  prometheus.NewRegistry(),

		noticeBuffers: notices,
		pages:         pages,
	}

	if cfg.Auth.JWTSecret != "" {
		s.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	registerMetrics(s.promReg)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// router builds the route table.
func (s *Server) router() http.Handler {
	r := mux.NewRouter()

	// Health endpoints - no auth required
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	}

	widget := r.PathPrefix("/widget").Subrouter()
	if s.verifier != nil {
		widget.Use(auth.OptionalMiddleware(s.verifier))
	}
	widget.Use(s.rateLimit)

	widget.HandleFunc("/session", s.handleCreateSession).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}", s.handleGetSession).Methods(http.MethodGet)
	widget.HandleFunc("/session/{id}", s.handleCloseSession).Methods(http.MethodDelete)
	widget.HandleFunc("/session/{id}/start", s.handleStartChat).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}/send", s.handleSend).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}/conversation", s.handleChangeConversation).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}/new", s.handleNewConversation).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}/conversations", s.handleListConversations).Methods(http.MethodGet)
	widget.HandleFunc("/session/{id}/history", s.handleHistory).Methods(http.MethodGet)
	widget.HandleFunc("/session/{id}/feedback", s.handleFeedback).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}/minimize", s.handleMinimize).Methods(http.MethodPost)
	widget.HandleFunc("/session/{id}/expand", s.handleToggleExpand).Methods(http.MethodPost)
	widget.HandleFunc("/ws", s.handleBridge).Methods(http.MethodGet)

	return r
}

// rateLimit applies the per-client token bucket. Clients are keyed by
// remote host; a rejected request never reaches a session.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.Allow(host) {
			droppedMessages.WithLabelValues("rate_limited").Inc()
			s.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness once the upstream application answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.upstream.FetchAppInfo(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "upstream unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes every session, and releases the
// identity store.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.registry.Close()
	if closeErr := s.kv.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
