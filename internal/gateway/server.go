// Package gateway serves the read-only status API: health, Prometheus
// metrics, conversation and bet listings, and a WebSocket stream of bet
// events.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nextlevelbuilder/betclaw/internal/agent"
	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/metrics"
	"github.com/nextlevelbuilder/betclaw/pkg/protocol"
)

const apiTimeout = 15 * time.Second

// StatusSource exposes the orchestrator's in-memory state.
// *agent.Orchestrator implements it.
type StatusSource interface {
	Conversations() []agent.Conversation
	Bets(id string) (pending, confirmed []bets.Entry, ok bool)
}

// Server is the status gateway.
type Server struct {
	cfg      config.GatewayConfig
	eventPub bus.EventPublisher
	status   StatusSource
	metrics  *metrics.Metrics

	clients map[string]*client
	mu      sync.RWMutex

	httpServer *http.Server
	handler    http.Handler
}

// NewServer creates a gateway server. eventPub and m may be nil; the event
// stream and /metrics are then not served.
func NewServer(cfg config.GatewayConfig, eventPub bus.EventPublisher, status StatusSource, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		eventPub: eventPub,
		status:   status,
		metrics:  m,
		clients:  make(map[string]*client),
	}
}

// checkOrigin validates a WebSocket origin against the allowed origins.
// No configured origins allows all; an empty Origin header (non-browser
// clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// Handler builds (once) and returns the HTTP handler with every route.
func (s *Server) Handler() http.Handler {
	if s.handler != nil {
		return s.handler
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Route("/v1", func(r chi.Router) {
			r.Use(chimiddleware.Timeout(apiTimeout))
			r.Get("/conversations", s.handleConversations)
			r.Get("/conversations/{id}/bets", s.handleBets)
		})
		if s.eventPub != nil {
			r.Get("/ws", s.handleWebSocket)
		}
	})

	s.handler = r
	return r
}

// requireToken enforces the bearer token when one is configured. Browsers
// cannot set headers on WebSocket upgrades, so ?token= is accepted too.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. Connected stream clients get a
// shutdown event before the listener closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	streams := len(s.clients)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"streams":  streams,
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.status.Conversations(),
	})
}

type betsResponse struct {
	ID        string       `json:"id"`
	Pending   []bets.Entry `json:"pending"`
	Confirmed []bets.Entry `json:"confirmed"`
}

func (s *Server) handleBets(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return
	}

	pending, confirmed, ok := s.status.Bets(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if pending == nil {
		pending = []bets.Entry{}
	}
	if confirmed == nil {
		confirmed = []bets.Entry{}
	}
	writeJSON(w, http.StatusOK, betsResponse{ID: id, Pending: pending, Confirmed: confirmed})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
