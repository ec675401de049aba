// Package admin implements the Unix-domain-socket administrative interface
// of spec.md §4.11: health/status/reload/session-management endpoints that
// are never reachable over the network.
//
// Grounded on the mounting pattern in the retrieval pack's
// giantswarm-mcp-kubernetes OAuth HTTP server (internal/server/oauth_http.go,
// under other_examples/), which registers promhttp.Handler() alongside its
// own health-check and OAuth routes on one mux; this package does the same,
// but the mux is served over a 0600 Unix socket (go-chi/chi/v5, already the
// gateway's router of choice for the network-facing transport) rather than
// a TCP listener, since the admin surface must only be operator-local.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/reload"
	"github.com/mxcp-io/mxcp-core/internal/session"
)

// Server is the admin HTTP server bound to a Unix domain socket.
type Server struct {
	coordinator *reload.Coordinator
	sessions    *session.Manager
	registry    *prometheus.Registry

	generationSeq   prometheus.Gauge
	generationBuilt prometheus.Gauge
	sessionsActive  prometheus.Gauge

	httpServer *http.Server
}

// New builds the admin Server. coordinator and sessions must already be
// fully wired by cmd/mxcpd before Serve is called.
func New(coordinator *reload.Coordinator, sessions *session.Manager) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		coordinator: coordinator,
		sessions:    sessions,
		registry:    reg,
		generationSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mxcp_reload_generation_seq",
			Help: "Sequence number of the currently-serving reload generation.",
		}),
		generationBuilt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mxcp_reload_generation_built_timestamp_seconds",
			Help: "Unix timestamp at which the currently-serving generation was built.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mxcp_sessions_active",
			Help: "Number of active OAuth sessions known to the session manager.",
		}),
	}
	reg.MustRegister(s.generationSeq, s.generationBuilt, s.sessionsActive)
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Post("/reload", s.handleReload)
	r.Get("/auth/sessions", s.handleListSessions)
	r.Delete("/auth/sessions/{id}", s.handleRevokeSession)
	r.Post("/auth/cleanup", s.handleCleanup)
	return r
}

// Serve listens on socketPath (created with mode 0600: operator-local only)
// and blocks serving the admin API until ctx is canceled.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath) // stale socket from a prior crashed run
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	gen := s.coordinator.Current()
	s.generationSeq.Set(float64(gen.Seq))
	s.generationBuilt.Set(float64(gen.BuiltAt.Unix()))

	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		logger.Errorw("admin: failed to list sessions for status", "err", err)
	}
	s.sessionsActive.Set(float64(len(sessions)))

	writeJSON(w, http.StatusOK, map[string]any{
		"generation_seq":   gen.Seq,
		"generation_built": gen.BuiltAt,
		"active_sessions":  len(sessions),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Reload(r.Context()); err != nil {
		logger.Errorw("admin: reload failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generation_seq": s.coordinator.Current().Seq})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.RevokeSession(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.sessions.Cleanup(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleaned", "removed": removed})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorw("admin: failed to encode response", "err", err)
	}
}
