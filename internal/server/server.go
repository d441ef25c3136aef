// Package server exposes the monitor's status over a local HTTP endpoint so
// persistent connectivity failures are observable without reading logs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/callbridge/callcapture/internal/monitor"
)

// StatusResponse is the JSON document served at /api/status.
type StatusResponse struct {
	CallState         monitor.CallState `json:"call_state"`
	RecorderConnected bool              `json:"recorder_connected"`
	Reconciled        bool              `json:"reconciled"`
	LastError         string            `json:"last_error,omitempty"`
	LastTransition    *time.Time        `json:"last_transition,omitempty"`
}

// StatusProvider is the snapshot source, implemented by *monitor.Controller.
type StatusProvider interface {
	Status() monitor.Status
}

// Server serves the status endpoint.
type Server struct {
	addr     string
	provider StatusProvider
	httpSrv  *http.Server
}

// New creates a status server listening on addr.
func New(addr string, provider StatusProvider) *Server {
	s := &Server{addr: addr, provider: provider}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	return s
}

// Start serves until the listener is closed. Run it on its own goroutine;
// the monitor loop must not block on it.
func (s *Server) Start() error {
	slog.Info("Status endpoint listening", "addr", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.provider.Status()
	resp := StatusResponse{
		CallState:         status.CallState,
		RecorderConnected: status.RecorderConnected,
		Reconciled:        status.Reconciled,
		LastError:         status.LastError,
	}
	if !status.LastTransition.IsZero() {
		t := status.LastTransition
		resp.LastTransition = &t
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("Failed to encode status response", "error", err)
	}
}
