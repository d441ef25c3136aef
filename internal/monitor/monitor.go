// Package monitor contains the session-monitoring and recording-control
// loop: one strictly sequential polling loop feeding the controller state
// machine.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/callbridge/callcapture/internal/audio"
	"github.com/callbridge/callcapture/internal/config"
)

const heartbeatInterval = 60 * time.Second

// Monitor runs the polling loop. Poll the observer, tick the controller,
// sleep until the next tick; protocol calls are awaited inside Tick so
// overlapping start/stop sequences cannot be issued.
type Monitor struct {
	cfg        *config.Config
	observer   *audio.Observer
	controller *Controller
}

// New wires an observer and a controller into a runnable monitor.
func New(cfg *config.Config, observer *audio.Observer, controller *Controller) *Monitor {
	return &Monitor{cfg: cfg, observer: observer, controller: controller}
}

// Controller exposes the controller for status consumers.
func (m *Monitor) Controller() *Controller { return m.controller }

// Run blocks until ctx is cancelled. On shutdown it performs one best-effort
// teardown so a recording is not left open.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("Monitoring softphone capture sessions",
		"processes", m.cfg.Monitor.ProcessNames,
		"poll_interval", m.cfg.Monitor.PollInterval,
		"debounce_window", m.cfg.Monitor.DebounceWindow,
		"grace_window", m.cfg.Monitor.GraceWindow)

	ticker := time.NewTicker(m.cfg.Monitor.PollInterval)
	defer ticker.Stop()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			// The parent context is gone; give the teardown its own bounded one.
			teardownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.OBS.CallTimeout)
			m.controller.Shutdown(teardownCtx)
			cancel()
			slog.Info("Monitor stopped")
			return nil

		case <-ticker.C:
			m.controller.Tick(ctx, m.observer.Poll())

		case <-heartbeat.C:
			status := m.controller.Status()
			slog.Info("Monitor heartbeat",
				"call_state", status.CallState,
				"recorder_connected", status.RecorderConnected,
				"reconciled", status.Reconciled,
				"last_error", status.LastError)
		}
	}
}
