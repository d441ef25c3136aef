package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/callbridge/callcapture/internal/config"
	"github.com/callbridge/callcapture/internal/obs"
)

// CallState is the debounced call state owned by the controller.
type CallState string

const (
	CallIdle   CallState = "idle"
	CallActive CallState = "active"
)

// Reconnect backoff cap. Backoff starts at the poll interval and grows
// fibonacci up to this bound.
const maxRetryDelay = 30 * time.Second

// Recorder is the control-channel surface the controller drives. Implemented
// by *obs.Client; tests substitute a fake.
type Recorder interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Close() error

	SceneItems(ctx context.Context, scene string) ([]obs.SceneItem, error)
	CreateInput(ctx context.Context, scene, name, kind, deviceID string) error
	RemoveInput(ctx context.Context, name string) error
	SetInputEnabled(ctx context.Context, scene, name string, enabled bool) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	RecordingActive(ctx context.Context) (bool, error)
}

// Status is a read-only snapshot for the status endpoint and heartbeat log.
type Status struct {
	CallState         CallState `json:"call_state"`
	RecorderConnected bool      `json:"recorder_connected"`
	Reconciled        bool      `json:"reconciled"`
	LastError         string    `json:"last_error,omitempty"`
	LastTransition    time.Time `json:"last_transition"`
}

// Controller consumes the observer's boolean signal, applies debounce and
// hysteresis, and drives the recorder so that its externally visible state
// always matches the last committed CallState. All mutation happens on the
// polling loop; only the status snapshot is shared.
type Controller struct {
	cfg *config.Config
	rec Recorder
	now func() time.Time

	state   CallState // committed (desired) call state
	applied bool      // recorder known to match state

	// Debounce: candidate state and when it first deviated from state.
	pending      CallState
	pendingSince time.Time
	hasPending   bool

	backoff retry.Backoff
	retryAt time.Time

	lastTransition time.Time
	lastErr        string

	statusMu sync.RWMutex
	status   Status
}

// NewController creates a controller in the Idle state. The recorder is not
// contacted until the first tick needs it.
func NewController(cfg *config.Config, rec Recorder) *Controller {
	c := &Controller{
		cfg:   cfg,
		rec:   rec,
		now:   time.Now,
		state: CallIdle,
		// Idle with nothing applied yet: reconcile on the first tick so a
		// restart mid-call normalizes the recorder instead of trusting it.
		applied: false,
	}
	c.backoff = c.newBackoff()
	return c
}

func (c *Controller) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(maxRetryDelay, retry.NewFibonacci(c.cfg.Monitor.PollInterval))
}

// Tick processes one observer reading. Strictly sequential: debounce first,
// then at most one drive attempt, awaited before the tick returns.
func (c *Controller) Tick(ctx context.Context, observed bool) {
	now := c.now()
	c.debounce(now, observed)

	if !c.applied && !now.Before(c.retryAt) {
		if err := c.drive(ctx, c.state); err != nil {
			c.lastErr = err.Error()
			delay, _ := c.backoff.Next()
			c.retryAt = now.Add(delay)
			slog.Warn("Recorder transition deferred", "call_state", c.state, "retry_in", delay, "error", err)
		} else {
			c.applied = true
			c.lastErr = ""
			c.retryAt = time.Time{}
			c.backoff = c.newBackoff()
		}
	}

	c.publishStatus()
}

// debounce commits a state change once the observed value has persisted for
// the configured window: debounce_window for rising edges, grace_window for
// falling edges. A reading that flips back resets the candidate.
func (c *Controller) debounce(now time.Time, observed bool) {
	target := CallIdle
	if observed {
		target = CallActive
	}

	if target == c.state {
		if c.hasPending {
			slog.Debug("Transient signal discarded", "candidate", c.pending)
			c.hasPending = false
		}
		return
	}

	if !c.hasPending || c.pending != target {
		c.pending = target
		c.pendingSince = now
		c.hasPending = true
		if target == CallActive {
			slog.Info("Call detected, waiting for answer confirmation")
		} else {
			slog.Info("Call signal dropped, waiting for grace window")
		}
	}

	window := c.cfg.Monitor.GraceWindow
	if target == CallActive {
		window = c.cfg.Monitor.DebounceWindow
	}
	if now.Sub(c.pendingSince) < window {
		return
	}

	c.state = target
	c.applied = false
	c.hasPending = false
	c.retryAt = time.Time{}
	c.backoff = c.newBackoff()
	c.lastTransition = now
	if target == CallActive {
		slog.Info("Call answered, engaging recorder")
	} else {
		slog.Info("Call ended, disengaging recorder")
	}
}

// drive is level-triggered: it forces the recorder to match the desired
// state, whether that means performing a fresh transition or reconciling
// after a reconnect. Query-before-act keeps every step idempotent.
func (c *Controller) drive(ctx context.Context, desired CallState) error {
	if !c.rec.IsConnected() {
		if err := c.rec.Connect(ctx); err != nil {
			return fmt.Errorf("recorder unreachable: %w", err)
		}
		slog.Info("Recorder control channel established, reconciling", "call_state", desired)
	}

	if desired == CallActive {
		return c.driveActive(ctx)
	}
	return c.driveIdle(ctx)
}

// driveActive: ensure the mic input exists and is enabled, then start
// recording. The input must be enabled strictly before the record output
// starts, or the output captures nothing from it.
func (c *Controller) driveActive(ctx context.Context) error {
	o := &c.cfg.OBS

	items, err := c.rec.SceneItems(ctx, o.Scene)
	if err != nil {
		return fmt.Errorf("query scene items: %w", err)
	}

	if !hasItem(items, o.InputName) {
		err := c.rec.CreateInput(ctx, o.Scene, o.InputName, o.InputKind, o.DeviceID)
		if err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("create mic input: %w", err)
		}
		if err != nil {
			slog.Debug("Mic input already present", "input", o.InputName)
		}
	}

	if err := c.rec.SetInputEnabled(ctx, o.Scene, o.InputName, true); err != nil {
		return fmt.Errorf("enable mic input: %w", err)
	}

	recording, err := c.rec.RecordingActive(ctx)
	if err != nil {
		return fmt.Errorf("query record status: %w", err)
	}
	if !recording {
		if err := c.rec.StartRecording(ctx); err != nil && !isBenignOutputState(err) {
			return fmt.Errorf("start recording: %w", err)
		}
		slog.Info("Recording started")
	}

	return nil
}

// driveIdle: stop the record output before withdrawing the input that fed
// it, then disable (or remove) the mic input. On a fresh recorder with no
// input and no active output this issues only queries.
func (c *Controller) driveIdle(ctx context.Context) error {
	o := &c.cfg.OBS

	recording, err := c.rec.RecordingActive(ctx)
	if err != nil {
		return fmt.Errorf("query record status: %w", err)
	}
	if recording {
		if err := c.rec.StopRecording(ctx); err != nil && !isBenignOutputState(err) {
			return fmt.Errorf("stop recording: %w", err)
		}
		slog.Info("Recording stopped")
	}

	items, err := c.rec.SceneItems(ctx, o.Scene)
	if err != nil {
		return fmt.Errorf("query scene items: %w", err)
	}
	if !hasItem(items, o.InputName) {
		return nil
	}

	if o.RemoveInput {
		if err := c.rec.RemoveInput(ctx, o.InputName); err != nil && !isNotFound(err) {
			return fmt.Errorf("remove mic input: %w", err)
		}
		return nil
	}
	if err := c.rec.SetInputEnabled(ctx, o.Scene, o.InputName, false); err != nil && !isNotFound(err) {
		return fmt.Errorf("disable mic input: %w", err)
	}
	return nil
}

// Shutdown performs the best-effort teardown on process exit: if a call is
// still active, stop the recording and withdraw the input, then close the
// control channel.
func (c *Controller) Shutdown(ctx context.Context) {
	if c.state == CallActive {
		slog.Info("Shutting down while call active, stopping recording")
		c.state = CallIdle
		c.applied = false
		if err := c.drive(ctx, CallIdle); err != nil {
			slog.Error("Best-effort teardown failed", "error", err)
		}
	}
	if err := c.rec.Close(); err != nil {
		slog.Debug("Recorder close failed", "error", err)
	}
	c.publishStatus()
}

// State returns the committed call state. Loop-goroutine only.
func (c *Controller) State() CallState { return c.state }

// Status returns the latest published snapshot. Safe from any goroutine.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Controller) publishStatus() {
	s := Status{
		CallState:         c.state,
		RecorderConnected: c.rec.IsConnected(),
		Reconciled:        c.applied,
		LastError:         c.lastErr,
		LastTransition:    c.lastTransition,
	}
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

func hasItem(items []obs.SceneItem, name string) bool {
	for _, item := range items {
		if item.Name == name {
			return true
		}
	}
	return false
}

func isAlreadyExists(err error) bool {
	var re *obs.RequestError
	return errors.As(err, &re) && re.AlreadyExists()
}

func isNotFound(err error) bool {
	var re *obs.RequestError
	return errors.As(err, &re) && re.NotFound()
}

func isBenignOutputState(err error) bool {
	var re *obs.RequestError
	return errors.As(err, &re) && re.BenignOutputState()
}
