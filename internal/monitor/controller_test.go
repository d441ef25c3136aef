package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/callbridge/callcapture/internal/config"
	"github.com/callbridge/callcapture/internal/obs"
)

// fakeRecorder implements Recorder with in-memory state and an ordered call
// trace so tests can assert counts and ordering.
type fakeRecorder struct {
	connected  bool
	connectErr error

	recording    bool
	inputExists  bool
	inputEnabled bool

	// sceneItemsEmptyOnce makes the next SceneItems call return an empty
	// list even though the input exists (stale view of the scene).
	sceneItemsEmptyOnce bool

	calls []string
}

func (f *fakeRecorder) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeRecorder) IsConnected() bool { return f.connected }

func (f *fakeRecorder) Connect(ctx context.Context) error {
	f.record("Connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeRecorder) Close() error {
	f.record("Close")
	f.connected = false
	return nil
}

func (f *fakeRecorder) SceneItems(ctx context.Context, scene string) ([]obs.SceneItem, error) {
	f.record("SceneItems")
	if f.sceneItemsEmptyOnce {
		f.sceneItemsEmptyOnce = false
		return nil, nil
	}
	if !f.inputExists {
		return nil, nil
	}
	return []obs.SceneItem{{ID: 1, Name: "Dynamic Mic", Enabled: f.inputEnabled}}, nil
}

func (f *fakeRecorder) CreateInput(ctx context.Context, scene, name, kind, deviceID string) error {
	f.record("CreateInput")
	if f.inputExists {
		return &obs.RequestError{RequestType: "CreateInput", Code: 601, Comment: "already exists"}
	}
	f.inputExists = true
	f.inputEnabled = true
	return nil
}

func (f *fakeRecorder) RemoveInput(ctx context.Context, name string) error {
	f.record("RemoveInput")
	if !f.inputExists {
		return &obs.RequestError{RequestType: "RemoveInput", Code: 600, Comment: "no such input"}
	}
	f.inputExists = false
	f.inputEnabled = false
	return nil
}

func (f *fakeRecorder) SetInputEnabled(ctx context.Context, scene, name string, enabled bool) error {
	f.record(fmt.Sprintf("SetInputEnabled(%t)", enabled))
	if !f.inputExists {
		return &obs.RequestError{RequestType: "SetSceneItemEnabled", Code: 600, Comment: "no such scene item"}
	}
	f.inputEnabled = enabled
	return nil
}

func (f *fakeRecorder) StartRecording(ctx context.Context) error {
	f.record("StartRecord")
	f.recording = true
	return nil
}

func (f *fakeRecorder) StopRecording(ctx context.Context) error {
	f.record("StopRecord")
	f.recording = false
	return nil
}

func (f *fakeRecorder) RecordingActive(ctx context.Context) (bool, error) {
	f.record("RecordStatus")
	return f.recording, nil
}

func (f *fakeRecorder) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRecorder) firstIndex(call string) int {
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Monitor.PollInterval = 1 * time.Second
	cfg.Monitor.DebounceWindow = 2 * time.Second
	cfg.Monitor.GraceWindow = 2 * time.Second
	return cfg
}

func newTestController(cfg *config.Config) (*Controller, *fakeRecorder, *fakeClock) {
	rec := &fakeRecorder{}
	ctrl := NewController(cfg, rec)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	ctrl.now = clk.now
	return ctrl, rec, clk
}

// feed advances the clock one poll interval per reading and ticks the
// controller, simulating the loop cadence deterministically.
func feed(ctrl *Controller, clk *fakeClock, readings ...bool) {
	for _, r := range readings {
		clk.advance(1 * time.Second)
		ctrl.Tick(context.Background(), r)
	}
}

func TestScenario_SingleCall(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	// Debounce and grace are both 2 ticks at a 1s poll interval.
	feed(ctrl, clk, false, false, true, true, true, false, false, false, false)

	if got := rec.count("StartRecord"); got != 1 {
		t.Errorf("Expected exactly one StartRecord, got %d (calls: %v)", got, rec.calls)
	}
	if got := rec.count("StopRecord"); got != 1 {
		t.Errorf("Expected exactly one StopRecord, got %d (calls: %v)", got, rec.calls)
	}
	if ctrl.State() != CallIdle {
		t.Errorf("Expected final state idle, got %s", ctrl.State())
	}
}

func TestScenario_OrderingInvariants(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	feed(ctrl, clk, true, true, true, false, false, false)

	enable := rec.firstIndex("SetInputEnabled(true)")
	start := rec.firstIndex("StartRecord")
	if enable == -1 || start == -1 || enable >= start {
		t.Errorf("Expected SetInputEnabled(true) strictly before StartRecord, calls: %v", rec.calls)
	}

	stop := rec.firstIndex("StopRecord")
	disable := rec.firstIndex("SetInputEnabled(false)")
	if stop == -1 || disable == -1 || stop >= disable {
		t.Errorf("Expected StopRecord strictly before SetInputEnabled(false), calls: %v", rec.calls)
	}
}

func TestDebounce_IsolatedBlipNeverStarts(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	// A single true shorter than the debounce window, surrounded by false.
	feed(ctrl, clk, false, true, false, false, false, false)

	if got := rec.count("StartRecord"); got != 0 {
		t.Errorf("Expected no StartRecord for transient blip, got %d", got)
	}
	if ctrl.State() != CallIdle {
		t.Errorf("Expected state to remain idle, got %s", ctrl.State())
	}
}

func TestDebounce_NoDuplicateStartWithinCall(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	readings := make([]bool, 20)
	for i := range readings {
		readings[i] = true
	}
	feed(ctrl, clk, readings...)

	if got := rec.count("StartRecord"); got != 1 {
		t.Errorf("Expected exactly one StartRecord over a long active interval, got %d", got)
	}
}

func TestGrace_BriefGapDoesNotSplitRecording(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	// Hold/mute gap of one tick, shorter than the grace window.
	feed(ctrl, clk, true, true, true, false, true, true, true)

	if got := rec.count("StartRecord"); got != 1 {
		t.Errorf("Expected one StartRecord across a brief gap, got %d", got)
	}
	if got := rec.count("StopRecord"); got != 0 {
		t.Errorf("Expected no StopRecord across a brief gap, got %d", got)
	}
	if ctrl.State() != CallActive {
		t.Errorf("Expected state to remain active, got %s", ctrl.State())
	}
}

func TestReconcile_ReconnectWhileRecording(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	feed(ctrl, clk, true, true, true)
	if got := rec.count("StartRecord"); got != 1 {
		t.Fatalf("Expected call to be recording, StartRecord count %d", got)
	}

	// Control channel drops mid-call; next failed attempt would mark the
	// transition unapplied.
	rec.connected = false
	ctrl.applied = false

	feed(ctrl, clk, true)

	if rec.count("Connect") < 2 {
		t.Errorf("Expected a reconnect, connects: %d", rec.count("Connect"))
	}
	if got := rec.count("StartRecord"); got != 1 {
		t.Errorf("Reconciliation must not issue another StartRecord, got %d", got)
	}
	if !rec.recording {
		t.Error("Expected recorder to still be recording after reconcile")
	}
}

func TestReconcile_MissedCallIssuesNoStrayCalls(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())
	rec.connectErr = fmt.Errorf("connection refused")

	// A full call passes while the recorder is unreachable.
	feed(ctrl, clk, true, true, true, false, false, false)

	if rec.count("StartRecord") != 0 || rec.count("StopRecord") != 0 {
		t.Fatalf("Unreachable recorder must receive no record calls, calls: %v", rec.calls)
	}

	// Recorder comes back. Desired state is idle and the recorder is fresh:
	// reconciliation must only query.
	rec.connectErr = nil
	feed(ctrl, clk, false, false, false, false, false)

	if !rec.connected {
		t.Fatal("Expected reconnect to succeed")
	}
	if got := rec.count("StartRecord"); got != 0 {
		t.Errorf("Expected no stray StartRecord after reconnect, got %d", got)
	}
	if got := rec.count("StopRecord"); got != 0 {
		t.Errorf("Expected no stray StopRecord after reconnect, got %d", got)
	}
}

func TestCreateInput_AlreadyExistsIsNotFatal(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	// The input exists but the scene listing misses it once, so the
	// controller tries to create it and gets an already-exists rejection.
	// Startup reconciliation is skipped so the stale listing hits the
	// Idle->Active transition.
	ctrl.applied = true
	rec.connected = true
	rec.inputExists = true
	rec.inputEnabled = false
	rec.sceneItemsEmptyOnce = true

	feed(ctrl, clk, true, true, true)

	if got := rec.count("CreateInput"); got != 1 {
		t.Fatalf("Expected one CreateInput attempt, got %d (calls: %v)", got, rec.calls)
	}
	if got := rec.count("SetInputEnabled(true)"); got < 1 {
		t.Errorf("Expected controller to proceed to SetInputEnabled(true), calls: %v", rec.calls)
	}
	if got := rec.count("StartRecord"); got != 1 {
		t.Errorf("Expected recording to start despite the rejection, got %d starts", got)
	}
}

func TestDeferredTransition_RetriesUntilReachable(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())
	rec.connectErr = fmt.Errorf("connection refused")

	feed(ctrl, clk, true, true, true, true)
	if ctrl.State() != CallActive {
		t.Fatalf("Expected call state to be retained while unreachable, got %s", ctrl.State())
	}
	if rec.count("StartRecord") != 0 {
		t.Fatal("No StartRecord should reach an unreachable recorder")
	}

	rec.connectErr = nil
	// Keep ticking; the bounded backoff schedules a retry within a few
	// poll intervals.
	for i := 0; i < 10 && rec.count("StartRecord") == 0; i++ {
		feed(ctrl, clk, true)
	}

	if got := rec.count("StartRecord"); got != 1 {
		t.Errorf("Expected exactly one StartRecord once reachable, got %d", got)
	}
	if !rec.recording {
		t.Error("Expected recorder to be recording")
	}
}

func TestStartupReconcile_StaleRecordingStopped(t *testing.T) {
	// A previous process crashed mid-call: the recorder is still recording
	// with the input enabled, but the new controller starts idle.
	ctrl, rec, clk := newTestController(testConfig())
	rec.recording = true
	rec.inputExists = true
	rec.inputEnabled = true

	feed(ctrl, clk, false)

	if got := rec.count("StopRecord"); got != 1 {
		t.Errorf("Expected startup reconciliation to stop the stale recording, got %d stops", got)
	}
	if rec.inputEnabled {
		t.Error("Expected the mic input to be disabled after reconciliation")
	}
}

func TestDriveIdle_RemoveInputMode(t *testing.T) {
	cfg := testConfig()
	cfg.OBS.RemoveInput = true
	ctrl, rec, clk := newTestController(cfg)

	feed(ctrl, clk, true, true, true, false, false, false)

	if got := rec.count("RemoveInput"); got != 1 {
		t.Errorf("Expected input to be removed on call end, got %d removals", got)
	}
	if got := rec.count("SetInputEnabled(false)"); got != 0 {
		t.Errorf("Remove mode must not also disable, got %d disables", got)
	}
	stop := rec.firstIndex("StopRecord")
	remove := rec.firstIndex("RemoveInput")
	if stop == -1 || remove == -1 || stop >= remove {
		t.Errorf("Expected StopRecord strictly before RemoveInput, calls: %v", rec.calls)
	}
	if rec.inputExists {
		t.Error("Expected input to be gone")
	}
}

func TestShutdown_TearsDownActiveCall(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())

	feed(ctrl, clk, true, true, true)
	if !rec.recording {
		t.Fatal("Expected recording to be active before shutdown")
	}

	ctrl.Shutdown(context.Background())

	if rec.recording {
		t.Error("Expected shutdown to stop the recording")
	}
	if rec.inputEnabled {
		t.Error("Expected shutdown to disable the mic input")
	}
	if rec.count("Close") != 1 {
		t.Errorf("Expected the control channel to be closed, calls: %v", rec.calls)
	}
}

func TestStatus_ReflectsOutage(t *testing.T) {
	ctrl, rec, clk := newTestController(testConfig())
	rec.connectErr = fmt.Errorf("connection refused")

	feed(ctrl, clk, true, true, true)

	status := ctrl.Status()
	if status.CallState != CallActive {
		t.Errorf("Expected active call state in status, got %s", status.CallState)
	}
	if status.RecorderConnected {
		t.Error("Expected recorder_connected=false during outage")
	}
	if status.Reconciled {
		t.Error("Expected reconciled=false during outage")
	}
	if status.LastError == "" {
		t.Error("Expected last error to be populated during outage")
	}
}
