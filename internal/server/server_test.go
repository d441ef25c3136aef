package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/callbridge/callcapture/internal/monitor"
)

type fakeProvider struct {
	status monitor.Status
}

func (f *fakeProvider) Status() monitor.Status { return f.status }

func TestHandleStatus(t *testing.T) {
	transition := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	provider := &fakeProvider{status: monitor.Status{
		CallState:         monitor.CallActive,
		RecorderConnected: true,
		Reconciled:        true,
		LastTransition:    transition,
	}}
	srv := New("127.0.0.1:0", provider)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Expected JSON content type, got %s", got)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.CallState != monitor.CallActive {
		t.Errorf("Expected active call state, got %s", resp.CallState)
	}
	if !resp.RecorderConnected || !resp.Reconciled {
		t.Errorf("Expected connected and reconciled, got %+v", resp)
	}
	if resp.LastTransition == nil || !resp.LastTransition.Equal(transition) {
		t.Errorf("Expected last transition %s, got %v", transition, resp.LastTransition)
	}
}

func TestHandleStatus_OmitsZeroTransition(t *testing.T) {
	provider := &fakeProvider{status: monitor.Status{CallState: monitor.CallIdle}}
	srv := New("127.0.0.1:0", provider)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	var raw map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if _, present := raw["last_transition"]; present {
		t.Error("Expected last_transition to be omitted before any transition")
	}
	if _, present := raw["last_error"]; present {
		t.Error("Expected last_error to be omitted when empty")
	}
}

func TestHandleStatus_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1:0", &fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", rec.Code)
	}
}
