//go:build windows

package audio

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/mitchellh/go-ps"
	"github.com/moutend/go-wca/pkg/wca"
)

// AudioSessionState as defined by the WASAPI session API. Expired sessions
// report 2; only state 1 means the process is capturing right now.
const audioSessionStateActive uint32 = 1

// WASAPISource enumerates capture sessions on every active capture endpoint.
// It is not safe for concurrent use and must stay on the OS thread that
// created it (COM single-threaded apartment).
type WASAPISource struct {
	enumerator *wca.IMMDeviceEnumerator
}

// NewSystemSource initializes COM and the device enumerator.
func NewSystemSource() (Source, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		return nil, fmt.Errorf("failed to initialize COM: %w", err)
	}

	var enumerator *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &enumerator); err != nil {
		ole.CoUninitialize()
		return nil, fmt.Errorf("failed to create device enumerator: %w", err)
	}

	return &WASAPISource{enumerator: enumerator}, nil
}

// Sessions walks all active capture endpoints and their audio sessions.
// Per-session failures (process exited, access denied, system sounds session
// with no single owning process) are skipped, not errors.
func (s *WASAPISource) Sessions() ([]Session, error) {
	var collection *wca.IMMDeviceCollection
	if err := s.enumerator.EnumAudioEndpoints(wca.ECapture, wca.DEVICE_STATE_ACTIVE, &collection); err != nil {
		return nil, fmt.Errorf("failed to enumerate capture endpoints: %w", err)
	}
	defer collection.Release()

	var deviceCount uint32
	if err := collection.GetCount(&deviceCount); err != nil {
		return nil, fmt.Errorf("failed to count capture endpoints: %w", err)
	}

	var sessions []Session
	for i := uint32(0); i < deviceCount; i++ {
		var endpoint *wca.IMMDevice
		if err := collection.Item(i, &endpoint); err != nil {
			slog.Debug("Skipping capture endpoint", "index", i, "error", err)
			continue
		}

		deviceSessions, err := s.endpointSessions(endpoint)
		endpoint.Release()
		if err != nil {
			// Device may have been unplugged mid-enumeration.
			slog.Debug("Skipping capture endpoint sessions", "index", i, "error", err)
			continue
		}
		sessions = append(sessions, deviceSessions...)
	}

	return sessions, nil
}

func (s *WASAPISource) endpointSessions(endpoint *wca.IMMDevice) ([]Session, error) {
	var manager *wca.IAudioSessionManager2
	if err := endpoint.Activate(wca.IID_IAudioSessionManager2, wca.CLSCTX_ALL, nil, &manager); err != nil {
		return nil, fmt.Errorf("failed to activate session manager: %w", err)
	}
	defer manager.Release()

	var enumerator *wca.IAudioSessionEnumerator
	if err := manager.GetSessionEnumerator(&enumerator); err != nil {
		return nil, fmt.Errorf("failed to get session enumerator: %w", err)
	}
	defer enumerator.Release()

	var count int
	if err := enumerator.GetCount(&count); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	var sessions []Session
	for i := 0; i < count; i++ {
		var control *wca.IAudioSessionControl
		if err := enumerator.GetSession(i, &control); err != nil {
			slog.Debug("Skipping session", "index", i, "error", err)
			continue
		}

		session, ok := s.describeSession(control)
		control.Release()
		if ok {
			sessions = append(sessions, session)
		}
	}

	return sessions, nil
}

func (s *WASAPISource) describeSession(control *wca.IAudioSessionControl) (Session, bool) {
	var state uint32
	if err := control.GetState(&state); err != nil {
		return Session{}, false
	}

	dispatch, err := control.QueryInterface(wca.IID_IAudioSessionControl2)
	if err != nil {
		return Session{}, false
	}
	control2 := (*wca.IAudioSessionControl2)(unsafe.Pointer(dispatch))
	defer control2.Release()

	var pid uint32
	if err := control2.GetProcessId(&pid); err != nil {
		// The system sounds session has no single owning process.
		return Session{}, false
	}

	proc, err := ps.FindProcess(int(pid))
	if err != nil || proc == nil {
		// Process exited between enumeration and lookup.
		return Session{}, false
	}

	return Session{
		Process:   proc.Executable(),
		Direction: DirectionCapture,
		Active:    state == audioSessionStateActive,
	}, true
}

// Close releases the enumerator and tears down COM.
func (s *WASAPISource) Close() error {
	if s.enumerator != nil {
		s.enumerator.Release()
		s.enumerator = nil
	}
	ole.CoUninitialize()
	return nil
}
