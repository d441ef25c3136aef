package audio

import (
	"log/slog"
	"strings"
)

// Observer reduces the OS session list to a single boolean: is one of the
// target processes capturing audio right now.
type Observer struct {
	source  Source
	targets map[string]struct{}
}

// NewObserver creates an observer watching the given process names
// (case-insensitive).
func NewObserver(source Source, processNames []string) *Observer {
	targets := make(map[string]struct{}, len(processNames))
	for _, name := range processNames {
		targets[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return &Observer{source: source, targets: targets}
}

// Poll returns true iff at least one session owned by a target process is in
// the active-capture state. Enumeration failures are logged and reported as
// false; the caller retries unconditionally on the next cycle.
func (o *Observer) Poll() bool {
	sessions, err := o.source.Sessions()
	if err != nil {
		slog.Warn("Audio session enumeration failed, treating as inactive", "error", err)
		return false
	}

	for _, s := range sessions {
		if s.Direction != DirectionCapture || !s.Active {
			continue
		}
		if _, ok := o.targets[strings.ToLower(s.Process)]; ok {
			return true
		}
	}
	return false
}
