package audio

// Direction is the data flow of an audio session.
type Direction string

const (
	DirectionCapture Direction = "capture"
	DirectionRender  Direction = "render"
)

// Session is a snapshot of one OS audio session. Sessions are re-enumerated
// every poll cycle; no identity is kept across polls.
type Session struct {
	// Process is the executable name of the session owner, e.g. "sipgate.exe".
	Process   string
	Direction Direction
	Active    bool
}

// Source enumerates the audio sessions currently exposed by the OS.
type Source interface {
	// Sessions returns a snapshot of current sessions. Sessions appearing or
	// disappearing between calls is normal and not an error.
	Sessions() ([]Session, error)

	Close() error
}
