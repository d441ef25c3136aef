//go:build !windows

package audio

import "fmt"

// NewSystemSource requires the WASAPI session API.
func NewSystemSource() (Source, error) {
	return nil, fmt.Errorf("audio session monitoring is only supported on Windows")
}
