// Package sensor models the optional PIR motion sensor as a capability
// resolved at startup: either a readable digital input line or an explicit
// "unavailable" variant. Callers branch on Available instead of handling
// hardware probe errors at every read site.
package sensor

import "github.com/fbirkner/nestcam/internal/log"

// Line is one digital input line. A high read is a motion event.
type Line interface {
	// Available reports whether the underlying hardware interface exists.
	Available() bool
	// Read samples the line. Only meaningful when Available is true.
	Read() (bool, error)
	// Close releases the line.
	Close() error
}

// Open resolves the capability for a GPIO pin. When the hardware interface
// is missing (non-Linux host, no GPIO controller, permission denied) an
// unavailable line is returned and the caller degrades to a no-op.
func Open(pin int) Line {
	line, err := open(pin)
	if err != nil {
		logger := log.WithComponent("sensor")
		logger.Warn().
			Err(err).
			Int("pin", pin).
			Msg("motion sensor hardware unavailable")
		return unavailableLine{}
	}
	return line
}

type unavailableLine struct{}

func (unavailableLine) Available() bool      { return false }
func (unavailableLine) Read() (bool, error)  { return false, nil }
func (unavailableLine) Close() error         { return nil }
