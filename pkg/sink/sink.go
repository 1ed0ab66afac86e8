// Package sink provides hardware signal sinks for pkg/servo: an in-memory
// recorder, Linux sysfs PWM, and Feetech serial bus servos.
package sink

import (
	"errors"

	"github.com/gwillem/servosweep/pkg/servo"
)

// ErrUnsupported is returned when a backend is not available on this
// platform.
var ErrUnsupported = errors.New("sink backend unsupported on this platform")

// Device is a servo.Sink that owns an underlying resource.
type Device interface {
	servo.Sink
	// Close releases all channels and the underlying resource.
	Close() error
}
