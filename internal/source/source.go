// Package source defines the signal source boundary: device acquisition and
// raw buffer reads for microphone and camera inputs. Concrete device backends
// live outside the agent; the capture pipeline only depends on these contracts.
package source

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable means the device could not be acquired or has gone
// away. It is fatal for the current session attempt and is surfaced to the
// caller rather than silently retried.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// ErrReadMiss means the source had no data ready this tick (paused device,
// not enough buffered frames). It is recoverable: the tick is skipped and no
// stability state advances.
var ErrReadMiss = errors.New("no data available this tick")

// Source acquires a device handle for a capture session.
type Source interface {
	// Acquire opens the underlying device. It blocks for the device
	// handshake and honors ctx cancellation.
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an acquired device that can be read once per tick.
type Handle interface {
	// ReadRaw returns the next raw buffer (an audio chunk or a video
	// frame). It returns ErrReadMiss when no data is ready.
	ReadRaw() ([]byte, error)

	// Release closes the device. It must return only after the device is
	// fully released so a subsequent Acquire cannot race.
	Release() error
}
