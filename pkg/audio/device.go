// Package audio defines the microphone capture port and the [CaptureManager]
// that owns a monitoring session's stream.
//
// The two primary abstractions are:
//
//   - [Device]: opens a raw microphone [Stream] for a [CaptureConfig].
//   - [CaptureManager]: acquires a stream on behalf of the session controller
//     and guarantees that releasing it is idempotent.
//
// Device implementations live in sub-packages (audio/malgo for the local
// microphone, audio/mock for tests).
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned when the user or the operating system
// refuses microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrDeviceUnavailable is returned when no usable capture device exists or the
// device fails to start.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Stream is a live microphone stream.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the channel that delivers captured frames. The channel
	// is closed after Stop returns.
	Frames() <-chan Frame

	// Stop stops every underlying track and releases the device. Calling
	// Stop more than once is safe; subsequent calls return nil.
	Stop() error
}

// Device opens microphone streams. Turning on the hardware microphone
// indicator is an expected side effect of Open.
type Device interface {
	// Open starts capturing with cfg. It returns an error wrapping
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] on failure.
	Open(ctx context.Context, cfg CaptureConfig) (Stream, error)
}
