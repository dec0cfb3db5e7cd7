// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(8)
//	dev := &mock.Device{OpenResult: stream}
//	mgr := audio.NewCaptureManager(dev, audio.CaptureConfig{})
//	h, err := mgr.Acquire(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/proctor/pkg/audio"
)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests push frames with
// [Stream.Push]; Stop closes the frame channel on its first call.
type Stream struct {
	mu     sync.Mutex
	frames chan audio.Frame
	closed bool

	// StopError is returned by [Stream.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// TracksStopped records how many times the underlying tracks were
	// actually stopped. It never exceeds one.
	TracksStopped int
}

// NewStream creates a Stream whose frame channel has the given capacity.
func NewStream(buffer int) *Stream {
	return &Stream{frames: make(chan audio.Frame, buffer)}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(chan audio.Frame)
	}
	return s.frames
}

// Push delivers f to readers of Frames. It reports false when the stream has
// already been stopped or the buffer is full.
func (s *Stream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.frames == nil {
		s.frames = make(chan audio.Frame)
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// Stop implements [audio.Stream]. Returns StopError.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.closed {
		s.closed = true
		s.TracksStopped++
		if s.frames != nil {
			close(s.frames)
		}
	}
	return s.StopError
}

// Stopped reports whether Stop has been called at least once.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ──────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// Config is the capture configuration passed to Open.
	Config audio.CaptureConfig
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by [Device.Open] when OpenError is nil.
	OpenResult audio.Stream

	// OpenError is returned by [Device.Open].
	OpenError error

	// OpenHook, when set, runs at the start of Open without the lock held.
	// Tests use it to hold an acquisition open.
	OpenHook func(ctx context.Context)

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	d.mu.Lock()
	hook := d.OpenHook
	d.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Config: cfg})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

// Calls returns a copy of the recorded Open calls.
func (d *Device) Calls() []OpenCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OpenCall, len(d.OpenCalls))
	copy(out, d.OpenCalls)
	return out
}

var (
	_ audio.Stream = (*Stream)(nil)
	_ audio.Device = (*Device)(nil)
)
