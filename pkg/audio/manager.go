package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handle is an acquired microphone stream. The [CaptureManager] that returned
// it owns the stream; holders of a Handle only read frames from it.
type Handle struct {
	stream Stream
	cfg    CaptureConfig

	once    sync.Once
	stopErr error
}

// Frames returns the frame channel of the underlying stream. It returns nil
// for a nil Handle.
func (h *Handle) Frames() <-chan Frame {
	if h == nil || h.stream == nil {
		return nil
	}
	return h.stream.Frames()
}

// Config returns the capture configuration the stream was opened with.
func (h *Handle) Config() CaptureConfig {
	if h == nil {
		return CaptureConfig{}
	}
	return h.cfg
}

// stop stops the stream exactly once.
func (h *Handle) stop() error {
	h.once.Do(func() {
		if h.stream != nil {
			h.stopErr = h.stream.Stop()
		}
	})
	return h.stopErr
}

// CaptureManager acquires microphone streams under explicit consent and owns
// their teardown.
//
// All methods are safe for concurrent use.
type CaptureManager struct {
	device Device
	cfg    CaptureConfig
}

// NewCaptureManager creates a CaptureManager for device. Echo cancellation and
// noise suppression are always disabled because the detector needs the raw
// signal.
func NewCaptureManager(device Device, cfg CaptureConfig) *CaptureManager {
	cfg = cfg.WithDefaults()
	cfg.EchoCancellation = false
	cfg.NoiseSuppression = false
	return &CaptureManager{device: device, cfg: cfg}
}

// Acquire opens a microphone stream. Failures are returned as errors wrapping
// [ErrPermissionDenied] or [ErrDeviceUnavailable]; any other device error is
// reported as [ErrDeviceUnavailable].
func (m *CaptureManager) Acquire(ctx context.Context) (*Handle, error) {
	if m.device == nil {
		return nil, fmt.Errorf("audio: acquire: no capture device configured: %w", ErrDeviceUnavailable)
	}
	stream, err := m.device.Open(ctx, m.cfg)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return nil, fmt.Errorf("audio: acquire: %w", err)
		}
		return nil, fmt.Errorf("audio: acquire: %w: %v", ErrDeviceUnavailable, err)
	}
	if stream == nil {
		return nil, fmt.Errorf("audio: acquire: device returned no stream: %w", ErrDeviceUnavailable)
	}
	slog.Debug("microphone stream acquired",
		"sample_rate", m.cfg.SampleRate,
		"channels", m.cfg.Channels,
		"device", m.cfg.DeviceName,
	)
	return &Handle{stream: stream, cfg: m.cfg}, nil
}

// Release stops every track of h. It is idempotent and accepts a nil Handle,
// so callers may release unconditionally on any teardown path.
func (m *CaptureManager) Release(h *Handle) {
	if h == nil {
		return
	}
	if err := h.stop(); err != nil {
		slog.Warn("microphone stream stop failed", "err", err)
	}
}
