// Package malgo provides the local microphone [audio.Device] backed by
// miniaudio through github.com/gen2brain/malgo.
//
// Samples are captured as 32-bit float, downmixed to mono, and delivered on a
// buffered channel. The audio callback never blocks: when the consumer falls
// behind, frames are dropped and counted.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/proctor/pkg/audio"
)

// Device opens microphone streams through miniaudio.
type Device struct{}

// New returns a malgo-backed capture device.
func New() *Device {
	return &Device{}
}

// Open implements [audio.Device]. miniaudio exposes no echo cancellation or
// noise suppression, so the raw-signal request is always honoured.
func (d *Device) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	cfg = cfg.WithDefaults()
	if cfg.EchoCancellation || cfg.NoiseSuppression {
		slog.Warn("malgo: signal processing requested but not supported; capturing raw audio",
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression,
		)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", classify(err))
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	if cfg.DeviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(mctx)
			return nil, fmt.Errorf("malgo: list capture devices: %w", classify(err))
		}
		found := false
		for _, info := range infos {
			if info.Name() == cfg.DeviceName {
				devCfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			freeContext(mctx)
			return nil, fmt.Errorf("malgo: capture device %q not found: %w", cfg.DeviceName, audio.ErrDeviceUnavailable)
		}
	}

	s := newStream(cfg)
	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			s.onData(input, frameCount)
		},
	})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("malgo: init device: %w", classify(err))
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("malgo: start device: %w", classify(err))
	}

	s.release = func() error {
		err := dev.Stop()
		dev.Uninit()
		freeContext(mctx)
		return err
	}
	return s, nil
}

// classify maps a miniaudio error onto the capture error taxonomy.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// stream is the [audio.Stream] returned by [Device.Open].
type stream struct {
	sampleRate int
	channels   int
	frames     chan audio.Frame

	// release stops and frees the native device. Nil in tests.
	release func() error

	mu       sync.Mutex
	stopped  bool
	captured int64 // total mono samples delivered or dropped
	dropped  atomic.Int64
}

func newStream(cfg audio.CaptureConfig) *stream {
	return &stream{
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		frames:     make(chan audio.Frame, cfg.Buffer),
	}
}

// onData runs on the miniaudio callback thread.
func (s *stream) onData(input []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}
	n := int(frameCount) * s.channels * 4
	if n > len(input) {
		n = len(input)
	}
	samples := audio.DownmixFloat(audio.F32LEToFloat(input[:n]), s.channels)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	ts := time.Duration(s.captured) * time.Second / time.Duration(s.sampleRate)
	s.captured += int64(len(samples))
	select {
	case s.frames <- audio.Frame{Samples: samples, SampleRate: s.sampleRate, Timestamp: ts}:
	default:
		s.dropped.Add(1)
	}
}

// Frames implements [audio.Stream].
func (s *stream) Frames() <-chan audio.Frame {
	return s.frames
}

// Stop implements [audio.Stream].
func (s *stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.frames)
	s.mu.Unlock()

	if d := s.dropped.Load(); d > 0 {
		slog.Debug("malgo: frames dropped while consumer was busy", "dropped", d)
	}
	if s.release != nil {
		return s.release()
	}
	return nil
}

var _ audio.Device = (*Device)(nil)
