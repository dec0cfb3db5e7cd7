package audio

import "time"

// Frame is a block of captured microphone samples. Devices deliver mono
// float32 samples in the range [-1, 1]; devices that capture interleaved or
// integer PCM convert with [PCM16ToFloat] and [DownmixFloat] before sending.
type Frame struct {
	// Samples holds the mono sample values.
	Samples []float32

	// SampleRate in Hz (e.g., 44100).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// CaptureConfig describes the microphone stream requested from a [Device].
type CaptureConfig struct {
	// SampleRate is the requested rate in Hz. Default: 44100.
	SampleRate int

	// Channels is the requested channel count. Frames are always delivered
	// as mono regardless of the capture channel count. Default: 1.
	Channels int

	// EchoCancellation enables platform echo cancellation. Anomaly detection
	// needs the raw signal, so the monitor always requests false.
	EchoCancellation bool

	// NoiseSuppression enables platform noise suppression. Always false for
	// the monitor for the same reason as EchoCancellation.
	NoiseSuppression bool

	// DeviceName selects a capture device by name. Empty means the system
	// default input.
	DeviceName string

	// Buffer is the capacity of the frame channel. Default: 64.
	Buffer int
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c CaptureConfig) WithDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	return c
}
