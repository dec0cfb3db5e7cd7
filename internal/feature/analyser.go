// Package feature turns a live microphone stream into compact per-tick
// feature vectors.
//
// An [Analyser] keeps the most recent window of samples and, on demand,
// produces byte-scaled frequency magnitudes the way a browser analyser node
// does: Blackman window, FFT, exponential smoothing over time, decibel
// conversion, and linear mapping of a decibel range onto 0–255. [Extract]
// reduces one such bin array to a [Sample], and [Every] drives the extraction
// on a fixed cadence through an explicit, cancellable [Task].
package feature

import (
	"context"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/proctor/pkg/audio"
)

// AnalyserConfig holds the frequency-analysis parameters.
type AnalyserConfig struct {
	// FFTSize is the transform size. Must be a power of two; the analyser
	// produces FFTSize/2 bins. Default: 2048.
	FFTSize int

	// Smoothing is the time-averaging constant in [0, 1). Default: 0.8.
	Smoothing float64

	// MinDecibels maps to byte value 0. Default: -100.
	MinDecibels float64

	// MaxDecibels maps to byte value 255. Default: -30.
	MaxDecibels float64
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
// A zero Smoothing is kept only when FFTSize is also set, so callers can
// explicitly disable smoothing.
func (c AnalyserConfig) WithDefaults() AnalyserConfig {
	if c.FFTSize <= 0 {
		c.FFTSize = 2048
		if c.Smoothing == 0 {
			c.Smoothing = 0.8
		}
	}
	if c.MinDecibels == 0 && c.MaxDecibels == 0 {
		c.MinDecibels = -100
		c.MaxDecibels = -30
	}
	return c
}

// Analyser is a frequency analysis node over a sliding sample window.
// Write and ByteFrequencyData may be called from different goroutines.
type Analyser struct {
	cfg    AnalyserConfig
	fft    *fourier.FFT
	window []float64

	mu     sync.Mutex
	ring   []float64
	pos    int
	smooth []float64
	seq    []float64
	coeffs []complex128
}

// NewAnalyser creates an Analyser. cfg.FFTSize must be a power of two of at
// least 32; invalid sizes are rounded up to the next power of two.
func NewAnalyser(cfg AnalyserConfig) *Analyser {
	cfg = cfg.WithDefaults()
	n := nextPow2(max(cfg.FFTSize, 32))
	cfg.FFTSize = n
	return &Analyser{
		cfg:    cfg,
		fft:    fourier.NewFFT(n),
		window: blackman(n),
		ring:   make([]float64, n),
		smooth: make([]float64, n/2),
		seq:    make([]float64, n),
		coeffs: make([]complex128, n/2+1),
	}
}

// FrequencyBinCount returns the number of bins produced per read (FFTSize/2).
func (a *Analyser) FrequencyBinCount() int {
	return a.cfg.FFTSize / 2
}

// Config returns the effective configuration.
func (a *Analyser) Config() AnalyserConfig {
	return a.cfg
}

// Write appends samples to the analysis window, overwriting the oldest ones.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.ring)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % n
	}
}

// Feed writes every frame received on frames into the window until frames is
// closed or ctx is cancelled.
func (a *Analyser) Feed(ctx context.Context, frames <-chan audio.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			a.Write(f.Samples)
		}
	}
}

// ByteFrequencyData computes the current smoothed spectrum and writes it into
// dst as bytes. If dst is shorter than [Analyser.FrequencyBinCount] the extra
// bins are discarded; a longer dst is only partially written.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	for i := range n {
		a.seq[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	tau := a.cfg.Smoothing
	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	bins := min(len(a.smooth), len(dst))
	for k := range len(a.smooth) {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		v := tau*a.smooth[k] + (1-tau)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smooth[k] = v
		if k >= bins {
			continue
		}
		db := 20 * math.Log10(v)
		b := math.Floor(scale * (db - a.cfg.MinDecibels))
		switch {
		case math.IsNaN(b) || b < 0:
			b = 0
		case b > 255:
			b = 255
		}
		dst[k] = byte(b)
	}
}

// blackman returns the Blackman window of length n (alpha = 0.16).
func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range n {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
