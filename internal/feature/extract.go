package feature

import "time"

// Bands sets how many consecutive bins make up each energy band. The bands are
// laid out low → mid → high from bin 0 without overlap.
type Bands struct {
	Low  int `yaml:"low"`
	Mid  int `yaml:"mid"`
	High int `yaml:"high"`
}

// DefaultBands is the 50/100/150 bin split.
var DefaultBands = Bands{Low: 50, Mid: 100, High: 150}

// Total returns the number of bins covered by all three bands.
func (b Bands) Total() int {
	return b.Low + b.Mid + b.High
}

// Sample is one tick's summary of microphone energy. Values are in the 0–255
// byte scale of the analyser output.
type Sample struct {
	Average float64   `json:"average"`
	Peak    float64   `json:"peak"`
	Low     float64   `json:"low"`
	Mid     float64   `json:"mid"`
	High    float64   `json:"high"`
	At      time.Time `json:"timestamp"`
}

// Extract derives a [Sample] from one frequency-bin array. It is stateless and
// linear in len(bins). Bands that extend past the end of bins average only the
// bins that exist; a band with no bins is zero.
func Extract(bins []byte, bands Bands, at time.Time) Sample {
	s := Sample{At: at}
	if len(bins) == 0 {
		return s
	}
	var sum int
	var peak byte
	for _, v := range bins {
		sum += int(v)
		if v > peak {
			peak = v
		}
	}
	s.Average = float64(sum) / float64(len(bins))
	s.Peak = float64(peak)

	start := 0
	s.Low, start = bandMean(bins, start, bands.Low)
	s.Mid, start = bandMean(bins, start, bands.Mid)
	s.High, _ = bandMean(bins, start, bands.High)
	return s
}

// bandMean averages bins[start:start+width] clipped to len(bins) and returns
// the mean and the start of the next band.
func bandMean(bins []byte, start, width int) (float64, int) {
	end := start + max(width, 0)
	lo, hi := min(start, len(bins)), min(end, len(bins))
	if hi <= lo {
		return 0, end
	}
	var sum int
	for _, v := range bins[lo:hi] {
		sum += int(v)
	}
	return float64(sum) / float64(hi-lo), end
}
