// Package detect classifies feature samples into audio anomaly events.
//
// Classification evaluates an ordered list of [Rule]s against each
// [feature.Sample]; the first rule that matches wins. A [Classifier] adds a
// cooldown on top so that at most one [Event] is emitted per cooldown window,
// no matter how many ticks match inside it.
package detect

import (
	"errors"
	"fmt"

	"github.com/MrWong99/proctor/internal/feature"
)

// Type is the kind of audio anomaly that was detected.
type Type string

const (
	// SuddenNoise is a short loud spike such as a bang or a shout.
	SuddenNoise Type = "sudden_noise"

	// MultipleVoices is sustained energy in the speech bands.
	MultipleVoices Type = "multiple_voices"

	// BackgroundNoise is a high average level across the whole spectrum.
	BackgroundNoise Type = "background_noise"
)

// Thresholds are the byte-scale (0–255) decision levels of the built-in rules.
type Thresholds struct {
	// SuddenSpike is the peak level above which a tick counts as a sudden noise.
	SuddenSpike float64 `yaml:"sudden_spike"`

	// VoiceFloor must be exceeded by both the low and the mid band.
	VoiceFloor float64 `yaml:"voice_floor"`

	// VoiceFloorHigh and VoiceFloorLow form the alternative voice test:
	// mid above VoiceFloorHigh and high above VoiceFloorLow.
	VoiceFloorHigh float64 `yaml:"voice_floor_high"`
	VoiceFloorLow  float64 `yaml:"voice_floor_low"`

	// NoiseFloor is the average level above which a tick counts as
	// background noise.
	NoiseFloor float64 `yaml:"noise_floor"`
}

// DefaultThresholds are the production decision levels.
var DefaultThresholds = Thresholds{
	SuddenSpike:    120,
	VoiceFloor:     60,
	VoiceFloorHigh: 70,
	VoiceFloorLow:  50,
	NoiseFloor:     80,
}

// Validate reports every threshold outside the 0–255 byte range.
func (t Thresholds) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if v < 0 || v > 255 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 255], got %v", name, v))
		}
	}
	check("sudden_spike", t.SuddenSpike)
	check("voice_floor", t.VoiceFloor)
	check("voice_floor_high", t.VoiceFloorHigh)
	check("voice_floor_low", t.VoiceFloorLow)
	check("noise_floor", t.NoiseFloor)
	return errors.Join(errs...)
}

// Rule pairs a detection type with the predicate that triggers it.
type Rule struct {
	Type  Type
	Match func(feature.Sample) bool
}

// Rules returns the built-in rules in priority order: sudden noise, then
// multiple voices, then background noise.
func Rules(t Thresholds) []Rule {
	return []Rule{
		{
			Type: SuddenNoise,
			Match: func(s feature.Sample) bool {
				return s.Peak > t.SuddenSpike
			},
		},
		{
			Type: MultipleVoices,
			Match: func(s feature.Sample) bool {
				return (s.Low > t.VoiceFloor && s.Mid > t.VoiceFloor) ||
					(s.Mid > t.VoiceFloorHigh && s.High > t.VoiceFloorLow)
			},
		},
		{
			Type: BackgroundNoise,
			Match: func(s feature.Sample) bool {
				return s.Average > t.NoiseFloor
			},
		},
	}
}

// Evaluate returns the type of the first rule in rules that matches s.
func Evaluate(rules []Rule, s feature.Sample) (Type, bool) {
	for _, r := range rules {
		if r.Match(s) {
			return r.Type, true
		}
	}
	return "", false
}
