package detect

import (
	"testing"
	"time"

	"github.com/MrWong99/proctor/internal/feature"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration, s feature.Sample) feature.Sample {
	s.At = t0.Add(offset)
	return s
}

func TestClassify_SuddenNoiseImmediately(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultThresholds)
	ev, d := c.Classify(at(0, feature.Sample{Peak: 150, Average: 40, Low: 10, Mid: 10, High: 10}))
	if d != DecisionEmitted {
		t.Fatalf("decision = %v, want emitted", d)
	}
	if ev.Type != SuddenNoise {
		t.Errorf("type = %q, want %q", ev.Type, SuddenNoise)
	}
	if !ev.At.Equal(t0) {
		t.Errorf("At = %v, want %v", ev.At, t0)
	}
	if ev.Sample.Peak != 150 {
		t.Errorf("event sample peak = %v, want 150", ev.Sample.Peak)
	}
}

func TestClassify_RepeatedSpikeWithinCooldown(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultThresholds)
	spike := feature.Sample{Peak: 150, Average: 40, Low: 10, Mid: 10, High: 10}

	var emitted, suppressed int
	for off := time.Duration(0); off <= 9*time.Second; off += 500 * time.Millisecond {
		_, d := c.Classify(at(off, spike))
		switch d {
		case DecisionEmitted:
			emitted++
			if off != 0 {
				t.Errorf("unexpected emission at %v", off)
			}
		case DecisionSuppressed:
			suppressed++
		}
	}
	if emitted != 1 {
		t.Errorf("emitted = %d, want 1", emitted)
	}
	if suppressed != 18 {
		t.Errorf("suppressed = %d, want 18", suppressed)
	}

	if _, d := c.Classify(at(10*time.Second, spike)); d != DecisionEmitted {
		t.Errorf("decision at cooldown boundary = %v, want emitted", d)
	}
}

func TestClassify_VoiceBandsBeatBackground(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultThresholds)
	ev, d := c.Classify(at(0, feature.Sample{Low: 70, Mid: 65, High: 10, Peak: 50, Average: 30}))
	if d != DecisionEmitted || ev.Type != MultipleVoices {
		t.Errorf("got (%q, %v), want (%q, emitted)", ev.Type, d, MultipleVoices)
	}
}

func TestClassify_Priority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		sample feature.Sample
		want   Type
		match  bool
	}{
		{
			name:   "spike and voices",
			sample: feature.Sample{Peak: 130, Low: 90, Mid: 90, High: 90, Average: 90},
			want:   SuddenNoise,
			match:  true,
		},
		{
			name:   "voices via high band",
			sample: feature.Sample{Peak: 100, Low: 20, Mid: 75, High: 55, Average: 85},
			want:   MultipleVoices,
			match:  true,
		},
		{
			name:   "background only",
			sample: feature.Sample{Peak: 110, Low: 50, Mid: 50, High: 40, Average: 81},
			want:   BackgroundNoise,
			match:  true,
		},
		{
			name:   "thresholds are strict",
			sample: feature.Sample{Peak: 120, Low: 60, Mid: 70, High: 50, Average: 80},
			match:  false,
		},
		{
			name:   "quiet room",
			sample: feature.Sample{Peak: 30, Low: 10, Mid: 5, High: 2, Average: 4},
			match:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Evaluate(Rules(DefaultThresholds), tt.sample)
			if ok != tt.match {
				t.Fatalf("match = %v, want %v", ok, tt.match)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify_NoMatchLeavesCooldownUntouched(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultThresholds, WithCooldown(time.Second))
	quiet := feature.Sample{Peak: 10}
	loud := feature.Sample{Peak: 200}

	if _, d := c.Classify(at(0, quiet)); d != DecisionNone {
		t.Fatalf("quiet decision = %v, want none", d)
	}
	if _, d := c.Classify(at(100*time.Millisecond, loud)); d != DecisionEmitted {
		t.Fatalf("loud decision = %v, want emitted", d)
	}
	if _, d := c.Classify(at(600*time.Millisecond, loud)); d != DecisionSuppressed {
		t.Fatalf("second loud decision = %v, want suppressed", d)
	}
	// A suppressed match does not extend the window.
	if _, d := c.Classify(at(1100*time.Millisecond, loud)); d != DecisionEmitted {
		t.Fatalf("decision after window = %v, want emitted", d)
	}
}

func TestClassify_CooldownInvariant(t *testing.T) {
	t.Parallel()
	const cooldown = 10 * time.Second
	c := NewClassifier(DefaultThresholds)

	// Alternate between every rule so every tick matches something.
	samples := []feature.Sample{
		{Peak: 200},
		{Low: 90, Mid: 90},
		{Average: 100},
	}
	var times []time.Time
	for i := range 200 {
		s := at(time.Duration(i)*500*time.Millisecond, samples[i%len(samples)])
		if ev, d := c.Classify(s); d == DecisionEmitted {
			times = append(times, ev.At)
		}
	}
	if len(times) != 10 {
		t.Errorf("emitted %d events over 100s, want 10", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < cooldown {
			t.Errorf("events %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestClassify_Reset(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultThresholds)
	loud := feature.Sample{Peak: 200}
	c.Classify(at(0, loud))
	c.Reset()
	if _, d := c.Classify(at(time.Second, loud)); d != DecisionEmitted {
		t.Errorf("decision after reset = %v, want emitted", d)
	}
}

func TestThresholds_Validate(t *testing.T) {
	t.Parallel()
	if err := DefaultThresholds.Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}
	bad := DefaultThresholds
	bad.SuddenSpike = 300
	bad.NoiseFloor = -1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDecision_String(t *testing.T) {
	t.Parallel()
	for d, want := range map[Decision]string{
		DecisionNone:       "none",
		DecisionEmitted:    "emitted",
		DecisionSuppressed: "suppressed",
		Decision(42):       "unknown",
	} {
		if got := d.String(); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", int(d), got, want)
		}
	}
}
