package config

import (
	"time"

	"github.com/MrWong99/proctor/internal/detect"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectionChanged is true when thresholds or cooldown changed. New values
	// apply to the next session; a running session keeps its classifier.
	DetectionChanged bool
	NewThresholds    detect.Thresholds
	NewCooldown      time.Duration

	// RestartRequired lists settings that changed but only take effect after
	// a restart (e.g., "backend", "server.listen_addr").
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DetectionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Detection.Thresholds != new.Detection.Thresholds || old.Detection.Cooldown != new.Detection.Cooldown {
		d.DetectionChanged = true
		d.NewThresholds = new.Detection.Thresholds
		d.NewCooldown = new.Detection.Cooldown
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !sameAnalysis(old.Analysis, new.Analysis) {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameAnalysis(a, b AnalysisConfig) bool {
	sa, sb := a.Analyser().Smoothing, b.Analyser().Smoothing
	a.Smoothing, b.Smoothing = nil, nil
	return a == b && sa == sb
}
