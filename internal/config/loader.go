package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/proctor/internal/detect"
	"github.com/MrWong99/proctor/internal/feature"
)

// Environment variables that override secrets from the file.
const (
	EnvBackendToken = "PROCTOR_BACKEND_TOKEN"
	EnvPostgresDSN  = "PROCTOR_POSTGRES_DSN"
)

const defaultBackendTimeout = 10 * time.Second

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// defaults. Keys omitted from a partial thresholds or bands block keep
// their default values.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{
		Analysis:  AnalysisConfig{Bands: feature.DefaultBands},
		Detection: DetectionConfig{Thresholds: detect.DefaultThresholds},
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. With no
// arguments it reads ".env". Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv copies secrets from the environment into cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvBackendToken); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Backend.PostgresDSN = v
	}
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Backend.Kind == "" {
		switch {
		case cfg.Backend.BaseURL != "":
			cfg.Backend.Kind = BackendHTTP
		case cfg.Backend.PostgresDSN != "":
			cfg.Backend.Kind = BackendPostgres
		default:
			cfg.Backend.Kind = BackendNone
		}
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = defaultBackendTimeout
	}

	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = 44100
	}
	if cfg.Capture.Buffer <= 0 {
		cfg.Capture.Buffer = 64
	}

	if cfg.Analysis.FFTSize <= 0 {
		cfg.Analysis.FFTSize = 2048
	}
	if cfg.Analysis.MinDecibels == 0 && cfg.Analysis.MaxDecibels == 0 {
		cfg.Analysis.MinDecibels = -100
		cfg.Analysis.MaxDecibels = -30
	}
	if cfg.Analysis.Interval <= 0 {
		cfg.Analysis.Interval = feature.DefaultInterval
	}
	if cfg.Analysis.Bands == (feature.Bands{}) {
		cfg.Analysis.Bands = feature.DefaultBands
	}

	if cfg.Detection.Thresholds == (detect.Thresholds{}) {
		cfg.Detection.Thresholds = detect.DefaultThresholds
	}
	if cfg.Detection.Cooldown <= 0 {
		cfg.Detection.Cooldown = detect.DefaultCooldown
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "proctor"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Backend
	switch cfg.Backend.Kind {
	case BackendHTTP:
		if cfg.Backend.BaseURL == "" {
			errs = append(errs, errors.New("backend.base_url is required when kind is http"))
		} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.base_url %q must be an absolute http or https URL", cfg.Backend.BaseURL))
		}
		if cfg.Backend.Token == "" {
			slog.Warn("backend.token is empty; requests will be sent without authorization")
		}
	case BackendPostgres:
		if cfg.Backend.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("backend.postgres_dsn (or %s) is required when kind is postgres", EnvPostgresDSN))
		}
	case BackendNone, "":
	default:
		errs = append(errs, fmt.Errorf("backend.kind %q is invalid; valid values: http, postgres, none", cfg.Backend.Kind))
	}
	if cfg.Backend.Breaker.MaxFailures < 0 || cfg.Backend.Breaker.HalfOpenMax < 0 || cfg.Backend.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("backend.breaker values must not be negative"))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}

	// Analysis
	a := cfg.Analysis
	if a.FFTSize != 0 && (a.FFTSize < 32 || a.FFTSize&(a.FFTSize-1) != 0) {
		errs = append(errs, fmt.Errorf("analysis.fft_size %d must be a power of two >= 32", a.FFTSize))
	}
	if a.Smoothing != nil && (*a.Smoothing < 0 || *a.Smoothing >= 1) {
		errs = append(errs, fmt.Errorf("analysis.smoothing %.2f is out of range [0, 1)", *a.Smoothing))
	}
	if a.MinDecibels >= a.MaxDecibels && (a.MinDecibels != 0 || a.MaxDecibels != 0) {
		errs = append(errs, fmt.Errorf("analysis.min_decibels %.1f must be below max_decibels %.1f", a.MinDecibels, a.MaxDecibels))
	}
	if a.Bands.Low <= 0 || a.Bands.Mid <= 0 || a.Bands.High <= 0 {
		errs = append(errs, fmt.Errorf("analysis.bands widths %+v must all be positive", a.Bands))
	}
	if a.FFTSize > 0 && a.Bands.Total() > a.FFTSize/2 {
		slog.Warn("analysis.bands cover more bins than the analyser produces; upper bands will be truncated",
			"bins", a.FFTSize/2,
			"bands", a.Bands.Total(),
		)
	}

	// Detection
	if err := cfg.Detection.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detection.thresholds: %w", err))
	}
	if cfg.Detection.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("detection.cooldown %s must not be negative", cfg.Detection.Cooldown))
	}

	return errors.Join(errs...)
}
