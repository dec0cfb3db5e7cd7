package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/proctor/internal/config"
	"github.com/MrWong99/proctor/internal/detect"
	"github.com/MrWong99/proctor/internal/feature"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
backend:
  kind: http
  base_url: "https://exam.example.com/api"
  token: "file-token"
  timeout: 3s
  breaker:
    max_failures: 2
    reset_timeout: 15s
capture:
  device: "USB Mic"
  sample_rate: 48000
analysis:
  fft_size: 1024
  smoothing: 0
  interval: 250ms
  bands:
    low: 20
    mid: 40
    high: 60
detection:
  thresholds:
    sudden_spike: 110
    voice_floor: 55
    voice_floor_high: 65
    voice_floor_low: 45
    noise_floor: 75
  cooldown: 5s
telemetry:
  service_name: proctor-test
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backend.Kind != config.BackendHTTP || cfg.Backend.Timeout != 3*time.Second {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.Breaker.MaxFailures != 2 || cfg.Backend.Breaker.ResetTimeout != 15*time.Second {
		t.Errorf("breaker = %+v", cfg.Backend.Breaker)
	}
	if cfg.Capture.Device != "USB Mic" || cfg.Capture.SampleRate != 48000 || cfg.Capture.Buffer != 64 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Analysis.Interval != 250*time.Millisecond {
		t.Errorf("interval = %s", cfg.Analysis.Interval)
	}
	if cfg.Analysis.Bands != (feature.Bands{Low: 20, Mid: 40, High: 60}) {
		t.Errorf("bands = %+v", cfg.Analysis.Bands)
	}
	an := cfg.Analysis.Analyser()
	if an.FFTSize != 1024 || an.Smoothing != 0 || an.MinDecibels != -100 || an.MaxDecibels != -30 {
		t.Errorf("analyser = %+v", an)
	}
	want := detect.Thresholds{SuddenSpike: 110, VoiceFloor: 55, VoiceFloorHigh: 65, VoiceFloorLow: 45, NoiseFloor: 75}
	if cfg.Detection.Thresholds != want {
		t.Errorf("thresholds = %+v, want %+v", cfg.Detection.Thresholds, want)
	}
	if cfg.Detection.Cooldown != 5*time.Second {
		t.Errorf("cooldown = %s", cfg.Detection.Cooldown)
	}
	if cfg.Telemetry.ServiceName != "proctor-test" {
		t.Errorf("service name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Backend.Kind != config.BackendNone {
		t.Errorf("backend kind = %q, want none", cfg.Backend.Kind)
	}
	if cfg.Backend.Timeout != 10*time.Second {
		t.Errorf("timeout = %s", cfg.Backend.Timeout)
	}
	if cfg.Capture.SampleRate != 44100 {
		t.Errorf("sample rate = %d", cfg.Capture.SampleRate)
	}
	an := cfg.Analysis.Analyser()
	if an.FFTSize != 2048 || an.Smoothing != 0.8 {
		t.Errorf("analyser = %+v", an)
	}
	if cfg.Analysis.Interval != 500*time.Millisecond || cfg.Analysis.Bands != feature.DefaultBands {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Detection.Thresholds != detect.DefaultThresholds || cfg.Detection.Cooldown != 10*time.Second {
		t.Errorf("detection = %+v", cfg.Detection)
	}
	if cfg.Telemetry.ServiceName != "proctor" {
		t.Errorf("service name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestApplyDefaults_InfersBackendKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   config.BackendConfig
		want config.BackendKind
	}{
		{"base url", config.BackendConfig{BaseURL: "http://localhost"}, config.BackendHTTP},
		{"dsn", config.BackendConfig{PostgresDSN: "postgres://x"}, config.BackendPostgres},
		{"nothing", config.BackendConfig{}, config.BackendNone},
		{"explicit wins", config.BackendConfig{Kind: config.BackendNone, BaseURL: "http://localhost"}, config.BackendNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Backend: tt.in}
			config.ApplyDefaults(cfg)
			if cfg.Backend.Kind != tt.want {
				t.Errorf("kind = %q, want %q", cfg.Backend.Kind, tt.want)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestRegistry_CreateBackend(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	client, closeFn, err := r.CreateBackend(t.Context(), config.BackendConfig{Kind: config.BackendNone})
	if err != nil {
		t.Fatalf("CreateBackend(none): %v", err)
	}
	if client == nil || closeFn == nil {
		t.Fatal("expected client and close func")
	}
	closeFn()

	_, _, err = r.CreateBackend(t.Context(), config.BackendConfig{Kind: config.BackendHTTP})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
}
