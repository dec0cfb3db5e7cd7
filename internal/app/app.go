// Package app wires the proctor subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithCapture, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/proctor/internal/backend"
	"github.com/MrWong99/proctor/internal/config"
	"github.com/MrWong99/proctor/internal/health"
	"github.com/MrWong99/proctor/internal/live"
	"github.com/MrWong99/proctor/internal/notice"
	"github.com/MrWong99/proctor/internal/observe"
	"github.com/MrWong99/proctor/internal/resilience"
	"github.com/MrWong99/proctor/internal/session"
	"github.com/MrWong99/proctor/pkg/audio"
	"github.com/MrWong99/proctor/pkg/audio/malgo"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 10 * time.Second

// Identity names the exam attempt being monitored.
type Identity struct {
	QuizID    string
	StudentID string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	id       Identity
	host     session.Host
	registry *config.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	backend  backend.Client
	capture  session.Capture
	hub      *live.Hub
	ctrl     *session.Controller
	metrics  *observe.Metrics
	metricsH http.Handler
	level    *slog.LevelVar
	checkers []health.Checker
	router   chi.Router

	// closers are called in reverse order during Shutdown.
	closers []func()

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a backend client instead of creating one from config.
func WithBackend(c backend.Client) Option {
	return func(a *App) { a.backend = c }
}

// WithCapture injects the microphone instead of opening the system default.
func WithCapture(c session.Capture) Option {
	return func(a *App) { a.capture = c }
}

// WithRegistry sets the registry used to build the backend from config.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. host is the UI that
// receives notices and decline callbacks; the live feed receives the same
// notices.
func New(ctx context.Context, cfg *config.Config, id Identity, host session.Host, opts ...Option) (*App, error) {
	if host == nil {
		return nil, errors.New("app: host is required")
	}
	a := &App{cfg: cfg, id: id, host: host}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
	}

	// ── 1. Backend ───────────────────────────────────────────────────────
	if err := a.initBackend(ctx); err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	// ── 2. Microphone ────────────────────────────────────────────────────
	if a.capture == nil {
		a.capture = audio.NewCaptureManager(malgo.New(), audio.CaptureConfig{
			SampleRate: cfg.Capture.SampleRate,
			Buffer:     cfg.Capture.Buffer,
			DeviceName: cfg.Capture.Device,
		})
	}

	// ── 3. Live feed ─────────────────────────────────────────────────────
	a.hub = live.NewHub(live.Config{})
	a.closers = append(a.closers, a.hub.Close)

	// ── 4. Session controller ────────────────────────────────────────────
	ctrl, err := session.New(session.Config{
		QuizID:     id.QuizID,
		StudentID:  id.StudentID,
		Capture:    a.capture,
		Backend:    a.backend,
		Host:       fanout{host: host, notify: notice.Multi{host, a.hub}},
		Analyser:   cfg.Analysis.Analyser(),
		Bands:      cfg.Analysis.Bands,
		Interval:   cfg.Analysis.Interval,
		Thresholds: cfg.Detection.Thresholds,
		Cooldown:   cfg.Detection.Cooldown,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.ctrl = ctrl

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.router = a.buildRouter()

	slog.Info("app initialised",
		"quiz_id", id.QuizID,
		"student_id", id.StudentID,
		"backend", cfg.Backend.Kind,
		"interval", cfg.Analysis.Interval,
		"cooldown", cfg.Detection.Cooldown,
	)
	return a, nil
}

// initBackend builds the backend client and derives readiness checks from
// the capabilities it exposes.
func (a *App) initBackend(ctx context.Context) error {
	if a.backend == nil {
		client, closeFn, err := a.registry.CreateBackend(ctx, a.cfg.Backend)
		if err != nil {
			return err
		}
		a.backend = client
		a.closers = append(a.closers, closeFn)
	}

	if b, ok := a.backend.(interface {
		Breaker() *resilience.CircuitBreaker
	}); ok {
		a.checkers = append(a.checkers, health.Breaker("backend", b.Breaker()))
	}
	if p, ok := a.backend.(interface {
		Ping(ctx context.Context) error
	}); ok {
		a.checkers = append(a.checkers, health.Checker{Name: "database", Check: p.Ping})
	}
	return nil
}

func (a *App) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(observe.Middleware(a.metrics))

	health.New(a.checkers...).Register(r)
	if a.metricsH != nil {
		r.Handle("/metrics", a.metricsH)
	}
	r.Handle("/live", a.hub)
	r.Get("/session", a.serveSession)
	return r
}

// sessionView is the JSON shape of GET /session.
type sessionView struct {
	State     string     `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	QuizID    string     `json:"quiz_id"`
	StudentID string     `json:"student_id"`
	Local     bool       `json:"local"`
	FlagCount int        `json:"flag_count"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (a *App) serveSession(w http.ResponseWriter, _ *http.Request) {
	info := a.ctrl.Session()
	v := sessionView{
		State:     a.ctrl.State().String(),
		SessionID: info.ID,
		QuizID:    a.id.QuizID,
		StudentID: a.id.StudentID,
		Local:     info.Local,
		FlagCount: info.FlagCount,
	}
	if !info.CreatedAt.IsZero() {
		v.CreatedAt = &info.CreatedAt
	}
	if !info.EndedAt.IsZero() {
		v.EndedAt = &info.EndedAt
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller {
	return a.ctrl
}

// Handler returns the HTTP surface: health, metrics, live feed and session
// snapshot.
func (a *App) Handler() http.Handler {
	return a.router
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address until ctx is cancelled.
// Without a listen address it just waits for ctx.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// Reload applies the hot-reloadable parts of a new config. Detection changes
// take effect for the next session.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DetectionChanged {
		a.ctrl.SetDetection(d.NewThresholds, d.NewCooldown)
		slog.Info("detection settings updated for the next session",
			"cooldown", d.NewCooldown,
			"sudden_spike", d.NewThresholds.SuddenSpike,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session, waits for in-flight flags, and releases every
// subsystem. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if cerr := a.ctrl.Close(ctx); cerr != nil {
			err = fmt.Errorf("app: close session: %w", cerr)
		}
		a.close()
	})
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout delivers controller notices to the host and the live feed, and
// forwards decline callbacks to the host only.
type fanout struct {
	host   session.Host
	notify notice.Multi
}

func (f fanout) Notify(ctx context.Context, n notice.Notice) {
	f.notify.Notify(ctx, n)
}

func (f fanout) ConsentDeclined() {
	f.host.ConsentDeclined()
}
