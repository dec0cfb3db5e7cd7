package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/proctor/internal/backend"
	"github.com/MrWong99/proctor/internal/detect"
	"github.com/MrWong99/proctor/internal/feature"
	"github.com/MrWong99/proctor/internal/flag"
	"github.com/MrWong99/proctor/internal/notice"
	"github.com/MrWong99/proctor/internal/observe"
	"github.com/MrWong99/proctor/pkg/audio"
)

// Notice texts raised by the controller.
const (
	TextStarted         = "🎤 Audio monitoring started"
	TextMicrophone      = "Microphone access required for exam"
	TextConsentRequired = "Audio monitoring consent required for exam"
	TextStopped         = "Audio monitoring stopped"
)

// localPrefix marks session ids that were never acknowledged by the backend.
const localPrefix = "local-session-"

// LocalID returns the fallback session id for a session created at t.
func LocalID(t time.Time) string {
	return fmt.Sprintf("%s%d", localPrefix, t.UnixMilli())
}

// IsLocalID reports whether id is a fallback id from [LocalID].
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}

// Host is the UI hosting the monitor. It receives notices and learns when the
// participant declined or lost microphone access.
type Host interface {
	notice.Notifier
	ConsentDeclined()
}

// Capture acquires and releases microphone streams. Release must stop the
// stream so that its frame channel closes. [*audio.CaptureManager] implements
// it.
type Capture interface {
	Acquire(ctx context.Context) (*audio.Handle, error)
	Release(h *audio.Handle)
}

// Config holds the collaborators and tuning of a [Controller].
type Config struct {
	QuizID    string
	StudentID string

	Capture Capture
	Backend backend.Client
	Host    Host

	Analyser   feature.AnalyserConfig
	Bands      feature.Bands
	Interval   time.Duration
	Thresholds detect.Thresholds
	Cooldown   time.Duration

	// Metrics receives pipeline counters. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now is the clock for session timestamps. Default: time.Now.
	Now func() time.Time
}

// Info is a snapshot of the audio session.
type Info struct {
	ID        string
	QuizID    string
	StudentID string
	Consent   bool
	Local     bool
	CreatedAt time.Time
	EndedAt   time.Time
	FlagCount int
}

// pipeline is everything that runs while the controller is monitoring.
type pipeline struct {
	handle   *audio.Handle
	task     *feature.Task
	cancel   context.CancelFunc
	pumpDone chan struct{}
	reporter *flag.Reporter
	counter  *counter
}

// Controller is the session lifecycle state machine. All methods are safe for
// concurrent use.
type Controller struct {
	cfg Config

	mu            sync.Mutex
	state         State
	info          Info
	pipe          *pipeline
	counter       *counter
	stopRequested bool
	reporters     []*flag.Reporter
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.QuizID == "" {
		errs = append(errs, errors.New("quiz id is required"))
	}
	if cfg.StudentID == "" {
		errs = append(errs, errors.New("student id is required"))
	}
	if cfg.Capture == nil {
		errs = append(errs, errors.New("capture is required"))
	}
	if cfg.Host == nil {
		errs = append(errs, errors.New("host is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: new: %w", err)
	}

	if cfg.Backend == nil {
		cfg.Backend = backend.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = feature.DefaultInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = detect.DefaultCooldown
	}
	if cfg.Thresholds == (detect.Thresholds{}) {
		cfg.Thresholds = detect.DefaultThresholds
	}
	if cfg.Bands == (feature.Bands{}) {
		cfg.Bands = feature.DefaultBands
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("session: new: thresholds: %w", err)
	}
	return &Controller{cfg: cfg, state: StateIdle}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the current session. The zero Info is
// returned before the first consent.
func (c *Controller) Session() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	if c.counter != nil {
		info.FlagCount = c.counter.value()
	}
	return info
}

// FlagCount returns the number of flags raised in the current session.
func (c *Controller) FlagCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counter == nil {
		return 0
	}
	return c.counter.value()
}

// SetDetection replaces the thresholds and cooldown used by sessions started
// after the call. A running session keeps its settings.
func (c *Controller) SetDetection(t detect.Thresholds, cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Thresholds = t
	if cooldown > 0 {
		c.cfg.Cooldown = cooldown
	}
}

// Mount attaches the controller to an exam view. When active it requests
// consent (Idle or Stopped → ConsentPending). A declined participant cannot
// be asked again.
func (c *Controller) Mount(active bool) error {
	if !active {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle, StateStopped:
		c.state = StateConsentPending
		return nil
	case StateConsentPending, StateAcquiring, StateMonitoring:
		return nil
	default:
		return fmt.Errorf("session: mount in state %s: %w", c.state, ErrInvalidState)
	}
}

// SetActive follows the exam's active flag: activating mounts, deactivating
// stops.
func (c *Controller) SetActive(ctx context.Context, active bool) error {
	if active {
		return c.Mount(true)
	}
	return c.Stop(ctx)
}

// Decline records that the participant refused audio monitoring.
func (c *Controller) Decline(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConsentPending {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: decline in state %s: %w", st, ErrInvalidState)
	}
	c.state = StateDeclined
	c.mu.Unlock()

	observe.Logger(ctx).Info("audio monitoring declined",
		"quiz_id", c.cfg.QuizID,
		"student_id", c.cfg.StudentID,
	)
	c.cfg.Host.ConsentDeclined()
	c.notify(ctx, notice.LevelError, TextConsentRequired, "")
	return nil
}

// Accept records consent, opens the backend session and starts monitoring.
// A backend failure falls back to a local session id. A capture failure ends
// in Stopped, tells the host, and closes any backend session opened for the
// attempt; its error wraps [audio.ErrPermissionDenied] or
// [audio.ErrDeviceUnavailable].
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConsentPending {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: accept in state %s: %w", st, ErrInvalidState)
	}
	c.state = StateAcquiring
	c.stopRequested = false
	cfg := c.cfg
	c.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "session.accept")
	defer span.End()
	log := observe.Logger(ctx).With("quiz_id", cfg.QuizID, "student_id", cfg.StudentID)

	created := cfg.Now()
	info := Info{
		QuizID:    cfg.QuizID,
		StudentID: cfg.StudentID,
		Consent:   true,
		CreatedAt: created,
	}
	res := cfg.Backend.StartSession(ctx, backend.SessionRequest{
		QuizID:       cfg.QuizID,
		StudentID:    cfg.StudentID,
		ConsentGiven: true,
	})
	if res.OK && res.SessionID != "" {
		info.ID = res.SessionID
	} else {
		info.ID = LocalID(created)
		info.Local = true
		log.Warn("backend session unavailable, monitoring locally", "session_id", info.ID, "reason", res.Reason)
	}
	log = log.With("session_id", info.ID)

	h, err := cfg.Capture.Acquire(ctx)

	c.mu.Lock()
	c.info = info
	c.counter = &counter{}
	switch {
	case err != nil:
		c.state = StateStopped
		c.info.EndedAt = cfg.Now()
		c.counter.freeze()
		c.mu.Unlock()

		log.Error("microphone unavailable", "err", err)
		c.notify(ctx, notice.LevelError, TextMicrophone, info.ID)
		cfg.Host.ConsentDeclined()
		c.endBackend(ctx, info, 0)
		return fmt.Errorf("session: accept: %w", err)

	case c.stopRequested:
		c.state = StateStopped
		c.info.EndedAt = cfg.Now()
		c.counter.freeze()
		c.mu.Unlock()

		cfg.Capture.Release(h)
		log.Info("stop requested during acquisition")
		c.endBackend(ctx, info, 0)
		c.notify(ctx, notice.LevelSuccess, TextStopped, info.ID)
		return ErrStoppedDuringAcquire
	}

	c.pipe = c.startPipeline(ctx, cfg, info, h, c.counter)
	c.reporters = append(c.reporters, c.pipe.reporter)
	c.state = StateMonitoring
	c.mu.Unlock()

	cfg.Metrics.ActiveSessions.Add(ctx, 1)
	log.Info("audio monitoring started", "local", info.Local)
	c.notify(ctx, notice.LevelInfo, TextStarted, info.ID)
	return nil
}

// Stop ends monitoring: it freezes the flag counter, stops the extraction
// task and the stream pump, releases the microphone, and closes the backend
// session with the final count. Stop is idempotent. A stop during Acquiring
// is applied as soon as the acquisition returns.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateMonitoring:
	case StateAcquiring:
		c.stopRequested = true
		c.mu.Unlock()
		return nil
	case StateConsentPending:
		c.state = StateStopped
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return nil
	}

	p := c.pipe
	c.pipe = nil
	final := p.counter.freeze()
	p.task.Stop()
	p.cancel()
	<-p.pumpDone
	c.cfg.Capture.Release(p.handle)
	audio.Drain(p.handle.Frames())
	c.state = StateStopped
	c.info.EndedAt = c.cfg.Now()
	c.info.FlagCount = final
	info := c.info
	c.mu.Unlock()

	c.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).Info("audio monitoring stopped",
		"session_id", info.ID,
		"flag_count", final,
	)
	c.endBackend(ctx, info, final)
	c.notify(ctx, notice.LevelSuccess, TextStopped, info.ID)
	return nil
}

// Close stops the session and waits for in-flight flag reports.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.mu.Lock()
	reporters := c.reporters
	c.reporters = nil
	c.mu.Unlock()
	for _, r := range reporters {
		r.Wait()
	}
	return err
}

// startPipeline installs the analyser pump and the extraction task. Must be
// called with c.mu held. The pipeline outlives ctx; only Stop ends it.
func (c *Controller) startPipeline(ctx context.Context, cfg Config, info Info, h *audio.Handle, cnt *counter) *pipeline {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	an := feature.NewAnalyser(cfg.Analyser)
	cls := detect.NewClassifier(cfg.Thresholds, detect.WithCooldown(cfg.Cooldown))
	rep := flag.NewReporter(flag.Config{
		QuizID:    cfg.QuizID,
		SessionID: info.ID,
		Client:    cfg.Backend,
		Notifier:  cfg.Host,
		Counter:   cnt,
		Metrics:   cfg.Metrics,
	})

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		an.Feed(pctx, h.Frames())
	}()

	bins := make([]byte, an.FrequencyBinCount())
	task := feature.Every(pctx, cfg.Interval, func(now time.Time) {
		an.ByteFrequencyData(bins)
		s := feature.Extract(bins, cfg.Bands, now)
		cfg.Metrics.RecordTick(pctx)

		ev, d := cls.Classify(s)
		switch d {
		case detect.DecisionEmitted:
			cfg.Metrics.RecordDetection(pctx, string(ev.Type))
			rep.Dispatch(pctx, ev)
		case detect.DecisionSuppressed:
			cfg.Metrics.RecordSuppressed(pctx, string(ev.Type))
		}
	})

	return &pipeline{
		handle:   h,
		task:     task,
		cancel:   cancel,
		pumpDone: pumpDone,
		reporter: rep,
		counter:  cnt,
	}
}

// endBackend closes a server session best-effort. Local ids are skipped.
func (c *Controller) endBackend(ctx context.Context, info Info, flags int) {
	if info.Local || IsLocalID(info.ID) {
		return
	}
	res := c.cfg.Backend.EndSession(ctx, backend.EndSessionRequest{
		SessionID:  info.ID,
		TotalFlags: flags,
	})
	if !res.OK {
		observe.Logger(ctx).Warn("backend session close failed",
			"session_id", info.ID,
			"reason", res.Reason,
		)
	}
}

func (c *Controller) notify(ctx context.Context, level notice.Level, text, sessionID string) {
	c.cfg.Host.Notify(ctx, notice.Notice{
		Level:     level,
		Text:      text,
		SessionID: sessionID,
		At:        c.cfg.Now(),
	})
}
