// Package flag turns classified audio events into audit records and
// participant warnings.
//
// A [Reporter] belongs to one monitoring session. For each event it builds a
// [backend.FlagRequest], hands it to the backend, counts the flag on the
// session and raises a transient warning. Persistence is best-effort: when the
// backend fails the flag is still counted and the participant sees the same
// warning, only the audit record is lost.
package flag

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/proctor/internal/backend"
	"github.com/MrWong99/proctor/internal/detect"
	"github.com/MrWong99/proctor/internal/notice"
	"github.com/MrWong99/proctor/internal/observe"
)

// WarningDuration is how long a flag warning stays visible.
const WarningDuration = 4 * time.Second

// WarningPrefix is prepended to every flag warning.
const WarningPrefix = "⚠️ "

// Counter is the session's flag counter. Increment returns the new count, or
// false when the counter is frozen because the session has stopped.
type Counter interface {
	Increment() (int, bool)
}

// Config holds the collaborators of a [Reporter].
type Config struct {
	QuizID    string
	SessionID string

	Client   backend.Client
	Notifier notice.Notifier
	Counter  Counter

	// Metrics receives flag counters. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// NewID generates flag ids. Default: random UUIDs.
	NewID func() string

	// Now is the clock used for notice timestamps. Default: time.Now.
	Now func() time.Time
}

// Outcome describes what one [Reporter.Report] call did.
type Outcome struct {
	// Flag is the record that was sent to the backend.
	Flag backend.FlagRequest

	// Persisted reports whether the backend acknowledged the flag.
	Persisted bool

	// Backend is the backend's result.
	Backend backend.Result

	// Counted reports whether the session counter accepted the flag. It is
	// false only after the session stopped.
	Counted bool

	// Count is the session's flag count after this flag was counted.
	Count int

	// Notified reports whether a warning was raised.
	Notified bool
}

// Reporter reports flags for one session. Its in-flight tracking is instance
// state; independent reporters never share anything.
type Reporter struct {
	cfg Config
	wg  sync.WaitGroup
}

// NewReporter returns a Reporter. Client, Notifier and Counter are required.
func NewReporter(cfg Config) *Reporter {
	if cfg.Client == nil {
		cfg.Client = backend.Nop{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notice.Multi(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reporter{cfg: cfg}
}

// Report persists, counts and announces ev. It never returns an error:
// backend failures are logged and reflected in the Outcome.
func (r *Reporter) Report(ctx context.Context, ev detect.Event) Outcome {
	f := Build(r.cfg.QuizID, r.cfg.SessionID, r.cfg.NewID(), ev)
	log := observe.Logger(ctx).With(
		"session_id", r.cfg.SessionID,
		"flag_id", f.ID,
		"detection", string(ev.Type),
	)

	res := r.cfg.Client.CreateFlag(ctx, f)
	out := Outcome{Flag: f, Persisted: res.OK, Backend: res}
	status := "persisted"
	if !res.OK {
		status = "local"
		log.Warn("flag not persisted, counted locally", "reason", res.Reason)
	}

	out.Count, out.Counted = r.cfg.Counter.Increment()
	if !out.Counted {
		log.Debug("session stopped before flag completed, dropping warning")
		return out
	}
	r.cfg.Metrics.RecordFlag(ctx, string(ev.Type), status)

	r.cfg.Notifier.Notify(ctx, notice.Notice{
		Level:     notice.LevelWarning,
		Text:      WarningPrefix + Warning(ev.Type),
		SessionID: r.cfg.SessionID,
		Detection: string(ev.Type),
		FlagCount: out.Count,
		Duration:  WarningDuration,
		At:        r.cfg.Now(),
	})
	out.Notified = true
	log.Info("audio flag raised", "flag_count", out.Count, "persisted", out.Persisted)
	return out
}

// Dispatch runs [Reporter.Report] on its own goroutine so the extraction tick
// does not wait for the network. The report keeps running after ctx is
// cancelled; ctx only carries values such as the active span.
func (r *Reporter) Dispatch(ctx context.Context, ev detect.Event) {
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Report(ctx, ev)
	}()
}

// Wait blocks until every dispatched report has finished.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

// Build derives the flag record for ev.
func Build(quizID, sessionID, id string, ev detect.Event) backend.FlagRequest {
	s := ev.Sample
	return backend.FlagRequest{
		ID:          id,
		SessionID:   sessionID,
		QuizID:      quizID,
		FlagType:    "audio_" + string(ev.Type),
		Description: Reason(ev.Type),
		Severity:    backend.SeverityMedium,
		Metadata: backend.FlagMetadata{
			Type:          string(ev.Type),
			VolumeLevel:   int(math.Round(s.Peak)),
			AverageVolume: int(math.Round(s.Average)),
			FrequencyAnalysis: backend.FrequencyAnalysis{
				Low:  int(math.Round(s.Low)),
				Mid:  int(math.Round(s.Mid)),
				High: int(math.Round(s.High)),
			},
		},
		Timestamp: ev.At,
	}
}
