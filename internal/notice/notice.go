// Package notice defines the user-facing messages the monitor surfaces to its
// host and the port through which they are delivered.
package notice

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Level is the severity of a notice as the host should render it.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a transient, dismissible message for the exam participant and any
// attached live dashboards.
type Notice struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`

	// SessionID identifies the audio session the notice belongs to.
	SessionID string `json:"session_id,omitempty"`

	// Detection is the detection type for warning notices raised by a flag.
	Detection string `json:"detection,omitempty"`

	// FlagCount is the session's flag counter after the flag was counted.
	FlagCount int `json:"flag_count,omitempty"`

	// Duration is how long the host should show the notice. Zero means the
	// host default. On the wire it is duration_ms.
	Duration time.Duration `json:"-"`

	At time.Time `json:"at"`
}

// wireNotice is the JSON shape of a [Notice].
type wireNotice struct {
	noticeFields
	DurationMS int64 `json:"duration_ms,omitempty"`
}

type noticeFields Notice

// MarshalJSON encodes Duration as whole milliseconds.
func (n Notice) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireNotice{noticeFields: noticeFields(n), DurationMS: n.Duration.Milliseconds()})
}

// UnmarshalJSON decodes the form written by [Notice.MarshalJSON].
func (n *Notice) UnmarshalJSON(data []byte) error {
	var w wireNotice
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = Notice(w.noticeFields)
	n.Duration = time.Duration(w.DurationMS) * time.Millisecond
	return nil
}

// Notifier receives notices. Implementations must not block for long; the
// monitor calls Notify from its extraction and reporting paths.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts an ordinary function to the [Notifier] interface.
type Func func(ctx context.Context, n Notice)

// Notify calls f(ctx, n).
func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Multi fans a notice out to every notifier in order. Nil entries are skipped.
type Multi []Notifier

// Notify delivers n to every notifier in m.
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, to := range m {
		if to != nil {
			to.Notify(ctx, n)
		}
	}
}

// Recorder is a [Notifier] that keeps every notice it receives. It is useful
// for hosts that poll and for tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records n.
func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
