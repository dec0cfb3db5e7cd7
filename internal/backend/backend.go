// Package backend defines the review backend the monitor reports to and its
// implementations.
//
// Every call is best-effort from the monitor's point of view, so the [Client]
// port returns an explicit [Result] instead of an error: callers inspect
// Result.OK and decide their own fallback. Nothing on this path panics or
// propagates into the session controller.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result is the outcome of one backend call.
type Result struct {
	// OK reports whether the backend acknowledged the call.
	OK bool

	// Reason describes the failure when OK is false.
	Reason string
}

// Succeeded returns a successful Result.
func Succeeded() Result {
	return Result{OK: true}
}

// Failed returns a failed Result with a formatted reason.
func Failed(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// FailedErr returns a failed Result carrying err's message.
func FailedErr(err error) Result {
	return Result{Reason: err.Error()}
}

// String returns "ok" or the failure reason.
func (r Result) String() string {
	if r.OK {
		return "ok"
	}
	return r.Reason
}

// LogValue lets a Result be logged as a single attribute.
func (r Result) LogValue() slog.Value {
	if r.OK {
		return slog.StringValue("ok")
	}
	return slog.GroupValue(slog.Bool("ok", false), slog.String("reason", r.Reason))
}

// SessionRequest opens an audio session.
type SessionRequest struct {
	QuizID       string `json:"quiz_id"`
	StudentID    string `json:"student_id"`
	ConsentGiven bool   `json:"consent_given"`
}

// SessionResult is the outcome of [Client.StartSession]. SessionID is set only
// when Result.OK is true.
type SessionResult struct {
	Result
	SessionID string
}

// EndSessionRequest closes an audio session with its final flag count.
type EndSessionRequest struct {
	SessionID  string `json:"session_id"`
	TotalFlags int    `json:"total_flags"`
}

// Severity is the review priority of a flag.
type Severity string

// SeverityMedium is used for every audio detection.
const SeverityMedium Severity = "medium"

// FrequencyAnalysis is the band breakdown attached to a flag.
type FrequencyAnalysis struct {
	Low  int `json:"low"`
	Mid  int `json:"mid"`
	High int `json:"high"`
}

// FlagMetadata is the feature snapshot that triggered a flag.
type FlagMetadata struct {
	Type              string            `json:"type"`
	VolumeLevel       int               `json:"volume_level"`
	AverageVolume     int               `json:"average_volume"`
	FrequencyAnalysis FrequencyAnalysis `json:"frequency_analysis"`
}

// FlagRequest is one immutable audit record.
type FlagRequest struct {
	// ID is generated by the client and used as idempotency key. It travels
	// out of band (X-Request-ID) and is not part of the JSON body.
	ID string `json:"-"`

	// SessionID links the flag to its audio session. Not part of the JSON
	// body; the REST backend correlates through the quiz and the caller.
	SessionID string `json:"-"`

	QuizID      string       `json:"quiz_id"`
	FlagType    string       `json:"flag_type"`
	Description string       `json:"description"`
	Severity    Severity     `json:"severity"`
	Metadata    FlagMetadata `json:"metadata"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Client is the backend collaborator. Implementations must be safe for
// concurrent use; flag reports run on their own goroutines.
type Client interface {
	StartSession(ctx context.Context, req SessionRequest) SessionResult
	EndSession(ctx context.Context, req EndSessionRequest) Result
	CreateFlag(ctx context.Context, req FlagRequest) Result
}

// Nop is a disabled backend. Every call fails so callers exercise their
// local-only paths.
type Nop struct{}

var _ Client = Nop{}

const nopReason = "backend disabled"

// StartSession always fails.
func (Nop) StartSession(context.Context, SessionRequest) SessionResult {
	return SessionResult{Result: Failed(nopReason)}
}

// EndSession always fails.
func (Nop) EndSession(context.Context, EndSessionRequest) Result {
	return Failed(nopReason)
}

// CreateFlag always fails.
func (Nop) CreateFlag(context.Context, FlagRequest) Result {
	return Failed(nopReason)
}
