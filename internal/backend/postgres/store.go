// Package postgres is a [backend.Client] that writes audio sessions and flags
// straight into the review database.
//
// It is meant for deployments where the monitor runs next to the review
// service and shares its PostgreSQL instance. The schema is created by
// [Migrate], which [NewStore] runs on startup.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/proctor/internal/backend"
)

var _ backend.Client = (*Store)(nil)

// Store is a PostgreSQL-backed [backend.Client]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore connects to dsn, verifies the connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres backend: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres backend: migrate: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// StartSession inserts a new active session row with a server-generated id.
func (s *Store) StartSession(ctx context.Context, req backend.SessionRequest) backend.SessionResult {
	if req.QuizID == "" || req.StudentID == "" {
		return backend.SessionResult{Result: backend.Failed("missing quiz_id or student_id")}
	}
	if !req.ConsentGiven {
		return backend.SessionResult{Result: backend.Failed("audio monitoring consent required")}
	}
	id := uuid.NewString()
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audio_sessions
		    (session_id, quiz_id, student_id, consent_given, consent_at, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $5, 'active')`,
		id, req.QuizID, req.StudentID, req.ConsentGiven, now,
	)
	if err != nil {
		return backend.SessionResult{Result: backend.FailedErr(fmt.Errorf("postgres backend: start session: %w", err))}
	}
	return backend.SessionResult{Result: backend.Succeeded(), SessionID: id}
}

// EndSession marks the session completed and stores the final flag count.
func (s *Store) EndSession(ctx context.Context, req backend.EndSessionRequest) backend.Result {
	if req.SessionID == "" {
		return backend.Failed("missing session_id")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE audio_sessions
		   SET ended_at = $2, total_flags = $3, status = 'completed'
		 WHERE session_id = $1`,
		req.SessionID, s.now().UTC(), req.TotalFlags,
	)
	if err != nil {
		return backend.FailedErr(fmt.Errorf("postgres backend: end session: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return backend.Failed("session %s not found", req.SessionID)
	}
	return backend.Succeeded()
}

// CreateFlag inserts req. A repeated insert with the same id is ignored, so
// the client id works as an idempotency key. A session id that is not stored
// (such as a local fallback id) leaves the flag unlinked.
func (s *Store) CreateFlag(ctx context.Context, req backend.FlagRequest) backend.Result {
	id, err := uuid.Parse(req.ID)
	if err != nil {
		return backend.FailedErr(fmt.Errorf("postgres backend: flag id: %w", err))
	}
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return backend.FailedErr(fmt.Errorf("postgres backend: encode metadata: %w", err))
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO flags
			    (flag_id, session_id, quiz_id, flag_type, description, severity, metadata, flagged_at)
			VALUES ($1, (SELECT session_id FROM audio_sessions WHERE session_id = $2), $3, $4, $5, $6, $7, $8)
			ON CONFLICT (flag_id) DO NOTHING`,
			id.String(), req.SessionID, req.QuizID, req.FlagType, req.Description, string(req.Severity), meta, ts.UTC(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 || req.SessionID == "" {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE audio_sessions SET total_flags = total_flags + 1
			 WHERE session_id = $1`, req.SessionID)
		return err
	})
	if err != nil {
		return backend.FailedErr(fmt.Errorf("postgres backend: create flag: %w", err))
	}
	return backend.Succeeded()
}

// SessionRecord is a stored audio session as read back by [Store.Session].
type SessionRecord struct {
	SessionID    string
	QuizID       string
	StudentID    string
	ConsentGiven bool
	StartedAt    time.Time
	EndedAt      *time.Time
	TotalFlags   int
	Status       string
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("postgres backend: not found")

// Session loads one session row.
func (s *Store) Session(ctx context.Context, id string) (SessionRecord, error) {
	var r SessionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, quiz_id, student_id, consent_given, started_at, ended_at, total_flags, status
		  FROM audio_sessions WHERE session_id = $1`, id,
	).Scan(&r.SessionID, &r.QuizID, &r.StudentID, &r.ConsentGiven, &r.StartedAt, &r.EndedAt, &r.TotalFlags, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("postgres backend: load session: %w", err)
	}
	return r, nil
}

// FlagRecord is a stored flag as read back by [Store.Flags].
type FlagRecord struct {
	ID          string
	SessionID   string
	QuizID      string
	FlagType    string
	Description string
	Severity    string
	Metadata    backend.FlagMetadata
	FlaggedAt   time.Time
}

// Flags returns all flags of a quiz ordered by time.
func (s *Store) Flags(ctx context.Context, quizID string) ([]FlagRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT flag_id::text, COALESCE(session_id, ''), quiz_id, flag_type, description, severity, metadata, flagged_at
		  FROM flags WHERE quiz_id = $1 ORDER BY flagged_at, flag_id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("postgres backend: query flags: %w", err)
	}
	defer rows.Close()

	var out []FlagRecord
	for rows.Next() {
		var (
			r    FlagRecord
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QuizID, &r.FlagType, &r.Description, &r.Severity, &meta, &r.FlaggedAt); err != nil {
			return nil, fmt.Errorf("postgres backend: scan flag: %w", err)
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("postgres backend: decode metadata: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres backend: iterate flags: %w", err)
	}
	return out, nil
}
