package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAudioSessions = `
CREATE TABLE IF NOT EXISTS audio_sessions (
    session_id    TEXT         PRIMARY KEY,
    quiz_id       TEXT         NOT NULL,
    student_id    TEXT         NOT NULL,
    consent_given BOOLEAN      NOT NULL DEFAULT false,
    consent_at    TIMESTAMPTZ,
    started_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at      TIMESTAMPTZ,
    total_flags   INTEGER      NOT NULL DEFAULT 0,
    status        TEXT         NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_audio_sessions_quiz
    ON audio_sessions (quiz_id, student_id);
`

const ddlFlags = `
CREATE TABLE IF NOT EXISTS flags (
    flag_id     UUID         PRIMARY KEY,
    session_id  TEXT         REFERENCES audio_sessions (session_id) ON DELETE SET NULL,
    quiz_id     TEXT         NOT NULL,
    flag_type   TEXT         NOT NULL,
    description TEXT         NOT NULL DEFAULT '',
    severity    TEXT         NOT NULL DEFAULT 'medium',
    metadata    JSONB        NOT NULL DEFAULT '{}'::jsonb,
    flagged_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    reviewed    BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_flags_quiz_time
    ON flags (quiz_id, flagged_at);
`

// Migrate creates the audio_sessions and flags tables and their indexes. It is
// idempotent and safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"audio_sessions", ddlAudioSessions},
		{"flags", ddlFlags},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("postgres backend: migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
