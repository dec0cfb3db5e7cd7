package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/proctor/internal/backend"
	"github.com/MrWong99/proctor/internal/backend/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PROCTOR_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PROCTOR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PROCTOR_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS flags CASCADE",
		"DROP TABLE IF EXISTS audio_sessions CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := store.StartSession(ctx, backend.SessionRequest{QuizID: "quiz-1", StudentID: "stu-1", ConsentGiven: true})
	if !res.OK {
		t.Fatalf("StartSession: %v", res)
	}
	if _, err := uuid.Parse(res.SessionID); err != nil {
		t.Errorf("session id %q is not a UUID: %v", res.SessionID, err)
	}

	if end := store.EndSession(ctx, backend.EndSessionRequest{SessionID: res.SessionID, TotalFlags: 4}); !end.OK {
		t.Fatalf("EndSession: %v", end)
	}

	rec, err := store.Session(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if rec.Status != "completed" || rec.TotalFlags != 4 || rec.EndedAt == nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestStore_StartSessionRequiresConsent(t *testing.T) {
	store := newTestStore(t)
	res := store.StartSession(context.Background(), backend.SessionRequest{QuizID: "q", StudentID: "s"})
	if res.OK {
		t.Fatal("expected failure without consent")
	}
}

func TestStore_EndUnknownSession(t *testing.T) {
	store := newTestStore(t)
	if res := store.EndSession(context.Background(), backend.EndSessionRequest{SessionID: "nope"}); res.OK {
		t.Fatal("expected failure for unknown session")
	}
	if _, err := store.Session(context.Background(), "nope"); !errors.Is(err, postgres.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_CreateFlagIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := store.StartSession(ctx, backend.SessionRequest{QuizID: "quiz-2", StudentID: "stu-2", ConsentGiven: true})
	if !sess.OK {
		t.Fatalf("StartSession: %v", sess)
	}

	flag := backend.FlagRequest{
		ID:          uuid.NewString(),
		SessionID:   sess.SessionID,
		QuizID:      "quiz-2",
		FlagType:    "audio_multiple_voices",
		Description: "Multiple voices detected",
		Severity:    backend.SeverityMedium,
		Metadata: backend.FlagMetadata{
			Type:              "multiple_voices",
			VolumeLevel:       50,
			AverageVolume:     30,
			FrequencyAnalysis: backend.FrequencyAnalysis{Low: 70, Mid: 65, High: 10},
		},
		Timestamp: time.Now(),
	}
	for range 2 {
		if res := store.CreateFlag(ctx, flag); !res.OK {
			t.Fatalf("CreateFlag: %v", res)
		}
	}

	flags, err := store.Flags(ctx, "quiz-2")
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if len(flags) != 1 {
		t.Fatalf("flags = %d, want 1", len(flags))
	}
	if flags[0].Metadata.FrequencyAnalysis.Low != 70 || flags[0].SessionID != sess.SessionID {
		t.Errorf("flag = %+v", flags[0])
	}

	rec, err := store.Session(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if rec.TotalFlags != 1 {
		t.Errorf("total_flags = %d, want 1", rec.TotalFlags)
	}
}

func TestStore_CreateFlagRejectsBadID(t *testing.T) {
	store := newTestStore(t)
	if res := store.CreateFlag(context.Background(), backend.FlagRequest{ID: "not-a-uuid", QuizID: "q"}); res.OK {
		t.Fatal("expected failure for malformed id")
	}
}
