package repository

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/brandonphelps/rusty-pellets/internal/db"
	"github.com/brandonphelps/rusty-pellets/internal/model"
)

func newTestRepo(t *testing.T) *SessionRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewSessionRepository(testDB)
}

// TestSessionLifecycleProperty checks that every created session can be read
// back, and that finishing it records the reason, tick count and final state.
func TestSessionLifecycleProperty(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "session_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	db.ResetDB()
	testDB, err := db.InitDB(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	defer db.ResetDB()

	repo := NewSessionRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	reasons := []interface{}{
		model.ReasonClientDisconnect,
		model.ReasonClientGone,
		model.ReasonSendFailed,
		model.ReasonShutdown,
	}

	properties.Property("created sessions round trip through finish", prop.ForAll(
		func(remote string, ticks int64, state []byte, reason model.EndReason) bool {
			started := time.Now().UTC().Truncate(time.Millisecond)
			session := &model.Session{
				ID:         uuid.New().String(),
				RemoteAddr: remote,
				Status:     model.SessionStatusActive,
				StartedAt:  started,
			}

			if err := repo.Create(ctx, session); err != nil {
				t.Logf("failed to create session: %v", err)
				return false
			}

			got, err := repo.GetByID(ctx, session.ID)
			if err != nil {
				t.Logf("failed to retrieve session: %v", err)
				return false
			}
			if got.RemoteAddr != remote || got.Status != model.SessionStatusActive ||
				got.EndedAt != nil || !got.StartedAt.Equal(started) {
				t.Logf("retrieved session does not match: %+v", got)
				return false
			}

			ended := started.Add(time.Second)
			if err := repo.Finish(ctx, session.ID, reason, ticks, state, ended); err != nil {
				t.Logf("failed to finish session: %v", err)
				return false
			}

			got, err = repo.GetByID(ctx, session.ID)
			if err != nil {
				return false
			}
			if got.Status != model.SessionStatusEnded || got.EndReason != reason ||
				got.Ticks != ticks || !bytes.Equal(got.FinalState, state) {
				t.Logf("finished session does not match: %+v", got)
				return false
			}
			if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
				t.Logf("unexpected ended_at: %v", got.EndedAt)
				return false
			}

			return true
		},
		gen.RegexMatch(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}:[0-9]{2,5}`),
		gen.Int64Range(0, 1<<40),
		gen.SliceOf(gen.UInt8()),
		gen.OneConstOf(reasons...),
	))

	properties.TestingRun(t)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	err := repo.Finish(context.Background(), "missing", model.ReasonShutdown, 0, nil, time.Now())
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound from Finish, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		err := repo.Create(ctx, &model.Session{
			ID:         id,
			RemoteAddr: "127.0.0.1:1",
			Status:     model.SessionStatusActive,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("failed to create session %s: %v", id, err)
		}
	}

	sessions, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []string{"c", "b", "a"} {
		if sessions[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, sessions[i].ID)
		}
	}

	limited, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "c" {
		t.Errorf("unexpected limited list: %+v", limited)
	}
}

func TestMarkStaleEnded(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"stale-1", "stale-2", "done"} {
		if err := repo.Create(ctx, &model.Session{ID: id, RemoteAddr: "x", Status: model.SessionStatusActive, StartedAt: now}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.Finish(ctx, "done", model.ReasonClientDisconnect, 3, nil, now); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	n, err := repo.MarkStaleEnded(ctx, now)
	if err != nil {
		t.Fatalf("mark stale failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows updated, got %d", n)
	}

	sessions, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, s := range sessions {
		if s.Status != model.SessionStatusActive {
			continue
		}
		t.Errorf("session %s still active", s.ID)
	}

	done, err := repo.GetByID(ctx, "done")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if done.EndReason != model.ReasonClientDisconnect {
		t.Errorf("finished session must keep its reason, got %s", done.EndReason)
	}
}
