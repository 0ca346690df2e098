package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

func TestGetIdempotency_BlankKey_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t)
	rec, err := GetIdempotency(context.Background(), db, "alice", "alice", "bob", "   ", time.Now().UTC())
	if rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if rec, err := GetIdempotency(ctx, db, "alice", "alice", "bob", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing, got (%v, %v)", rec, err)
	}

	expired := domain.Idempotency{
		ID: "exp-1", Sender: "alice", UserA: "alice", UserB: "bob", Key: "k1", MessageID: 7,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}
	if rec, err := GetIdempotency(ctx, db, "alice", "alice", "bob", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired, got (%v, %v)", rec, err)
	}
}

func TestCreateIdempotency_ScopedBySenderAndConversation(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "alice", "alice", "bob", "k1", 42, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.MessageID != 42 || rec.UserA != "alice" || rec.UserB != "bob" || !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "alice", "alice", "bob", "k1", time.Now().UTC())
	if err != nil || got.MessageID != 42 {
		t.Fatalf("GetIdempotency: got=%+v err=%v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "alice", "alice", "bob", "k1", 43, time.Hour); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	independent := []struct {
		name                 string
		sender, userA, userB string
		msgID                uint
	}{
		{"other party of the conversation", "bob", "alice", "bob", 44},
		{"same sender, other conversation", "alice", "alice", "carol", 45},
	}
	for _, tc := range independent {
		if _, err := CreateIdempotency(ctx, db, tc.sender, tc.userA, tc.userB, "k1", tc.msgID, time.Hour); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		got, err := GetIdempotency(ctx, db, tc.sender, tc.userA, tc.userB, "k1", time.Now().UTC())
		if err != nil || got.MessageID != tc.msgID {
			t.Fatalf("%s: got=%+v err=%v", tc.name, got, err)
		}
	}

	// the original binding is untouched
	if got, _ := GetIdempotency(ctx, db, "alice", "alice", "bob", "k1", time.Now().UTC()); got == nil || got.MessageID != 42 {
		t.Fatalf("original binding changed: %+v", got)
	}
}

func TestCreateIdempotency_ReplacesExpired(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := domain.Idempotency{
		ID: "old", Sender: "alice", UserA: "alice", UserB: "bob", Key: "k", MessageID: 1,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	if err := db.Create(&old).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, err := CreateIdempotency(ctx, db, "alice", "alice", "bob", "k", 2, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency over expired: %v", err)
	}
	if rec.MessageID != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []domain.Idempotency{
		{ID: "a", Sender: "alice", UserA: "alice", UserB: "bob", Key: "1", MessageID: 1, CreatedAt: now, ExpiresAt: now.Add(-time.Minute)},
		{ID: "b", Sender: "alice", UserA: "alice", UserB: "bob", Key: "2", MessageID: 2, CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	n, err := PurgeExpiredIdempotency(ctx, db, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
}
