package repo

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// seedMessage writes a message linked to the canonical pair of (sender, recipient).
func seedMessage(t *testing.T, ctx context.Context, db *gorm.DB, sender, recipient, body string) *domain.Message {
	t.Helper()
	m, err := CreateMessage(ctx, db, sender, body)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	a, b := domain.CanonicalPair(sender, recipient)
	if err := UpsertPairing(ctx, db, a, b); err != nil {
		t.Fatalf("UpsertPairing: %v", err)
	}
	if err := CreateChatMessageLink(ctx, db, m.ID, a, b); err != nil {
		t.Fatalf("CreateChatMessageLink: %v", err)
	}
	return m
}

func TestCreateMessage_IDsIncrease(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	var last uint
	for i := 0; i < 5; i++ {
		m, err := CreateMessage(ctx, db, "alice", "hello")
		if err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if m.ID <= last {
			t.Fatalf("id %d not greater than previous %d", m.ID, last)
		}
		if m.CreatedAt.IsZero() {
			t.Fatalf("CreatedAt not set")
		}
		last = m.ID
	}

	got, err := GetMessage(ctx, db, last)
	if err != nil || got.Body != "hello" || got.Sender != "alice" {
		t.Fatalf("GetMessage: got=%+v err=%v", got, err)
	}
	if _, err := GetMessage(ctx, db, last+99); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListHistory_NewestLimitAscending_WithFiles(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	m1 := seedMessage(t, ctx, db, "alice", "bob", "m1")
	m2 := seedMessage(t, ctx, db, "bob", "alice", "m2")
	m3 := seedMessage(t, ctx, db, "alice", "bob", "m3")
	// unrelated pairing must not leak in
	seedMessage(t, ctx, db, "alice", "carol", "other")

	f, err := CreateFile(ctx, db, "report.pdf", "bob", []byte("pdf"))
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := CreateFileMessageLink(ctx, db, f.ID, m2.ID); err != nil {
		t.Fatalf("CreateFileMessageLink: %v", err)
	}

	rows, err := ListHistory(ctx, db, "alice", "bob", 2)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != m2.ID || rows[1].ID != m3.ID {
		t.Fatalf("want [m2 m3], got %+v", rows)
	}
	e := rows[0].Entry()
	if e.FileID == nil || *e.FileID != f.ID || e.FileName == nil || *e.FileName != "report.pdf" || e.FileStatus != domain.FileAvailable {
		t.Fatalf("unexpected file fields: %+v", e)
	}
	if e2 := rows[1].Entry(); e2.FileID != nil || e2.FileName != nil || e2.FileStatus != "" {
		t.Fatalf("message without attachment has file fields: %+v", e2)
	}

	// tombstoned attachment is still listed, flagged gone
	if err := TombstoneFile(ctx, db, f.ID); err != nil {
		t.Fatalf("TombstoneFile: %v", err)
	}
	rows, err = ListHistory(ctx, db, "alice", "bob", 10)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(rows) != 3 || rows[0].ID != m1.ID {
		t.Fatalf("want 3 rows starting at m1, got %+v", rows)
	}
	if e := rows[1].Entry(); e.FileStatus != domain.FileGone || e.FileName == nil || *e.FileName != "report.pdf" {
		t.Fatalf("expected gone attachment with name, got %+v", e)
	}
}

func TestListHistory_EmptyIsNotError(t *testing.T) {
	db := newRepoDB(t)
	rows, err := ListHistory(context.Background(), db, "alice", "bob", 100)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty slice, got %#v", rows)
	}
}

func TestGetMessageRecord_ResolvesRecipientAndFile(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	m := seedMessage(t, ctx, db, "bob", "alice", "hey")
	rec, err := GetMessageRecord(ctx, db, m.ID)
	if err != nil {
		t.Fatalf("GetMessageRecord: %v", err)
	}
	if rec.Sender != "bob" || rec.Recipient != "alice" || rec.Body != "hey" || rec.FileID != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}

	f, _ := CreateFile(ctx, db, "a.png", "alice", []byte{1})
	m2 := seedMessage(t, ctx, db, "alice", "bob", "")
	if err := CreateFileMessageLink(ctx, db, f.ID, m2.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	rec, err = GetMessageRecord(ctx, db, m2.ID)
	if err != nil || rec.Recipient != "bob" || rec.FileID == nil || *rec.FileID != f.ID || rec.FileName != "a.png" {
		t.Fatalf("unexpected record: %+v err=%v", rec, err)
	}

	if _, err := GetMessageRecord(ctx, db, 9999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
