package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection so the PRAGMA applies to every statement.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Account{}).TableName():         "accounts",
		(Message{}).TableName():         "messages",
		(ChatPairing{}).TableName():     "chat_pairings",
		(ChatMessageLink{}).TableName(): "chat_message_links",
		(File{}).TableName():            "files",
		(FileMessageLink{}).TableName(): "file_message_links",
		(Idempotency{}).TableName():     "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range Models() {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&ChatMessageLink{}, "idx_pair_msgs") {
		t.Fatalf("expected index idx_pair_msgs on chat_message_links")
	}
	if !m.HasIndex(&Idempotency{}, "ux_sender_key") {
		t.Fatalf("expected unique index ux_sender_key on idempotency")
	}

	msg := &Message{Body: "hello", Sender: "alice"}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if msg.ID == 0 {
		t.Fatalf("expected generated message id")
	}
	if err := db.Create(&ChatPairing{UserA: "alice", UserB: "bob"}).Error; err != nil {
		t.Fatalf("insert pairing: %v", err)
	}
	if err := db.Create(&ChatMessageLink{MessageID: msg.ID, UserA: "alice", UserB: "bob"}).Error; err != nil {
		t.Fatalf("insert link: %v", err)
	}

	// a second link for the same message violates the one-pairing-per-message rule
	if err := db.Create(&ChatMessageLink{MessageID: msg.ID, UserA: "alice", UserB: "carol"}).Error; err == nil {
		t.Fatalf("expected primary key violation for second link of one message")
	}

	// links cannot point at messages that do not exist
	if err := db.Create(&ChatMessageLink{MessageID: msg.ID + 100, UserA: "alice", UserB: "bob"}).Error; err == nil {
		t.Fatalf("expected FK violation for dangling message id")
	}

	// CASCADE: deleting the message removes its link
	if err := db.Delete(&Message{}, msg.ID).Error; err != nil {
		t.Fatalf("delete message: %v", err)
	}
	var cnt int64
	if err := db.Model(&ChatMessageLink{}).Where("message_id = ?", msg.ID).Count(&cnt).Error; err != nil {
		t.Fatalf("count links: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected link to cascade-delete, got count=%d", cnt)
	}
}

func TestFileMessageLink_FileUsedOnce(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	f := &File{Filename: "a.txt", Size: 3, Content: []byte("abc"), Uploader: "alice"}
	if err := db.Create(f).Error; err != nil {
		t.Fatalf("insert file: %v", err)
	}
	m1 := &Message{Body: "one", Sender: "alice"}
	m2 := &Message{Body: "two", Sender: "alice"}
	if err := db.Create(m1).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := db.Create(m2).Error; err != nil {
		t.Fatalf("insert m2: %v", err)
	}
	if err := db.Create(&FileMessageLink{MessageID: m1.ID, FileID: f.ID}).Error; err != nil {
		t.Fatalf("link m1: %v", err)
	}
	if err := db.Create(&FileMessageLink{MessageID: m2.ID, FileID: f.ID}).Error; err == nil {
		t.Fatalf("expected unique violation when linking one file twice")
	}
}

func TestFile_Status(t *testing.T) {
	var nilFile *File
	if nilFile.Status() != FileNonExisting {
		t.Fatalf("nil file should be non-existing")
	}
	f := &File{}
	if f.Status() != FileExisting {
		t.Fatalf("fresh file should be existing")
	}
	now := time.Now()
	f.TombstonedAt = &now
	if f.Status() != FileDeleted {
		t.Fatalf("tombstoned file should be deleted")
	}
	for s, want := range map[FileStatus]string{FileNonExisting: "non_existing", FileExisting: "existing", FileDeleted: "deleted"} {
		if s.String() != want {
			t.Fatalf("%d.String() = %q; want %q", s, s.String(), want)
		}
	}
}

func TestCanonicalPair_And_NormalizeUsername(t *testing.T) {
	a, b := CanonicalPair("bob", "alice")
	if a != "alice" || b != "bob" {
		t.Fatalf("CanonicalPair(bob, alice) = (%q, %q)", a, b)
	}
	a2, b2 := CanonicalPair("alice", "bob")
	if a2 != a || b2 != b {
		t.Fatalf("CanonicalPair should be order independent")
	}

	// "e" + combining acute composes to a single rune under NFC
	decomposed := "  jose\u0301 "
	if got := NormalizeUsername(decomposed); got != "jos\u00e9" {
		t.Fatalf("NormalizeUsername = %q", got)
	}
}
