// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for messages and
// the history query that joins them with their pairing and attachments.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// File states computed by the history query.
const (
	fileStateNone = iota
	fileStateAvailable
	fileStateGone
)

// HistoryRow is one row of ListHistory.
type HistoryRow struct {
	ID        uint
	Body      string
	Sender    string
	CreatedAt time.Time
	FileID    *uint
	FileName  *string
	FileState int
}

// Entry converts the row into its API shape.
func (r HistoryRow) Entry() domain.HistoryEntry {
	e := domain.HistoryEntry{
		ID:        r.ID,
		Body:      r.Body,
		Sender:    r.Sender,
		CreatedAt: r.CreatedAt,
		FileID:    r.FileID,
		FileName:  r.FileName,
	}
	switch r.FileState {
	case fileStateAvailable:
		e.FileStatus = domain.FileAvailable
	case fileStateGone:
		e.FileStatus = domain.FileGone
	}
	return e
}

// CreateMessage inserts a new message row. The id is assigned by the database.
func CreateMessage(ctx context.Context, db *gorm.DB, sender, body string) (*domain.Message, error) {
	m := &domain.Message{
		Sender:    sender,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by id or returns ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

const historySQL = `
SELECT m.id AS id, m.body AS body, m.sender AS sender, m.created_at AS created_at,
       f.id AS file_id, f.filename AS file_name,
       CASE WHEN f.id IS NULL THEN 0 WHEN f.tombstoned_at IS NULL THEN 1 ELSE 2 END AS file_state
FROM (
    SELECT message_id FROM chat_message_links
    WHERE user_a = ? AND user_b = ?
    ORDER BY message_id DESC
    LIMIT ?
) recent
JOIN messages m ON m.id = recent.message_id
LEFT JOIN file_message_links fl ON fl.message_id = m.id
LEFT JOIN files f ON f.id = fl.file_id
ORDER BY m.id ASC`

// ListHistory returns the newest limit messages of the pairing (userA, userB),
// oldest first. The pair must already be in canonical order.
func ListHistory(ctx context.Context, db *gorm.DB, userA, userB string, limit int) ([]HistoryRow, error) {
	out := []HistoryRow{}
	err := db.WithContext(ctx).Raw(historySQL, userA, userB, limit).Scan(&out).Error
	return out, err
}

const recordSQL = `
SELECT m.id AS id, m.body AS body, m.sender AS sender, m.created_at AS created_at,
       l.user_a AS user_a, l.user_b AS user_b,
       f.id AS file_id, f.filename AS file_name
FROM messages m
JOIN chat_message_links l ON l.message_id = m.id
LEFT JOIN file_message_links fl ON fl.message_id = m.id
LEFT JOIN files f ON f.id = fl.file_id
WHERE m.id = ?`

// GetMessageRecord loads a message with its recipient and attachment.
func GetMessageRecord(ctx context.Context, db *gorm.DB, id uint) (*domain.MessageRecord, error) {
	var row struct {
		ID        uint
		Body      string
		Sender    string
		CreatedAt time.Time
		UserA     string
		UserB     string
		FileID    *uint
		FileName  *string
	}
	if err := db.WithContext(ctx).Raw(recordSQL, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, ErrNotFound
	}
	rec := &domain.MessageRecord{
		ID:        row.ID,
		Sender:    row.Sender,
		Recipient: row.UserA,
		Body:      row.Body,
		FileID:    row.FileID,
		CreatedAt: row.CreatedAt,
	}
	if row.UserA == row.Sender {
		rec.Recipient = row.UserB
	}
	if row.FileName != nil {
		rec.FileName = *row.FileName
	}
	return rec, nil
}
