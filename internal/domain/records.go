package domain

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// File status labels exposed in history entries.
const (
	FileAvailable = "available"
	FileGone      = "gone"
)

// MessageRecord is a persisted message as seen by its two parties. It is the
// payload pushed to an online recipient and returned in send acknowledgements.
type MessageRecord struct {
	ID        uint      `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	FileID    *uint     `json:"file_id,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is one message of a conversation, with its attachment if any.
// FileStatus is "gone" when the linked file was tombstoned after sending.
type HistoryEntry struct {
	ID         uint      `json:"id"`
	Body       string    `json:"body"`
	Sender     string    `json:"sender"`
	CreatedAt  time.Time `json:"created_at"`
	FileID     *uint     `json:"file_id,omitempty"`
	FileName   *string   `json:"file_name,omitempty"`
	FileStatus string    `json:"file_status,omitempty"`
}

// NormalizeUsername trims surrounding space and applies Unicode NFC so that
// visually identical usernames compare and sort identically.
func NormalizeUsername(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// CanonicalPair orders two usernames lexicographically. Every pairing and
// chat link is stored under this order, so (a, b) and (b, a) share one key.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
