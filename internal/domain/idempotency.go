package domain

import "time"

// Idempotency remembers which message a client-supplied key produced. Keys are
// scoped to the sender and the conversation, (sender, user_a, user_b, key)
// with the pair in canonical order, so reusing a key towards another
// recipient starts a new message. A retried send with the same key within
// the TTL returns the stored message instead of creating a new one.
type Idempotency struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Sender    string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_idem_scope,priority:1"`
	UserA     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_idem_scope,priority:2"`
	UserB     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_idem_scope,priority:3"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_scope,priority:4"`
	MessageID uint      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
