// Package domain defines the persistence models for accounts, direct
// messages, chat pairings, and file attachments. These types are mapped with
// GORM and form the data layer of the messaging service.
package domain

import (
	"time"
)

// Account is a registered user. The username is the identity carried by
// bearer tokens and the key every other table refers to.
//
// Fields:
//   - Username: primary key, NFC-normalized at registration.
//   - VisibleName: display name shown to other users.
//   - Email / PasswordHash: credentials, never serialized.
//   - Avatar / AvatarType: optional profile picture bytes and their MIME type.
type Account struct {
	Username     string    `json:"username"     gorm:"type:varchar(255);primaryKey"`
	VisibleName  string    `json:"visible_name" gorm:"type:varchar(255);not null"`
	Email        string    `json:"-"            gorm:"type:varchar(320);not null"`
	PasswordHash string    `json:"-"            gorm:"type:varchar(100);not null"`
	Avatar       []byte    `json:"-"`
	AvatarType   string    `json:"-"            gorm:"type:varchar(32)"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// Message is an immutable direct message. IDs are issued by the database
// and are the chronological order within a pairing.
//
// Body may be empty only when a file is linked to the message.
type Message struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Body      string    `json:"body"       gorm:"type:text;not null"`
	Sender    string    `json:"sender"     gorm:"type:varchar(255);not null;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ChatPairing records that two users have exchanged at least one message.
// UserA is always the lexicographically smaller username (see CanonicalPair).
type ChatPairing struct {
	UserA     string    `json:"user_a"     gorm:"type:varchar(255);primaryKey"`
	UserB     string    `json:"user_b"     gorm:"type:varchar(255);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ChatPairing.
func (ChatPairing) TableName() string { return "chat_pairings" }

// ChatMessageLink assigns a message to exactly one pairing. The composite
// index serves the newest-first history scan.
type ChatMessageLink struct {
	MessageID uint   `json:"message_id" gorm:"primaryKey;autoIncrement:false;index:idx_pair_msgs,priority:3"`
	UserA     string `json:"user_a"     gorm:"type:varchar(255);not null;index:idx_pair_msgs,priority:1"`
	UserB     string `json:"user_b"     gorm:"type:varchar(255);not null;index:idx_pair_msgs,priority:2"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessageLink.
func (ChatMessageLink) TableName() string { return "chat_message_links" }

// File is an uploaded attachment. Deleting a file tombstones it: Content is
// cleared and TombstonedAt set, while Filename and Size are retained so
// history can still report the attachment.
type File struct {
	ID           uint       `json:"id"                      gorm:"primaryKey"`
	Filename     string     `json:"filename"                gorm:"type:varchar(255);not null"`
	Size         int64      `json:"size"                    gorm:"not null"`
	Content      []byte     `json:"-"`
	Uploader     string     `json:"uploader"                gorm:"type:varchar(255);not null;index"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName returns the database table name for File.
func (File) TableName() string { return "files" }

// Status reports the lifecycle state of a loaded file row.
func (f *File) Status() FileStatus {
	if f == nil {
		return FileNonExisting
	}
	if f.TombstonedAt != nil {
		return FileDeleted
	}
	return FileExisting
}

// FileMessageLink attaches one file to one message.
type FileMessageLink struct {
	MessageID uint `json:"message_id" gorm:"primaryKey;autoIncrement:false"`
	FileID    uint `json:"file_id"    gorm:"not null;uniqueIndex"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	File    File    `json:"-" gorm:"foreignKey:FileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for FileMessageLink.
func (FileMessageLink) TableName() string { return "file_message_links" }

// FileStatus is the tri-state lifecycle of a file id.
type FileStatus int

const (
	// FileNonExisting means the id was never issued.
	FileNonExisting FileStatus = iota
	// FileExisting means the content is present.
	FileExisting
	// FileDeleted means the file was tombstoned.
	FileDeleted
)

// String implements fmt.Stringer.
func (s FileStatus) String() string {
	switch s {
	case FileExisting:
		return "existing"
	case FileDeleted:
		return "deleted"
	default:
		return "non_existing"
	}
}

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&Account{},
		&Message{},
		&ChatPairing{},
		&ChatMessageLink{},
		&File{},
		&FileMessageLink{},
		&Idempotency{},
	}
}
