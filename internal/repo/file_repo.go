// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for file
// attachments and their links to messages.
//
// Deleting a file is a tombstone: the row stays with its metadata, the
// content is cleared. Callers can therefore tell a file that never existed
// (ErrNotFound) from one that was removed (ErrGone).
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateFile stores a new file. Size is recorded from len(content) in the
// same INSERT.
func CreateFile(ctx context.Context, db *gorm.DB, filename, uploader string, content []byte) (*domain.File, error) {
	if content == nil {
		content = []byte{}
	}
	f := &domain.File{
		Filename:  filename,
		Size:      int64(len(content)),
		Content:   content,
		Uploader:  uploader,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		return nil, err
	}
	return f, nil
}

// FileStatus reports whether id was never issued, is present, or is tombstoned.
// The content column is not read.
func FileStatus(ctx context.Context, db *gorm.DB, id uint) (domain.FileStatus, error) {
	var f domain.File
	res := db.WithContext(ctx).
		Select("id", "tombstoned_at").
		Where("id = ?", id).
		Limit(1).
		Find(&f)
	if res.Error != nil {
		return domain.FileNonExisting, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.FileNonExisting, nil
	}
	return f.Status(), nil
}

// FileMeta loads a file row without its content, or returns ErrNotFound.
func FileMeta(ctx context.Context, db *gorm.DB, id uint) (*domain.File, error) {
	var f domain.File
	err := db.WithContext(ctx).
		Select("id", "filename", "size", "uploader", "tombstoned_at", "created_at").
		First(&f, id).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ReadFile loads a file with its content. It returns ErrNotFound when id was
// never issued; a tombstoned file is returned with TombstonedAt set and no
// content, leaving the caller to answer "gone".
func ReadFile(ctx context.Context, db *gorm.DB, id uint) (*domain.File, error) {
	var f domain.File
	if err := db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	if f.TombstonedAt != nil {
		f.Content = nil
	}
	return &f, nil
}

// TombstoneFile clears a file's content and marks it deleted, keeping the
// filename and size. It returns ErrNotFound for an unknown id and ErrGone if
// the file was already tombstoned.
func TombstoneFile(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).
		Model(&domain.File{}).
		Where("id = ? AND tombstoned_at IS NULL", id).
		Updates(map[string]any{
			"content":       nil,
			"tombstoned_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	st, err := FileStatus(ctx, db, id)
	if err != nil {
		return err
	}
	if st == domain.FileDeleted {
		return ErrGone
	}
	return ErrNotFound
}

// CreateFileMessageLink attaches fileID to messageID. It returns ErrDuplicate
// when the file is already attached to another message.
func CreateFileMessageLink(ctx context.Context, db *gorm.DB, fileID, messageID uint) error {
	l := &domain.FileMessageLink{
		MessageID: messageID,
		FileID:    fileID,
	}
	if err := db.WithContext(ctx).Create(l).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// FileLinked reports whether fileID is already attached to a message.
func FileLinked(ctx context.Context, db *gorm.DB, fileID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.FileMessageLink{}).
		Where("file_id = ?", fileID).
		Count(&n).Error
	return n > 0, err
}
