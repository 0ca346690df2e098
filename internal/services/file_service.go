// Package services – FileService
//
// FileService stores uploaded attachments and serves them back. Deleting a
// file tombstones it so that messages that referenced it can still report
// the attachment as gone.
package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"
)

const maxFilenameRunes = 255

// FileService manages attachments.
type FileService struct {
	DB *gorm.DB
	// MaxBytes caps an upload; 0 disables the check.
	MaxBytes int64
}

// NewFileService constructs a FileService with a 10 MiB upload cap.
func NewFileService(db *gorm.DB) *FileService {
	return &FileService{DB: db, MaxBytes: 10 << 20}
}

// Upload stores content under filename and returns the new file.
func (s *FileService) Upload(ctx context.Context, uploader, filename string, content []byte) (*domain.File, error) {
	name := cleanFilename(filename)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	case utf8.RuneCountInString(name) > maxFilenameRunes:
		return nil, fmt.Errorf("%w: file name too long", ErrInvalidRequest)
	case len(content) == 0:
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidRequest)
	case s.MaxBytes > 0 && int64(len(content)) > s.MaxBytes:
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidRequest, s.MaxBytes)
	}

	f, err := repo.CreateFile(ctx, s.DB, name, domain.NormalizeUsername(uploader), content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return f, nil
}

// Download returns a stored file with its content.
func (s *FileService) Download(ctx context.Context, id uint) (*domain.File, error) {
	f, err := repo.ReadFile(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: file %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if f.Status() == domain.FileDeleted {
		return nil, fmt.Errorf("%w: file %d was deleted", ErrGone, id)
	}
	return f, nil
}

// Status reports the lifecycle state of a file id.
func (s *FileService) Status(ctx context.Context, id uint) (domain.FileStatus, error) {
	st, err := repo.FileStatus(ctx, s.DB, id)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return st, nil
}

// Delete tombstones a file. Only its uploader may delete it.
func (s *FileService) Delete(ctx context.Context, requester string, id uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := repo.ReadFile(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: file %d", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if f.Uploader != domain.NormalizeUsername(requester) {
			return fmt.Errorf("%w: only the uploader can delete file %d", ErrForbidden, id)
		}

		switch err := repo.TombstoneFile(ctx, tx, id); {
		case err == nil:
			return nil
		case errors.Is(err, repo.ErrGone):
			return fmt.Errorf("%w: file %d was already deleted", ErrGone, id)
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: file %d", ErrNotFound, id)
		default:
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	})
}

// cleanFilename keeps only the last path element of a client-supplied name.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}
