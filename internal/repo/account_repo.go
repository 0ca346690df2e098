// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for accounts.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// CreateAccount inserts a new account and returns ErrDuplicate when the
// username is taken.
func CreateAccount(ctx context.Context, db *gorm.DB, a *domain.Account) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAccount fetches an account by username or returns ErrNotFound.
func GetAccount(ctx context.Context, db *gorm.DB, username string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("username = ?", username).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// AccountExists reports whether username is registered.
func AccountExists(ctx context.Context, db *gorm.DB, username string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Account{}).Where("username = ?", username).Count(&n).Error
	return n > 0, err
}

// ListAccountsExcept returns every account other than username, ordered by
// username. Only the public columns are loaded.
func ListAccountsExcept(ctx context.Context, db *gorm.DB, username string) ([]domain.Account, error) {
	var out []domain.Account
	err := db.WithContext(ctx).
		Select("username", "visible_name", "created_at", "updated_at").
		Where("username <> ?", username).
		Order("username ASC").
		Find(&out).Error
	return out, err
}

// UpdatePasswordHash replaces the stored credential hash.
func UpdatePasswordHash(ctx context.Context, db *gorm.DB, username, hash string) error {
	return updateAccount(ctx, db, username, map[string]any{"password_hash": hash})
}

// UpdateVisibleName sets the display name.
func UpdateVisibleName(ctx context.Context, db *gorm.DB, username, name string) error {
	return updateAccount(ctx, db, username, map[string]any{"visible_name": name})
}

// UpdateAvatar stores a profile picture; nil data clears it.
func UpdateAvatar(ctx context.Context, db *gorm.DB, username string, data []byte, contentType string) error {
	var avatar any
	if data != nil {
		avatar = data
	}
	return updateAccount(ctx, db, username, map[string]any{
		"avatar":      avatar,
		"avatar_type": contentType,
	})
}

func updateAccount(ctx context.Context, db *gorm.DB, username string, cols map[string]any) error {
	cols["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Account{}).Where("username = ?", username).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
