// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for chat pairings
// and the links that assign messages to them.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
// Callers pass pairs already in canonical order (domain.CanonicalPair).
//
// Functions:
//
//   - UpsertPairing(ctx, db, userA, userB) -> error
//     Creates the pairing if missing; an existing pairing is a no-op.
//
//   - CreateChatMessageLink(ctx, db, messageID, userA, userB) -> error
//     Assigns a message to its pairing.
//
//   - ListPairings(ctx, db, username) -> []domain.ChatPairing, error
//     Returns every pairing the user belongs to.
//
// Usage:
//
//	err := db.Transaction(func(tx *gorm.DB) error {
//	    if err := repo.UpsertPairing(ctx, tx, a, b); err != nil {
//	        return err
//	    }
//	    return repo.CreateChatMessageLink(ctx, tx, msg.ID, a, b)
//	})
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

// UpsertPairing inserts (userA, userB) with ON CONFLICT DO NOTHING so that
// concurrent first messages between the same users all succeed.
func UpsertPairing(ctx context.Context, db *gorm.DB, userA, userB string) error {
	p := &domain.ChatPairing{
		UserA:     userA,
		UserB:     userB,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p).Error
}

// CreateChatMessageLink assigns messageID to the pairing (userA, userB).
func CreateChatMessageLink(ctx context.Context, db *gorm.DB, messageID uint, userA, userB string) error {
	l := &domain.ChatMessageLink{
		MessageID: messageID,
		UserA:     userA,
		UserB:     userB,
	}
	return db.WithContext(ctx).Create(l).Error
}

// ListPairings returns the pairings username takes part in, most recent first.
func ListPairings(ctx context.Context, db *gorm.DB, username string) ([]domain.ChatPairing, error) {
	var out []domain.ChatPairing
	err := db.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", username, username).
		Order("created_at DESC, user_a ASC, user_b ASC").
		Find(&out).Error
	return out, err
}

// CountPairings returns how many pairings exist between userA and userB (0 or 1).
func CountPairings(ctx context.Context, db *gorm.DB, userA, userB string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ChatPairing{}).
		Where("user_a = ? AND user_b = ?", userA, userB).
		Count(&n).Error
	return n, err
}
