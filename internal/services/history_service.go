// Package services – HistoryService
//
// HistoryService reads the conversation between two users. Only the two
// participants may read it. Results are the newest messages up to a limit,
// returned oldest first, each with its attachment state.
package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/domain"
	"github.com/tbourn/go-dm-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HistoryService serves conversation history.
type HistoryService struct {
	DB *gorm.DB
	// DefaultLimit applies when the caller passes limit <= 0.
	DefaultLimit int
}

// NewHistoryService constructs a HistoryService with a default limit of 100.
func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{DB: db, DefaultLimit: 100}
}

// GetHistory returns up to limit of the most recent messages between userA
// and userB in ascending id order. The parties may be given in either order.
func (s *HistoryService) GetHistory(ctx context.Context, userA, userB string, limit int, requester string) ([]domain.HistoryEntry, error) {
	tr := otel.Tracer("services/HistoryService")
	ctx, span := tr.Start(ctx, "GetHistory",
		trace.WithAttributes(
			attribute.String("requester", requester),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	a, b, err := s.authorize(userA, userB, requester)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.defaultLimit()
	}

	rows, err := repo.ListHistory(ctx, s.DB, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	out := make([]domain.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Entry())
	}
	span.SetAttributes(attribute.Int("history.count", len(out)))
	return out, nil
}

// Partners lists the users requester has a conversation with.
func (s *HistoryService) Partners(ctx context.Context, requester string) ([]string, error) {
	me := domain.NormalizeUsername(requester)
	pairs, err := repo.ListPairings(ctx, s.DB, me)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.UserA == me {
			out = append(out, p.UserB)
		} else {
			out = append(out, p.UserA)
		}
	}
	return out, nil
}

// authorize validates the pair and returns it in canonical order.
func (s *HistoryService) authorize(userA, userB, requester string) (string, string, error) {
	a := domain.NormalizeUsername(userA)
	b := domain.NormalizeUsername(userB)
	me := domain.NormalizeUsername(requester)

	if a == "" || b == "" {
		return "", "", fmt.Errorf("%w: both usernames are required", ErrInvalidRequest)
	}
	if a == b {
		return "", "", fmt.Errorf("%w: usernames must differ", ErrInvalidRequest)
	}
	if me != a && me != b {
		return "", "", fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
	}
	a, b = domain.CanonicalPair(a, b)
	return a, b, nil
}

func (s *HistoryService) defaultLimit() int {
	if s.DefaultLimit > 0 {
		return s.DefaultLimit
	}
	return 100
}
