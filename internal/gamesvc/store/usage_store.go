package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageStore keeps the per-user, per-day match counter.
type UsageStore struct {
	db *pgxpool.Pool
}

func NewUsageStore(db *pgxpool.Pool) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) DailyUsage(ctx context.Context, userID string, day time.Time) (int, error) {
	var games int
	err := s.db.QueryRow(ctx,
		`SELECT games FROM daily_usage WHERE user_id = $1 AND day = $2`,
		userID, day,
	).Scan(&games)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read daily usage: %w", err)
	}
	return games, nil
}

func (s *UsageStore) IncrementDailyUsage(ctx context.Context, userID string, day time.Time) error {
	query := `
		INSERT INTO daily_usage (user_id, day, games)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET games = daily_usage.games + 1`

	if _, err := s.db.Exec(ctx, query, userID, day); err != nil {
		return fmt.Errorf("failed to increment daily usage: %w", err)
	}
	return nil
}
