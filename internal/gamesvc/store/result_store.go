package store

import (
	"context"
	"fmt"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ResultStore struct {
	db *pgxpool.Pool
}

func NewResultStore(db *pgxpool.Pool) *ResultStore {
	return &ResultStore{db: db}
}

// InsertGameResult writes one player's final result. A second write for the
// same match and user is ignored; results are never updated.
func (s *ResultStore) InsertGameResult(ctx context.Context, r *models.GameResult) error {
	query := `
		INSERT INTO game_results (room_id, match_no, user_id, opponent_id, points, rounds_won, rounds_played, won)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT unique_room_match_user DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		r.RoomID,
		r.Match,
		r.UserID,
		r.OpponentID,
		r.Points,
		r.RoundsWon,
		r.RoundsPlayed,
		r.Won,
	)
	if err != nil {
		return fmt.Errorf("failed to insert game result for %s: %w", r.UserID, err)
	}
	return nil
}

// ListResultsByUser returns a player's most recent results, newest first.
func (s *ResultStore) ListResultsByUser(ctx context.Context, userID string, limit int) ([]models.GameResult, error) {
	query := `
		SELECT id, room_id, match_no, user_id, opponent_id, points, rounds_won, rounds_played, won, created_at
		FROM game_results
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results for %s: %w", userID, err)
	}
	defer rows.Close()

	var results []models.GameResult
	for rows.Next() {
		var r models.GameResult
		if err := rows.Scan(
			&r.ID,
			&r.RoomID,
			&r.Match,
			&r.UserID,
			&r.OpponentID,
			&r.Points,
			&r.RoundsWon,
			&r.RoundsPlayed,
			&r.Won,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan game result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
