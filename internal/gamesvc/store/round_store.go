package store

import (
	"context"
	"fmt"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoundStore struct {
	db *pgxpool.Pool
}

func NewRoundStore(db *pgxpool.Pool) *RoundStore {
	return &RoundStore{db: db}
}

// InsertRound appends a judged round. Writing the same round of a match twice
// is rejected by the unique_room_match_round constraint.
func (s *RoundStore) InsertRound(ctx context.Context, r *models.RoundRecord) error {
	const query = `
INSERT INTO game_rounds (
  room_id, match_no, round, scenario,
  player1_id, player1_choice, player1_reason, player1_scores,
  player2_id, player2_choice, player2_reason, player2_scores,
  winner_id
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id, created_at;
`
	err := s.db.QueryRow(ctx, query,
		r.RoomID, r.Match, r.Round, r.Scenario,
		r.Player1ID, string(r.Player1.Choice), r.Player1.Reason, r.Player1.Scores,
		r.Player2ID, string(r.Player2.Choice), r.Player2.Reason, r.Player2.Scores,
		r.WinnerID,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return fmt.Errorf("round %d of match %d in room %s already recorded", r.Round, r.Match, r.RoomID)
		}
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

// SumPoints adds up a player's judged totals over the recorded rounds of one
// match of a room.
func (s *RoundStore) SumPoints(ctx context.Context, roomID string, match int, userID string) (int, error) {
	const query = `
SELECT COALESCE(SUM(
  CASE
    WHEN player1_id = $3 THEN (player1_scores->>'total')::int
    WHEN player2_id = $3 THEN (player2_scores->>'total')::int
  END
), 0)
FROM game_rounds
WHERE room_id = $1 AND match_no = $2`

	var points int
	if err := s.db.QueryRow(ctx, query, roomID, match, userID).Scan(&points); err != nil {
		return 0, fmt.Errorf("failed to sum points: %w", err)
	}
	return points, nil
}

// ListRounds returns the recorded rounds of every match of a room in play
// order.
func (s *RoundStore) ListRounds(ctx context.Context, roomID string) ([]models.RoundRecord, error) {
	const query = `
SELECT id, room_id, match_no, round, scenario,
       player1_id, player1_choice, player1_reason, player1_scores,
       player2_id, player2_choice, player2_reason, player2_scores,
       winner_id, created_at
FROM game_rounds
WHERE room_id = $1
ORDER BY match_no, round`

	rows, err := s.db.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.RoundRecord
	for rows.Next() {
		var r models.RoundRecord
		var choice1, choice2 string
		if err := rows.Scan(
			&r.ID, &r.RoomID, &r.Match, &r.Round, &r.Scenario,
			&r.Player1ID, &choice1, &r.Player1.Reason, &r.Player1.Scores,
			&r.Player2ID, &choice2, &r.Player2.Reason, &r.Player2.Scores,
			&r.WinnerID, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		r.Player1.Choice = models.Choice(choice1)
		r.Player2.Choice = models.Choice(choice2)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}
