package models

import "time"

// GameResult is written once per player when a match ends.
type GameResult struct {
	ID           int64     `json:"id"`
	RoomID       string    `json:"room_id"`
	Match        int       `json:"match"`
	UserID       string    `json:"user_id"`
	OpponentID   string    `json:"opponent_id"`
	Points       int       `json:"points"`
	RoundsWon    int       `json:"rounds_won"`
	RoundsPlayed int       `json:"rounds_played"`
	Won          bool      `json:"won"`
	CreatedAt    time.Time `json:"created_at"`
}
