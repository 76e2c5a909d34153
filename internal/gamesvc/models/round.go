package models

import (
	"database/sql"
	"time"
)

// Scores is the judged result of one justification. Sub-scores are 0-10.
type Scores struct {
	Logic      int    `json:"logic"`
	Coherence  int    `json:"coherence"`
	Creativity int    `json:"creativity"`
	Feedback   string `json:"feedback"`
	Total      int    `json:"total"`
}

// RoundRecord is appended once per judged round.
type RoundRecord struct {
	ID        int64          `json:"id"`
	RoomID    string         `json:"room_id"`
	Match     int            `json:"match"`
	Round     int            `json:"round"`
	Scenario  Scenario       `json:"scenario"`
	Player1ID string         `json:"player1_id"`
	Player1   RoundEntry     `json:"player1"`
	Player2ID string         `json:"player2_id"`
	Player2   RoundEntry     `json:"player2"`
	WinnerID  sql.NullString `json:"winner_id"` // null means tie
	CreatedAt time.Time      `json:"created_at"`
}

type RoundEntry struct {
	Choice Choice `json:"choice"`
	Reason string `json:"reason"`
	Scores Scores `json:"scores"`
}
