package models

import (
	"database/sql"
	"time"
)

// Durable room statuses. Finished, abandoned and expired are terminal.
const (
	RoomStatusWaiting   = "waiting"
	RoomStatusPlaying   = "playing"
	RoomStatusFinished  = "finished"
	RoomStatusAbandoned = "abandoned"
	RoomStatusExpired   = "expired"
)

// RoomRow is the durable linkage between a room and its players.
type RoomRow struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	HostID    string         `json:"host_id"`
	HostName  string         `json:"host_name"`
	GuestID   sql.NullString `json:"guest_id"`
	GuestName sql.NullString `json:"guest_name"`
	Status    string         `json:"status"`
	Match     int            `json:"match"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func IsTerminalStatus(status string) bool {
	switch status {
	case RoomStatusFinished, RoomStatusAbandoned, RoomStatusExpired:
		return true
	}
	return false
}
