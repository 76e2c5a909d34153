package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoomStore struct {
	db *pgxpool.Pool
}

func NewRoomStore(db *pgxpool.Pool) *RoomStore {
	return &RoomStore{db: db}
}

const roomColumns = `id, code, host_id, host_name, guest_id, guest_name, status, match_no, created_at, expires_at, updated_at`

func scanRoom(row pgx.Row) (*models.RoomRow, error) {
	r := &models.RoomRow{}
	err := row.Scan(
		&r.ID,
		&r.Code,
		&r.HostID,
		&r.HostName,
		&r.GuestID,
		&r.GuestName,
		&r.Status,
		&r.Match,
		&r.CreatedAt,
		&r.ExpiresAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateRoom inserts a new waiting room. CreatedAt and UpdatedAt are filled
// from the database.
func (s *RoomStore) CreateRoom(ctx context.Context, room *models.RoomRow) error {
	query := `
		INSERT INTO rooms (id, code, host_id, host_name, status, match_no, expires_at)
		VALUES ($1, $2, $3, $4, $5, GREATEST($6::int, 1), $7)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		room.ID,
		room.Code,
		room.HostID,
		room.HostName,
		room.Status,
		room.Match,
		room.ExpiresAt,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create room %s: %w", room.Code, err)
	}
	return nil
}

// SetGuest links a guest to the room. An empty guestID clears the slot.
func (s *RoomStore) SetGuest(ctx context.Context, roomID, guestID, guestName string) error {
	query := `
		UPDATE rooms
		SET guest_id = NULLIF($2, ''), guest_name = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, roomID, guestID, guestName); err != nil {
		return fmt.Errorf("failed to set guest for room %s: %w", roomID, err)
	}
	return nil
}

func (s *RoomStore) SetStatus(ctx context.Context, roomID, status string) error {
	query := `UPDATE rooms SET status = $2, updated_at = NOW() WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, roomID, status); err != nil {
		return fmt.Errorf("failed to set status %s for room %s: %w", status, roomID, err)
	}
	return nil
}

// SetMatch records the number of the match the room hosts next.
func (s *RoomStore) SetMatch(ctx context.Context, roomID string, match int) error {
	query := `UPDATE rooms SET match_no = $2, updated_at = NOW() WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, roomID, match); err != nil {
		return fmt.Errorf("failed to set match %d for room %s: %w", match, roomID, err)
	}
	return nil
}

// FindByCode returns the live room holding code, or nil when there is none.
func (s *RoomStore) FindByCode(ctx context.Context, code string) (*models.RoomRow, error) {
	query := `
		SELECT ` + roomColumns + `
		FROM rooms
		WHERE code = $1 AND status IN ('waiting', 'playing') AND expires_at > NOW()
		LIMIT 1`

	room, err := scanRoom(s.db.QueryRow(ctx, query, strings.ToUpper(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room by code: %w", err)
	}
	return room, nil
}

func (s *RoomStore) FindByID(ctx context.Context, roomID string) (*models.RoomRow, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

	room, err := scanRoom(s.db.QueryRow(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room by ID: %w", err)
	}
	return room, nil
}

// ExpireStaleRooms marks every live row whose expiry is before cutoff as
// expired and returns how many rows changed.
func (s *RoomStore) ExpireStaleRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE rooms
		SET status = 'expired', updated_at = NOW()
		WHERE status IN ('waiting', 'playing') AND expires_at < $1`

	tag, err := s.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}
