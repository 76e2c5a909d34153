package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
)

// Memory implements the same operations as Postgres without a database. It
// backs local runs without POSTGRES_URL and the tests of other packages.
type Memory struct {
	mu      sync.Mutex
	rooms   map[string]*models.RoomRow
	rounds  []models.RoundRecord
	results []models.GameResult
	usage   map[string]int
	nextID  int64
	err     error
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[string]*models.RoomRow),
		usage: make(map[string]int),
	}
}

func usageKey(userID string, day time.Time) string {
	return userID + "|" + day.UTC().Format(time.DateOnly)
}

func (m *Memory) CreateRoom(ctx context.Context, room *models.RoomRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.rooms[room.ID]; ok {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	now := time.Now()
	room.CreatedAt, room.UpdatedAt = now, now
	if room.Match < 1 {
		room.Match = 1
	}
	cp := *room
	m.rooms[room.ID] = &cp
	return nil
}

func (m *Memory) SetGuest(ctx context.Context, roomID, guestID, guestName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	r.GuestID = sql.NullString{String: guestID, Valid: guestID != ""}
	r.GuestName = sql.NullString{String: guestName, Valid: guestName != ""}
	r.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetStatus(ctx context.Context, roomID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if r, ok := m.rooms[roomID]; ok {
		r.Status = status
		r.UpdatedAt = time.Now()
	}
	return nil
}

func (m *Memory) SetMatch(ctx context.Context, roomID string, match int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if r, ok := m.rooms[roomID]; ok {
		r.Match = match
		r.UpdatedAt = time.Now()
	}
	return nil
}

func (m *Memory) FindByCode(ctx context.Context, code string) (*models.RoomRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	code = strings.ToUpper(code)
	now := time.Now()
	for _, r := range m.rooms {
		if r.Code == code && !models.IsTerminalStatus(r.Status) && r.ExpiresAt.After(now) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindByID(ctx context.Context, roomID string) (*models.RoomRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.rooms[roomID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) ExpireStaleRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, r := range m.rooms {
		if !models.IsTerminalStatus(r.Status) && r.ExpiresAt.Before(cutoff) {
			r.Status = models.RoomStatusExpired
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertRound(ctx context.Context, r *models.RoundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.rounds {
		if existing.RoomID == r.RoomID && existing.Match == r.Match && existing.Round == r.Round {
			return fmt.Errorf("round %d of match %d in room %s already recorded", r.Round, r.Match, r.RoomID)
		}
	}
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = time.Now()
	m.rounds = append(m.rounds, *r)
	return nil
}

func (m *Memory) SumPoints(ctx context.Context, roomID string, match int, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	points := 0
	for _, r := range m.rounds {
		if r.RoomID != roomID || r.Match != match {
			continue
		}
		switch userID {
		case r.Player1ID:
			points += r.Player1.Scores.Total
		case r.Player2ID:
			points += r.Player2.Scores.Total
		}
	}
	return points, nil
}

func (m *Memory) InsertGameResult(ctx context.Context, r *models.GameResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.results {
		if existing.RoomID == r.RoomID && existing.Match == r.Match && existing.UserID == r.UserID {
			return nil
		}
	}
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = time.Now()
	m.results = append(m.results, *r)
	return nil
}

func (m *Memory) DailyUsage(ctx context.Context, userID string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.usage[usageKey(userID, day)], nil
}

func (m *Memory) IncrementDailyUsage(ctx context.Context, userID string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.usage[usageKey(userID, day)]++
	return nil
}

func (m *Memory) ListRounds(ctx context.Context, roomID string) ([]models.RoundRecord, error) {
	if err := m.failure(); err != nil {
		return nil, err
	}
	rounds := m.Rounds(roomID)
	sort.SliceStable(rounds, func(i, j int) bool {
		if rounds[i].Match != rounds[j].Match {
			return rounds[i].Match < rounds[j].Match
		}
		return rounds[i].Round < rounds[j].Round
	})
	return rounds, nil
}

func (m *Memory) ListResultsByUser(ctx context.Context, userID string, limit int) ([]models.GameResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []models.GameResult
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		if m.results[i].UserID == userID {
			out = append(out, m.results[i])
		}
	}
	return out, nil
}

func (m *Memory) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Rounds returns a copy of the recorded rounds of a room.
func (m *Memory) Rounds(roomID string) []models.RoundRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RoundRecord
	for _, r := range m.rounds {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	return out
}

// Results returns a copy of the game results of a room.
func (m *Memory) Results(roomID string) []models.GameResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GameResult
	for _, r := range m.results {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	return out
}

// SetError makes every following call fail with err (nil restores).
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
