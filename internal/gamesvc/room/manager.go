// Package room owns the registry of live rooms and mirrors it to the
// durable store.
package room

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	log "github.com/sirupsen/logrus"
)

// CodeAlphabet leaves out I, O, 0 and 1.
const (
	CodeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength     = 6
	maxCodeRetries = 10
)

// Store is the durable side of the registry.
type Store interface {
	CreateRoom(ctx context.Context, room *models.RoomRow) error
	SetGuest(ctx context.Context, roomID, guestID, guestName string) error
	SetStatus(ctx context.Context, roomID, status string) error
	SetMatch(ctx context.Context, roomID string, match int) error
	FindByCode(ctx context.Context, code string) (*models.RoomRow, error)
	FindByID(ctx context.Context, roomID string) (*models.RoomRow, error)
	ExpireStaleRooms(ctx context.Context, cutoff time.Time) (int64, error)
}

// RemovedFunc is called after a room left the registry, without any lock held.
type RemovedFunc func(r *Room, reason string)

type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	byCode   map[string]string
	byPlayer map[string]string

	cfg     config.RoomConfig
	store   Store
	persist *Persister

	onRemoved RemovedFunc
	now       func() time.Time
	newCode   func() (string, error)
	sweeper   *sweeper
}

func NewManager(cfg config.RoomConfig, store Store) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		byCode:   make(map[string]string),
		byPlayer: make(map[string]string),
		cfg:      cfg,
		store:    store,
		persist:  NewPersister(256),
		now:      time.Now,
		newCode: func() (string, error) {
			return gonanoid.Generate(CodeAlphabet, CodeLength)
		},
	}
}

// Persister returns the ordered writer shared by everything touching rooms.
func (m *Manager) Persister() *Persister {
	return m.persist
}

// OnRemoved registers the hook fired for every removed room.
func (m *Manager) OnRemoved(fn RemovedFunc) {
	m.onRemoved = fn
}

func (m *Manager) CreateRoom(ctx context.Context, hostID, hostName string) (*Room, error) {
	now := m.now()

	m.mu.Lock()
	if m.seatedElsewhere(hostID, "") {
		m.mu.Unlock()
		return nil, ErrAlreadyInRoom
	}
	code, err := m.allocateCode()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	r := newRoom(uuid.New().String(), code, newPlayer(hostID, hostName, now), now, m.cfg.TTL)
	m.register(r)
	m.mu.Unlock()

	row := &models.RoomRow{
		ID:        r.ID,
		Code:      r.Code,
		HostID:    hostID,
		HostName:  hostName,
		Status:    models.RoomStatusWaiting,
		Match:     r.Match,
		ExpiresAt: r.ExpiresAt,
	}
	m.persist.Enqueue("create room", func(ctx context.Context) error {
		return m.store.CreateRoom(ctx, row)
	})

	log.WithFields(log.Fields{"room": r.ID, "code": code, "host": hostID}).Info("room created")
	return r, nil
}

// allocateCode must be called with m.mu held.
func (m *Manager) allocateCode() (string, error) {
	for i := 0; i < maxCodeRetries; i++ {
		code, err := m.newCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := m.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// seatedElsewhere reports whether userID holds a seat in a live room other
// than roomID. It must be called with m.mu held.
func (m *Manager) seatedElsewhere(userID, roomID string) bool {
	id, ok := m.byPlayer[userID]
	if !ok || id == roomID {
		return false
	}
	_, live := m.rooms[id]
	return live
}

// register must be called with m.mu held.
func (m *Manager) register(r *Room) {
	m.rooms[r.ID] = r
	m.byCode[r.Code] = r.ID
	for _, p := range r.Players() {
		m.byPlayer[p.UserID] = r.ID
	}
}

// JoinRoom seats guestID in the room behind code. Joining again as the same
// guest returns the room unchanged.
func (m *Manager) JoinRoom(ctx context.Context, code, guestID, guestName string) (*Room, error) {
	r, err := m.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	r.Lock()
	switch {
	case r.closed:
		r.Unlock()
		return nil, ErrRoomNotFound
	case r.Host.UserID == guestID:
		r.Unlock()
		return nil, ErrHostCannotJoin
	case r.Guest != nil && r.Guest.UserID == guestID:
		r.Unlock()
		return r, nil
	case r.Guest != nil:
		r.Unlock()
		return nil, ErrRoomFull
	case r.Phase != models.PhaseWaiting:
		r.Unlock()
		return nil, ErrGameInProgress
	}
	m.mu.Lock()
	if m.seatedElsewhere(guestID, r.ID) {
		m.mu.Unlock()
		r.Unlock()
		return nil, ErrAlreadyInRoom
	}
	m.byPlayer[guestID] = r.ID
	m.mu.Unlock()
	r.Guest = newPlayer(guestID, guestName, m.now())
	r.Unlock()

	m.persist.Enqueue("join room", func(ctx context.Context) error {
		return m.store.SetGuest(ctx, r.ID, guestID, guestName)
	})

	log.WithFields(log.Fields{"room": r.ID, "guest": guestID}).Info("guest joined room")
	return r, nil
}

// LeaveResult tells the caller what leaving did to the room.
type LeaveResult struct {
	Room     *Room
	HostLeft bool
	// Remaining is the player still seated, nil when the room was torn down
	// without a guest.
	Remaining *Player
}

// LeaveRoom removes userID from its room. A leaving host tears the room
// down; a leaving guest puts it back to waiting for a second player.
func (m *Manager) LeaveRoom(ctx context.Context, userID string) (*LeaveResult, error) {
	r := m.GetByPlayer(userID)
	if r == nil {
		return nil, ErrNotInRoom
	}

	r.Lock()
	me, opponent := r.Seat(userID)
	if r.closed || me == nil {
		r.Unlock()
		return nil, ErrNotInRoom
	}

	if me == r.Host {
		r.Unlock()
		m.Remove(r, models.RoomStatusAbandoned, "host left")
		return &LeaveResult{Room: r, HostLeft: true, Remaining: opponent}, nil
	}

	r.resetToWaiting(m.now())
	match := r.Match
	m.mu.Lock()
	if m.byPlayer[userID] == r.ID {
		delete(m.byPlayer, userID)
	}
	m.mu.Unlock()
	r.Unlock()

	m.persist.Enqueue("leave room", func(ctx context.Context) error {
		if err := m.store.SetGuest(ctx, r.ID, "", ""); err != nil {
			return err
		}
		if err := m.store.SetMatch(ctx, r.ID, match); err != nil {
			return err
		}
		return m.store.SetStatus(ctx, r.ID, models.RoomStatusWaiting)
	})

	log.WithFields(log.Fields{"room": r.ID, "guest": userID}).Info("guest left room")
	return &LeaveResult{Room: r, Remaining: opponent}, nil
}

// Restore merges a durable row into the registry. An existing entry keeps
// its live connection state; only linkage the row adds is taken over.
func (m *Manager) Restore(row *models.RoomRow) (*Room, error) {
	if row == nil || models.IsTerminalStatus(row.Status) {
		return nil, ErrRoomNotFound
	}
	now := m.now()

	if r := m.Get(row.ID); r != nil {
		m.reconcile(r, row, now)
		return r, nil
	}

	r := newRoom(row.ID, row.Code, newPlayer(row.HostID, row.HostName, now), row.CreatedAt, 0)
	r.ExpiresAt = row.ExpiresAt
	if row.Match > 0 {
		r.Match = row.Match
	}
	if row.GuestID.Valid && row.GuestID.String != "" {
		r.Guest = newPlayer(row.GuestID.String, row.GuestName.String, now)
	}
	// a match cut short by a restart cannot resume; its rounds stay under
	// the old number and the room waits for a fresh start
	resumed := row.Status == models.RoomStatusPlaying
	if resumed {
		r.Match++
	}

	m.mu.Lock()
	if existing, ok := m.rooms[row.ID]; ok {
		// lost a race with another restore
		m.mu.Unlock()
		m.reconcile(existing, row, now)
		return existing, nil
	}
	m.register(r)
	m.mu.Unlock()

	if resumed {
		roomID, match := r.ID, r.Match
		m.persist.Enqueue("restore room", func(ctx context.Context) error {
			if err := m.store.SetMatch(ctx, roomID, match); err != nil {
				return err
			}
			return m.store.SetStatus(ctx, roomID, models.RoomStatusWaiting)
		})
	}

	log.WithFields(log.Fields{"room": r.ID, "code": r.Code, "match": r.Match}).Info("room restored from store")
	return r, nil
}

func (m *Manager) reconcile(r *Room, row *models.RoomRow, now time.Time) {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		return
	}
	if row.ExpiresAt.After(r.ExpiresAt) {
		r.ExpiresAt = row.ExpiresAt
	}
	if r.Guest == nil && row.GuestID.Valid && row.GuestID.String != "" && r.Phase == models.PhaseWaiting {
		r.Guest = newPlayer(row.GuestID.String, row.GuestName.String, now)
		m.mu.Lock()
		m.byPlayer[r.Guest.UserID] = r.ID
		m.mu.Unlock()
	}
	if r.Host.Name == "" {
		r.Host.Name = row.HostName
	}
	if r.Guest != nil && r.Guest.Name == "" && row.GuestName.Valid {
		r.Guest.Name = row.GuestName.String
	}
}

// Resolve finds a live room by code, falling back to the durable store.
func (m *Manager) Resolve(ctx context.Context, code string) (*Room, error) {
	if r := m.GetByCode(code); r != nil {
		return r, nil
	}

	row, err := m.store.FindByCode(ctx, strings.ToUpper(code))
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", code, err)
	}
	if row == nil {
		return nil, ErrRoomNotFound
	}
	return m.Restore(row)
}

// ResolveID is Resolve by room id.
func (m *Manager) ResolveID(ctx context.Context, roomID string) (*Room, error) {
	if r := m.Get(roomID); r != nil {
		return r, nil
	}

	row, err := m.store.FindByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("find room %s: %w", roomID, err)
	}
	if row == nil {
		return nil, ErrRoomNotFound
	}
	return m.Restore(row)
}

func (m *Manager) Get(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

func (m *Manager) GetByCode(code string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCode[strings.ToUpper(code)]
	if !ok {
		return nil
	}
	return m.rooms[id]
}

func (m *Manager) GetByPlayer(userID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPlayer[userID]
	if !ok {
		return nil
	}
	return m.rooms[id]
}

// Count is the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Remove closes r, drops it from every index, writes status and fires the
// removal hook. Removing a closed room does nothing.
func (m *Manager) Remove(r *Room, status, reason string) {
	r.Lock()
	if r.closed {
		r.Unlock()
		return
	}
	r.closed = true
	r.stopClock()

	m.mu.Lock()
	if m.rooms[r.ID] == r {
		delete(m.rooms, r.ID)
	}
	if m.byCode[r.Code] == r.ID {
		delete(m.byCode, r.Code)
	}
	for _, p := range r.Players() {
		if m.byPlayer[p.UserID] == r.ID {
			delete(m.byPlayer, p.UserID)
		}
	}
	m.mu.Unlock()
	r.Unlock()

	m.persist.Enqueue("close room", func(ctx context.Context) error {
		return m.store.SetStatus(ctx, r.ID, status)
	})

	log.WithFields(log.Fields{"room": r.ID, "status": status, "reason": reason}).Info("room removed")
	if m.onRemoved != nil {
		m.onRemoved(r, reason)
	}
}

// Close stops the sweeper and flushes pending writes.
func (m *Manager) Close() {
	if m.sweeper != nil {
		m.sweeper.stop()
	}
	m.persist.Close()
}
