package room

import (
	"sync"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
)

// Player is one seat of a room. It is only mutated with the room lock held.
type Player struct {
	UserID         string
	Name           string
	SocketID       string
	Connected      bool
	LastHeartbeat  time.Time
	DisconnectedAt time.Time
	Ready          bool

	Choice     models.Choice
	Reason     string
	Submitted  bool
	TimedOut   bool
	Scores     *models.Scores
	RoundTotal int
	Points     int
}

func newPlayer(userID, name string, now time.Time) *Player {
	// not connected until a socket binds to the seat
	return &Player{UserID: userID, Name: name, DisconnectedAt: now}
}

// ResetRound clears everything a player did in the previous round.
func (p *Player) ResetRound() {
	p.Choice = models.ChoiceNone
	p.Reason = ""
	p.Submitted = false
	p.TimedOut = false
	p.Scores = nil
	p.RoundTotal = 0
}

func (p *Player) Attach(socketID string, now time.Time) {
	p.SocketID = socketID
	p.Connected = true
	p.LastHeartbeat = now
	p.DisconnectedAt = time.Time{}
}

func (p *Player) Detach(now time.Time) {
	p.SocketID = ""
	p.Connected = false
	p.Ready = false
	p.DisconnectedAt = now
}

// Room is one live match. Callers take the lock around any read or write of
// its fields; the lock is never held across a judge call or a durable write.
// Match numbers the matches played in the room, starting at 1; durable
// rounds and results are keyed by it.
type Room struct {
	mu sync.Mutex

	ID        string
	Code      string
	Match     int
	Host      *Player
	Guest     *Player
	Phase     models.Phase
	Round     int
	Scenario  *models.Scenario
	HostWins  int
	GuestWins int

	CreatedAt      time.Time
	ExpiresAt      time.Time
	PhaseStartedAt time.Time
	PhaseDeadline  time.Time

	History []models.RoundRecord

	// InFlight is set while a scenario or judge call runs for this room.
	InFlight bool
	// CreditedTo names the player already given this round's win by a
	// choosing timeout.
	CreditedTo string

	seq    uint64
	closed bool
	clock  *clock
}

func newRoom(id, code string, host *Player, now time.Time, ttl time.Duration) *Room {
	return &Room{
		ID:             id,
		Code:           code,
		Match:          1,
		Host:           host,
		Phase:          models.PhaseWaiting,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		PhaseStartedAt: now,
	}
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

// Seq identifies the current phase instance. It changes on every transition.
func (r *Room) Seq() uint64 { return r.seq }

// Closed reports whether the room was removed from the registry.
func (r *Room) Closed() bool { return r.closed }

// SetPhase moves the room to p, cancels the running clock and returns the
// new phase sequence number. A zero limit leaves the phase without deadline.
func (r *Room) SetPhase(p models.Phase, now time.Time, limit time.Duration) uint64 {
	r.stopClock()
	r.Phase = p
	r.seq++
	r.PhaseStartedAt = now
	r.PhaseDeadline = time.Time{}
	if limit > 0 {
		r.PhaseDeadline = now.Add(limit)
	}
	return r.seq
}

// TimeLeft is the remaining time of the current phase, zero without deadline.
func (r *Room) TimeLeft(now time.Time) time.Duration {
	if r.PhaseDeadline.IsZero() || now.After(r.PhaseDeadline) {
		return 0
	}
	return r.PhaseDeadline.Sub(now)
}

// Players returns the occupied seats, host first.
func (r *Room) Players() []*Player {
	if r.Guest == nil {
		return []*Player{r.Host}
	}
	return []*Player{r.Host, r.Guest}
}

// Seat returns the player with userID and the opponent (nil when absent).
func (r *Room) Seat(userID string) (me, opponent *Player) {
	switch {
	case r.Host != nil && r.Host.UserID == userID:
		return r.Host, r.Guest
	case r.Guest != nil && r.Guest.UserID == userID:
		return r.Guest, r.Host
	}
	return nil, nil
}

// WinsOf returns the round wins of userID.
func (r *Room) WinsOf(userID string) int {
	switch {
	case r.Host != nil && r.Host.UserID == userID:
		return r.HostWins
	case r.Guest != nil && r.Guest.UserID == userID:
		return r.GuestWins
	}
	return 0
}

// Credit gives userID one round win.
func (r *Room) Credit(userID string) {
	switch {
	case r.Host != nil && r.Host.UserID == userID:
		r.HostWins++
	case r.Guest != nil && r.Guest.UserID == userID:
		r.GuestWins++
	}
}

// resetToWaiting puts the room back to its initial phase after the guest left
// and opens a new match number for whoever joins next.
func (r *Room) resetToWaiting(now time.Time) {
	r.SetPhase(models.PhaseWaiting, now, 0)
	r.Match++
	r.Guest = nil
	r.Round = 0
	r.Scenario = nil
	r.HostWins, r.GuestWins = 0, 0
	r.History = nil
	r.InFlight = false
	r.CreditedTo = ""
	r.Host.ResetRound()
	r.Host.Ready = false
	r.Host.Points = 0
}
