package room

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/models"
	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Sweep removes rooms past their expiry, rooms that waited too long for a
// second player and rooms every player left longer than the disconnect
// grace ago. It returns how many rooms were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	live := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		live = append(live, r)
	}
	m.mu.RUnlock()

	removed := 0
	for _, r := range live {
		status, reason := m.verdict(r, now)
		if status == "" {
			continue
		}
		m.Remove(r, status, reason)
		removed++
	}
	return removed
}

func (m *Manager) verdict(r *Room, now time.Time) (status, reason string) {
	r.Lock()
	defer r.Unlock()

	switch {
	case r.closed:
		return "", ""
	case now.After(r.ExpiresAt):
		return models.RoomStatusExpired, "room expired"
	case r.Guest == nil && r.Phase == models.PhaseWaiting && now.Sub(r.CreatedAt) > m.cfg.WaitingGrace:
		return models.RoomStatusAbandoned, "no second player joined"
	}

	for _, p := range r.Players() {
		if p.Connected || now.Sub(p.DisconnectedAt) <= m.cfg.DisconnectGrace {
			return "", ""
		}
	}
	return models.RoomStatusAbandoned, "all players disconnected"
}

// ExpireDurable marks stale durable rows as expired, independent of what
// this process holds in memory.
func (m *Manager) ExpireDurable(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.ExpireStaleRooms(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("expired %d stale room rows", n)
	}
	return n, nil
}

type sweeper struct {
	sched gocron.Scheduler
}

func (s *sweeper) stop() {
	if err := s.sched.Shutdown(); err != nil {
		log.Warnf("Error [sweeper.stop] %s", err)
	}
}

// StartSweeper runs Sweep and ExpireDurable every SweepInterval.
func (m *Manager) StartSweeper() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("room sweeper: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(m.cfg.SweepInterval),
		gocron.NewTask(func() {
			now := m.now()
			if n := m.Sweep(now); n > 0 {
				log.Infof("room sweep removed %d rooms", n)
			}

			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if _, err := m.ExpireDurable(ctx, now); err != nil {
				log.Errorf("Error [Manager.ExpireDurable] %s", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("room sweeper job: %w", err)
	}

	sched.Start()
	m.sweeper = &sweeper{sched: sched}
	log.Infof("room sweeper running every %s", m.cfg.SweepInterval)
	return nil
}
