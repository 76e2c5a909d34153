package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"
)

// UsageStore reads the durable per-user-per-day match counter.
type UsageStore interface {
	DailyUsage(ctx context.Context, userID string, day time.Time) (int, error)
}

type Quota struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Allowed   bool `json:"allowed"`
}

type Limiter struct {
	usage      UsageStore
	dailyUser  int
	dailyGuest int
	users      *Window
	conns      *Window
	now        func() time.Time
}

// Counters lets callers back the action windows with a shared store such as
// Redis. Nil fields fall back to httprate's in-process counter.
type Counters struct {
	Users       httprate.LimitCounter
	Connections httprate.LimitCounter
}

func NewLimiter(cfg config.LimitConfig, usage UsageStore, counters Counters) *Limiter {
	return &Limiter{
		usage:      usage,
		dailyUser:  cfg.DailyUser,
		dailyGuest: cfg.DailyGuest,
		users:      NewWindow(ScopeUser, counters.Users, cfg.UserActions, cfg.UserWindow),
		conns:      NewWindow(ScopeConnection, counters.Connections, cfg.ConnEvents, cfg.ConnWindow),
		now:        time.Now,
	}
}

// CheckDailyLimit reports how many matches the user has left today. A failing
// usage store permits play rather than blocking everyone.
func (l *Limiter) CheckDailyLimit(ctx context.Context, userID string, guest bool) Quota {
	limit := l.dailyUser
	if guest {
		limit = l.dailyGuest
	}

	used, err := l.usage.DailyUsage(ctx, userID, Day(l.now()))
	if err != nil {
		log.WithField("user_id", userID).Errorf("Error [Limiter.CheckDailyLimit] %s", err)
		return Quota{Limit: limit, Remaining: limit, Allowed: true}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Quota{Used: used, Limit: limit, Remaining: remaining, Allowed: used < limit}
}

func (l *Limiter) EnforceDailyLimit(ctx context.Context, userID string, guest bool) error {
	q := l.CheckDailyLimit(ctx, userID, guest)
	if !q.Allowed {
		return fmt.Errorf("%w (%d/%d)", ErrDailyLimitExceeded, q.Used, q.Limit)
	}
	return nil
}

// AllowAction gates any user-initiated action with the coarse per-user budget.
func (l *Limiter) AllowAction(userID string) error {
	return l.users.Take(userID, l.now())
}

// AllowEvent gates high-frequency in-game events per connection.
func (l *Limiter) AllowEvent(connID string) error {
	return l.conns.Take(connID, l.now())
}

// Day truncates t to the UTC calendar day used as the quota key.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResetIn is the time until the daily quota rolls over.
func ResetIn(now time.Time) time.Duration {
	return Day(now).Add(24 * time.Hour).Sub(now.UTC())
}
