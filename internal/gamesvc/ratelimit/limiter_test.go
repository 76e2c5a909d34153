package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avvvet/explain-services/internal/gamesvc/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageStub struct {
	used map[string]int
	err  error
	day  time.Time
}

func (u *usageStub) DailyUsage(ctx context.Context, userID string, day time.Time) (int, error) {
	u.day = day
	if u.err != nil {
		return 0, u.err
	}
	return u.used[userID], nil
}

func testLimits() config.LimitConfig {
	return config.LimitConfig{
		DailyUser:   5,
		DailyGuest:  config.GuestDailyLimit,
		UserActions: 4,
		UserWindow:  time.Hour,
		ConnEvents:  2,
		ConnWindow:  time.Hour,
	}
}

func newTestLimiter(usage UsageStore) *Limiter {
	l := NewLimiter(testLimits(), usage, Counters{})
	fixed := time.Date(2026, 10, 15, 9, 20, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	return l
}

func TestCheckDailyLimitGuestAndRegistered(t *testing.T) {
	usage := &usageStub{used: map[string]int{"reg": 4, "guest": 3}}
	l := newTestLimiter(usage)

	q := l.CheckDailyLimit(context.Background(), "reg", false)
	assert.True(t, q.Allowed)
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 1, q.Remaining)

	q = l.CheckDailyLimit(context.Background(), "guest", true)
	assert.False(t, q.Allowed)
	assert.Equal(t, config.GuestDailyLimit, q.Limit)
	assert.Equal(t, 0, q.Remaining)

	assert.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), usage.day)
}

func TestEnforceDailyLimit(t *testing.T) {
	l := newTestLimiter(&usageStub{used: map[string]int{"u1": 5}})

	err := l.EnforceDailyLimit(context.Background(), "u1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDailyLimitExceeded))

	assert.NoError(t, l.EnforceDailyLimit(context.Background(), "u2", false))
}

func TestDailyLimitFailsOpen(t *testing.T) {
	l := newTestLimiter(&usageStub{err: errors.New("connection refused")})

	q := l.CheckDailyLimit(context.Background(), "u1", true)
	assert.True(t, q.Allowed)
	assert.NoError(t, l.EnforceDailyLimit(context.Background(), "u1", true))
}

func TestAllowActionPerUserBudget(t *testing.T) {
	l := newTestLimiter(&usageStub{})

	for i := 0; i < 4; i++ {
		require.NoError(t, l.AllowAction("u1"), "action %d", i)
	}

	err := l.AllowAction("u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var le *LimitError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ScopeUser, le.Scope)
	assert.Greater(t, le.RetryAfter, time.Duration(0))

	// other users keep their own budget
	assert.NoError(t, l.AllowAction("u2"))
}

func TestAllowEventPerConnectionBudget(t *testing.T) {
	l := newTestLimiter(&usageStub{})

	require.NoError(t, l.AllowEvent("sock-1"))
	require.NoError(t, l.AllowEvent("sock-1"))

	var le *LimitError
	require.True(t, errors.As(l.AllowEvent("sock-1"), &le))
	assert.Equal(t, ScopeConnection, le.Scope)

	assert.NoError(t, l.AllowEvent("sock-2"))
}

func TestWindowSlidesIntoNextPeriod(t *testing.T) {
	w := NewWindow("test", nil, 2, time.Minute)
	start := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, w.Take("k", start))
	require.NoError(t, w.Take("k", start.Add(time.Second)))
	require.Error(t, w.Take("k", start.Add(2*time.Second)))

	// early in the next window most of the previous count still applies
	require.Error(t, w.Take("k", start.Add(61*time.Second)))

	// late in the next window the previous count has mostly decayed
	assert.NoError(t, w.Take("k", start.Add(110*time.Second)))
}

func TestResetInCountsToUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 4, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, 90*time.Minute, ResetIn(now))
	assert.Equal(t, 24*time.Hour, ResetIn(Day(now)))
}
