package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"
)

// Window is a sliding-window counter limiter keyed by an arbitrary string.
// It uses the same weighting httprate applies to HTTP requests: the previous
// window's count decays linearly while the current window fills.
type Window struct {
	scope   string
	counter httprate.LimitCounter
	limit   int
	length  time.Duration
	mu      sync.Mutex
}

func NewWindow(scope string, counter httprate.LimitCounter, limit int, length time.Duration) *Window {
	if counter == nil {
		counter = httprate.NewLocalLimitCounter(length)
	}
	counter.Config(limit, length)
	return &Window{
		scope:   scope,
		counter: counter,
		limit:   limit,
		length:  length,
	}
}

// Take consumes one unit for key. When the budget is exhausted it returns a
// *LimitError carrying the time until the current window rolls over.
func (w *Window) Take(key string, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	currentWindow := now.UTC().Truncate(w.length)
	previousWindow := currentWindow.Add(-w.length)

	curr, prev, err := w.counter.Get(key, currentWindow, previousWindow)
	if err != nil {
		// counter backend down: let the action through
		log.Warnf("Error [Window.Take] %s counter get: %s", w.scope, err)
		return nil
	}

	elapsed := now.UTC().Sub(currentWindow)
	weight := float64(w.length-elapsed) / float64(w.length)
	rate := float64(prev)*weight + float64(curr)

	if rate+1 > float64(w.limit) {
		retry := currentWindow.Add(w.length).Sub(now.UTC())
		if prev > 0 && curr < w.limit {
			// part of the previous window still counts; estimate when enough of it decays
			excess := rate + 1 - float64(w.limit)
			decay := time.Duration(math.Ceil(excess / float64(prev) * float64(w.length)))
			if decay < retry {
				retry = decay
			}
		}
		if retry < time.Second {
			retry = time.Second
		}
		return &LimitError{Scope: w.scope, RetryAfter: retry}
	}

	if err := w.counter.IncrementBy(key, currentWindow, 1); err != nil {
		log.Warnf("Error [Window.Take] %s counter increment: %s", w.scope, err)
	}
	return nil
}
