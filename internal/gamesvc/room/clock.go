package room

import (
	"sync"
	"time"
)

// clock drives one phase: periodic ticks until the deadline, then expiry.
type clock struct {
	stop chan struct{}
	once sync.Once
}

func (c *clock) cancel() {
	c.once.Do(func() { close(c.stop) })
}

// ArmTimer starts the phase clock for the phase identified by seq. It cancels
// any running clock first and does nothing when seq is no longer current or
// the room is closed. Callbacks run on the clock goroutine without the room
// lock and must re-check the phase before acting.
func (r *Room) ArmTimer(seq uint64, total, tick time.Duration, onTick func(left time.Duration), onExpire func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.seq != seq {
		return false
	}
	r.stopClock()

	c := &clock{stop: make(chan struct{})}
	r.clock = c

	go func() {
		deadline := time.Now().Add(total)
		expire := time.NewTimer(total)
		defer expire.Stop()

		var ticks <-chan time.Time
		if tick > 0 && onTick != nil {
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		for {
			select {
			case <-c.stop:
				return
			case <-ticks:
				left := time.Until(deadline)
				if left <= 0 {
					continue
				}
				onTick(left)
			case <-expire.C:
				select {
				case <-c.stop:
					return
				default:
				}
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}()
	return true
}

// StopTimer cancels the running phase clock, if any.
func (r *Room) StopTimer() {
	r.mu.Lock()
	r.stopClock()
	r.mu.Unlock()
}

func (r *Room) stopClock() {
	if r.clock != nil {
		r.clock.cancel()
		r.clock = nil
	}
}
