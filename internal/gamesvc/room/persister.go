package room

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

type write struct {
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// Persister applies durable writes one at a time in submission order on a
// single worker goroutine. Failures are logged and not retried. Writes
// submitted after Close are dropped.
type Persister struct {
	mu      sync.RWMutex
	closed  bool
	jobs    chan write
	pending sync.WaitGroup
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewPersister(buffer int) *Persister {
	p := &Persister{
		jobs:    make(chan write, buffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Persister) run() {
	defer close(p.stopped)
	for {
		select {
		case w := <-p.jobs:
			p.apply(w)
		case <-p.quit:
			// drain what was already queued
			for {
				select {
				case w := <-p.jobs:
					p.apply(w)
				default:
					return
				}
			}
		}
	}
}

func (p *Persister) apply(w write) {
	defer p.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	err := w.fn(ctx)
	cancel()

	if err != nil {
		log.WithField("write", w.name).Errorf("Error [Persister.apply] %s", err)
	}
	if w.done != nil {
		w.done <- err
	}
}

// Enqueue schedules fn. It only blocks while the queue is full.
func (p *Persister) Enqueue(name string, fn func(ctx context.Context) error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.WithField("write", name).Warn("persister closed, write dropped")
		return
	}
	p.pending.Add(1)
	p.jobs <- write{name: name, fn: fn}
}

// Sync schedules fn behind every earlier write and waits for its result.
func (p *Persister) Sync(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPersistClosed
	}
	p.pending.Add(1)
	select {
	case p.jobs <- write{name: name, fn: fn, done: done}:
	case <-ctx.Done():
		p.pending.Done()
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every write enqueued so far has been applied.
func (p *Persister) Wait() {
	p.pending.Wait()
}

// Close applies the queued writes and stops the worker.
func (p *Persister) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.quit)
	})
	<-p.stopped
}
