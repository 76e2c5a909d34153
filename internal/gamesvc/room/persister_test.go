package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersisterAppliesInOrder(t *testing.T) {
	p := NewPersister(4)
	defer p.Close()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		p.Enqueue("step", func(ctx context.Context) error {
			got = append(got, i)
			return nil
		})
	}
	require.NoError(t, p.Sync(context.Background(), "last", func(ctx context.Context) error {
		got = append(got, 10)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestPersisterDropsWritesAfterClose(t *testing.T) {
	p := NewPersister(1)

	applied := 0
	p.Enqueue("before", func(ctx context.Context) error {
		applied++
		return nil
	})
	p.Close()
	assert.Equal(t, 1, applied)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// more writes than the buffer holds
		for i := 0; i < 5; i++ {
			p.Enqueue("after", func(ctx context.Context) error {
				applied++
				return nil
			})
		}
		p.Wait()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a closed persister")
	}
	assert.Equal(t, 1, applied)

	err := p.Sync(context.Background(), "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPersistClosed)

	// closing twice is harmless
	p.Close()
}
