package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherRunsTasks(t *testing.T) {
	d := NewDispatcher(10, 2)
	d.Start(context.Background())

	var ran int32
	for i := 0; i < 5; i++ {
		ok := d.Dispatch(Task{Name: "count", Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		assert.True(t, ok)
	}

	d.Stop()
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// Not started, so nothing drains the queue
	d := NewDispatcher(1, 1)
	noop := Task{Name: "noop", Run: func(ctx context.Context) error { return nil }}

	assert.True(t, d.Dispatch(noop))
	assert.False(t, d.Dispatch(noop))
}

func TestDispatchAfterStop(t *testing.T) {
	d := NewDispatcher(1, 1)
	d.Start(context.Background())
	d.Stop()

	assert.False(t, d.Dispatch(Task{Name: "late", Run: func(ctx context.Context) error { return nil }}))
}

func TestDispatchRacingStop(t *testing.T) {
	d := NewDispatcher(64, 2)
	d.Start(context.Background())
	noop := Task{Name: "noop", Run: func(ctx context.Context) error { return nil }}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Dispatch(noop)
			}
		}()
	}
	d.Stop()
	wg.Wait()

	assert.False(t, d.Dispatch(noop))
	d.Stop()
}
