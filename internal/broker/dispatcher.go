package broker

import (
	"context"
	"sync"

	"p402-router/internal/util"

	"go.uber.org/zap"
)

// Task is a unit of background work
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher runs fire-and-forget tasks on a fixed pool of goroutines.
// Dispatch never blocks the caller; tasks are dropped when the queue is full.
type Dispatcher struct {
	queue   chan Task
	workers int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher with the given queue size and pool size
func NewDispatcher(queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue:   make(chan Task, queueSize),
		workers: workers,
		logger:  util.GetLogger(),
	}
}

// Start launches the worker goroutines. Workers drain the queue and exit
// once Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.queue {
				if err := task.Run(ctx); err != nil {
					d.logger.Warn("background task failed", zap.String("task", task.Name), zap.Error(err))
				}
			}
		}()
	}
}

// Dispatch enqueues a task and reports whether it was accepted. Tasks
// dispatched after Stop are rejected.
func (d *Dispatcher) Dispatch(task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("dispatcher stopped, rejecting task", zap.String("task", task.Name))
		return false
	}

	select {
	case d.queue <- task:
		return true
	default:
		util.DispatchDroppedTotal.Inc()
		d.logger.Warn("dispatch queue full, dropping task", zap.String("task", task.Name))
		return false
	}
}

// Stop closes the queue and waits for in-flight tasks
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
