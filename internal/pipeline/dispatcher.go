// Package pipeline runs stage jobs on a fixed worker pool so that finishing
// one stage never waits on the next one.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"visualizer-backend/internal/models"

	"github.com/bpradana/weave"
	"github.com/google/uuid"
)

var (
	ErrQueueFull = errors.New("pipeline queue full")
	ErrStopped   = errors.New("pipeline stopped")
)

// Job asks for one stage of one visualization to run.
type Job struct {
	ID    uuid.UUID
	Stage models.Stage
}

// Handler runs a job. The context is cancelled only when the dispatcher stops.
type Handler func(ctx context.Context, job Job)

// Dispatcher executes submitted jobs on a weave worker pool. The pool's own
// Submit blocks once its buffer is full, so a slot semaphore in front of it
// keeps Submit non-blocking.
type Dispatcher struct {
	pool    weave.Dispatcher
	slots   chan struct{}
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
	once    sync.Once
}

// NewDispatcher starts size workers that accept up to queueSize waiting jobs
// on top of the ones running. Non-positive values fall back to 1 worker and a
// queue of twice the workers. The queue never exceeds the pool's buffer of
// twice the workers.
func NewDispatcher(size, queueSize int, handler Handler) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 || queueSize > size*2 {
		queueSize = size * 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		pool:    weave.NewWorkerPoolDispatcher(size),
		slots:   make(chan struct{}, size+queueSize),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Submit enqueues job without blocking. A full queue returns ErrQueueFull;
// the record stays in its in-progress status for the resume worker to find.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}
	select {
	case d.slots <- struct{}{}:
	default:
		return ErrQueueFull
	}
	d.pool.Submit(func() {
		defer func() { <-d.slots }()
		d.handler(d.ctx, job)
	})
	return nil
}

// Stop refuses new jobs, lets queued ones drain and waits for the workers,
// or cancels the handler context when ctx expires first.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		go func() {
			d.pool.Stop()
			close(d.done)
		}()
	})

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}
