// Package queue runs inbound events on a fixed pool of workers so the
// webhook can acknowledge Slack before processing finishes.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"whistleblower/internal/model"
)

// Handler processes a single event.
type Handler interface {
	HandleEvent(ctx context.Context, ev model.Event) error
}

// Task is a queued event.
type Task struct {
	ID       string
	Event    model.Event
	Enqueued time.Time
}

// Pool is a bounded task queue served by a fixed number of workers.
type Pool struct {
	handler Handler
	tasks   chan Task
	workers int
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a Pool holding at most size pending tasks.
func New(handler Handler, workers, size int, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &Pool{
		handler: handler,
		tasks:   make(chan Task, size),
		workers: workers,
		log:     log,
	}
}

// Enqueue adds ev to the queue without blocking. It returns the task ID and
// false when the queue is full or the pool has stopped.
func (p *Pool) Enqueue(ev model.Event) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", false
	}

	t := Task{ID: uuid.NewString(), Event: ev, Enqueued: time.Now()}
	select {
	case p.tasks <- t:
		p.log.Debug("task queued", "task_id", t.ID, "type", ev.Type, "channel_id", ev.Channel)
		return t.ID, true
	default:
		p.log.Warn("queue full, dropping event", "type", ev.Type, "channel_id", ev.Channel, "pending", p.Pending())
		return "", false
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Run starts the workers and blocks until ctx is cancelled. It then stops
// accepting tasks and waits for the queued ones to finish.
func (p *Pool) Run(ctx context.Context) {
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range p.tasks {
				p.process(work, t)
			}
		}()
	}

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.log.Info("draining queue", "pending", p.Pending())
	wg.Wait()
}

func (p *Pool) process(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "task_id", t.ID, "panic", r)
		}
	}()

	start := time.Now()
	if err := p.handler.HandleEvent(ctx, t.Event); err != nil {
		p.log.Error("process event",
			"task_id", t.ID,
			"type", t.Event.Type,
			"channel_id", t.Event.Channel,
			"user_id", t.Event.User,
			"error", err,
		)
		return
	}
	p.log.Debug("task done",
		"task_id", t.ID,
		"waited", start.Sub(t.Enqueued),
		"took", time.Since(start),
	)
}
