package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by Queue.Push when the buffer has no room.
var ErrQueueFull = errors.New("event queue is full")

type queued struct {
	callback *Callback
	command  *Command
}

// Queue is a Source fed by pushes, used for webhook delivery. A bounded set of
// workers drains it so slow downstream calls never block the HTTP handler.
type Queue struct {
	ch      chan queued
	workers int
}

// NewQueue creates a queue with the given buffer size and worker count.
func NewQueue(size, workers int) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{ch: make(chan queued, size), workers: workers}
}

// PushCallback enqueues a callback without blocking.
func (q *Queue) PushCallback(cb Callback) error {
	return q.push(queued{callback: &cb})
}

// PushCommand enqueues a command without blocking.
func (q *Queue) PushCommand(cmd Command) error {
	return q.push(queued{command: &cmd})
}

func (q *Queue) push(item queued) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run dispatches queued events to h until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item := <-q.ch:
					switch {
					case item.callback != nil:
						h.HandleCallback(ctx, *item.callback)
					case item.command != nil:
						h.HandleCommand(ctx, *item.command)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
