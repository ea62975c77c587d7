// Package sequencer runs work serially per key while distinct keys proceed in
// parallel. Tasks for one key execute in the order they were enqueued.
package sequencer

import (
	"context"
	"fmt"
	"sync"

	"home-manager/internal/observability/metrics"
)

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type queue struct {
	tasks []*task
}

// Sequencer is a set of per-key FIFO queues, each drained by its own
// goroutine that exits once the queue is empty.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string]*queue
	wg     sync.WaitGroup
}

// New constructs an empty sequencer.
func New() *Sequencer {
	return &Sequencer{queues: make(map[string]*queue)}
}

// Enqueue appends fn to the key's queue and returns immediately. The returned
// channel receives fn's result, or the context error when ctx ended before fn
// started.
func (s *Sequencer) Enqueue(ctx context.Context, key string, fn func(ctx context.Context) error) <-chan error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	q, running := s.queues[key]
	if !running {
		q = &queue{}
		s.queues[key] = q
		s.wg.Add(1)
	}
	q.tasks = append(q.tasks, t)
	active := len(s.queues)
	s.mu.Unlock()

	metrics.SetActiveDeviceQueues(active)
	if !running {
		go s.drain(key, q)
	}
	return t.done
}

// Do enqueues fn and waits for its result.
func (s *Sequencer) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	done := s.Enqueue(ctx, key, fn)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of keys with queued or running work.
func (s *Sequencer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Wait blocks until every queue has drained.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

func (s *Sequencer) drain(key string, q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.tasks) == 0 {
			delete(s.queues, key)
			active := len(s.queues)
			s.mu.Unlock()
			metrics.SetActiveDeviceQueues(active)
			return
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		s.mu.Unlock()

		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		t.done <- run(t)
	}
}

func run(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sequencer: task panic: %v", r)
		}
	}()
	return t.fn(t.ctx)
}
