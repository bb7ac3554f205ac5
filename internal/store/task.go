package store

import (
	"context"
	"sync"
	"time"
)

// Task is a cancelable periodic job owned by a store.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	remove func(*Task)
}

// Stop cancels the task and waits for a running tick to return. It is safe to
// call more than once.
func (t *Task) Stop() {
	t.once.Do(func() {
		t.cancel()
		<-t.done
		if t.remove != nil {
			t.remove(t)
		}
	})
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Schedule runs fn every interval until the task is stopped or the store is
// closed. Scheduling on a closed store returns an already stopped task.
func (s *Store[S]) Schedule(interval time.Duration, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{cancel: cancel, done: make(chan struct{})}

	s.taskMu.Lock()
	if s.closed {
		s.taskMu.Unlock()
		cancel()
		close(t.done)
		return t
	}
	s.tasks[t] = struct{}{}
	t.remove = func(t *Task) {
		s.taskMu.Lock()
		delete(s.tasks, t)
		s.taskMu.Unlock()
	}
	s.taskMu.Unlock()

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return t
}

// Tasks returns the number of running scheduled tasks.
func (s *Store[S]) Tasks() int {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return len(s.tasks)
}
