package feature

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the extraction cadence.
const DefaultInterval = 500 * time.Millisecond

// Task is a running periodic job returned by [Every]. Ticks run sequentially
// on a single goroutine, so a tick never starts before the previous one has
// returned.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls fn with the tick time once per interval until the returned
// [Task] is stopped or ctx is cancelled. The first call happens one interval
// after Every returns. A non-positive interval uses [DefaultInterval].
func Every(ctx context.Context, interval time.Duration, fn func(now time.Time)) *Task {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				// A stop that raced the ticker wins.
				if ctx.Err() != nil {
					return
				}
				fn(now)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for an in-flight tick to finish. Safe to
// call more than once and on a nil Task. It must not be called from inside
// the tick function.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
