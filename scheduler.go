package octaviadb

import (
	"context"
	"time"
)

// scheduler runs tick periodically on its own goroutine until stopped.
type scheduler struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startScheduler(interval time.Duration, tick func()) *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scheduler{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				tick()
			}
		}
	}()
	return s
}

// stop cancels the scheduler and waits for an in-flight tick to return. It is
// safe to call on a nil scheduler.
func (s *scheduler) stop() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}
