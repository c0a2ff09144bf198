package runtime

import (
	"context"
	"sync"
	"time"
)

// ReadyResult is what a server-ready notification carried.
type ReadyResult struct {
	Port int
	URL  string
}

// readyWait is a single-fire listener raced against a timer. Whichever settles
// first wins and the other is cancelled: the listener is unsubscribed and the
// timer stopped on every exit path.
type readyWait struct {
	ch          chan ReadyResult
	once        sync.Once
	unsubscribe func()
}

// armReady subscribes before anything can fire, so a notification emitted while
// the process is still being spawned is not lost.
func armReady(inst Instance) *readyWait {
	w := &readyWait{ch: make(chan ReadyResult, 1)}
	w.unsubscribe = inst.OnServerReady(func(port int, url string) {
		w.once.Do(func() {
			w.ch <- ReadyResult{Port: port, URL: url}
		})
	})
	return w
}

// wait returns the first notification, or ok=false when timeout elapses first.
func (w *readyWait) wait(ctx context.Context, timeout time.Duration) (res ReadyResult, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	defer w.cancel()

	select {
	case res = <-w.ch:
		return res, true, nil
	case <-timer.C:
		return ReadyResult{}, false, nil
	case <-ctx.Done():
		return ReadyResult{}, false, ctx.Err()
	}
}

func (w *readyWait) cancel() {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
