package coordinator

import "sync"

// wakeEvent is a broadcast-once-per-change signal: every channel obtained
// from chanFor is closed by the next notify after it was obtained, using the standard
// close-and-replace-channel technique so no notification is ever missed
// between checking state and starting to wait.
type wakeEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

func newWakeEvent() *wakeEvent {
	return &wakeEvent{ch: make(chan struct{})}
}

// chanFor returns the channel that will close on the next Notify. Callers
// must grab this before re-checking state, so a Notify that races with the
// check is never lost.
func (e *wakeEvent) chanFor() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// notify wakes every current waiter.
func (e *wakeEvent) notify() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.ch)
	e.ch = make(chan struct{})
}
