package collective

import "sync"

// latch is a one-shot signal: once triggered it stays triggered.
type latch struct {
	mu   sync.Mutex
	wait chan struct{}
}

func newLatch() *latch {
	return &latch{wait: make(chan struct{})}
}

// trigger closes the latch. Triggering twice is a no-op.
func (l *latch) trigger() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.test() {
		return
	}
	close(l.wait)
}

// test reports whether the latch has been triggered.
func (l *latch) test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// waitChan is closed when the latch triggers.
func (l *latch) waitChan() <-chan struct{} {
	return l.wait
}
