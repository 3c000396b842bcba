//go:build !linux

package sync

import (
	stdsync "sync"
	"time"
)

// word is the non-Linux fallback for Mutex's core exclusion bit,
// implementing the identical load/cas/store/wait/wake contract that
// futex_linux.go backs with raw SYS_FUTEX syscalls, but on top of
// stdlib sync.Mutex + sync.Cond (§4.4): "so callers never see a platform
// difference".
type word struct {
	mu   stdsync.Mutex
	cond *stdsync.Cond
	v    uint32
}

func (w *word) cond0() *stdsync.Cond {
	if w.cond == nil {
		w.cond = stdsync.NewCond(&w.mu)
	}
	return w.cond
}

func (w *word) load() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.v
}

func (w *word) cas(old, new uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.v != old {
		return false
	}
	w.v = new
	return true
}

func (w *word) store(v uint32) {
	w.mu.Lock()
	w.v = v
	w.mu.Unlock()
}

// wait blocks while *w == old, for up to timeout (<=0 means forever).
func (w *word) wait(old uint32, timeout time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.v != old {
		return true
	}
	c := w.cond0()
	if timeout <= 0 {
		for w.v == old {
			c.Wait()
		}
		return true
	}
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		w.mu.Lock()
		timedOut = true
		c.Broadcast()
		w.mu.Unlock()
	})
	defer timer.Stop()
	for w.v == old && !timedOut {
		c.Wait()
	}
	return w.v != old
}

func (w *word) wake() {
	w.mu.Lock()
	w.cond0().Broadcast()
	w.mu.Unlock()
}
