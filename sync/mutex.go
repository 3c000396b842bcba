// Package sync implements the futex-backed mutex substrate the async
// runtime's higher-level primitives are built on (§4.4): a reader/writer
// [Mutex] with releaser-evaluated predicate-wait, a failure-propagating
// [Once], and [MutexGuarded] for pairing a lock with the data it guards.
//
// The core exclusion word is platform-specific (futex_linux.go backs it
// with raw SYS_FUTEX syscalls via golang.org/x/sys/unix; futex_fallback.go
// backs it with sync.Mutex+sync.Cond on every other platform) but both
// expose the identical load/cas/wait/wake contract this file is written
// against, so the reader/writer and predicate-wait logic below never
// varies by platform.
package sync

import (
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/zcgo/async"
)

// LockMode selects exclusive or shared acquisition (§4.4).
type LockMode uint8

const (
	// Shared permits any number of concurrent holders, so long as no
	// exclusive holder is present.
	Shared LockMode = iota
	// Exclusive permits exactly one holder, excluding all others.
	Exclusive
)

// word encodes both exclusion and reader presence in a single value, so
// a waiter can futex-wait on the exact snapshot it last observed (the
// same pattern as lock2's `futexsleep(key32(&l.key), uint32(v), -1)` in
// the runtime mutex this is grounded on): bit 0 is the exclusive-held
// flag; the remaining bits are the live shared-reader count.
const (
	wordLockedBit  uint32 = 1
	wordReaderUnit uint32 = 2
)

// Mutex is a reader/writer lock supporting timed acquisition and
// releaser-evaluated predicate-wait (§4.4). The zero value is ready to
// use. Unlike sync.RWMutex, writers are not prioritized over readers —
// this is deliberate (§9 REDESIGN FLAGS): the source's futex mutex
// explicitly avoids writer-priority to sidestep a self-deadlock pattern
// observed in the pthread implementation it replaced, and that contract
// is preserved here rather than "fixed".
type Mutex struct {
	w        word
	sleepers int32 // atomic: count of goroutines parked in w.wait, for contention accounting

	waitersMu stdsync.Mutex // protects waiters; taken with or without w held
	waiters   []*Waiter

	contentionThreshold int
	limiter             *catrate.Limiter
}

// NewMutex constructs a ready-to-use Mutex. warnThreshold <= 0 disables
// contention warnings; limiter, if non-nil, rate-limits them (§4.4
// "Contention log").
func NewMutex(warnThreshold int, limiter *catrate.Limiter) *Mutex {
	return &Mutex{contentionThreshold: warnThreshold, limiter: limiter}
}

// Guard is the handle returned by a successful Lock, releasing the mutex
// on [Guard.Unlock].
type Guard struct {
	m    *Mutex
	mode LockMode
}

// Lock blocks until mode can be acquired.
func (m *Mutex) Lock(mode LockMode) *Guard {
	g, _ := m.lockTimeout(mode, 0)
	return g
}

// LockTimeout attempts to acquire mode, giving up after timeout elapses.
// A non-positive timeout blocks indefinitely (equivalent to [Mutex.Lock]).
func (m *Mutex) LockTimeout(mode LockMode, timeout time.Duration) (*Guard, bool) {
	return m.lockTimeout(mode, timeout)
}

func (m *Mutex) lockTimeout(mode LockMode, timeout time.Duration) (*Guard, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		var ok bool
		if mode == Shared {
			ok = m.tryLockShared()
		} else {
			ok = m.tryLockExclusive()
		}
		if ok {
			return &Guard{m: m, mode: mode}, true
		}
		m.maybeWarnContention()
		var wait time.Duration
		if timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, false
			}
		}
		snapshot := m.w.load()
		atomic.AddInt32(&m.sleepers, 1)
		m.w.wait(snapshot, wait)
		atomic.AddInt32(&m.sleepers, -1)
		if timeout > 0 && time.Until(deadline) <= 0 {
			return nil, false
		}
	}
}

func (m *Mutex) tryLockExclusive() bool {
	return m.w.cas(0, wordLockedBit)
}

func (m *Mutex) tryLockShared() bool {
	for {
		cur := m.w.load()
		if cur&wordLockedBit != 0 {
			return false
		}
		if m.w.cas(cur, cur+wordReaderUnit) {
			return true
		}
	}
}

// Unlock releases g, waking a pending acquirer if any and, for the
// exclusive case, evaluating every queued [Waiter]'s predicate before
// anyone else can acquire (§4.4 "the predicate is evaluated by the
// current releaser").
func (g *Guard) Unlock() {
	m := g.m
	if g.mode == Exclusive {
		m.wakeSatisfiedWaiters()
		m.w.store(0)
	} else {
		for {
			cur := m.w.load()
			if m.w.cas(cur, cur-wordReaderUnit) {
				break
			}
		}
	}
	if atomic.LoadInt32(&m.sleepers) > 0 {
		m.w.wake()
	}
}

func (m *Mutex) maybeWarnContention() {
	if m.contentionThreshold <= 0 {
		return
	}
	n := int(atomic.LoadInt32(&m.sleepers))
	if n < m.contentionThreshold {
		return
	}
	if m.limiter != nil {
		if _, ok := m.limiter.Allow("mutex_contention"); !ok {
			return
		}
	}
	async.CurrentLogger().Warn("mutex contention exceeds configured threshold",
		async.F("waiters", n), async.F("threshold", m.contentionThreshold))
}

// Waiter is one entry in a Mutex's predicate-wait queue, a slice (§4.4).
type Waiter struct {
	pred func() bool
	fn   func() (any, error)
	done chan waiterResult
}

type waiterResult struct {
	value any
	err   error
}

// When blocks, while g holds the mutex exclusively, until pred becomes
// true (as observed and evaluated by whichever goroutine is releasing
// the lock at the time, not by the caller itself — §4.4) or timeout
// elapses. On success, fn is run under the lock by the releaser and its
// result is delivered back here; a panic inside fn is recovered and
// reported as err. g must hold [Exclusive]; calling When on a shared
// Guard panics. When is a free function, not a method, because fn's
// result type R cannot be a method type parameter in Go.
func When[R any](g *Guard, pred func() bool, fn func() R, timeout time.Duration) (R, bool, error) {
	if g.mode != Exclusive {
		panic("async/sync: When requires an exclusive Guard")
	}
	wrapped := func() (any, error) { return fn(), nil }
	m := g.m
	if pred() {
		v, err := runWaiterFnRecover(wrapped)
		return asR[R](v), true, err
	}
	w := &Waiter{pred: pred, fn: wrapped, done: make(chan waiterResult, 1)}
	m.waitersMu.Lock()
	m.waiters = append(m.waiters, w)
	m.waitersMu.Unlock()
	g.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		timeoutCh = timer.C
		defer timer.Stop()
	}
	var satisfied bool
	var res waiterResult
	select {
	case res = <-w.done:
		satisfied = true
	case <-timeoutCh:
		m.removeWaiter(w)
		select {
		case res = <-w.done:
			satisfied = true
		default:
		}
	}

	*g = *m.Lock(Exclusive)
	return asR[R](res.value), satisfied, res.err
}

func asR[R any](v any) R {
	if v == nil {
		var zero R
		return zero
	}
	return v.(R)
}

// InduceSpuriousWakeup is a test-only hook (§4.4, §8.12): it evaluates
// every currently queued waiter's predicate without releasing the mutex
// and discards the results. No waiter is woken or removed, whatever its
// predicate returns, and every waiter's timeout is unaffected.
func (m *Mutex) InduceSpuriousWakeup() {
	m.waitersMu.Lock()
	waiters := m.waiters
	m.waitersMu.Unlock()
	for _, w := range waiters {
		_ = w.pred()
	}
}

func (m *Mutex) wakeSatisfiedWaiters() {
	m.waitersMu.Lock()
	remaining := m.waiters[:0]
	var satisfied []*Waiter
	for _, w := range m.waiters {
		if safePred(w.pred) {
			satisfied = append(satisfied, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.waitersMu.Unlock()
	for _, w := range satisfied {
		v, err := runWaiterFnRecover(w.fn)
		w.done <- waiterResult{value: v, err: err}
	}
}

func (m *Mutex) removeWaiter(target *Waiter) {
	m.waitersMu.Lock()
	defer m.waitersMu.Unlock()
	for i, w := range m.waiters {
		if w == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

func safePred(pred func() bool) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return pred()
}

func runWaiterFnRecover(fn func() (any, error)) (v any, err error) {
	if fn == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = async.NewException(async.KindFailed, "predicate-wait callback panicked")
		}
	}()
	return fn()
}
