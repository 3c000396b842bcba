package sync

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// MutexGuarded pairs a [Mutex] with the value it protects (§3, §4.4),
// so the lock can never be acquired without going through an accessor
// that hands back the guarded value.
type MutexGuarded[T any] struct {
	m     Mutex
	value T
}

// NewMutexGuarded constructs a MutexGuarded holding value, with
// contention warnings configured identically to [NewMutex].
func NewMutexGuarded[T any](value T, warnThreshold int, limiter *catrate.Limiter) *MutexGuarded[T] {
	g := &MutexGuarded[T]{value: value, m: Mutex{contentionThreshold: warnThreshold, limiter: limiter}}
	return g
}

// Locked is a scoped handle on a [MutexGuarded]'s value, held exclusively
// or shared for its lifetime. Go has no destructors, so callers must call
// [Locked.Unlock] on every path out of scope (typically via defer) —
// unlike the source's RAII guard, nothing will release this automatically
// if it is dropped.
type Locked[T any] struct {
	guard *Guard
	g     *MutexGuarded[T]
}

// Lock acquires g's mutex in mode and returns a handle on its value.
func Lock[T any](g *MutexGuarded[T], mode LockMode) Locked[T] {
	return Locked[T]{guard: g.m.Lock(mode), g: g}
}

// LockTimeout is [Lock] bounded by timeout.
func LockTimeout[T any](g *MutexGuarded[T], mode LockMode, timeout time.Duration) (Locked[T], bool) {
	guard, ok := g.m.LockTimeout(mode, timeout)
	if !ok {
		return Locked[T]{}, false
	}
	return Locked[T]{guard: guard, g: g}, true
}

// Get returns the guarded value. Valid only while l is still locked.
func (l Locked[T]) Get() T { return l.g.value }

// Set replaces the guarded value. l must be held [Exclusive].
func (l Locked[T]) Set(v T) { l.g.value = v }

// WhenGuarded blocks until pred(current value) holds (as evaluated by
// whichever goroutine is releasing the lock — §4.4), then, under the
// lock, replaces the guarded value with the first return of fn and
// returns its second return as the result. l must be held [Exclusive].
// This is [When] specialized to read/mutate a [MutexGuarded]'s value
// instead of an arbitrary closure-captured predicate/callback (e.g.
// `WhenGuarded(l, func(n int) bool { return n > 200 }, func(n int) (int, int) { return n + 1, n + 2 }, timeout)`).
func WhenGuarded[T, R any](l Locked[T], pred func(T) bool, fn func(T) (T, R), timeout time.Duration) (R, bool, error) {
	return When[R](l.guard, func() bool { return pred(l.g.value) }, func() R {
		next, result := fn(l.g.value)
		l.g.value = next
		return result
	}, timeout)
}

// Unlock releases l. Safe to defer immediately after [Lock].
func (l Locked[T]) Unlock() {
	if l.guard != nil {
		l.guard.Unlock()
	}
}
