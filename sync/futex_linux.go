//go:build linux

package sync

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// word backs Mutex's core exclusion bit with a raw futex word (§4.4),
// grounded on the wait/wake contract of
// _examples/other_examples/.../runtime/lock_futex.go.go: the Go runtime's
// own futex-based mutex, which also reduces the word to a small set of
// bits tested with atomic CAS and blocks via FUTEX_WAIT/wakes via
// FUTEX_WAKE. golang.org/x/sys/unix exposes SYS_FUTEX as a raw syscall
// number rather than a typed wrapper, so the syscall is issued directly.
type word struct {
	v uint32
}

const (
	futexWait = 0
	futexWake = 1
)

func (w *word) load() uint32             { return atomic.LoadUint32(&w.v) }
func (w *word) cas(old, new uint32) bool { return atomic.CompareAndSwapUint32(&w.v, old, new) }
func (w *word) store(v uint32)           { atomic.StoreUint32(&w.v, v) }

// wait blocks while *w == old, for up to timeout (<=0 means forever).
// Returns false only if it definitely timed out; a spurious return of
// true (the word had already changed, or the wait was interrupted) is
// always safe because callers re-check the word themselves.
func (w *word) wait(old uint32, timeout time.Duration) bool {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(&w.v)),
		uintptr(futexWait),
		uintptr(old),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	return errno != unix.ETIMEDOUT
}

func (w *word) wake() {
	unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(&w.v)), uintptr(futexWake), 1, 0, 0, 0)
}
