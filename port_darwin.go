//go:build darwin

package async

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPort is a kqueue-backed [EventPort] (§4.7), grounded on
// eventloop/poller_darwin.go's FastPoller (kqueue/kevent) and
// eventloop/wakeup_darwin.go's self-pipe wake mechanism: Wait blocks in
// kevent on a registered pipe read end, and Wake writes a byte to the
// pipe from any goroutine, exactly as the teacher's wakePipe does for
// its own loop.
type DefaultPort struct {
	mu       sync.Mutex
	runnable bool

	kq    int
	wakeR int
	wakeW int
}

// NewDefaultPort constructs a kqueue-backed port. Panics if the
// underlying kqueue/pipe syscalls fail: a port is required for the loop
// to function at all, so there is no degraded mode to fall back to here.
func NewDefaultPort() *DefaultPort {
	kq, err := unix.Kqueue()
	if err != nil {
		panic(err)
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		_ = unix.Close(kq)
		panic(err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		_ = unix.Close(kq)
		panic(err)
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(fds[0]),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		_ = unix.Close(kq)
		panic(err)
	}
	return &DefaultPort{kq: kq, wakeR: fds[0], wakeW: fds[1]}
}

// Wait implements [EventPort]: blocks in kevent on the wake pipe until
// Wake is called or deadline elapses (a zero deadline blocks
// indefinitely).
func (p *DefaultPort) Wait(deadline time.Time) bool {
	p.mu.Lock()
	runnable := p.runnable
	p.mu.Unlock()
	if runnable {
		return true
	}

	var ts *unix.Timespec
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return p.Poll()
		}
		ts = &unix.Timespec{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
	}
	return p.kevent(ts)
}

// Poll implements [EventPort]: a non-blocking kevent.
func (p *DefaultPort) Poll() bool {
	return p.kevent(&unix.Timespec{})
}

func (p *DefaultPort) kevent(ts *unix.Timespec) bool {
	var events [1]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, events[:], ts)
	if err != nil {
		return err == unix.EINTR
	}
	if n > 0 {
		p.drainWake()
		return true
	}
	return false
}

// drainWake reads the wake pipe dry, the same "read until EAGAIN"
// pattern as wakeup_linux.go's drainWakeUpPipe.
func (p *DefaultPort) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeR, buf[:]); err != nil {
			return
		}
	}
}

// SetRunnable implements [EventPort].
func (p *DefaultPort) SetRunnable(runnable bool) {
	p.mu.Lock()
	p.runnable = runnable
	p.mu.Unlock()
}

// Wake implements [EventPort], safe from any goroutine, by writing a
// byte to the wake pipe; a Wake racing ahead of the matching Wait
// accumulates in the pipe buffer rather than being lost.
func (p *DefaultPort) Wake() {
	buf := [1]byte{1}
	_, _ = unix.Write(p.wakeW, buf[:])
}
