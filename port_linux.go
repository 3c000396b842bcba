//go:build linux

package async

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPort is an epoll-backed [EventPort] (§4.7), grounded on
// eventloop/poller_linux.go's FastPoller (epoll_create1/epoll_wait) and
// eventloop/wakeup_linux.go's eventfd wake mechanism: Wait blocks in
// epoll_wait on a single registered eventfd, and Wake writes to that
// eventfd from any goroutine, exactly as the teacher's wakePipe does for
// its own loop.
type DefaultPort struct {
	mu       sync.Mutex
	runnable bool

	epfd   int
	wakeFD int
}

// NewDefaultPort constructs an epoll-backed port. Panics if the
// underlying epoll_create1/eventfd syscalls fail: a port is required for
// the loop to function at all, so there is no degraded mode to fall back
// to here.
func NewDefaultPort() *DefaultPort {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		panic(err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		panic(err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		panic(err)
	}
	return &DefaultPort{epfd: epfd, wakeFD: wakeFD}
}

// Wait implements [EventPort]: blocks in epoll_wait on the wake eventfd
// until Wake is called or deadline elapses (a zero deadline blocks
// indefinitely).
func (p *DefaultPort) Wait(deadline time.Time) bool {
	p.mu.Lock()
	runnable := p.runnable
	p.mu.Unlock()
	if runnable {
		return true
	}

	timeoutMs := -1
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return p.Poll()
		}
		timeoutMs = int(d / time.Millisecond)
		if timeoutMs <= 0 {
			timeoutMs = 1
		}
	}
	return p.epollWait(timeoutMs)
}

// Poll implements [EventPort]: a non-blocking epoll_wait.
func (p *DefaultPort) Poll() bool {
	return p.epollWait(0)
}

func (p *DefaultPort) epollWait(timeoutMs int) bool {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], timeoutMs)
	if err != nil {
		return err == unix.EINTR
	}
	if n > 0 {
		p.drainWake()
		return true
	}
	return false
}

// drainWake reads the eventfd's accumulated counter down to zero, the
// same "read until EAGAIN" pattern as wakeup_linux.go's drainWakeUpPipe.
func (p *DefaultPort) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFD, buf[:]); err != nil {
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

// Wake implements [EventPort], safe from any goroutine: writing to an
// eventfd increments its kernel-held counter, so a Wake racing ahead of
// the matching Wait is never lost.
func (p *DefaultPort) Wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(p.wakeFD, buf[:])
}
