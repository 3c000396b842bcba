package async

import (
	"sync"
	"time"
)

// Executor is a per-loop handle safe to share across threads (§3, §4.5).
// It is obtained from a live loop via [CurrentThreadExecutor] and used by
// other goroutines to submit work onto that loop. Every [EventLoop] owns
// exactly one Executor, created alongside it; its "live"/"disconnected"
// lifecycle tracks the owning loop's [WaitScope], not a background thread
// (§3: "Held by value via Own<Executor>; strong references extend
// disconnected lifetime").
type Executor struct {
	loop *EventLoop

	mu              sync.Mutex
	live            bool
	inbox           []func()
	disconnectHooks []func()
}

func newExecutor(loop *EventLoop) *Executor { return &Executor{loop: loop, live: true} }

// IsLive reports whether the target loop is still running (§4.5, §8.9).
func (e *Executor) IsLive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}

// submit enqueues f to run on e's owning loop goroutine, waking its port
// if it is idle. Returns false (without running f) if the executor has
// already disconnected.
func (e *Executor) submit(f func()) bool {
	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		return false
	}
	e.inbox = append(e.inbox, f)
	e.mu.Unlock()
	e.loop.port.Wake()
	return true
}

func (e *Executor) addDisconnectHook(f func()) {
	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		f()
		return
	}
	e.disconnectHooks = append(e.disconnectHooks, f)
	e.mu.Unlock()
}

// drainInbox moves every pending cross-thread submission onto the owning
// loop's ordinary run queue. Called by [EventLoop.turn] and by the idle
// branch of [Wait], so cross-thread work is picked up both while the loop
// is busy firing local events and while it is parked on its port.
func (e *Executor) drainInbox() {
	e.mu.Lock()
	items := e.inbox
	e.inbox = nil
	e.mu.Unlock()
	for _, f := range items {
		e.loop.arm(eventFunc(f))
	}
}

// disconnect marks the executor dead: further submissions fail
// immediately, and every outstanding cross-thread event registered via
// addDisconnectHook completes with [ErrDisconnected] (§4.5, §8.9).
func (e *Executor) disconnect(cause error) {
	e.mu.Lock()
	if !e.live {
		e.mu.Unlock()
		return
	}
	e.live = false
	hooks := e.disconnectHooks
	e.disconnectHooks = nil
	e.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// ExecuteSync submits f to e's target loop and blocks the calling
// goroutine until it runs, returning its result. f is a plain
// synchronous function; this is always safe to call, even against the
// executor of the calling goroutine's own loop (§4.5: "allowed when f is
// pure sync").
func ExecuteSync[R any](e *Executor, f func() (R, error)) (R, error) {
	type reply struct {
		v   R
		err error
	}
	ch := make(chan reply, 1)
	if !e.submit(func() {
		v, err := f()
		ch <- reply{v, err}
	}) {
		var zero R
		return zero, ErrDisconnected
	}
	r := <-ch
	return r.v, r.err
}

// ExecuteSyncPromise submits f (which returns a Promise[R]) to e's target
// loop and blocks the calling goroutine until that promise resolves on
// the target loop, returning its result. callerScope, if non-nil, is used
// to detect the forbidden case of calling this against one's own loop,
// which would deadlock (§4.5): the target loop cannot make progress
// resolving the promise while this goroutine — which is that very loop's
// owning goroutine — sits blocked waiting for it.
func ExecuteSyncPromise[R any](callerScope *WaitScope, e *Executor, f func() Promise[R]) (R, error) {
	if callerScope != nil && !callerScope.closed && callerScope.loop == e.loop {
		var zero R
		return zero, ErrExecuteSyncDeadlock
	}
	type reply struct {
		v   R
		err error
	}
	ch := make(chan reply, 1)
	ok := e.submit(func() {
		p := f()
		deliver := func() {
			v, err := p.node.Get()
			ch <- reply{v, err}
		}
		if p.node.Ready() {
			deliver()
			return
		}
		p.node.OnReady(eventFunc(deliver))
	})
	if !ok {
		var zero R
		return zero, ErrDisconnected
	}
	r := <-ch
	return r.v, r.err
}

// xThreadState mirrors §3's XThreadEvent lifecycle: QUEUED -> EXECUTING ->
// [DONE | CANCELING -> CANCELED].
type xThreadState int32

const (
	xtQueued xThreadState = iota
	xtExecuting
	xtDone
	xtCanceled
)

// xThreadHandle is the cross-thread-shared bookkeeping for one
// [ExecuteAsync] submission (§3 XThreadEvent). It is the only part of the
// machinery touched from both the submitting and the target goroutine;
// all access goes through mu.
type xThreadHandle[R any] struct {
	mu              sync.Mutex
	state           xThreadState
	cancelRequested bool
	ackCh           chan struct{}
	promiseNode     PromiseNode[R]

	target     *Executor
	callerLoop *EventLoop
	node       *xThreadAsyncNode[R]
	f          func() Promise[R]
}

// xThreadAsyncNode is the promise node returned by [ExecuteAsync], living
// on the caller's loop.
type xThreadAsyncNode[R any] struct {
	h          *xThreadHandle[R]
	loop       *EventLoop
	state      nodeState
	value      R
	err        error
	parent     Event
	depthFirst bool
}

// ExecuteAsync submits f to e's target loop and returns a promise, local
// to callerLoop, that resolves when the target completes (§4.5). Unlike
// [ExecuteSyncPromise] it never blocks the calling goroutine.
func ExecuteAsync[R any](callerLoop *EventLoop, e *Executor, f func() Promise[R]) Promise[R] {
	h := &xThreadHandle[R]{target: e, callerLoop: callerLoop, f: f}
	n := &xThreadAsyncNode[R]{h: h, loop: callerLoop}
	h.node = n
	e.addDisconnectHook(func() { h.notifyDisconnected() })
	if !e.submit(func() { h.runOnTarget() }) {
		h.notifyDisconnected()
	}
	return newPromise[R](n)
}

func (h *xThreadHandle[R]) runOnTarget() {
	h.mu.Lock()
	if h.cancelRequested {
		h.state = xtCanceled
		ack := h.ackCh
		h.mu.Unlock()
		if ack != nil {
			close(ack)
		}
		return
	}
	h.state = xtExecuting
	h.mu.Unlock()

	p := h.f()

	h.mu.Lock()
	h.promiseNode = p.node
	cancelWanted := h.cancelRequested
	h.mu.Unlock()
	if cancelWanted {
		p.node.Cancel()
	}

	if p.node.Ready() {
		v, err := p.node.Get()
		h.deliver(v, err)
		return
	}
	p.node.OnReady(eventFunc(func() {
		v, err := p.node.Get()
		h.deliver(v, err)
	}))
}

func (h *xThreadHandle[R]) deliver(v R, err error) {
	h.mu.Lock()
	if h.cancelRequested {
		h.state = xtCanceled
		ack := h.ackCh
		h.mu.Unlock()
		if ack != nil {
			close(ack)
		}
		return
	}
	h.state = xtDone
	h.mu.Unlock()
	node := h.node
	h.callerLoop.executor.submit(func() { node.settle(v, err) })
}

// notifyDisconnected is run (via the target Executor's disconnect hooks)
// when the target loop exits with this event still outstanding (§4.5,
// §8.9): the caller's promise settles with [ErrDisconnected].
func (h *xThreadHandle[R]) notifyDisconnected() {
	h.mu.Lock()
	if h.state == xtDone || h.state == xtCanceled {
		h.mu.Unlock()
		return
	}
	h.state = xtDone
	ack := h.ackCh
	h.mu.Unlock()
	if ack != nil {
		close(ack)
	}
	var zero R
	node := h.node
	h.callerLoop.executor.submit(func() { node.settle(zero, ErrDisconnected) })
}

// cancelAndWait sends a cancel request to the target loop and blocks
// until it is acknowledged (§4.5: "the submitter completes the cancel
// synchronously... required for correctness of object lifetimes"). The
// calling goroutine is necessarily its own loop's (h.callerLoop's) owning
// goroutine, and a cancellation cycle (§8.8) can route the reply leg back
// through that very loop (P -> A -> B -> P): the target can't finish
// acknowledging until P drains its own inbox and fires the returning
// event. A bare `<-ack` would deadlock that case, so this keeps pumping
// the caller's own loop — turn()/drainInbox/port.Wait, the same two-queue
// reply-drain structure as [waitOnLoop] — until ack closes, woken early
// by a forwarding goroutine that calls the port's cross-goroutine Wake.
func (h *xThreadHandle[R]) cancelAndWait() {
	h.mu.Lock()
	if h.state == xtDone || h.state == xtCanceled {
		h.mu.Unlock()
		return
	}
	h.cancelRequested = true
	ack := make(chan struct{})
	h.ackCh = ack
	st := h.state
	pnode := h.promiseNode
	h.mu.Unlock()

	if !h.target.IsLive() {
		return
	}
	if st == xtExecuting && pnode != nil {
		h.target.submit(func() { pnode.Cancel() })
	}

	loop := h.callerLoop
	go func() {
		<-ack
		loop.port.Wake()
	}()
	for {
		select {
		case <-ack:
			return
		default:
		}
		if loop.turn() {
			continue
		}
		loop.executor.drainInbox()
		select {
		case <-ack:
			return
		default:
		}
		var deadline time.Time
		if loop.isEmpty() {
			deadline = time.Now().Add(defaultWaitTimeout)
		}
		loop.port.Wait(deadline)
	}
}

func (n *xThreadAsyncNode[R]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.loop.arm(parent)
		return
	}
	n.depthFirst = true
}

func (n *xThreadAsyncNode[R]) Ready() bool      { return n.state == stateReady }
func (n *xThreadAsyncNode[R]) Get() (R, error)  { return n.value, n.err }
func (n *xThreadAsyncNode[R]) Trace(b *TraceBuilder) { b.Add("executor.executeAsync") }

func (n *xThreadAsyncNode[R]) Cancel() {
	if n.state == stateReady {
		return
	}
	n.h.cancelAndWait()
	var zero R
	n.settle(zero, ErrCanceled)
}

func (n *xThreadAsyncNode[R]) settle(v R, err error) {
	if n.state == stateReady {
		return
	}
	n.state = stateReady
	n.value, n.err = v, err
	if n.parent == nil {
		return
	}
	if n.depthFirst && n.loop.running {
		n.parent.fire()
		return
	}
	n.loop.arm(n.parent)
}

// CrossThreadFulfiller is the thread-safe write side backing
// [NewPromiseAndCrossThreadFulfiller] (§3 XThreadPaf, §4.5). Fulfill and
// Reject may be called from any goroutine; only the first call across
// either method has an effect (§8.6).
type CrossThreadFulfiller[T any] struct {
	shared *xtPafShared[T]
}

type xtPafShared[T any] struct {
	mu      sync.Mutex
	settled bool
	node    *settlable[T]
	loop    *EventLoop
}

// NewPromiseAndCrossThreadFulfiller splits a promise, owned by loop, from
// a fulfiller safe to call from any other goroutine (§4.5, §6).
func NewPromiseAndCrossThreadFulfiller[T any](loop *EventLoop) (Promise[T], CrossThreadFulfiller[T]) {
	n := &settlable[T]{loop: loop, frame: "xthread.paf"}
	return newPromise[T](n), CrossThreadFulfiller[T]{shared: &xtPafShared[T]{node: n, loop: loop}}
}

func (f CrossThreadFulfiller[T]) settle(v T, err error) {
	s := f.shared
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return
	}
	s.settled = true
	s.mu.Unlock()
	s.loop.executor.submit(func() { s.node.settle(v, err) })
}

// Fulfill settles the paired promise with v, idempotently.
func (f CrossThreadFulfiller[T]) Fulfill(v T) { f.settle(v, nil) }

// Reject settles the paired promise with err, idempotently.
func (f CrossThreadFulfiller[T]) Reject(err error) {
	var zero T
	f.settle(zero, err)
}

// IsWaiting reports whether the paired promise is still alive and
// unfulfilled, observable from the fulfilling thread (§4.5: "cancelling
// the promise transitions the fulfiller's is_waiting to false").
func (f CrossThreadFulfiller[T]) IsWaiting() bool {
	s := f.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.settled && !s.node.Ready()
}

// RejectIfAbandoned rejects the paired promise with [ErrBrokenPromise] if
// it has not already settled (§4.5). Intended for
// `defer fulfiller.RejectIfAbandoned()` in the owning goroutine.
func (f CrossThreadFulfiller[T]) RejectIfAbandoned() {
	f.settle(*new(T), ErrBrokenPromise)
}
