package async

import "time"

// Fiber, FiberPool (§4.3, REDESIGN per §9/SPEC_FULL §4.3): Go goroutines
// are preemptively scheduled, not independently addressable stacks, so a
// literal stack-switching fiber is not expressible. What is preserved is
// the fiber's *purpose*: a stackful-looking execution context that can
// call a blocking Wait without parking the OS thread (here: the loop's
// goroutine), and amortizing its setup cost. The mechanism is the same
// ctrl/resume channel rendezvous used by the coroutine adapter
// (coroutine.go); the "pool" caches idle rendezvous channel pairs instead
// of OS stacks and does not limit how many fibers run at once.

// Fiber is one stackful-looking execution context: a goroutine parked on
// its own [WaitScope], whose Wait calls suspend only the fiber, never the
// owning loop's goroutine.
type Fiber struct {
	loop   *EventLoop
	ctrl   chan coroMsg
	resume chan coroResult
	pool   *FiberPool
}

// FiberPool caches released fiber rendezvous structs up to maxIdle,
// approximating the source's "cache released fiber stacks up to a
// configurable high-water mark" (§4.3).
type FiberPool struct {
	loop    *EventLoop
	maxIdle int
	idle    []*Fiber
}

// NewFiberPool constructs a pool bound to loop, retaining up to maxIdle
// idle fibers for reuse.
func NewFiberPool(loop *EventLoop, maxIdle int) *FiberPool {
	return &FiberPool{loop: loop, maxIdle: maxIdle}
}

func (p *FiberPool) get() *Fiber {
	if n := len(p.idle); n > 0 {
		f := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return f
	}
	return &Fiber{loop: p.loop, ctrl: make(chan coroMsg), resume: make(chan coroResult), pool: p}
}

func (p *FiberPool) release(f *Fiber) {
	if len(p.idle) >= p.maxIdle {
		return
	}
	p.idle = append(p.idle, f)
}

// fiberNode is the PromiseNode driving one startFiber call; its shape and
// drive/runBody logic mirror coroutineNode in coroutine.go exactly,
// substituting a *WaitScope-taking body for a *Yield-taking one.
type fiberNode[T any] struct {
	fiber *Fiber
	fn    func(*WaitScope) (T, error)

	started        bool
	suspendedOnce  bool
	cancelled      bool
	currentAwaited PromiseNode[any]

	state      nodeState
	value      T
	err        error
	parent     Event
	depthFirst bool
}

// StartFiber schedules f on a freshly allocated fiber bound to loop.
// stackSize is accepted for API fidelity with §4.3 (typical 64-256KiB in
// the source) but does not size anything in the Go encoding: goroutine
// stacks grow dynamically and are not independently addressable.
func StartFiber[T any](loop *EventLoop, stackSize int, f func(scope *WaitScope) (T, error)) Promise[T] {
	fiber := &Fiber{loop: loop, ctrl: make(chan coroMsg), resume: make(chan coroResult)}
	return startFiberNode(fiber, f)
}

// StartPooledFiber is [StartFiber] sourcing (and, on completion,
// returning) its rendezvous channels from pool, reusing a freelisted
// entry when available (§4.3 FiberPool.startFiber).
func StartPooledFiber[T any](pool *FiberPool, stackSize int, f func(scope *WaitScope) (T, error)) Promise[T] {
	fiber := pool.get()
	return startFiberNode(fiber, f)
}

func startFiberNode[T any](fiber *Fiber, f func(*WaitScope) (T, error)) Promise[T] {
	n := &fiberNode[T]{fiber: fiber, fn: f}
	return newPromise[T](n)
}

func (n *fiberNode[T]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.fiber.loop.arm(parent)
		return
	}
	n.depthFirst = true
	if !n.started {
		n.started = true
		go n.runBody()
		n.drive()
	}
}

func (n *fiberNode[T]) Ready() bool     { return n.state == stateReady }
func (n *fiberNode[T]) Get() (T, error) { return n.value, n.err }

func (n *fiberNode[T]) Trace(b *TraceBuilder) {
	b.Add("async.fiber")
	if n.currentAwaited != nil {
		n.currentAwaited.Trace(b)
	}
}

func (n *fiberNode[T]) Cancel() {
	if n.state == stateReady {
		return
	}
	n.cancelled = true
	if n.currentAwaited != nil {
		n.currentAwaited.Cancel()
	}
}

func (n *fiberNode[T]) runBody() {
	defer func() {
		if r := recover(); r != nil {
			n.fiber.ctrl <- coroMsg{kind: coroMsgDone, err: WrapException(KindFailed, "fiber panicked", asError(r))}
		}
	}()
	scope := &WaitScope{loop: n.fiber.loop, fiber: n.fiber}
	v, err := n.fn(scope)
	n.fiber.ctrl <- coroMsg{kind: coroMsgDone, value: any(v), err: err}
}

func (n *fiberNode[T]) drive() {
	for {
		msg := <-n.fiber.ctrl
		switch msg.kind {
		case coroMsgDone:
			v, _ := msg.value.(T)
			n.finish(v, msg.err)
			if n.fiber.pool != nil {
				n.fiber.pool.release(n.fiber)
			}
			return
		case coroMsgAwait:
			if n.cancelled {
				n.fiber.resume <- coroResult{err: ErrCanceled}
				continue
			}
			if msg.node.Ready() && n.suspendedOnce && n.fiber.loop.running {
				v, err := msg.node.Get()
				n.fiber.resume <- coroResult{value: v, err: err}
				continue
			}
			n.suspendedOnce = true
			n.currentAwaited = msg.node
			msg.node.OnReady(fiberAwaitEvent[T]{n})
			return
		}
	}
}

type fiberAwaitEvent[T any] struct{ n *fiberNode[T] }

func (e fiberAwaitEvent[T]) fire() {
	n := e.n
	node := n.currentAwaited
	n.currentAwaited = nil
	v, err := node.Get()
	n.fiber.resume <- coroResult{value: v, err: err}
	n.drive()
}

func (n *fiberNode[T]) finish(v T, err error) {
	if n.state == stateReady {
		return
	}
	n.state = stateReady
	n.value, n.err = v, err
	if n.parent == nil {
		return
	}
	if n.depthFirst && n.fiber.loop.running {
		n.parent.fire()
		return
	}
	n.fiber.loop.arm(n.parent)
}

// fiberWait implements [Wait]'s fiber branch: it suspends the
// calling fiber goroutine (not the owning loop's) until p settles.
func fiberWait[T any](f *Fiber, p Promise[T]) (T, error) {
	f.ctrl <- coroMsg{kind: coroMsgAwait, node: anyNode[T]{p.node}}
	res := <-f.resume
	var v T
	if res.value != nil {
		v = res.value.(T)
	}
	return v, res.err
}

// RunSynchronously runs f to completion on a pooled fiber, blocking the
// calling (loop) goroutine until f returns, with no [Promise] involved
// (§4.3: "for cases where stack layout matters but async isn't
// required" — in the Go encoding, for cases where synchronous style
// matters more than a promise handle).
func RunSynchronously[T any](pool *FiberPool, f func(scope *WaitScope) T) T {
	fiber := pool.get()
	defer pool.release(fiber)
	done := make(chan T, 1)
	go func() {
		scope := &WaitScope{loop: pool.loop, fiber: fiber}
		done <- f(scope)
		fiber.ctrl <- coroMsg{kind: coroMsgDone}
	}()
	for {
		select {
		case v := <-done:
			<-fiber.ctrl // drain the terminal coroMsgDone
			return v
		case msg := <-fiber.ctrl:
			if msg.kind == coroMsgDone {
				return <-done
			}
			if msg.kind == coroMsgAwait {
				if msg.node.Ready() && pool.loop.running {
					v, err := msg.node.Get()
					fiber.resume <- coroResult{value: v, err: err}
					continue
				}
				rootEv := newRootEvent()
				msg.node.OnReady(rootEv)
				for !msg.node.Ready() {
					if !pool.loop.turn() {
						pool.loop.port.Wait(time.Time{})
					}
				}
				v, err := msg.node.Get()
				fiber.resume <- coroResult{value: v, err: err}
			}
		}
	}
}
