package async

// Go has no native stackless-coroutine/await primitive, so the §4.2
// contract (three-state PromiseNode, suspend/resume at co_await, cancel
// via unwind) is encoded as a managed goroutine rendezvousing with the
// owning loop over two unbuffered channels: ctrl carries the coroutine's
// requests (await this promise / I'm done) to the loop goroutine, resume
// carries the loop's replies back. Every PromiseNode method call the
// coroutine needs happens on the loop's goroutine, inside coroutineNode's
// Event.fire implementations — never on the coroutine's own goroutine —
// preserving the "nodes are only touched by their owning loop" invariant
// of §5. This mirrors eventloop/promisify.go's goroutine-per-callback
// pattern, extended with a yield point for nested awaits.

type coroMsgKind uint8

const (
	coroMsgAwait coroMsgKind = iota
	coroMsgDone
)

type coroMsg struct {
	kind  coroMsgKind
	node  PromiseNode[any] // valid when kind == coroMsgAwait
	value any              // valid when kind == coroMsgDone
	err   error
}

type coroResult struct {
	value any
	err   error
}

// Yield is the handle passed to a coroutine body, used to suspend on
// other promises via [Await].
type Yield[T any] struct {
	node *coroutineNode[T]
}

type coroutineNode[T any] struct {
	loop *EventLoop
	fn   func(*Yield[T]) (T, error)

	ctrl   chan coroMsg
	resume chan coroResult

	started       bool
	suspendedOnce bool
	cancelled     bool
	currentAwaited PromiseNode[any]

	state      nodeState
	value      T
	err        error
	parent     Event
	depthFirst bool
}

// Async runs fn on a managed goroutine and returns a promise of its
// result. fn begins suspended (§4.2 "initial suspend"): nothing runs
// until the returned promise is first observed (rooted by [Wait], wrapped
// in [EagerlyEvaluate], or otherwise armed).
func Async[T any](loop *EventLoop, fn func(y *Yield[T]) (T, error)) Promise[T] {
	n := &coroutineNode[T]{
		loop:   loop,
		fn:     fn,
		ctrl:   make(chan coroMsg),
		resume: make(chan coroResult),
	}
	return newPromise[T](n)
}

// Await suspends the calling coroutine until p settles, implementing the
// three fast paths of §4.2:
//  1. p already resolved, the loop is actively running, and this
//     coroutine has suspended at least once before: extract synchronously.
//  2. Otherwise: register as p's parent event and suspend.
//  3. On resumption: return p's result; a failure should normally be
//     returned by fn unchanged, to preserve cancellation propagation
//     (§4.2, §7) — Go has no exception unwinding, so re-throwing becomes
//     "return the error".
func Await[T, U any](y *Yield[T], p Promise[U]) (U, error) {
	n := y.node
	n.ctrl <- coroMsg{kind: coroMsgAwait, node: anyNode[U]{p.node}}
	res := <-n.resume
	var v U
	if res.value != nil {
		v = res.value.(U)
	}
	return v, res.err
}

func (n *coroutineNode[T]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.loop.arm(parent)
		return
	}
	n.depthFirst = true
	if !n.started {
		n.started = true
		go n.runBody()
		n.drive()
	}
}

func (n *coroutineNode[T]) Ready() bool     { return n.state == stateReady }
func (n *coroutineNode[T]) Get() (T, error) { return n.value, n.err }

func (n *coroutineNode[T]) Trace(b *TraceBuilder) {
	b.Add("async.coroutine")
	if n.currentAwaited != nil {
		n.currentAwaited.Trace(b)
	}
}

func (n *coroutineNode[T]) Cancel() {
	if n.state == stateReady {
		return
	}
	n.cancelled = true
	if n.currentAwaited != nil {
		n.currentAwaited.Cancel()
	}
}

func (n *coroutineNode[T]) runBody() {
	defer func() {
		if r := recover(); r != nil {
			n.ctrl <- coroMsg{kind: coroMsgDone, err: WrapException(KindFailed, "coroutine panicked", asError(r))}
		}
	}()
	y := &Yield[T]{node: n}
	v, err := n.fn(y)
	n.ctrl <- coroMsg{kind: coroMsgDone, value: any(v), err: err}
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return NewException(KindFailed, "panic")
}

// drive runs on the loop's goroutine: it processes coroutine requests
// until the coroutine either suspends on a not-yet-ready promise (in
// which case drive returns, giving control back to the caller of
// OnReady/fire) or finishes (in which case the node settles).
func (n *coroutineNode[T]) drive() {
	for {
		msg := <-n.ctrl
		switch msg.kind {
		case coroMsgDone:
			v, _ := msg.value.(T)
			n.finish(v, msg.err)
			return
		case coroMsgAwait:
			if n.cancelled {
				n.resume <- coroResult{err: ErrCanceled}
				continue
			}
			if msg.node.Ready() && n.suspendedOnce && n.loop.running {
				v, err := msg.node.Get()
				n.resume <- coroResult{value: v, err: err}
				continue
			}
			n.suspendedOnce = true
			n.currentAwaited = msg.node
			msg.node.OnReady(coroAwaitEvent[T]{n})
			return
		}
	}
}

// coroAwaitEvent is the parent event registered against whatever promise
// the coroutine is currently suspended on.
type coroAwaitEvent[T any] struct{ n *coroutineNode[T] }

func (e coroAwaitEvent[T]) fire() {
	n := e.n
	node := n.currentAwaited
	n.currentAwaited = nil
	v, err := node.Get()
	n.resume <- coroResult{value: v, err: err}
	n.drive()
}

func (n *coroutineNode[T]) finish(v T, err error) {
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
