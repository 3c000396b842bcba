package async

// thenNode implements the `then`/`catch` combinator (§4.1.1), including
// chain collapsing (§4.1.2): when the continuation itself returns a
// Promise[U], the node becomes transparent and forwards Trace directly to
// the inner node instead of accumulating its own frame, capping trace
// depth regardless of chain length.
type thenNode[T, U any] struct {
	loop *EventLoop

	input PromiseNode[T]

	onOk   func(T) (U, error)
	onOkP  func(T) (Promise[U], error)
	onErr  func(error) (U, error)
	onErrP func(error) (Promise[U], error)

	frame string

	phase      int // 0: waiting on input, 1: collapsed onto inner, 2: done
	inner      PromiseNode[U]
	inputArmed bool

	state      nodeState
	value      U
	err        error
	parent     Event
	depthFirst bool
}

func newThenNode[T, U any](loop *EventLoop, input PromiseNode[T], frame string) *thenNode[T, U] {
	return &thenNode[T, U]{loop: loop, input: input, frame: frame}
}

func (n *thenNode[T, U]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.loop.arm(parent)
		return
	}
	n.depthFirst = true
	if !n.inputArmed {
		n.inputArmed = true
		n.input.OnReady(n)
	}
}

func (n *thenNode[T, U]) Ready() bool { return n.state == stateReady }

func (n *thenNode[T, U]) Get() (U, error) { return n.value, n.err }

func (n *thenNode[T, U]) Trace(b *TraceBuilder) {
	if n.inner != nil {
		n.inner.Trace(b)
		return
	}
	if n.frame != "" {
		b.Add(n.frame)
	}
	if n.phase == 0 {
		n.input.Trace(b)
	}
}

func (n *thenNode[T, U]) Cancel() {
	if n.inner != nil {
		n.inner.Cancel()
		return
	}
	n.input.Cancel()
}

// fire is invoked as an Event: once by the input settling (phase 0), and
// again (via n.inner.OnReady(n)) if the continuation collapsed onto
// another promise (phase 1).
func (n *thenNode[T, U]) fire() {
	switch n.phase {
	case 0:
		v, err := n.input.Get()
		n.runContinuation(v, err)
	case 1:
		val, err := n.inner.Get()
		n.settle(val, err)
	}
}

func (n *thenNode[T, U]) runContinuation(v T, err error) {
	switch {
	case err != nil && n.onErrP != nil:
		p, err2 := n.onErrP(err)
		n.adopt(p, err2)
	case err != nil && n.onErr != nil:
		val, err2 := n.onErr(err)
		n.settle(val, err2)
	case err != nil:
		var zero U
		n.settle(zero, err)
	case n.onOkP != nil:
		p, err2 := n.onOkP(v)
		n.adopt(p, err2)
	default:
		val, err2 := n.onOk(v)
		n.settle(val, err2)
	}
}

func (n *thenNode[T, U]) adopt(p Promise[U], err error) {
	if err != nil {
		var zero U
		n.settle(zero, err)
		return
	}
	if p.node == nil {
		var zero U
		n.settle(zero, nil)
		return
	}
	n.phase = 1
	n.inner = p.node
	n.inner.OnReady(n)
}

func (n *thenNode[T, U]) settle(v U, err error) {
	if n.state == stateReady {
		return
	}
	n.phase = 2
	n.state = stateReady
	n.value, n.err = v, err
	if n.parent == nil {
		return
	}
	if n.depthFirst && n.loop != nil && n.loop.running {
		n.parent.fire()
		return
	}
	if n.loop != nil {
		n.loop.arm(n.parent)
	}
}

// Then chains a success continuation (and, optionally, an error handler)
// onto p. Either handler may be nil; a nil onErr propagates the failure
// unchanged (§4.1.1 then(f, err)).
func Then[T, U any](loop *EventLoop, p Promise[T], onOk func(T) (U, error), onErr func(error) (U, error)) Promise[U] {
	n := newThenNode[T, U](loop, p.node, "then")
	n.onOk, n.onErr = onOk, onErr
	return newPromise[U](n)
}

// ThenPromise is the chain-collapsing form of [Then]: onOk (and/or onErr)
// returns a Promise[U] which is adopted as the chain node's child rather
// than double-wrapped (§4.1.1: "the chain resolves to U, no double promise").
func ThenPromise[T, U any](loop *EventLoop, p Promise[T], onOk func(T) (Promise[U], error), onErr func(error) (Promise[U], error)) Promise[U] {
	n := newThenNode[T, U](loop, p.node, "then")
	n.onOkP, n.onErrP = onOk, onErr
	return newPromise[U](n)
}

// Catch runs handler only if p fails, producing a promise of the same
// type T that never fails once handler returns successfully.
func Catch[T any](loop *EventLoop, p Promise[T], handler func(error) (T, error)) Promise[T] {
	return Then[T, T](loop, p, func(v T) (T, error) { return v, nil }, handler)
}

// IgnoreResult discards the value, keeping only the exception channel
// (§4.1.1).
func IgnoreResult[T any](loop *EventLoop, p Promise[T]) Promise[struct{}] {
	return Then[T, struct{}](loop, p, func(T) (struct{}, error) { return struct{}{}, nil }, nil)
}

// eagerNode wraps input so it is registered with the loop immediately
// (OnReady'd against a no-op event) rather than only when something waits
// on it, implementing eagerlyEvaluate (§4.1.1): "without this, dangling
// promises do not execute".
type eagerNode[T any] struct {
	PromiseNode[T]
}

// EagerlyEvaluate wraps p so it advances even without a waiter.
func EagerlyEvaluate[T any](loop *EventLoop, p Promise[T]) Promise[T] {
	if !p.node.Ready() {
		p.node.OnReady(eventFunc(func() {}))
	}
	return newPromise[T](eagerNode[T]{p.node})
}

// attachNode binds resource's lifetime to a wrapped node: resource is
// released exactly when the node is cancelled or settles and is dropped
// by its owner (§4.1.1 attach).
type attachNode[T any] struct {
	PromiseNode[T]
	resource   any
	onRelease  func(any)
	released   bool
}

func (n *attachNode[T]) release() {
	if n.released {
		return
	}
	n.released = true
	if n.onRelease != nil {
		n.onRelease(n.resource)
	}
}

func (n *attachNode[T]) Get() (T, error) {
	v, err := n.PromiseNode.Get()
	n.release()
	return v, err
}

func (n *attachNode[T]) Cancel() {
	n.PromiseNode.Cancel()
	n.release()
}

// Attach binds resource to p: whatever onRelease does (typically closing
// or discarding resource) runs exactly once, when p's node is destroyed
// (via Cancel) or its result is consumed (via Get), whichever comes first.
// onRelease may be nil if resource's own finalization is sufficient (e.g.
// resource is itself an io.Closer closed elsewhere); passing a non-nil
// onRelease is the common case.
func Attach[T any](p Promise[T], resource any, onRelease func(any)) Promise[T] {
	return newPromise[T](&attachNode[T]{PromiseNode: p.node, resource: resource, onRelease: onRelease})
}

// exclusiveJoinNode resolves with whichever of two input nodes settles
// first, destroying the other (§4.1.1 exclusiveJoin).
type exclusiveJoinNode[T any] struct {
	loop       *EventLoop
	a, b       PromiseNode[T]
	state      nodeState
	value      T
	err        error
	parent     Event
	depthFirst bool
	decided    bool
	winnerIsA  bool
}

func (n *exclusiveJoinNode[T]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.loop.arm(parent)
		return
	}
	n.depthFirst = true
	n.a.OnReady(exclusiveJoinSide[T]{n, true})
	n.b.OnReady(exclusiveJoinSide[T]{n, false})
}

func (n *exclusiveJoinNode[T]) Ready() bool { return n.state == stateReady }
func (n *exclusiveJoinNode[T]) Get() (T, error) { return n.value, n.err }
func (n *exclusiveJoinNode[T]) Trace(b *TraceBuilder) {
	b.Add("exclusiveJoin")
	if n.decided {
		if n.winnerIsA {
			n.a.Trace(b)
		} else {
			n.b.Trace(b)
		}
	}
}
func (n *exclusiveJoinNode[T]) Cancel() {
	n.a.Cancel()
	n.b.Cancel()
}

func (n *exclusiveJoinNode[T]) settleFrom(isA bool) {
	if n.state == stateReady {
		return
	}
	n.decided = true
	n.winnerIsA = isA
	if isA {
		n.value, n.err = n.a.Get()
		n.b.Cancel()
	} else {
		n.value, n.err = n.b.Get()
		n.a.Cancel()
	}
	n.state = stateReady
	if n.parent == nil {
		return
	}
	if n.depthFirst && n.loop.running {
		n.parent.fire()
		return
	}
	n.loop.arm(n.parent)
}

type exclusiveJoinSide[T any] struct {
	n    *exclusiveJoinNode[T]
	isA  bool
}

func (s exclusiveJoinSide[T]) fire() { s.n.settleFrom(s.isA) }

// ExclusiveJoin resolves with whichever of a, b settles first; the other
// is cancelled.
func ExclusiveJoin[T any](loop *EventLoop, a, b Promise[T]) Promise[T] {
	return newPromise[T](&exclusiveJoinNode[T]{loop: loop, a: a.node, b: b.node})
}

// EvalLater schedules f to run at the end of the current turn (§4.1.1),
// via the loop's ordinary (breadth-first) run queue.
func EvalLater[T any](loop *EventLoop, f func() (T, error)) Promise[T] {
	n := &settlable[T]{loop: loop, frame: "evalLater"}
	loop.arm(eventFunc(func() {
		v, err := f()
		n.settle(v, err)
	}))
	return newPromise[T](n)
}

// EvalLast schedules f to run after all ordinary events at the current
// phase have drained (§4.1.1, §5: "runs after all ordinary events ... may
// reschedule additional ordinary events, which then all run before the
// next evalLast tier"). It is implemented with a dedicated lower-priority
// tier tracked by the loop.
func EvalLast[T any](loop *EventLoop, f func() (T, error)) Promise[T] {
	n := &settlable[T]{loop: loop, frame: "evalLast"}
	loop.scheduleLast(func() {
		v, err := f()
		n.settle(v, err)
	})
	return newPromise[T](n)
}

// Yield returns a promise that resolves with no value after giving other
// already-armed events a chance to run (§4.1.1 yield()).
func Yield(loop *EventLoop) Promise[struct{}] {
	return EvalLater[struct{}](loop, func() (struct{}, error) { return struct{}{}, nil })
}
