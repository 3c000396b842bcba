package async

// Promise is a move-only, user-visible handle owning exactly one
// [PromiseNode] (§3). Go has no destructors, so "dropping" a Promise is
// explicit: call [Promise.Cancel], or pass it into a combinator that
// consumes it (the combinator takes over ownership and the caller must not
// use its copy of the handle again — this is documented discipline, not
// enforced by the type system, matching the move-only semantics of §9).
type Promise[T any] struct {
	node PromiseNode[T]
}

// newPromise wraps a freshly-built node into a handle.
func newPromise[T any](n PromiseNode[T]) Promise[T] { return Promise[T]{node: n} }

// Valid reports whether the handle owns a node (the zero value does not).
func (p Promise[T]) Valid() bool { return p.node != nil }

// Ready returns an already-resolved promise carrying v (§4.1.1 constPromise/READY_NOW).
func Ready[T any](v T) Promise[T] { return newPromise[T](newValueNode[T](v, nil)) }

// Failed returns an already-rejected promise carrying err.
func Failed[T any](err error) Promise[T] {
	var zero T
	return newPromise[T](newValueNode[T](zero, err))
}

// NeverDone returns a promise that never settles (§4.1.1 NEVER_DONE).
// Waiting on it blocks until the waiting [WaitScope] is abandoned or the
// promise itself is cancelled.
func NeverDone[T any](loop *EventLoop) Promise[T] {
	return newPromise[T](newNeverNode[T](loop))
}

// Cancel destroys the promise's node, synchronously cancelling the
// computation and (recursively) any children it owns (§3 Lifecycle, §5
// Cancellation). Calling Cancel more than once, or on an invalid Promise,
// is a no-op.
func (p Promise[T]) Cancel() {
	if p.node != nil {
		p.node.Cancel()
	}
}

// Poll reports whether the promise has settled without consuming its
// result, running one bounded pass of scope's loop first.
func (p Promise[T]) Poll(scope *WaitScope) bool { return Poll(scope, p) }

// Trace renders the promise's current chain of frames (§4.1, non-essential
// for correctness).
func (p Promise[T]) Trace() string {
	var b TraceBuilder
	if p.node != nil {
		p.node.Trace(&b)
	}
	return b.String()
}
