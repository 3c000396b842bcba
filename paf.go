package async

// Fulfiller is the write side of a split promise/fulfiller pair (§4.5,
// §6). Fulfill/Reject are idempotent: only the first call has an effect.
type Fulfiller[T any] struct {
	node *settlable[T]
}

// Fulfill settles the paired promise with v. A second call (Fulfill or
// Reject) is a no-op (§8.6).
func (f Fulfiller[T]) Fulfill(v T) { f.node.settle(v, nil) }

// Reject settles the paired promise with err.
func (f Fulfiller[T]) Reject(err error) {
	var zero T
	f.node.settle(zero, err)
}

// IsWaiting reports whether the paired promise is still alive (i.e. has
// not been cancelled) and unfulfilled.
func (f Fulfiller[T]) IsWaiting() bool { return !f.node.Ready() }

// NewPromiseAndFulfiller splits a promise from its write side (§4.5, §6).
// If the [Fulfiller] is dropped (never called) without Fulfill/Reject, the
// caller should call Reject(ErrBrokenPromise) explicitly — Go has no
// destructors to do this implicitly; use [Fulfiller.RejectIfAbandoned]
// via defer for the common case.
func NewPromiseAndFulfiller[T any](loop *EventLoop) (Promise[T], Fulfiller[T]) {
	n := &settlable[T]{loop: loop, frame: "paf"}
	return newPromise[T](n), Fulfiller[T]{node: n}
}

// RejectIfAbandoned rejects the paired promise with [ErrBrokenPromise] if
// it has not already settled. Intended for `defer fulfiller.RejectIfAbandoned()`
// immediately after [NewPromiseAndFulfiller], mirroring the source's
// "fulfiller destructor rejects with BrokenPromise" behavior (§4.5).
func (f Fulfiller[T]) RejectIfAbandoned() {
	if !f.node.Ready() {
		f.Reject(ErrBrokenPromise)
	}
}
