// Package async provides a single-threaded, cooperative asynchronous
// execution runtime: a promise (future) graph with explicit ownership, an
// event loop and [WaitScope] for synchronous waiting, coroutine and fiber
// adapters, and a cross-thread [Executor] that lets goroutines submit work
// onto each other's loops with precise cancellation semantics.
//
// # Architecture
//
// A [Promise] owns exactly one [PromiseNode]: a lazy, typed node in a DAG of
// computation steps. Nodes are composed with combinators ([Then], [Catch],
// [Fork], [Join], [JoinFailFast], [RaceSuccessful], [ExclusiveJoin],
// [Attach]) rather than constructed directly. An [EventLoop] runs armed
// events FIFO; [Wait] pumps the loop until a target node is ready,
// blocking on the loop's [EventPort] when idle.
//
// # Thread Affinity
//
// Exactly one [WaitScope] may be alive per [EventLoop] at a time, and it
// binds the loop to the goroutine that created it until the scope is
// closed. Promise nodes are only ever touched by that goroutine. Threads
// (goroutines) interact with a foreign loop only through its [Executor].
//
// # Usage
//
//	loop := async.NewEventLoop(async.NewDefaultPort())
//	scope := async.NewWaitScope(loop)
//	defer scope.Close()
//
//	p := async.Ready(42)
//	v, err := async.Wait(scope, p)
//
// # Error Kinds
//
// Failures propagate through the promise graph as [Exception] values:
// [ErrFailed], [ErrOverloaded], [ErrDisconnected], [ErrUnimplemented],
// [ErrCanceled], and [ErrBrokenPromise]. See [Exception.Kind].
package async
