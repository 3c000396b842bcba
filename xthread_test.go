package async

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ExecuteSync / ExecuteSyncPromise / ExecuteAsync (§4.5, §8.9)
// =============================================================================

func TestExecuteSyncRunsOnTargetLoop(t *testing.T) {
	targetLoop, targetScope := newLoopAndScope()
	defer targetScope.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := ExecuteSync[int](targetLoop.executor, func() (int, error) { return 11, nil })
		require.NoError(t, err)
		assert.Equal(t, 11, v)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("ExecuteSync never ran on the target loop")
		default:
			targetLoop.turn()
			targetLoop.port.Poll()
		}
	}
}

func TestExecuteSyncPromiseDeadlockGuard(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	_, err := ExecuteSyncPromise[int](scope, loop.executor, func() Promise[int] { return Ready(1) })
	assert.ErrorIs(t, err, ErrExecuteSyncDeadlock)
}

func TestExecuteAsyncCrossThreadRoundTrip(t *testing.T) {
	callerLoop, callerScope := newLoopAndScope()
	defer callerScope.Close()
	targetLoop, targetScope := newLoopAndScope()
	defer targetScope.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			targetLoop.turn()
			targetLoop.port.Poll()
			time.Sleep(time.Millisecond)
		}
	}()

	p := ExecuteAsync[int](callerLoop, targetLoop.executor, func() Promise[int] { return Ready(99) })
	v, err := Wait(callerScope, p)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
	wg.Wait()
}

func TestExecutorDisconnectRejectsOutstanding(t *testing.T) {
	callerLoop, callerScope := newLoopAndScope()
	defer callerScope.Close()
	targetLoop := NewEventLoop(NewDefaultPort())
	targetScope := NewWaitScope(targetLoop)

	src, fulfiller := NewPromiseAndFulfiller[int](targetLoop)
	p := ExecuteAsync[int](callerLoop, targetLoop.executor, func() Promise[int] { return src })

	targetScope.Close() // disconnects the target's executor (loop.go Close)

	_, err := Wait(callerScope, p)
	assert.ErrorIs(t, err, ErrDisconnected)
	// The queued f never ran on the disconnected target, so nothing took
	// ownership of src and its fulfiller is still waiting.
	assert.True(t, fulfiller.IsWaiting())
}

// =============================================================================
// CrossThreadFulfiller (§8.6 idempotency, cross-thread variant)
// =============================================================================

// TestExecuteAsyncCrossThreadRoundTripCancelCycle exercises a 3-loop
// cross-thread cancellation cycle: P submits work to A, which (on A's own
// goroutine) submits to B, which (on B's own goroutine) submits back onto
// P, closing the cycle P -> A -> B -> P. Cancelling the outer promise from
// P must round-trip the cancel request through A and B and back to P
// without P's own cancelAndWait deadlocking on its own reply leg.
func TestExecuteAsyncCrossThreadRoundTripCancelCycle(t *testing.T) {
	pLoop, pScope := newLoopAndScope()
	defer pScope.Close()
	aLoop, aScope := newLoopAndScope()
	defer aScope.Close()
	bLoop, bScope := newLoopAndScope()
	defer bScope.Close()

	stopA := make(chan struct{})
	stopB := make(chan struct{})
	var wg sync.WaitGroup
	pump := func(loop *EventLoop, stop <-chan struct{}) {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			loop.turn()
			loop.port.Poll()
			time.Sleep(time.Millisecond)
		}
	}
	wg.Add(2)
	go pump(aLoop, stopA)
	go pump(bLoop, stopB)
	defer func() {
		close(stopA)
		close(stopB)
		wg.Wait()
	}()

	src, fulfiller := NewPromiseAndFulfiller[int](pLoop)
	defer fulfiller.RejectIfAbandoned()
	started := make(chan struct{})

	outer := ExecuteAsync[int](pLoop, aLoop.executor, func() Promise[int] {
		// runs on A's own goroutine
		return ExecuteAsync[int](aLoop, bLoop.executor, func() Promise[int] {
			// runs on B's own goroutine; closes the cycle back onto P
			return ExecuteAsync[int](bLoop, pLoop.executor, func() Promise[int] {
				// runs on P's own goroutine
				close(started)
				return src
			})
		})
	})

	// The last leg runs on P's own loop, so P must be pumped here.
	startDeadline := time.After(5 * time.Second)
waitStarted:
	for {
		select {
		case <-started:
			break waitStarted
		case <-startDeadline:
			t.Fatal("cross-thread chain P -> A -> B -> P never reached B's leg")
		default:
		}
		pLoop.turn()
		pLoop.port.Poll()
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	var v int
	var err error
	go func() {
		defer close(done)
		outer.Cancel()
		v, err = Wait(pScope, outer)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelling the cross-thread cancellation cycle deadlocked")
	}
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Zero(t, v)
}

func TestCrossThreadFulfillerIdempotentAndIsWaiting(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p, f := NewPromiseAndCrossThreadFulfiller[int](loop)
	assert.True(t, f.IsWaiting())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Fulfill(3)
		f.Fulfill(4)
	}()
	wg.Wait()

	for !p.node.Ready() {
		loop.turn()
		loop.port.Poll()
	}
	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.False(t, f.IsWaiting())
}
