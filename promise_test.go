package async

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// basic resolution
// =============================================================================

func newLoopAndScope() (*EventLoop, *WaitScope) {
	loop := NewEventLoop(NewDefaultPort())
	scope := NewWaitScope(loop)
	return loop, scope
}

func TestReadyFailed(t *testing.T) {
	_, scope := newLoopAndScope()
	defer scope.Close()

	v, err := Wait(scope, Ready(42))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Wait(scope, Failed[int](ErrFailed))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)
}

func TestNeverDoneBlocksUntilCancelled(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := NeverDone[int](loop)
	assert.False(t, p.Poll(scope))
	p.Cancel()
}

// =============================================================================
// Then / chain-collapsing ordering (§8.1-§8.3)
// =============================================================================

func TestThenOrdering(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := Then[int, int](loop, Ready(1), func(v int) (int, error) { return v + 1, nil }, nil)
	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestThenPropagatesErrorWithoutHandler(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := Then[int, int](loop, Failed[int](ErrFailed), func(v int) (int, error) { return v, nil }, nil)
	_, err := Wait(scope, p)
	assert.ErrorIs(t, err, ErrFailed)
}

func TestCatchRecovers(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := Catch[int](loop, Failed[int](ErrFailed), func(error) (int, error) { return 7, nil })
	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestThenPromiseCollapsesChain(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := ThenPromise[int, int](loop, Ready(1), func(v int) (Promise[int], error) {
		return Ready(v * 10), nil
	}, nil)
	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	// a long chain collapses to a single trace frame instead of accumulating
	// one per link (§4.1.2).
	chain := Ready(1)
	for i := 0; i < 20; i++ {
		chain = ThenPromise[int, int](loop, chain, func(v int) (Promise[int], error) {
			return Ready(v + 1), nil
		}, nil)
	}
	v, err = Wait(scope, chain)
	require.NoError(t, err)
	assert.Equal(t, 21, v)

	// a 1000-link chain still collapses: Trace() follows the innermost
	// adopted promise directly rather than walking back through every
	// intermediate link, so its frame count stays bounded regardless of
	// how long the chain was (§8.3 testable property: trace depth).
	long := Ready(0)
	for i := 0; i < 1000; i++ {
		long = ThenPromise[int, int](loop, long, func(v int) (Promise[int], error) {
			return Ready(v + 1), nil
		}, nil)
	}
	v, err = Wait(scope, long)
	require.NoError(t, err)
	assert.Equal(t, 1000, v)

	var b TraceBuilder
	long.node.Trace(&b)
	assert.Less(t, len(b.Frames()), 5)
}

// =============================================================================
// Join / JoinFailFast / RaceSuccessful (§4.1.1, §8.5)
// =============================================================================

func TestJoinFailLateReportsFirstErrorAfterAllSettle(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	var logged []error
	SetLogger(loggerFunc(func(kind string, fields ...Field) {
		for _, f := range fields {
			if f.Key == "err" {
				if e, ok := f.Value.(error); ok {
					logged = append(logged, e)
				}
			}
		}
	}))
	defer SetLogger(nil)

	p := Join[int](loop, Ready(1), Failed[int](ErrFailed), Failed[int](ErrOverloaded), Ready(4))
	_, err := Wait(scope, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailed)
	assert.Len(t, logged, 1)
	assert.ErrorIs(t, logged[0], ErrOverloaded)
}

// TestJoinFailLateWaitsForEveryInputBeforeSettling demonstrates the
// temporal half of fail-late join's completion condition: the joined
// promise does not settle merely because the other inputs have — it stays
// pending until the slowest input (here, a still-unfulfilled paf) settles
// too.
func TestJoinFailLateWaitsForEveryInputBeforeSettling(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	src, fulfiller := NewPromiseAndFulfiller[int](loop)
	defer fulfiller.RejectIfAbandoned()

	p := Join[int](loop, Ready(1), src, Ready(3))

	assert.False(t, p.Poll(scope), "join must not settle before every input has")

	fulfiller.Fulfill(2)

	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)
	assert.True(t, p.Poll(scope))
}

func TestJoinFailFastCancelsRemaining(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	slow, fulfiller := NewPromiseAndFulfiller[int](loop)
	p := JoinFailFast[int](loop, slow, Failed[int](ErrFailed))
	_, err := Wait(scope, p)
	assert.ErrorIs(t, err, ErrFailed)
	assert.False(t, fulfiller.IsWaiting())
}

func TestRaceSuccessfulPicksFirstSuccess(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := RaceSuccessful[int](loop, Failed[int](ErrFailed), Ready(9))
	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}

func TestRaceSuccessfulFailsOnlyWhenAllFail(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p := RaceSuccessful[int](loop, Failed[int](ErrFailed), Failed[int](ErrOverloaded))
	_, err := Wait(scope, p)
	assert.ErrorIs(t, err, ErrOverloaded)
}

// =============================================================================
// ForkHub branch independence (§8.15)
// =============================================================================

func TestForkBranchesAreIndependent(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	src, fulfiller := NewPromiseAndFulfiller[int](loop)
	hub := Fork[int](loop, src)

	a := hub.AddBranch()
	b := hub.AddBranch()
	a.Cancel()

	fulfiller.Fulfill(5)
	v, err := Wait(scope, b)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestForkUpstreamCancelledWhenAllBranchesDropped(t *testing.T) {
	loop, _ := newLoopAndScope()
	src, fulfiller := NewPromiseAndFulfiller[int](loop)
	hub := Fork[int](loop, src)

	a := hub.AddBranch()
	a.Cancel()

	assert.False(t, fulfiller.IsWaiting())
}

// =============================================================================
// Fulfiller idempotency (§8.6)
// =============================================================================

func TestFulfillerIdempotent(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p, f := NewPromiseAndFulfiller[int](loop)
	f.Fulfill(1)
	f.Fulfill(2)
	f.Reject(ErrFailed)

	v, err := Wait(scope, p)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRejectIfAbandoned(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	p, f := NewPromiseAndFulfiller[int](loop)
	func() {
		defer f.RejectIfAbandoned()
	}()
	_, err := Wait(scope, p)
	assert.ErrorIs(t, err, ErrBrokenPromise)
}

// =============================================================================
// TaskSet reentrant Clear (§8.16)
// =============================================================================

func TestTaskSetClearFromWithinHandler(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	var cleared bool
	var set *TaskSet
	set = NewTaskSet(loop, func(err error) {
		cleared = true
		set.Clear()
	})

	set.Add(IgnoreResult[int](loop, Failed[int](ErrFailed)))
	set.Add(NeverDone[struct{}](loop))

	done := set.OnEmpty()
	_, err := Wait(scope, done)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Equal(t, 0, set.Len())
}

// =============================================================================
// Canceler
// =============================================================================

func TestCancelerRejectsWrapped(t *testing.T) {
	loop, scope := newLoopAndScope()
	defer scope.Close()

	c := NewCanceler(loop)
	p := Wrap[int](c, NeverDone[int](loop))
	c.Cancel(ErrDisconnected)

	_, err := Wait(scope, p)
	assert.ErrorIs(t, err, ErrDisconnected)
}

// loggerFunc adapts a closure to Logger, for asserting on warn-level output.
type loggerFunc func(kind string, fields ...Field)

func (f loggerFunc) Debug(string, ...Field) {}
func (f loggerFunc) Info(string, ...Field)  {}
func (f loggerFunc) Warn(msg string, fields ...Field) { f("warn", fields...) }
func (f loggerFunc) Error(string, ...Field) {}
