package async

// joinNode backs [Join]/[JoinFailFast]: it waits on n inputs and produces
// []T once the join's completion condition (§4.1.1) is met.
type joinNode[T any] struct {
	loop       *EventLoop
	inputs     []PromiseNode[T]
	failFast   bool
	values     []T
	errs       []error
	done       int
	firstErr   error
	state      nodeState
	parent     Event
	depthFirst bool
	cancelled  bool
}

type joinSide[T any] struct {
	n *joinNode[T]
	i int
}

func (s joinSide[T]) fire() { s.n.oneDone(s.i) }

// Join waits for every input to settle before resolving (fail-late):
// if any input fails, the joined promise fails only after all inputs have
// completed, with the first failure's exception; later failures are
// logged, not raised (§4.1.1 joinPromises, §8.5).
func Join[T any](loop *EventLoop, ps ...Promise[T]) Promise[[]T] {
	return newJoin[T](loop, ps, false)
}

// JoinFailFast eagerly evaluates every input and rejects as soon as any
// one fails, cancelling the rest (§4.1.1 joinPromisesFailFast, §8.5).
func JoinFailFast[T any](loop *EventLoop, ps ...Promise[T]) Promise[[]T] {
	return newJoin[T](loop, ps, true)
}

func newJoin[T any](loop *EventLoop, ps []Promise[T], failFast bool) Promise[[]T] {
	n := &joinNode[T]{
		loop:     loop,
		inputs:   make([]PromiseNode[T], len(ps)),
		failFast: failFast,
		values:   make([]T, len(ps)),
		errs:     make([]error, len(ps)),
	}
	for i, p := range ps {
		n.inputs[i] = p.node
	}
	if failFast {
		// eagerly evaluate every input immediately (§4.1.1 joinPromisesFailFast)
		for i, in := range n.inputs {
			if !in.Ready() {
				in.OnReady(joinSide[T]{n, i})
			} else {
				n.oneDone(i)
			}
		}
	}
	return newPromise[[]T](n)
}

func (n *joinNode[T]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.loop.arm(parent)
		return
	}
	n.depthFirst = true
	if !n.failFast {
		for i, in := range n.inputs {
			in.OnReady(joinSide[T]{n, i})
		}
	}
}

func (n *joinNode[T]) Ready() bool { return n.state == stateReady }

func (n *joinNode[T]) Get() ([]T, error) {
	if n.firstErr != nil {
		return nil, n.firstErr
	}
	return n.values, nil
}

func (n *joinNode[T]) Trace(b *TraceBuilder) {
	if n.failFast {
		b.Add("joinPromisesFailFast")
	} else {
		b.Add("joinPromises")
	}
}

func (n *joinNode[T]) Cancel() {
	n.cancelled = true
	for _, in := range n.inputs {
		in.Cancel()
	}
}

func (n *joinNode[T]) oneDone(i int) {
	if n.cancelled || n.state == stateReady {
		return
	}
	v, err := n.inputs[i].Get()
	n.values[i] = v
	n.errs[i] = err
	n.done++
	if err != nil {
		if n.firstErr == nil {
			n.firstErr = err
		} else {
			getLogger().Warn("async: additional join failure after first", F("err", err))
		}
		if n.failFast {
			n.settle()
			return
		}
	}
	if n.done == len(n.inputs) {
		n.settle()
	}
}

func (n *joinNode[T]) settle() {
	if n.state == stateReady {
		return
	}
	n.state = stateReady
	if n.failFast && n.firstErr != nil {
		for i, in := range n.inputs {
			if n.errs[i] == nil {
				in.Cancel()
			}
		}
	}
	if n.parent == nil {
		return
	}
	if n.depthFirst && n.loop.running {
		n.parent.fire()
		return
	}
	n.loop.arm(n.parent)
}

// raceNode backs [RaceSuccessful]: resolves on the first success; only
// fails once every input has failed, carrying the last exception (§4.1.1).
type raceNode[T any] struct {
	loop       *EventLoop
	inputs     []PromiseNode[T]
	done       int
	lastErr    error
	state      nodeState
	value      T
	err        error
	parent     Event
	depthFirst bool
}

type raceSide[T any] struct {
	n *raceNode[T]
	i int
}

func (s raceSide[T]) fire() { s.n.oneDone(s.i) }

// RaceSuccessful succeeds with the first input to succeed; if all fail,
// it fails with the last exception observed.
func RaceSuccessful[T any](loop *EventLoop, ps ...Promise[T]) Promise[T] {
	n := &raceNode[T]{loop: loop, inputs: make([]PromiseNode[T], len(ps))}
	for i, p := range ps {
		n.inputs[i] = p.node
	}
	return newPromise[T](n)
}

func (n *raceNode[T]) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.loop.arm(parent)
		return
	}
	n.depthFirst = true
	for i, in := range n.inputs {
		in.OnReady(raceSide[T]{n, i})
	}
}

func (n *raceNode[T]) Ready() bool          { return n.state == stateReady }
func (n *raceNode[T]) Get() (T, error)      { return n.value, n.err }
func (n *raceNode[T]) Trace(b *TraceBuilder) { b.Add("raceSuccessful") }

func (n *raceNode[T]) Cancel() {
	for _, in := range n.inputs {
		in.Cancel()
	}
}

func (n *raceNode[T]) oneDone(i int) {
	if n.state == stateReady {
		return
	}
	v, err := n.inputs[i].Get()
	n.done++
	if err == nil {
		n.value, n.err = v, nil
		n.settle()
		for j, in := range n.inputs {
			if j != i {
				in.Cancel()
			}
		}
		return
	}
	n.lastErr = err
	if n.done == len(n.inputs) {
		var zero T
		n.value, n.err = zero, n.lastErr
		n.settle()
	}
}

func (n *raceNode[T]) settle() {
	if n.state == stateReady {
		return
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
