package async

// ForkHub converts a single promise into a multi-branch structure (§3,
// §4.1.1 fork). It owns the original node; live branches are tracked in
// a map keyed by branch node. Cancelling every branch cancels the upstream node;
// cancelling a subset leaves the others (and the upstream) running
// (§8.15: branch independence).
type ForkHub[T any] struct {
	loop     *EventLoop
	input    PromiseNode[T]
	state    nodeState
	value    T
	err      error
	branches map[*forkBranchNode[T]]struct{}
	armed    bool
}

// Fork builds a [ForkHub] from p. p's node is adopted by the hub; the
// caller's handle should not be used again (it is consumed, per the
// move-only discipline of §3).
func Fork[T any](loop *EventLoop, p Promise[T]) *ForkHub[T] {
	return &ForkHub[T]{loop: loop, input: p.node, branches: make(map[*forkBranchNode[T]]struct{})}
}

func (h *ForkHub[T]) ensureArmed() {
	if h.armed {
		return
	}
	h.armed = true
	h.input.OnReady(forkHubEvent[T]{h})
}

// AddBranch returns a new promise resolving with the hub's shared value
// (or failure) once the upstream settles.
func (h *ForkHub[T]) AddBranch() Promise[T] {
	h.ensureArmed()
	b := &forkBranchNode[T]{hub: h}
	h.branches[b] = struct{}{}
	if h.state == stateReady {
		h.loop.arm(eventFunc(func() { b.settle() }))
	}
	return newPromise[T](b)
}

func (h *ForkHub[T]) removeBranch(b *forkBranchNode[T]) {
	delete(h.branches, b)
	if len(h.branches) == 0 {
		h.input.Cancel()
	}
}

type forkHubEvent[T any] struct{ h *ForkHub[T] }

func (e forkHubEvent[T]) fire() {
	h := e.h
	h.value, h.err = h.input.Get()
	h.state = stateReady
	for b := range h.branches {
		bb := b
		h.loop.arm(eventFunc(func() { bb.settle() }))
	}
}

// forkBranchNode is one consumer's view of a [ForkHub]'s shared result.
type forkBranchNode[T any] struct {
	hub        *ForkHub[T]
	state      nodeState
	parent     Event
	depthFirst bool
	cancelled  bool
}

func (b *forkBranchNode[T]) OnReady(parent Event) {
	b.parent = parent
	if b.state == stateReady {
		b.hub.loop.arm(parent)
		return
	}
	b.depthFirst = true
}

func (b *forkBranchNode[T]) Ready() bool      { return b.state == stateReady }
func (b *forkBranchNode[T]) Get() (T, error)  { return b.hub.value, b.hub.err }
func (b *forkBranchNode[T]) Trace(t *TraceBuilder) {
	t.Add("fork.branch")
	b.hub.input.Trace(t)
}
func (b *forkBranchNode[T]) Cancel() {
	if b.cancelled {
		return
	}
	b.cancelled = true
	b.hub.removeBranch(b)
}

func (b *forkBranchNode[T]) settle() {
	if b.state == stateReady || b.cancelled {
		return
	}
	b.state = stateReady
	if b.parent == nil {
		return
	}
	if b.depthFirst && b.hub.loop.running {
		b.parent.fire()
		return
	}
	b.hub.loop.arm(b.parent)
}
