package async

// ErrorHandler is invoked once per failing task added to a [TaskSet].
type ErrorHandler func(err error)

// TaskSet owns a set of fire-and-forget `Promise[struct{}]` tasks (§4.6).
// Each task is eagerly evaluated; failures go to handler rather than being
// silently dropped. [TaskSet.Clear] may be called from within handler
// itself (§8.16) and from within another task's cancellation.
type TaskSet struct {
	loop    *EventLoop
	handler ErrorHandler
	tasks   map[*taskSetEntry]struct{}
	onEmpty *settlable[struct{}]
}

type taskSetEntry struct {
	set  *TaskSet
	node PromiseNode[struct{}]
}

// NewTaskSet constructs an empty set reporting task failures to handler.
func NewTaskSet(loop *EventLoop, handler ErrorHandler) *TaskSet {
	return &TaskSet{loop: loop, handler: handler, tasks: make(map[*taskSetEntry]struct{})}
}

// Add eagerly evaluates p and tracks it until it settles. A failing task's
// error is reported to the set's [ErrorHandler]; the handler may safely
// call [TaskSet.Clear] or [TaskSet.Add] (tasks added inside a handler, or
// inside another task's own cleanup, are tracked and cancelled with the
// rest by the next [TaskSet.Clear]).
func (s *TaskSet) Add(p Promise[struct{}]) {
	e := &taskSetEntry{set: s, node: p.node}
	s.tasks[e] = struct{}{}
	e.node.OnReady(taskSetEvent{e})
}

type taskSetEvent struct{ e *taskSetEntry }

func (ev taskSetEvent) fire() {
	e := ev.e
	s := e.set
	if _, ok := s.tasks[e]; !ok {
		return // already cleared
	}
	delete(s.tasks, e)
	if _, err := e.node.Get(); err != nil && s.handler != nil {
		s.handler(err)
	}
	s.maybeSignalEmpty()
}

// OnEmpty returns a promise that resolves once the set has no outstanding
// tasks (at the moment of the call, or subsequently).
func (s *TaskSet) OnEmpty() Promise[struct{}] {
	if s.onEmpty == nil {
		s.onEmpty = &settlable[struct{}]{loop: s.loop}
	}
	if len(s.tasks) == 0 {
		s.onEmpty.settle(struct{}{}, nil)
	}
	return newPromise[struct{}](s.onEmpty)
}

func (s *TaskSet) maybeSignalEmpty() {
	if len(s.tasks) == 0 && s.onEmpty != nil && !s.onEmpty.Ready() {
		s.onEmpty.settle(struct{}{}, nil)
	}
}

// Clear drops (cancels) every currently-tracked task. Safe to call from
// within the set's own [ErrorHandler] (§8.16).
func (s *TaskSet) Clear() {
	tasks := s.tasks
	s.tasks = make(map[*taskSetEntry]struct{})
	for e := range tasks {
		e.node.Cancel()
	}
	s.maybeSignalEmpty()
}

// Len reports the number of outstanding tasks.
func (s *TaskSet) Len() int { return len(s.tasks) }

// Canceler wraps promises such that [Canceler.Cancel] causes all wrapped
// promises still pending to reject with the given exception (§4.6).
// Double-wrapping an already-wrapped promise is safe: the inner Canceler's
// node is just another node to the outer one.
type Canceler struct {
	loop    *EventLoop
	wrapped map[*cancelerNode]struct{}
}

// NewCanceler constructs an empty Canceler bound to loop.
func NewCanceler(loop *EventLoop) *Canceler { return &Canceler{loop: loop, wrapped: make(map[*cancelerNode]struct{})} }

type cancelerNode struct {
	c          *Canceler
	input      PromiseNode[any]
	state      nodeState
	value      any
	err        error
	parent     Event
	depthFirst bool
}

// Wrap registers p with c: if c.Cancel(exc) is called before p naturally
// settles, the returned promise rejects with exc instead.
func Wrap[T any](c *Canceler, p Promise[T]) Promise[T] {
	n := &cancelerAdapter[T]{inner: &cancelerNode{c: c, input: anyNode[T]{p.node}}}
	c.wrapped[n.inner] = struct{}{}
	return newPromise[T](n)
}

// anyNode adapts PromiseNode[T] to PromiseNode[any] for storage in the
// Canceler's homogeneous wrapped set.
type anyNode[T any] struct{ inner PromiseNode[T] }

func (a anyNode[T]) OnReady(parent Event) { a.inner.OnReady(parent) }
func (a anyNode[T]) Get() (any, error)    { v, err := a.inner.Get(); return v, err }
func (a anyNode[T]) Ready() bool          { return a.inner.Ready() }
func (a anyNode[T]) Trace(b *TraceBuilder) { a.inner.Trace(b) }
func (a anyNode[T]) Cancel()              { a.inner.Cancel() }

type cancelerAdapter[T any] struct{ inner *cancelerNode }

func (n *cancelerAdapter[T]) OnReady(parent Event) { n.inner.OnReady(parent) }
func (n *cancelerAdapter[T]) Ready() bool          { return n.inner.Ready() }
func (n *cancelerAdapter[T]) Get() (T, error) {
	v, err := n.inner.Get()
	if v == nil {
		var zero T
		return zero, err
	}
	return v.(T), err
}
func (n *cancelerAdapter[T]) Trace(b *TraceBuilder) { b.Add("canceler"); n.inner.input.Trace(b) }
func (n *cancelerAdapter[T]) Cancel()                { n.inner.Cancel() }

func (n *cancelerNode) OnReady(parent Event) {
	n.parent = parent
	if n.state == stateReady {
		n.c.loop.arm(parent)
		return
	}
	n.depthFirst = true
	n.input.OnReady(cancelerEvent{n})
}

func (n *cancelerNode) Get() (any, error) { return n.value, n.err }
func (n *cancelerNode) Ready() bool        { return n.state == stateReady }
func (n *cancelerNode) Cancel() {
	delete(n.c.wrapped, n)
	n.input.Cancel()
}

type cancelerEvent struct{ n *cancelerNode }

func (e cancelerEvent) fire() {
	n := e.n
	if n.state == stateReady {
		return
	}
	n.value, n.err = n.input.Get()
	n.settle()
}

func (n *cancelerNode) settle() {
	if n.state == stateReady {
		return
	}
	n.state = stateReady
	delete(n.c.wrapped, n)
	if n.parent == nil {
		return
	}
	if n.depthFirst && n.c.loop.running {
		n.parent.fire()
		return
	}
	n.c.loop.arm(n.parent)
}

// Cancel rejects every currently-wrapped, still-pending promise with exc.
func (c *Canceler) Cancel(exc error) {
	wrapped := c.wrapped
	c.wrapped = make(map[*cancelerNode]struct{})
	for n := range wrapped {
		if n.state != stateReady {
			n.value, n.err = nil, exc
			n.state = stateReady
			if n.parent != nil {
				c.loop.arm(n.parent)
			}
		}
	}
}
