package async

import (
	"sync"
	"time"
)

// EventLoop runs armed [Event]s FIFO and blocks on an [EventPort] when idle
// (§3). A loop is only ever driven by the goroutine holding its current
// [WaitScope]; cross-goroutine interaction happens only through [Executor].
type EventLoop struct {
	port EventPort
	opts *loopOptions

	queue     []Event // FIFO run queue; depth-first arming bypasses this entirely
	lastQueue []func()

	running   bool // true while Turn/Run is actively firing an event
	turns     uint64
	terminated bool

	scopeMu sync.Mutex
	scope   *WaitScope

	metrics *Metrics

	executor *Executor // this loop's cross-thread handle, see xthread.go
}

// NewEventLoop constructs a loop backed by port. A nil port uses
// [NewDefaultPort], the epoll/kqueue-backed [EventPort] on Linux/Darwin
// (§4.7), falling back to a portable channel-based implementation on other
// platforms.
func NewEventLoop(port EventPort, opts ...LoopOption) *EventLoop {
	if port == nil {
		port = NewDefaultPort()
	}
	o := resolveLoopOptions(opts)
	l := &EventLoop{
		port: port,
		opts: o,
	}
	if o.metricsEnabled {
		l.metrics = newMetrics()
	}
	l.executor = newExecutor(l)
	return l
}

// Metrics returns the loop's counters, or nil if [WithMetrics] was not
// enabled.
func (l *EventLoop) Metrics() *Metrics { return l.metrics }

// arm enqueues ev on the run queue (breadth-first tail placement). Callers
// on the depth-first path (settlable.settle, while l.running) call ev.fire
// directly instead of going through arm.
func (l *EventLoop) arm(ev Event) {
	if ev == nil {
		return
	}
	wasEmpty := len(l.queue) == 0
	l.queue = append(l.queue, ev)
	if l.metrics != nil {
		l.metrics.recordQueueDepth(len(l.queue))
	}
	if wasEmpty {
		l.port.SetRunnable(true)
	}
}

// turn pops and fires one queued event, returning false if the queue was
// empty. Firing may recursively arm more events (appended to the tail) or,
// via the depth-first path, fire further events synchronously before
// returning.
func (l *EventLoop) turn() bool {
	if l.executor != nil {
		l.executor.drainInbox()
	}
	if len(l.queue) == 0 {
		l.promoteLastTier()
	}
	if len(l.queue) == 0 {
		return false
	}
	ev := l.queue[0]
	l.queue = l.queue[1:]
	if len(l.queue) == 0 {
		l.port.SetRunnable(false)
	}
	prevRunning := l.running
	l.running = true
	if l.metrics != nil {
		l.metrics.recordTurn()
	}
	l.turns++
	ev.fire()
	l.running = prevRunning
	return true
}

// poll fires up to maxTurns queued events (or until the queue drains if
// maxTurns <= 0), returning the number executed. This backs the bounded
// poll(max_turns) form from §4.1.
func (l *EventLoop) poll(maxTurns int) int {
	n := 0
	for maxTurns <= 0 || n < maxTurns {
		if !l.turn() {
			break
		}
		n++
	}
	return n
}

// isEmpty reports whether the run queue has no pending events. Used by
// wait to decide whether to block on the port.
func (l *EventLoop) isEmpty() bool { return len(l.queue) == 0 && len(l.lastQueue) == 0 }

// scheduleLast appends f to the "evalLast" tier (§4.1.1, §5): it runs only
// once the ordinary queue has fully drained, and any events it arms run to
// completion (as ordinary events) before the next evalLast tier promotes.
func (l *EventLoop) scheduleLast(f func()) {
	l.lastQueue = append(l.lastQueue, f)
	l.port.SetRunnable(true)
}

// promoteLastTier moves one evalLast tier onto the ordinary queue, once
// the ordinary queue has drained. Returns true if anything was promoted.
func (l *EventLoop) promoteLastTier() bool {
	if len(l.queue) != 0 || len(l.lastQueue) == 0 {
		return false
	}
	tier := l.lastQueue
	l.lastQueue = nil
	for _, f := range tier {
		l.arm(eventFunc(f))
	}
	return true
}

// WaitScope is a stack-scoped token permitting synchronous [Wait] calls
// against nodes rooted in loop (§3). At most one WaitScope may exist per
// loop; creating a second while the first is open panics, matching the
// "nested WaitScope forbidden" invariant.
type WaitScope struct {
	loop   *EventLoop
	fiber  *Fiber // non-nil when this scope belongs to a fiber (§4.3)
	closed bool
}

// NewWaitScope opens the loop's WaitScope, binding it to the calling
// goroutine until [WaitScope.Close] is called.
func NewWaitScope(loop *EventLoop) *WaitScope {
	loop.scopeMu.Lock()
	defer loop.scopeMu.Unlock()
	if loop.scope != nil {
		panic(ErrNestedWaitScope)
	}
	s := &WaitScope{loop: loop}
	loop.scope = s
	return s
}

// Close releases the WaitScope, permitting a new one to be opened on the
// same loop.
func (s *WaitScope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.fiber == nil {
		s.loop.scopeMu.Lock()
		if s.loop.scope == s {
			s.loop.scope = nil
		}
		s.loop.scopeMu.Unlock()
		s.loop.executor.disconnect(ErrDisconnected)
	}
}

// CurrentThreadExecutor returns the [Executor] for scope's loop, usable
// from any goroutine to submit work back onto it (§4.5, §6). It is the
// Go encoding of `current_thread_executor()`: rather than thread-local
// storage, the executor is reached explicitly through the WaitScope that
// proves a loop is live on the calling goroutine right now.
func CurrentThreadExecutor(scope *WaitScope) (*Executor, error) {
	if scope == nil || scope.closed {
		return nil, ErrNoExecutor
	}
	return scope.loop.executor, nil
}

// Loop returns the scope's owning [EventLoop].
func (s *WaitScope) Loop() *EventLoop { return s.loop }

func (s *WaitScope) checkOpen() {
	if s.closed {
		panic(ErrWaitScopeClosed)
	}
}

// rootEvent is the sentinel parent event used by Wait to observe a node's
// completion without the node itself needing to know about waiting.
type rootEvent struct {
	ready chan struct{}
	fired bool
}

func newRootEvent() *rootEvent { return &rootEvent{ready: make(chan struct{}, 1)} }

func (r *rootEvent) fire() {
	if r.fired {
		return
	}
	r.fired = true
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Wait pumps scope's loop until node settles, then returns its result. It
// is the package-level form of §4.1's `wait(node, scope)`: root the node
// with a sentinel parent event, then `while not ready: if !turn(): port.Wait()`.
func Wait[T any](scope *WaitScope, p Promise[T]) (T, error) {
	scope.checkOpen()
	if scope.fiber != nil {
		return fiberWait(scope.fiber, p)
	}
	return waitOnLoop(scope.loop, p.node)
}

func waitOnLoop[T any](loop *EventLoop, node PromiseNode[T]) (T, error) {
	if node.Ready() {
		return node.Get()
	}
	root := newRootEvent()
	node.OnReady(root)
	for !node.Ready() {
		if loop.turn() {
			continue
		}
		loop.executor.drainInbox()
		var deadline time.Time
		if loop.isEmpty() {
			deadline = time.Now().Add(defaultWaitTimeout)
		}
		loop.port.Wait(deadline)
	}
	return node.Get()
}

// Poll reports whether node has settled, running at most one bounded pass
// of the loop's queue (no blocking on the port). It never consumes node's
// result.
func Poll[T any](scope *WaitScope, p Promise[T]) bool {
	scope.checkOpen()
	scope.loop.poll(scope.loop.opts.maxTurnsPerPoll)
	scope.loop.port.Poll()
	return p.node.Ready()
}

// RunTurns fires up to maxTurns queued events without blocking, returning
// the count executed. maxTurns <= 0 drains the entire current queue. This
// exposes the loop's bounded poll(max_turns) form (§4.1) directly.
func RunTurns(scope *WaitScope, maxTurns int) int {
	scope.checkOpen()
	return scope.loop.poll(maxTurns)
}
