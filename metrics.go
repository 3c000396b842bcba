package async

import "sync/atomic"

// Metrics holds optional runtime counters for an [EventLoop], enabled via
// [WithMetrics] (§9 "Metrics hooks", grounded on eventloop/metrics.go).
// Zero-cost when the loop was constructed without [WithMetrics]: callers
// get a nil *Metrics and every method is a safe no-op on nil.
type Metrics struct {
	turnsExecuted   uint64
	maxQueueDepth   uint64
	contentionCount uint64
}

func newMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) recordTurn() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.turnsExecuted, 1)
}

func (m *Metrics) recordQueueDepth(depth int) {
	if m == nil {
		return
	}
	for {
		cur := atomic.LoadUint64(&m.maxQueueDepth)
		if uint64(depth) <= cur || atomic.CompareAndSwapUint64(&m.maxQueueDepth, cur, uint64(depth)) {
			return
		}
	}
}

// RecordContention counts one contention event. Nothing in this module
// calls it; the sync package's Mutex does not report into Metrics.
func (m *Metrics) RecordContention() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.contentionCount, 1)
}

// TurnsExecuted returns the number of events fired since the loop started.
func (m *Metrics) TurnsExecuted() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.turnsExecuted)
}

// MaxQueueDepth returns the largest run-queue length observed.
func (m *Metrics) MaxQueueDepth() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.maxQueueDepth)
}

// ContentionCount returns the number of mutex-waiter enqueues recorded via
// RecordContention.
func (m *Metrics) ContentionCount() uint64 {
	if m == nil {
		return 0
	}
	return atomic.LoadUint64(&m.contentionCount)
}
