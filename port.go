package async

import "time"

// EventPort is how an [EventLoop] blocks for external I/O when idle (§4.7).
// Implementations must make Wake edge-preserving: a Wake that happens
// before the matching Wait must not be lost.
type EventPort interface {
	// Wait blocks until the port becomes runnable (via [EventPort.Wake])
	// or until deadline elapses if non-zero, whichever comes first.
	// Returns true if the loop should re-check its queues.
	Wait(deadline time.Time) bool

	// Poll checks for readiness without blocking. Returns true if the
	// loop should re-check its queues.
	Poll() bool

	// SetRunnable is called by the loop whenever its "has runnable work"
	// transition changes, so the port can decide whether a future Wait
	// needs to actually block.
	SetRunnable(runnable bool)

	// Wake unblocks a goroutine sleeping in Wait, from any goroutine.
	// Must be safe to call concurrently and must not lose a wake that
	// races ahead of the matching Wait.
	Wake()
}
