package sync

// Once is a one-shot initializer with failure propagation (§4.4): if the
// initializer fails, every subsequent call re-returns that same failure
// until [Once.Reset] is called, unlike stdlib sync.Once which has no
// failure channel at all.
type Once struct {
	m    Mutex
	done bool
	err  error
}

// Do runs init exactly once (across all callers, ordered by the
// underlying [Mutex]) and caches its error. Every call — the one that ran
// init and every later one — returns that cached error.
func (o *Once) Do(init func() error) error {
	g := o.m.Lock(Exclusive)
	defer g.Unlock()
	if !o.done {
		o.err = init()
		o.done = true
	}
	return o.err
}

// Reset clears a failed (or successful) initialization, letting the next
// [Once.Do] call run init again.
func (o *Once) Reset() {
	g := o.m.Lock(Exclusive)
	defer g.Unlock()
	o.done = false
	o.err = nil
}

// Done reports whether init has run and succeeded (i.e. a subsequent
// Do would return nil without re-running it).
func (o *Once) Done() bool {
	g := o.m.Lock(Shared)
	defer g.Unlock()
	return o.done && o.err == nil
}
