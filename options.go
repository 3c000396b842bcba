package async

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// TraceMode is the trace-recording setting (§6). The loop stores the
// resolved mode; [PromiseNode.Trace] output does not depend on it.
type TraceMode int

const (
	// TraceModeNone records no creation-site information; Trace only
	// reports adapter frame names.
	TraceModeNone TraceMode = iota
	// TraceModeFull selects full tracing. No node records call sites, so
	// Trace reports the same adapter frame names as under TraceModeNone.
	TraceModeFull
)

// loopOptions holds resolved [LoopOption] configuration, matching the
// resolve-into-struct pattern of eventloop/options.go.
type loopOptions struct {
	traceMode               TraceMode
	contentionWarnThreshold int
	fiberStackSizeDefault   int
	metricsEnabled          bool
	maxTurnsPerPoll         int
}

// LoopOption configures an [EventLoop] at construction time.
type LoopOption interface {
	applyLoop(*loopOptions)
}

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoop(o *loopOptions) { f(o) }

// WithTraceMode sets the trace-recording mode (§6, ASYNC_TRACE_MODE).
func WithTraceMode(mode TraceMode) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.traceMode = mode })
}

// WithContentionWarnThreshold overrides CONTENTION_WARNING_THRESHOLD (§4.4)
// in the loop's resolved options. The value is only stored: a sync.Mutex
// takes its threshold from sync.NewMutex's argument, not from a loop.
func WithContentionWarnThreshold(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.contentionWarnThreshold = n })
}

// WithFiberStackSizeDefault overrides FIBER_STACK_SIZE_DEFAULT (§6) in the
// loop's resolved options. The value is only stored: in the Go encoding
// nothing is sized from it, neither a stack nor a fiber's rendezvous
// channels (§4.3 REDESIGN).
func WithFiberStackSizeDefault(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.fiberStackSizeDefault = n })
}

// WithMetrics enables the loop's optional [Metrics] counters.
func WithMetrics(enabled bool) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.metricsEnabled = enabled })
}

// WithMaxTurnsPerPoll bounds how many events a single [Poll] call fires
// before returning to its caller. Zero (the default) means unbounded.
func WithMaxTurnsPerPoll(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.maxTurnsPerPoll = n })
}

// EnvConfig holds the values of the environment variables named in §6,
// read once via [LoadEnvConfig] rather than ad-hoc at deep call sites.
type EnvConfig struct {
	TraceMode               TraceMode
	ContentionWarnThreshold int
	FiberStackSizeDefault   int
}

// Default values, used when the corresponding environment variable is
// absent or unparsable.
const (
	DefaultContentionWarnThreshold = 100
	DefaultFiberStackSizeDefault   = 64 * 1024
)

// LoadEnvConfig reads ASYNC_TRACE_MODE, CONTENTION_WARNING_THRESHOLD, and
// FIBER_STACK_SIZE_DEFAULT (§6) from the process environment.
func LoadEnvConfig() EnvConfig {
	cfg := EnvConfig{
		TraceMode:               TraceModeNone,
		ContentionWarnThreshold: DefaultContentionWarnThreshold,
		FiberStackSizeDefault:   DefaultFiberStackSizeDefault,
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("ASYNC_TRACE_MODE"))); v == "full" {
		cfg.TraceMode = TraceModeFull
	}
	if v, err := strconv.Atoi(os.Getenv("CONTENTION_WARNING_THRESHOLD")); err == nil && v > 0 {
		cfg.ContentionWarnThreshold = v
	}
	if v, err := strconv.Atoi(os.Getenv("FIBER_STACK_SIZE_DEFAULT")); err == nil && v > 0 {
		cfg.FiberStackSizeDefault = v
	}
	return cfg
}

// ToLoopOptions converts the env config into LoopOptions applied before any
// explicit options passed to [NewEventLoop], matching
// eventloop/options.go's centralized resolution.
func (c EnvConfig) ToLoopOptions() []LoopOption {
	return []LoopOption{
		WithTraceMode(c.TraceMode),
		WithContentionWarnThreshold(c.ContentionWarnThreshold),
		WithFiberStackSizeDefault(c.FiberStackSizeDefault),
	}
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	env := LoadEnvConfig()
	o := &loopOptions{
		traceMode:               env.TraceMode,
		contentionWarnThreshold: env.ContentionWarnThreshold,
		fiberStackSizeDefault:   env.FiberStackSizeDefault,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(o)
	}
	return o
}

// defaultWaitTimeout bounds internal polling loops that have no explicit
// caller-supplied deadline, matching the "bounded poll" note in §4.1.
const defaultWaitTimeout = 24 * time.Hour
