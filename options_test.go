package async

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// LoadEnvConfig (§6)
// =============================================================================

func TestLoadEnvConfigDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("ASYNC_TRACE_MODE")
	os.Unsetenv("CONTENTION_WARNING_THRESHOLD")
	os.Unsetenv("FIBER_STACK_SIZE_DEFAULT")

	cfg := LoadEnvConfig()
	assert.Equal(t, TraceModeNone, cfg.TraceMode)
	assert.Equal(t, DefaultContentionWarnThreshold, cfg.ContentionWarnThreshold)
	assert.Equal(t, DefaultFiberStackSizeDefault, cfg.FiberStackSizeDefault)
}

func TestLoadEnvConfigReadsOverrides(t *testing.T) {
	os.Setenv("ASYNC_TRACE_MODE", "full")
	os.Setenv("CONTENTION_WARNING_THRESHOLD", "250")
	os.Setenv("FIBER_STACK_SIZE_DEFAULT", "8192")
	defer os.Unsetenv("ASYNC_TRACE_MODE")
	defer os.Unsetenv("CONTENTION_WARNING_THRESHOLD")
	defer os.Unsetenv("FIBER_STACK_SIZE_DEFAULT")

	cfg := LoadEnvConfig()
	assert.Equal(t, TraceModeFull, cfg.TraceMode)
	assert.Equal(t, 250, cfg.ContentionWarnThreshold)
	assert.Equal(t, 8192, cfg.FiberStackSizeDefault)
}

func TestLoadEnvConfigIgnoresUnparsableOverrides(t *testing.T) {
	os.Setenv("CONTENTION_WARNING_THRESHOLD", "not-a-number")
	defer os.Unsetenv("CONTENTION_WARNING_THRESHOLD")

	cfg := LoadEnvConfig()
	assert.Equal(t, DefaultContentionWarnThreshold, cfg.ContentionWarnThreshold)
}

// =============================================================================
// LoopOption resolution
// =============================================================================

func TestResolveLoopOptionsAppliesExplicitOverridesAfterEnv(t *testing.T) {
	os.Unsetenv("CONTENTION_WARNING_THRESHOLD")
	o := resolveLoopOptions([]LoopOption{WithContentionWarnThreshold(42), nil})
	assert.Equal(t, 42, o.contentionWarnThreshold)
}
