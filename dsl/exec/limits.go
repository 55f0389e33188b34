package exec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strataquant/dslengine/errs"
)

// Limits bounds a single execution. Enforcement is per virtual machine, so
// concurrent executions in one process each get their own budget.
type Limits struct {
	// Timeout is the wall-clock budget for the whole run.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxMemoryBytes caps bytes allocated for series data during the run.
	MaxMemoryBytes int64 `json:"max_memory_bytes" yaml:"max_memory_bytes"`
	// MaxIterations caps loop iterations across the whole script.
	MaxIterations int64 `json:"max_iterations" yaml:"max_iterations"`
	// MaxRecursionDepth caps the call stack.
	MaxRecursionDepth int `json:"max_recursion_depth" yaml:"max_recursion_depth"`
}

// DefaultLimits suits interactive validation and chart previews.
func DefaultLimits() Limits {
	return Limits{
		Timeout:           5 * time.Second,
		MaxMemoryBytes:    64 << 20,
		MaxIterations:     1_000_000,
		MaxRecursionDepth: 64,
	}
}

// BacktestLimits gives long-running historical runs more room.
func BacktestLimits() Limits {
	return Limits{
		Timeout:           5 * time.Minute,
		MaxMemoryBytes:    512 << 20,
		MaxIterations:     100_000_000,
		MaxRecursionDepth: 64,
	}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.MaxMemoryBytes <= 0 {
		l.MaxMemoryBytes = d.MaxMemoryBytes
	}
	if l.MaxIterations <= 0 {
		l.MaxIterations = d.MaxIterations
	}
	if l.MaxRecursionDepth <= 0 {
		l.MaxRecursionDepth = d.MaxRecursionDepth
	}
	return l
}

// tracker meters one execution. Loop iterations are charged through the
// lowered __ops.truthy/tick calls; memory is charged wherever a series is
// materialized. On breach it interrupts the VM exactly once.
type tracker struct {
	limits     Limits
	iterations atomic.Int64
	allocated  atomic.Int64
	interrupt  func(v any)
	once       sync.Once
	breach     atomic.Pointer[errs.E]
}

func newTracker(limits Limits, interrupt func(v any)) *tracker {
	return &tracker{limits: limits, interrupt: interrupt}
}

func (t *tracker) tick() {
	if t.iterations.Add(1) > t.limits.MaxIterations {
		t.abort(errs.New("exec", errs.CodeResource,
			errs.WithMessage(fmt.Sprintf("iteration limit of %d exceeded", t.limits.MaxIterations)),
			errs.WithResource(errs.ResourceIterations),
			errs.WithRemediation("reduce loop work or run with backtest limits")))
	}
}

func (t *tracker) chargeBytes(n int64) {
	if n <= 0 {
		return
	}
	if t.allocated.Add(n) > t.limits.MaxMemoryBytes {
		t.abort(errs.New("exec", errs.CodeResource,
			errs.WithMessage(fmt.Sprintf("memory limit of %d bytes exceeded", t.limits.MaxMemoryBytes)),
			errs.WithResource(errs.ResourceMemory),
			errs.WithRemediation("shorten the input window or reduce intermediate series")))
	}
}

// chargeSeries charges the float64 backing store of a series of length n.
func (t *tracker) chargeSeries(n int) {
	t.chargeBytes(int64(n) * 8)
}

func (t *tracker) abort(e error) {
	t.once.Do(func() {
		if ee, ok := e.(*errs.E); ok {
			t.breach.Store(ee)
		}
		t.interrupt(e)
	})
}

// breached returns the resource error that interrupted the run, if any.
func (t *tracker) breached() error {
	if e := t.breach.Load(); e != nil {
		return e
	}
	return nil
}

func (t *tracker) stats() (iterations, allocatedBytes int64) {
	return t.iterations.Load(), t.allocated.Load()
}
