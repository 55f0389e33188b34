// Package exec runs compiled strategy bytecode inside a sandboxed virtual
// machine. Each run gets a fresh VM, its own resource budget, and a namespace
// built from the execution context; nothing persists between runs except the
// state the script wrote through vars.
package exec

import (
	"context"
	"errors"
	"time"

	"github.com/dop251/goja"

	"github.com/strataquant/dslengine/dsl/compiler"
	"github.com/strataquant/dslengine/errs"
	"github.com/strataquant/dslengine/series"
)

// Result is what a successful run produced.
type Result struct {
	// Value is the exported result binding.
	Value any
	// Series is set when the result was a series.
	Series *series.Series
	// Commands are the trade intents recorded through strategy.*.
	Commands []TradeCommand
	// Plots are the charts registered through plot().
	Plots []Plot
	// State holds the persistent variables after the run.
	State map[string]any

	Duration   time.Duration
	Iterations int64
	MemoryUsed int64
}

// Executor runs bytecode under resource limits. It is stateless and safe for
// concurrent use; every Execute call builds an isolated VM.
type Executor struct {
	limits Limits
}

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithLimits overrides the default resource limits.
func WithLimits(l Limits) ExecOption {
	return func(e *Executor) { e.limits = l.normalized() }
}

// NewExecutor constructs an executor with interactive limits unless
// overridden.
func NewExecutor(opts ...ExecOption) *Executor {
	e := &Executor{limits: DefaultLimits()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Limits returns the executor's configured limits.
func (e *Executor) Limits() Limits { return e.limits }

// Execute runs the bytecode against the given context and returns the
// script's result. Cancellation of ctx, the wall-clock timeout, and any
// budget breach all interrupt the VM.
func (e *Executor) Execute(ctx context.Context, bc *compiler.Bytecode, ec *ExecutionContext) (*Result, error) {
	if bc == nil {
		return nil, errs.New("exec", errs.CodeInvalid, errs.WithMessage("nil bytecode"))
	}
	if ec == nil {
		return nil, errs.New("exec", errs.CodeInvalid, errs.WithMessage("nil execution context"))
	}
	prog, err := bc.Load()
	if err != nil {
		return nil, err
	}
	return e.run(ctx, prog, ec)
}

func (e *Executor) run(ctx context.Context, prog *goja.Program, ec *ExecutionContext) (*Result, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(snakeMapper{})
	rt.SetMaxCallStackSize(e.limits.MaxRecursionDepth)

	tr := newTracker(e.limits, func(v any) { rt.Interrupt(v) })
	env := &vmEnv{rt: rt, tr: tr}
	if err := registerOps(env); err != nil {
		return nil, errs.New("exec", errs.CodeExecution,
			errs.WithMessage("install operator runtime"), errs.WithCause(err))
	}
	if err := env.buildNamespace(ec); err != nil {
		return nil, errs.New("exec", errs.CodeExecution,
			errs.WithMessage("build namespace"), errs.WithCause(err))
	}

	timeoutErr := errs.New("exec", errs.CodeResource,
		errs.WithMessage("execution exceeded timeout of "+e.limits.Timeout.String()),
		errs.WithResource(errs.ResourceTime),
		errs.WithRemediation("simplify the script or raise the timeout"))
	timer := time.AfterFunc(e.limits.Timeout, func() { rt.Interrupt(timeoutErr) })
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt(ctx.Err())
		case <-watchDone:
		}
	}()

	started := time.Now()
	_, runErr := rt.RunProgram(prog)
	elapsed := time.Since(started)
	rt.ClearInterrupt()

	if runErr != nil {
		return nil, e.mapRunError(runErr, tr, ctx)
	}

	value := rt.Get("result")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, errs.New("exec", errs.CodeExecution,
			errs.WithMessage("script did not assign result"),
			errs.WithRemediation("assign the final series to result"))
	}
	res := &Result{
		Commands: ec.Commands(),
		Plots:    ec.Plots(),
		State:    ec.State(),
		Duration: elapsed,
	}
	switch exported := value.Export().(type) {
	case *seriesHandle:
		res.Series = exported.unwrap()
		res.Value = res.Series
	case *frameObject:
		res.Value = exported.f
	default:
		return nil, errs.New("exec", errs.CodeExecution,
			errs.WithMessage("result is not a series"),
			errs.WithRemediation("assign a series or table expression to result"))
	}
	res.Iterations, res.MemoryUsed = tr.stats()
	return res, nil
}

// mapRunError classifies a VM failure: resource interrupts keep their budget
// error, cancellation surfaces the context error, and script exceptions
// become execution errors with the thrown message.
func (e *Executor) mapRunError(runErr error, tr *tracker, ctx context.Context) error {
	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		if breach := tr.breached(); breach != nil {
			return breach
		}
		if v := interrupted.Value(); v != nil {
			if err, ok := v.(error); ok {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return errs.New("exec", errs.CodeExecution,
						errs.WithMessage("execution canceled"), errs.WithCause(err))
				}
				return err
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errs.New("exec", errs.CodeExecution,
				errs.WithMessage("execution canceled"), errs.WithCause(ctxErr))
		}
		return errs.New("exec", errs.CodeExecution, errs.WithMessage("execution interrupted"))
	}
	var stackErr *goja.StackOverflowError
	if errors.As(runErr, &stackErr) {
		return errs.New("exec", errs.CodeResource,
			errs.WithMessage("recursion limit exceeded"),
			errs.WithResource(errs.ResourceRecursion))
	}
	var exception *goja.Exception
	if errors.As(runErr, &exception) {
		return errs.New("exec", errs.CodeExecution,
			errs.WithMessage(exception.Error()))
	}
	return errs.New("exec", errs.CodeExecution,
		errs.WithMessage("execution failed"), errs.WithCause(runErr))
}
