// Package runtime is the service facade over the DSL engine: one entry point
// that validates, compiles with two-tier caching, migrates across language
// versions, and executes under resource limits.
package runtime

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/strataquant/dslengine/cache"
	"github.com/strataquant/dslengine/config"
	"github.com/strataquant/dslengine/dsl/compiler"
	"github.com/strataquant/dslengine/dsl/exec"
	"github.com/strataquant/dslengine/dsl/security"
	"github.com/strataquant/dslengine/dsl/typeinfer"
	"github.com/strataquant/dslengine/dsl/version"
	"github.com/strataquant/dslengine/errs"
	"github.com/strataquant/dslengine/lib/async"
	"github.com/strataquant/dslengine/series"
)

// Service wires the engine components together. Construct with New; the
// zero value is not usable. Safe for concurrent use.
type Service struct {
	cfg       config.Settings
	validator *security.Validator
	inferrer  *typeinfer.Engine
	comp      *compiler.Compiler
	executor  *exec.Executor
	store     cache.Store
	registry  *version.Registry
	limiter   *rate.Limiter
	pool      *async.Pool
	metrics   *metrics
	logger    *log.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger overrides the service logger.
func WithLogger(l *log.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMeterProvider overrides the telemetry provider.
func WithMeterProvider(p metric.MeterProvider) ServiceOption {
	return func(s *Service) {
		if p != nil {
			if m, err := newMetrics(p); err == nil {
				s.metrics = m
			}
		}
	}
}

// WithRegistry overrides the migration rule registry.
func WithRegistry(r *version.Registry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// New builds a service over the given cache store. A nil store disables
// caching entirely.
func New(cfg config.Settings, store cache.Store, opts ...ServiceOption) (*Service, error) {
	limits := cfg.LimitsFor(cfg.Runtime.Profile)
	s := &Service{
		cfg:       cfg,
		validator: security.NewValidator(security.WithMaxSourceBytes(cfg.Runtime.MaxSourceBytes)),
		inferrer:  typeinfer.New(),
		comp:      compiler.New(compiler.WithDSLVersion(version.Current.String())),
		executor: exec.NewExecutor(exec.WithLimits(exec.Limits{
			Timeout:           limits.Timeout,
			MaxMemoryBytes:    limits.MaxMemoryBytes,
			MaxIterations:     limits.MaxIterations,
			MaxRecursionDepth: limits.MaxRecursionDepth,
		})),
		store:    store,
		registry: version.NewRegistry(),
		logger:   log.New(os.Stderr, "dslengine ", log.LstdFlags|log.Lmsgprefix),
	}
	if cfg.Runtime.CompileRatePerSecond > 0 {
		burst := cfg.Runtime.CompileBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Runtime.CompileRatePerSecond), burst)
	}
	workers := cfg.Runtime.BatchWorkers
	if workers <= 0 {
		workers = 4
	}
	pool, err := async.NewPool(workers, workers*4)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	if m, err := newMetrics(nil); err == nil {
		s.metrics = m
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Validate runs static analysis and type checking without executing.
func (s *Service) Validate(_ context.Context, source string) *ValidateResult {
	out := &ValidateResult{CorrelationID: uuid.NewString()}
	ok, violations := s.validator.Validate(source)
	out.Violations = violations
	if !ok {
		return out
	}
	bindings, err := s.inferrer.Infer(source)
	if err != nil {
		out.TypeError = err.Error()
		return out
	}
	out.Bindings = bindings
	if err := s.inferrer.ValidateTypes(source); err != nil {
		out.TypeError = err.Error()
		return out
	}
	out.Valid = true
	return out
}

// Compile returns bytecode for the source, from cache when possible. A miss
// runs the full validate-infer-compile pipeline and writes the encoded
// bytecode back to every cache tier.
func (s *Service) Compile(ctx context.Context, source string) (*CompileResult, error) {
	started := time.Now()
	out := &CompileResult{
		CorrelationID: uuid.NewString(),
		SourceHash:    compiler.HashSource(source),
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, errs.New("runtime", errs.CodeUnavailable,
			errs.WithMessage("compile rate limit exceeded"),
			errs.WithRemediation("retry after backing off"))
	}

	key := cache.BytecodeKey(out.SourceHash)
	if s.store != nil {
		if raw, ok, err := s.store.Get(ctx, key); err == nil && ok {
			bc, decodeErr := compiler.Decode(raw)
			if decodeErr == nil && bc.DSLVersion == version.Current.String() {
				out.Bytecode = bc
				out.CacheHit = true
				out.Duration = time.Since(started)
				s.metrics.recordCompile(ctx, true)
				return out, nil
			}
			// A stale or undecodable entry is treated as a miss and
			// overwritten below.
		} else if err != nil {
			s.logger.Printf("cache read failed key=%s corr=%s err=%v", key, out.CorrelationID, err)
		}
	}

	ok, violations := s.validator.Validate(source)
	if !ok {
		return nil, securityError(violations)
	}
	out.Warnings = warningsOf(violations)
	if err := s.inferrer.ValidateTypes(source); err != nil {
		return nil, err
	}
	bc, err := s.comp.Parse(source)
	if err != nil {
		return nil, err
	}
	out.Bytecode = bc
	if s.store != nil {
		if raw, encErr := bc.Encode(); encErr == nil {
			if err := s.store.Set(ctx, key, raw, s.cfg.Cache.TTL); err != nil {
				s.logger.Printf("cache write failed key=%s corr=%s err=%v", key, out.CorrelationID, err)
			}
		}
	}
	out.Duration = time.Since(started)
	s.metrics.recordCompile(ctx, false)
	return out, nil
}

// Execute compiles (or fetches) the script and runs it against the frame.
func (s *Service) Execute(ctx context.Context, source string, frame *series.Frame, params map[string]any, opts ...exec.ContextOption) (*ExecuteResult, error) {
	compiled, err := s.Compile(ctx, source)
	if err != nil {
		return nil, err
	}
	out := &ExecuteResult{CorrelationID: compiled.CorrelationID, Compile: compiled}
	ec := exec.NewContext(frame, params, opts...)
	started := time.Now()
	res, err := s.executor.Execute(ctx, compiled.Bytecode, ec)
	s.metrics.recordExecution(ctx, time.Since(started), err)
	if err != nil {
		s.logger.Printf("execution failed corr=%s hash=%s err=%v",
			out.CorrelationID, compiled.SourceHash, err)
		return nil, err
	}
	out.Result = res
	return out, nil
}

// ExecuteBytecode runs previously compiled bytecode against the frame,
// skipping validation and compilation entirely.
func (s *Service) ExecuteBytecode(ctx context.Context, raw []byte, frame *series.Frame, params map[string]any, opts ...exec.ContextOption) (*ExecuteResult, error) {
	bc, err := compiler.Decode(raw)
	if err != nil {
		return nil, err
	}
	out := &ExecuteResult{CorrelationID: uuid.NewString()}
	ec := exec.NewContext(frame, params, opts...)
	started := time.Now()
	res, err := s.executor.Execute(ctx, bc, ec)
	s.metrics.recordExecution(ctx, time.Since(started), err)
	if err != nil {
		s.logger.Printf("execution failed corr=%s hash=%s err=%v",
			out.CorrelationID, bc.SourceHash, err)
		return nil, err
	}
	out.Result = res
	return out, nil
}

// ExecuteBatch runs the requests on the worker pool and returns results in
// request order. Individual failures do not abort the batch.
func (s *Service) ExecuteBatch(ctx context.Context, requests []BatchRequest) []BatchResult {
	var mu sync.Mutex
	results := make([]BatchResult, len(requests))
	for i := range results {
		results[i] = BatchResult{Index: i}
	}
	done := make(chan struct{}, len(requests))
	record := func(i int, res *ExecuteResult, err error) {
		mu.Lock()
		results[i] = BatchResult{Index: i, Result: res, Err: err}
		mu.Unlock()
		done <- struct{}{}
	}
	for i, req := range requests {
		i, req := i, req
		submitErr := s.pool.Submit(ctx, func(taskCtx context.Context) error {
			res, err := s.Execute(taskCtx, req.Source, req.Frame, req.Params, req.Options...)
			record(i, res, err)
			return err
		})
		if submitErr != nil {
			record(i, nil, submitErr)
		}
	}
	for range requests {
		select {
		case <-done:
		case <-ctx.Done():
			mu.Lock()
			for i := range results {
				if results[i].Result == nil && results[i].Err == nil {
					results[i] = BatchResult{Index: i, Err: ctx.Err()}
				}
			}
			out := make([]BatchResult, len(results))
			copy(out, results)
			mu.Unlock()
			return out
		}
	}
	return results
}

// Migrate brings a script from its declared language version to the current
// one.
func (s *Service) Migrate(_ context.Context, source, from string) (*MigrateResult, error) {
	fromVersion, err := version.Parse(from)
	if err != nil {
		return nil, err
	}
	migration, err := s.registry.Migrate(source, fromVersion, version.Current)
	if err != nil {
		return nil, err
	}
	return &MigrateResult{
		CorrelationID: uuid.NewString(),
		Target:        version.Current.String(),
		Migration:     migration,
	}, nil
}

// Invalidate drops the cached bytecode for one script.
func (s *Service) Invalidate(ctx context.Context, source string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, cache.BytecodeKey(compiler.HashSource(source)))
}

// InvalidateAll drops every cached bytecode entry.
func (s *Service) InvalidateAll(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	return s.store.DeletePattern(ctx, "dsl:bc:*")
}

// Close releases the service resources. The cache store is owned by the
// caller and is not closed here.
func (s *Service) Close(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

func warningsOf(violations []security.Violation) []security.Violation {
	var out []security.Violation
	for _, v := range violations {
		if v.Level != security.LevelError {
			out = append(out, v)
		}
	}
	return out
}

func securityError(violations []security.Violation) error {
	for _, v := range violations {
		if v.Level == security.LevelError {
			return errs.New("runtime", errs.CodeSecurity,
				errs.WithMessage(v.Message),
				errs.WithPosition(v.Line, v.Column))
		}
	}
	return errs.New("runtime", errs.CodeSecurity,
		errs.WithMessage("script rejected by static analysis"))
}
