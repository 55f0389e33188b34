package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/strataquant/dslengine/cache"
	"github.com/strataquant/dslengine/config"
	"github.com/strataquant/dslengine/errs"
	"github.com/strataquant/dslengine/series"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Runtime.CompileRatePerSecond = 0
	svc, err := New(cfg, cache.NewMemory(64))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func marketFrame(t *testing.T, closes []float64) *series.Frame {
	t.Helper()
	n := len(closes)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range closes {
		open[i] = c - 0.5
		high[i] = c + 1
		low[i] = c - 1
		volume[i] = 100
	}
	f, err := series.FromColumns(
		series.New("open", open),
		series.New("high", high),
		series.New("low", low),
		series.New("close", closes),
		series.New("volume", volume),
	)
	if err != nil {
		t.Fatalf("FromColumns: %v", err)
	}
	return f
}

func TestValidateCleanScript(t *testing.T) {
	svc := newTestService(t)
	res := svc.Validate(context.Background(), "result = sma(close, 10)")
	if !res.Valid {
		t.Fatalf("expected valid, got %+v", res)
	}
	if res.CorrelationID == "" {
		t.Fatalf("missing correlation id")
	}
}

func TestValidateRejectsForbiddenScript(t *testing.T) {
	svc := newTestService(t)
	res := svc.Validate(context.Background(), `result = eval("1")`)
	if res.Valid {
		t.Fatalf("expected rejection")
	}
	if len(res.Violations) == 0 {
		t.Fatalf("expected violations")
	}
}

func TestValidateRejectsScalarResult(t *testing.T) {
	svc := newTestService(t)
	res := svc.Validate(context.Background(), "result = 42")
	if res.Valid {
		t.Fatalf("expected type rejection")
	}
	if res.TypeError == "" {
		t.Fatalf("expected type error message")
	}
}

func TestCompileCachesBySourceHash(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	src := "result = sma(close, 10)"

	first, err := svc.Compile(ctx, src)
	if err != nil {
		t.Fatalf("first compile: %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first compile must miss")
	}
	second, err := svc.Compile(ctx, src)
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("second compile must hit cache")
	}
	if first.SourceHash != second.SourceHash {
		t.Fatalf("hash mismatch")
	}
	if second.Bytecode.Program != first.Bytecode.Program {
		t.Fatalf("cached program differs")
	}
}

func TestCompileCacheInvalidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	src := "result = sma(close, 10)"
	if _, err := svc.Compile(ctx, src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := svc.Invalidate(ctx, src); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	again, err := svc.Compile(ctx, src)
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	if again.CacheHit {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestCompileRejectsInsecureScript(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Compile(context.Background(), "import os\nresult = close")
	if err == nil {
		t.Fatalf("expected security rejection")
	}
	if errs.CodeOf(err) != errs.CodeSecurity {
		t.Fatalf("expected security code, got %v", errs.CodeOf(err))
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	svc := newTestService(t)
	frame := marketFrame(t, []float64{10, 10, 10, 10, 30, 30, 30, 30})
	res, err := svc.Execute(context.Background(), `
fast = sma(close, 2)
slow = sma(close, 4)
result = crosses_over(fast, slow)
`, frame, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Result == nil || res.Result.Series == nil {
		t.Fatalf("expected series result")
	}
	if !res.Compile.CacheHit {
		// First run misses; that is fine. Run again and require a hit.
		again, err := svc.Execute(context.Background(), `
fast = sma(close, 2)
slow = sma(close, 4)
result = crosses_over(fast, slow)
`, frame, nil)
		if err != nil {
			t.Fatalf("second Execute: %v", err)
		}
		if !again.Compile.CacheHit {
			t.Fatalf("expected cache hit on identical source")
		}
	}
}

func TestExecuteWithParams(t *testing.T) {
	svc := newTestService(t)
	frame := marketFrame(t, []float64{1, 2, 3, 4, 5})
	res, err := svc.Execute(context.Background(),
		"result = close.sma(period)", frame, map[string]any{"period": 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Result.Series.At(4); got != 4.5 {
		t.Fatalf("expected 4.5, got %v", got)
	}
}

func TestExecuteBytecode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	compiled, err := svc.Compile(ctx, "result = close.sma(2)")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	raw, err := compiled.Bytecode.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	frame := marketFrame(t, []float64{1, 2, 3, 4})
	res, err := svc.ExecuteBytecode(ctx, raw, frame, nil)
	if err != nil {
		t.Fatalf("ExecuteBytecode: %v", err)
	}
	if res.Result == nil || res.Result.Series == nil {
		t.Fatalf("expected series result")
	}
	if got := res.Result.Series.At(3); got != 3.5 {
		t.Fatalf("expected 3.5, got %v", got)
	}
	if _, err := svc.ExecuteBytecode(ctx, []byte("garbage"), frame, nil); err == nil {
		t.Fatalf("expected decode failure")
	}
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	svc := newTestService(t)
	frame := marketFrame(t, []float64{1, 2, 3, 4, 5, 6})
	requests := []BatchRequest{
		{Source: "result = close.sma(2)", Frame: frame},
		{Source: "import os\nresult = close", Frame: frame},
		{Source: "result = close.sma(3)", Frame: frame},
	}
	results := svc.ExecuteBatch(context.Background(), requests)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Result == nil {
		t.Fatalf("request 0 should succeed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("request 1 should fail security analysis")
	}
	if results[2].Err != nil || results[2].Result == nil {
		t.Fatalf("request 2 should succeed: %v", results[2].Err)
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result order broken: %+v", results)
		}
	}
}

func TestMigrateCompatible(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Migrate(context.Background(), "result = sma(close, 10)", "1.1.0")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if res.Migration.Changed {
		t.Fatalf("compatible migration must not rewrite")
	}
	if len(res.Migration.Warnings) == 0 {
		t.Fatalf("expected compatibility note")
	}
	if res.Target != "1.2.0" {
		t.Fatalf("unexpected target %s", res.Target)
	}
}

func TestMigrateAutoThenExecute(t *testing.T) {
	svc := newTestService(t)
	migrated, err := svc.Migrate(context.Background(),
		"result = cross(close.sma(2), close.sma(4))", "1.0.0")
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(migrated.Migration.Source, "crosses_over(") {
		t.Fatalf("rewrite missing: %q", migrated.Migration.Source)
	}
	frame := marketFrame(t, []float64{10, 10, 10, 10, 30, 30, 30, 30})
	if _, err := svc.Execute(context.Background(), migrated.Migration.Source, frame, nil); err != nil {
		t.Fatalf("Execute migrated script: %v", err)
	}
}

func TestMigrateNoPathFailsClosed(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Migrate(context.Background(), "result = close", "0.5.0")
	if err == nil {
		t.Fatalf("expected no-path error")
	}
	if errs.CodeOf(err) != errs.CodeMigration {
		t.Fatalf("expected migration code, got %v", errs.CodeOf(err))
	}
}

func TestInvalidateAll(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, src := range []string{"result = close.sma(2)", "result = close.sma(3)"} {
		if _, err := svc.Compile(ctx, src); err != nil {
			t.Fatalf("compile: %v", err)
		}
	}
	n, err := svc.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries dropped, got %d", n)
	}
}

func TestCompileRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.CompileRatePerSecond = 1
	cfg.Runtime.CompileBurst = 1
	svc, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close(context.Background())
	ctx := context.Background()
	if _, err := svc.Compile(ctx, "result = close.sma(2)"); err != nil {
		t.Fatalf("first compile: %v", err)
	}
	var limited bool
	for i := 0; i < 5; i++ {
		if _, err := svc.Compile(ctx, "result = close.sma(3)"); err != nil {
			if errs.CodeOf(err) != errs.CodeUnavailable {
				t.Fatalf("unexpected error: %v", err)
			}
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("expected rate limiting to kick in")
	}
}
