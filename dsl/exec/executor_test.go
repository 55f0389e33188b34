package exec

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/strataquant/dslengine/dsl/compiler"
	"github.com/strataquant/dslengine/errs"
	"github.com/strataquant/dslengine/series"
)

func testFrame(t *testing.T, closes []float64) *series.Frame {
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
		volume[i] = 1000
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

func compileSrc(t *testing.T, src string) *compiler.Bytecode {
	t.Helper()
	bc, err := compiler.New().Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return bc
}

func TestExecuteMovingAverageCross(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 30, 30, 30, 30}
	frame := testFrame(t, closes)
	bc := compileSrc(t, `
fast = sma(close, 2)
slow = sma(close, 4)
result = crosses_over(fast, slow)
`)
	ex := NewExecutor()
	res, err := ex.Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Series == nil || !res.Series.IsBoolean() {
		t.Fatalf("expected boolean series result, got %#v", res.Value)
	}
	if res.Series.Len() != len(closes) {
		t.Fatalf("length mismatch: %d", res.Series.Len())
	}
	crossed := false
	for i := 0; i < res.Series.Len(); i++ {
		if res.Series.BoolAt(i) {
			crossed = true
		}
	}
	if !crossed {
		t.Fatalf("expected at least one crossover bar: %v", res.Series.Values())
	}
}

func TestExecuteFluentMethodChain(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	bc := compileSrc(t, `result = close.sma(3).shift(1)`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Series == nil {
		t.Fatalf("expected series result")
	}
	// sma(3) at index 2 is 2; shifted by one bar it lands on index 3.
	if got := res.Series.At(3); got != 2 {
		t.Fatalf("expected 2 at index 3, got %v", got)
	}
}

func TestExecuteParamsOverrideNamespace(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4, 5})
	bc := compileSrc(t, `result = close.sma(period)`)
	params := map[string]any{"period": 2}
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, params))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Series.At(4); got != 4.5 {
		t.Fatalf("expected sma(2)=4.5 at tail, got %v", got)
	}
}

func TestExecuteInputDefaults(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4, 5})
	bc := compileSrc(t, `
n = input.int("lookback", 2)
result = close.sma(n)
`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Series.At(4); got != 4.5 {
		t.Fatalf("expected default lookback 2, got tail %v", got)
	}
}

func TestExecuteParamsGet(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4})
	bc := compileSrc(t, `result = close.sma(params.get("period", 2))`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, map[string]any{"period": 3}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Series.At(3); got != 3 {
		t.Fatalf("expected sma(3)=3 at tail, got %v", got)
	}
}

func TestExecuteMissingResult(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `x = close.sma(2)`)
	_, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected missing result error")
	}
	if errs.CodeOf(err) != errs.CodeExecution {
		t.Fatalf("expected execution code, got %v", errs.CodeOf(err))
	}
}

func TestExecuteIterationLimit(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `
x = 0
while (true) {
    x = x + 1
}
result = close
`)
	ex := NewExecutor(WithLimits(Limits{
		Timeout:       30 * time.Second,
		MaxIterations: 1000,
	}))
	_, err := ex.Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected iteration limit breach")
	}
	if errs.CodeOf(err) != errs.CodeResource {
		t.Fatalf("expected resource code, got %v", err)
	}
	if errs.ResourceOf(err) != errs.ResourceIterations {
		t.Fatalf("expected iteration resource, got %v", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `
x = 0
while (true) {
    x = x + 1
}
result = close
`)
	ex := NewExecutor(WithLimits(Limits{
		Timeout:       50 * time.Millisecond,
		MaxIterations: 1 << 60,
	}))
	start := time.Now()
	_, err := ex.Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if errs.ResourceOf(err) != errs.ResourceTime {
		t.Fatalf("expected time resource, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("interrupt took too long")
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `
x = 0
while (true) {
    x = x + 1
}
result = close
`)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	ex := NewExecutor(WithLimits(Limits{
		Timeout:       30 * time.Second,
		MaxIterations: 1 << 60,
	}))
	_, err := ex.Execute(ctx, bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestExecuteMemoryLimit(t *testing.T) {
	frame := testFrame(t, make([]float64, 1000))
	bc := compileSrc(t, `
a = close.sma(2)
b = a.sma(2)
c = b.sma(2)
result = c
`)
	ex := NewExecutor(WithLimits(Limits{
		Timeout:        time.Second,
		MaxMemoryBytes: 4 * 1024,
	}))
	_, err := ex.Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected memory limit breach")
	}
	if errs.ResourceOf(err) != errs.ResourceMemory {
		t.Fatalf("expected memory resource, got %v", err)
	}
}

func TestExecuteSeriesInConditionRejected(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `
if (close) {
    result = close
}
`)
	_, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected rejection of series condition")
	}
	if errs.CodeOf(err) != errs.CodeExecution {
		t.Fatalf("expected execution error, got %v", err)
	}
}

func TestExecuteScalarConditionAllowed(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 10})
	bc := compileSrc(t, `
if (close.last() > 5) {
    result = close.sma(2)
} else {
    result = close
}
`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Series.At(3); got != 6.5 {
		t.Fatalf("expected sma branch, got %v", got)
	}
}

func TestExecuteStrategyCommands(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 10})
	bc := compileSrc(t, `
if (close.last() > 5) {
    strategy.buy(1.5, "breakout")
}
result = close
`)
	ec := NewContext(frame, nil, WithSymbol("BTC-USD"))
	res, err := NewExecutor().Execute(context.Background(), bc, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Commands) != 1 {
		t.Fatalf("expected one command, got %v", res.Commands)
	}
	cmd := res.Commands[0]
	if cmd.Side != SideBuy || cmd.Symbol != "BTC-USD" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if !cmd.Quantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("unexpected quantity: %s", cmd.Quantity)
	}
}

func TestExecutePlots(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4})
	bc := compileSrc(t, `
fast = close.sma(2)
plot("fast", fast)
result = fast
`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Plots) != 1 || res.Plots[0].Name != "fast" {
		t.Fatalf("unexpected plots: %+v", res.Plots)
	}
}

func TestExecuteStatePersists(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `
vars.runs = vars.runs ? vars.runs + 1 : 1
result = close
`)
	ex := NewExecutor()
	first, err := ex.Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := ex.Execute(context.Background(), bc, NewContext(frame, nil, WithState(first.State)))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := second.State["runs"]; got != int64(2) && got != float64(2) {
		t.Fatalf("expected runs=2, got %#v", got)
	}
}

func TestExecutePortfolioSnapshot(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, `
if (portfolio.equity() > 500) {
    strategy.close_all("derisk")
}
result = close
`)
	ec := NewContext(frame, nil, WithPortfolio(
		decimal.NewFromInt(1000), decimal.NewFromInt(400), decimal.NewFromInt(2)))
	res, err := NewExecutor().Execute(context.Background(), bc, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Commands) != 1 || res.Commands[0].Side != SideCloseAll {
		t.Fatalf("unexpected commands: %+v", res.Commands)
	}
}

func TestExecuteDataTableAccess(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4})
	bc := compileSrc(t, `result = data.close.sma(2) - data["open"].sma(2)`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// open is close-0.5 throughout, so the spread is a constant 0.5.
	if got := res.Series.At(3); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestExecuteBollingerColumns(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	bc := compileSrc(t, `
bands = close.bollinger(3, 2)
result = bands.bb_upper - bands.bb_lower
`)
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Series == nil {
		t.Fatalf("expected series result")
	}
	if got := res.Series.At(5); got <= 0 {
		t.Fatalf("band width should be positive, got %v", got)
	}
}

func TestExecuteIsolatedBetweenRuns(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	leak := compileSrc(t, "leaked = 42\nresult = close")
	probe := compileSrc(t, "result = close.sma(2)\nprobe = leaked")
	ex := NewExecutor()
	if _, err := ex.Execute(context.Background(), leak, NewContext(frame, nil)); err != nil {
		t.Fatalf("leak run: %v", err)
	}
	if _, err := ex.Execute(context.Background(), probe, NewContext(frame, nil)); err == nil {
		t.Fatalf("expected reference error for leaked binding")
	}
}

func TestSafeGlobalsAllInstalled(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	ex := NewExecutor()
	for _, name := range compiler.SafeGlobals() {
		src := fmt.Sprintf("probe = %s\nresult = close", name)
		if _, err := ex.Execute(context.Background(), compileSrc(t, src), NewContext(frame, nil)); err != nil {
			t.Fatalf("global %s not installed: %v", name, err)
		}
	}
}

func TestExecuteRejectsScalarResult(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, "result = 42")
	_, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected scalar result rejection")
	}
	if errs.CodeOf(err) != errs.CodeExecution {
		t.Fatalf("expected execution code, got %v", errs.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "series") {
		t.Fatalf("error should name the expected shape: %v", err)
	}
}

func TestExecuteAcceptsFrameResult(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3, 4, 5})
	bc := compileSrc(t, "result = bollinger(close, 3)")
	res, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, ok := res.Value.(*series.Frame)
	if !ok {
		t.Fatalf("expected frame result, got %T", res.Value)
	}
	if !out.Has("bb_upper") || !out.Has("bb_lower") {
		t.Fatalf("frame missing band columns: %v", out.Names())
	}
	if res.Series != nil {
		t.Fatalf("frame result must not set Series")
	}
}

func TestExecuteIndexOutOfRange(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, "x = close.at(99)\nresult = close")
	_, err := NewExecutor().Execute(context.Background(), bc, NewContext(frame, nil))
	if err == nil {
		t.Fatalf("expected out of range error")
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParamsCannotShadowRuntimeInternals(t *testing.T) {
	frame := testFrame(t, []float64{1, 2, 3})
	bc := compileSrc(t, "result = close + 1")
	ec := NewContext(frame, map[string]any{"__ops": 7})
	res, err := NewExecutor().Execute(context.Background(), bc, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Series.At(2); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
}
