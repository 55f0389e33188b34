package exec

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/dop251/goja"

	"github.com/strataquant/dslengine/series"
)

// snakeMapper exposes Go methods and fields to scripts under snake_case
// names, so PctChange becomes pct_change and CrossesOver becomes
// crosses_over.
type snakeMapper struct{}

func (snakeMapper) FieldName(_ reflect.Type, f reflect.StructField) string {
	return snakeCase(f.Name)
}

func (snakeMapper) MethodName(_ reflect.Type, m reflect.Method) string {
	return snakeCase(m.Name)
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// vmEnv bundles the per-execution runtime with its resource tracker. Every
// wrapper and native function holds the same env, so all series allocations
// flow through one budget.
type vmEnv struct {
	rt *goja.Runtime
	tr *tracker
}

// wrap charges the series against the memory budget and hands it to the VM.
func (e *vmEnv) wrap(s *series.Series) *seriesHandle {
	e.tr.chargeSeries(s.Len())
	return &seriesHandle{env: e, s: s}
}

func (e *vmEnv) throw(err error) {
	panic(e.rt.NewTypeError(err.Error()))
}

func (e *vmEnv) typeError(format string, args ...any) {
	panic(e.rt.NewTypeError(append([]any{format}, args...)...))
}

// seriesHandle is the script-side view of a series. Method names surface in
// snake_case through the field name mapper.
type seriesHandle struct {
	env *vmEnv
	s   *series.Series
}

func (h *seriesHandle) unwrap() *series.Series { return h.s }

func (h *seriesHandle) indicator(f func(*series.Series, int) (*series.Series, error), period int) *seriesHandle {
	out, err := f(h.s, period)
	if err != nil {
		h.env.throw(err)
	}
	return h.env.wrap(out)
}

// Sma returns the simple moving average over the given period.
func (h *seriesHandle) Sma(period int) *seriesHandle { return h.indicator(series.SMA, period) }

// Ema returns the exponential moving average over the given period.
func (h *seriesHandle) Ema(period int) *seriesHandle { return h.indicator(series.EMA, period) }

// Wma returns the weighted moving average over the given period.
func (h *seriesHandle) Wma(period int) *seriesHandle { return h.indicator(series.WMA, period) }

// Rsi returns the relative strength index over the given period.
func (h *seriesHandle) Rsi(period int) *seriesHandle { return h.indicator(series.RSI, period) }

// Stdev returns the rolling sample standard deviation.
func (h *seriesHandle) Stdev(period int) *seriesHandle { return h.indicator(series.Stdev, period) }

// Highest returns the rolling window maximum.
func (h *seriesHandle) Highest(period int) *seriesHandle { return h.indicator(series.Highest, period) }

// Lowest returns the rolling window minimum.
func (h *seriesHandle) Lowest(period int) *seriesHandle { return h.indicator(series.Lowest, period) }

// Change returns the absolute difference against the value n bars back.
func (h *seriesHandle) Change(n int) *seriesHandle { return h.indicator(series.Change, n) }

// PctChange returns the fractional change against the value n bars back.
func (h *seriesHandle) PctChange(n int) *seriesHandle { return h.indicator(series.PctChange, n) }

// Shift moves samples forward by n bars, padding with missing values.
func (h *seriesHandle) Shift(n int) *seriesHandle { return h.env.wrap(h.s.Shift(n)) }

// CrossesOver reports, per bar, whether this series crossed above the other.
func (h *seriesHandle) CrossesOver(other *seriesHandle) *seriesHandle {
	if other == nil {
		h.env.typeError("crosses_over requires a series argument")
	}
	out, err := series.Crossover(h.s, other.s)
	if err != nil {
		h.env.throw(err)
	}
	return h.env.wrap(out)
}

// CrossesUnder reports, per bar, whether this series crossed below the other.
func (h *seriesHandle) CrossesUnder(other *seriesHandle) *seriesHandle {
	if other == nil {
		h.env.typeError("crosses_under requires a series argument")
	}
	out, err := series.Crossunder(h.s, other.s)
	if err != nil {
		h.env.throw(err)
	}
	return h.env.wrap(out)
}

// Bollinger returns a table with bb_middle, bb_upper, and bb_lower columns.
func (h *seriesHandle) Bollinger(period int, width float64) goja.Value {
	out, err := series.Bollinger(h.s, period, width)
	if err != nil {
		h.env.throw(err)
	}
	return h.env.newFrameValue(out)
}

func (h *seriesHandle) mapped(f func(float64) float64) *seriesHandle {
	return h.env.wrap(series.Map(h.s.Name(), h.s, f))
}

// Abs returns the element-wise absolute value.
func (h *seriesHandle) Abs() *seriesHandle { return h.mapped(absf) }

// Sqrt returns the element-wise square root.
func (h *seriesHandle) Sqrt() *seriesHandle { return h.mapped(sqrtf) }

// Log returns the element-wise natural logarithm.
func (h *seriesHandle) Log() *seriesHandle { return h.mapped(logf) }

// Last returns the most recent value.
func (h *seriesHandle) Last() float64 { return h.s.Last() }

// At returns the value at index i.
func (h *seriesHandle) At(i int) float64 {
	if i < 0 || i >= h.s.Len() {
		h.env.typeError("index %d out of range for series of length %d", i, h.s.Len())
	}
	return h.s.At(i)
}

// Len returns the number of bars.
func (h *seriesHandle) Len() int { return h.s.Len() }

// Name returns the series name.
func (h *seriesHandle) Name() string { return h.s.Name() }

// Sum returns the total over non-missing samples.
func (h *seriesHandle) Sum() float64 { return h.s.Sum() }

// Min returns the smallest non-missing sample.
func (h *seriesHandle) Min() float64 { return h.s.Min() }

// Max returns the largest non-missing sample.
func (h *seriesHandle) Max() float64 { return h.s.Max() }

// Any reports whether a boolean series has at least one true bar.
func (h *seriesHandle) Any() bool {
	for i := 0; i < h.s.Len(); i++ {
		if h.s.BoolAt(i) {
			return true
		}
	}
	return false
}

// All reports whether every bar of a boolean series is true.
func (h *seriesHandle) All() bool {
	for i := 0; i < h.s.Len(); i++ {
		if !h.s.BoolAt(i) {
			return false
		}
	}
	return h.s.Len() > 0
}

// frameObject exposes a multi-column result as a dynamic table: columns are
// plain properties, so scripts write bands.bb_upper or data["close"].
type frameObject struct {
	env *vmEnv
	f   *series.Frame
}

func (e *vmEnv) newFrameValue(f *series.Frame) goja.Value {
	for _, name := range f.Names() {
		if col, ok := f.Column(name); ok {
			e.tr.chargeSeries(col.Len())
		}
	}
	return e.rt.NewDynamicObject(&frameObject{env: e, f: f})
}

func (o *frameObject) Get(key string) goja.Value {
	if col, ok := o.f.Column(key); ok {
		return o.env.rt.ToValue(&seriesHandle{env: o.env, s: col})
	}
	switch key {
	case "columns":
		return o.env.rt.ToValue(o.f.Names())
	case "length":
		return o.env.rt.ToValue(o.f.Len())
	}
	return goja.Undefined()
}

func (o *frameObject) Set(_ string, _ goja.Value) bool { return false }

func (o *frameObject) Has(key string) bool { return o.f.Has(key) }

func (o *frameObject) Delete(_ string) bool { return false }

func (o *frameObject) Keys() []string { return o.f.Names() }
