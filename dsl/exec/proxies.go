package exec

import (
	"math"

	"github.com/dop251/goja"

	"github.com/strataquant/dslengine/series"
)

// Argument helpers for native functions. All of them throw a TypeError into
// the script on misuse.

func (e *vmEnv) argSeries(call goja.FunctionCall, i int, fn string) *series.Series {
	v := e.operand(call.Argument(i))
	if s, ok := v.(*series.Series); ok {
		return s
	}
	e.typeError("%s: argument %d must be a series", fn, i+1)
	return nil
}

func (e *vmEnv) argInt(call goja.FunctionCall, i int, fn string) int {
	v := e.operand(call.Argument(i))
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		e.typeError("%s: argument %d must be an integer", fn, i+1)
	}
	return int(f)
}

func (e *vmEnv) argFloat(call goja.FunctionCall, i int, fn string, def float64) float64 {
	v := e.operand(call.Argument(i))
	if v == nil {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		e.typeError("%s: argument %d must be a number", fn, i+1)
	}
	return f
}

func (e *vmEnv) argString(call goja.FunctionCall, i int, fn string, def string) string {
	v := e.operand(call.Argument(i))
	if v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		e.typeError("%s: argument %d must be a string", fn, i+1)
	}
	return s
}

func (e *vmEnv) seriesFunc(fn string, f func(*series.Series, int) (*series.Series, error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := e.argSeries(call, 0, fn)
		period := e.argInt(call, 1, fn)
		out, err := f(s, period)
		if err != nil {
			e.throw(err)
		}
		return e.rt.ToValue(e.wrap(out))
	}
}

func (e *vmEnv) crossFunc(fn string, f func(a, b *series.Series) (*series.Series, error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		a := e.argSeries(call, 0, fn)
		b := e.argSeries(call, 1, fn)
		out, err := f(a, b)
		if err != nil {
			e.throw(err)
		}
		return e.rt.ToValue(e.wrap(out))
	}
}

// indicatorObject builds the indicator.* namespace. The same functions are
// also installed as bare globals, so indicator.sma and sma are the one
// implementation.
func (e *vmEnv) indicatorObject() *goja.Object {
	obj := e.rt.NewObject()
	for name, fn := range e.indicatorFuncs() {
		_ = obj.Set(name, fn)
	}
	return obj
}

func (e *vmEnv) indicatorFuncs() map[string]func(goja.FunctionCall) goja.Value {
	out := map[string]func(goja.FunctionCall) goja.Value{
		"sma":           e.seriesFunc("sma", series.SMA),
		"ema":           e.seriesFunc("ema", series.EMA),
		"wma":           e.seriesFunc("wma", series.WMA),
		"rsi":           e.seriesFunc("rsi", series.RSI),
		"stdev":         e.seriesFunc("stdev", series.Stdev),
		"highest":       e.seriesFunc("highest", series.Highest),
		"lowest":        e.seriesFunc("lowest", series.Lowest),
		"change":        e.seriesFunc("change", series.Change),
		"pct_change":    e.seriesFunc("pct_change", series.PctChange),
		"crosses_over":  e.crossFunc("crosses_over", series.Crossover),
		"crosses_under": e.crossFunc("crosses_under", series.Crossunder),
	}
	out["shift"] = func(call goja.FunctionCall) goja.Value {
		s := e.argSeries(call, 0, "shift")
		n := e.argInt(call, 1, "shift")
		return e.rt.ToValue(e.wrap(s.Shift(n)))
	}
	out["bollinger"] = func(call goja.FunctionCall) goja.Value {
		s := e.argSeries(call, 0, "bollinger")
		period := e.argInt(call, 1, "bollinger")
		width := e.argFloat(call, 2, "bollinger", 2)
		f, err := series.Bollinger(s, period, width)
		if err != nil {
			e.throw(err)
		}
		return e.newFrameValue(f)
	}
	out["atr"] = func(call goja.FunctionCall) goja.Value {
		high := e.argSeries(call, 0, "atr")
		low := e.argSeries(call, 1, "atr")
		cls := e.argSeries(call, 2, "atr")
		period := e.argInt(call, 3, "atr")
		out, err := series.ATR(high, low, cls, period)
		if err != nil {
			e.throw(err)
		}
		return e.rt.ToValue(e.wrap(out))
	}
	return out
}

// inputObject builds the input.* namespace for typed parameter reads.
func (e *vmEnv) inputObject(ctx *ExecutionContext) *goja.Object {
	obj := e.rt.NewObject()
	read := func(call goja.FunctionCall, fn string) (any, goja.Value) {
		name := e.argString(call, 0, fn, "")
		if name == "" {
			e.typeError("%s: parameter name required", fn)
		}
		v, ok := ctx.Params[name]
		if !ok {
			return nil, call.Argument(1)
		}
		return v, nil
	}
	_ = obj.Set("int", func(call goja.FunctionCall) goja.Value {
		v, def := read(call, "input.int")
		if v == nil {
			return def
		}
		return e.rt.ToValue(int64(coerceFloat(v)))
	})
	_ = obj.Set("float", func(call goja.FunctionCall) goja.Value {
		v, def := read(call, "input.float")
		if v == nil {
			return def
		}
		return e.rt.ToValue(coerceFloat(v))
	})
	_ = obj.Set("bool", func(call goja.FunctionCall) goja.Value {
		v, def := read(call, "input.bool")
		if v == nil {
			return def
		}
		b, ok := v.(bool)
		if !ok {
			b = coerceFloat(v) != 0
		}
		return e.rt.ToValue(b)
	})
	_ = obj.Set("string", func(call goja.FunctionCall) goja.Value {
		v, def := read(call, "input.string")
		if v == nil {
			return def
		}
		if s, ok := v.(string); ok {
			return e.rt.ToValue(s)
		}
		e.typeError("input.string: parameter is not a string")
		return nil
	})
	return obj
}

func coerceFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return math.NaN()
	}
}

// strategyObject builds the strategy.* namespace for order intents.
func (e *vmEnv) strategyObject(ctx *ExecutionContext) *goja.Object {
	obj := e.rt.NewObject()
	_ = obj.Set("buy", func(call goja.FunctionCall) goja.Value {
		qty := e.argFloat(call, 0, "strategy.buy", 0)
		if qty <= 0 {
			e.typeError("strategy.buy: quantity must be positive")
		}
		ctx.buy(qty, e.argString(call, 1, "strategy.buy", ""))
		return goja.Undefined()
	})
	_ = obj.Set("sell", func(call goja.FunctionCall) goja.Value {
		qty := e.argFloat(call, 0, "strategy.sell", 0)
		if qty <= 0 {
			e.typeError("strategy.sell: quantity must be positive")
		}
		ctx.sell(qty, e.argString(call, 1, "strategy.sell", ""))
		return goja.Undefined()
	})
	_ = obj.Set("close_all", func(call goja.FunctionCall) goja.Value {
		ctx.closeAll(e.argString(call, 0, "strategy.close_all", ""))
		return goja.Undefined()
	})
	return obj
}

// portfolioObject exposes the account snapshot as read-only accessors.
func (e *vmEnv) portfolioObject(ctx *ExecutionContext) *goja.Object {
	obj := e.rt.NewObject()
	_ = obj.Set("equity", func(_ goja.FunctionCall) goja.Value {
		f, _ := ctx.Equity().Float64()
		return e.rt.ToValue(f)
	})
	_ = obj.Set("cash", func(_ goja.FunctionCall) goja.Value {
		f, _ := ctx.Cash().Float64()
		return e.rt.ToValue(f)
	})
	_ = obj.Set("position", func(_ goja.FunctionCall) goja.Value {
		f, _ := ctx.Position().Float64()
		return e.rt.ToValue(f)
	})
	return obj
}

// universeObject names the instrument and bar interval under execution.
func (e *vmEnv) universeObject(ctx *ExecutionContext) *goja.Object {
	obj := e.rt.NewObject()
	_ = obj.Set("symbol", func(_ goja.FunctionCall) goja.Value {
		return e.rt.ToValue(ctx.Symbol)
	})
	_ = obj.Set("timeframe", func(_ goja.FunctionCall) goja.Value {
		return e.rt.ToValue(ctx.Timeframe)
	})
	return obj
}

// patternObject builds candlestick pattern detectors over the input table.
func (e *vmEnv) patternObject(ctx *ExecutionContext) *goja.Object {
	obj := e.rt.NewObject()
	column := func(name string) *series.Series {
		if ctx.Frame == nil {
			e.typeError("pattern: no input data")
		}
		col, ok := ctx.Frame.Column(name)
		if !ok {
			e.typeError("pattern: input data has no %q column", name)
		}
		return col
	}
	_ = obj.Set("doji", func(call goja.FunctionCall) goja.Value {
		threshold := e.argFloat(call, 0, "pattern.doji", 0.1)
		op, hi, lo, cl := column("open"), column("high"), column("low"), column("close")
		n := cl.Len()
		mask := make([]bool, n)
		for i := 0; i < n; i++ {
			span := hi.At(i) - lo.At(i)
			if span <= 0 {
				continue
			}
			mask[i] = math.Abs(cl.At(i)-op.At(i))/span <= threshold
		}
		return e.rt.ToValue(e.wrap(series.NewBool("doji", mask)))
	})
	_ = obj.Set("engulfing", func(_ goja.FunctionCall) goja.Value {
		op, cl := column("open"), column("close")
		n := cl.Len()
		mask := make([]bool, n)
		for i := 1; i < n; i++ {
			prevDown := cl.At(i-1) < op.At(i-1)
			curUp := cl.At(i) > op.At(i)
			mask[i] = prevDown && curUp && op.At(i) <= cl.At(i-1) && cl.At(i) >= op.At(i-1)
		}
		return e.rt.ToValue(e.wrap(series.NewBool("engulfing", mask)))
	})
	return obj
}

// stateObject exposes persistent variables as a dynamic object, surfaced to
// scripts as both vars and state.
type stateObject struct {
	env *vmEnv
	ctx *ExecutionContext
}

func (o *stateObject) Get(key string) goja.Value {
	if v, ok := o.ctx.getState(key); ok {
		return o.env.rt.ToValue(v)
	}
	return goja.Undefined()
}

func (o *stateObject) Set(key string, val goja.Value) bool {
	o.ctx.setState(key, val.Export())
	return true
}

func (o *stateObject) Has(key string) bool {
	_, ok := o.ctx.getState(key)
	return ok
}

func (o *stateObject) Delete(_ string) bool { return false }

func (o *stateObject) Keys() []string {
	state := o.ctx.State()
	out := make([]string, 0, len(state))
	for k := range state {
		out = append(out, k)
	}
	return out
}

// paramsObject exposes parameters as properties plus a get(name, default)
// accessor.
type paramsObject struct {
	env *vmEnv
	ctx *ExecutionContext
}

func (o *paramsObject) Get(key string) goja.Value {
	if key == "get" {
		return o.env.rt.ToValue(func(call goja.FunctionCall) goja.Value {
			name := o.env.argString(call, 0, "params.get", "")
			if v, ok := o.ctx.Params[name]; ok {
				return o.env.rt.ToValue(v)
			}
			return call.Argument(1)
		})
	}
	if v, ok := o.ctx.Params[key]; ok {
		return o.env.rt.ToValue(v)
	}
	return goja.Undefined()
}

func (o *paramsObject) Set(_ string, _ goja.Value) bool { return false }

func (o *paramsObject) Has(key string) bool {
	_, ok := o.ctx.Params[key]
	return ok
}

func (o *paramsObject) Delete(_ string) bool { return false }

func (o *paramsObject) Keys() []string {
	out := make([]string, 0, len(o.ctx.Params))
	for k := range o.ctx.Params {
		out = append(out, k)
	}
	return out
}
