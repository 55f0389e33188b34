package exec

import (
	"math"

	"github.com/dop251/goja"

	"github.com/strataquant/dslengine/series"
)

func absf(x float64) float64  { return math.Abs(x) }
func sqrtf(x float64) float64 { return math.Sqrt(x) }
func logf(x float64) float64  { return math.Log(x) }

// registerOps installs the __ops dispatch namespace that lowered programs
// call in place of surface operators. Dispatch inspects operand kinds at run
// time: series operands vectorize, scalars fall back to plain float math.
// truthy and tick additionally charge the iteration budget, which is how
// loops are metered without interpreter hooks.
func registerOps(env *vmEnv) error {
	rt := env.rt
	obj := rt.NewObject()

	arith := func(name string, f func(a, b float64) float64) {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			return env.arith(name, f, call)
		})
	}
	arith("add", func(a, b float64) float64 { return a + b })
	arith("sub", func(a, b float64) float64 { return a - b })
	arith("mul", func(a, b float64) float64 { return a * b })
	arith("div", func(a, b float64) float64 { return a / b })
	arith("mod", math.Mod)
	arith("pow", math.Pow)

	compare := func(name string, f func(a, b float64) bool) {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			return env.compare(name, f, call)
		})
	}
	compare("lt", func(a, b float64) bool { return a < b })
	compare("gt", func(a, b float64) bool { return a > b })
	compare("lte", func(a, b float64) bool { return a <= b })
	compare("gte", func(a, b float64) bool { return a >= b })

	_ = obj.Set("eq", func(call goja.FunctionCall) goja.Value { return env.equality(call, false) })
	_ = obj.Set("neq", func(call goja.FunctionCall) goja.Value { return env.equality(call, true) })

	logic := func(name string, f func(a, b bool) bool) {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			return env.logic(name, f, call)
		})
	}
	both := func(a, b bool) bool { return a && b }
	either := func(a, b bool) bool { return a || b }
	exclusive := func(a, b bool) bool { return a != b }
	logic("and", both)
	logic("or", either)
	logic("xor", exclusive)
	// The DSL has no integer bitwise semantics; & and | are mask operators.
	logic("land", both)
	logic("lor", either)

	_ = obj.Set("neg", func(call goja.FunctionCall) goja.Value {
		operand := env.operand(call.Argument(0))
		if s, ok := operand.(*series.Series); ok {
			return rt.ToValue(env.wrap(series.Map(s.Name(), s, func(x float64) float64 { return -x })))
		}
		return rt.ToValue(-env.toFloat("neg", operand))
	})
	_ = obj.Set("not", func(call goja.FunctionCall) goja.Value {
		operand := env.operand(call.Argument(0))
		if s, ok := operand.(*series.Series); ok {
			out := series.MapBool("not_"+s.Name(), s, func(x float64) bool { return x == 0 })
			return rt.ToValue(env.wrap(out))
		}
		return rt.ToValue(!env.scalarTruthy(operand))
	})
	_ = obj.Set("truthy", func(call goja.FunctionCall) goja.Value {
		env.tr.tick()
		operand := env.operand(call.Argument(0))
		if _, ok := operand.(*series.Series); ok {
			env.typeError("a series has no single truth value; use .last(), .any() or .all()")
		}
		return rt.ToValue(env.scalarTruthy(operand))
	})
	_ = obj.Set("tick", func(_ goja.FunctionCall) goja.Value {
		env.tr.tick()
		return goja.Undefined()
	})

	return rt.Set("__ops", obj)
}

// operand normalizes a script value for dispatch: series handles unwrap to
// their backing series, numbers to float64, everything else passes through.
func (e *vmEnv) operand(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case *seriesHandle:
		return x.s
	case int64:
		return float64(x)
	case float64:
		return x
	case bool:
		return x
	case string:
		return x
	default:
		return x
	}
}

func (e *vmEnv) toFloat(op string, v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case nil:
		e.typeError("%s: operand is missing", op)
	}
	e.typeError("%s: unsupported operand type %T", op, v)
	return 0
}

func (e *vmEnv) scalarTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	default:
		return true
	}
}

func (e *vmEnv) arith(op string, f func(a, b float64) float64, call goja.FunctionCall) goja.Value {
	a := e.operand(call.Argument(0))
	b := e.operand(call.Argument(1))
	as, aok := a.(*series.Series)
	bs, bok := b.(*series.Series)
	switch {
	case aok && bok:
		out, err := series.Combine(op, as, bs, f)
		if err != nil {
			e.throw(err)
		}
		return e.rt.ToValue(e.wrap(out))
	case aok:
		scalar := e.toFloat(op, b)
		return e.rt.ToValue(e.wrap(series.Map(op, as, func(x float64) float64 { return f(x, scalar) })))
	case bok:
		scalar := e.toFloat(op, a)
		return e.rt.ToValue(e.wrap(series.Map(op, bs, func(x float64) float64 { return f(scalar, x) })))
	default:
		return e.rt.ToValue(f(e.toFloat(op, a), e.toFloat(op, b)))
	}
}

func (e *vmEnv) compare(op string, f func(a, b float64) bool, call goja.FunctionCall) goja.Value {
	a := e.operand(call.Argument(0))
	b := e.operand(call.Argument(1))
	as, aok := a.(*series.Series)
	bs, bok := b.(*series.Series)
	switch {
	case aok && bok:
		out, err := series.CombineBool(op, as, bs, f)
		if err != nil {
			e.throw(err)
		}
		return e.rt.ToValue(e.wrap(out))
	case aok:
		scalar := e.toFloat(op, b)
		return e.rt.ToValue(e.wrap(series.MapBool(op, as, func(x float64) bool { return f(x, scalar) })))
	case bok:
		scalar := e.toFloat(op, a)
		return e.rt.ToValue(e.wrap(series.MapBool(op, bs, func(x float64) bool { return f(scalar, x) })))
	default:
		return e.rt.ToValue(f(e.toFloat(op, a), e.toFloat(op, b)))
	}
}

func (e *vmEnv) equality(call goja.FunctionCall, negate bool) goja.Value {
	a := e.operand(call.Argument(0))
	b := e.operand(call.Argument(1))
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return e.rt.ToValue((sa == sb) != negate)
		}
	}
	name := "eq"
	if negate {
		name = "neq"
	}
	eq := func(x, y float64) bool { return (x == y) != negate }
	return e.compare(name, eq, call)
}

func (e *vmEnv) logic(op string, f func(a, b bool) bool, call goja.FunctionCall) goja.Value {
	a := e.operand(call.Argument(0))
	b := e.operand(call.Argument(1))
	as, aok := a.(*series.Series)
	bs, bok := b.(*series.Series)
	boolOf := func(x float64) bool { return x != 0 }
	switch {
	case aok && bok:
		out, err := series.CombineBool(op, as, bs, func(x, y float64) bool { return f(boolOf(x), boolOf(y)) })
		if err != nil {
			e.throw(err)
		}
		return e.rt.ToValue(e.wrap(out))
	case aok:
		scalar := e.scalarTruthy(b)
		return e.rt.ToValue(e.wrap(series.MapBool(op, as, func(x float64) bool { return f(boolOf(x), scalar) })))
	case bok:
		scalar := e.scalarTruthy(a)
		return e.rt.ToValue(e.wrap(series.MapBool(op, bs, func(x float64) bool { return f(scalar, boolOf(x)) })))
	default:
		return e.rt.ToValue(f(e.scalarTruthy(a), e.scalarTruthy(b)))
	}
}
