package exec

import (
	"math"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// dangerousGlobals are engine builtins undefined before any script code runs.
// Static analysis already rejects their use; clearing them keeps a second
// line of defense.
var dangerousGlobals = []string{
	"eval", "Function", "globalThis", "Reflect", "Proxy",
	"Promise", "Symbol", "WeakRef", "FinalizationRegistry",
}

// buildNamespace assembles the sandbox globals. Later layers win on name
// collisions; the order is: safe scalar helpers, indicator functions, fluent
// proxies, the data table with its bare columns, the params object, and
// finally bare parameter names so user parameters override everything.
func (e *vmEnv) buildNamespace(ctx *ExecutionContext) error {
	rt := e.rt
	for _, name := range dangerousGlobals {
		if err := rt.GlobalObject().Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if err := e.setSafeGlobals(); err != nil {
		return err
	}
	for name, fn := range e.indicatorFuncs() {
		if err := rt.Set(name, fn); err != nil {
			return err
		}
	}

	proxies := map[string]goja.Value{
		"input":     e.inputObject(ctx),
		"indicator": e.indicatorObject(),
		"pattern":   e.patternObject(ctx),
		"portfolio": e.portfolioObject(ctx),
		"universe":  e.universeObject(ctx),
		"strategy":  e.strategyObject(ctx),
	}
	stateVal := rt.NewDynamicObject(&stateObject{env: e, ctx: ctx})
	proxies["vars"] = stateVal
	proxies["state"] = stateVal
	names := make([]string, 0, len(proxies))
	for name := range proxies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rt.Set(name, proxies[name]); err != nil {
			return err
		}
	}

	if err := rt.Set("plot", func(call goja.FunctionCall) goja.Value {
		name := e.argString(call, 0, "plot", "")
		if name == "" {
			e.typeError("plot: name required")
		}
		s := e.argSeries(call, 1, "plot")
		ctx.addPlot(name, s)
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if ctx.Frame != nil {
		table := e.newFrameValue(ctx.Frame)
		if err := rt.Set("data", table); err != nil {
			return err
		}
		if err := rt.Set("market", table); err != nil {
			return err
		}
		for _, col := range ctx.Frame.Names() {
			bare := col
			if bare == "open" {
				// open is a forbidden builtin name; the bare column gets a
				// trailing underscore, data.open stays available.
				bare = "open_"
			}
			s, _ := ctx.Frame.Column(col)
			if err := rt.Set(bare, e.rt.ToValue(&seriesHandle{env: e, s: s})); err != nil {
				return err
			}
		}
	}

	if err := rt.Set("params", rt.NewDynamicObject(&paramsObject{env: e, ctx: ctx})); err != nil {
		return err
	}
	paramNames := make([]string, 0, len(ctx.Params))
	for name := range ctx.Params {
		// Runtime-internal names stay off limits; such parameters remain
		// reachable through the params object only.
		if strings.HasPrefix(name, "__") {
			continue
		}
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)
	for _, name := range paramNames {
		if err := rt.Set(name, rt.ToValue(ctx.Params[name])); err != nil {
			return err
		}
	}
	return nil
}

// setSafeGlobals installs scalar math helpers and a math.* namespace.
func (e *vmEnv) setSafeGlobals() error {
	rt := e.rt
	scalars := map[string]any{
		"abs":   absf,
		"sqrt":  sqrtf,
		"log":   logf,
		"exp":   math.Exp,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"round": math.Round,
		"pow":   math.Pow,
		"min":   math.Min,
		"max":   math.Max,
		"nan":   math.NaN(),
	}
	mathObj := rt.NewObject()
	for name, v := range scalars {
		if err := rt.Set(name, v); err != nil {
			return err
		}
		if err := mathObj.Set(name, v); err != nil {
			return err
		}
	}
	if err := mathObj.Set("pi", math.Pi); err != nil {
		return err
	}
	if err := mathObj.Set("e", math.E); err != nil {
		return err
	}
	return rt.Set("math", mathObj)
}
