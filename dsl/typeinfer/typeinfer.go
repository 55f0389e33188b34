// Package typeinfer performs a lightweight forward type analysis over
// strategy source. It propagates value kinds through assignments, builtin
// calls, and operators so callers can reject scripts whose result is not a
// plottable series before paying for execution.
package typeinfer

import (
	"errors"
	"fmt"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"

	"github.com/strataquant/dslengine/errs"
	"github.com/strataquant/dslengine/internal/srcpos"
)

// Kind classifies the value a DSL expression produces.
type Kind string

const (
	KindUnknown       Kind = "UNKNOWN"
	KindScalar        Kind = "SCALAR"
	KindSeries        Kind = "SERIES"
	KindBooleanSeries Kind = "BOOLEAN_SERIES"
	KindDataFrame     Kind = "DATAFRAME"
	KindIndicator     Kind = "INDICATOR"
	KindOHLCV         Kind = "OHLCV"
	KindString        Kind = "STRING"
)

// TypeInfo records what is known about a binding after analysis.
type TypeInfo struct {
	Kind Kind `json:"kind"`
	// Line of the binding's last assignment, for diagnostics.
	Line int `json:"line,omitempty"`
}

// seriesFuncs maps builtin indicator functions to their return kind.
var seriesFuncs = map[string]Kind{
	"sma": KindSeries, "ema": KindSeries, "wma": KindSeries,
	"rsi": KindSeries, "atr": KindSeries, "stdev": KindSeries,
	"highest": KindSeries, "lowest": KindSeries,
	"change": KindSeries, "pct_change": KindSeries, "shift": KindSeries,
	"bollinger":     KindDataFrame,
	"crosses_over":  KindBooleanSeries,
	"crosses_under": KindBooleanSeries,
	"abs": KindSeries, "sqrt": KindSeries, "log": KindSeries,
}

// seedBindings are the names present in every execution namespace.
var seedBindings = map[string]Kind{
	"close": KindSeries, "open_": KindSeries, "high": KindSeries,
	"low": KindSeries, "volume": KindSeries,
	"data": KindOHLCV, "market": KindOHLCV,
	"indicator": KindIndicator, "input": KindIndicator,
	"pattern": KindIndicator, "portfolio": KindIndicator,
	"universe": KindIndicator, "strategy": KindIndicator,
	"vars": KindIndicator, "state": KindIndicator,
	"params": KindIndicator, "plot": KindIndicator,
	"math": KindIndicator,
}

// Engine infers binding kinds for a script. Stateless and safe for
// concurrent use.
type Engine struct{}

// New constructs an inference engine.
func New() *Engine { return &Engine{} }

// Infer parses the source and returns the kind of every top-level binding.
// Analysis is best effort: constructs it cannot model yield UNKNOWN rather
// than an error.
func (e *Engine) Infer(source string) (map[string]TypeInfo, error) {
	program, err := parser.ParseFile(nil, "strategy", source, 0)
	if err != nil {
		return nil, inferParseError(err)
	}
	env := make(map[string]TypeInfo, len(seedBindings))
	for name, kind := range seedBindings {
		env[name] = TypeInfo{Kind: kind}
	}
	w := &inferWalker{src: source, env: env}
	for _, stmt := range program.Body {
		w.statement(stmt)
	}
	out := make(map[string]TypeInfo, len(env))
	for name, info := range env {
		if _, seeded := seedBindings[name]; seeded && info.Line == 0 {
			continue
		}
		out[name] = info
	}
	return out, nil
}

// ValidateTypes checks that the script binds result to a series value, the
// only shape downstream consumers can chart or trade on.
func (e *Engine) ValidateTypes(source string) error {
	bindings, err := e.Infer(source)
	if err != nil {
		return err
	}
	info, ok := bindings["result"]
	if !ok {
		return errs.New("typeinfer", errs.CodeInvalid,
			errs.WithMessage("script never assigns result"),
			errs.WithRemediation("assign the final series to result"))
	}
	switch info.Kind {
	case KindSeries, KindBooleanSeries, KindUnknown:
		return nil
	default:
		return errs.New("typeinfer", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("result has type %s, expected SERIES or BOOLEAN_SERIES", info.Kind)),
			errs.WithPosition(info.Line, 1))
	}
}

// inferWalker threads the source text through the walk so assignments can be
// stamped with their line for diagnostics.
type inferWalker struct {
	src string
	env map[string]TypeInfo
}

func (w *inferWalker) lineAt(idx file.Idx) int {
	line, _ := srcpos.At(w.src, int(idx)-1)
	return line
}

func (w *inferWalker) statement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		w.expression(s.Expression)
	case *ast.VariableStatement:
		for _, b := range s.List {
			w.binding(b)
		}
	case *ast.LexicalDeclaration:
		for _, b := range s.List {
			w.binding(b)
		}
	case *ast.BlockStatement:
		for _, inner := range s.List {
			w.statement(inner)
		}
	case *ast.IfStatement:
		w.expression(s.Test)
		w.statement(s.Consequent)
		if s.Alternate != nil {
			w.statement(s.Alternate)
		}
	case *ast.WhileStatement:
		w.expression(s.Test)
		w.statement(s.Body)
	case *ast.ForStatement:
		if s.Test != nil {
			w.expression(s.Test)
		}
		w.statement(s.Body)
	case *ast.ForOfStatement:
		w.statement(s.Body)
	}
}

func (w *inferWalker) binding(b *ast.Binding) {
	target, ok := b.Target.(*ast.Identifier)
	if !ok {
		return
	}
	kind := KindUnknown
	if b.Initializer != nil {
		kind = w.expression(b.Initializer)
	}
	w.env[target.Name.String()] = TypeInfo{Kind: kind, Line: w.lineAt(target.Idx)}
}

func (w *inferWalker) expression(expr ast.Expression) Kind {
	switch ex := expr.(type) {
	case *ast.Identifier:
		if info, ok := w.env[ex.Name.String()]; ok {
			return info.Kind
		}
		return KindUnknown
	case *ast.NumberLiteral:
		return KindScalar
	case *ast.StringLiteral:
		return KindString
	case *ast.BooleanLiteral:
		return KindScalar
	case *ast.AssignExpression:
		kind := w.expression(ex.Right)
		if target, ok := ex.Left.(*ast.Identifier); ok {
			w.env[target.Name.String()] = TypeInfo{Kind: kind, Line: w.lineAt(target.Idx)}
		}
		return kind
	case *ast.BinaryExpression:
		return binaryKind(ex.Operator.String(),
			w.expression(ex.Left), w.expression(ex.Right))
	case *ast.UnaryExpression:
		return w.expression(ex.Operand)
	case *ast.ConditionalExpression:
		w.expression(ex.Test)
		left := w.expression(ex.Consequent)
		right := w.expression(ex.Alternate)
		if left == right {
			return left
		}
		return KindUnknown
	case *ast.CallExpression:
		return w.callKind(ex)
	case *ast.DotExpression:
		return w.dotKind(ex)
	case *ast.BracketExpression:
		// Subscripting a table yields a column; anything else is opaque.
		if w.expression(ex.Left) == KindOHLCV {
			return KindSeries
		}
		return KindUnknown
	default:
		return KindUnknown
	}
}

func (w *inferWalker) callKind(ex *ast.CallExpression) Kind {
	for _, arg := range ex.ArgumentList {
		w.expression(arg)
	}
	if ident, ok := ex.Callee.(*ast.Identifier); ok {
		if kind, known := seriesFuncs[ident.Name.String()]; known {
			return kind
		}
		return KindUnknown
	}
	if dot, ok := ex.Callee.(*ast.DotExpression); ok {
		// Fluent chains stay in indicator space until a terminal method
		// produces a series.
		name := dot.Identifier.Name.String()
		if kind, known := seriesFuncs[name]; known {
			w.expression(dot.Left)
			return kind
		}
		base := w.expression(dot.Left)
		if base == KindIndicator {
			return KindIndicator
		}
		if base == KindSeries || base == KindBooleanSeries {
			return KindSeries
		}
		return KindUnknown
	}
	return KindUnknown
}

func (w *inferWalker) dotKind(ex *ast.DotExpression) Kind {
	base := w.expression(ex.Left)
	switch base {
	case KindOHLCV:
		return KindSeries
	case KindDataFrame:
		return KindSeries
	case KindIndicator:
		return KindIndicator
	default:
		return KindUnknown
	}
}

// binaryKind implements operator result typing: comparisons over series
// produce boolean masks, arithmetic mixing a series with anything numeric
// stays a series, and logic over masks stays a mask.
func binaryKind(op string, left, right Kind) Kind {
	isSeries := func(k Kind) bool { return k == KindSeries || k == KindBooleanSeries }
	switch op {
	case "<", ">", "<=", ">=", "==", "===", "!=", "!==":
		if isSeries(left) || isSeries(right) {
			return KindBooleanSeries
		}
		return KindScalar
	case "&&", "||", "&", "|", "^":
		if left == KindBooleanSeries || right == KindBooleanSeries {
			return KindBooleanSeries
		}
		return KindScalar
	case "+", "-", "*", "/", "%", "**":
		if isSeries(left) || isSeries(right) {
			return KindSeries
		}
		if left == KindScalar && right == KindScalar {
			return KindScalar
		}
		return KindUnknown
	default:
		return KindUnknown
	}
}

func inferParseError(err error) error {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return errs.New("typeinfer", errs.CodeCompilation,
			errs.WithMessage("syntax error: "+first.Message),
			errs.WithPosition(first.Position.Line, first.Position.Column))
	}
	return errs.New("typeinfer", errs.CodeCompilation,
		errs.WithMessage("syntax error"), errs.WithCause(err))
}
