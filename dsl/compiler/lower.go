package compiler

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
)

// binaryOps maps surface operators to their dispatch function in the __ops
// runtime namespace. Lowering every operator to a call is what gives series
// values their arithmetic semantics: the dispatcher inspects operand types at
// run time, so `fast > slow` yields a boolean series instead of a coerced
// primitive comparison.
var binaryOps = map[string]string{
	"+":   "add",
	"-":   "sub",
	"*":   "mul",
	"/":   "div",
	"%":   "mod",
	"**":  "pow",
	"<":   "lt",
	">":   "gt",
	"<=":  "lte",
	">=":  "gte",
	"==":  "eq",
	"===": "eq",
	"!=":  "neq",
	"!==": "neq",
	"&&":  "and",
	"||":  "or",
	"&":   "land",
	"|":   "lor",
	"^":   "xor",
}

var unaryOps = map[string]string{
	"-": "neg",
	"!": "not",
}

// lowerError carries a source position through the emitter; Parse converts it
// into the caller-facing error envelope.
type lowerError struct {
	message string
	idx     file.Idx
}

func (e *lowerError) Error() string { return e.message }

func failAt(idx file.Idx, format string, args ...any) *lowerError {
	return &lowerError{message: fmt.Sprintf(format, args...), idx: idx}
}

// emitter produces the canonical lowered program. Output is fully normalized:
// var declarations, one statement per line, fixed indentation, every operator
// as an __ops call. Determinism here is what makes bytecode cacheable by
// source hash alone.
type emitter struct {
	buf    strings.Builder
	indent int
}

func lower(program *ast.Program) (string, error) {
	em := &emitter{}
	for _, stmt := range program.Body {
		if err := em.statement(stmt); err != nil {
			return "", err
		}
	}
	return em.buf.String(), nil
}

func (em *emitter) line(s string) {
	for i := 0; i < em.indent; i++ {
		em.buf.WriteString("    ")
	}
	em.buf.WriteString(s)
	em.buf.WriteByte('\n')
}

func (em *emitter) statement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		expr, err := em.expression(s.Expression)
		if err != nil {
			return err
		}
		em.line(expr + ";")
		return nil
	case *ast.VariableStatement:
		return em.bindings(s.List)
	case *ast.LexicalDeclaration:
		return em.bindings(s.List)
	case *ast.BlockStatement:
		for _, inner := range s.List {
			if err := em.statement(inner); err != nil {
				return err
			}
		}
		return nil
	case *ast.IfStatement:
		return em.ifStatement(s)
	case *ast.WhileStatement:
		test, err := em.expression(s.Test)
		if err != nil {
			return err
		}
		em.line("while (__ops.truthy(" + test + ")) {")
		if err := em.block(s.Body); err != nil {
			return err
		}
		em.line("}")
		return nil
	case *ast.ForStatement:
		return em.forStatement(s)
	case *ast.ForOfStatement:
		return em.forOfStatement(s)
	case *ast.BranchStatement:
		// break and continue share one node, distinguished by keyword.
		kw := s.Token.String()
		if kw != "break" && kw != "continue" {
			return failAt(s.Idx0(), "unsupported statement")
		}
		if s.Label != nil {
			return failAt(s.Idx0(), "labelled %s is not supported", kw)
		}
		em.line(kw + ";")
		return nil
	case *ast.EmptyStatement:
		return nil
	default:
		return failAt(stmt.Idx0(), "unsupported statement")
	}
}

func (em *emitter) bindings(list []*ast.Binding) error {
	for _, b := range list {
		target, ok := b.Target.(*ast.Identifier)
		if !ok {
			return failAt(b.Target.Idx0(), "unsupported declaration target")
		}
		if b.Initializer == nil {
			em.line("var " + target.Name.String() + ";")
			continue
		}
		init, err := em.expression(b.Initializer)
		if err != nil {
			return err
		}
		em.line("var " + target.Name.String() + " = " + init + ";")
	}
	return nil
}

func (em *emitter) ifStatement(s *ast.IfStatement) error {
	test, err := em.expression(s.Test)
	if err != nil {
		return err
	}
	em.line("if (__ops.truthy(" + test + ")) {")
	if err := em.block(s.Consequent); err != nil {
		return err
	}
	if s.Alternate == nil {
		em.line("}")
		return nil
	}
	if chained, ok := s.Alternate.(*ast.IfStatement); ok {
		// Keep else-if chains flat so the canonical form stays readable.
		test, err := em.expression(chained.Test)
		if err != nil {
			return err
		}
		em.line("} else if (__ops.truthy(" + test + ")) {")
		if err := em.block(chained.Consequent); err != nil {
			return err
		}
		if chained.Alternate != nil {
			em.line("} else {")
			if err := em.block(chained.Alternate); err != nil {
				return err
			}
		}
		em.line("}")
		return nil
	}
	em.line("} else {")
	if err := em.block(s.Alternate); err != nil {
		return err
	}
	em.line("}")
	return nil
}

func (em *emitter) forStatement(s *ast.ForStatement) error {
	init := ""
	switch fi := s.Initializer.(type) {
	case nil:
	case *ast.ForLoopInitializerExpression:
		expr, err := em.expression(fi.Expression)
		if err != nil {
			return err
		}
		init = expr
	case *ast.ForLoopInitializerVarDeclList:
		expr, err := em.inlineBindings(fi.List)
		if err != nil {
			return err
		}
		init = expr
	case *ast.ForLoopInitializerLexicalDecl:
		expr, err := em.inlineBindings(fi.LexicalDeclaration.List)
		if err != nil {
			return err
		}
		init = expr
	default:
		return failAt(s.Idx0(), "unsupported for-loop initializer")
	}
	test := "true"
	if s.Test != nil {
		expr, err := em.expression(s.Test)
		if err != nil {
			return err
		}
		test = expr
	}
	update := ""
	if s.Update != nil {
		expr, err := em.expression(s.Update)
		if err != nil {
			return err
		}
		update = expr
	}
	em.line("for (" + init + "; __ops.truthy(" + test + "); " + update + ") {")
	if err := em.block(s.Body); err != nil {
		return err
	}
	em.line("}")
	return nil
}

func (em *emitter) forOfStatement(s *ast.ForOfStatement) error {
	into := ""
	switch fi := s.Into.(type) {
	case *ast.ForIntoExpression:
		expr, err := em.expression(fi.Expression)
		if err != nil {
			return err
		}
		into = expr
	case *ast.ForIntoVar:
		target, ok := fi.Binding.Target.(*ast.Identifier)
		if !ok {
			return failAt(fi.Binding.Target.Idx0(), "unsupported loop variable")
		}
		into = "var " + target.Name.String()
	case *ast.ForDeclaration:
		target, ok := fi.Target.(*ast.Identifier)
		if !ok {
			return failAt(fi.Target.Idx0(), "unsupported loop variable")
		}
		into = "var " + target.Name.String()
	default:
		return failAt(s.Idx0(), "unsupported loop variable")
	}
	source, err := em.expression(s.Source)
	if err != nil {
		return err
	}
	em.line("for (" + into + " of " + source + ") {")
	em.indent++
	// Charges the iteration budget; for-of loops have no test expression for
	// truthy to hook.
	em.line("__ops.tick();")
	em.indent--
	if err := em.block(s.Body); err != nil {
		return err
	}
	em.line("}")
	return nil
}

// inlineBindings renders declarations for a for-loop header, comma separated.
func (em *emitter) inlineBindings(list []*ast.Binding) (string, error) {
	parts := make([]string, 0, len(list))
	for _, b := range list {
		target, ok := b.Target.(*ast.Identifier)
		if !ok {
			return "", failAt(b.Target.Idx0(), "unsupported declaration target")
		}
		if b.Initializer == nil {
			parts = append(parts, target.Name.String())
			continue
		}
		init, err := em.expression(b.Initializer)
		if err != nil {
			return "", err
		}
		parts = append(parts, target.Name.String()+" = "+init)
	}
	return "var " + strings.Join(parts, ", "), nil
}

func (em *emitter) block(stmt ast.Statement) error {
	em.indent++
	defer func() { em.indent-- }()
	if blk, ok := stmt.(*ast.BlockStatement); ok {
		for _, inner := range blk.List {
			if err := em.statement(inner); err != nil {
				return err
			}
		}
		return nil
	}
	return em.statement(stmt)
}

func (em *emitter) expression(expr ast.Expression) (string, error) {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e.Name.String(), nil
	case *ast.NumberLiteral:
		return e.Literal, nil
	case *ast.StringLiteral:
		return e.Literal, nil
	case *ast.BooleanLiteral:
		if e.Value {
			return "true", nil
		}
		return "false", nil
	case *ast.NullLiteral:
		return "null", nil
	case *ast.BinaryExpression:
		return em.binary(e)
	case *ast.UnaryExpression:
		return em.unary(e)
	case *ast.AssignExpression:
		return em.assign(e)
	case *ast.ConditionalExpression:
		test, err := em.expression(e.Test)
		if err != nil {
			return "", err
		}
		cons, err := em.expression(e.Consequent)
		if err != nil {
			return "", err
		}
		alt, err := em.expression(e.Alternate)
		if err != nil {
			return "", err
		}
		return "(__ops.truthy(" + test + ") ? " + cons + " : " + alt + ")", nil
	case *ast.CallExpression:
		return em.call(e)
	case *ast.DotExpression:
		left, err := em.expression(e.Left)
		if err != nil {
			return "", err
		}
		return left + "." + e.Identifier.Name.String(), nil
	case *ast.BracketExpression:
		left, err := em.expression(e.Left)
		if err != nil {
			return "", err
		}
		member, err := em.expression(e.Member)
		if err != nil {
			return "", err
		}
		return left + "[" + member + "]", nil
	case *ast.ArrayLiteral:
		parts := make([]string, 0, len(e.Value))
		for _, inner := range e.Value {
			rendered, err := em.expression(inner)
			if err != nil {
				return "", err
			}
			parts = append(parts, rendered)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case *ast.ObjectLiteral:
		return em.object(e)
	default:
		return "", failAt(expr.Idx0(), "unsupported expression")
	}
}

func (em *emitter) binary(e *ast.BinaryExpression) (string, error) {
	op, ok := binaryOps[e.Operator.String()]
	if !ok {
		return "", failAt(e.Left.Idx0(), "unsupported operator %q", e.Operator.String())
	}
	left, err := em.expression(e.Left)
	if err != nil {
		return "", err
	}
	right, err := em.expression(e.Right)
	if err != nil {
		return "", err
	}
	return "__ops." + op + "(" + left + ", " + right + ")", nil
}

func (em *emitter) unary(e *ast.UnaryExpression) (string, error) {
	opText := e.Operator.String()
	if opText == "++" || opText == "--" {
		target, ok := e.Operand.(*ast.Identifier)
		if !ok {
			return "", failAt(e.Operand.Idx0(), "unsupported increment target")
		}
		op := "add"
		if opText == "--" {
			op = "sub"
		}
		name := target.Name.String()
		return name + " = __ops." + op + "(" + name + ", 1)", nil
	}
	if opText == "+" {
		return em.expression(e.Operand)
	}
	op, ok := unaryOps[opText]
	if !ok {
		return "", failAt(e.Idx0(), "unsupported operator %q", opText)
	}
	operand, err := em.expression(e.Operand)
	if err != nil {
		return "", err
	}
	return "__ops." + op + "(" + operand + ")", nil
}

func (em *emitter) assign(e *ast.AssignExpression) (string, error) {
	target, err := em.assignTarget(e.Left)
	if err != nil {
		return "", err
	}
	right, err := em.expression(e.Right)
	if err != nil {
		return "", err
	}
	opText := e.Operator.String()
	if opText == "=" {
		return target + " = " + right, nil
	}
	op, ok := binaryOps[strings.TrimSuffix(opText, "=")]
	if !ok {
		return "", failAt(e.Left.Idx0(), "unsupported assignment operator %q", opText)
	}
	return target + " = __ops." + op + "(" + target + ", " + right + ")", nil
}

// assignTarget renders an lvalue without routing subscripts through __ops, so
// `x[i] = v` stays a plain property write.
func (em *emitter) assignTarget(expr ast.Expression) (string, error) {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e.Name.String(), nil
	case *ast.DotExpression:
		left, err := em.expression(e.Left)
		if err != nil {
			return "", err
		}
		return left + "." + e.Identifier.Name.String(), nil
	case *ast.BracketExpression:
		left, err := em.expression(e.Left)
		if err != nil {
			return "", err
		}
		member, err := em.expression(e.Member)
		if err != nil {
			return "", err
		}
		return left + "[" + member + "]", nil
	default:
		return "", failAt(expr.Idx0(), "unsupported assignment target")
	}
}

func (em *emitter) call(e *ast.CallExpression) (string, error) {
	callee, err := em.expression(e.Callee)
	if err != nil {
		return "", err
	}
	args := make([]string, 0, len(e.ArgumentList))
	for _, arg := range e.ArgumentList {
		rendered, err := em.expression(arg)
		if err != nil {
			return "", err
		}
		args = append(args, rendered)
	}
	return callee + "(" + strings.Join(args, ", ") + ")", nil
}

func (em *emitter) object(e *ast.ObjectLiteral) (string, error) {
	parts := make([]string, 0, len(e.Value))
	for _, prop := range e.Value {
		keyed, ok := prop.(*ast.PropertyKeyed)
		if !ok {
			return "", failAt(e.Idx0(), "unsupported object property")
		}
		if keyed.Computed {
			return "", failAt(e.Idx0(), "unsupported computed property key")
		}
		key, err := em.expression(keyed.Key)
		if err != nil {
			return "", err
		}
		value, err := em.expression(keyed.Value)
		if err != nil {
			return "", err
		}
		parts = append(parts, key+": "+value)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}
