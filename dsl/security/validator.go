// Package security statically analyzes DSL source and rejects scripts that
// could escape the execution sandbox, before any compilation or execution is
// attempted. Analysis is a full AST walk: every violation in the script is
// reported in one pass so callers can present all issues at once.
package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"

	"github.com/strataquant/dslengine/internal/srcpos"
)

// forbiddenModules is the fixed denylist of import targets covering file IO,
// networking, process control, dynamic execution, and introspection.
var forbiddenModules = map[string]struct{}{
	"os": {}, "sys": {}, "io": {}, "pathlib": {}, "shutil": {}, "tempfile": {},
	"socket": {}, "urllib": {}, "requests": {}, "httpx": {}, "aiohttp": {}, "websocket": {},
	"subprocess": {}, "multiprocessing": {}, "threading": {}, "signal": {}, "resource": {},
	"pickle": {}, "marshal": {}, "shelve": {}, "importlib": {}, "builtins": {},
	"ctypes": {}, "gc": {}, "inspect": {}, "code": {},
}

// forbiddenBuiltins lists callables that would let a script perform IO or
// reach outside the sandboxed namespace.
var forbiddenBuiltins = map[string]struct{}{
	"open": {}, "input": {}, "print": {}, "eval": {}, "exec": {}, "compile": {},
	"__import__": {}, "globals": {}, "locals": {}, "vars": {}, "dir": {},
	"delattr": {}, "setattr": {}, "help": {}, "breakpoint": {}, "exit": {}, "quit": {},
	"Function": {}, "require": {}, "fetch": {}, "XMLHttpRequest": {}, "WebSocket": {},
	"setTimeout": {}, "setInterval": {}, "setImmediate": {},
}

// forbiddenGlobals are identifiers whose mere reference is an escape vector.
var forbiddenGlobals = map[string]struct{}{
	"globalThis": {}, "Reflect": {}, "Proxy": {},
}

// forbiddenAttributes blocks the classic sandbox-escape path through object
// introspection, in both the dunder and prototype-chain spellings.
var forbiddenAttributes = map[string]struct{}{
	"__class__": {}, "__bases__": {}, "__subclasses__": {}, "__globals__": {},
	"__code__": {}, "__closure__": {}, "__dict__": {}, "__module__": {},
	"__builtins__": {}, "__import__": {}, "__loader__": {}, "__spec__": {},
	"__file__": {}, "__name__": {}, "__package__": {},
	"__proto__": {}, "prototype": {}, "constructor": {},
}

// numericNamespaces are the names whose attribute access is checked against
// the numeric allowlist instead of being blocked.
var numericNamespaces = map[string]struct{}{
	"math": {}, "np": {}, "numpy": {}, "pd": {}, "pandas": {},
}

// numericAllowlist holds known-safe members of the numeric namespaces.
var numericAllowlist = map[string]struct{}{
	"rolling": {}, "mean": {}, "std": {}, "sum": {}, "min": {}, "max": {},
	"abs": {}, "sqrt": {}, "log": {}, "exp": {}, "floor": {}, "ceil": {},
	"round": {}, "pow": {}, "sign": {}, "array": {}, "zeros": {}, "ones": {},
	"arange": {}, "where": {}, "clip": {}, "cumsum": {}, "diff": {},
	"pi": {}, "e": {},
}

// Validator performs deterministic static analysis over DSL source. The zero
// value is not usable; construct with NewValidator.
type Validator struct {
	maxSourceBytes int
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxSourceBytes caps the accepted script size.
func WithMaxSourceBytes(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxSourceBytes = n
		}
	}
}

// NewValidator constructs a validator with default policy.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{maxSourceBytes: 256 * 1024}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate reports whether the source is accepted: true iff no ERROR-level
// violation was found. The full violation list accompanies the verdict.
func (v *Validator) Validate(source string) (bool, []Violation) {
	violations := v.Analyze(source)
	return !HasError(violations), violations
}

// Analyze returns every violation found in the source, ordered by position.
// It never executes the script and is deterministic for identical input.
func (v *Validator) Analyze(source string) []Violation {
	var out []Violation
	if len(source) > v.maxSourceBytes {
		return []Violation{{
			Level:   LevelError,
			Message: fmt.Sprintf("script exceeds maximum size of %d bytes", v.maxSourceBytes),
			Line:    1,
			Column:  1,
		}}
	}

	// Python-style import statements are not part of the grammar; scan them
	// out first so they get a precise finding instead of a bare syntax error,
	// then blank the lines (preserving line numbering) and keep analyzing.
	scrubbed, importViolations := scrubImports(source)
	out = append(out, importViolations...)

	program, err := parser.ParseFile(nil, "strategy", scrubbed, 0)
	if err != nil {
		out = append(out, syntaxViolations(err)...)
		sortViolations(out)
		return out
	}

	w := &walker{src: scrubbed, out: out}
	for _, stmt := range program.Body {
		w.statement(stmt)
	}
	sortViolations(w.out)
	return w.out
}

// scrubImports strips Python-style import lines from the source, reporting a
// violation for each, and returns the remaining source with line numbering
// intact.
func scrubImports(source string) (string, []Violation) {
	lines := strings.Split(source, "\n")
	var found []Violation
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		var module string
		switch {
		case strings.HasPrefix(trimmed, "import "):
			module = strings.TrimSpace(strings.TrimPrefix(trimmed, "import "))
		case strings.HasPrefix(trimmed, "from ") && strings.Contains(trimmed, " import "):
			module = strings.TrimSpace(trimmed[len("from "):strings.Index(trimmed, " import ")])
		default:
			continue
		}
		if idx := strings.IndexAny(module, " ,;"); idx >= 0 {
			module = module[:idx]
		}
		root := module
		if idx := strings.Index(root, "."); idx >= 0 {
			root = root[:idx]
		}
		column := strings.Index(line, "import") + 1
		if strings.HasPrefix(trimmed, "from ") {
			column = strings.Index(line, "from") + 1
		}
		message := fmt.Sprintf("import of %q is not permitted", module)
		if _, dangerous := forbiddenModules[root]; dangerous {
			message = fmt.Sprintf("forbidden import %q", root)
		}
		found = append(found, Violation{Level: LevelError, Message: message, Line: i + 1, Column: column})
		lines[i] = ""
	}
	if len(found) == 0 {
		return source, nil
	}
	return strings.Join(lines, "\n"), found
}

func syntaxViolations(err error) []Violation {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		out := make([]Violation, 0, len(list))
		for _, pe := range list {
			out = append(out, Violation{
				Level:   LevelError,
				Message: "syntax error: " + pe.Message,
				Line:    pe.Position.Line,
				Column:  pe.Position.Column,
			})
		}
		return out
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return []Violation{{
			Level:   LevelError,
			Message: "syntax error: " + single.Message,
			Line:    single.Position.Line,
			Column:  single.Position.Column,
		}}
	}
	return []Violation{{Level: LevelError, Message: "syntax error: " + err.Error(), Line: 1, Column: 1}}
}

func sortViolations(violations []Violation) {
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Column < violations[j].Column
	})
}

// walker accumulates violations over the AST. It never stops at the first
// finding.
type walker struct {
	src string
	out []Violation
}

func (w *walker) report(level Level, idx file.Idx, format string, args ...any) {
	line, column := srcpos.At(w.src, int(idx)-1)
	w.out = append(w.out, Violation{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  column,
	})
}

func (w *walker) statement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		w.expression(s.Expression)
	case *ast.VariableStatement:
		for _, binding := range s.List {
			w.binding(binding)
		}
	case *ast.LexicalDeclaration:
		for _, binding := range s.List {
			w.binding(binding)
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
	case *ast.DoWhileStatement:
		w.expression(s.Test)
		w.statement(s.Body)
	case *ast.ForStatement:
		w.forInitializer(s.Initializer)
		if s.Test != nil {
			w.expression(s.Test)
		}
		if s.Update != nil {
			w.expression(s.Update)
		}
		w.statement(s.Body)
	case *ast.ReturnStatement:
		if s.Argument != nil {
			w.expression(s.Argument)
		}
	case *ast.FunctionDeclaration:
		w.functionLiteral(s.Function)
	case *ast.ClassDeclaration:
		w.report(LevelError, s.Class.Idx0(), "class definitions are not permitted")
	case *ast.TryStatement:
		w.report(LevelError, s.Idx0(), "try/catch is not permitted")
	case *ast.ThrowStatement:
		w.report(LevelError, s.Idx0(), "throw is not permitted")
	case *ast.WithStatement:
		w.report(LevelError, s.Idx0(), "with blocks are not permitted")
	case *ast.SwitchStatement:
		w.report(LevelError, s.Idx0(), "switch statements are not permitted")
	case *ast.LabelledStatement:
		w.statement(s.Statement)
	case *ast.BranchStatement, *ast.EmptyStatement:
		// Allowed, nothing to inspect.
	case *ast.ForInStatement:
		w.expression(s.Source)
		w.statement(s.Body)
	case *ast.ForOfStatement:
		w.expression(s.Source)
		w.statement(s.Body)
	default:
		// Unknown statement forms are rejected by the compiler's restricted
		// grammar; the validator only reports what it understands.
	}
}

func (w *walker) forInitializer(init ast.ForLoopInitializer) {
	switch fi := init.(type) {
	case *ast.ForLoopInitializerExpression:
		w.expression(fi.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		for _, binding := range fi.List {
			w.binding(binding)
		}
	case *ast.ForLoopInitializerLexicalDecl:
		for _, binding := range fi.LexicalDeclaration.List {
			w.binding(binding)
		}
	case nil:
	}
}

func (w *walker) binding(b *ast.Binding) {
	if b == nil {
		return
	}
	if ident, ok := b.Target.(*ast.Identifier); ok {
		w.checkAssignTarget(ident)
	}
	if b.Initializer != nil {
		w.expression(b.Initializer)
	}
}

func (w *walker) checkAssignTarget(ident *ast.Identifier) {
	name := ident.Name.String()
	if strings.HasPrefix(name, "__") {
		w.report(LevelError, ident.Idx, "assignment to dunder name %q is not permitted", name)
	}
}

func (w *walker) expression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Identifier:
		if _, bad := forbiddenGlobals[e.Name.String()]; bad {
			w.report(LevelError, e.Idx, "reference to %q is not permitted", e.Name.String())
		}
	case *ast.AssignExpression:
		if ident, ok := e.Left.(*ast.Identifier); ok {
			w.checkAssignTarget(ident)
		} else {
			w.expression(e.Left)
		}
		w.expression(e.Right)
	case *ast.BinaryExpression:
		w.expression(e.Left)
		w.expression(e.Right)
	case *ast.UnaryExpression:
		w.expression(e.Operand)
	case *ast.ConditionalExpression:
		w.expression(e.Test)
		w.expression(e.Consequent)
		w.expression(e.Alternate)
	case *ast.CallExpression:
		w.call(e)
	case *ast.DotExpression:
		w.attribute(e)
	case *ast.BracketExpression:
		w.expression(e.Left)
		if lit, ok := e.Member.(*ast.StringLiteral); ok {
			if _, bad := forbiddenAttributes[lit.Value.String()]; bad {
				w.report(LevelError, e.LeftBracket, "access to attribute %q is not permitted", lit.Value.String())
			}
		}
		w.expression(e.Member)
	case *ast.SequenceExpression:
		for _, inner := range e.Sequence {
			w.expression(inner)
		}
	case *ast.ArrayLiteral:
		for _, inner := range e.Value {
			w.expression(inner)
		}
	case *ast.ObjectLiteral:
		for _, prop := range e.Value {
			if keyed, ok := prop.(*ast.PropertyKeyed); ok {
				w.expression(keyed.Value)
			}
		}
	case *ast.FunctionLiteral:
		w.functionLiteral(e)
	case *ast.ArrowFunctionLiteral:
		w.report(LevelError, e.Start, "function definitions are not permitted")
	case *ast.ClassLiteral:
		w.report(LevelError, e.Class, "class definitions are not permitted")
	case *ast.NewExpression:
		w.report(LevelError, e.New, "object construction with new is not permitted")
	case *ast.TemplateLiteral:
		w.report(LevelError, e.Idx0(), "template literals are not permitted")
	case *ast.RegExpLiteral:
		w.report(LevelError, e.Idx, "regular expression literals are not permitted")
	case *ast.AwaitExpression:
		w.report(LevelError, e.Idx0(), "async constructs are not permitted")
	case *ast.YieldExpression:
		w.report(LevelError, e.Idx0(), "generator constructs are not permitted")
	case *ast.SpreadElement:
		w.expression(e.Expression)
	case *ast.NumberLiteral, *ast.StringLiteral, *ast.BooleanLiteral, *ast.NullLiteral, nil:
		// Literals carry no risk.
	default:
		// Unknown expression forms are rejected by the compiler's grammar.
	}
}

func (w *walker) functionLiteral(fn *ast.FunctionLiteral) {
	if fn == nil {
		return
	}
	if fn.Async {
		w.report(LevelError, fn.Function, "async definitions are not permitted")
		return
	}
	if fn.Generator {
		w.report(LevelError, fn.Function, "generator definitions are not permitted")
		return
	}
	w.report(LevelError, fn.Function, "function definitions are not permitted")
}

func (w *walker) call(e *ast.CallExpression) {
	if ident, ok := e.Callee.(*ast.Identifier); ok {
		name := ident.Name.String()
		if _, bad := forbiddenBuiltins[name]; bad {
			w.report(LevelError, ident.Idx, "call to forbidden builtin %q", name)
		}
	} else {
		w.expression(e.Callee)
	}
	for _, arg := range e.ArgumentList {
		w.expression(arg)
	}
}

func (w *walker) attribute(e *ast.DotExpression) {
	name := e.Identifier.Name.String()
	if _, bad := forbiddenAttributes[name]; bad {
		w.report(LevelError, e.Identifier.Idx, "access to attribute %q is not permitted", name)
		w.expression(e.Left)
		return
	}
	if base, ok := e.Left.(*ast.Identifier); ok {
		if _, numeric := numericNamespaces[base.Name.String()]; numeric {
			if _, allowed := numericAllowlist[name]; !allowed {
				w.report(LevelWarning, e.Identifier.Idx, "attribute %q is not on the %s allowlist", name, base.Name.String())
			}
			return
		}
	}
	w.expression(e.Left)
}
