// Package compiler turns strategy source into deterministic, cacheable
// bytecode. Compilation parses the script, lowers every operator to a runtime
// dispatch call, and emits a canonical program wrapped in a versioned
// envelope. Identical source always produces identical bytecode.
package compiler

import (
	"errors"
	"strings"

	"github.com/dop251/goja/parser"

	"github.com/strataquant/dslengine/errs"
	"github.com/strataquant/dslengine/internal/srcpos"
)

// Compiler compiles validated strategy source. It is stateless and safe for
// concurrent use.
type Compiler struct {
	dslVersion string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDSLVersion stamps compiled bytecode with the given language version.
func WithDSLVersion(v string) Option {
	return func(c *Compiler) {
		if strings.TrimSpace(v) != "" {
			c.dslVersion = strings.TrimSpace(v)
		}
	}
}

// DefaultDSLVersion is stamped on bytecode when no version option is given.
const DefaultDSLVersion = "1.2.0"

// New constructs a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{dslVersion: DefaultDSLVersion}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Parse compiles source into bytecode. Errors carry the offending source
// position and the compilation error code.
func (c *Compiler) Parse(source string) (*Bytecode, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errs.New("compiler", errs.CodeCompilation,
			errs.WithMessage("empty script"))
	}
	program, err := parser.ParseFile(nil, "strategy", source, 0)
	if err != nil {
		return nil, parseError(err)
	}
	lowered, err := lower(program)
	if err != nil {
		var le *lowerError
		if errors.As(err, &le) {
			line, column := srcpos.At(source, int(le.idx)-1)
			return nil, errs.New("compiler", errs.CodeCompilation,
				errs.WithMessage(le.message), errs.WithPosition(line, column))
		}
		return nil, errs.New("compiler", errs.CodeCompilation,
			errs.WithMessage("lower program"), errs.WithCause(err))
	}
	bc := &Bytecode{
		Format:     FormatVersion,
		DSLVersion: c.dslVersion,
		SourceHash: HashSource(source),
		Program:    lowered,
	}
	// The lowered program must itself compile; a failure here is a bug in
	// lowering, not in the script.
	if _, err := bc.Load(); err != nil {
		return nil, errs.New("compiler", errs.CodeCompilation,
			errs.WithMessage("lowered program rejected"), errs.WithCause(err))
	}
	return bc, nil
}

// SafeGlobals returns the scalar builtins available to scripts, sorted. The
// executor installs the implementations; the list here lets tooling report
// the allowed surface without building a VM.
func SafeGlobals() []string {
	return []string{
		"abs", "ceil", "exp", "floor", "log",
		"math", "max", "min", "nan", "pow", "round", "sqrt",
	}
}

func parseError(err error) error {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return errs.New("compiler", errs.CodeCompilation,
			errs.WithMessage("syntax error: "+first.Message),
			errs.WithPosition(first.Position.Line, first.Position.Column))
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return errs.New("compiler", errs.CodeCompilation,
			errs.WithMessage("syntax error: "+single.Message),
			errs.WithPosition(single.Position.Line, single.Position.Column))
	}
	return errs.New("compiler", errs.CodeCompilation,
		errs.WithMessage("syntax error"), errs.WithCause(err))
}
