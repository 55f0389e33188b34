package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"

	"github.com/strataquant/dslengine/errs"
)

// FormatVersion identifies the bytecode envelope layout. Decoders reject
// envelopes from a different format.
const FormatVersion = 1

// Bytecode is the compiled, cacheable form of a strategy script. The program
// field holds the canonical lowered source, which is deterministic for a given
// input: compiling the same script twice yields byte-identical encodings.
type Bytecode struct {
	Format     int    `json:"format"`
	DSLVersion string `json:"dsl_version"`
	SourceHash string `json:"source_hash"`
	Program    string `json:"program"`
}

// Encode serializes the bytecode for cache storage.
func (b *Bytecode) Encode() ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, errs.New("compiler", errs.CodeInvalid,
			errs.WithMessage("encode bytecode"), errs.WithCause(err))
	}
	return raw, nil
}

// Decode parses an encoded bytecode envelope, rejecting unknown formats.
func Decode(raw []byte) (*Bytecode, error) {
	var b Bytecode
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errs.New("compiler", errs.CodeInvalid,
			errs.WithMessage("decode bytecode"), errs.WithCause(err))
	}
	if b.Format != FormatVersion {
		return nil, errs.New("compiler", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unsupported bytecode format %d", b.Format)))
	}
	if b.Program == "" {
		return nil, errs.New("compiler", errs.CodeInvalid,
			errs.WithMessage("bytecode has no program"))
	}
	return &b, nil
}

// Load compiles the lowered program into an executable form. The result is
// immutable and safe to share across concurrent executions. Compilation is
// non-strict: bare top-level assignment is how scripts bind result and their
// intermediates, and strict mode would reject every one of them.
func (b *Bytecode) Load() (*goja.Program, error) {
	prog, err := goja.Compile("strategy", b.Program, false)
	if err != nil {
		return nil, errs.New("compiler", errs.CodeInvalid,
			errs.WithMessage("load bytecode"), errs.WithCause(err))
	}
	return prog, nil
}

// HashSource returns the canonical cache identity of a script: the lowercase
// hex SHA-256 of its raw source text.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
