package compiler

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/strataquant/dslengine/errs"
)

func TestParseLowersOperators(t *testing.T) {
	c := New()
	bc, err := c.Parse("result = fast > slow")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(bc.Program, "__ops.gt(fast, slow)") {
		t.Fatalf("comparison not lowered:\n%s", bc.Program)
	}
}

func TestParseLowersArithmeticChain(t *testing.T) {
	c := New()
	bc, err := c.Parse("result = a + b * c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(bc.Program, "__ops.add(a, __ops.mul(b, c))") {
		t.Fatalf("precedence lost in lowering:\n%s", bc.Program)
	}
}

func TestParseLowersCompoundAssignment(t *testing.T) {
	c := New()
	bc, err := c.Parse("x = 1\nx += 2\nresult = x")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(bc.Program, "x = __ops.add(x, 2)") {
		t.Fatalf("compound assignment not lowered:\n%s", bc.Program)
	}
}

func TestParseMetersLoopTests(t *testing.T) {
	c := New()
	bc, err := c.Parse("x = 0\nwhile (x < 10) { x = x + 1 }\nresult = x")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(bc.Program, "while (__ops.truthy(__ops.lt(x, 10)))") {
		t.Fatalf("loop test not metered:\n%s", bc.Program)
	}
}

func TestParseNormalizesDeclarations(t *testing.T) {
	c := New()
	bc, err := c.Parse("let x = 1\nconst y = 2\nresult = x + y")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(bc.Program, "var x = 1;") || !strings.Contains(bc.Program, "var y = 2;") {
		t.Fatalf("declarations not normalized to var:\n%s", bc.Program)
	}
}

func TestParseDeterministic(t *testing.T) {
	c := New()
	src := `
fast = sma(close, 10)
slow = sma(close, 30)
if (fast > slow) {
    signal = 1
} else {
    signal = -1
}
result = crosses_over(fast, slow)
`
	a, err := c.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := c.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rawA, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rawB, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(rawA, rawB) {
		t.Fatalf("bytecode is not deterministic:\n%s\n---\n%s", rawA, rawB)
	}
}

func TestParseSyntaxErrorPosition(t *testing.T) {
	c := New()
	_, err := c.Parse("result = (1 +")
	if err == nil {
		t.Fatalf("expected syntax error")
	}
	if errs.CodeOf(err) != errs.CodeCompilation {
		t.Fatalf("expected compilation code, got %v", errs.CodeOf(err))
	}
}

func TestParseRejectsEmptySource(t *testing.T) {
	c := New()
	if _, err := c.Parse("   \n  "); err == nil {
		t.Fatalf("expected error for empty script")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New(WithDSLVersion("1.1.0"))
	bc, err := c.Parse("result = close")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	raw, err := bc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.DSLVersion != "1.1.0" {
		t.Fatalf("version lost: %s", decoded.DSLVersion)
	}
	if decoded.SourceHash != bc.SourceHash {
		t.Fatalf("hash mismatch")
	}
	if decoded.Program != bc.Program {
		t.Fatalf("program mismatch")
	}
}

func TestDecodeRejectsUnknownFormat(t *testing.T) {
	raw := []byte(`{"format":99,"dsl_version":"1.2.0","source_hash":"x","program":"1;"}`)
	if _, err := Decode(raw); err == nil {
		t.Fatalf("expected format rejection")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBytecodeLoads(t *testing.T) {
	c := New()
	bc, err := c.Parse("result = 1 + 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := bc.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if prog == nil {
		t.Fatalf("nil program")
	}
}

func TestHashSourceStable(t *testing.T) {
	a := HashSource("result = close")
	b := HashSource("result = close")
	if a != b {
		t.Fatalf("hash unstable")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
	if a == HashSource("result = open_") {
		t.Fatalf("distinct sources must hash differently")
	}
}

func TestSafeGlobalsSorted(t *testing.T) {
	globals := SafeGlobals()
	if !sort.StringsAreSorted(globals) {
		t.Fatalf("SafeGlobals must be sorted: %v", globals)
	}
	want := map[string]bool{"abs": false, "min": false, "max": false, "round": false}
	for _, name := range globals {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("SafeGlobals missing %s", name)
		}
	}
}

func TestParseLowersBreakAndContinue(t *testing.T) {
	bc, err := New().Parse(`
n = 0
for (i = 0; i < 10; i = i + 1) {
    if (i == 3) { continue }
    if (i > 5) { break }
    n = n + 1
}
result = close
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(bc.Program, "continue;") {
		t.Fatalf("continue not lowered:\n%s", bc.Program)
	}
	if !strings.Contains(bc.Program, "break;") {
		t.Fatalf("break not lowered:\n%s", bc.Program)
	}
}

func TestParseCompilesBareAssignments(t *testing.T) {
	bc, err := New().Parse("x = 1\nresult = close")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// Scripts bind result and their intermediates by bare assignment, so
	// the lowered program must stay non-strict.
	if strings.Contains(bc.Program, "use strict") {
		t.Fatalf("lowered program must not opt into strict mode:\n%s", bc.Program)
	}
	if _, err := bc.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
