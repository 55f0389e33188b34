package runtime

import (
	"time"

	"github.com/strataquant/dslengine/dsl/compiler"
	"github.com/strataquant/dslengine/dsl/exec"
	"github.com/strataquant/dslengine/dsl/security"
	"github.com/strataquant/dslengine/dsl/typeinfer"
	"github.com/strataquant/dslengine/dsl/version"
	"github.com/strataquant/dslengine/series"
)

// ValidateResult reports static analysis and type checking for one script.
type ValidateResult struct {
	CorrelationID string                        `json:"correlation_id"`
	Valid         bool                          `json:"valid"`
	Violations    []security.Violation          `json:"violations,omitempty"`
	Bindings      map[string]typeinfer.TypeInfo `json:"bindings,omitempty"`
	// TypeError carries the type-check failure message when static analysis
	// passed but the result binding is unusable.
	TypeError string `json:"type_error,omitempty"`
}

// CompileResult is the outcome of compiling (or cache-fetching) a script.
type CompileResult struct {
	CorrelationID string               `json:"correlation_id"`
	SourceHash    string               `json:"source_hash"`
	Bytecode      *compiler.Bytecode   `json:"-"`
	CacheHit      bool                 `json:"cache_hit"`
	Warnings      []security.Violation `json:"warnings,omitempty"`
	Duration      time.Duration        `json:"duration"`
}

// ExecuteResult is the outcome of one script execution.
type ExecuteResult struct {
	CorrelationID string         `json:"correlation_id"`
	Compile       *CompileResult `json:"compile,omitempty"`
	Result        *exec.Result   `json:"-"`
}

// MigrateResult is the outcome of migrating a script across language
// versions.
type MigrateResult struct {
	CorrelationID string             `json:"correlation_id"`
	Target        string             `json:"target"`
	Migration     *version.Migration `json:"migration"`
}

// BatchRequest is one unit of an ExecuteBatch call.
type BatchRequest struct {
	Source  string
	Frame   *series.Frame
	Params  map[string]any
	Options []exec.ContextOption
}

// BatchResult pairs a batch request index with its outcome.
type BatchResult struct {
	Index  int
	Result *ExecuteResult
	Err    error
}
