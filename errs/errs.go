// Package errs provides structured error types and helpers for the DSL runtime.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a DSL runtime error category.
type Code string

const (
	// CodeCompilation indicates the source failed to parse or compile.
	CodeCompilation Code = "compilation"
	// CodeSecurity indicates static analysis rejected the script.
	CodeSecurity Code = "security_violation"
	// CodeExecution indicates a runtime failure inside the sandbox.
	CodeExecution Code = "execution_error"
	// CodeResource indicates a time, memory, recursion, or iteration ceiling was breached.
	CodeResource Code = "resource_exhausted"
	// CodeMigration indicates a version migration could not be completed.
	CodeMigration Code = "migration_error"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// ResourceKind refines CodeResource errors so callers can tell limits apart.
type ResourceKind string

const (
	// ResourceTime marks a wall-clock budget breach.
	ResourceTime ResourceKind = "time"
	// ResourceMemory marks a memory budget breach.
	ResourceMemory ResourceKind = "memory"
	// ResourceRecursion marks a call-stack depth breach.
	ResourceRecursion ResourceKind = "recursion"
	// ResourceIterations marks an iteration budget breach.
	ResourceIterations ResourceKind = "iterations"
)

// E captures structured error information produced across the DSL engine.
type E struct {
	Component   string
	Code        Code
	Message     string
	Line        int
	Column      int
	Resource    ResourceKind
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component:   strings.TrimSpace(component),
		Code:        code,
		Message:     "",
		Line:        0,
		Column:      0,
		Resource:    "",
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithPosition records the source location the error refers to.
func WithPosition(line, column int) Option {
	return func(e *E) {
		if line > 0 {
			e.Line = line
		}
		if column > 0 {
			e.Column = column
		}
	}
}

// WithResource records which resource ceiling was breached.
func WithResource(kind ResourceKind) Option {
	return func(e *E) {
		e.Resource = kind
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Resource != "" {
		parts = append(parts, "resource="+string(e.Resource))
	}
	if e.Line > 0 {
		pos := strconv.Itoa(e.Line)
		if e.Column > 0 {
			pos += ":" + strconv.Itoa(e.Column)
		}
		parts = append(parts, "position="+pos)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err, or the empty string when err carries no envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ResourceOf extracts the resource kind from err, or the empty string.
func ResourceOf(err error) ResourceKind {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Resource
	}
	return ""
}
