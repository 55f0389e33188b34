package security

import "fmt"

// Level grades the severity of a static-analysis finding.
type Level string

const (
	// LevelError marks findings that reject the script outright.
	LevelError Level = "ERROR"
	// LevelWarning marks suspicious-but-tolerated constructs.
	LevelWarning Level = "WARNING"
	// LevelInfo marks advisory findings.
	LevelInfo Level = "INFO"
)

// Violation describes a single static-analysis finding, positioned in the
// source so editor-style callers can highlight the offending construct.
type Violation struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

// String renders the violation in diagnostics form.
func (v Violation) String() string {
	return fmt.Sprintf("%s line %d:%d: %s", v.Level, v.Line, v.Column, v.Message)
}

// HasError reports whether any violation in the list is ERROR level.
func HasError(violations []Violation) bool {
	for _, v := range violations {
		if v.Level == LevelError {
			return true
		}
	}
	return false
}
