package series

import (
	"fmt"
	"strings"
)

// Frame is an ordered collection of equal-length columns, the OHLCV table
// shape the DSL executes against. Column order is insertion order.
type Frame struct {
	names  []string
	cols   map[string]*Series
	length int
}

// NewFrame constructs an empty frame.
func NewFrame() *Frame {
	return &Frame{
		names:  nil,
		cols:   make(map[string]*Series),
		length: 0,
	}
}

func (f *Frame) tabular() {}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.length }

// AddColumn appends a named column; every column must share the frame length.
func (f *Frame) AddColumn(name string, s *Series) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("frame: column name required")
	}
	if s == nil {
		return fmt.Errorf("frame: column %q is nil", trimmed)
	}
	if len(f.names) > 0 && s.Len() != f.length {
		return fmt.Errorf("frame: column %q length %d does not match frame length %d", trimmed, s.Len(), f.length)
	}
	if _, exists := f.cols[trimmed]; exists {
		return fmt.Errorf("frame: duplicate column %q", trimmed)
	}
	if len(f.names) == 0 {
		f.length = s.Len()
	}
	f.names = append(f.names, trimmed)
	f.cols[trimmed] = s.Rename(trimmed)
	return nil
}

// Column returns the named column.
func (f *Frame) Column(name string) (*Series, bool) {
	s, ok := f.cols[strings.TrimSpace(name)]
	return s, ok
}

// Has reports whether the named column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[strings.TrimSpace(name)]
	return ok
}

// Names returns the column names in insertion order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// FromColumns builds a frame from pre-named series in the given order.
func FromColumns(cols ...*Series) (*Frame, error) {
	f := NewFrame()
	for _, col := range cols {
		if col == nil {
			return nil, fmt.Errorf("frame: nil column")
		}
		if err := f.AddColumn(col.Name(), col); err != nil {
			return nil, err
		}
	}
	return f, nil
}
