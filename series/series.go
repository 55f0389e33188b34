// Package series implements the time-series values the DSL operates over:
// float and boolean series, the OHLCV frame, and the indicator stdlib.
package series

import (
	"fmt"
	"math"
	"strings"
)

// Tabular is the union of result shapes a DSL script may produce.
type Tabular interface {
	Len() int
	tabular()
}

// Series is an immutable column of float64 samples. Missing samples are NaN.
// Boolean series reuse the same storage with 0/1 values.
type Series struct {
	name    string
	values  []float64
	boolean bool
}

// New constructs a float series, copying the provided values.
func New(name string, values []float64) *Series {
	copied := make([]float64, len(values))
	copy(copied, values)
	return &Series{name: strings.TrimSpace(name), values: copied, boolean: false}
}

// NewBool constructs a boolean series from the provided mask.
func NewBool(name string, mask []bool) *Series {
	values := make([]float64, len(mask))
	for i, b := range mask {
		if b {
			values[i] = 1
		}
	}
	return &Series{name: strings.TrimSpace(name), values: values, boolean: true}
}

func newRaw(name string, values []float64, boolean bool) *Series {
	return &Series{name: strings.TrimSpace(name), values: values, boolean: boolean}
}

func (s *Series) tabular() {}

// Name returns the series name.
func (s *Series) Name() string { return s.name }

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.values) }

// IsBoolean reports whether the series holds a 0/1 mask.
func (s *Series) IsBoolean() bool { return s.boolean }

// At returns the sample at index i.
func (s *Series) At(i int) float64 { return s.values[i] }

// BoolAt returns the sample at index i interpreted as a boolean.
func (s *Series) BoolAt(i int) bool {
	v := s.values[i]
	return v != 0 && !math.IsNaN(v)
}

// Last returns the final sample, or NaN for an empty series.
func (s *Series) Last() float64 {
	if len(s.values) == 0 {
		return math.NaN()
	}
	return s.values[len(s.values)-1]
}

// Values returns a copy of the underlying samples.
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

// Rename returns a copy of the series under a new name.
func (s *Series) Rename(name string) *Series {
	return newRaw(name, s.Values(), s.boolean)
}

// Shift returns the series moved forward by n samples; vacated slots are NaN.
// Negative n shifts backward.
func (s *Series) Shift(n int) *Series {
	out := make([]float64, len(s.values))
	for i := range out {
		j := i - n
		if j < 0 || j >= len(s.values) {
			out[i] = math.NaN()
		} else {
			out[i] = s.values[j]
		}
	}
	return newRaw(s.name, out, s.boolean)
}

// Equal reports whether two series carry identical samples, treating NaN as
// equal to NaN. Used by tests and cache verification.
func Equal(a, b *Series) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.values) != len(b.values) {
		return false
	}
	for i := range a.values {
		x, y := a.values[i], b.values[i]
		if math.IsNaN(x) && math.IsNaN(y) {
			continue
		}
		if x != y {
			return false
		}
	}
	return true
}

// Combine applies fn elementwise over two series of equal length.
func Combine(name string, a, b *Series, fn func(x, y float64) float64) (*Series, error) {
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("series length mismatch: %d vs %d", a.Len(), b.Len())
	}
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = fn(a.values[i], b.values[i])
	}
	return newRaw(name, out, false), nil
}

// CombineBool applies a predicate elementwise over two series of equal length.
func CombineBool(name string, a, b *Series, fn func(x, y float64) bool) (*Series, error) {
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("series length mismatch: %d vs %d", a.Len(), b.Len())
	}
	out := make([]float64, a.Len())
	for i := range out {
		if fn(a.values[i], b.values[i]) {
			out[i] = 1
		}
	}
	return newRaw(name, out, true), nil
}

// Map applies fn to every sample of the series.
func Map(name string, s *Series, fn func(x float64) float64) *Series {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = fn(s.values[i])
	}
	return newRaw(name, out, false)
}

// MapBool applies a predicate to every sample of the series.
func MapBool(name string, s *Series, fn func(x float64) bool) *Series {
	out := make([]float64, s.Len())
	for i := range out {
		if fn(s.values[i]) {
			out[i] = 1
		}
	}
	return newRaw(name, out, true)
}

// Scalar broadcasts value into a series of the requested length.
func Scalar(name string, value float64, length int) *Series {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return newRaw(name, out, false)
}

// Sum returns the sum of non-NaN samples.
func (s *Series) Sum() float64 {
	total := 0.0
	for _, v := range s.values {
		if !math.IsNaN(v) {
			total += v
		}
	}
	return total
}

// Min returns the smallest non-NaN sample, or NaN when none exist.
func (s *Series) Min() float64 {
	out := math.NaN()
	for _, v := range s.values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v < out {
			out = v
		}
	}
	return out
}

// Max returns the largest non-NaN sample, or NaN when none exist.
func (s *Series) Max() float64 {
	out := math.NaN()
	for _, v := range s.values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v > out {
			out = v
		}
	}
	return out
}
