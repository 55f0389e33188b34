package series

import (
	"math"
	"testing"
)

func TestShiftForward(t *testing.T) {
	s := New("close", []float64{1, 2, 3, 4})
	shifted := s.Shift(1)
	if !math.IsNaN(shifted.At(0)) {
		t.Fatalf("expected NaN at index 0, got %v", shifted.At(0))
	}
	for i := 1; i < 4; i++ {
		if shifted.At(i) != float64(i) {
			t.Fatalf("index %d: expected %d, got %v", i, i, shifted.At(i))
		}
	}
}

func TestShiftBackward(t *testing.T) {
	s := New("close", []float64{1, 2, 3})
	shifted := s.Shift(-1)
	if shifted.At(0) != 2 || shifted.At(1) != 3 {
		t.Fatalf("unexpected backward shift: %v", shifted.Values())
	}
	if !math.IsNaN(shifted.At(2)) {
		t.Fatalf("expected NaN tail, got %v", shifted.At(2))
	}
}

func TestCombineLengthMismatch(t *testing.T) {
	a := New("a", []float64{1, 2})
	b := New("b", []float64{1})
	if _, err := Combine("out", a, b, func(x, y float64) float64 { return x + y }); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}

func TestCombineBoolProducesMask(t *testing.T) {
	a := New("a", []float64{1, 5, 3})
	b := New("b", []float64{2, 2, 2})
	mask, err := CombineBool("gt", a, b, func(x, y float64) bool { return x > y })
	if err != nil {
		t.Fatalf("CombineBool: %v", err)
	}
	if !mask.IsBoolean() {
		t.Fatalf("expected boolean series")
	}
	want := []bool{false, true, true}
	for i, w := range want {
		if mask.BoolAt(i) != w {
			t.Fatalf("index %d: expected %v", i, w)
		}
	}
}

func TestEqualTreatsNaNAsEqual(t *testing.T) {
	a := New("a", []float64{1, math.NaN()})
	b := New("b", []float64{1, math.NaN()})
	if !Equal(a, b) {
		t.Fatalf("NaN samples should compare equal")
	}
	c := New("c", []float64{1, 2})
	if Equal(a, c) {
		t.Fatalf("distinct samples should not compare equal")
	}
}

func TestFrameColumnConsistency(t *testing.T) {
	f := NewFrame()
	if err := f.AddColumn("close", New("close", []float64{1, 2, 3})); err != nil {
		t.Fatalf("AddColumn: %v", err)
	}
	if err := f.AddColumn("volume", New("volume", []float64{1, 2})); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if err := f.AddColumn("close", New("close", []float64{4, 5, 6})); err == nil {
		t.Fatalf("expected duplicate column error")
	}
	if f.Len() != 3 {
		t.Fatalf("expected length 3, got %d", f.Len())
	}
	names := f.Names()
	if len(names) != 1 || names[0] != "close" {
		t.Fatalf("unexpected names: %v", names)
	}
}
