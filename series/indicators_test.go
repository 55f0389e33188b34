package series

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	s := New("close", []float64{1, 2, 3, 4, 5})
	out, err := SMA(s, 3)
	if err != nil {
		t.Fatalf("SMA: %v", err)
	}
	if !math.IsNaN(out.At(0)) || !math.IsNaN(out.At(1)) {
		t.Fatalf("expected NaN warmup, got %v", out.Values())
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if got := out.At(i + 2); math.Abs(got-w) > 1e-9 {
			t.Fatalf("index %d: expected %v, got %v", i+2, w, got)
		}
	}
}

func TestSMAInvalidPeriod(t *testing.T) {
	if _, err := SMA(New("x", []float64{1}), 0); err == nil {
		t.Fatalf("expected error for period 0")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	s := New("close", []float64{2, 4, 6, 8})
	out, err := EMA(s, 2)
	if err != nil {
		t.Fatalf("EMA: %v", err)
	}
	if !math.IsNaN(out.At(0)) {
		t.Fatalf("expected NaN warmup")
	}
	if math.Abs(out.At(1)-3) > 1e-9 {
		t.Fatalf("seed should be SMA(2)=3, got %v", out.At(1))
	}
	// alpha = 2/3: 6*2/3 + 3*1/3 = 5
	if math.Abs(out.At(2)-5) > 1e-9 {
		t.Fatalf("expected 5, got %v", out.At(2))
	}
}

func TestRSIAllGains(t *testing.T) {
	s := New("close", []float64{1, 2, 3, 4, 5, 6})
	out, err := RSI(s, 3)
	if err != nil {
		t.Fatalf("RSI: %v", err)
	}
	if out.At(5) != 100 {
		t.Fatalf("monotonic gains should pin RSI at 100, got %v", out.At(5))
	}
}

func TestCrossoverDetectsUpwardCross(t *testing.T) {
	fast := New("fast", []float64{1, 2, 4, 5, 3})
	slow := New("slow", []float64{3, 3, 3, 3, 3})
	out, err := Crossover(fast, slow)
	if err != nil {
		t.Fatalf("Crossover: %v", err)
	}
	if out.Len() != 5 {
		t.Fatalf("length mismatch: %d", out.Len())
	}
	want := []bool{false, false, true, false, false}
	for i, w := range want {
		if out.BoolAt(i) != w {
			t.Fatalf("index %d: expected %v, mask %v", i, w, out.Values())
		}
	}
}

func TestCrossunderDetectsDownwardCross(t *testing.T) {
	fast := New("fast", []float64{5, 4, 2, 1, 4})
	slow := New("slow", []float64{3, 3, 3, 3, 3})
	out, err := Crossunder(fast, slow)
	if err != nil {
		t.Fatalf("Crossunder: %v", err)
	}
	want := []bool{false, false, true, false, false}
	for i, w := range want {
		if out.BoolAt(i) != w {
			t.Fatalf("index %d: expected %v, mask %v", i, w, out.Values())
		}
	}
}

func TestHighestLowest(t *testing.T) {
	s := New("close", []float64{1, 5, 2, 7, 3})
	hi, err := Highest(s, 2)
	if err != nil {
		t.Fatalf("Highest: %v", err)
	}
	lo, err := Lowest(s, 2)
	if err != nil {
		t.Fatalf("Lowest: %v", err)
	}
	if hi.At(3) != 7 || hi.At(4) != 7 {
		t.Fatalf("unexpected highest: %v", hi.Values())
	}
	if lo.At(2) != 2 || lo.At(4) != 3 {
		t.Fatalf("unexpected lowest: %v", lo.Values())
	}
}

func TestBollingerShape(t *testing.T) {
	s := New("close", []float64{1, 2, 3, 4, 5, 6, 7, 8})
	f, err := Bollinger(s, 3, 2)
	if err != nil {
		t.Fatalf("Bollinger: %v", err)
	}
	for _, col := range []string{"bb_middle", "bb_upper", "bb_lower"} {
		c, ok := f.Column(col)
		if !ok {
			t.Fatalf("missing column %s", col)
		}
		if c.Len() != s.Len() {
			t.Fatalf("column %s length %d", col, c.Len())
		}
	}
	upper, _ := f.Column("bb_upper")
	lower, _ := f.Column("bb_lower")
	mid, _ := f.Column("bb_middle")
	i := 5
	if !(upper.At(i) > mid.At(i) && mid.At(i) > lower.At(i)) {
		t.Fatalf("band ordering violated at %d: %v %v %v", i, upper.At(i), mid.At(i), lower.At(i))
	}
}

func TestChangeAndPctChange(t *testing.T) {
	s := New("close", []float64{10, 12, 9})
	ch, err := Change(s, 1)
	if err != nil {
		t.Fatalf("Change: %v", err)
	}
	if ch.At(1) != 2 || ch.At(2) != -3 {
		t.Fatalf("unexpected change: %v", ch.Values())
	}
	pct, err := PctChange(s, 1)
	if err != nil {
		t.Fatalf("PctChange: %v", err)
	}
	if math.Abs(pct.At(1)-0.2) > 1e-9 {
		t.Fatalf("unexpected pct change: %v", pct.At(1))
	}
}

func TestStdevWindow(t *testing.T) {
	s := New("close", []float64{2, 4, 4, 4, 5, 5, 7, 9})
	out, err := Stdev(s, 8)
	if err != nil {
		t.Fatalf("Stdev: %v", err)
	}
	// Sample stddev of the full window.
	if math.Abs(out.At(7)-2.13808993) > 1e-6 {
		t.Fatalf("unexpected stdev: %v", out.At(7))
	}
}
