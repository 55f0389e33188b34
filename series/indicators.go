package series

import (
	"fmt"
	"math"
)

// The indicator stdlib exposed to DSL scripts. Every function returns a new
// series of the same length as its input, with NaN over the warmup window.

func checkPeriod(fn string, s *Series, period int) error {
	if s == nil {
		return fmt.Errorf("%s: series required", fn)
	}
	if period <= 0 {
		return fmt.Errorf("%s: period must be positive, got %d", fn, period)
	}
	return nil
}

// SMA computes the simple moving average over the trailing window.
func SMA(s *Series, period int) (*Series, error) {
	if err := checkPeriod("sma", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	sum := 0.0
	for i := 0; i < s.Len(); i++ {
		sum += s.values[i]
		if i >= period {
			sum -= s.values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return newRaw(fmt.Sprintf("sma_%d", period), out, false), nil
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first window.
func EMA(s *Series, period int) (*Series, error) {
	if err := checkPeriod("ema", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	alpha := 2.0 / (float64(period) + 1.0)
	seed := 0.0
	for i := 0; i < s.Len(); i++ {
		if i < period-1 {
			seed += s.values[i]
			out[i] = math.NaN()
			continue
		}
		if i == period-1 {
			seed += s.values[i]
			out[i] = seed / float64(period)
			continue
		}
		out[i] = alpha*s.values[i] + (1-alpha)*out[i-1]
	}
	return newRaw(fmt.Sprintf("ema_%d", period), out, false), nil
}

// WMA computes the linearly weighted moving average.
func WMA(s *Series, period int) (*Series, error) {
	if err := checkPeriod("wma", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	denom := float64(period*(period+1)) / 2.0
	for i := 0; i < s.Len(); i++ {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		acc := 0.0
		for j := 0; j < period; j++ {
			acc += s.values[i-j] * float64(period-j)
		}
		out[i] = acc / denom
	}
	return newRaw(fmt.Sprintf("wma_%d", period), out, false), nil
}

// RSI computes the relative strength index with Wilder smoothing.
func RSI(s *Series, period int) (*Series, error) {
	if err := checkPeriod("rsi", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	var avgGain, avgLoss float64
	for i := 0; i < s.Len(); i++ {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		delta := s.values[i] - s.values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i <= period {
			avgGain += gain
			avgLoss += loss
			if i < period {
				out[i] = math.NaN()
				continue
			}
			avgGain /= float64(period)
			avgLoss /= float64(period)
		} else {
			avgGain = (avgGain*float64(period-1) + gain) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		}
		if avgLoss == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return newRaw(fmt.Sprintf("rsi_%d", period), out, false), nil
}

// ATR computes the average true range with Wilder smoothing.
func ATR(high, low, closeSeries *Series, period int) (*Series, error) {
	if err := checkPeriod("atr", closeSeries, period); err != nil {
		return nil, err
	}
	if high == nil || low == nil {
		return nil, fmt.Errorf("atr: high and low series required")
	}
	if high.Len() != closeSeries.Len() || low.Len() != closeSeries.Len() {
		return nil, fmt.Errorf("atr: series length mismatch")
	}
	n := closeSeries.Len()
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high.values[i] - low.values[i]
		if i == 0 {
			tr[i] = hl
			continue
		}
		hc := math.Abs(high.values[i] - closeSeries.values[i-1])
		lc := math.Abs(low.values[i] - closeSeries.values[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	out := make([]float64, n)
	acc := 0.0
	for i := 0; i < n; i++ {
		if i < period-1 {
			acc += tr[i]
			out[i] = math.NaN()
			continue
		}
		if i == period-1 {
			acc += tr[i]
			out[i] = acc / float64(period)
			continue
		}
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return newRaw(fmt.Sprintf("atr_%d", period), out, false), nil
}

// Stdev computes the trailing sample standard deviation.
func Stdev(s *Series, period int) (*Series, error) {
	if err := checkPeriod("stdev", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	for i := 0; i < s.Len(); i++ {
		if i < period-1 || period < 2 {
			out[i] = math.NaN()
			continue
		}
		mean := 0.0
		for j := 0; j < period; j++ {
			mean += s.values[i-j]
		}
		mean /= float64(period)
		acc := 0.0
		for j := 0; j < period; j++ {
			d := s.values[i-j] - mean
			acc += d * d
		}
		out[i] = math.Sqrt(acc / float64(period-1))
	}
	return newRaw(fmt.Sprintf("stdev_%d", period), out, false), nil
}

// Bollinger computes Bollinger bands, returning a frame with bb_middle,
// bb_upper, and bb_lower columns.
func Bollinger(s *Series, period int, width float64) (*Frame, error) {
	if err := checkPeriod("bbands", s, period); err != nil {
		return nil, err
	}
	if width <= 0 {
		width = 2
	}
	middle, err := SMA(s, period)
	if err != nil {
		return nil, err
	}
	dev, err := Stdev(s, period)
	if err != nil {
		return nil, err
	}
	upper, err := Combine("bb_upper", middle, dev, func(m, d float64) float64 { return m + width*d })
	if err != nil {
		return nil, err
	}
	lower, err := Combine("bb_lower", middle, dev, func(m, d float64) float64 { return m - width*d })
	if err != nil {
		return nil, err
	}
	return FromColumns(middle.Rename("bb_middle"), upper, lower)
}

// Crossover returns a boolean series that is true exactly where a crosses
// above b: a[i] > b[i] with a[i-1] <= b[i-1].
func Crossover(a, b *Series) (*Series, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("crossover: two series required")
	}
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("crossover: series length mismatch: %d vs %d", a.Len(), b.Len())
	}
	out := make([]float64, a.Len())
	for i := 1; i < a.Len(); i++ {
		cur := a.values[i] > b.values[i]
		prev := a.values[i-1] <= b.values[i-1]
		if cur && prev && !anyNaN(a.values[i], b.values[i], a.values[i-1], b.values[i-1]) {
			out[i] = 1
		}
	}
	return newRaw("crossover", out, true), nil
}

// Crossunder returns a boolean series that is true exactly where a crosses
// below b.
func Crossunder(a, b *Series) (*Series, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("crossunder: two series required")
	}
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("crossunder: series length mismatch: %d vs %d", a.Len(), b.Len())
	}
	out := make([]float64, a.Len())
	for i := 1; i < a.Len(); i++ {
		cur := a.values[i] < b.values[i]
		prev := a.values[i-1] >= b.values[i-1]
		if cur && prev && !anyNaN(a.values[i], b.values[i], a.values[i-1], b.values[i-1]) {
			out[i] = 1
		}
	}
	return newRaw("crossunder", out, true), nil
}

// Highest returns the trailing window maximum.
func Highest(s *Series, period int) (*Series, error) {
	if err := checkPeriod("highest", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	for i := 0; i < s.Len(); i++ {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		best := s.values[i]
		for j := 1; j < period; j++ {
			if s.values[i-j] > best {
				best = s.values[i-j]
			}
		}
		out[i] = best
	}
	return newRaw(fmt.Sprintf("highest_%d", period), out, false), nil
}

// Lowest returns the trailing window minimum.
func Lowest(s *Series, period int) (*Series, error) {
	if err := checkPeriod("lowest", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	for i := 0; i < s.Len(); i++ {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		best := s.values[i]
		for j := 1; j < period; j++ {
			if s.values[i-j] < best {
				best = s.values[i-j]
			}
		}
		out[i] = best
	}
	return newRaw(fmt.Sprintf("lowest_%d", period), out, false), nil
}

// Change returns the absolute difference against the sample n rows back.
func Change(s *Series, period int) (*Series, error) {
	if err := checkPeriod("change", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	for i := 0; i < s.Len(); i++ {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		out[i] = s.values[i] - s.values[i-period]
	}
	return newRaw(fmt.Sprintf("change_%d", period), out, false), nil
}

// PctChange returns the fractional change against the sample n rows back.
func PctChange(s *Series, period int) (*Series, error) {
	if err := checkPeriod("pct_change", s, period); err != nil {
		return nil, err
	}
	out := make([]float64, s.Len())
	for i := 0; i < s.Len(); i++ {
		if i < period || s.values[i-period] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (s.values[i] - s.values[i-period]) / s.values[i-period]
	}
	return newRaw(fmt.Sprintf("pct_change_%d", period), out, false), nil
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
