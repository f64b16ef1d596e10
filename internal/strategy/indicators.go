package strategy

import (
	"math"

	"smc-engine/internal/market"
)

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// TrueRange returns the true range of cur given the previous close. Without a
// previous close it is the bar's own range.
func TrueRange(cur market.Bar, prevClose float64, hasPrev bool) float64 {
	if !hasPrev {
		return cur.High - cur.Low
	}
	return math.Max(
		cur.High-cur.Low,
		math.Max(
			math.Abs(cur.High-prevClose),
			math.Abs(cur.Low-prevClose),
		),
	)
}

// CalculateATR calculates Average True Range as the simple mean of the last
// period true ranges
func CalculateATR(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trSum := 0.0
	startIdx := len(bars) - period

	for i := startIdx; i < len(bars); i++ {
		trSum += TrueRange(bars[i], bars[i-1].Close, true)
	}

	return trSum / float64(period)
}

// ATR is an incremental Wilder-smoothed average true range. The first value
// is the mean of the first period true ranges; later values use
// atr = (atr*(period-1) + tr) / period. Bars with non-finite prices are
// ignored.
type ATR struct {
	period    int
	value     float64
	seedSum   float64
	count     int
	prevClose float64
	hasPrev   bool
}

// NewATR creates a tracker for the given period.
func NewATR(period int) *ATR {
	if period <= 0 {
		period = 14
	}
	return &ATR{period: period}
}

// Update feeds one bar and returns the current value.
func (a *ATR) Update(bar market.Bar) float64 {
	if !bar.IsFinite() {
		return a.value
	}

	tr := TrueRange(bar, a.prevClose, a.hasPrev)
	a.prevClose = bar.Close
	a.hasPrev = true
	a.count++

	if a.count <= a.period {
		a.seedSum += tr
		if a.count == a.period {
			a.value = a.seedSum / float64(a.period)
		}
		return a.value
	}

	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return a.value
}

// Value returns the latest ATR, zero until Ready.
func (a *ATR) Value() float64 {
	return a.value
}

// Ready reports whether period bars have been seen.
func (a *ATR) Ready() bool {
	return a.count >= a.period
}

// Period returns the smoothing period.
func (a *ATR) Period() int {
	return a.period
}

// ============================================================================
// EFFICIENCY RATIO
// ============================================================================

// CalculateKER calculates the Kaufman efficiency ratio over the last period
// closes: net change divided by the sum of absolute bar-to-bar changes.
// Returns 0 when there is not enough data or price did not move.
func CalculateKER(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 0
	}

	n := len(closes)
	direction := math.Abs(closes[n-1] - closes[n-1-period])

	volatility := 0.0
	for i := n - period; i < n; i++ {
		volatility += math.Abs(closes[i] - closes[i-1])
	}
	if volatility == 0 {
		return 0
	}

	return direction / volatility
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA is a simple moving average over the last period values.
type SMA struct {
	period int
	values []float64
	next   int
	count  int
	sum    float64
}

// NewSMA creates an average for the given period.
func NewSMA(period int) *SMA {
	if period <= 0 {
		period = 20
	}
	return &SMA{period: period, values: make([]float64, period)}
}

// Update feeds one value and returns the current average. Non-finite values
// are ignored.
func (s *SMA) Update(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return s.Value()
	}
	s.sum += v - s.values[s.next]
	s.values[s.next] = v
	s.next = (s.next + 1) % s.period
	if s.count < s.period {
		s.count++
	}
	return s.Value()
}

// Value returns the average, zero until Ready.
func (s *SMA) Value() float64 {
	if !s.Ready() {
		return 0
	}
	return s.sum / float64(s.period)
}

// Ready reports whether period values have been seen.
func (s *SMA) Ready() bool {
	return s.count >= s.period
}

// EMA is an exponential moving average seeded with the simple mean of the
// first period values, then ema = ema + (v-ema)*2/(period+1).
type EMA struct {
	period  int
	alpha   float64
	value   float64
	seedSum float64
	count   int
}

// NewEMA creates an average for the given period.
func NewEMA(period int) *EMA {
	if period <= 0 {
		period = 50
	}
	return &EMA{period: period, alpha: 2 / float64(period+1)}
}

// Update feeds one value and returns the current average. Non-finite values
// are ignored.
func (e *EMA) Update(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return e.value
	}
	e.count++
	if e.count <= e.period {
		e.seedSum += v
		if e.count == e.period {
			e.value = e.seedSum / float64(e.period)
		}
		return e.value
	}
	e.value += (v - e.value) * e.alpha
	return e.value
}

// Value returns the average, zero until Ready.
func (e *EMA) Value() float64 {
	return e.value
}

// Ready reports whether period values have been seen.
func (e *EMA) Ready() bool {
	return e.count >= e.period
}

// ============================================================================
// HURST EXPONENT
// ============================================================================

var hurstLags = []int{2, 4, 8, 16}

// HurstHistory is the number of closes CalculateHurst needs for a window.
func HurstHistory(window int) int {
	return window + hurstLags[len(hurstLags)-1]
}

// CalculateHurst estimates the Hurst exponent of the last closes. For each lag
// in 2, 4, 8 and 16 it takes the sample variance of the lagged differences over
// the last window bars; the exponent is half the least-squares slope of
// log(variance) against log(lag). Values above 0.5 indicate trending price.
// Returns 0 when there is not enough data or price did not move.
func CalculateHurst(closes []float64, window int) float64 {
	if window < 2 || len(closes) < HurstHistory(window) {
		return 0
	}

	n := len(closes)
	xs := make([]float64, len(hurstLags))
	ys := make([]float64, len(hurstLags))
	for i, lag := range hurstLags {
		mean := 0.0
		for t := n - window; t < n; t++ {
			mean += closes[t] - closes[t-lag]
		}
		mean /= float64(window)

		variance := 0.0
		for t := n - window; t < n; t++ {
			d := closes[t] - closes[t-lag] - mean
			variance += d * d
		}
		variance /= float64(window - 1)
		if variance <= 0 {
			return 0
		}

		xs[i] = math.Log(float64(lag))
		ys[i] = math.Log(variance)
	}

	var meanX, meanY, meanXY, meanXX float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
		meanXY += xs[i] * ys[i]
		meanXX += xs[i] * xs[i]
	}
	k := float64(len(xs))
	meanX, meanY, meanXY, meanXX = meanX/k, meanY/k, meanXY/k, meanXX/k

	slope := (meanXY - meanX*meanY) / (meanXX - meanX*meanX)
	return slope / 2
}
