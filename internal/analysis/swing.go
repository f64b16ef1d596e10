package analysis

// SwingKind distinguishes swing highs from swing lows.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a confirmed local extreme. ConfirmedAt is the bar at which the
// swing became known; CandleIndex is the bar that printed the extreme.
type SwingPoint struct {
	ConfirmedAt int       `json:"confirmed_at"`
	CandleIndex int       `json:"candle_index"`
	Price       float64   `json:"price"`
	Kind        SwingKind `json:"kind"`
}

// DetectSwings scans a full high/low history and returns every confirmed swing
// in confirmation order (a high before a low on the same bar).
//
// At bar i the candidate is bar i-right. It is a swing high when its high
// equals the maximum high of bars [i-left-right, i], and a swing low when its
// low equals the minimum low of the same window. Equality is exact, so a flat
// top of several equal highs can confirm more than one swing.
func DetectSwings(highs, lows []float64, left, right int) []SwingPoint {
	if left <= 0 || right <= 0 {
		return nil
	}

	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	window := left + right + 1

	var swings []SwingPoint
	for i := window - 1; i < n; i++ {
		candidate := i - right
		start := i - window + 1

		if hi, ok := windowMax(highs[start : i+1]); ok && highs[candidate] == hi {
			swings = append(swings, SwingPoint{
				ConfirmedAt: i,
				CandleIndex: candidate,
				Price:       highs[candidate],
				Kind:        SwingHigh,
			})
		}
		if lo, ok := windowMin(lows[start : i+1]); ok && lows[candidate] == lo {
			swings = append(swings, SwingPoint{
				ConfirmedAt: i,
				CandleIndex: candidate,
				Price:       lows[candidate],
				Kind:        SwingLow,
			})
		}
	}

	return swings
}

// SwingTracker is the incremental form of DetectSwings. It keeps only the last
// left+right+1 bars and produces the same confirmations when fed one bar at a
// time.
type SwingTracker struct {
	left   int
	right  int
	window int
	highs  []float64
	lows   []float64
	count  int
}

// NewSwingTracker creates a tracker for the given lookbacks. Callers validate
// that both are positive.
func NewSwingTracker(left, right int) *SwingTracker {
	window := left + right + 1
	return &SwingTracker{
		left:   left,
		right:  right,
		window: window,
		highs:  make([]float64, window),
		lows:   make([]float64, window),
	}
}

// Push appends one bar and returns the swings confirmed at that bar, if any.
func (t *SwingTracker) Push(high, low float64) (swingHigh, swingLow *SwingPoint) {
	index := t.count
	t.highs[index%t.window] = high
	t.lows[index%t.window] = low
	t.count++

	if t.count < t.window {
		return nil, nil
	}

	candidate := index - t.right
	slot := candidate % t.window

	if hi, ok := windowMax(t.highs); ok && t.highs[slot] == hi {
		swingHigh = &SwingPoint{
			ConfirmedAt: index,
			CandleIndex: candidate,
			Price:       t.highs[slot],
			Kind:        SwingHigh,
		}
	}
	if lo, ok := windowMin(t.lows); ok && t.lows[slot] == lo {
		swingLow = &SwingPoint{
			ConfirmedAt: index,
			CandleIndex: candidate,
			Price:       t.lows[slot],
			Kind:        SwingLow,
		}
	}

	return swingHigh, swingLow
}

// Ready reports whether enough bars have been seen to confirm a swing.
func (t *SwingTracker) Ready() bool {
	return t.count >= t.window
}

// windowMax returns the maximum of values; ok is false when any value is not
// finite, in which case no swing can be confirmed from the window.
func windowMax(values []float64) (float64, bool) {
	max := values[0]
	for _, v := range values {
		if !isFinite(v) {
			return 0, false
		}
		if v > max {
			max = v
		}
	}
	return max, true
}

func windowMin(values []float64) (float64, bool) {
	min := values[0]
	for _, v := range values {
		if !isFinite(v) {
			return 0, false
		}
		if v < min {
			min = v
		}
	}
	return min, true
}
