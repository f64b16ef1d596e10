package analysis

// StructureShift is a one-bar break-of-structure event.
type StructureShift struct {
	Index       int       `json:"index"`
	Direction   Direction `json:"direction"`
	BrokenLevel float64   `json:"broken_level"`
}

// StructureTracker follows the most recent confirmed swing levels and reports
// when a close crosses through one of them.
//
// The level tested at bar T is the last swing confirmed at or before T-1. A
// bullish shift needs close[T] above the swing high while close[T-1] was at or
// below it, so holding above a level never fires twice. Bearish mirrors that
// against the swing low. When both conditions hold on one bar the bullish
// shift wins.
type StructureTracker struct {
	lastHigh  float64
	lastLow   float64
	hasHigh   bool
	hasLow    bool
	prevClose float64
	hasPrev   bool
}

// NewStructureTracker creates an empty tracker.
func NewStructureTracker() *StructureTracker {
	return &StructureTracker{}
}

// Update consumes one bar's close plus any swings confirmed at that bar.
func (t *StructureTracker) Update(index int, close float64, swingHigh, swingLow *SwingPoint) *StructureShift {
	var shift *StructureShift

	if t.hasPrev {
		switch {
		case t.hasHigh && close > t.lastHigh && t.prevClose <= t.lastHigh:
			shift = &StructureShift{Index: index, Direction: Bullish, BrokenLevel: t.lastHigh}
		case t.hasLow && close < t.lastLow && t.prevClose >= t.lastLow:
			shift = &StructureShift{Index: index, Direction: Bearish, BrokenLevel: t.lastLow}
		}
	}

	if swingHigh != nil {
		t.lastHigh = swingHigh.Price
		t.hasHigh = true
	}
	if swingLow != nil {
		t.lastLow = swingLow.Price
		t.hasLow = true
	}
	t.prevClose = close
	t.hasPrev = true

	return shift
}

// LastSwingHigh returns the forward-filled swing high level.
func (t *StructureTracker) LastSwingHigh() (float64, bool) {
	return t.lastHigh, t.hasHigh
}

// LastSwingLow returns the forward-filled swing low level.
func (t *StructureTracker) LastSwingLow() (float64, bool) {
	return t.lastLow, t.hasLow
}

// DetectStructureShifts runs a fresh tracker over a full close series using
// swings produced by DetectSwings.
func DetectStructureShifts(closes []float64, swings []SwingPoint) []StructureShift {
	highs := make(map[int]*SwingPoint)
	lows := make(map[int]*SwingPoint)
	for i := range swings {
		sp := swings[i]
		if sp.Kind == SwingHigh {
			highs[sp.ConfirmedAt] = &sp
		} else {
			lows[sp.ConfirmedAt] = &sp
		}
	}

	tracker := NewStructureTracker()
	var shifts []StructureShift
	for i, c := range closes {
		if shift := tracker.Update(i, c, highs[i], lows[i]); shift != nil {
			shifts = append(shifts, *shift)
		}
	}
	return shifts
}
