package strategy

import (
	"math"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"
)

const (
	recentBars = 10
	kerPeriod  = 20

	asiaStartHour   = 19
	londonStartHour = 2
	londonEndHour   = 5
)

// Context is the per-instrument state shared by the policies of one
// instrument. It is owned by the goroutine driving that instrument's engine.
type Context struct {
	Instrument market.Instrument
	ATR        *ATR
	Levels     SessionLevels

	loc      *time.Location
	highs    []float64
	lows     []float64
	closes   []float64
	closeCap int
	ranges   map[string]*RangeState
	gates    map[string]*GateState

	swings  map[swingKey]*swingLevels
	volumes map[int]*SMA
	emas    map[int]*EMA
}

// NewContext creates policy state for one instrument. Session levels are kept
// in loc; a nil loc uses bar timestamps as-is.
func NewContext(inst market.Instrument, loc *time.Location, atrPeriod int) *Context {
	return &Context{
		Instrument: inst,
		ATR:        NewATR(atrPeriod),
		loc:        loc,
		closeCap:   kerPeriod + 1,
		ranges:     make(map[string]*RangeState),
		gates:      make(map[string]*GateState),
		swings:     make(map[swingKey]*swingLevels),
		volumes:    make(map[int]*SMA),
		emas:       make(map[int]*EMA),
	}
}

// NewContextFor creates the policy state for inst and lets every policy that
// needs extra indicators register them.
func NewContextFor(inst market.Instrument, loc *time.Location, atrPeriod int, policies []Policy) *Context {
	ctx := NewContext(inst, loc, atrPeriod)
	for _, p := range policies {
		if pr, ok := p.(Preparer); ok {
			pr.Prepare(ctx)
		}
	}
	return ctx
}

// Preparer is implemented by policies that read indicators the Context only
// keeps on request. Prepare runs once, before the first bar is observed.
type Preparer interface {
	Prepare(ctx *Context)
}

type swingKey struct{ left, right int }

type swingLevels struct {
	tracker *analysis.SwingTracker
	current engine.Levels
	before  engine.Levels
}

// TrackSwings keeps the last confirmed swing high and low for a lookback pair
// separate from the engine's own. Both lookbacks must be positive.
func (c *Context) TrackSwings(left, right int) {
	key := swingKey{left, right}
	if _, ok := c.swings[key]; !ok {
		c.swings[key] = &swingLevels{tracker: analysis.NewSwingTracker(left, right)}
	}
}

// Swings returns the levels of a tracked lookback pair confirmed strictly
// before the latest bar. ok is false when the pair is not tracked.
func (c *Context) Swings(left, right int) (levels engine.Levels, ok bool) {
	s, ok := c.swings[swingKey{left, right}]
	if !ok {
		return engine.Levels{}, false
	}
	return s.before, true
}

// TrackVolume keeps a simple moving average of volume over period bars.
func (c *Context) TrackVolume(period int) {
	if _, ok := c.volumes[period]; !ok {
		c.volumes[period] = NewSMA(period)
	}
}

// VolumeAverage returns the tracked volume average, current bar included.
func (c *Context) VolumeAverage(period int) (float64, bool) {
	s, ok := c.volumes[period]
	if !ok || !s.Ready() {
		return 0, false
	}
	return s.Value(), true
}

// TrackEMA keeps an exponential moving average of closes over period bars.
func (c *Context) TrackEMA(period int) {
	if _, ok := c.emas[period]; !ok {
		c.emas[period] = NewEMA(period)
	}
}

// EMA returns the tracked close average, current bar included.
func (c *Context) EMA(period int) (float64, bool) {
	e, ok := c.emas[period]
	if !ok || !e.Ready() {
		return 0, false
	}
	return e.Value(), true
}

// TrackHurst keeps enough closes to estimate the Hurst exponent over window.
func (c *Context) TrackHurst(window int) {
	if n := HurstHistory(window); n > c.closeCap {
		c.closeCap = n
	}
}

// Hurst returns the Hurst exponent of the last window closes, zero until
// enough closes have been kept.
func (c *Context) Hurst(window int) float64 {
	return CalculateHurst(c.closes, window)
}

// Observe updates indicators and session levels with the snapshot's bar. It
// runs before any policy evaluates the same snapshot.
func (c *Context) Observe(snap *engine.Snapshot) {
	bar := snap.Bar

	// Swing windows see every bar so a gap blocks confirmations across it.
	for _, s := range c.swings {
		s.before = s.current
		hi, lo := s.tracker.Push(bar.High, bar.Low)
		if hi != nil {
			s.current.SwingHigh, s.current.HasSwingHigh = hi.Price, true
		}
		if lo != nil {
			s.current.SwingLow, s.current.HasSwingLow = lo.Price, true
		}
	}

	if !bar.IsFinite() {
		return
	}

	c.ATR.Update(bar)
	c.highs = pushBounded(c.highs, bar.High, recentBars)
	c.lows = pushBounded(c.lows, bar.Low, recentBars)
	c.closes = pushBounded(c.closes, bar.Close, c.closeCap)
	for _, v := range c.volumes {
		v.Update(bar.Volume)
	}
	for _, e := range c.emas {
		e.Update(bar.Close)
	}
	c.Levels.update(c.Local(bar.Time), bar)
}

// Local converts t to the session timezone.
func (c *Context) Local(t time.Time) time.Time {
	if c.loc == nil {
		return t
	}
	return t.In(c.loc)
}

// RecentHigh returns the highest high of the last ten bars, current included.
func (c *Context) RecentHigh() float64 {
	hi := math.Inf(-1)
	for _, v := range c.highs {
		hi = math.Max(hi, v)
	}
	return hi
}

// RecentLow returns the lowest low of the last ten bars, current included.
func (c *Context) RecentLow() float64 {
	lo := math.Inf(1)
	for _, v := range c.lows {
		lo = math.Min(lo, v)
	}
	return lo
}

// Efficiency returns the Kaufman efficiency ratio of the last 20 closes.
func (c *Context) Efficiency() float64 {
	return CalculateKER(c.closes, kerPeriod)
}

// Range returns the range state registered under name, creating it on first use.
func (c *Context) Range(name string) *RangeState {
	r, ok := c.ranges[name]
	if !ok {
		r = &RangeState{}
		c.ranges[name] = r
	}
	return r
}

// Gate returns the gate state registered under name, creating it on first use.
func (c *Context) Gate(name string) *GateState {
	g, ok := c.gates[name]
	if !ok {
		g = &GateState{}
		c.gates[name] = g
	}
	return g
}

func pushBounded(s []float64, v float64, max int) []float64 {
	if len(s) == max {
		copy(s, s[1:])
		s[len(s)-1] = v
		return s
	}
	return append(s, v)
}

// dayKey identifies a local calendar day.
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// SessionLevels tracks the session liquidity levels: the Asia range
// (19:00-24:00 of the previous local day), the London range (02:00-05:00 of
// the current day, known from 05:00), the previous day's low and the lowest
// low since 05:00.
type SessionLevels struct {
	day int

	dayLow     float64
	hasDayLow  bool
	prevDayLow float64
	hasPrevDay bool

	asiaRunLow     float64
	asiaRunHigh    float64
	hasAsiaRunning bool
	asiaLow        float64
	asiaHigh       float64
	hasAsia        bool

	londonLow  float64
	londonHigh float64
	hasLondon  bool
	londonDone bool

	sessionMin    float64
	hasSessionMin bool
}

func (l *SessionLevels) update(local time.Time, bar market.Bar) {
	day := dayKey(local)
	if day != l.day {
		if l.day != 0 {
			l.prevDayLow, l.hasPrevDay = l.dayLow, l.hasDayLow
			l.asiaLow, l.asiaHigh, l.hasAsia = l.asiaRunLow, l.asiaRunHigh, l.hasAsiaRunning
		}
		l.day = day
		l.hasDayLow = false
		l.hasAsiaRunning = false
		l.hasLondon = false
		l.londonDone = false
		l.hasSessionMin = false
	}

	l.dayLow, l.hasDayLow = minOf(l.dayLow, l.hasDayLow, bar.Low)

	hour := local.Hour()
	switch {
	case hour >= asiaStartHour:
		l.asiaRunHigh, _ = maxOf(l.asiaRunHigh, l.hasAsiaRunning, bar.High)
		l.asiaRunLow, l.hasAsiaRunning = minOf(l.asiaRunLow, l.hasAsiaRunning, bar.Low)
	case hour >= londonStartHour && hour < londonEndHour:
		l.londonHigh, _ = maxOf(l.londonHigh, l.hasLondon, bar.High)
		l.londonLow, l.hasLondon = minOf(l.londonLow, l.hasLondon, bar.Low)
	}
	if hour >= londonEndHour {
		l.londonDone = true
		l.sessionMin, l.hasSessionMin = minOf(l.sessionMin, l.hasSessionMin, bar.Low)
	}
}

func minOf(cur float64, has bool, v float64) (float64, bool) {
	if !has || v < cur {
		return v, true
	}
	return cur, true
}

func maxOf(cur float64, has bool, v float64) (float64, bool) {
	if !has || v > cur {
		return v, true
	}
	return cur, true
}

// AsiaLow returns the previous evening's Asia session low.
func (l *SessionLevels) AsiaLow() (float64, bool) {
	return l.asiaLow, l.hasAsia
}

// AsiaHigh returns the previous evening's Asia session high.
func (l *SessionLevels) AsiaHigh() (float64, bool) {
	return l.asiaHigh, l.hasAsia
}

// LondonLow returns today's London low once the London window has closed.
func (l *SessionLevels) LondonLow() (float64, bool) {
	return l.londonLow, l.hasLondon && l.londonDone
}

// LondonHigh returns today's London high once the London window has closed.
func (l *SessionLevels) LondonHigh() (float64, bool) {
	return l.londonHigh, l.hasLondon && l.londonDone
}

// PrevDayLow returns the low of the previous local day.
func (l *SessionLevels) PrevDayLow() (float64, bool) {
	return l.prevDayLow, l.hasPrevDay
}

// SessionMinLow returns the lowest low since 05:00 today.
func (l *SessionLevels) SessionMinLow() (float64, bool) {
	return l.sessionMin, l.hasSessionMin
}

// RangeState is the daily state of one opening-range policy.
type RangeState struct {
	day        int
	High       float64
	Low        float64
	Formed     bool
	SweptHigh  bool
	SweptLow   bool
	TradeTaken bool
}

// roll resets the state when local falls on a new day.
func (r *RangeState) roll(local time.Time) {
	day := dayKey(local)
	if day == r.day {
		return
	}
	*r = RangeState{day: day}
}

func (r *RangeState) extend(bar market.Bar) {
	if !r.Formed {
		r.High, r.Low, r.Formed = bar.High, bar.Low, true
		return
	}
	r.High = math.Max(r.High, bar.High)
	r.Low = math.Min(r.Low, bar.Low)
}

// GateState remembers whether a condition-gated policy's gate was open on
// the previous bar and the last local day it fired.
type GateState struct {
	Open     bool
	FiredDay int
}
