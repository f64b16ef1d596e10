package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testInst = market.Instrument{Symbol: "ESUSD", Timeframe: "5m"}
	newYork  = mustLoad("America/New_York")
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fakeMarker struct {
	marked []analysis.ZoneID
	err    error
}

func (f *fakeMarker) MarkTraded(id analysis.ZoneID) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, id)
	return nil
}

// ny builds a New York wall-clock time on 2024-03-04 (+day offset).
func ny(day, hour, minute int) time.Time {
	return time.Date(2024, 3, 4+day, hour, minute, 0, 0, newYork)
}

func snapAt(t time.Time, high, low, close float64) *engine.Snapshot {
	return &engine.Snapshot{
		Instrument: testInst,
		Bar:        market.Bar{Time: t, Open: close, High: high, Low: low, Close: close},
		Phase:      analysis.PhaseDistribution,
	}
}

// warmContext returns a context whose period-3 ATR is exactly 2 with last close 100.
func warmContext() *Context {
	ctx := NewContext(testInst, newYork, 3)
	for i := 0; i < 3; i++ {
		ctx.Observe(snapAt(ny(0, 9, i), 101, 99, 100))
	}
	return ctx
}

func TestInversionRetest_ShortFromBullishOrigin(t *testing.T) {
	ctx := warmContext()
	policy := NewInversionRetest(InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5, RequireDistribution: true})
	marker := &fakeMarker{}

	snap := snapAt(ny(0, 10, 0), 103, 98, 101)
	snap.Index = 42
	snap.TradableZones = []analysis.Zone{
		{ID: 7, Top: 105, Bottom: 100, Direction: analysis.Bullish, Status: analysis.ZoneInverted},
	}
	ctx.Observe(snap)
	require.InDelta(t, 3.0, ctx.ATR.Value(), 1e-9)

	sig := policy.Evaluate(ctx, snap, marker)

	require.NotNil(t, sig)
	assert.Equal(t, SignalSell, sig.Type)
	assert.Equal(t, "inversion_retest", sig.Policy)
	assert.Equal(t, analysis.ZoneID(7), sig.ZoneID)
	assert.Equal(t, 42, sig.Index)
	assert.Equal(t, 101.0, sig.EntryPrice)
	assert.InDelta(t, 108.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 87.0, sig.TakeProfit, 1e-9)
	assert.InDelta(t, 2.0, sig.Reward()/sig.Risk(), 1e-9)
	assert.Equal(t, snap.Bar.Time, sig.Timestamp)
	assert.Equal(t, []analysis.ZoneID{7}, marker.marked)
}

func TestInversionRetest_LongFromBearishOrigin(t *testing.T) {
	ctx := warmContext()
	policy := NewInversionRetest(InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5})
	marker := &fakeMarker{}

	snap := snapAt(ny(0, 10, 0), 102, 99, 99.5)
	snap.TradableZones = []analysis.Zone{
		{ID: 3, Top: 100, Bottom: 95, Direction: analysis.Bearish, Status: analysis.ZoneInverted},
	}
	ctx.Observe(snap)
	atr := ctx.ATR.Value()

	sig := policy.Evaluate(ctx, snap, marker)

	require.NotNil(t, sig)
	assert.Equal(t, SignalBuy, sig.Type)
	assert.InDelta(t, 95-atr, sig.StopLoss, 1e-9)
	assert.InDelta(t, 99.5+2*(99.5-(95-atr)), sig.TakeProfit, 1e-9)
	assert.Equal(t, []analysis.ZoneID{3}, marker.marked)
}

func TestInversionRetest_Filters(t *testing.T) {
	zone := analysis.Zone{ID: 7, Top: 105, Bottom: 100, Direction: analysis.Bullish, Status: analysis.ZoneInverted}

	tests := []struct {
		name   string
		cfg    InversionRetestConfig
		modify func(*engine.Snapshot)
		marker *fakeMarker
	}{
		{
			name:   "outside distribution",
			cfg:    InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5, RequireDistribution: true},
			modify: func(s *engine.Snapshot) { s.Phase = analysis.PhaseManipulation },
			marker: &fakeMarker{},
		},
		{
			name:   "risk too small",
			cfg:    InversionRetestConfig{RiskReward: 2, MinRiskATR: 5},
			modify: func(*engine.Snapshot) {},
			marker: &fakeMarker{},
		},
		{
			name:   "close in upper half",
			cfg:    InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5},
			modify: func(s *engine.Snapshot) { s.Bar.Close = 103 },
			marker: &fakeMarker{},
		},
		{
			name:   "no poke into zone",
			cfg:    InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5},
			modify: func(s *engine.Snapshot) { s.Bar.High, s.Bar.Close = 99.5, 99 },
			marker: &fakeMarker{},
		},
		{
			name:   "low efficiency",
			cfg:    InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5, MinEfficiency: 0.9},
			modify: func(*engine.Snapshot) {},
			marker: &fakeMarker{},
		},
		{
			name:   "zone already gone",
			cfg:    InversionRetestConfig{RiskReward: 2, MinRiskATR: 0.5},
			modify: func(*engine.Snapshot) {},
			marker: &fakeMarker{err: errors.New("zone not found")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := warmContext()
			snap := snapAt(ny(0, 10, 0), 103, 98, 101)
			snap.TradableZones = []analysis.Zone{zone}
			tt.modify(snap)
			ctx.Observe(snap)

			assert.Nil(t, NewInversionRetest(tt.cfg).Evaluate(ctx, snap, tt.marker))
			assert.Empty(t, tt.marker.marked)
		})
	}
}

func TestInversionRetest_WaitsForATR(t *testing.T) {
	ctx := NewContext(testInst, newYork, 14)
	snap := snapAt(ny(0, 10, 0), 103, 98, 101)
	snap.TradableZones = []analysis.Zone{{ID: 1, Top: 105, Bottom: 100, Direction: analysis.Bullish, Status: analysis.ZoneInverted}}
	ctx.Observe(snap)

	assert.Nil(t, NewInversionRetest(InversionRetestConfig{RiskReward: 2}).Evaluate(ctx, snap, &fakeMarker{}))
}

// rangeSweep builds a sweep with a 2/1 swing lookback and a context that
// tracks it.
func rangeSweep(cfg RangeSweepConfig) (*RangeSweep, *Context) {
	cfg.SwingLeft, cfg.SwingRight = 2, 1
	policy := NewRangeSweep(cfg)
	ctx := NewContextFor(testInst, newYork, 3, []Policy{policy})
	return policy, ctx
}

func TestRangeSweep_ShortAfterHighSweep(t *testing.T) {
	policy, ctx := rangeSweep(RangeSweepConfig{RangeHour: 8, CloseHour: 16, RiskReward: 2, StopLossPadding: 2})
	marker := &fakeMarker{}

	step := func(s *engine.Snapshot) *Signal {
		ctx.Observe(s)
		return policy.Evaluate(ctx, s, marker)
	}

	assert.Nil(t, step(snapAt(ny(0, 7, 55), 105, 95, 100)))
	assert.Nil(t, step(snapAt(ny(0, 8, 0), 110, 90, 100)))
	assert.Nil(t, step(snapAt(ny(0, 8, 30), 112, 80, 105)))

	state := ctx.Range(policy.Name())
	require.True(t, state.Formed)
	assert.Equal(t, 112.0, state.High)
	assert.Equal(t, 80.0, state.Low)

	// Sweep the high; the only swing low known so far is the range low.
	assert.Nil(t, step(snapAt(ny(0, 9, 0), 113, 108, 109)))
	assert.True(t, state.SweptHigh)
	assert.Nil(t, step(snapAt(ny(0, 9, 5), 112, 108, 110)))
	assert.Nil(t, step(snapAt(ny(0, 9, 10), 111, 107, 108)))
	// Confirms the 107 swing low; it only counts from the next bar.
	assert.Nil(t, step(snapAt(ny(0, 9, 15), 111, 108, 109)))

	levels, ok := ctx.Swings(2, 1)
	require.True(t, ok)
	assert.Equal(t, 80.0, levels.SwingLow)

	sig := step(snapAt(ny(0, 9, 20), 110, 105, 106))
	require.NotNil(t, sig)
	assert.Equal(t, SignalSell, sig.Type)
	assert.Equal(t, "range_sweep_08", sig.Policy)
	assert.Equal(t, 115.0, sig.StopLoss)
	assert.Equal(t, 80.0, sig.TakeProfit)
	assert.Contains(t, sig.Reason, "broke swing low 107.0000")
	assert.True(t, state.TradeTaken)

	// One trade per day.
	assert.Nil(t, step(snapAt(ny(0, 9, 25), 106, 100, 101)))

	// A new day starts clean.
	assert.Nil(t, step(snapAt(ny(1, 7, 0), 105, 95, 100)))
	state = ctx.Range(policy.Name())
	assert.False(t, state.Formed)
	assert.False(t, state.TradeTaken)
	assert.Empty(t, marker.marked)
}

func TestRangeSweep_LongAfterLowSweep(t *testing.T) {
	policy, ctx := rangeSweep(RangeSweepConfig{RangeHour: 10, CloseHour: 16, RiskReward: 2, StopLossPadding: 1})

	step := func(s *engine.Snapshot) *Signal {
		ctx.Observe(s)
		return policy.Evaluate(ctx, s, &fakeMarker{})
	}

	step(snapAt(ny(0, 10, 0), 130, 100, 110))
	assert.Nil(t, step(snapAt(ny(0, 11, 0), 104, 99, 101)))
	assert.Nil(t, step(snapAt(ny(0, 11, 5), 101, 100, 100.5)))
	assert.Nil(t, step(snapAt(ny(0, 11, 10), 101, 100, 100.5)))
	assert.Nil(t, step(snapAt(ny(0, 11, 15), 102, 100, 101)))
	// Confirms the 102 swing high.
	assert.Nil(t, step(snapAt(ny(0, 11, 20), 101.5, 100, 101)))

	sig := step(snapAt(ny(0, 11, 25), 104, 100, 103))

	require.NotNil(t, sig)
	assert.Equal(t, SignalBuy, sig.Type)
	assert.Equal(t, "range_sweep_10", sig.Policy)
	assert.Equal(t, 98.0, sig.StopLoss)
	assert.Equal(t, 130.0, sig.TakeProfit)
}

func TestRangeSweep_IgnoresEngineSwingLevels(t *testing.T) {
	policy := NewRangeSweep(RangeSweepConfig{RangeHour: 8, CloseHour: 16, RiskReward: 2, StopLossPadding: 2, SwingLeft: 10, SwingRight: 2})
	ctx := NewContextFor(testInst, newYork, 3, []Policy{policy})

	step := func(s *engine.Snapshot) *Signal {
		ctx.Observe(s)
		return policy.Evaluate(ctx, s, &fakeMarker{})
	}

	step(snapAt(ny(0, 8, 0), 112, 80, 100))
	step(snapAt(ny(0, 9, 0), 113, 108, 109))

	// The engine reports a swing low the 10/2 window has not confirmed.
	s := snapAt(ny(0, 9, 5), 110, 105, 106)
	s.Levels = engine.Levels{SwingLow: 107, HasSwingLow: true}
	assert.Nil(t, step(s))
	assert.False(t, ctx.Range(policy.Name()).TradeTaken)
}

func TestRangeSweep_NeedsTrackedSwings(t *testing.T) {
	policy := NewRangeSweep(RangeSweepConfig{RangeHour: 8, CloseHour: 16, RiskReward: 2, SwingLeft: 2, SwingRight: 1})
	ctx := NewContext(testInst, newYork, 3)

	s := snapAt(ny(0, 8, 0), 112, 80, 100)
	ctx.Observe(s)
	assert.Nil(t, policy.Evaluate(ctx, s, nil))
	assert.False(t, ctx.Range(policy.Name()).Formed)
}

func TestRangeSweep_IgnoresAfterClose(t *testing.T) {
	policy, ctx := rangeSweep(RangeSweepConfig{RangeHour: 8, CloseHour: 16, RiskReward: 2, StopLossPadding: 2})

	ctx.Observe(snapAt(ny(0, 8, 0), 112, 80, 100))
	policy.Evaluate(ctx, snapAt(ny(0, 8, 0), 112, 80, 100), nil)

	s := snapAt(ny(0, 16, 0), 113, 70, 75)
	ctx.Observe(s)
	assert.Nil(t, policy.Evaluate(ctx, s, nil))
	assert.False(t, ctx.Range(policy.Name()).SweptHigh)
}

func preMarketContext() *Context {
	ctx := NewContext(testInst, newYork, 3)
	for _, s := range []*engine.Snapshot{
		snapAt(ny(0, 10, 0), 100, 95, 99),   // day low -> PDL 95
		snapAt(ny(0, 19, 30), 101, 98, 100), // asia low 98
		snapAt(ny(1, 2, 30), 100, 97, 99),   // london low 97
	} {
		ctx.Observe(s)
	}
	return ctx
}

func TestPreMarketSweep_BuysReclaim(t *testing.T) {
	ctx := preMarketContext()
	policy := NewPreMarketSweep(PreMarketSweepConfig{RiskReward: 2, StopLossPadding: 1, EntryStartHour: 5, EntryEndHour: 8})
	marker := &fakeMarker{}

	sweep := snapAt(ny(1, 5, 0), 99, 96.5, 97.5)
	ctx.Observe(sweep)
	assert.Nil(t, policy.Evaluate(ctx, sweep, marker))

	asia, ok := ctx.Levels.AsiaLow()
	require.True(t, ok)
	assert.Equal(t, 98.0, asia)
	london, ok := ctx.Levels.LondonLow()
	require.True(t, ok)
	assert.Equal(t, 97.0, london)
	pdl, ok := ctx.Levels.PrevDayLow()
	require.True(t, ok)
	assert.Equal(t, 95.0, pdl)

	reclaim := snapAt(ny(1, 5, 5), 99.5, 98.6, 99)
	reclaim.TradableZones = []analysis.Zone{
		{ID: 4, Top: 110, Bottom: 108, Direction: analysis.Bullish, Status: analysis.ZoneInverted},
		{ID: 5, Top: 98.5, Bottom: 97, Direction: analysis.Bearish, Status: analysis.ZoneInverted},
	}
	ctx.Observe(reclaim)
	sig := policy.Evaluate(ctx, reclaim, marker)

	require.NotNil(t, sig)
	assert.Equal(t, SignalBuy, sig.Type)
	assert.Equal(t, analysis.ZoneID(5), sig.ZoneID)
	stop := 97 - ctx.ATR.Value()
	assert.InDelta(t, stop, sig.StopLoss, 1e-9)
	assert.InDelta(t, 99+2*(99-stop), sig.TakeProfit, 1e-9)
	assert.Contains(t, sig.Reason, "asia+london")
	assert.Equal(t, []analysis.ZoneID{5}, marker.marked)
}

func TestPreMarketSweep_SkipsZoneAbovePrice(t *testing.T) {
	ctx := preMarketContext()
	policy := NewPreMarketSweep(PreMarketSweepConfig{RiskReward: 2, StopLossPadding: 1, EntryStartHour: 5, EntryEndHour: 8})
	marker := &fakeMarker{}

	sweep := snapAt(ny(1, 5, 0), 99, 96.5, 97.5)
	ctx.Observe(sweep)
	policy.Evaluate(ctx, sweep, marker)

	reclaim := snapAt(ny(1, 5, 5), 99.5, 98.6, 99)
	reclaim.TradableZones = []analysis.Zone{
		// Its stop would sit above the entry.
		{ID: 6, Top: 112, Bottom: 110, Direction: analysis.Bearish, Status: analysis.ZoneInverted},
		{ID: 5, Top: 98.5, Bottom: 97, Direction: analysis.Bearish, Status: analysis.ZoneInverted},
	}
	ctx.Observe(reclaim)
	sig := policy.Evaluate(ctx, reclaim, marker)

	require.NotNil(t, sig)
	assert.Equal(t, analysis.ZoneID(5), sig.ZoneID)
	assert.Equal(t, []analysis.ZoneID{5}, marker.marked)
}

func TestPreMarketSweep_Gates(t *testing.T) {
	policy := NewPreMarketSweep(PreMarketSweepConfig{RiskReward: 2, StopLossPadding: 1, EntryStartHour: 5, EntryEndHour: 8})
	zones := []analysis.Zone{{ID: 5, Top: 98.5, Bottom: 97, Direction: analysis.Bearish, Status: analysis.ZoneInverted}}

	t.Run("outside window", func(t *testing.T) {
		ctx := preMarketContext()
		s := snapAt(ny(1, 8, 0), 99.5, 96, 99)
		s.TradableZones = zones
		ctx.Observe(s)
		assert.Nil(t, policy.Evaluate(ctx, s, &fakeMarker{}))
	})

	t.Run("no sweep", func(t *testing.T) {
		ctx := preMarketContext()
		s := snapAt(ny(1, 5, 0), 99.5, 98.2, 99)
		s.TradableZones = zones
		ctx.Observe(s)
		assert.Nil(t, policy.Evaluate(ctx, s, &fakeMarker{}))
	})

	t.Run("no reclaim", func(t *testing.T) {
		ctx := preMarketContext()
		s := snapAt(ny(1, 5, 0), 98, 96, 97.8)
		s.TradableZones = zones
		ctx.Observe(s)
		assert.Nil(t, policy.Evaluate(ctx, s, &fakeMarker{}))
	})
}

func TestContext_RecentExtremesAreBounded(t *testing.T) {
	ctx := NewContext(testInst, nil, 3)
	for i := 0; i < 25; i++ {
		price := float64(100 + i)
		ctx.Observe(snapAt(ny(0, 9, i), price+1, price-1, price))
	}
	assert.Equal(t, 125.0, ctx.RecentHigh())
	assert.Equal(t, 114.0, ctx.RecentLow())
	assert.InDelta(t, 1.0, ctx.Efficiency(), 1e-9)
}

func TestDefaultConfigPolicies(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 14, cfg.ATRPeriod)
	require.NotNil(t, cfg.InversionRetest)
	assert.True(t, cfg.InversionRetest.RequireDistribution)
	assert.Equal(t, 2.0, cfg.InversionRetest.RiskReward)
	assert.Equal(t, 10, cfg.RangeSweeps[1].RangeHour)
	assert.Equal(t, 16, cfg.RangeSweeps[1].CloseHour)
	assert.Equal(t, [2]int{10, 2}, [2]int{cfg.RangeSweeps[0].SwingLeft, cfg.RangeSweeps[0].SwingRight})
	assert.Equal(t, [2]int{5, 5}, [2]int{cfg.RangeSweeps[1].SwingLeft, cfg.RangeSweeps[1].SwingRight})
	assert.Equal(t, 5, cfg.PreMarketSweep.EntryStartHour)
	assert.Nil(t, cfg.SessionBreakout)
	assert.Nil(t, cfg.FractalMomentum)

	var names []string
	for _, p := range cfg.Policies() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"inversion_retest", "range_sweep_08", "range_sweep_10", "premarket_sweep"}, names)

	breakout := DefaultSessionBreakout()
	assert.Equal(t, []int{9, 10, 12, 14}, breakout.EntryHours)
	assert.Equal(t, []time.Weekday{time.Thursday, time.Friday}, breakout.Weekdays)
	assert.Equal(t, 1.2, breakout.StopMult)
	momentum := DefaultFractalMomentum()
	assert.Equal(t, 100, momentum.HurstWindow)
	assert.Equal(t, 0.6, momentum.HurstThreshold)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero atr period", func(c *Config) { c.ATRPeriod = 0 }, false},
		{"range after close", func(c *Config) { c.RangeSweeps[0].RangeHour = 16 }, false},
		{"duplicate range hour", func(c *Config) { c.RangeSweeps[1].RangeHour = 8 }, false},
		{"empty pre-market window", func(c *Config) { c.PreMarketSweep.EntryEndHour = 5 }, false},
		{"efficiency above one", func(c *Config) { c.InversionRetest.MinEfficiency = 1.5 }, false},
		{"zero swing lookback", func(c *Config) { c.RangeSweeps[0].SwingRight = 0 }, false},
		{"optional sections", func(c *Config) {
			c.SessionBreakout = DefaultSessionBreakout()
			c.FractalMomentum = DefaultFractalMomentum()
		}, true},
		{"breakout hour out of range", func(c *Config) {
			c.SessionBreakout = DefaultSessionBreakout()
			c.SessionBreakout.EntryHours = []int{25}
		}, false},
		{"breakout without weekdays", func(c *Config) {
			c.SessionBreakout = DefaultSessionBreakout()
			c.SessionBreakout.Weekdays = nil
		}, false},
		{"short hurst window", func(c *Config) {
			c.FractalMomentum = DefaultFractalMomentum()
			c.FractalMomentum.HurstWindow = 10
		}, false},
		{"disabled sections", func(c *Config) {
			c.InversionRetest = nil
			c.PreMarketSweep = nil
			c.RangeSweeps = nil
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConfigFillDefaults(t *testing.T) {
	cfg := Config{RangeSweeps: []RangeSweepConfig{{RangeHour: 9}}}
	cfg.FillDefaults()

	assert.Equal(t, 14, cfg.ATRPeriod)
	assert.Nil(t, cfg.InversionRetest)
	assert.Nil(t, cfg.PreMarketSweep)
	require.Len(t, cfg.RangeSweeps, 1)
	assert.Equal(t, 9, cfg.RangeSweeps[0].RangeHour)
	assert.Equal(t, 16, cfg.RangeSweeps[0].CloseHour)
	assert.Equal(t, 2.0, cfg.RangeSweeps[0].RiskReward)
	assert.Equal(t, 10, cfg.RangeSweeps[0].SwingLeft)
	assert.Equal(t, 2, cfg.RangeSweeps[0].SwingRight)
}

func breakoutConfig() SessionBreakoutConfig {
	cfg := *DefaultSessionBreakout()
	cfg.VolumeLength = 3
	return cfg
}

// breakoutContext records Wednesday evening's Asia range (1002/998) and
// Thursday's London range (1003/999) with a period-3 ATR.
func breakoutContext(policy *SessionBreakout) *Context {
	ctx := NewContextFor(testInst, newYork, 3, []Policy{policy})
	for _, s := range []*engine.Snapshot{
		snapAt(ny(2, 19, 30), 1002, 998, 1000),
		snapAt(ny(3, 2, 30), 1003, 999, 1001),
		snapAt(ny(3, 5, 0), 1002, 1000, 1001),
	} {
		s.Bar.Volume = 100
		ctx.Observe(s)
	}
	return ctx
}

func withVolume(s *engine.Snapshot, v float64) *engine.Snapshot {
	s.Bar.Volume = v
	return s
}

func TestSessionBreakout_BuysAboveOvernightHigh(t *testing.T) {
	policy := NewSessionBreakout(breakoutConfig())
	ctx := breakoutContext(policy)

	asiaHigh, ok := ctx.Levels.AsiaHigh()
	require.True(t, ok)
	assert.Equal(t, 1002.0, asiaHigh)
	londonHigh, ok := ctx.Levels.LondonHigh()
	require.True(t, ok)
	assert.Equal(t, 1003.0, londonHigh)

	s := withVolume(snapAt(ny(3, 9, 0), 1006, 1002, 1005), 300)
	ctx.Observe(s)
	sig := policy.Evaluate(ctx, s, &fakeMarker{})

	require.NotNil(t, sig)
	atr := ctx.ATR.Value()
	assert.Equal(t, SignalBuy, sig.Type)
	assert.Equal(t, "session_breakout", sig.Policy)
	assert.Zero(t, sig.ZoneID)
	assert.InDelta(t, 1005-1.2*atr, sig.StopLoss, 1e-9)
	assert.InDelta(t, 1005+8*atr, sig.TakeProfit, 1e-9)
	assert.Contains(t, sig.Reason, "1003.0000")

	// One signal per day.
	s = withVolume(snapAt(ny(3, 10, 0), 1008, 1004, 1007), 900)
	ctx.Observe(s)
	assert.Nil(t, policy.Evaluate(ctx, s, &fakeMarker{}))
}

func TestSessionBreakout_SellsBelowOvernightLow(t *testing.T) {
	policy := NewSessionBreakout(breakoutConfig())
	ctx := breakoutContext(policy)

	s := withVolume(snapAt(ny(3, 9, 0), 1000, 994, 995), 300)
	ctx.Observe(s)
	sig := policy.Evaluate(ctx, s, &fakeMarker{})

	require.NotNil(t, sig)
	atr := ctx.ATR.Value()
	assert.Equal(t, SignalSell, sig.Type)
	assert.InDelta(t, 995+1.2*atr, sig.StopLoss, 1e-9)
	assert.InDelta(t, 995-8*atr, sig.TakeProfit, 1e-9)
	assert.Contains(t, sig.Reason, "998.0000")
}

func TestSessionBreakout_Gates(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(*SessionBreakoutConfig)
		snap   *engine.Snapshot
		volume float64
	}{
		{"off hour", nil, snapAt(ny(3, 11, 0), 1006, 1002, 1005), 300},
		{"off weekday", func(c *SessionBreakoutConfig) { c.Weekdays = []time.Weekday{time.Friday} }, snapAt(ny(3, 9, 0), 1006, 1002, 1005), 300},
		{"quiet volume", nil, snapAt(ny(3, 9, 0), 1006, 1002, 1005), 100},
		{"atr too wide", func(c *SessionBreakoutConfig) { c.MaxATRPct = 0.001 }, snapAt(ny(3, 9, 0), 1006, 1002, 1005), 300},
		{"inside range", nil, snapAt(ny(3, 9, 0), 1002, 1000, 1001), 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := breakoutConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			policy := NewSessionBreakout(cfg)
			ctx := breakoutContext(policy)

			s := withVolume(tt.snap, tt.volume)
			ctx.Observe(s)
			assert.Nil(t, policy.Evaluate(ctx, s, &fakeMarker{}))
		})
	}
}

func momentumConfig() FractalMomentumConfig {
	cfg := *DefaultFractalMomentum()
	cfg.HurstWindow = 51
	cfg.VolumeLength = 5
	cfg.EMAPeriod = 10
	return cfg
}

// momentumContext feeds n bars closing at price(i) on flat volume.
func momentumContext(policy *FractalMomentum, n int, price func(i int) float64) *Context {
	ctx := NewContextFor(testInst, newYork, 3, []Policy{policy})
	for i := 0; i < n; i++ {
		c := price(i)
		ctx.Observe(withVolume(snapAt(ny(0, 0, 0).Add(time.Duration(i)*time.Minute), c+1, c-1, c), 100))
	}
	return ctx
}

func TestFractalMomentum_FiresWhenGateOpens(t *testing.T) {
	policy := NewFractalMomentum(momentumConfig())
	price := func(i int) float64 { return 1000 + float64(i*i) }
	ctx := momentumContext(policy, 70, price)

	step := func(i int, volume float64) *Signal {
		c := price(i)
		s := withVolume(snapAt(ny(0, 0, 0).Add(time.Duration(i)*time.Minute), c+1, c-1, c), volume)
		ctx.Observe(s)
		return policy.Evaluate(ctx, s, &fakeMarker{})
	}

	assert.Nil(t, step(70, 100), "volume not above average")

	sig := step(71, 500)
	require.NotNil(t, sig)
	atr := ctx.ATR.Value()
	assert.Equal(t, SignalBuy, sig.Type)
	assert.Equal(t, "fractal_momentum", sig.Policy)
	assert.InDelta(t, price(71)-2*atr, sig.StopLoss, 1e-9)
	assert.Zero(t, sig.TakeProfit)
	assert.InDelta(t, 3*atr, sig.TrailDistance, 1e-9)
	assert.InDelta(t, 1.0, ctx.Hurst(51), 1e-6)

	assert.Nil(t, step(72, 600), "gate still open")
	assert.Nil(t, step(73, 100), "gate closes")
	assert.NotNil(t, step(74, 1000), "gate reopens")
}

func TestFractalMomentum_Direction(t *testing.T) {
	tests := []struct {
		name  string
		price func(i int) float64
		want  SignalType
	}{
		{"accelerating up", func(i int) float64 { return 1000 + float64(i*i) }, SignalBuy},
		{"accelerating down", func(i int) float64 { return 10000 - float64(i*i) }, SignalSell},
		{"choppy", func(i int) float64 { return 1000 + float64(i%3) }, SignalNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := NewFractalMomentum(momentumConfig())
			ctx := momentumContext(policy, 70, tt.price)

			c := tt.price(70)
			s := withVolume(snapAt(ny(0, 1, 10), c+1, c-1, c), 500)
			ctx.Observe(s)
			sig := policy.Evaluate(ctx, s, &fakeMarker{})

			if tt.want == SignalNone {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			assert.Equal(t, tt.want, sig.Type)
			assert.Equal(t, tt.want == SignalSell, sig.StopLoss > sig.EntryPrice)
		})
	}
}

func TestContext_TrackedSwingsSkipNonFiniteWindows(t *testing.T) {
	ctx := NewContext(testInst, nil, 3)
	ctx.TrackSwings(1, 1)

	ctx.Observe(snapAt(ny(0, 9, 0), 101, 99, 100))
	ctx.Observe(snapAt(ny(0, 9, 1), 105, 95, 100))
	ctx.Observe(snapAt(ny(0, 9, 2), math.NaN(), math.NaN(), 100))
	ctx.Observe(snapAt(ny(0, 9, 3), 102, 98, 100))

	levels, ok := ctx.Swings(1, 1)
	require.True(t, ok)
	assert.False(t, levels.HasSwingHigh)
	assert.False(t, levels.HasSwingLow)

	_, ok = ctx.Swings(2, 2)
	assert.False(t, ok)
}
