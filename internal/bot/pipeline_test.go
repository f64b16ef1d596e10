package bot

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

var (
	testInst  = market.Instrument{Symbol: "ESUSD", Timeframe: "1m"}
	testStart = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
)

func bar(i int, high, low, c float64) market.Bar {
	return market.Bar{
		Time:  testStart.Add(time.Duration(i) * time.Minute),
		Open:  (high + low) / 2,
		High:  high,
		Low:   low,
		Close: c,
	}
}

func randomBars(n int, seed int64) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]market.Bar, n)
	price := 100.0
	for i := range bars {
		price += rng.NormFloat64()
		spread := 0.5 + rng.Float64()*2
		bars[i] = bar(i, price+spread, price-spread, price+rng.NormFloat64()*spread/2)
	}
	return bars
}

// inversionBars create a bullish zone [101, 105] on bar 2 and invert it on bar 3.
func inversionBars() []market.Bar {
	return []market.Bar{
		bar(0, 101, 99, 100),
		bar(1, 104, 100, 103),
		bar(2, 108, 105, 107),
		bar(3, 106, 98, 99),
	}
}

// consumePolicy sells the first tradable zone it sees.
type consumePolicy struct {
	name  string
	calls int
}

func (p *consumePolicy) Name() string {
	if p.name == "" {
		return "consume"
	}
	return p.name
}

func (p *consumePolicy) Evaluate(_ *strategy.Context, snap *engine.Snapshot, zones strategy.ZoneMarker) *strategy.Signal {
	p.calls++
	if len(snap.TradableZones) == 0 {
		return nil
	}
	z := snap.TradableZones[0]
	if err := zones.MarkTraded(z.ID); err != nil {
		return nil
	}
	return &strategy.Signal{
		Type:      strategy.SignalSell,
		Symbol:    snap.Instrument.Symbol,
		Timeframe: snap.Instrument.Timeframe,
		Policy:    p.Name(),
		ZoneID:    z.ID,
		Index:     snap.Index,
		Timestamp: snap.Bar.Time,
	}
}

func newBarePipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(testInst, engine.DefaultConfig(), strategy.Config{ATRPeriod: 14})
	require.NoError(t, err)
	return p
}

func withPolicy(p *Pipeline, pol strategy.Policy) {
	p.policies = append(p.policies, pol)
	p.enabled[pol.Name()] = true
}

func TestNewPipeline_InvalidConfig(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.SwingLeft = 0
	_, err := NewPipeline(testInst, cfg, strategy.DefaultConfig())
	assert.ErrorIs(t, err, engine.ErrInvalidConfig)
}

func TestPipeline_MatchesEngineReplay(t *testing.T) {
	bars := randomBars(300, 11)

	eng, err := engine.New(testInst, engine.DefaultConfig())
	require.NoError(t, err)
	want, err := eng.Replay(bars)
	require.NoError(t, err)

	p := newBarePipeline(t)
	i := 0
	require.NoError(t, p.Run(bars, func(snap *engine.Snapshot, signals []strategy.Signal) {
		assert.Empty(t, signals)
		assert.Equal(t, want[i].Index, snap.Index)
		assert.Equal(t, want[i].ZoneEvents, snap.ZoneEvents)
		assert.Equal(t, want[i].Shift, snap.Shift)
		assert.Equal(t, want[i].TradableZones, snap.TradableZones)
		i++
	}, nil))
	assert.Equal(t, len(bars), i)
}

func TestPipeline_ConsumedZoneLeavesTradable(t *testing.T) {
	p := newBarePipeline(t)
	pol := &consumePolicy{}
	withPolicy(p, pol)

	var last *engine.Snapshot
	var got []strategy.Signal
	require.NoError(t, p.Run(inversionBars(), func(snap *engine.Snapshot, signals []strategy.Signal) {
		last = snap
		got = append(got, signals...)
	}, nil))

	assert.Equal(t, 4, pol.calls)
	require.Len(t, got, 1)
	assert.Equal(t, analysis.ZoneID(1), got[0].ZoneID)
	assert.Equal(t, 3, got[0].Index)
	assert.Empty(t, last.TradableZones)

	z, ok := p.Engine().Zone(1)
	require.True(t, ok)
	assert.True(t, z.Traded)
	assert.Equal(t, analysis.ZoneInverted, z.Status)
}

func TestPipeline_ZoneConsumedOncePerBar(t *testing.T) {
	p := newBarePipeline(t)
	first := &consumePolicy{name: "first"}
	second := &consumePolicy{name: "second"}
	withPolicy(p, first)
	withPolicy(p, second)

	var got []strategy.Signal
	require.NoError(t, p.Run(inversionBars(), func(_ *engine.Snapshot, signals []strategy.Signal) {
		got = append(got, signals...)
	}, nil))

	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Policy)
	assert.Equal(t, analysis.ZoneID(1), got[0].ZoneID)
	assert.Equal(t, 4, second.calls)
}

func TestPipeline_SetEnabled(t *testing.T) {
	p := newBarePipeline(t)
	pol := &consumePolicy{}
	withPolicy(p, pol)

	require.NoError(t, p.SetEnabled("consume", false))
	assert.Equal(t, []PolicyInfo{{Name: "consume", Enabled: false}}, p.Policies())

	require.NoError(t, p.Run(inversionBars(), nil, nil))
	assert.Zero(t, pol.calls)
	assert.Len(t, p.Engine().TradableZones(), 1)

	assert.ErrorIs(t, p.SetEnabled("missing", true), ErrUnknownPolicy)
}

func TestPipeline_RejectsOutOfOrder(t *testing.T) {
	p := newBarePipeline(t)
	_, _, err := p.Step(bar(5, 101, 99, 100))
	require.NoError(t, err)

	snap, signals, err := p.Step(bar(5, 101, 99, 100))
	assert.Nil(t, snap)
	assert.Nil(t, signals)
	var orderErr *engine.DataOrderError
	assert.True(t, errors.As(err, &orderErr))
}

func TestPipeline_RunSkipsOutOfOrder(t *testing.T) {
	bars := []market.Bar{
		bar(0, 101, 99, 100),
		bar(1, 102, 100, 101),
		bar(1, 103, 101, 102),
		bar(0, 103, 101, 102),
		bar(2, 104, 102, 103),
	}

	t.Run("stops without skip", func(t *testing.T) {
		p := newBarePipeline(t)
		var orderErr *engine.DataOrderError
		assert.True(t, errors.As(p.Run(bars, nil, nil), &orderErr))
		assert.Equal(t, 2, p.Engine().Index())
	})

	t.Run("skips and continues", func(t *testing.T) {
		p := newBarePipeline(t)
		var indexes []int
		var skipped []time.Time
		require.NoError(t, p.Run(bars,
			func(snap *engine.Snapshot, _ []strategy.Signal) { indexes = append(indexes, snap.Index) },
			func(err *engine.DataOrderError) { skipped = append(skipped, err.Got) },
		))
		assert.Equal(t, []int{0, 1, 2}, indexes)
		assert.Equal(t, []time.Time{bars[2].Time, bars[3].Time}, skipped)
	})
}

func TestPipeline_DefaultPolicies(t *testing.T) {
	p, err := NewPipeline(testInst, engine.DefaultConfig(), strategy.DefaultConfig())
	require.NoError(t, err)
	names := make([]string, 0)
	for _, info := range p.Policies() {
		assert.True(t, info.Enabled)
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"inversion_retest", "range_sweep_08", "range_sweep_10", "premarket_sweep"}, names)

	// Every signal is stamped with the bar that produced it.
	require.NoError(t, p.Run(randomBars(500, 3), func(snap *engine.Snapshot, signals []strategy.Signal) {
		for _, sig := range signals {
			assert.Equal(t, snap.Index, sig.Index)
			assert.Equal(t, snap.Bar.Time, sig.Timestamp)
		}
	}, nil))
}

func TestPipeline_PreparesOptionalPolicies(t *testing.T) {
	cfg := strategy.DefaultConfig()
	cfg.SessionBreakout = strategy.DefaultSessionBreakout()
	cfg.FractalMomentum = strategy.DefaultFractalMomentum()

	p, err := NewPipeline(testInst, engine.DefaultConfig(), cfg)
	require.NoError(t, err)
	require.Len(t, p.Policies(), 6)

	bars := randomBars(120, 5)
	for i := range bars {
		bars[i].Volume = 1000
	}
	require.NoError(t, p.Run(bars, nil, nil))

	ctx := p.Context()
	vol, ok := ctx.VolumeAverage(20)
	require.True(t, ok)
	assert.Equal(t, 1000.0, vol)
	_, ok = ctx.EMA(50)
	assert.True(t, ok)
	_, ok = ctx.Swings(10, 2)
	assert.True(t, ok)
	_, ok = ctx.Swings(5, 5)
	assert.True(t, ok)
	assert.NotZero(t, ctx.Hurst(100))
}
