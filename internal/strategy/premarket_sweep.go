package strategy

import (
	"fmt"
	"math"
	"strings"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
)

// PreMarketSweepConfig configures the pre-market liquidity sweep policy
type PreMarketSweepConfig struct {
	RiskReward      float64 `json:"risk_reward" default:"2" validate:"gt=0"`
	StopLossPadding float64 `json:"stop_loss_padding" default:"1" validate:"gte=0"` // ATR multiples
	EntryStartHour  int     `json:"entry_start_hour" default:"5" validate:"min=0,max=23"`
	EntryEndHour    int     `json:"entry_end_hour" default:"8" validate:"min=1,max=24"`
}

// PreMarketSweep buys a bearish zone that has flipped to support during the
// pre-market window, but only after price has swept at least one of the Asia
// low, London low or previous day low and then closed back above the highest
// level it swept.
type PreMarketSweep struct {
	cfg PreMarketSweepConfig
}

func NewPreMarketSweep(cfg PreMarketSweepConfig) *PreMarketSweep {
	return &PreMarketSweep{cfg: cfg}
}

func (p *PreMarketSweep) Name() string {
	return "premarket_sweep"
}

func (p *PreMarketSweep) Evaluate(ctx *Context, snap *engine.Snapshot, zones ZoneMarker) *Signal {
	if snap.Warning != nil || !ctx.ATR.Ready() {
		return nil
	}

	hour := ctx.Local(snap.Bar.Time).Hour()
	if hour < p.cfg.EntryStartHour || hour >= p.cfg.EntryEndHour {
		return nil
	}

	sessionLow, ok := ctx.Levels.SessionMinLow()
	if !ok {
		return nil
	}

	var swept []string
	highest := math.Inf(-1)
	check := func(name string, level float64, ok bool) {
		if ok && sessionLow < level {
			swept = append(swept, name)
			highest = math.Max(highest, level)
		}
	}
	asia, ok := ctx.Levels.AsiaLow()
	check("asia", asia, ok)
	london, ok := ctx.Levels.LondonLow()
	check("london", london, ok)
	pdl, ok := ctx.Levels.PrevDayLow()
	check("pdl", pdl, ok)

	if len(swept) == 0 {
		return nil
	}

	price := snap.Bar.Close
	if price <= highest {
		return nil
	}

	for _, z := range snap.TradableZones {
		if z.Direction != analysis.Bearish {
			continue
		}

		stop := z.Bottom - ctx.ATR.Value()*p.cfg.StopLossPadding
		risk := price - stop
		if risk <= 0 {
			continue
		}
		if err := zones.MarkTraded(z.ID); err != nil {
			return nil
		}

		sig := newSignal(p, snap, SignalBuy, price, stop, price+risk*p.cfg.RiskReward,
			fmt.Sprintf("swept %s, reclaimed %.4f on zone %d", strings.Join(swept, "+"), highest, z.ID))
		sig.ZoneID = z.ID
		return sig
	}
	return nil
}
