package strategy

import (
	"fmt"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
)

// InversionRetestConfig configures the inverted-zone retest policy
type InversionRetestConfig struct {
	RiskReward          float64 `json:"risk_reward" default:"2" validate:"gt=0"`
	MinRiskATR          float64 `json:"min_risk_atr" default:"0.5" validate:"gte=0"`
	RequireDistribution bool    `json:"require_distribution" default:"true"`
	MinEfficiency       float64 `json:"min_efficiency" validate:"gte=0,lte=1"`
}

// InversionRetest trades a wick back into an inverted zone. A bullish gap that
// has flipped to resistance is sold when price pokes into it and closes in its
// lower half; a bearish gap flipped to support is bought on the mirror
// rejection. The stop sits one ATR beyond the zone.
type InversionRetest struct {
	cfg InversionRetestConfig
}

func NewInversionRetest(cfg InversionRetestConfig) *InversionRetest {
	return &InversionRetest{cfg: cfg}
}

func (p *InversionRetest) Name() string {
	return "inversion_retest"
}

func (p *InversionRetest) Evaluate(ctx *Context, snap *engine.Snapshot, zones ZoneMarker) *Signal {
	if snap.Warning != nil || len(snap.TradableZones) == 0 || !ctx.ATR.Ready() {
		return nil
	}
	if p.cfg.RequireDistribution && snap.Phase != analysis.PhaseDistribution {
		return nil
	}
	if p.cfg.MinEfficiency > 0 && ctx.Efficiency() < p.cfg.MinEfficiency {
		return nil
	}

	bar := snap.Bar
	atr := ctx.ATR.Value()

	for _, z := range snap.TradableZones {
		switch z.Direction {
		case analysis.Bullish:
			if bar.High > z.Bottom && bar.Close < z.Top && bar.Close < z.Mid() {
				return p.enter(snap, zones, z, analysis.Bearish, atr)
			}
		case analysis.Bearish:
			if bar.Low < z.Top && bar.Close > z.Bottom && bar.Close > z.Mid() {
				return p.enter(snap, zones, z, analysis.Bullish, atr)
			}
		}
	}
	return nil
}

// enter builds the order for the first qualifying zone. A setup whose risk is
// under MinRiskATR ATRs ends the bar without a signal and leaves the zone
// tradable.
func (p *InversionRetest) enter(snap *engine.Snapshot, zones ZoneMarker, z analysis.Zone, side analysis.Direction, atr float64) *Signal {
	entry := snap.Bar.Close

	var sig *Signal
	if side == analysis.Bearish {
		stop := z.Top + atr
		risk := stop - entry
		if risk < atr*p.cfg.MinRiskATR {
			return nil
		}
		sig = newSignal(p, snap, SignalSell, entry, stop, entry-risk*p.cfg.RiskReward,
			fmt.Sprintf("rejected inverted bullish zone %d [%.4f, %.4f]", z.ID, z.Bottom, z.Top))
	} else {
		stop := z.Bottom - atr
		risk := entry - stop
		if risk < atr*p.cfg.MinRiskATR {
			return nil
		}
		sig = newSignal(p, snap, SignalBuy, entry, stop, entry+risk*p.cfg.RiskReward,
			fmt.Sprintf("held inverted bearish zone %d [%.4f, %.4f]", z.ID, z.Bottom, z.Top))
	}

	if err := zones.MarkTraded(z.ID); err != nil {
		return nil
	}
	sig.ZoneID = z.ID
	return sig
}
