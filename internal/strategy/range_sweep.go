package strategy

import (
	"fmt"

	"smc-engine/internal/engine"
)

// RangeSweepConfig configures an opening-range sweep policy
type RangeSweepConfig struct {
	RangeHour       int     `json:"range_hour" default:"8" validate:"min=0,max=22"`
	CloseHour       int     `json:"close_hour" default:"16" validate:"min=1,max=24"`
	RiskReward      float64 `json:"risk_reward" default:"2" validate:"gt=0"`
	StopLossPadding float64 `json:"stop_loss_padding" default:"2" validate:"gte=0"`
	SwingLeft       int     `json:"swing_left" default:"10" validate:"gt=0"`
	SwingRight      int     `json:"swing_right" default:"2" validate:"gt=0"`
}

// RangeSweep marks the high and low of one local hour each day. After the
// hour closes it waits for price to run one side of the range, then enters
// the other way once a close breaks the last confirmed swing, targeting the
// opposite end of the range. Swings use the policy's own lookbacks, not the
// engine's. At most one trade per day.
type RangeSweep struct {
	cfg RangeSweepConfig
}

func NewRangeSweep(cfg RangeSweepConfig) *RangeSweep {
	return &RangeSweep{cfg: cfg}
}

func (p *RangeSweep) Name() string {
	return fmt.Sprintf("range_sweep_%02d", p.cfg.RangeHour)
}

func (p *RangeSweep) Prepare(ctx *Context) {
	ctx.TrackSwings(p.cfg.SwingLeft, p.cfg.SwingRight)
}

func (p *RangeSweep) Evaluate(ctx *Context, snap *engine.Snapshot, _ ZoneMarker) *Signal {
	if snap.Warning != nil {
		return nil
	}
	levels, ok := ctx.Swings(p.cfg.SwingLeft, p.cfg.SwingRight)
	if !ok {
		return nil
	}

	bar := snap.Bar
	local := ctx.Local(bar.Time)
	hour := local.Hour()

	state := ctx.Range(p.Name())
	state.roll(local)

	if hour == p.cfg.RangeHour {
		state.extend(bar)
		return nil
	}
	if hour < p.cfg.RangeHour || hour >= p.cfg.CloseHour || !state.Formed {
		return nil
	}

	if bar.High > state.High {
		state.SweptHigh = true
	}
	if bar.Low < state.Low {
		state.SweptLow = true
	}
	if state.TradeTaken {
		return nil
	}

	price := bar.Close
	switch {
	case state.SweptHigh:
		if !levels.HasSwingLow || price >= levels.SwingLow {
			return nil
		}
		stop := ctx.RecentHigh() + p.cfg.StopLossPadding
		target := state.Low
		risk := stop - price
		reward := price - target
		if risk <= 0 || reward/risk < p.cfg.RiskReward {
			return nil
		}
		state.TradeTaken = true
		return newSignal(p, snap, SignalSell, price, stop, target,
			fmt.Sprintf("swept range high %.4f, broke swing low %.4f", state.High, levels.SwingLow))

	case state.SweptLow:
		if !levels.HasSwingHigh || price <= levels.SwingHigh {
			return nil
		}
		stop := ctx.RecentLow() - p.cfg.StopLossPadding
		target := state.High
		risk := price - stop
		reward := target - price
		if risk <= 0 || reward/risk < p.cfg.RiskReward {
			return nil
		}
		state.TradeTaken = true
		return newSignal(p, snap, SignalBuy, price, stop, target,
			fmt.Sprintf("swept range low %.4f, broke swing high %.4f", state.Low, levels.SwingHigh))
	}

	return nil
}
