package strategy

import (
	"fmt"

	"smc-engine/internal/engine"
)

// FractalMomentumConfig configures the persistence-gated momentum policy
type FractalMomentumConfig struct {
	HurstWindow     int     `json:"hurst_window" default:"100" validate:"min=50,max=300"`
	HurstThreshold  float64 `json:"hurst_threshold" default:"0.6" validate:"gte=0,lte=1"`
	EfficiencyMin   float64 `json:"efficiency_min" default:"0.4" validate:"gte=0,lte=1"`
	VolumeLength    int     `json:"volume_length" default:"50" validate:"gt=0"`
	EMAPeriod       int     `json:"ema_period" default:"50" validate:"gt=0"`
	StopLossATR     float64 `json:"stop_loss_atr" default:"2" validate:"gt=0"`
	TrailingStopATR float64 `json:"trailing_stop_atr" default:"3" validate:"gt=0"`
}

// FractalMomentum enters with the trend when price is persistent and moving
// efficiently: the Hurst exponent is above its threshold, the efficiency ratio
// is above its minimum and volume beats its average. Direction follows the
// close against the EMA. It fires when the gate opens, not on every bar it
// stays open. The signal has no fixed target; TrailDistance tells the
// executor how far to trail the stop.
type FractalMomentum struct {
	cfg FractalMomentumConfig
}

func NewFractalMomentum(cfg FractalMomentumConfig) *FractalMomentum {
	return &FractalMomentum{cfg: cfg}
}

func (p *FractalMomentum) Name() string {
	return "fractal_momentum"
}

func (p *FractalMomentum) Prepare(ctx *Context) {
	ctx.TrackHurst(p.cfg.HurstWindow)
	ctx.TrackVolume(p.cfg.VolumeLength)
	ctx.TrackEMA(p.cfg.EMAPeriod)
}

func (p *FractalMomentum) Evaluate(ctx *Context, snap *engine.Snapshot, _ ZoneMarker) *Signal {
	if snap.Warning != nil {
		return nil
	}

	gate := ctx.Gate(p.Name())
	wasOpen := gate.Open
	gate.Open = false

	if !ctx.ATR.Ready() {
		return nil
	}
	ema, ok := ctx.EMA(p.cfg.EMAPeriod)
	if !ok {
		return nil
	}
	avgVolume, ok := ctx.VolumeAverage(p.cfg.VolumeLength)
	if !ok {
		return nil
	}

	hurst := ctx.Hurst(p.cfg.HurstWindow)
	efficiency := ctx.Efficiency()
	bar := snap.Bar
	if hurst <= p.cfg.HurstThreshold || efficiency <= p.cfg.EfficiencyMin || bar.Volume <= avgVolume {
		return nil
	}

	price := bar.Close
	if price == ema {
		return nil
	}
	gate.Open = true
	if wasOpen {
		return nil
	}

	atr := ctx.ATR.Value()
	reason := fmt.Sprintf("hurst %.2f, efficiency %.2f, close vs ema %.4f", hurst, efficiency, ema)

	var sig *Signal
	if price > ema {
		sig = newSignal(p, snap, SignalBuy, price, price-atr*p.cfg.StopLossATR, 0, reason)
	} else {
		sig = newSignal(p, snap, SignalSell, price, price+atr*p.cfg.StopLossATR, 0, reason)
	}
	sig.TrailDistance = atr * p.cfg.TrailingStopATR
	return sig
}
