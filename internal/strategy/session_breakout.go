package strategy

import (
	"fmt"
	"math"
	"time"

	"smc-engine/internal/engine"
)

// SessionBreakoutConfig configures the Asia/London breakout policy
type SessionBreakoutConfig struct {
	StopMult     float64        `json:"stop_mult" default:"1.2" validate:"gt=0"`    // ATR multiples
	TargetMult   float64        `json:"target_mult" default:"8" validate:"gt=0"`    // ATR multiples
	VolumeLength int            `json:"volume_length" default:"20" validate:"gt=0"` // volume SMA bars
	MaxATRPct    float64        `json:"max_atr_pct" default:"0.02" validate:"gt=0"` // skip when ATR exceeds this share of price
	EntryHours   []int          `json:"entry_hours" default:"[9,10,12,14]" validate:"min=1,dive,min=0,max=23"`
	Weekdays     []time.Weekday `json:"weekdays" default:"[4,5]" validate:"min=1,dive,min=0,max=6"`
}

// SessionBreakout trades a close beyond the overnight range. The trigger
// levels are the higher of the Asia and London highs and the lower of their
// lows. Entries need above-average volume, one of the configured local hours
// and weekdays, and an ATR that is not abnormally wide for the price. Stop and
// target are fixed ATR multiples. At most one signal per local day.
type SessionBreakout struct {
	cfg   SessionBreakoutConfig
	hours map[int]bool
	days  map[time.Weekday]bool
}

func NewSessionBreakout(cfg SessionBreakoutConfig) *SessionBreakout {
	p := &SessionBreakout{
		cfg:   cfg,
		hours: make(map[int]bool, len(cfg.EntryHours)),
		days:  make(map[time.Weekday]bool, len(cfg.Weekdays)),
	}
	for _, h := range cfg.EntryHours {
		p.hours[h] = true
	}
	for _, d := range cfg.Weekdays {
		p.days[d] = true
	}
	return p
}

func (p *SessionBreakout) Name() string {
	return "session_breakout"
}

func (p *SessionBreakout) Prepare(ctx *Context) {
	ctx.TrackVolume(p.cfg.VolumeLength)
}

func (p *SessionBreakout) Evaluate(ctx *Context, snap *engine.Snapshot, _ ZoneMarker) *Signal {
	if snap.Warning != nil || !ctx.ATR.Ready() {
		return nil
	}

	bar := snap.Bar
	local := ctx.Local(bar.Time)
	if !p.days[local.Weekday()] || !p.hours[local.Hour()] {
		return nil
	}

	gate := ctx.Gate(p.Name())
	today := dayKey(local)
	if gate.FiredDay == today {
		return nil
	}

	avgVolume, ok := ctx.VolumeAverage(p.cfg.VolumeLength)
	if !ok || bar.Volume <= avgVolume {
		return nil
	}

	price := bar.Close
	atr := ctx.ATR.Value()
	if atr > price*p.cfg.MaxATRPct {
		return nil
	}

	trigHigh, hasHigh := p.triggerHigh(ctx)
	trigLow, hasLow := p.triggerLow(ctx)

	var sig *Signal
	switch {
	case hasHigh && price > trigHigh:
		stop := price - atr*p.cfg.StopMult
		if stop <= 0 {
			return nil
		}
		sig = newSignal(p, snap, SignalBuy, price, stop, price+atr*p.cfg.TargetMult,
			fmt.Sprintf("close above overnight high %.4f on volume %.0f > %.0f", trigHigh, bar.Volume, avgVolume))

	case hasLow && price < trigLow:
		target := price - atr*p.cfg.TargetMult
		if target <= 0 {
			return nil
		}
		sig = newSignal(p, snap, SignalSell, price, price+atr*p.cfg.StopMult, target,
			fmt.Sprintf("close below overnight low %.4f on volume %.0f > %.0f", trigLow, bar.Volume, avgVolume))

	default:
		return nil
	}

	gate.FiredDay = today
	return sig
}

func (p *SessionBreakout) triggerHigh(ctx *Context) (float64, bool) {
	hi := math.Inf(-1)
	asia, okAsia := ctx.Levels.AsiaHigh()
	if okAsia {
		hi = asia
	}
	london, okLondon := ctx.Levels.LondonHigh()
	if okLondon {
		hi = math.Max(hi, london)
	}
	return hi, okAsia || okLondon
}

func (p *SessionBreakout) triggerLow(ctx *Context) (float64, bool) {
	lo := math.Inf(1)
	asia, okAsia := ctx.Levels.AsiaLow()
	if okAsia {
		lo = asia
	}
	london, okLondon := ctx.Levels.LondonLow()
	if okLondon {
		lo = math.Min(lo, london)
	}
	return lo, okAsia || okLondon
}
