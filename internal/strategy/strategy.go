package strategy

import (
	"fmt"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
)

// Policy is a decision rule evaluated once per bar after the engine has
// ingested it. Policies read the snapshot and their per-instrument Context;
// the only engine state they may change is the traded flag of a zone.
type Policy interface {
	// Name returns the policy name
	Name() string

	// Evaluate returns a signal, or nil when the bar does not qualify
	Evaluate(ctx *Context, snap *engine.Snapshot, zones ZoneMarker) *Signal
}

// ZoneMarker consumes a zone so no other setup fires from it.
type ZoneMarker interface {
	MarkTraded(id analysis.ZoneID) error
}

// Signal represents a trading instruction handed to an external executor
type Signal struct {
	Type       SignalType      `json:"type"`
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Policy     string          `json:"policy"`
	ZoneID     analysis.ZoneID `json:"zone_id,omitempty"`
	Index      int             `json:"index"`
	EntryPrice float64         `json:"entry_price"`
	StopLoss   float64         `json:"stop_loss"`
	TakeProfit float64         `json:"take_profit"`
	// TrailDistance is set by policies that exit on a trailing stop instead
	// of a fixed target.
	TrailDistance float64   `json:"trail_distance,omitempty"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalNone SignalType = "NONE"
)

// Risk returns the distance between entry and stop.
func (s *Signal) Risk() float64 {
	if s.Type == SignalSell {
		return s.StopLoss - s.EntryPrice
	}
	return s.EntryPrice - s.StopLoss
}

// Reward returns the distance between entry and target.
func (s *Signal) Reward() float64 {
	if s.Type == SignalSell {
		return s.EntryPrice - s.TakeProfit
	}
	return s.TakeProfit - s.EntryPrice
}

func (s *Signal) String() string {
	return fmt.Sprintf("%s %s %s @ %.4f SL %.4f TP %.4f (%s)",
		s.Policy, s.Type, s.Symbol, s.EntryPrice, s.StopLoss, s.TakeProfit, s.Reason)
}

func newSignal(p Policy, snap *engine.Snapshot, typ SignalType, entry, stop, target float64, reason string) *Signal {
	return &Signal{
		Type:       typ,
		Symbol:     snap.Instrument.Symbol,
		Timeframe:  snap.Instrument.Timeframe,
		Policy:     p.Name(),
		Index:      snap.Index,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		Reason:     reason,
		Timestamp:  snap.Bar.Time,
	}
}
