package engine

import (
	"smc-engine/internal/analysis"
	"smc-engine/internal/market"
)

// Levels are the swing levels a bar was tested against: the most recent swings
// confirmed strictly before the bar.
type Levels struct {
	SwingHigh    float64 `json:"swing_high,omitempty"`
	HasSwingHigh bool    `json:"has_swing_high"`
	SwingLow     float64 `json:"swing_low,omitempty"`
	HasSwingLow  bool    `json:"has_swing_low"`
}

// Snapshot is everything the engine learned from one bar. Zone slices are
// copies; mutating them does not affect the engine.
type Snapshot struct {
	Instrument    market.Instrument        `json:"instrument"`
	Index         int                      `json:"index"`
	Bar           market.Bar               `json:"bar"`
	SwingHigh     *analysis.SwingPoint     `json:"swing_high,omitempty"`
	SwingLow      *analysis.SwingPoint     `json:"swing_low,omitempty"`
	Levels        Levels                   `json:"levels"`
	Shift         *analysis.StructureShift `json:"shift,omitempty"`
	ZoneEvents    []analysis.ZoneEvent     `json:"zone_events,omitempty"`
	ActiveZones   []analysis.Zone          `json:"active_zones"`
	TradableZones []analysis.Zone          `json:"tradable_zones"`
	Phase         analysis.SessionPhase    `json:"phase"`
	Warning       *DataQualityWarning      `json:"warning,omitempty"`
}

// HasEvents reports whether the bar produced a swing, a shift or a zone transition.
func (s *Snapshot) HasEvents() bool {
	return s.SwingHigh != nil || s.SwingLow != nil || s.Shift != nil || len(s.ZoneEvents) > 0
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.SwingHigh != nil {
		sh := *s.SwingHigh
		c.SwingHigh = &sh
	}
	if s.SwingLow != nil {
		sl := *s.SwingLow
		c.SwingLow = &sl
	}
	if s.Shift != nil {
		sh := *s.Shift
		c.Shift = &sh
	}
	if s.Warning != nil {
		w := *s.Warning
		c.Warning = &w
	}
	c.ZoneEvents = append([]analysis.ZoneEvent(nil), s.ZoneEvents...)
	c.ActiveZones = append([]analysis.Zone(nil), s.ActiveZones...)
	c.TradableZones = append([]analysis.Zone(nil), s.TradableZones...)
	return &c
}
