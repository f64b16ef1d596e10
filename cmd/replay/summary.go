package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

// summary accumulates replay totals.
type summary struct {
	inst       market.Instrument
	bars       int
	first      time.Time
	last       time.Time
	zones      map[analysis.ZoneEventKind]int
	shifts     map[analysis.Direction]int
	signals    map[string]int
	warnings   []int
	rejected   int
	firstOut   time.Time
	finalPhase analysis.SessionPhase
	active     int
	tradable   int
}

func newSummary(inst market.Instrument) *summary {
	return &summary{
		inst:    inst,
		zones:   make(map[analysis.ZoneEventKind]int),
		shifts:  make(map[analysis.Direction]int),
		signals: make(map[string]int),
	}
}

func (s *summary) observe(snap *engine.Snapshot, signals []strategy.Signal) {
	if s.bars == 0 {
		s.first = snap.Bar.Time
	}
	s.bars++
	s.last = snap.Bar.Time

	for _, ev := range snap.ZoneEvents {
		s.zones[ev.Kind]++
	}
	if snap.Shift != nil {
		s.shifts[snap.Shift.Direction]++
	}
	if snap.Warning != nil {
		s.warnings = append(s.warnings, snap.Warning.Index)
	}
	for _, sig := range signals {
		s.signals[sig.Policy]++
	}
	s.finalPhase = snap.Phase
	s.active = len(snap.ActiveZones)
	s.tradable = len(snap.TradableZones)
}

func (s *summary) reject(err *engine.DataOrderError) {
	if s.rejected == 0 {
		s.firstOut = err.Got
	}
	s.rejected++
}

func (s *summary) write(w io.Writer) {
	fmt.Fprintf(w, "instrument   %s\n", s.inst.Key())
	fmt.Fprintf(w, "bars         %d", s.bars)
	if s.bars > 0 {
		fmt.Fprintf(w, " (%s .. %s)", s.first.Format(time.RFC3339), s.last.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "zones        created=%d inverted=%d expired=%d invalidated=%d\n",
		s.zones[analysis.ZoneEventCreated], s.zones[analysis.ZoneEventInverted],
		s.zones[analysis.ZoneEventExpired], s.zones[analysis.ZoneEventInvalidated])
	fmt.Fprintf(w, "open zones   active=%d tradable=%d\n", s.active, s.tradable)
	fmt.Fprintf(w, "shifts       bullish=%d bearish=%d\n", s.shifts[analysis.Bullish], s.shifts[analysis.Bearish])
	fmt.Fprintf(w, "final phase  %s\n", s.finalPhase)

	policies := make([]string, 0, len(s.signals))
	for name := range s.signals {
		policies = append(policies, name)
	}
	sort.Strings(policies)
	fmt.Fprintln(w, "signals")
	if len(policies) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, name := range policies {
		fmt.Fprintf(w, "  %-18s %d\n", name, s.signals[name])
	}

	if len(s.warnings) > 0 {
		fmt.Fprintf(w, "warnings     %d bars with non-finite values, first at index %d\n", len(s.warnings), s.warnings[0])
	}
	if s.rejected > 0 {
		fmt.Fprintf(w, "rejected     %d bars out of order, first at %s\n", s.rejected, s.firstOut.Format(time.RFC3339))
	}
}
