package engine

import (
	"fmt"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
)

// Engine composes swing detection, structure tracking, session labelling and
// the zone registry for one instrument. It is single-threaded: the same Ingest
// loop serves batch replay and live feeds, and callers must not share an
// Engine between goroutines.
type Engine struct {
	instrument market.Instrument
	cfg        Config

	swings    *analysis.SwingTracker
	structure *analysis.StructureTracker
	sessions  *analysis.SessionClassifier
	zones     *analysis.ZoneBook

	index    int
	lastTime time.Time
	logger   *logging.Logger
}

// New validates cfg and builds an engine with empty state.
func New(inst market.Instrument, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", inst, err)
	}

	sessions, err := analysis.NewSessionClassifier(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", inst, err)
	}

	return &Engine{
		instrument: inst,
		cfg:        cfg,
		swings:     analysis.NewSwingTracker(cfg.SwingLeft, cfg.SwingRight),
		structure:  analysis.NewStructureTracker(),
		sessions:   sessions,
		zones:      analysis.NewZoneBook(cfg.ZoneConfig()),
		logger:     logging.EngineContext(inst.Symbol, inst.Timeframe),
	}, nil
}

// Ingest processes one bar and returns what it produced. A bar that is not
// strictly later than the previous one is rejected with *DataOrderError and
// leaves the engine untouched. A bar with non-finite prices still advances
// the index; its snapshot carries a DataQualityWarning.
func (e *Engine) Ingest(bar market.Bar) (*Snapshot, error) {
	if e.index > 0 && !bar.Time.After(e.lastTime) {
		return nil, &DataOrderError{
			Instrument: e.instrument.Key(),
			Index:      e.index,
			Previous:   e.lastTime,
			Got:        bar.Time,
		}
	}

	idx := e.index
	e.index++
	e.lastTime = bar.Time

	snap := &Snapshot{
		Instrument: e.instrument,
		Index:      idx,
		Bar:        bar,
		Phase:      e.sessions.Phase(bar.Time),
	}
	snap.Levels.SwingHigh, snap.Levels.HasSwingHigh = e.structure.LastSwingHigh()
	snap.Levels.SwingLow, snap.Levels.HasSwingLow = e.structure.LastSwingLow()

	snap.SwingHigh, snap.SwingLow = e.swings.Push(bar.High, bar.Low)
	snap.Shift = e.structure.Update(idx, bar.Close, snap.SwingHigh, snap.SwingLow)
	snap.ZoneEvents = e.zones.Ingest(bar)
	snap.ActiveZones = e.zones.ActiveZones()
	snap.TradableZones = e.zones.TradableZones()

	if !bar.IsFinite() {
		snap.Warning = &DataQualityWarning{
			Instrument: e.instrument.Key(),
			Index:      idx,
			Time:       bar.Time,
		}
		e.logger.Warn("Skipping non-finite bar for detection",
			"index", idx,
			"time", bar.Time,
		)
	}

	if snap.Shift != nil {
		e.logger.Debug("Structure shift",
			"index", idx,
			"direction", snap.Shift.Direction,
			"level", snap.Shift.BrokenLevel,
		)
	}
	for _, ev := range snap.ZoneEvents {
		e.logger.Debug("Zone "+string(ev.Kind),
			"index", idx,
			"zone_id", ev.Zone.ID,
			"direction", ev.Zone.Direction,
			"top", ev.Zone.Top,
			"bottom", ev.Zone.Bottom,
		)
	}

	return snap, nil
}

// Replay feeds bars through Ingest in order. It stops at the first ordering
// error and returns the snapshots produced so far.
func (e *Engine) Replay(bars []market.Bar) ([]*Snapshot, error) {
	snaps := make([]*Snapshot, 0, len(bars))
	for _, bar := range bars {
		snap, err := e.Ingest(bar)
		if err != nil {
			return snaps, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// MarkTraded flags a zone as consumed so it no longer appears as tradable.
func (e *Engine) MarkTraded(id analysis.ZoneID) error {
	if err := e.zones.MarkTraded(id); err != nil {
		return fmt.Errorf("engine %s: %w", e.instrument, err)
	}
	return nil
}

// Instrument returns the instrument this engine tracks.
func (e *Engine) Instrument() market.Instrument {
	return e.instrument
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Index returns the number of bars ingested so far.
func (e *Engine) Index() int {
	return e.index
}

// Location returns the session timezone, nil when bar times are used as-is.
func (e *Engine) Location() *time.Location {
	return e.sessions.Location()
}

func (e *Engine) ActiveZones() []analysis.Zone {
	return e.zones.ActiveZones()
}

func (e *Engine) InvertedZones() []analysis.Zone {
	return e.zones.InvertedZones()
}

func (e *Engine) TradableZones() []analysis.Zone {
	return e.zones.TradableZones()
}

func (e *Engine) Zones() []analysis.Zone {
	return e.zones.Zones()
}

func (e *Engine) Zone(id analysis.ZoneID) (analysis.Zone, bool) {
	return e.zones.Zone(id)
}
