package analysis

import (
	"fmt"
	"time"

	"smc-engine/internal/market"
)

// ZoneID is the stable identifier of a zone for its whole lifetime.
type ZoneID uint64

// ZoneStatus is the lifecycle state of a zone still in the registry.
type ZoneStatus string

const (
	ZoneActive   ZoneStatus = "active"
	ZoneInverted ZoneStatus = "inverted"
)

// Zone is a fair value gap: the untraded price region left between bar i-2 and
// bar i. Top is always strictly above Bottom.
type Zone struct {
	ID          ZoneID     `json:"id"`
	Top         float64    `json:"top"`
	Bottom      float64    `json:"bottom"`
	Direction   Direction  `json:"direction"`
	CreatedAt   int        `json:"created_at"`
	CreatedTime time.Time  `json:"created_time"`
	Status      ZoneStatus `json:"status"`
	Traded      bool       `json:"traded"`
	InvertedAt  int        `json:"inverted_at"`
}

// Mid returns the midpoint of the zone.
func (z Zone) Mid() float64 {
	return (z.Top + z.Bottom) / 2
}

// Size returns the height of the zone.
func (z Zone) Size() float64 {
	return z.Top - z.Bottom
}

// Age returns the number of bars since creation as of index.
func (z Zone) Age(index int) int {
	return index - z.CreatedAt
}

// Tradable reports whether the zone is inverted and not yet consumed.
func (z Zone) Tradable() bool {
	return z.Status == ZoneInverted && !z.Traded
}

// Contains reports whether price lies inside the zone, boundaries included.
func (z Zone) Contains(price float64) bool {
	return price >= z.Bottom && price <= z.Top
}

// ZoneEventKind names a lifecycle transition.
type ZoneEventKind string

const (
	ZoneEventCreated     ZoneEventKind = "created"
	ZoneEventInverted    ZoneEventKind = "inverted"
	ZoneEventExpired     ZoneEventKind = "expired"
	ZoneEventInvalidated ZoneEventKind = "invalidated"
)

// ZoneEvent reports one transition. Zone holds the state after the
// transition (or the final state for removals).
type ZoneEvent struct {
	Kind  ZoneEventKind `json:"kind"`
	Index int           `json:"index"`
	Zone  Zone          `json:"zone"`
}

// ZoneConfig controls gap detection and zone lifetime.
type ZoneConfig struct {
	MinGapSize        float64
	ExpirationHorizon int
}

type zoneEntry struct {
	zone    Zone
	removed bool
}

type windowBar struct {
	bar    market.Bar
	finite bool
}

// ZoneBook owns the zone registry of one instrument. Zones live in an arena
// in creation order and are addressed by ID; removals are flagged during a
// pass and compacted once the pass completes.
type ZoneBook struct {
	cfg    ZoneConfig
	zones  []zoneEntry
	byID   map[ZoneID]int
	recent [3]windowBar
	count  int
	nextID ZoneID
}

// NewZoneBook creates an empty registry. Callers validate cfg.
func NewZoneBook(cfg ZoneConfig) *ZoneBook {
	return &ZoneBook{
		cfg:    cfg,
		byID:   make(map[ZoneID]int),
		nextID: 1,
	}
}

// Ingest applies one bar: expire, invalidate, detect, invert, in that order.
// Until three bars have been seen it does nothing. A bar with a non-finite
// price still advances the index and ages existing zones, but takes no part
// in invalidation, detection or inversion.
func (b *ZoneBook) Ingest(bar market.Bar) []ZoneEvent {
	index := b.count
	b.count++
	finite := bar.IsFinite()
	b.recent[index%3] = windowBar{bar: bar, finite: finite}

	if b.count < 3 {
		return nil
	}

	var events []ZoneEvent
	events = b.expire(index, events)
	if finite {
		events = b.invalidate(index, bar.Close, events)
		events = b.detect(index, bar, events)
		events = b.invert(index, bar.Close, events)
	}
	b.reconcile()

	return events
}

func (b *ZoneBook) expire(index int, events []ZoneEvent) []ZoneEvent {
	for i := range b.zones {
		e := &b.zones[i]
		if e.removed {
			continue
		}
		if e.zone.Age(index) > b.cfg.ExpirationHorizon {
			e.removed = true
			events = append(events, ZoneEvent{Kind: ZoneEventExpired, Index: index, Zone: e.zone})
		}
	}
	return events
}

func (b *ZoneBook) invalidate(index int, close float64, events []ZoneEvent) []ZoneEvent {
	for i := range b.zones {
		e := &b.zones[i]
		if e.removed || e.zone.Status != ZoneInverted {
			continue
		}
		broken := false
		switch e.zone.Direction {
		case Bullish:
			// Bullish gap flipped to resistance; a close back above the top falsifies it.
			broken = close > e.zone.Top
		case Bearish:
			broken = close < e.zone.Bottom
		}
		if broken {
			e.removed = true
			events = append(events, ZoneEvent{Kind: ZoneEventInvalidated, Index: index, Zone: e.zone})
		}
	}
	return events
}

func (b *ZoneBook) detect(index int, bar market.Bar, events []ZoneEvent) []ZoneEvent {
	first := b.recent[(index-2)%3]
	if !first.finite {
		return events
	}

	if bar.Low > first.bar.High && bar.Low-first.bar.High > b.cfg.MinGapSize {
		z := b.create(index, bar.Time, bar.Low, first.bar.High, Bullish)
		events = append(events, ZoneEvent{Kind: ZoneEventCreated, Index: index, Zone: z})
	}
	if bar.High < first.bar.Low && first.bar.Low-bar.High > b.cfg.MinGapSize {
		z := b.create(index, bar.Time, first.bar.Low, bar.High, Bearish)
		events = append(events, ZoneEvent{Kind: ZoneEventCreated, Index: index, Zone: z})
	}
	return events
}

func (b *ZoneBook) invert(index int, close float64, events []ZoneEvent) []ZoneEvent {
	for i := range b.zones {
		e := &b.zones[i]
		if e.removed || e.zone.Status != ZoneActive {
			continue
		}
		flipped := false
		switch e.zone.Direction {
		case Bullish:
			flipped = close < e.zone.Bottom
		case Bearish:
			flipped = close > e.zone.Top
		}
		if flipped {
			e.zone.Status = ZoneInverted
			e.zone.InvertedAt = index
			events = append(events, ZoneEvent{Kind: ZoneEventInverted, Index: index, Zone: e.zone})
		}
	}
	return events
}

func (b *ZoneBook) create(index int, t time.Time, top, bottom float64, dir Direction) Zone {
	if !(top > bottom) {
		panic(fmt.Sprintf("analysis: zone invariant violated: top %v <= bottom %v at index %d", top, bottom, index))
	}

	z := Zone{
		ID:          b.nextID,
		Top:         top,
		Bottom:      bottom,
		Direction:   dir,
		CreatedAt:   index,
		CreatedTime: t,
		Status:      ZoneActive,
		InvertedAt:  -1,
	}
	b.nextID++
	b.byID[z.ID] = len(b.zones)
	b.zones = append(b.zones, zoneEntry{zone: z})
	return z
}

// reconcile drops removed entries and rebuilds the id index.
func (b *ZoneBook) reconcile() {
	kept := b.zones[:0]
	dirty := false
	for _, e := range b.zones {
		if e.removed {
			dirty = true
			continue
		}
		kept = append(kept, e)
	}
	if !dirty {
		return
	}
	for i := len(kept); i < len(b.zones); i++ {
		b.zones[i] = zoneEntry{}
	}
	b.zones = kept

	b.byID = make(map[ZoneID]int, len(kept))
	for i, e := range kept {
		b.byID[e.zone.ID] = i
	}
}

// ActiveZones returns copies of all zones still in the active state.
func (b *ZoneBook) ActiveZones() []Zone {
	return b.filter(func(z Zone) bool { return z.Status == ZoneActive })
}

// InvertedZones returns copies of all inverted zones, traded or not.
func (b *ZoneBook) InvertedZones() []Zone {
	return b.filter(func(z Zone) bool { return z.Status == ZoneInverted })
}

// TradableZones returns inverted zones that no policy has consumed yet.
func (b *ZoneBook) TradableZones() []Zone {
	return b.filter(Zone.Tradable)
}

// Zones returns copies of every zone in the registry.
func (b *ZoneBook) Zones() []Zone {
	return b.filter(func(Zone) bool { return true })
}

// Zone looks up a zone by id.
func (b *ZoneBook) Zone(id ZoneID) (Zone, bool) {
	i, ok := b.byID[id]
	if !ok {
		return Zone{}, false
	}
	return b.zones[i].zone, true
}

// MarkTraded flags a zone as consumed by a policy. Marking a zone twice is a
// no-op.
func (b *ZoneBook) MarkTraded(id ZoneID) error {
	i, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrZoneNotFound, id)
	}
	b.zones[i].zone.Traded = true
	return nil
}

// Len returns the number of zones in the registry.
func (b *ZoneBook) Len() int {
	return len(b.zones)
}

// Bars returns how many bars have been ingested.
func (b *ZoneBook) Bars() int {
	return b.count
}

func (b *ZoneBook) filter(keep func(Zone) bool) []Zone {
	out := make([]Zone, 0, len(b.zones))
	for _, e := range b.zones {
		if keep(e.zone) {
			out = append(out, e.zone)
		}
	}
	return out
}
