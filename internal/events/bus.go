package events

import (
	"sync"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventZoneCreated      EventType = "ZONE_CREATED"
	EventZoneInverted     EventType = "ZONE_INVERTED"
	EventZoneExpired      EventType = "ZONE_EXPIRED"
	EventZoneInvalidated  EventType = "ZONE_INVALIDATED"
	EventZoneTraded       EventType = "ZONE_TRADED"
	EventStructureShift   EventType = "STRUCTURE_SHIFT"
	EventSwingConfirmed   EventType = "SWING_CONFIRMED"
	EventSignalGenerated  EventType = "SIGNAL_GENERATED"
	EventPhaseChanged     EventType = "PHASE_CHANGED"
	EventDataQuality      EventType = "DATA_QUALITY"
	EventEngineStarted    EventType = "ENGINE_STARTED"
	EventEngineStopped    EventType = "ENGINE_STOPPED"
	EventFeedConnected    EventType = "FEED_CONNECTED"
	EventFeedDisconnected EventType = "FEED_DISCONNECTED"
	EventError            EventType = "ERROR"
)

var zoneEventTypes = map[analysis.ZoneEventKind]EventType{
	analysis.ZoneEventCreated:     EventZoneCreated,
	analysis.ZoneEventInverted:    EventZoneInverted,
	analysis.ZoneEventExpired:     EventZoneExpired,
	analysis.ZoneEventInvalidated: EventZoneInvalidated,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its own
// goroutine, so delivery order across events is not guaranteed.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

func instrumentData(inst market.Instrument) map[string]interface{} {
	return map[string]interface{}{
		"symbol":    inst.Symbol,
		"timeframe": inst.Timeframe,
	}
}

// PublishZoneEvent publishes one zone lifecycle transition
func (eb *EventBus) PublishZoneEvent(inst market.Instrument, ev analysis.ZoneEvent, at time.Time) {
	data := instrumentData(inst)
	data["index"] = ev.Index
	data["zone"] = ev.Zone

	eb.Publish(Event{
		Type:      zoneEventTypes[ev.Kind],
		Timestamp: at,
		Data:      data,
	})
}

// PublishZoneTraded publishes a zone being consumed outside the policy loop
func (eb *EventBus) PublishZoneTraded(inst market.Instrument, id analysis.ZoneID) {
	data := instrumentData(inst)
	data["zone_id"] = id

	eb.Publish(Event{Type: EventZoneTraded, Data: data})
}

// PublishStructureShift publishes a break of structure
func (eb *EventBus) PublishStructureShift(inst market.Instrument, shift analysis.StructureShift, at time.Time) {
	data := instrumentData(inst)
	data["index"] = shift.Index
	data["direction"] = shift.Direction
	data["broken_level"] = shift.BrokenLevel

	eb.Publish(Event{
		Type:      EventStructureShift,
		Timestamp: at,
		Data:      data,
	})
}

// PublishSwing publishes a newly confirmed swing point
func (eb *EventBus) PublishSwing(inst market.Instrument, sp analysis.SwingPoint, at time.Time) {
	data := instrumentData(inst)
	data["confirmed_at"] = sp.ConfirmedAt
	data["candle_index"] = sp.CandleIndex
	data["price"] = sp.Price
	data["kind"] = sp.Kind

	eb.Publish(Event{
		Type:      EventSwingConfirmed,
		Timestamp: at,
		Data:      data,
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(sig strategy.Signal) {
	data := map[string]interface{}{
		"symbol":      sig.Symbol,
		"timeframe":   sig.Timeframe,
		"policy":      sig.Policy,
		"signal_type": sig.Type,
		"entry_price": sig.EntryPrice,
		"stop_loss":   sig.StopLoss,
		"take_profit": sig.TakeProfit,
		"reason":      sig.Reason,
	}
	if sig.ZoneID != 0 {
		data["zone_id"] = sig.ZoneID
	}
	if sig.TrailDistance > 0 {
		data["trail_distance"] = sig.TrailDistance
	}

	eb.Publish(Event{
		Type:      EventSignalGenerated,
		Timestamp: sig.Timestamp,
		Data:      data,
	})
}

// PublishPhaseChange publishes a session phase transition
func (eb *EventBus) PublishPhaseChange(inst market.Instrument, from, to analysis.SessionPhase, at time.Time) {
	data := instrumentData(inst)
	data["from"] = from
	data["to"] = to

	eb.Publish(Event{
		Type:      EventPhaseChanged,
		Timestamp: at,
		Data:      data,
	})
}

// PublishDataQuality publishes a skipped bar warning
func (eb *EventBus) PublishDataQuality(inst market.Instrument, index int, at time.Time) {
	data := instrumentData(inst)
	data["index"] = index

	eb.Publish(Event{
		Type:      EventDataQuality,
		Timestamp: at,
		Data:      data,
	})
}

// PublishEngineState publishes an engine start or stop
func (eb *EventBus) PublishEngineState(inst market.Instrument, started bool) {
	typ := EventEngineStopped
	if started {
		typ = EventEngineStarted
	}
	eb.Publish(Event{Type: typ, Data: instrumentData(inst)})
}

// PublishFeedState publishes a feed connection change
func (eb *EventBus) PublishFeedState(source string, connected bool, err error) {
	typ := EventFeedDisconnected
	if connected {
		typ = EventFeedConnected
	}
	data := map[string]interface{}{"source": source}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: typ, Data: data})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
