package database

import (
	"time"

	"github.com/google/uuid"
)

// Structure event kinds
const (
	StructureKindSwingHigh = "swing_high"
	StructureKindSwingLow  = "swing_low"
	StructureKindShift     = "shift"
)

// Run is one engine process writing to the journal
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Instruments string     `json:"instruments"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ZoneEventRecord is one zone lifecycle transition
type ZoneEventRecord struct {
	ID             int64     `json:"id"`
	RunID          uuid.UUID `json:"run_id"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	BarIndex       int       `json:"bar_index"`
	BarTime        time.Time `json:"bar_time"`
	Kind           string    `json:"kind"`
	ZoneID         int64     `json:"zone_id"`
	Direction      string    `json:"direction"`
	Top            float64   `json:"top"`
	Bottom         float64   `json:"bottom"`
	CreatedAtIndex int       `json:"created_at_index"`
}

// StructureEventRecord is a confirmed swing or a structure shift
type StructureEventRecord struct {
	ID          int64     `json:"id"`
	RunID       uuid.UUID `json:"run_id"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	BarIndex    int       `json:"bar_index"`
	BarTime     time.Time `json:"bar_time"`
	Kind        string    `json:"kind"`
	Direction   *string   `json:"direction,omitempty"`
	Price       float64   `json:"price"`
	CandleIndex *int      `json:"candle_index,omitempty"`
}

// SignalRecord is a journaled policy signal
type SignalRecord struct {
	ID         int64     `json:"id"`
	RunID      uuid.UUID `json:"run_id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Policy     string    `json:"policy"`
	SignalType string    `json:"signal_type"`
	ZoneID     *int64    `json:"zone_id,omitempty"`
	BarIndex   int       `json:"bar_index"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Reason     string    `json:"reason"`
	BarTime    time.Time `json:"bar_time"`
	CreatedAt  time.Time `json:"created_at"`
}
