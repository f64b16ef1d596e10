package engine

import (
	"errors"
	"fmt"
	"time"

	"smc-engine/internal/analysis"
)

var (
	// ErrDataOrder is returned when a bar does not come strictly after the previous one
	ErrDataOrder = errors.New("bar timestamp is not after the previous bar")

	// ErrDataQuality marks a bar whose prices are not all finite
	ErrDataQuality = errors.New("bar contains non-finite prices")

	// ErrInvalidConfig is wrapped by every configuration rejected by New
	ErrInvalidConfig = analysis.ErrInvalidConfig

	// ErrZoneNotFound is returned by MarkTraded for an unknown zone id
	ErrZoneNotFound = analysis.ErrZoneNotFound
)

// DataOrderError reports an out-of-order or duplicate bar. The engine is left
// exactly as it was before the call.
type DataOrderError struct {
	Instrument string
	Index      int
	Previous   time.Time
	Got        time.Time
}

func (e *DataOrderError) Error() string {
	return fmt.Sprintf("%s: bar %d at %s does not follow %s: %v",
		e.Instrument, e.Index, e.Got.Format(time.RFC3339), e.Previous.Format(time.RFC3339), ErrDataOrder)
}

func (e *DataOrderError) Unwrap() error {
	return ErrDataOrder
}

// DataQualityWarning is attached to the snapshot of a bar that was skipped for
// detection because of NaN or infinite prices.
type DataQualityWarning struct {
	Instrument string    `json:"instrument"`
	Index      int       `json:"index"`
	Time       time.Time `json:"time"`
}

func (w *DataQualityWarning) Error() string {
	return fmt.Sprintf("%s: bar %d at %s: %v",
		w.Instrument, w.Index, w.Time.Format(time.RFC3339), ErrDataQuality)
}

func (w *DataQualityWarning) Unwrap() error {
	return ErrDataQuality
}
