package analysis

import (
	"errors"
	"math"
)

// Direction is the bias of a zone or structure event.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

var (
	// ErrZoneNotFound is returned when a zone id is not in the registry.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrInvalidConfig is wrapped by every construction-time validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
