package engine

import (
	"fmt"
	"math"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"smc-engine/internal/analysis"
)

// Config holds the per-instrument detection parameters.
type Config struct {
	SwingLeft         int                    `json:"swing_left" default:"5" validate:"gt=0"`
	SwingRight        int                    `json:"swing_right" default:"5" validate:"gt=0"`
	MinGapSize        float64                `json:"min_gap_size" default:"0.25" validate:"gte=0"`
	ExpirationHorizon int                    `json:"expiration_horizon" default:"120" validate:"gt=0"`
	Session           analysis.SessionConfig `json:"session"`
}

var validate = validator.New()

// DefaultConfig returns the engine defaults: 5/5 swing lookbacks, a 0.25
// minimum gap, a 120 bar horizon and New York session windows.
func DefaultConfig() Config {
	var cfg Config
	// defaults.Set only fails on malformed tags.
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("engine: default tags: %v", err))
	}
	cfg.Session = analysis.DefaultSessionConfig()
	return cfg
}

// Validate checks every field. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if math.IsNaN(c.MinGapSize) || math.IsInf(c.MinGapSize, 0) {
		return fmt.Errorf("%w: min_gap_size must be finite, got %v", ErrInvalidConfig, c.MinGapSize)
	}
	return c.Session.Validate()
}

// ZoneConfig projects the zone parameters.
func (c Config) ZoneConfig() analysis.ZoneConfig {
	return analysis.ZoneConfig{
		MinGapSize:        c.MinGapSize,
		ExpirationHorizon: c.ExpirationHorizon,
	}
}
