package strategy

import (
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid strategy config")

var validate = validator.New()

// Config selects and tunes the policies run for every instrument. A nil
// section disables that policy.
type Config struct {
	ATRPeriod       int                    `json:"atr_period" default:"14" validate:"gt=0"`
	InversionRetest *InversionRetestConfig `json:"inversion_retest"`
	RangeSweeps     []RangeSweepConfig     `json:"range_sweeps" validate:"dive"`
	PreMarketSweep  *PreMarketSweepConfig  `json:"premarket_sweep"`
	SessionBreakout *SessionBreakoutConfig `json:"session_breakout"`
	FractalMomentum *FractalMomentumConfig `json:"fractal_momentum"`
}

// DefaultConfig enables the retest policy, the 8 AM and 10 AM range sweeps and
// the pre-market sweep. The 8 AM sweep confirms swings 10 bars left and 2
// right; the 10 AM sweep uses 5 and 5. The breakout and momentum policies are
// opt-in.
func DefaultConfig() Config {
	cfg := Config{
		InversionRetest: &InversionRetestConfig{},
		RangeSweeps: []RangeSweepConfig{
			{RangeHour: 8},
			{RangeHour: 10, SwingLeft: 5, SwingRight: 5},
		},
		PreMarketSweep: &PreMarketSweepConfig{},
	}
	mustDefaults(&cfg)
	mustDefaults(cfg.InversionRetest)
	mustDefaults(cfg.PreMarketSweep)
	for i := range cfg.RangeSweeps {
		mustDefaults(&cfg.RangeSweeps[i])
	}
	return cfg
}

// DefaultSessionBreakout returns the breakout section with every default set.
func DefaultSessionBreakout() *SessionBreakoutConfig {
	cfg := &SessionBreakoutConfig{}
	mustDefaults(cfg)
	return cfg
}

// DefaultFractalMomentum returns the momentum section with every default set.
func DefaultFractalMomentum() *FractalMomentumConfig {
	cfg := &FractalMomentumConfig{}
	mustDefaults(cfg)
	return cfg
}

// FillDefaults sets the tag defaults on every zero field of the enabled
// sections. Nil sections stay disabled and explicit non-zero values are kept.
func (c *Config) FillDefaults() {
	mustDefaults(c)
}

// Validate checks field bounds and the hour windows of each policy.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[int]bool, len(c.RangeSweeps))
	for _, rs := range c.RangeSweeps {
		if rs.RangeHour >= rs.CloseHour {
			return fmt.Errorf("%w: range hour %d not before close hour %d", ErrInvalidConfig, rs.RangeHour, rs.CloseHour)
		}
		if seen[rs.RangeHour] {
			return fmt.Errorf("%w: duplicate range sweep at hour %d", ErrInvalidConfig, rs.RangeHour)
		}
		seen[rs.RangeHour] = true
	}
	if pm := c.PreMarketSweep; pm != nil && pm.EntryStartHour >= pm.EntryEndHour {
		return fmt.Errorf("%w: pre-market window %d-%d is empty", ErrInvalidConfig, pm.EntryStartHour, pm.EntryEndHour)
	}
	return nil
}

func mustDefaults(v interface{}) {
	if err := defaults.Set(v); err != nil {
		panic(fmt.Sprintf("strategy: default tags: %v", err))
	}
}

// Policies builds the enabled policies in a fixed order.
func (c Config) Policies() []Policy {
	var policies []Policy
	if c.InversionRetest != nil {
		policies = append(policies, NewInversionRetest(*c.InversionRetest))
	}
	for _, rs := range c.RangeSweeps {
		policies = append(policies, NewRangeSweep(rs))
	}
	if c.PreMarketSweep != nil {
		policies = append(policies, NewPreMarketSweep(*c.PreMarketSweep))
	}
	if c.SessionBreakout != nil {
		policies = append(policies, NewSessionBreakout(*c.SessionBreakout))
	}
	if c.FractalMomentum != nil {
		policies = append(policies, NewFractalMomentum(*c.FractalMomentum))
	}
	return policies
}
