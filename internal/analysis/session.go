package analysis

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// SessionPhase is the recurring time-of-day label used to gate signals.
type SessionPhase string

const (
	PhaseAccumulation SessionPhase = "Accumulation"
	PhaseManipulation SessionPhase = "Manipulation"
	PhaseDistribution SessionPhase = "Distribution"
	PhaseNone         SessionPhase = "None"
)

// HourRange covers hours [Start, End). A range with Start > End wraps past
// midnight.
type HourRange struct {
	Start int `json:"start" validate:"min=0,max=23"`
	End   int `json:"end" validate:"min=0,max=23"`
}

// Contains reports whether hour falls inside the range.
func (r HourRange) Contains(hour int) bool {
	if r.Start > r.End {
		return hour >= r.Start || hour < r.End
	}
	return hour >= r.Start && hour < r.End
}

// Wraps reports whether the range crosses midnight.
func (r HourRange) Wraps() bool {
	return r.Start > r.End
}

// SessionConfig holds the three phase windows and the timezone they are
// expressed in.
type SessionConfig struct {
	Timezone     string    `json:"timezone"`
	Accumulation HourRange `json:"accumulation"`
	Manipulation HourRange `json:"manipulation"`
	Distribution HourRange `json:"distribution"`
}

// DefaultSessionConfig returns Asia / London / New York windows in New York time.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Timezone:     "America/New_York",
		Accumulation: HourRange{Start: 18, End: 2},
		Manipulation: HourRange{Start: 2, End: 5},
		Distribution: HourRange{Start: 9, End: 16},
	}
}

// Validate checks hour bounds and that only the accumulation window wraps.
func (c SessionConfig) Validate() error {
	ranges := []struct {
		name string
		r    HourRange
	}{
		{"accumulation", c.Accumulation},
		{"manipulation", c.Manipulation},
		{"distribution", c.Distribution},
	}
	for _, nr := range ranges {
		if nr.r.Start < 0 || nr.r.Start > 23 || nr.r.End < 0 || nr.r.End > 23 {
			return fmt.Errorf("%w: %s hours must be within 0-23, got %d-%d",
				ErrInvalidConfig, nr.name, nr.r.Start, nr.r.End)
		}
		if nr.r.Start == nr.r.End {
			return fmt.Errorf("%w: %s window is empty", ErrInvalidConfig, nr.name)
		}
	}
	if c.Manipulation.Wraps() {
		return fmt.Errorf("%w: manipulation window may not wrap past midnight", ErrInvalidConfig)
	}
	if c.Distribution.Wraps() {
		return fmt.Errorf("%w: distribution window may not wrap past midnight", ErrInvalidConfig)
	}
	return nil
}

// SessionClassifier maps a timestamp to its session phase. It holds no
// mutable state and is safe to share.
type SessionClassifier struct {
	cfg SessionConfig
	loc *time.Location
}

// NewSessionClassifier validates cfg and resolves its timezone. An empty
// timezone classifies timestamps in their own location.
func NewSessionClassifier(cfg SessionConfig) (*SessionClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var loc *time.Location
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, cfg.Timezone, err)
		}
		loc = l
	}

	return &SessionClassifier{cfg: cfg, loc: loc}, nil
}

// Phase classifies t after converting it to the configured timezone.
func (c *SessionClassifier) Phase(t time.Time) SessionPhase {
	return c.PhaseAtHour(c.Local(t).Hour())
}

// PhaseAtHour classifies a local hour of day. Windows are checked in the order
// accumulation, manipulation, distribution.
func (c *SessionClassifier) PhaseAtHour(hour int) SessionPhase {
	switch {
	case c.cfg.Accumulation.Contains(hour):
		return PhaseAccumulation
	case c.cfg.Manipulation.Contains(hour):
		return PhaseManipulation
	case c.cfg.Distribution.Contains(hour):
		return PhaseDistribution
	default:
		return PhaseNone
	}
}

// Local converts t into the classifier's timezone.
func (c *SessionClassifier) Local(t time.Time) time.Time {
	if c.loc == nil {
		return t
	}
	return t.In(c.loc)
}

// Location returns the configured timezone, or nil when timestamps are used as-is.
func (c *SessionClassifier) Location() *time.Location {
	return c.loc
}
