package bot

import (
	"errors"
	"fmt"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

// Pipeline runs one instrument's engine and its policies bar by bar. It is
// not safe for concurrent use; the Runner gives each pipeline its own
// goroutine.
type Pipeline struct {
	engine   *engine.Engine
	ctx      *strategy.Context
	policies []strategy.Policy
	enabled  map[string]bool
}

// NewPipeline builds the engine and the enabled policies for inst.
func NewPipeline(inst market.Instrument, engCfg engine.Config, stratCfg strategy.Config) (*Pipeline, error) {
	eng, err := engine.New(inst, engCfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", inst, err)
	}

	policies := stratCfg.Policies()
	p := &Pipeline{
		engine:   eng,
		ctx:      strategy.NewContextFor(inst, eng.Location(), stratCfg.ATRPeriod, policies),
		policies: policies,
		enabled:  make(map[string]bool),
	}
	for _, pol := range p.policies {
		p.enabled[pol.Name()] = true
	}
	return p, nil
}

// Step ingests one bar, lets every enabled policy look at the snapshot and
// returns the snapshot with the signals it produced. Zones consumed by a
// signal are no longer in the returned TradableZones.
func (p *Pipeline) Step(bar market.Bar) (*engine.Snapshot, []strategy.Signal, error) {
	snap, err := p.engine.Ingest(bar)
	if err != nil {
		return nil, nil, err
	}

	p.ctx.Observe(snap)

	var signals []strategy.Signal
	for _, pol := range p.policies {
		if !p.enabled[pol.Name()] {
			continue
		}
		sig := pol.Evaluate(p.ctx, snap, p.engine)
		if sig == nil {
			continue
		}
		signals = append(signals, *sig)
		// Later policies must not see the consumed zone.
		if sig.ZoneID != 0 {
			snap.TradableZones = p.engine.TradableZones()
		}
	}
	return snap, signals, nil
}

// Run steps through bars in order. A bar rejected with *engine.DataOrderError
// is handed to skip and the run goes on; without skip, or on any other error,
// the run stops.
func (p *Pipeline) Run(bars []market.Bar, fn func(*engine.Snapshot, []strategy.Signal), skip func(*engine.DataOrderError)) error {
	for _, bar := range bars {
		snap, signals, err := p.Step(bar)
		var orderErr *engine.DataOrderError
		if skip != nil && errors.As(err, &orderErr) {
			skip(orderErr)
			continue
		}
		if err != nil {
			return err
		}
		if fn != nil {
			fn(snap, signals)
		}
	}
	return nil
}

// SetEnabled switches a policy on or off by name.
func (p *Pipeline) SetEnabled(name string, on bool) error {
	if _, ok := p.enabled[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	p.enabled[name] = on
	return nil
}

// Policies returns the policy names and whether each is enabled.
func (p *Pipeline) Policies() []PolicyInfo {
	out := make([]PolicyInfo, 0, len(p.policies))
	for _, pol := range p.policies {
		out = append(out, PolicyInfo{Name: pol.Name(), Enabled: p.enabled[pol.Name()]})
	}
	return out
}

// PolicyInfo describes one registered policy.
type PolicyInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// MarkTraded consumes an inverted zone outside the policy loop.
func (p *Pipeline) MarkTraded(id analysis.ZoneID) error {
	return p.engine.MarkTraded(id)
}

// Engine exposes the underlying engine for read-only queries.
func (p *Pipeline) Engine() *engine.Engine {
	return p.engine
}

// Context exposes the policy state.
func (p *Pipeline) Context() *strategy.Context {
	return p.ctx
}
