package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/events"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
	"smc-engine/internal/metrics"
	"smc-engine/internal/strategy"
)

var (
	// ErrUnknownInstrument is returned for instruments that were never registered
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrRunnerStarted is returned by Register once Run has been called
	ErrRunnerStarted = errors.New("runner already started")
	// ErrRunnerStopped is returned when the runner is no longer accepting work
	ErrRunnerStopped = errors.New("runner stopped")
	// ErrUnknownPolicy is returned when enabling or disabling a policy that does not exist
	ErrUnknownPolicy = errors.New("unknown policy")
)

// SnapshotSink stores the latest snapshot of an instrument
type SnapshotSink interface {
	StoreSnapshot(ctx context.Context, snap *engine.Snapshot) error
}

// Journal records engine output
type Journal interface {
	RecordSnapshot(ctx context.Context, snap *engine.Snapshot) error
	RecordSignals(ctx context.Context, signals []strategy.Signal) error
}

// Options wires the runner's outputs. Every field is optional.
type Options struct {
	Bus        *events.EventBus
	Cache      SnapshotSink
	Journal    Journal
	Metrics    *metrics.Recorder
	BufferSize int
	// SinkTimeout bounds each cache or journal write
	SinkTimeout time.Duration
}

// Runner owns one pipeline per instrument, each on its own goroutine. Bars for
// one instrument are processed strictly in submission order; instruments do
// not share state.
type Runner struct {
	engCfg   engine.Config
	stratCfg strategy.Config
	opts     Options
	logger   *logging.Logger

	mu      sync.RWMutex
	workers map[string]*worker
	order   []market.Instrument
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

type command struct {
	fn   func(*Pipeline)
	done chan struct{}
}

type worker struct {
	inst     market.Instrument
	pipeline *Pipeline
	bars     chan market.Bar
	cmds     chan command
	logger   *logging.Logger

	mu     sync.RWMutex
	latest *engine.Snapshot
	phase  analysis.SessionPhase
}

// NewRunner creates a runner; configs are validated when instruments register.
func NewRunner(engCfg engine.Config, stratCfg strategy.Config, opts Options) *Runner {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 2 * time.Second
	}
	return &Runner{
		engCfg:   engCfg,
		stratCfg: stratCfg,
		opts:     opts,
		logger:   logging.Default().WithComponent("runner"),
		workers:  make(map[string]*worker),
		done:     make(chan struct{}),
	}
}

// Register adds an instrument. It must be called before Run.
func (r *Runner) Register(inst market.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrRunnerStarted
	}
	if _, ok := r.workers[inst.Key()]; ok {
		return fmt.Errorf("instrument %s already registered", inst)
	}

	p, err := NewPipeline(inst, r.engCfg, r.stratCfg)
	if err != nil {
		return err
	}

	r.workers[inst.Key()] = &worker{
		inst:     inst,
		pipeline: p,
		bars:     make(chan market.Bar, r.opts.BufferSize),
		cmds:     make(chan command),
		logger:   logging.EngineContext(inst.Symbol, inst.Timeframe),
	}
	r.order = append(r.order, inst)
	r.logger.Info("Instrument registered", "instrument", inst.Key(), "policies", len(p.policies))
	return nil
}

// Instruments returns the registered instruments in registration order.
func (r *Runner) Instruments() []market.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]market.Instrument, len(r.order))
	copy(out, r.order)
	return out
}

// Run starts every worker and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRunnerStarted
	}
	r.started = true
	workers := make([]*worker, 0, len(r.workers))
	for _, inst := range r.order {
		workers = append(workers, r.workers[inst.Key()])
	}
	r.mu.Unlock()

	for _, w := range workers {
		r.wg.Add(1)
		go r.work(ctx, w)
	}

	<-ctx.Done()
	close(r.done)
	r.wg.Wait()
	r.logger.Info("Runner stopped")
	return nil
}

func (r *Runner) lookup(inst market.Instrument) (*worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[inst.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, inst)
	}
	return w, nil
}

func (r *Runner) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Submit queues a bar for its instrument. It blocks while the queue is full.
func (r *Runner) Submit(ctx context.Context, inst market.Instrument, bar market.Bar) error {
	w, err := r.lookup(inst)
	if err != nil {
		return err
	}
	if r.stopped() {
		return ErrRunnerStopped
	}
	select {
	case w.bars <- bar:
		return nil
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec runs fn on the instrument's goroutine and waits for it.
func (r *Runner) exec(ctx context.Context, inst market.Instrument, fn func(*Pipeline)) error {
	w, err := r.lookup(inst)
	if err != nil {
		return err
	}
	if r.stopped() {
		return ErrRunnerStopped
	}
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case w.cmds <- cmd:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every bar already submitted for inst has been processed.
func (r *Runner) Flush(ctx context.Context, inst market.Instrument) error {
	return r.exec(ctx, inst, func(*Pipeline) {})
}

// MarkTraded consumes an inverted zone on behalf of an external caller.
func (r *Runner) MarkTraded(ctx context.Context, inst market.Instrument, id analysis.ZoneID) error {
	w, err := r.lookup(inst)
	if err != nil {
		return err
	}

	var markErr error
	err = r.exec(ctx, inst, func(p *Pipeline) {
		if markErr = p.MarkTraded(id); markErr != nil {
			return
		}
		w.refreshTradable(p.Engine().TradableZones())
	})
	if err != nil {
		return err
	}
	if markErr != nil {
		return markErr
	}

	if r.opts.Bus != nil {
		r.opts.Bus.PublishZoneTraded(inst, id)
	}
	w.logger.Info("Zone marked traded", "zone_id", id)
	return nil
}

// Zones returns every live zone of an instrument, optionally filtered by status.
func (r *Runner) Zones(ctx context.Context, inst market.Instrument, status analysis.ZoneStatus) ([]analysis.Zone, error) {
	var zones []analysis.Zone
	err := r.exec(ctx, inst, func(p *Pipeline) {
		switch status {
		case analysis.ZoneActive:
			zones = p.Engine().ActiveZones()
		case analysis.ZoneInverted:
			zones = p.Engine().InvertedZones()
		default:
			zones = p.Engine().Zones()
		}
	})
	return zones, err
}

// Policies lists the policies of an instrument.
func (r *Runner) Policies(ctx context.Context, inst market.Instrument) ([]PolicyInfo, error) {
	var out []PolicyInfo
	err := r.exec(ctx, inst, func(p *Pipeline) { out = p.Policies() })
	return out, err
}

// SetPolicyEnabled switches a policy for one instrument.
func (r *Runner) SetPolicyEnabled(ctx context.Context, inst market.Instrument, name string, on bool) error {
	var setErr error
	if err := r.exec(ctx, inst, func(p *Pipeline) { setErr = p.SetEnabled(name, on) }); err != nil {
		return err
	}
	return setErr
}

// Latest returns a copy of the most recent snapshot of an instrument.
func (r *Runner) Latest(inst market.Instrument) (*engine.Snapshot, bool) {
	w, err := r.lookup(inst)
	if err != nil {
		return nil, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.latest == nil {
		return nil, false
	}
	return w.latest.Clone(), true
}

func (r *Runner) work(ctx context.Context, w *worker) {
	defer r.wg.Done()
	if r.opts.Bus != nil {
		r.opts.Bus.PublishEngineState(w.inst, true)
		defer r.opts.Bus.PublishEngineState(w.inst, false)
	}

	for {
		select {
		case bar := <-w.bars:
			r.process(ctx, w, bar)
		case cmd := <-w.cmds:
			// Commands see every bar submitted before them.
			r.drain(ctx, w)
			cmd.fn(w.pipeline)
			close(cmd.done)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) drain(ctx context.Context, w *worker) {
	for {
		select {
		case bar := <-w.bars:
			r.process(ctx, w, bar)
		default:
			return
		}
	}
}

func (r *Runner) process(ctx context.Context, w *worker, bar market.Bar) {
	start := time.Now()
	inst := w.inst

	snap, signals, err := w.pipeline.Step(bar)
	if err != nil {
		var orderErr *engine.DataOrderError
		if errors.As(err, &orderErr) && r.opts.Metrics != nil {
			r.opts.Metrics.RecordOrderError(inst.Symbol, inst.Timeframe)
		}
		w.logger.WithError(err).Warn("Bar rejected")
		if r.opts.Bus != nil {
			r.opts.Bus.PublishError("engine:"+inst.Key(), "bar rejected", err)
		}
		return
	}

	w.mu.Lock()
	prevPhase := w.phase
	w.phase = snap.Phase
	w.latest = snap.Clone()
	w.mu.Unlock()

	r.record(inst, snap, signals, time.Since(start))
	r.publish(inst, snap, signals, prevPhase)
	r.sink(ctx, w, snap, signals)
}

func (r *Runner) record(inst market.Instrument, snap *engine.Snapshot, signals []strategy.Signal, took time.Duration) {
	m := r.opts.Metrics
	if m == nil {
		return
	}
	m.RecordBar(inst.Symbol, inst.Timeframe, snap.Bar.Close, len(snap.ActiveZones), len(snap.TradableZones), took)
	for _, ev := range snap.ZoneEvents {
		m.RecordZoneEvent(inst.Symbol, inst.Timeframe, string(ev.Kind))
	}
	if snap.Shift != nil {
		m.RecordShift(inst.Symbol, inst.Timeframe, string(snap.Shift.Direction))
	}
	if snap.Warning != nil {
		m.RecordDataQuality(inst.Symbol, inst.Timeframe)
	}
	for _, sig := range signals {
		m.RecordSignal(inst.Symbol, inst.Timeframe, sig.Policy, string(sig.Type))
	}
}

func (r *Runner) publish(inst market.Instrument, snap *engine.Snapshot, signals []strategy.Signal, prevPhase analysis.SessionPhase) {
	bus := r.opts.Bus
	if bus == nil {
		return
	}
	at := snap.Bar.Time

	if snap.Warning != nil {
		bus.PublishDataQuality(inst, snap.Index, at)
	}
	if snap.SwingHigh != nil {
		bus.PublishSwing(inst, *snap.SwingHigh, at)
	}
	if snap.SwingLow != nil {
		bus.PublishSwing(inst, *snap.SwingLow, at)
	}
	if snap.Shift != nil {
		bus.PublishStructureShift(inst, *snap.Shift, at)
	}
	for _, ev := range snap.ZoneEvents {
		bus.PublishZoneEvent(inst, ev, at)
	}
	if prevPhase != "" && prevPhase != snap.Phase {
		bus.PublishPhaseChange(inst, prevPhase, snap.Phase, at)
	}
	for _, sig := range signals {
		bus.PublishSignal(sig)
	}
}

// sink writes to the cache and the journal. Failures are logged and counted;
// they never stop the instrument. Snapshots of skipped bars carry non-finite
// prices and are not cached.
func (r *Runner) sink(ctx context.Context, w *worker, snap *engine.Snapshot, signals []strategy.Signal) {
	for _, sig := range signals {
		logging.SignalContext(sig.Symbol, sig.Policy, string(sig.Type)).Info("Signal generated",
			"entry", sig.EntryPrice, "stop", sig.StopLoss, "target", sig.TakeProfit, "reason", sig.Reason)
	}

	if r.opts.Cache != nil && snap.Warning == nil {
		sctx, cancel := context.WithTimeout(ctx, r.opts.SinkTimeout)
		if err := r.opts.Cache.StoreSnapshot(sctx, snap); err != nil {
			r.sinkFailed(w, "cache", err)
		}
		cancel()
	}

	if r.opts.Journal != nil {
		sctx, cancel := context.WithTimeout(ctx, r.opts.SinkTimeout)
		if err := r.opts.Journal.RecordSnapshot(sctx, snap); err != nil {
			r.sinkFailed(w, "journal", err)
		}
		if err := r.opts.Journal.RecordSignals(sctx, signals); err != nil {
			r.sinkFailed(w, "journal", err)
		}
		cancel()
	}
}

func (r *Runner) sinkFailed(w *worker, sink string, err error) {
	w.logger.WithError(err).Warn("Sink write failed", "sink", sink)
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordSinkError(sink)
	}
}

func (w *worker) refreshTradable(zones []analysis.Zone) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest != nil {
		w.latest.TradableZones = zones
	}
}
