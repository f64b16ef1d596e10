package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"smc-engine/internal/analysis"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

// Repository journals engine output for one run. The journal is append-only
// and is never read back into an engine.
type Repository struct {
	db    *DB
	runID uuid.UUID
}

// NewRepository creates a repository with a fresh run ID
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, runID: uuid.New()}
}

// RunID identifies every row this repository writes
func (r *Repository) RunID() uuid.UUID {
	return r.runID
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// RUNS
// ============================================================================

// StartRun inserts the run row
func (r *Repository) StartRun(ctx context.Context, instruments []market.Instrument) error {
	keys := make([]string, len(instruments))
	for i, inst := range instruments {
		keys[i] = inst.Key()
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO runs (id, instruments) VALUES ($1, $2)`,
		r.runID, strings.Join(keys, ","),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stamps the run's finish time
func (r *Repository) FinishRun(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE runs SET finished_at = NOW() WHERE id = $1`, r.runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ============================================================================
// ENGINE EVENTS
// ============================================================================

const insertZoneEvent = `
	INSERT INTO zone_events (run_id, symbol, timeframe, bar_index, bar_time, kind, zone_id, direction, top, bottom, created_at_index)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertStructureEvent = `
	INSERT INTO structure_events (run_id, symbol, timeframe, bar_index, bar_time, kind, direction, price, candle_index)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const insertSignal = `
	INSERT INTO signals (run_id, symbol, timeframe, policy, signal_type, zone_id, bar_index, entry_price, stop_loss, take_profit, reason, bar_time)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// RecordSnapshot writes the swings, shift and zone transitions of one bar in
// a single batch. Bars without events are skipped.
func (r *Repository) RecordSnapshot(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil || !snap.HasEvents() {
		return nil
	}
	return r.sendBatch(ctx, snapshotBatch(r.runID, snap))
}

// RecordSignals writes policy signals in a single batch
func (r *Repository) RecordSignals(ctx context.Context, signals []strategy.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	return r.sendBatch(ctx, signalBatch(r.runID, signals))
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := r.db.Pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("journal batch statement %d: %w", i+1, err)
		}
	}
	return br.Close()
}

func snapshotBatch(runID uuid.UUID, snap *engine.Snapshot) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, rec := range structureEventRecords(runID, snap) {
		batch.Queue(insertStructureEvent,
			rec.RunID, rec.Symbol, rec.Timeframe, rec.BarIndex, rec.BarTime,
			rec.Kind, rec.Direction, rec.Price, rec.CandleIndex,
		)
	}
	for _, rec := range zoneEventRecords(runID, snap) {
		batch.Queue(insertZoneEvent,
			rec.RunID, rec.Symbol, rec.Timeframe, rec.BarIndex, rec.BarTime,
			rec.Kind, rec.ZoneID, rec.Direction, rec.Top, rec.Bottom, rec.CreatedAtIndex,
		)
	}
	return batch
}

func signalBatch(runID uuid.UUID, signals []strategy.Signal) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, sig := range signals {
		rec := signalRecord(runID, sig)
		batch.Queue(insertSignal,
			rec.RunID, rec.Symbol, rec.Timeframe, rec.Policy, rec.SignalType, rec.ZoneID,
			rec.BarIndex, rec.EntryPrice, rec.StopLoss, rec.TakeProfit, rec.Reason, rec.BarTime,
		)
	}
	return batch
}

func structureEventRecords(runID uuid.UUID, snap *engine.Snapshot) []StructureEventRecord {
	base := StructureEventRecord{
		RunID:     runID,
		Symbol:    snap.Instrument.Symbol,
		Timeframe: snap.Instrument.Timeframe,
		BarIndex:  snap.Index,
		BarTime:   snap.Bar.Time,
	}

	var out []StructureEventRecord
	for _, sp := range []*analysis.SwingPoint{snap.SwingHigh, snap.SwingLow} {
		if sp == nil {
			continue
		}
		rec := base
		rec.Kind = StructureKindSwingLow
		if sp.Kind == analysis.SwingHigh {
			rec.Kind = StructureKindSwingHigh
		}
		rec.Price = sp.Price
		candle := sp.CandleIndex
		rec.CandleIndex = &candle
		out = append(out, rec)
	}
	if snap.Shift != nil {
		rec := base
		rec.Kind = StructureKindShift
		dir := string(snap.Shift.Direction)
		rec.Direction = &dir
		rec.Price = snap.Shift.BrokenLevel
		out = append(out, rec)
	}
	return out
}

func zoneEventRecords(runID uuid.UUID, snap *engine.Snapshot) []ZoneEventRecord {
	out := make([]ZoneEventRecord, 0, len(snap.ZoneEvents))
	for _, ev := range snap.ZoneEvents {
		out = append(out, ZoneEventRecord{
			RunID:          runID,
			Symbol:         snap.Instrument.Symbol,
			Timeframe:      snap.Instrument.Timeframe,
			BarIndex:       ev.Index,
			BarTime:        snap.Bar.Time,
			Kind:           string(ev.Kind),
			ZoneID:         int64(ev.Zone.ID),
			Direction:      string(ev.Zone.Direction),
			Top:            ev.Zone.Top,
			Bottom:         ev.Zone.Bottom,
			CreatedAtIndex: ev.Zone.CreatedAt,
		})
	}
	return out
}

func signalRecord(runID uuid.UUID, sig strategy.Signal) SignalRecord {
	rec := SignalRecord{
		RunID:      runID,
		Symbol:     sig.Symbol,
		Timeframe:  sig.Timeframe,
		Policy:     sig.Policy,
		SignalType: string(sig.Type),
		BarIndex:   sig.Index,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Reason:     sig.Reason,
		BarTime:    sig.Timestamp,
	}
	if sig.ZoneID != 0 {
		id := int64(sig.ZoneID)
		rec.ZoneID = &id
	}
	return rec
}

// ============================================================================
// QUERIES
// ============================================================================

// RecentSignals returns the newest signals for an instrument across runs
func (r *Repository) RecentSignals(ctx context.Context, inst market.Instrument, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, run_id, symbol, timeframe, policy, signal_type, zone_id, bar_index,
		       entry_price, stop_loss, take_profit, COALESCE(reason, ''), bar_time, created_at
		FROM signals
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY bar_time DESC, id DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, inst.Symbol, inst.Timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Symbol, &rec.Timeframe, &rec.Policy, &rec.SignalType,
			&rec.ZoneID, &rec.BarIndex, &rec.EntryPrice, &rec.StopLoss, &rec.TakeProfit,
			&rec.Reason, &rec.BarTime, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ZoneHistory returns every journaled transition of one zone in this run
func (r *Repository) ZoneHistory(ctx context.Context, inst market.Instrument, id analysis.ZoneID) ([]ZoneEventRecord, error) {
	query := `
		SELECT id, run_id, symbol, timeframe, bar_index, bar_time, kind, zone_id, direction, top, bottom, created_at_index
		FROM zone_events
		WHERE run_id = $1 AND symbol = $2 AND timeframe = $3 AND zone_id = $4
		ORDER BY bar_index, id
	`
	rows, err := r.db.Pool.Query(ctx, query, r.runID, inst.Symbol, inst.Timeframe, int64(id))
	if err != nil {
		return nil, fmt.Errorf("query zone events: %w", err)
	}
	defer rows.Close()

	var out []ZoneEventRecord
	for rows.Next() {
		var rec ZoneEventRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Symbol, &rec.Timeframe, &rec.BarIndex, &rec.BarTime,
			&rec.Kind, &rec.ZoneID, &rec.Direction, &rec.Top, &rec.Bottom, &rec.CreatedAtIndex,
		); err != nil {
			return nil, fmt.Errorf("scan zone event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
