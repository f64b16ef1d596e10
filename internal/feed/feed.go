// Package feed delivers bars to the engine runner, either replayed from CSV
// files or streamed from an exchange kline websocket.
package feed

import (
	"context"
	"fmt"

	"smc-engine/internal/logging"
	"smc-engine/internal/market"
)

// BarSink accepts bars for a registered instrument.
type BarSink interface {
	Submit(ctx context.Context, inst market.Instrument, bar market.Bar) error
}

// Replay submits bars in order and stops at the first error.
func Replay(ctx context.Context, inst market.Instrument, bars []market.Bar, sink BarSink) error {
	logger := logging.FeedContext("csv", inst.Key())
	logger.Info("Replaying bars", "count", len(bars))

	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Submit(ctx, inst, b); err != nil {
			return fmt.Errorf("submit bar %d of %s: %w", i, inst, err)
		}
	}

	logger.Info("Replay complete", "count", len(bars))
	return nil
}
