// Command replay runs one CSV file through the engine and its policies and
// prints what happened: zone lifecycle counts, structure shifts, signals per
// policy and data-quality problems. Bars that are not later than the bar
// before them are skipped and counted.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"smc-engine/config"
	"smc-engine/internal/bot"
	"smc-engine/internal/engine"
	"smc-engine/internal/feed"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
	"smc-engine/internal/strategy"
)

type replayFlags struct {
	csvPath    string
	symbol     string
	timeframe  string
	configPath string
	tz         string
	resample   string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:          "replay",
		Short:        "Replay a CSV of bars through the SMC engine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.csvPath, "csv", "", "path to the OHLCV CSV file")
	cmd.Flags().StringVar(&f.symbol, "symbol", "BTCUSDT", "instrument symbol")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", "1m", "timeframe label of the CSV bars")
	cmd.Flags().StringVar(&f.configPath, "config", "", "optional JSON config for engine and strategy settings")
	cmd.Flags().StringVar(&f.tz, "tz", "UTC", "timezone for timestamps without an offset")
	cmd.Flags().StringVar(&f.resample, "resample", "", "aggregate bars to this timeframe first (e.g. 5m, 1h)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "print every signal")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func runReplay(cmd *cobra.Command, f replayFlags) error {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logCfg := cfg.Logging
	logCfg.Component = "replay"
	logging.SetDefault(logging.NewWithWriter(&logCfg, cmd.ErrOrStderr()))

	loc, err := time.LoadLocation(f.tz)
	if err != nil {
		return fmt.Errorf("invalid --tz: %w", err)
	}

	bars, err := feed.LoadCSV(f.csvPath, loc)
	if err != nil {
		return err
	}

	inst := market.Instrument{Symbol: strings.ToUpper(f.symbol), Timeframe: f.timeframe}
	if f.resample != "" {
		d, err := feed.ParseTimeframe(f.resample)
		if err != nil {
			return fmt.Errorf("invalid --resample: %w", err)
		}
		bars = feed.Resample(bars, d)
		inst.Timeframe = f.resample
	}

	pipeline, err := bot.NewPipeline(inst, cfg.Engine, cfg.Strategy)
	if err != nil {
		return err
	}

	sum := newSummary(inst)
	out := cmd.OutOrStdout()
	err = pipeline.Run(bars, func(snap *engine.Snapshot, signals []strategy.Signal) {
		sum.observe(snap, signals)
		if f.verbose {
			for _, sig := range signals {
				fmt.Fprintf(out, "%s %-4s %-16s entry=%.4f sl=%.4f tp=%.4f %s\n",
					sig.Timestamp.Format(time.RFC3339), sig.Type, sig.Policy,
					sig.EntryPrice, sig.StopLoss, sig.TakeProfit, sig.Reason)
			}
		}
	}, sum.reject)
	if err != nil {
		return err
	}

	sum.write(out)
	return nil
}
