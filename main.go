package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"smc-engine/config"
	"smc-engine/internal/api"
	"smc-engine/internal/auth"
	"smc-engine/internal/bot"
	"smc-engine/internal/cache"
	"smc-engine/internal/database"
	"smc-engine/internal/events"
	"smc-engine/internal/feed"
	"smc-engine/internal/logging"
	"smc-engine/internal/market"
	"smc-engine/internal/metrics"
	"smc-engine/internal/vault"
)

func main() {
	// CONFIG_FILE wins; otherwise config.json is used when present.
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		if _, err := os.Stat("config.json"); err == nil {
			configPath = "config.json"
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Fatal("Failed to load configuration", "error", err)
	}

	// Initialize structured logging
	logCfg := cfg.Logging
	logCfg.Component = "main"
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "instruments", len(cfg.Instruments))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets from Vault override file and env passwords
	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		logger.Fatal("Failed to create vault client", "error", err)
	}
	if vaultClient.IsEnabled() {
		if err := vaultClient.ApplyCredentials(ctx, cfg); err != nil {
			logger.Fatal("Failed to read credentials from vault", "error", err)
		}
	}

	eventBus := events.NewEventBus()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New(nil)
	}

	opts := bot.Options{
		Bus:        eventBus,
		Metrics:    recorder,
		BufferSize: cfg.Feed.BufferSize,
	}

	// Redis snapshot cache
	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to create cache service", "error", err)
		}
		defer cacheService.Close()
		opts.Cache = cacheService
	}

	// PostgreSQL event journal
	var repo *database.Repository
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}

		repo = database.NewRepository(db)
		if err := repo.StartRun(ctx, cfg.Instruments); err != nil {
			logger.Fatal("Failed to record run", "error", err)
		}
		defer func() {
			finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.FinishRun(finishCtx); err != nil {
				logger.Warn("Failed to close run", "error", err)
			}
		}()
		opts.Journal = repo
		logger.Info("Event journal enabled", "run_id", repo.RunID().String())
	}

	runner := bot.NewRunner(cfg.Engine, cfg.Strategy, opts)
	for _, inst := range cfg.Instruments {
		if err := runner.Register(inst); err != nil {
			logger.Fatal("Failed to register instrument", "instrument", inst.Key(), "error", err)
		}
	}

	var wg sync.WaitGroup
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(runCtx); err != nil {
			logger.Error("Runner stopped with error", "error", err)
		}
	}()

	// HTTP + WebSocket API
	var server *api.Server
	if cfg.Server.Enabled {
		apiOpts := api.Options{Bus: eventBus, MetricsPath: cfg.Metrics.Path}
		if cacheService != nil {
			apiOpts.Cache = cacheService
		}
		if repo != nil {
			apiOpts.Journal = repo
		}
		if vaultClient.IsEnabled() {
			apiOpts.Secrets = vaultClient
		}
		if recorder != nil {
			apiOpts.Metrics = recorder.Handler()
		}
		if cfg.Auth.Enabled {
			apiOpts.JWT = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration)
		}

		server = api.NewServer(cfg.Server, runner, apiOpts)
		go func() {
			if err := server.Start(runCtx); err != nil {
				logger.Error("HTTP server failed", "error", err)
				stop()
			}
		}()
	}

	// Bar feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runFeed(ctx, cfg, runner, eventBus); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Feed stopped with error", "source", cfg.Feed.Source, "error", err)
		}
	}()

	logger.Info("SMC engine started", "feed", cfg.Feed.Source, "api", cfg.Server.Enabled)
	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down web server", "error", err)
		}
	}

	cancelRun()
	wg.Wait()
	logger.Info("Shutdown complete")
}

// runFeed replays CSV files or follows the live kline stream until ctx is done.
func runFeed(ctx context.Context, cfg *config.Config, runner *bot.Runner, bus *events.EventBus) error {
	switch cfg.Feed.Source {
	case "csv":
		for _, inst := range cfg.Instruments {
			path := csvPath(cfg.Feed.CSVPath, inst)
			bars, err := feed.LoadCSV(path, nil)
			if err != nil {
				return err
			}
			if err := feed.Replay(ctx, inst, bars, runner); err != nil {
				return err
			}
			if err := runner.Flush(ctx, inst); err != nil {
				return err
			}
		}
		return nil

	default:
		stream, err := feed.NewKlineStream(cfg.Feed.StreamURL, cfg.Instruments, runner, feed.StreamOptions{Bus: bus})
		if err != nil {
			return err
		}
		return stream.Run(ctx)
	}
}

// csvPath expands {symbol} and {timeframe} in the configured path.
func csvPath(pattern string, inst market.Instrument) string {
	return strings.NewReplacer("{symbol}", inst.Symbol, "{timeframe}", inst.Timeframe).Replace(pattern)
}
