package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zilstream/pancake-indexer/internal/api"
	"github.com/zilstream/pancake-indexer/internal/config"
	"github.com/zilstream/pancake-indexer/internal/database"
	"github.com/zilstream/pancake-indexer/internal/metrics"
	"github.com/zilstream/pancake-indexer/internal/modules/core"
	"github.com/zilstream/pancake-indexer/internal/modules/loader"
	"github.com/zilstream/pancake-indexer/internal/modules/pancake"
	"github.com/zilstream/pancake-indexer/internal/processor"
	"github.com/zilstream/pancake-indexer/internal/realtime"
	"github.com/zilstream/pancake-indexer/internal/rpc"
	"github.com/zilstream/pancake-indexer/internal/scheduler"
)

const version = "0.1.0"

func main() {
	var configPath string
	var migrateOnly, printManifest bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults and INDEXER_* env when empty)")
	flag.BoolVar(&migrateOnly, "migrate-only", false, "Apply database migrations and exit")
	flag.BoolVar(&printManifest, "print-manifest", false, "Print the effective module manifest as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)

	if printManifest {
		if err := writeManifest(os.Stdout, cfg.Module, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to print manifest")
		}
		return
	}

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("chain", cfg.Chain.Name).
		Msg("Starting Pancake indexer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(ctx, cfg.Database.ConnectionString(), logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	if migrateOnly {
		logger.Info().Msg("Migrations applied")
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Indexer failed")
	}
	logger.Info().Msg("Indexer shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	metrics.MustRegister()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	rpcClient, err := rpc.NewClient(ctx, cfg.Chain.RPCEndpoint, cfg.Chain.ChainID, logger)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer rpcClient.Close()

	manifest, err := loadManifest(cfg.Module, logger)
	if err != nil {
		return err
	}
	module, err := pancake.NewPancakeModule(manifest, logger)
	if err != nil {
		return fmt.Errorf("failed to create module: %w", err)
	}
	module.SetTokenReader(rpc.NewERC20Reader(rpcClient.Eth()))

	store := database.NewEntityStore(db.Pool())
	module.SetPairLister(store)

	var publisher *realtime.Publisher
	if cfg.Realtime.Enabled {
		publisher = realtime.NewPublisher(realtime.PublishConfig{
			APIURL: cfg.Realtime.APIURL,
			APIKey: cfg.Realtime.APIKey,
		}, store, logger)
		module.SetNotifier(publisher)
		publisher.Start()
		defer publisher.Close()
	}

	registry := core.NewModuleRegistry(logger)
	if err := registry.RegisterModule(ctx, module); err != nil {
		return fmt.Errorf("failed to register module: %w", err)
	}
	if err := registry.Start(); err != nil {
		return err
	}
	defer registry.Stop()

	startBlock := registry.StartBlock()
	if cfg.Chain.StartBlock > 0 {
		startBlock = cfg.Chain.StartBlock
	}

	writer := database.NewAtomicEventWriter(db, cfg.Chain.ChainID, logger)
	indexer := processor.NewIndexer(rpcClient, registry, writer, processor.Options{
		StartBlock:           startBlock,
		BatchSize:            cfg.Processor.BatchSize,
		Confirmations:        cfg.Processor.Confirmations,
		PollInterval:         cfg.Chain.BlockTime,
		MaxConsecutiveErrors: cfg.Processor.MaxConsecutiveErrors,
	}, logger)
	if publisher != nil {
		indexer.SetObserver(publisher)
		indexer.SetCommitObserver(publisher)
	}

	reporter, err := scheduler.NewSummaryReporter(store, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create summary reporter: %w", err)
	}
	if err := reporter.Start(ctx, cfg.Scheduler.SummaryInterval); err != nil {
		return err
	}
	defer reporter.Stop()

	server := api.NewServer(store, db, rpcClient, indexer, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, fmt.Sprintf(":%d", cfg.Server.Port))
	})
	g.Go(func() error {
		err := indexer.Run(gctx)
		if err == nil && ctx.Err() == nil {
			return errors.New("indexer stopped unexpectedly")
		}
		return err
	})

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info().Msg("Received shutdown signal")
		return nil
	}
	return err
}

func loadManifest(cfg config.ModuleConfig, logger zerolog.Logger) (*core.Manifest, error) {
	if cfg.ManifestPath == "" {
		return pancake.DefaultManifest(logger)
	}
	manifest, err := loader.NewManifestLoader(logger).LoadFromFile(cfg.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", cfg.ManifestPath, err)
	}
	return manifest, nil
}

// writeManifest serializes the manifest the indexer would run with, a starting
// point for a custom module.manifest_path.
func writeManifest(w io.Writer, cfg config.ModuleConfig, logger zerolog.Logger) error {
	manifest, err := loadManifest(cfg, logger)
	if err != nil {
		return err
	}
	return loader.NewManifestLoader(logger).WriteManifest(w, manifest)
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
}
