// Command server serves the read API over an existing entity database
// without running the indexer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/api"
	"github.com/zilstream/pancake-indexer/internal/config"
	"github.com/zilstream/pancake-indexer/internal/database"
	"github.com/zilstream/pancake-indexer/internal/metrics"
	"github.com/zilstream/pancake-indexer/internal/rpc"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("config", configPath).Msg("Starting Pancake API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect database")
	}
	defer db.Close()

	var head api.ChainHead
	if rpcClient, err := rpc.NewClient(ctx, cfg.Chain.RPCEndpoint, cfg.Chain.ChainID, logger); err != nil {
		logger.Warn().Err(err).Msg("RPC unavailable, health will report it")
	} else {
		defer rpcClient.Close()
		head = rpcClient
	}

	server := api.NewServer(database.NewEntityStore(db.Pool()), db, head, nil, logger)
	if err := server.Start(ctx, fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		logger.Fatal().Err(err).Msg("API server failed")
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		return zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
}
