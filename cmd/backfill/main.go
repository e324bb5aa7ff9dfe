// Trade backfill CLI
// This application downloads the historical trades of Kraken pairs into a
// local store, resuming where earlier runs stopped, and serves the stored
// trades and candles built from them.
//
// Usage:
//
//	backfill download --pair XBTUSD --start 2023-01-01 --end 2023-02-01
//	backfill trades --pair XBTUSD --start 2023-01-01 --end 2023-01-02
//	backfill charts --pair XBTUSD --start 2023-01-01 --end 2023-01-02 --interval 1h
//	backfill serve --addr :8080
//
// For detailed help on any command, use: backfill <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/johnayoung/go-trade-backfill/internal/collector"
	"github.com/johnayoung/go-trade-backfill/internal/config"
	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/exchange"
	"github.com/johnayoung/go-trade-backfill/internal/logger"
	"github.com/johnayoung/go-trade-backfill/internal/metrics"
	"github.com/johnayoung/go-trade-backfill/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "backfill"
	ConfigFile = "backfill.yaml"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI represents the main CLI application
type CLI struct {
	config    *config.AppConfig
	logs      *logger.LoggerManager
	logger    *slog.Logger
	metrics   *metrics.MetricsCollector
	storage   storage.TradeStore
	exchange  *exchange.KrakenAdapter
	collector *collector.Collector
}

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}
	if wantsHelp(args) {
		printCommandHelp(command)
		return
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}

	if err := cli.run(ctx, command, handler, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(ctx, err))
	}
}

// run executes a command handler and releases the CLI's resources. A failure
// is logged while the log file is still open.
func (cli *CLI) run(ctx context.Context, command string, handler func(*CLI, context.Context, []string) error, args []string) error {
	defer cli.close()
	err := handler(cli, ctx, args)
	if err != nil {
		cli.logger.Error(command+" failed", "error", err, "error_type", apperrors.Classify(err))
	}
	return err
}

// commands maps command names to their handlers.
var commands = map[string]func(*CLI, context.Context, []string) error{
	"download": (*CLI).handleDownload,
	"trades":   (*CLI).handleTrades,
	"charts":   (*CLI).handleCharts,
	"pairs":    (*CLI).handlePairs,
	"export":   (*CLI).handleExport,
	"serve":    (*CLI).handleServe,
}

// exitCode maps a command error to the process exit code.
func exitCode(ctx context.Context, err error) int {
	var usage *usageError
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.As(err, &usage), errors.Is(err, apperrors.ErrInvalidRequest):
		return ExitUsageError
	case errors.Is(err, apperrors.ErrRetryExhausted):
		return ExitConnectionErr
	default:
		return ExitDataError
	}
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = ConfigFile
	}
	cfg, err := config.NewConfigManager(configPath, slog.Default()).LoadConfig(ctx)
	if err != nil {
		return err
	}
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()
	cli.metrics = metrics.NewMetricsCollector(cli.logger)

	store, err := storage.New(cfg.Storage, logs.GetComponentLogger("storage").Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	cli.storage = store

	kc := exchange.KrakenConfigFrom(cfg.Exchange)
	kc.UserAgent = AppName + "/" + Version
	cli.exchange = exchange.NewKrakenAdapter(kc, logs.GetComponentLogger("exchange").Logger, cli.metrics)

	cli.collector = collector.New(cli.exchange, cli.storage, collector.Config{
		WorkerCount: cfg.Collector.WorkerCount,
		Epsilon:     cfg.Exchange.CursorEpsilon,
		PairMarker:  cfg.Exchange.PairMarker,
		Logger:      logs.GetComponentLogger("collector").Logger,
		Metrics:     cli.metrics,
	})

	return nil
}

// close releases the store and the log writer.
func (cli *CLI) close() {
	cli.metrics.LogSummary()
	if cli.storage != nil {
		if err := cli.storage.Close(); err != nil {
			cli.logger.Warn("failed to close storage", "error", err)
		}
	}
	if cli.logs != nil {
		_ = cli.logs.Close()
	}
}
