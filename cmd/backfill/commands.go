package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/johnayoung/go-trade-backfill/internal/api"
	"github.com/johnayoung/go-trade-backfill/internal/collector"
	"github.com/johnayoung/go-trade-backfill/internal/export"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// parseRange parses the --start and --end values. An empty end means now.
func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := models.ParseTime(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, usagef("invalid --start: %v", err)
	}
	end := time.Now().UTC()
	if endStr != "" {
		if end, err = models.ParseTime(endStr); err != nil {
			return time.Time{}, time.Time{}, usagef("invalid --end: %v", err)
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, usagef("--end must be after --start")
	}
	return start, end, nil
}

// handleDownload handles the 'download' command
func (cli *CLI) handleDownload(ctx context.Context, args []string) error {
	flags, err := parseDownloadFlags(args)
	if err != nil {
		return err
	}
	start, end, err := parseRange(flags.Start, flags.End)
	if err != nil {
		return err
	}

	pairs := flags.Pairs
	if len(pairs) == 0 {
		pairs = cli.config.Collector.DefaultPairs
	}
	if len(pairs) == 0 {
		return usagef("--pair is required")
	}

	c := cli.collector
	if flags.Workers > 0 {
		c = collector.New(cli.exchange, cli.storage, collector.Config{
			WorkerCount: flags.Workers,
			Epsilon:     cli.config.Exchange.CursorEpsilon,
			PairMarker:  cli.config.Exchange.PairMarker,
			Logger:      cli.logger,
			Metrics:     cli.metrics,
		})
	}

	cli.logger.Info("Starting trade download",
		"pairs", pairs,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339))

	if len(pairs) == 1 {
		d, err := c.Download(ctx, pairs[0], start, end)
		if d != nil {
			fmt.Println(d.Summary())
		}
		return err
	}

	runs, err := c.DownloadAll(ctx, pairs, start, end)
	for _, d := range runs {
		fmt.Println(d.Summary())
	}
	return err
}

// handleTrades handles the 'trades' command
func (cli *CLI) handleTrades(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args, false)
	if err != nil {
		return err
	}
	start, end, err := parseRange(flags.Start, flags.End)
	if err != nil {
		return err
	}

	trades, err := cli.collector.Trades(ctx, flags.Pair, start, end)
	if err != nil {
		return err
	}
	return writeTrades(os.Stdout, trades, flags.Format, flags.Limit)
}

// handleCharts handles the 'charts' command
func (cli *CLI) handleCharts(ctx context.Context, args []string) error {
	flags, err := parseQueryFlags(args, true)
	if err != nil {
		return err
	}
	start, end, err := parseRange(flags.Start, flags.End)
	if err != nil {
		return err
	}
	interval, err := models.ParseInterval(flags.Interval)
	if err != nil {
		return usagef("invalid --interval: %v", err)
	}

	candles, err := cli.collector.Charts(ctx, flags.Pair, start, end, interval)
	if err != nil {
		return err
	}
	return writeCandles(os.Stdout, candles, flags.Format, flags.Limit)
}

// handlePairs handles the 'pairs' command
func (cli *CLI) handlePairs(ctx context.Context, args []string) error {
	flags, err := parsePairsFlags(args)
	if err != nil {
		return err
	}

	var pairs []string
	if flags.Local {
		pairs, err = cli.collector.LocalPairs(ctx)
	} else {
		pairs, err = cli.collector.Pairs(ctx)
	}
	if err != nil {
		return err
	}
	return writePairs(os.Stdout, pairs, flags.Format)
}

// handleExport handles the 'export' command
func (cli *CLI) handleExport(ctx context.Context, args []string) error {
	flags, err := parseExportFlags(args)
	if err != nil {
		return err
	}
	start, end, err := parseRange(flags.Start, flags.End)
	if err != nil {
		return err
	}

	exp, err := cli.exporter(ctx)
	if err != nil {
		return err
	}

	var res *export.Result
	if flags.Kind == export.KindCandles {
		interval, err := models.ParseInterval(flags.Interval)
		if err != nil {
			return usagef("invalid --interval: %v", err)
		}
		res, err = exp.ExportCandles(ctx, flags.Pair, start, end, interval)
		if err != nil {
			return err
		}
	} else {
		res, err = exp.ExportTrades(ctx, flags.Pair, start, end)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Exported %d %s rows to %s\n", res.Rows, res.Kind, res.URI)
	return nil
}

// handleServe handles the 'serve' command
func (cli *CLI) handleServe(ctx context.Context, args []string) error {
	flags, err := parseServeFlags(args)
	if err != nil {
		return err
	}
	addr := cli.config.API.Addr
	if flags.Addr != "" {
		addr = flags.Addr
	}

	exp, err := cli.exporter(ctx)
	if err != nil {
		return err
	}

	h := api.NewAPIHandler(cli.collector, api.Options{
		Exporter:    exp,
		Metrics:     cli.metrics,
		Logger:      cli.logs.GetComponentLogger("api").Logger,
		Version:     Version,
		BaseContext: ctx,
	})
	return api.NewServer(addr, h, cli.config.API.ShutdownTimeoutDuration()).Run(ctx)
}

func (cli *CLI) exporter(ctx context.Context) (*export.Exporter, error) {
	sink, err := export.NewSink(ctx, cli.config.Export)
	if err != nil {
		return nil, fmt.Errorf("failed to create export sink: %w", err)
	}
	return export.NewExporter(cli.collector, sink, cli.config.Export.Compression,
		cli.logs.GetComponentLogger("export").Logger, cli.metrics)
}
