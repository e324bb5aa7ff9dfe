// Package export writes stored trades and the candles built from them as
// Parquet files, to a local directory or to S3.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/johnayoung/go-trade-backfill/internal/logger"
	"github.com/johnayoung/go-trade-backfill/internal/metrics"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// Kinds of export.
const (
	KindTrades  = "trades"
	KindCandles = "candles"
)

const keyTimeLayout = "20060102T150405Z"

// TradeSource reads the data to export.
type TradeSource interface {
	Trades(ctx context.Context, pair string, start, end time.Time) ([]models.Trade, error)
	Charts(ctx context.Context, pair string, start, end time.Time, interval time.Duration) ([]models.Candle, error)
}

// Result describes a written export.
type Result struct {
	Pair string `json:"pair"`
	Kind string `json:"kind"`
	Key  string `json:"key"`
	URI  string `json:"uri"`
	Rows int    `json:"rows"`
}

// Exporter encodes trades and candles to Parquet and hands them to a Sink.
type Exporter struct {
	source      TradeSource
	sink        Sink
	compression parquet.CompressionCodec
	logger      *slog.Logger
	metrics     *metrics.MetricsCollector
}

// NewExporter creates an exporter. compression is snappy, gzip or none.
func NewExporter(src TradeSource, sink Sink, compression string, logger *slog.Logger, m *metrics.MetricsCollector) (*Exporter, error) {
	codec, err := parseCompression(compression)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		source:      src,
		sink:        sink,
		compression: codec,
		logger:      logger,
		metrics:     m,
	}, nil
}

func parseCompression(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "", "none":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression %q", name)
	}
}

// ExportTrades writes the stored trades of pair within [start, end].
func (e *Exporter) ExportTrades(ctx context.Context, pair string, start, end time.Time) (*Result, error) {
	ctx = logger.WithPair(ctx, pair)
	trades, err := e.source.Trades(ctx, pair, start, end)
	if err != nil {
		return nil, err
	}

	rows := make([]interface{}, len(trades))
	for i, t := range trades {
		rows[i] = tradeRecord(pair, t)
	}
	return e.write(ctx, pair, KindTrades, Key(pair, KindTrades, start, end), new(TradeRecord), rows)
}

// ExportCandles writes the candles of pair for [start, end) at interval.
func (e *Exporter) ExportCandles(ctx context.Context, pair string, start, end time.Time, interval time.Duration) (*Result, error) {
	ctx = logger.WithInterval(logger.WithPair(ctx, pair), FormatInterval(interval))
	candles, err := e.source.Charts(ctx, pair, start, end, interval)
	if err != nil {
		return nil, err
	}

	rows := make([]interface{}, len(candles))
	for i, c := range candles {
		rows[i] = candleRecord(pair, c)
	}
	kind := KindCandles + "_" + FormatInterval(interval)
	return e.write(ctx, pair, kind, Key(pair, kind, start, end), new(CandleRecord), rows)
}

func (e *Exporter) write(ctx context.Context, pair, kind, key string, schema interface{}, rows []interface{}) (*Result, error) {
	log := logger.FromContext(ctx, e.logger).With("kind", kind, "key", key)

	file, err := e.sink.Create(ctx, key)
	if err != nil {
		return nil, err
	}

	pw, err := writer.NewParquetWriter(file, schema, 1)
	if err != nil {
		discard(file)
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = e.compression

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			discard(file)
			return nil, fmt.Errorf("write %s record: %w", kind, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		discard(file)
		return nil, fmt.Errorf("finalize %s parquet: %w", kind, err)
	}
	if err := file.Close(); err != nil {
		log.Error("failed to commit export", "error", err)
		return nil, err
	}

	e.metrics.RecordCounter(metrics.ExportsWritten, map[string]string{"kind": strings.SplitN(kind, "_", 2)[0]})
	result := &Result{Pair: pair, Kind: kind, Key: key, URI: e.sink.URI(key), Rows: len(rows)}
	log.Info("export written", "uri", result.URI, "rows", result.Rows)
	return result, nil
}

// Key returns the object key of an export:
// pair=<PAIR>/kind=<kind>/<start>_<end>_<uuid>.parquet.
func Key(pair, kind string, start, end time.Time) string {
	return fmt.Sprintf("pair=%s/kind=%s/%s_%s_%s.parquet",
		pair, kind,
		start.UTC().Format(keyTimeLayout),
		end.UTC().Format(keyTimeLayout),
		uuid.NewString())
}

// FormatInterval renders an interval in its largest whole unit, such as 1h,
// 15m or 30s.
func FormatInterval(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// ReadTrades reads a trade export back from a local file.
func ReadTrades(path string) ([]TradeRecord, error) {
	var rows []TradeRecord
	if err := readFile(path, new(TradeRecord), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadCandles reads a candle export back from a local file.
func ReadCandles(path string) ([]CandleRecord, error) {
	var rows []CandleRecord
	if err := readFile(path, new(CandleRecord), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func readFile(path string, schema interface{}, dst interface{}) error {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, schema, 1)
	if err != nil {
		return fmt.Errorf("new parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	switch rows := dst.(type) {
	case *[]TradeRecord:
		*rows = make([]TradeRecord, n)
	case *[]CandleRecord:
		*rows = make([]CandleRecord, n)
	}
	if n == 0 {
		return nil
	}
	if err := pr.Read(dst); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
