package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const (
	csvExt       = ".csv"
	tailReadSize = 4096
)

var csvHeader = []string{"date", "time", "size", "price", "side", "order_type"}

// CSVStorage keeps one <pair>.csv file per pair under a directory. Rows are
// appended in download order, so file order is insertion order.
type CSVStorage struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewCSVStorage creates a CSV store rooted at dir.
func NewCSVStorage(dir string, logger *slog.Logger) *CSVStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVStorage{dir: dir, logger: logger}
}

// Initialize creates the data directory.
func (c *CSVStorage) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return NewStorageError("initialize", "", "", fmt.Errorf("failed to create data directory: %w", err))
	}
	c.logger.Info("CSV storage initialized", "dir", c.dir)
	return nil
}

// Close implements StorageManager.
func (c *CSVStorage) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// HealthCheck verifies the data directory is reachable.
func (c *CSVStorage) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return NewStorageError("health_check", "", "", ErrClosed)
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		return NewStorageError("health_check", "", "", err)
	}
	if !info.IsDir() {
		return NewStorageError("health_check", "", "", fmt.Errorf("%s is not a directory", c.dir))
	}
	return nil
}

func (c *CSVStorage) path(pair string) string {
	return filepath.Join(c.dir, pair+csvExt)
}

// Exists implements TradeReader.
func (c *CSVStorage) Exists(ctx context.Context, pair string) (bool, error) {
	last, err := c.Last(ctx, pair)
	return last != nil, err
}

// Last reads the final row of the pair's file without scanning the whole file.
func (c *CSVStorage) Last(ctx context.Context, pair string) (*models.Trade, error) {
	if err := validatePair(pair); err != nil {
		return nil, NewQueryError(pair+csvExt, "", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, NewQueryError(pair+csvExt, "", ErrClosed)
	}
	return c.lastLocked(pair)
}

func (c *CSVStorage) lastLocked(pair string) (*models.Trade, error) {
	f, err := os.Open(c.path(pair))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError(pair+csvExt, "", err)
	}
	defer f.Close()

	line, err := lastLine(f)
	if err != nil {
		return nil, NewQueryError(pair+csvExt, "", err)
	}
	if line == "" {
		return nil, nil
	}

	record, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, NewQueryError(pair+csvExt, "", fmt.Errorf("failed to parse last row: %w", err))
	}
	if record[0] == csvHeader[0] {
		return nil, nil
	}
	trade, err := parseRecord(record)
	if err != nil {
		return nil, NewQueryError(pair+csvExt, "", err)
	}
	return &trade, nil
}

// lastLine returns the last non-empty line of f, reading backwards in chunks.
func lastLine(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	if size == 0 {
		return "", nil
	}

	chunk := int64(tailReadSize)
	for {
		if chunk > size {
			chunk = size
		}
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, size-chunk); err != nil && err != io.EOF {
			return "", err
		}
		buf = bytes.TrimRight(buf, "\r\n")
		if idx := bytes.LastIndexByte(buf, '\n'); idx >= 0 {
			return string(buf[idx+1:]), nil
		}
		if chunk == size {
			return string(buf), nil
		}
		chunk *= 2
	}
}

// Range scans the pair's file and keeps rows within [start, end].
func (c *CSVStorage) Range(ctx context.Context, pair string, start, end float64) ([]models.Trade, error) {
	out := make([]models.Trade, 0)
	err := c.scan(ctx, pair, func(t models.Trade) {
		if t.Time >= start && t.Time <= end {
			out = append(out, t)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count implements TradeReader.
func (c *CSVStorage) Count(ctx context.Context, pair string) (int64, error) {
	var n int64
	err := c.scan(ctx, pair, func(models.Trade) { n++ })
	return n, err
}

func (c *CSVStorage) scan(ctx context.Context, pair string, fn func(models.Trade)) error {
	if err := validatePair(pair); err != nil {
		return NewQueryError(pair+csvExt, "", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return NewQueryError(pair+csvExt, "", ErrClosed)
	}

	f, err := os.Open(c.path(pair))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return NewQueryError(pair+csvExt, "", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	r.ReuseRecord = true

	for line := 1; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return NewQueryError(pair+csvExt, "", err)
			}
		}
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return NewQueryError(pair+csvExt, "", err)
		}
		if line == 1 && record[0] == csvHeader[0] {
			continue
		}
		trade, err := parseRecord(record)
		if err != nil {
			return NewQueryError(pair+csvExt, "", fmt.Errorf("line %d: %w", line, err))
		}
		fn(trade)
	}
}

// Pairs lists the pairs with a non-empty file.
func (c *CSVStorage) Pairs(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, NewQueryError("", "", ErrClosed)
	}

	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, NewQueryError("", "", err)
	}

	pairs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), csvExt) {
			continue
		}
		pair := strings.TrimSuffix(e.Name(), csvExt)
		last, err := c.lastLocked(pair)
		if err != nil {
			return nil, err
		}
		if last != nil {
			pairs = append(pairs, pair)
		}
	}
	sort.Strings(pairs)
	return pairs, nil
}

// Append writes the batch to the end of the pair's file, creating it with a
// header when missing.
func (c *CSVStorage) Append(ctx context.Context, pair string, trades []models.Trade) error {
	if err := ctx.Err(); err != nil {
		return NewInsertError(pair+csvExt, err)
	}
	if len(trades) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return NewInsertError(pair+csvExt, ErrClosed)
	}
	if err := validatePair(pair); err != nil {
		return NewInsertError(pair+csvExt, err)
	}

	last, err := c.lastLocked(pair)
	if err != nil {
		return err
	}
	if err := checkAppend(pair, last, trades); err != nil {
		return NewInsertError(pair+csvExt, err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return NewInsertError(pair+csvExt, err)
	}
	f, err := os.OpenFile(c.path(pair), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return NewInsertError(pair+csvExt, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return NewInsertError(pair+csvExt, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return NewInsertError(pair+csvExt, err)
		}
	}
	for _, t := range trades {
		if err := w.Write(formatRecord(t)); err != nil {
			return NewInsertError(pair+csvExt, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return NewInsertError(pair+csvExt, err)
	}
	return f.Sync()
}

func formatRecord(t models.Trade) []string {
	return []string{
		t.DateString(),
		strconv.FormatFloat(t.Time, 'f', -1, 64),
		strconv.FormatFloat(t.Size, 'f', -1, 64),
		strconv.FormatFloat(t.Price, 'f', -1, 64),
		string(t.Side),
		t.OrderType,
	}
}

func parseRecord(record []string) (models.Trade, error) {
	if len(record) != len(csvHeader) {
		return models.Trade{}, fmt.Errorf("expected %d fields, got %d", len(csvHeader), len(record))
	}
	ts, err := strconv.ParseFloat(record[1], 64)
	if err != nil {
		return models.Trade{}, fmt.Errorf("time: %w", err)
	}
	size, err := strconv.ParseFloat(record[2], 64)
	if err != nil {
		return models.Trade{}, fmt.Errorf("size: %w", err)
	}
	price, err := strconv.ParseFloat(record[3], 64)
	if err != nil {
		return models.Trade{}, fmt.Errorf("price: %w", err)
	}
	side, err := models.ParseSide(record[4])
	if err != nil {
		return models.Trade{}, err
	}
	return models.Trade{
		Time:      ts,
		Price:     price,
		Size:      size,
		Side:      side,
		OrderType: record[5],
	}, nil
}

var _ TradeStore = (*CSVStorage)(nil)
