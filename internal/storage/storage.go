// Package storage defines the incremental trade store and its backends.
//
// A store keeps, per pair, the trades in the order they were appended. The
// download loop only ever needs the last stored trade to resume and the
// ability to append a sorted batch after it; readers ask for an inclusive
// time range. Backends: in-memory, one CSV file per pair, DuckDB and SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/johnayoung/go-trade-backfill/internal/config"
	apperrors "github.com/johnayoung/go-trade-backfill/internal/errors"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const tradesTable = "trades"

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("storage is closed")

// TradeReader retrieves stored trades.
type TradeReader interface {
	// Exists reports whether any trade is stored for pair.
	Exists(ctx context.Context, pair string) (bool, error)

	// Last returns the most recently appended trade for pair, or nil when
	// nothing is stored.
	Last(ctx context.Context, pair string) (*models.Trade, error)

	// Range returns the trades with start <= time <= end in insertion order.
	// It returns an empty slice, not an error, when none match.
	Range(ctx context.Context, pair string, start, end float64) ([]models.Trade, error)

	// Count returns the number of trades stored for pair.
	Count(ctx context.Context, pair string) (int64, error)

	// Pairs lists the pairs that have stored trades, sorted ascending.
	Pairs(ctx context.Context) ([]string, error)
}

// TradeAppender persists trades.
type TradeAppender interface {
	// Append adds trades after the existing ones for pair. The batch must be
	// ordered by time and must not start before the stored last trade;
	// otherwise nothing is written and the error matches
	// errors.ErrUnsortedTrades. An invalid trade rejects the whole batch the
	// same way. A backend failure while writing also leaves the store as it
	// was. An empty batch is a no-op.
	Append(ctx context.Context, pair string, trades []models.Trade) error
}

// StorageManager handles storage lifecycle and operational concerns.
type StorageManager interface {
	// Initialize prepares the backend. It is idempotent.
	Initialize(ctx context.Context) error

	// Close releases the backend. The store must not be used afterwards.
	Close() error

	// HealthCheck verifies that the backend is operational.
	HealthCheck(ctx context.Context) error
}

// TradeStore combines every storage capability.
type TradeStore interface {
	TradeReader
	TradeAppender
	StorageManager
}

// New builds the backend selected by cfg.Type. The returned store still
// needs Initialize.
func New(cfg config.StorageConfig, logger *slog.Logger) (TradeStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "csv":
		return NewCSVStorage(cfg.Path, logger), nil
	case "duckdb":
		d, err := NewDuckDBStorage(databaseFile(cfg.Path, "trades.duckdb"), logger)
		if err != nil {
			return nil, err
		}
		d.queryTimeout = cfg.QueryTimeoutDuration()
		return d, nil
	case "sqlite":
		s, err := NewSQLiteStorage(databaseFile(cfg.Path, "trades.db"), logger)
		if err != nil {
			return nil, err
		}
		s.queryTimeout = cfg.QueryTimeoutDuration()
		return s, nil
	default:
		return nil, NewStorageError("open", "", "", fmt.Errorf("unsupported storage type %q", cfg.Type))
	}
}

// databaseFile places name inside path when path is an existing directory.
func databaseFile(path, name string) string {
	if path == ":memory:" || path == "" {
		return ":memory:"
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, name)
	}
	return path
}

// checkAppend validates a batch against the stored last trade.
func checkAppend(pair string, last *models.Trade, trades []models.Trade) error {
	if err := validatePair(pair); err != nil {
		return err
	}
	for i := range trades {
		if err := trades[i].Validate(); err != nil {
			return fmt.Errorf("trade %d: %w", i, err)
		}
	}
	if idx := models.CheckOrdered(trades); idx >= 0 {
		return fmt.Errorf("trade %d at %.6f precedes trade %d at %.6f: %w",
			idx, trades[idx].Time, idx-1, trades[idx-1].Time, apperrors.ErrUnsortedTrades)
	}
	if last != nil && trades[0].Time < last.Time {
		return fmt.Errorf("batch starts at %.6f before stored last trade at %.6f: %w",
			trades[0].Time, last.Time, apperrors.ErrUnsortedTrades)
	}
	return nil
}

func validatePair(pair string) error {
	if pair == "" {
		return fmt.Errorf("pair is required: %w", apperrors.ErrInvalidRequest)
	}
	if strings.ContainsAny(pair, `/\`) || pair == "." || pair == ".." {
		return fmt.Errorf("invalid pair name %q: %w", pair, apperrors.ErrInvalidRequest)
	}
	return nil
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the table or file involved in the operation
	Table string

	// Query is the SQL query or operation details (may be empty)
	Query string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewQueryError creates a StorageError specifically for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return &StorageError{
		Operation: "query",
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewInsertError creates a StorageError specifically for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{
		Operation: "insert",
		Table:     table,
		Err:       err,
	}
}
