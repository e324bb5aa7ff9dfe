package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const (
	selectLastQuery  = "SELECT seq, ts, price, volume, side, order_type FROM trades WHERE pair = ? ORDER BY seq DESC LIMIT 1"
	selectRangeQuery = "SELECT ts, price, volume, side, order_type FROM trades WHERE pair = ? AND ts >= ? AND ts <= ? ORDER BY seq"
	selectCountQuery = "SELECT COUNT(*) FROM trades WHERE pair = ?"
	selectPairsQuery = "SELECT DISTINCT pair FROM trades ORDER BY pair"
	insertTradeQuery = "INSERT INTO trades (pair, seq, ts, price, volume, side, order_type) VALUES (?, ?, ?, ?, ?, ?, ?)"
	healthCheckQuery = "SELECT 1"
)

// insertFunc writes trades for pair with sequence numbers starting at seq.
type insertFunc func(ctx context.Context, pair string, seq int64, trades []models.Trade) error

// sqlStore holds the queries shared by the database/sql backends. Each
// backend supplies its own bulk insert.
type sqlStore struct {
	name         string
	db           *sql.DB
	dbPath       string
	logger       *slog.Logger
	queryTimeout time.Duration
	insert       insertFunc

	// mu serialises appends so the last-trade check and the insert see the
	// same state.
	mu     sync.RWMutex
	closed bool
}

func (s *sqlStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return context.WithCancel(ctx)
}

// Initialize runs the schema migrations.
func (s *sqlStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewStorageError("initialize", "", "", ErrClosed)
	}

	s.logger.Info("initializing storage", "backend", s.name, "db_path", s.dbPath)
	if err := NewMigrationManager(s.db, s.logger).MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", tradesTable, "", fmt.Errorf("failed to migrate schema: %w", err))
	}
	return nil
}

// Close implements StorageManager.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("closing storage", "backend", s.name)
	if err := s.db.Close(); err != nil {
		return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
	}
	return nil
}

// HealthCheck implements StorageManager.
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return NewStorageError("health_check", "", "", ErrClosed)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, healthCheckQuery).Scan(&result); err != nil {
		return NewStorageError("health_check", "", healthCheckQuery, fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", healthCheckQuery, fmt.Errorf("unexpected health check result: %d", result))
	}
	return nil
}

// Exists implements TradeReader.
func (s *sqlStore) Exists(ctx context.Context, pair string) (bool, error) {
	n, err := s.Count(ctx, pair)
	return n > 0, err
}

// Count implements TradeReader.
func (s *sqlStore) Count(ctx context.Context, pair string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, NewQueryError(tradesTable, selectCountQuery, ErrClosed)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, selectCountQuery, pair).Scan(&n); err != nil {
		return 0, NewQueryError(tradesTable, selectCountQuery, err)
	}
	return n, nil
}

// Last implements TradeReader.
func (s *sqlStore) Last(ctx context.Context, pair string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, NewQueryError(tradesTable, selectLastQuery, ErrClosed)
	}

	last, _, err := s.tail(ctx, pair)
	return last, err
}

// tail returns the last trade and its sequence number, or nil and 0.
func (s *sqlStore) tail(ctx context.Context, pair string) (*models.Trade, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		seq  int64
		t    models.Trade
		side string
	)
	err := s.db.QueryRowContext(ctx, selectLastQuery, pair).Scan(&seq, &t.Time, &t.Price, &t.Size, &side, &t.OrderType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, NewQueryError(tradesTable, selectLastQuery, err)
	}
	t.Side = models.Side(side)
	return &t, seq, nil
}

// Range implements TradeReader.
func (s *sqlStore) Range(ctx context.Context, pair string, start, end float64) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, NewQueryError(tradesTable, selectRangeQuery, ErrClosed)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectRangeQuery, pair, start, end)
	if err != nil {
		return nil, NewQueryError(tradesTable, selectRangeQuery, err)
	}
	defer rows.Close()

	out := make([]models.Trade, 0)
	for rows.Next() {
		var (
			t    models.Trade
			side string
		)
		if err := rows.Scan(&t.Time, &t.Price, &t.Size, &side, &t.OrderType); err != nil {
			return nil, NewQueryError(tradesTable, selectRangeQuery, err)
		}
		t.Side = models.Side(side)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(tradesTable, selectRangeQuery, err)
	}
	return out, nil
}

// Pairs implements TradeReader.
func (s *sqlStore) Pairs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, NewQueryError(tradesTable, selectPairsQuery, ErrClosed)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectPairsQuery)
	if err != nil {
		return nil, NewQueryError(tradesTable, selectPairsQuery, err)
	}
	defer rows.Close()

	pairs := make([]string, 0)
	for rows.Next() {
		var pair string
		if err := rows.Scan(&pair); err != nil {
			return nil, NewQueryError(tradesTable, selectPairsQuery, err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(tradesTable, selectPairsQuery, err)
	}
	return pairs, nil
}

// Append implements TradeAppender.
func (s *sqlStore) Append(ctx context.Context, pair string, trades []models.Trade) error {
	if err := ctx.Err(); err != nil {
		return NewInsertError(tradesTable, err)
	}
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewInsertError(tradesTable, ErrClosed)
	}

	last, seq, err := s.tail(ctx, pair)
	if err != nil {
		return err
	}
	if err := checkAppend(pair, last, trades); err != nil {
		return NewInsertError(tradesTable, err)
	}

	start := time.Now()
	if err := s.insert(ctx, pair, seq+1, trades); err != nil {
		return NewInsertError(tradesTable, err)
	}

	s.logger.Debug("appended trades",
		"backend", s.name,
		"pair", pair,
		"count", len(trades),
		"duration", time.Since(start))
	return nil
}

// insertTx is the portable bulk insert: one transaction, one prepared statement.
func (s *sqlStore) insertTx(ctx context.Context, pair string, seq int64, trades []models.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertTradeQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, pair, seq+int64(i), t.Time, t.Price, t.Size, string(t.Side), t.OrderType); err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.String(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert: %w", err)
	}
	return nil
}
