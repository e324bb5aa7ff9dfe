package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-trade-backfill/internal/models"
)

// DuckDBStorage stores trades in a DuckDB database and bulk loads them
// through the Appender API.
type DuckDBStorage struct {
	sqlStore
}

// NewDuckDBStorage creates a new DuckDB storage instance.
// The dbPath can be ":memory:" for in-memory database or a file path for persistent storage.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureParentDir(dbPath); err != nil {
		return nil, NewStorageError("open", "", "", err)
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := &DuckDBStorage{sqlStore: sqlStore{
		name:   "duckdb",
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}}
	d.insert = d.appendRows
	return d, nil
}

// appendRows writes trades with the DuckDB Appender. Column order follows the
// trades table definition. The appender runs inside a transaction on its
// connection, so a batch that fails to flush leaves no rows behind.
func (d *DuckDBStorage) appendRows(ctx context.Context, pair string, seq int64, trades []models.Trade) error {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var driverConn *duckdb.Conn
	err = conn.Raw(func(dc any) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	rollback := func(cause error) error {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
			d.logger.Warn("failed to roll back append", "pair", pair, "error", err)
		}
		return cause
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", tradesTable)
	if err != nil {
		return rollback(fmt.Errorf("failed to create appender: %w", err))
	}

	for i, t := range trades {
		row := []driver.Value{pair, seq + int64(i), t.Time, t.Price, t.Size, string(t.Side), t.OrderType}
		if err := appender.AppendRow(row...); err != nil {
			_ = appender.Close()
			return rollback(fmt.Errorf("failed to append trade %s: %w", t.String(), err))
		}
	}

	// Close flushes the remaining rows.
	if err := appender.Close(); err != nil {
		return rollback(fmt.Errorf("failed to flush appender: %w", err))
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return rollback(fmt.Errorf("failed to commit appended trades: %w", err))
	}
	return nil
}

func ensureParentDir(dbPath string) error {
	if dbPath == ":memory:" || dbPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

var _ TradeStore = (*DuckDBStorage)(nil)
