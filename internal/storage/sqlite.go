package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLiteStorage stores trades in SQLite through the pure Go modernc driver.
type SQLiteStorage struct {
	sqlStore
}

// NewSQLiteStorage opens dbPath, which may be ":memory:".
func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureParentDir(dbPath); err != nil {
		return nil, NewStorageError("open", "", "", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open SQLite database: %w", err))
	}

	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStorage{sqlStore: sqlStore{
		name:   "sqlite",
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}}
	s.insert = s.insertTx
	return s, nil
}

var _ TradeStore = (*SQLiteStorage)(nil)
