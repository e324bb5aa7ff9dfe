package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration represents a single schema migration with version and implementation
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
	Down        func(ctx context.Context, tx *sql.Tx) error
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       int
	Description   string
	AppliedAt     time.Time
	ExecutionTime time.Duration
}

// MigrationStatus reports which migrations have run.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Applied        []AppliedMigration
	Pending        []Migration
}

// MigrationManager handles schema migrations for the SQL backends. The
// statements stick to the dialect shared by DuckDB and SQLite.
type MigrationManager struct {
	db      *sql.DB
	logger  *slog.Logger
	migrate []Migration
}

// NewMigrationManager creates a new migration manager instance
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &MigrationManager{
		db:      db,
		logger:  logger,
		migrate: getAllMigrations(),
	}
}

// Initialize creates the migrations table if it doesn't exist
func (m *MigrationManager) Initialize(ctx context.Context) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at BIGINT NOT NULL,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`

	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Migrate runs all pending migrations up to the target version
func (m *MigrationManager) Migrate(ctx context.Context, targetVersion int) error {
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize migration manager: %w", err)
	}

	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	if currentVersion >= targetVersion {
		m.logger.Debug("no migrations to run", "current_version", currentVersion)
		return nil
	}

	ran := 0
	for _, migration := range m.migrate {
		if migration.Version <= currentVersion || migration.Version > targetVersion {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}
		ran++
	}

	m.logger.Info("migrations completed",
		"from_version", currentVersion,
		"to_version", targetVersion,
		"migrations_run", ran)

	return nil
}

// MigrateToLatest runs all available migrations
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if len(m.migrate) == 0 {
		return nil
	}
	return m.Migrate(ctx, m.migrate[len(m.migrate)-1].Version)
}

// Rollback rolls back migrations down to, but not including, targetVersion.
func (m *MigrationManager) Rollback(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for i := len(m.migrate) - 1; i >= 0; i-- {
		migration := m.migrate[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}
		if err := m.rollbackMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
	}
	return nil
}

// GetStatus returns the applied and pending migrations.
func (m *MigrationManager) GetStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{Applied: applied}
	if len(m.migrate) > 0 {
		status.LatestVersion = m.migrate[len(m.migrate)-1].Version
	}
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
		if a.Version > status.CurrentVersion {
			status.CurrentVersion = a.Version
		}
	}
	for _, migration := range m.migrate {
		if !done[migration.Version] {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

func (m *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at, execution_time) VALUES (?, ?, ?, ?)",
		migration.Version, migration.Description, time.Now().UnixMilli(), time.Since(start).Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Info("migration applied",
		"version", migration.Version,
		"description", migration.Description,
		"duration", time.Since(start))
	return nil
}

func (m *MigrationManager) rollbackMigration(ctx context.Context, migration Migration) error {
	if migration.Down == nil {
		return fmt.Errorf("migration %d has no down step", migration.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := migration.Down(ctx, tx); err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	m.logger.Info("migration rolled back", "version", migration.Version)
	return nil
}

func (m *MigrationManager) getCurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := m.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func (m *MigrationManager) getAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT version, description, applied_at, execution_time FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			a           AppliedMigration
			appliedAtMs int64
			execMs      int64
		)
		if err := rows.Scan(&a.Version, &a.Description, &appliedAtMs, &execMs); err != nil {
			return nil, err
		}
		a.AppliedAt = time.UnixMilli(appliedAtMs).UTC()
		a.ExecutionTime = time.Duration(execMs) * time.Millisecond
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

func getAllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create trades table",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					CREATE TABLE IF NOT EXISTS trades (
						pair VARCHAR NOT NULL,
						seq BIGINT NOT NULL,
						ts DOUBLE NOT NULL,
						price DOUBLE NOT NULL,
						volume DOUBLE NOT NULL,
						side VARCHAR NOT NULL,
						order_type VARCHAR NOT NULL,
						PRIMARY KEY (pair, seq)
					)`)
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS trades")
				return err
			},
		},
		{
			Version:     2,
			Description: "index trades by pair and time",
			Up: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_trades_pair_ts ON trades (pair, ts)")
				return err
			},
			Down: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, "DROP INDEX IF EXISTS idx_trades_pair_ts")
				return err
			},
		},
	}
}
