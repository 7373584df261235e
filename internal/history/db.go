// Package history keeps a bounded sqlite log of sensor readings.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// DefaultKeep is how many readings are retained per sensor.
const DefaultKeep = 1000

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
	keep   int
}

func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	repo := &Repository{db: db, logger: logger, keep: DefaultKeep}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id TEXT NOT NULL,
			sensor_name TEXT NOT NULL,
			sensor_type TEXT NOT NULL,
			category TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			battery INTEGER,
			reachable INTEGER NOT NULL,
			values_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_readings_name ON sensor_readings(category, sensor_name, id);`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_readings_sensor ON sensor_readings(sensor_id, id);`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
