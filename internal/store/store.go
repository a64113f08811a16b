// Package store persists items, geofences, alerts, readings, and users in a
// local SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sqlx.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc sqlite allows a single writer; serialize at the pool level so
	// concurrent request paths queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			push_token TEXT NOT NULL DEFAULT '',
			email_notifications INTEGER NOT NULL DEFAULT 1,
			push_notifications INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS geofences (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			radius_meters REAL NOT NULL DEFAULT 100,
			active INTEGER NOT NULL DEFAULT 1,
			currently_inside INTEGER NOT NULL DEFAULT 0,
			entered_at DATETIME,
			exited_at DATETIME,
			last_location_update DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_geofences_user_active ON geofences(user_id, active);`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'other',
			unit TEXT NOT NULL DEFAULT 'grams',
			mode TEXT NOT NULL DEFAULT 'weight',
			current_weight REAL NOT NULL DEFAULT 0,
			threshold_weight REAL NOT NULL DEFAULT 10,
			status TEXT NOT NULL DEFAULT '',
			custom_alert_message TEXT NOT NULL DEFAULT '',
			geofence_id TEXT REFERENCES geofences(id),
			trigger_condition TEXT NOT NULL DEFAULT 'both',
			active INTEGER NOT NULL DEFAULT 1,
			last_reading DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_items_device ON items(device_id);`,
		`CREATE INDEX IF NOT EXISTS idx_items_geofence ON items(geofence_id);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'info',
			message TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '{}',
			read INTEGER NOT NULL DEFAULT 0,
			notification_sent INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user_created ON alerts(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			weight REAL NOT NULL,
			threshold REAL NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			wifi_rssi INTEGER,
			recorded_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_readings_item_time ON readings(item_id, recorded_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// PurgeExpired removes alerts and readings older than their retention
// windows. Returns the number of rows removed from each table.
func (s *Store) PurgeExpired(ctx context.Context, alertTTL, readingTTL time.Duration) (int64, int64, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?;`, now.Add(-alertTTL))
	if err != nil {
		return 0, 0, fmt.Errorf("purge alerts: %w", err)
	}
	alerts, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM readings WHERE recorded_at < ?;`, now.Add(-readingTTL))
	if err != nil {
		return alerts, 0, fmt.Errorf("purge readings: %w", err)
	}
	readings, _ := res.RowsAffected()

	return alerts, readings, nil
}
