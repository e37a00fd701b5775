package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	baseStore
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		device_type TEXT NOT NULL,
		protocol TEXT NOT NULL,
		detection_method TEXT NOT NULL,
		threat_level TEXT NOT NULL,
		threat_score INTEGER NOT NULL,
		name TEXT NOT NULL,
		emitter_id TEXT NOT NULL,
		signal_dbm INTEGER,
		lat REAL,
		lon REAL,
		details_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
	`CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		severity TEXT,
		anomaly_id TEXT,
		related_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_timeline_events_ts ON timeline_events(ts)`,
	`CREATE TABLE IF NOT EXISTS status_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		total INTEGER NOT NULL,
		band_24 INTEGER NOT NULL,
		band_5 INTEGER NOT NULL,
		band_6 INTEGER NOT NULL,
		open_count INTEGER NOT NULL,
		hidden_count INTEGER NOT NULL,
		avg_signal_dbm INTEGER NOT NULL,
		noise_level TEXT NOT NULL,
		jammer_suspected BOOLEAN NOT NULL,
		risk_tier TEXT NOT NULL,
		baseline_established BOOLEAN NOT NULL,
		active_drones INTEGER NOT NULL,
		recent_anomalies INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_samples_ts ON status_samples(ts)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:rfwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	// fixed-width UTC text keeps ORDER BY ts chronological
	return &sqliteStore{baseStore{db: db, d: dialect{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
		schema:      sqliteSchema,
	}}}, nil
}
