package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		device_type TEXT NOT NULL,
		protocol TEXT NOT NULL,
		detection_method TEXT NOT NULL,
		threat_level TEXT NOT NULL,
		threat_score INTEGER NOT NULL,
		name TEXT NOT NULL,
		emitter_id TEXT NOT NULL,
		signal_dbm INTEGER,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		details_json JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
	`CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		severity TEXT,
		anomaly_id TEXT,
		related_json JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_timeline_events_ts ON timeline_events(ts)`,
	`CREATE TABLE IF NOT EXISTS status_samples (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
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

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/rfwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &postgresStore{baseStore{db: db, d: dialect{
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		timeArg:     func(t time.Time) any { return t.UTC() },
		schema:      postgresSchema,
	}}}, nil
}
