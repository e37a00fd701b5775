// Package storage persists detection records, timeline events and status
// samples to SQLite or Postgres through database/sql.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDetection(ctx context.Context, rec model.DetectionRecord) error
	SaveEvent(ctx context.Context, ev model.TimelineEvent) error
	SaveStatus(ctx context.Context, st model.EnvironmentStatus) error
	RecentDetections(ctx context.Context, limit int) ([]model.DetectionRecord, error)
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// dialect covers the few places SQLite and Postgres disagree.
type dialect struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
	schema      []string
}

type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.d.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.d.placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) SaveDetection(ctx context.Context, rec model.DetectionRecord) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO detections (id, ts, device_type, protocol, detection_method, threat_level, threat_score, name, emitter_id, signal_dbm, lat, lon, details_json)
		VALUES (`+b.placeholders(13)+`) ON CONFLICT (id) DO NOTHING`,
		rec.ID,
		b.d.timeArg(rec.Timestamp),
		rec.DeviceType,
		rec.Protocol,
		rec.DetectionMethod,
		string(rec.ThreatLevel),
		rec.ThreatScore,
		rec.Name,
		rec.EmitterID,
		nullInt(rec.SignalDbm),
		nullFloat(rec.Lat),
		nullFloat(rec.Lon),
		encodeJSON(rec.Details),
	)
	if err != nil {
		return fmt.Errorf("save detection %s: %w", rec.ID, err)
	}
	return nil
}

func (b *baseStore) SaveEvent(ctx context.Context, ev model.TimelineEvent) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO timeline_events (id, ts, type, title, description, severity, anomaly_id, related_json)
		VALUES (`+b.placeholders(8)+`) ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		b.d.timeArg(ev.Timestamp),
		string(ev.Type),
		ev.Title,
		ev.Description,
		string(ev.Severity),
		ev.AnomalyID,
		encodeJSON(ev.RelatedEmitterIDs),
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

func (b *baseStore) SaveStatus(ctx context.Context, st model.EnvironmentStatus) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO status_samples (ts, total, band_24, band_5, band_6, open_count, hidden_count, avg_signal_dbm, noise_level, jammer_suspected, risk_tier, baseline_established, active_drones, recent_anomalies)
		VALUES (`+b.placeholders(14)+`)`,
		b.d.timeArg(st.Timestamp),
		st.Total,
		st.Band24,
		st.Band5,
		st.Band6,
		st.Open,
		st.Hidden,
		st.AvgSignalDbm,
		string(st.NoiseLevel),
		st.JammerSuspected,
		string(st.RiskTier),
		st.BaselineEstablished,
		st.ActiveDrones,
		st.RecentAnomalies,
	)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (b *baseStore) RecentDetections(ctx context.Context, limit int) ([]model.DetectionRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, ts, device_type, protocol, detection_method, threat_level, threat_score, name, emitter_id, signal_dbm, lat, lon, details_json
		FROM detections ORDER BY ts DESC LIMIT `+b.d.placeholder(1), limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()
	out := make([]model.DetectionRecord, 0)
	for rows.Next() {
		var (
			rec      model.DetectionRecord
			ts       any
			level    string
			signal   sql.NullInt64
			lat, lon sql.NullFloat64
			details  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.DeviceType, &rec.Protocol, &rec.DetectionMethod, &level,
			&rec.ThreatScore, &rec.Name, &rec.EmitterID, &signal, &lat, &lon, &details); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if rec.Timestamp, err = scanTime(ts); err != nil {
			return nil, err
		}
		rec.ThreatLevel = model.Severity(level)
		if signal.Valid {
			v := int(signal.Int64)
			rec.SignalDbm = &v
		}
		if lat.Valid && lon.Valid {
			la, lo := lat.Float64, lon.Float64
			rec.Lat, rec.Lon = &la, &lo
		}
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				return nil, fmt.Errorf("decode details for %s: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseStoredTime(t)
	case []byte:
		return parseStoredTime(string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
}

func parseStoredTime(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return ts.UTC(), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
