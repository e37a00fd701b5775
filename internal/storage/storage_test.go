package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "rfwatch.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestNewStoreDisabledAndUnknownDriver(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	if err != nil || store != nil {
		t.Fatalf("disabled storage should return nil store, got %v %v", store, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSQLiteDetectionRoundTrip(t *testing.T) {
	store := newSQLiteForTest(t)
	ctx := context.Background()
	signal := -48
	lat, lon := 52.52, 13.405
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := model.DetectionRecord{
		ID: "a1", Timestamp: base, DeviceType: "DRONE", Protocol: "wifi",
		DetectionMethod: "vendor_prefix", ThreatLevel: model.SeverityHigh, ThreatScore: 75,
		Name: "DJI-MAVIC", EmitterID: "60:60:1F:00:00:01", SignalDbm: &signal, Lat: &lat, Lon: &lon,
		Details: map[string]string{"manufacturer": "DJI"},
	}
	newer := model.DetectionRecord{
		ID: "a2", Timestamp: base.Add(time.Minute), DeviceType: "RF_JAMMER", Protocol: "wifi",
		DetectionMethod: "count_drop", ThreatLevel: model.SeverityMedium, ThreatScore: 50,
	}
	for _, rec := range []model.DetectionRecord{older, newer, older} {
		if err := store.SaveDetection(ctx, rec); err != nil {
			t.Fatalf("save detection: %v", err)
		}
	}

	got, err := store.RecentDetections(ctx, 10)
	if err != nil {
		t.Fatalf("recent detections: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected duplicate id to be ignored, got %d rows", len(got))
	}
	if got[0].ID != "a2" || got[1].ID != "a1" {
		t.Fatalf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].SignalDbm != nil || got[0].Lat != nil {
		t.Fatalf("expected null signal and location for jammer record")
	}
	first := got[1]
	if !first.Timestamp.Equal(base) {
		t.Fatalf("timestamp mismatch: %v", first.Timestamp)
	}
	if first.SignalDbm == nil || *first.SignalDbm != -48 {
		t.Fatalf("signal mismatch: %v", first.SignalDbm)
	}
	if first.Lat == nil || *first.Lat != lat || first.Lon == nil || *first.Lon != lon {
		t.Fatalf("location mismatch")
	}
	if first.Details["manufacturer"] != "DJI" || first.ThreatLevel != model.SeverityHigh {
		t.Fatalf("details mismatch: %+v", first)
	}
}

func TestSQLiteEventAndStatus(t *testing.T) {
	store := newSQLiteForTest(t)
	ctx := context.Background()
	ev := model.TimelineEvent{
		ID: "e1", Timestamp: time.Now().UTC(), Type: model.EventAnomaly, Title: "Drone detected",
		Severity: model.SeverityHigh, AnomalyID: "a1", RelatedEmitterIDs: []string{"60:60:1F:00:00:01"},
	}
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("save event: %v", err)
	}
	if err := store.SaveEvent(ctx, ev); err != nil {
		t.Fatalf("duplicate event should be ignored: %v", err)
	}
	st := model.EnvironmentStatus{
		Timestamp: time.Now().UTC(), Total: 12, Band24: 8, Band5: 4,
		NoiseLevel: model.NoiseModerate, RiskTier: model.RiskLow, BaselineEstablished: true,
	}
	if err := store.SaveStatus(ctx, st); err != nil {
		t.Fatalf("save status: %v", err)
	}
}

type fakeSource struct {
	mu        sync.Mutex
	anomalies chan model.SurveillanceAnomaly
	events    chan model.TimelineEvent
	status    model.EnvironmentStatus
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		anomalies: make(chan model.SurveillanceAnomaly, 8),
		events:    make(chan model.TimelineEvent, 8),
	}
}

func (f *fakeSource) SubscribeAnomalies(int) (<-chan model.SurveillanceAnomaly, func()) {
	return f.anomalies, func() {}
}

func (f *fakeSource) SubscribeEvents(int) (<-chan model.TimelineEvent, func()) {
	return f.events, func() {}
}

func (f *fakeSource) Status() model.EnvironmentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSource) ToDetectionRecord(a model.SurveillanceAnomaly) model.DetectionRecord {
	return model.DetectionRecord{
		ID: a.ID, Timestamp: a.Timestamp, DeviceType: "DRONE", Protocol: "wifi",
		DetectionMethod: "vendor_prefix", ThreatLevel: a.Severity, ThreatScore: 75,
	}
}

func TestRecorderPersistsAnomalies(t *testing.T) {
	store := newSQLiteForTest(t)
	src := newFakeSource()
	rec := NewRecorder(store, src, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Serve(ctx) }()

	src.anomalies <- model.SurveillanceAnomaly{
		ID: "x1", Timestamp: time.Now().UTC(), Kind: model.KindDrone, Severity: model.SeverityHigh,
	}
	src.events <- model.TimelineEvent{ID: "ev1", Timestamp: time.Now().UTC(), Type: model.EventAnomaly, Title: "Drone detected"}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.RecentDetections(context.Background(), 5)
		if err != nil {
			t.Fatalf("recent detections: %v", err)
		}
		if len(got) == 1 && got[0].ID == "x1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorder did not persist the anomaly, got %d rows", len(got))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("recorder did not stop on cancel")
	}
}

type countingStore struct {
	Store
	mu     sync.Mutex
	events int
}

func (c *countingStore) SaveEvent(ctx context.Context, ev model.TimelineEvent) error {
	c.mu.Lock()
	c.events++
	c.mu.Unlock()
	return c.Store.SaveEvent(ctx, ev)
}

func TestRecorderDrainsBuffersOnShutdown(t *testing.T) {
	store := &countingStore{Store: newSQLiteForTest(t)}
	src := newFakeSource()
	rec := NewRecorder(store, src, time.Hour, nil)

	now := time.Now().UTC()
	for i, id := range []string{"d1", "d2", "d3"} {
		src.anomalies <- model.SurveillanceAnomaly{
			ID: id, Timestamp: now.Add(time.Duration(i) * time.Second), Kind: model.KindDrone, Severity: model.SeverityHigh,
		}
	}
	src.events <- model.TimelineEvent{ID: "e1", Timestamp: now, Type: model.EventAnomaly, Title: "Drone detected"}
	src.events <- model.TimelineEvent{ID: "e2", Timestamp: now, Type: model.EventAnomaly, Title: "Drone detected"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	got, err := store.RecentDetections(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent detections: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 drained detections, got %d", len(got))
	}
	if store.events != 2 {
		t.Fatalf("expected 2 drained events, got %d", store.events)
	}
	if len(src.anomalies) != 0 || len(src.events) != 0 {
		t.Fatalf("buffers not empty after shutdown")
	}
}
