package storage

import (
	"context"
	"log/slog"
	"time"

	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

// Source is the part of the engine the recorder reads from.
type Source interface {
	SubscribeAnomalies(buffer int) (<-chan model.SurveillanceAnomaly, func())
	SubscribeEvents(buffer int) (<-chan model.TimelineEvent, func())
	Status() model.EnvironmentStatus
	ToDetectionRecord(a model.SurveillanceAnomaly) model.DetectionRecord
}

// Recorder persists every accepted anomaly as a detection record, every
// timeline event, and a status sample per interval.
type Recorder struct {
	store    Store
	source   Source
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

func NewRecorder(store Store, source Source, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Recorder{
		store:    store,
		source:   source,
		logger:   logger,
		interval: interval,
		timeout:  5 * time.Second,
	}
}

func (r *Recorder) String() string { return "storage-recorder" }

func (r *Recorder) Serve(ctx context.Context) error {
	anomalies, cancelAnomalies := r.source.SubscribeAnomalies(256)
	defer cancelAnomalies()
	events, cancelEvents := r.source.SubscribeEvents(256)
	defer cancelEvents()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.drain(ctx, anomalies, events)
			return ctx.Err()
		case a, ok := <-anomalies:
			if !ok {
				return nil
			}
			rec := r.source.ToDetectionRecord(a)
			r.do(ctx, "save_detection", func(c context.Context) error { return r.store.SaveDetection(c, rec) })
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.do(ctx, "save_event", func(c context.Context) error { return r.store.SaveEvent(c, ev) })
		case <-ticker.C:
			st := r.source.Status()
			if st.Timestamp.IsZero() {
				continue
			}
			r.do(ctx, "save_status", func(c context.Context) error { return r.store.SaveStatus(c, st) })
		}
	}
}

// drain saves whatever is still buffered once the serve context is gone.
func (r *Recorder) drain(ctx context.Context, anomalies <-chan model.SurveillanceAnomaly, events <-chan model.TimelineEvent) {
	for {
		select {
		case a, ok := <-anomalies:
			if !ok {
				anomalies = nil
				continue
			}
			rec := r.source.ToDetectionRecord(a)
			r.do(ctx, "save_detection", func(c context.Context) error { return r.store.SaveDetection(c, rec) })
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.do(ctx, "save_event", func(c context.Context) error { return r.store.SaveEvent(c, ev) })
		default:
			return
		}
	}
}

// do runs one write with its own timeout. Writes still complete after the
// serve context is cancelled.
func (r *Recorder) do(ctx context.Context, op string, fn func(context.Context) error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := fn(opCtx); err != nil {
		metrics.StorageErrors.WithLabelValues(op).Inc()
		if r.logger != nil {
			r.logger.Error("storage write failed", "operation", op, "err", err)
		}
	}
}
