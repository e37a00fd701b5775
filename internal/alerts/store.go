package alerts

import (
	"sync"
	"time"

	"rfwatch/internal/model"
)

// ring is a bounded, oldest-first buffer.
type ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	limit int
}

func (r *ring[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, v)
		return
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = v
}

func (r *ring[T]) list(limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	out := make([]T, limit)
	copy(out, r.buf[len(r.buf)-limit:])
	return out
}

func (r *ring[T]) filter(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0)
	for _, v := range r.buf {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (r *ring[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

func (r *ring[T]) resize(limit int) {
	if limit <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = limit
	if len(r.buf) > limit {
		r.buf = append([]T(nil), r.buf[len(r.buf)-limit:]...)
	}
}

func (r *ring[T]) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
}

// Store keeps the most recent anomalies. It is the authoritative record;
// subscribers may miss entries, the store does not.
type Store struct {
	r ring[model.SurveillanceAnomaly]
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{r: ring[model.SurveillanceAnomaly]{limit: limit}}
}

func (s *Store) Add(a model.SurveillanceAnomaly) { s.r.add(a) }

func (s *Store) List(limit int) []model.SurveillanceAnomaly { return s.r.list(limit) }

func (s *Store) Since(ts time.Time) []model.SurveillanceAnomaly {
	return s.r.filter(func(a model.SurveillanceAnomaly) bool { return !a.Timestamp.Before(ts) })
}

func (s *Store) ByKind(kind model.AnomalyKind) []model.SurveillanceAnomaly {
	return s.r.filter(func(a model.SurveillanceAnomaly) bool { return a.Kind == kind })
}

func (s *Store) Get(id string) (model.SurveillanceAnomaly, bool) {
	found := s.r.filter(func(a model.SurveillanceAnomaly) bool { return a.ID == id })
	if len(found) == 0 {
		return model.SurveillanceAnomaly{}, false
	}
	return found[0], true
}

func (s *Store) Len() int { return s.r.len() }

func (s *Store) Resize(limit int) { s.r.resize(limit) }

func (s *Store) Clear() { s.r.clear() }

// Timeline keeps lifecycle and anomaly events, oldest evicted first.
type Timeline struct {
	r ring[model.TimelineEvent]
}

func NewTimeline(limit int) *Timeline {
	if limit <= 0 {
		limit = 200
	}
	return &Timeline{r: ring[model.TimelineEvent]{limit: limit}}
}

func (t *Timeline) Add(ev model.TimelineEvent) { t.r.add(ev) }

func (t *Timeline) List(limit int) []model.TimelineEvent { return t.r.list(limit) }

func (t *Timeline) Since(ts time.Time) []model.TimelineEvent {
	return t.r.filter(func(ev model.TimelineEvent) bool { return !ev.Timestamp.Before(ts) })
}

func (t *Timeline) Len() int { return t.r.len() }

func (t *Timeline) Resize(limit int) { t.r.resize(limit) }

func (t *Timeline) Clear() { t.r.clear() }
