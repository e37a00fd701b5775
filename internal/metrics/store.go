package metrics

import (
	"sync"
	"time"

	"rfwatch/internal/model"
)

// DetectorStats summarizes one detector's recent runs.
type DetectorStats struct {
	Name         string        `json:"name"`
	Runs         int64         `json:"runs"`
	Errors       int64         `json:"errors"`
	Emitted      int64         `json:"emitted"`
	Suppressed   int64         `json:"suppressed"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastError    string        `json:"last_error,omitempty"`
}

// Store keeps per-detector statistics and a bounded history of status samples.
type Store struct {
	mu        sync.RWMutex
	detectors map[string]*DetectorStats
	statuses  []model.EnvironmentStatus
	dropped   int64
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		detectors: make(map[string]*DetectorStats),
		limit:     limit,
	}
}

func (s *Store) detector(name string) *DetectorStats {
	d, ok := s.detectors[name]
	if !ok {
		d = &DetectorStats{Name: name}
		s.detectors[name] = d
	}
	return d
}

func (s *Store) RecordRun(name string, at time.Time, took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.detector(name)
	d.Runs++
	d.LastRun = at
	d.LastDuration = took
	if err != nil {
		d.Errors++
		d.LastError = err.Error()
	}
	DetectorRunDuration.WithLabelValues(name).Observe(took.Seconds())
	if err != nil {
		DetectorErrors.WithLabelValues(name).Inc()
	}
}

func (s *Store) RecordEmission(name string, kind model.AnomalyKind, accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.detector(name)
	if accepted {
		d.Emitted++
		AnomaliesEmitted.WithLabelValues(string(kind)).Inc()
		return
	}
	d.Suppressed++
	AnomaliesSuppressed.WithLabelValues(string(kind)).Inc()
}

func (s *Store) RecordDrop(stream string) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	SubscriberDrops.WithLabelValues(stream).Inc()
}

func (s *Store) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *Store) Detectors() []DetectorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DetectorStats, 0, len(s.detectors))
	for _, d := range s.detectors {
		out = append(out, *d)
	}
	return out
}

func (s *Store) Detector(name string) (DetectorStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.detectors[name]
	if !ok {
		return DetectorStats{}, false
	}
	return *d, true
}

func (s *Store) UpdateStatus(st model.EnvironmentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) >= s.limit {
		copy(s.statuses, s.statuses[1:])
		s.statuses = s.statuses[:len(s.statuses)-1]
	}
	s.statuses = append(s.statuses, st)
	ObserveStatus(st)
}

func (s *Store) LatestStatus() (model.EnvironmentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.statuses) == 0 {
		return model.EnvironmentStatus{}, false
	}
	return s.statuses[len(s.statuses)-1], true
}

func (s *Store) StatusHistory(limit int) []model.EnvironmentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.statuses) {
		limit = len(s.statuses)
	}
	out := make([]model.EnvironmentStatus, limit)
	copy(out, s.statuses[len(s.statuses)-limit:])
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectors = make(map[string]*DetectorStats)
	s.statuses = nil
	s.dropped = 0
}
