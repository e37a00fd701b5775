package metrics

import (
	"errors"
	"testing"
	"time"

	"rfwatch/internal/model"
)

func TestDetectorStats(t *testing.T) {
	s := NewStore(10)
	now := time.Now().UTC()
	s.RecordRun("jammer", now, time.Millisecond, nil)
	s.RecordRun("jammer", now, time.Millisecond, errors.New("boom"))
	s.RecordEmission("jammer", model.KindJammer, true)
	s.RecordEmission("jammer", model.KindJammer, false)
	d, ok := s.Detector("jammer")
	if !ok {
		t.Fatalf("expected detector stats")
	}
	if d.Runs != 2 || d.Errors != 1 || d.Emitted != 1 || d.Suppressed != 1 || d.LastError != "boom" {
		t.Fatalf("unexpected stats %+v", d)
	}
}

func TestStatusHistoryBounded(t *testing.T) {
	s := NewStore(2)
	for i := 0; i < 3; i++ {
		s.UpdateStatus(model.EnvironmentStatus{Total: i})
	}
	hist := s.StatusHistory(0)
	if len(hist) != 2 || hist[0].Total != 1 {
		t.Fatalf("unexpected history %+v", hist)
	}
	latest, ok := s.LatestStatus()
	if !ok || latest.Total != 2 {
		t.Fatalf("unexpected latest %+v", latest)
	}
	s.Clear()
	if _, ok := s.LatestStatus(); ok {
		t.Fatalf("expected cleared store")
	}
}
