package engine

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"rfwatch/internal/model"
)

// BaselineTracker keeps the rolling snapshot deque and commits the baseline
// once, the first time the deque holds enough samples.
type BaselineTracker struct {
	capacity   int
	minSamples int
	snaps      []model.RadioSnapshot
	baseline   *model.Baseline
}

func NewBaselineTracker(capacity, minSamples int) *BaselineTracker {
	if capacity <= 0 {
		capacity = 120
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	if minSamples > capacity {
		minSamples = capacity
	}
	return &BaselineTracker{capacity: capacity, minSamples: minSamples}
}

// Record appends snap and reports whether this call committed the baseline.
func (b *BaselineTracker) Record(snap model.RadioSnapshot) bool {
	if len(b.snaps) >= b.capacity {
		copy(b.snaps, b.snaps[1:])
		b.snaps = b.snaps[:len(b.snaps)-1]
	}
	b.snaps = append(b.snaps, snap)
	if b.baseline != nil || len(b.snaps) < b.minSamples {
		return false
	}
	counts := make([]float64, len(b.snaps))
	signals := make([]float64, len(b.snaps))
	for i, s := range b.snaps {
		counts[i] = float64(s.Total)
		signals[i] = float64(s.AvgSignalDbm)
	}
	b.baseline = &model.Baseline{
		MeanCount:     int(math.Round(stat.Mean(counts, nil))),
		MeanSignalDbm: int(math.Round(stat.Mean(signals, nil))),
		Samples:       len(b.snaps),
		EstablishedAt: snap.Timestamp,
	}
	return true
}

// Baseline returns a copy, nil until committed.
func (b *BaselineTracker) Baseline() *model.Baseline {
	if b.baseline == nil {
		return nil
	}
	cp := *b.baseline
	return &cp
}

func (b *BaselineTracker) Len() int { return len(b.snaps) }

func (b *BaselineTracker) Latest() (model.RadioSnapshot, bool) {
	if len(b.snaps) == 0 {
		return model.RadioSnapshot{}, false
	}
	return b.snaps[len(b.snaps)-1], true
}

// Since returns the snapshots taken at or after ts, oldest first.
func (b *BaselineTracker) Since(ts time.Time) []model.RadioSnapshot {
	out := make([]model.RadioSnapshot, 0)
	for _, s := range b.snaps {
		if !s.Timestamp.Before(ts) {
			out = append(out, s)
		}
	}
	return out
}

func (b *BaselineTracker) Clear() {
	b.snaps = nil
	b.baseline = nil
}
