package engine

import (
	"math"
	"time"

	"rfwatch/internal/model"
)

// SightingWindow holds one emitter's sightings inside the tracking window,
// bounded both by age and by count.
type SightingWindow struct {
	duration time.Duration
	limit    int
	records  []model.SightingRecord
	head     int
}

func NewSightingWindow(duration time.Duration, limit int) *SightingWindow {
	if limit <= 0 {
		limit = 50
	}
	return &SightingWindow{
		duration: duration,
		limit:    limit,
		records:  make([]model.SightingRecord, 0, 16),
	}
}

// Add appends rec and evicts everything that fell out of the window.
func (w *SightingWindow) Add(rec model.SightingRecord) {
	w.records = append(w.records, rec)
	w.Evict(rec.Timestamp.Add(-w.duration))
	for w.Len() > w.limit {
		w.head++
	}
	w.compact()
}

func (w *SightingWindow) Evict(cutoff time.Time) {
	for w.head < len(w.records) {
		if !w.records[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
	w.compact()
}

func (w *SightingWindow) compact() {
	if w.head > 0 && w.head*2 >= len(w.records) {
		w.records = append([]model.SightingRecord{}, w.records[w.head:]...)
		w.head = 0
	}
}

func (w *SightingWindow) Len() int {
	return len(w.records) - w.head
}

func (w *SightingWindow) Records() []model.SightingRecord {
	out := make([]model.SightingRecord, w.Len())
	copy(out, w.records[w.head:])
	return out
}

func (w *SightingWindow) Last() (model.SightingRecord, bool) {
	if w.Len() == 0 {
		return model.SightingRecord{}, false
	}
	return w.records[len(w.records)-1], true
}

// intervalStats returns the mean gap between sightings in seconds, its
// coefficient of variation, and how many gaps were measured.
func intervalStats(records []model.SightingRecord) (mean, cv float64, n int) {
	if len(records) <= 1 {
		return 0, 0, 0
	}
	var m2 float64
	prev := records[0].Timestamp
	for i := 1; i < len(records); i++ {
		delta := records[i].Timestamp.Sub(prev).Seconds()
		if delta < 0 {
			delta = 0
		}
		n++
		diff := delta - mean
		mean += diff / float64(n)
		m2 += diff * (delta - mean)
		prev = records[i].Timestamp
	}
	if mean <= 0 {
		return mean, 0, n
	}
	return mean, math.Sqrt(m2/float64(n)) / mean, n
}
