package engine

import (
	"sort"
	"time"

	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
)

const (
	historySignalCap   = 20
	historyLocationCap = 20
)

// History is the per-emitter sighting record shared by the detectors.
type History struct {
	byID map[string]*model.EmitterHistory
}

func NewHistory() *History {
	return &History{byID: make(map[string]*model.EmitterHistory)}
}

// Observe folds one observation in and reports whether the id is new.
func (h *History) Observe(o model.EmitterObservation, ts time.Time, at *model.GeoPoint) bool {
	rec, ok := h.byID[o.ID]
	if !ok {
		rec = &model.EmitterHistory{ID: o.ID, FirstSeen: ts}
		h.byID[o.ID] = rec
	}
	if ts.After(rec.LastSeen) {
		rec.LastSeen = ts
	}
	rec.SeenCount++
	if name := o.Name(); name != "" {
		rec.DisplayName = name
	}
	rec.IsOpen = o.IsOpenAccess
	if o.FrequencyHz > 0 {
		rec.FrequencyHz = o.FrequencyHz
	}
	if o.VendorPrefix != "" {
		rec.VendorPrefix = o.VendorPrefix
	}
	if normalize.PlausibleSignal(o.SignalDbm) {
		rec.Signals = appendBounded(rec.Signals, o.SignalDbm, historySignalCap)
	}
	if at != nil {
		rec.Locations = appendBounded(rec.Locations, *at, historyLocationCap)
	}
	return !ok
}

func appendBounded[T any](list []T, v T, limit int) []T {
	if len(list) >= limit {
		copy(list, list[1:])
		list = list[:len(list)-1]
	}
	return append(list, v)
}

func (h *History) Get(id string) (*model.EmitterHistory, bool) {
	rec, ok := h.byID[id]
	return rec, ok
}

func (h *History) SeenCount(id string) int {
	if rec, ok := h.byID[id]; ok {
		return rec.SeenCount
	}
	return 0
}

func (h *History) Len() int { return len(h.byID) }

// Prune drops histories not seen for longer than staleAfter and returns them.
func (h *History) Prune(now time.Time, staleAfter time.Duration) []model.EmitterHistory {
	var removed []model.EmitterHistory
	for id, rec := range h.byID {
		if now.Sub(rec.LastSeen) > staleAfter {
			removed = append(removed, *rec)
			delete(h.byID, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

func (h *History) Clear() {
	h.byID = make(map[string]*model.EmitterHistory)
}
