package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"time"

	"rfwatch/internal/model"
)

const dedupeCompactAt = 4096

// DedupeCache drops scan reports that were already processed, which happens
// when several ingest paths carry the same producer.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		age := now.Sub(ts)
		if age < 0 {
			age = -age
		}
		if age <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > dedupeCompactAt {
		for k, ts := range d.items {
			if now.Sub(ts) > ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}

// snapshotKey fingerprints a scan by timestamp and emitter set.
func snapshotKey(obs []model.EmitterObservation, ts time.Time) string {
	ids := make([]string, 0, len(obs))
	for _, o := range obs {
		ids = append(ids, o.ID+"|"+strconv.Itoa(o.SignalDbm))
	}
	sort.Strings(ids)
	h := sha256.New()
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}
