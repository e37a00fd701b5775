package engine

import (
	"fmt"
	"strconv"
	"time"

	"rfwatch/internal/model"
)

// DeauthMonitor counts forced disconnects from the link-state side. A burst
// inside the window looks like a deauthentication attack.
type DeauthMonitor struct {
	events []time.Time
}

func (m *DeauthMonitor) Name() string { return "deauth" }

// Observe records one disconnect and returns an anomaly once the burst
// threshold is reached. Callers must call Clear after the anomaly is accepted.
func (m *DeauthMonitor) Observe(ts time.Time, threshold int, window time.Duration) (model.SurveillanceAnomaly, bool) {
	m.events = append(m.events, ts)
	m.evict(ts.Add(-window))
	if len(m.events) < threshold {
		return model.SurveillanceAnomaly{}, false
	}
	span := m.events[len(m.events)-1].Sub(m.events[0])
	return model.SurveillanceAnomaly{
		Timestamp:   ts,
		Kind:        model.KindDeauthAttack,
		Confidence:  model.ConfidenceHigh,
		Severity:    model.SeverityHigh,
		Description: fmt.Sprintf("%d forced disconnects within %s", len(m.events), span.Round(time.Second)),
		TechnicalDetails: map[string]string{
			"method":      "disconnect_burst",
			"disconnects": strconv.Itoa(len(m.events)),
			"window_s":    strconv.Itoa(int(window.Seconds())),
			"span_s":      strconv.FormatFloat(span.Seconds(), 'f', 1, 64),
		},
	}, true
}

func (m *DeauthMonitor) evict(cutoff time.Time) {
	i := 0
	for i < len(m.events) && m.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.events = append(m.events[:0], m.events[i:]...)
	}
}

// Prune forgets disconnects older than window.
func (m *DeauthMonitor) Prune(now time.Time, window time.Duration) {
	m.evict(now.Add(-window))
}

func (m *DeauthMonitor) Len() int { return len(m.events) }

func (m *DeauthMonitor) Clear() { m.events = nil }
