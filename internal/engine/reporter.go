package engine

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"rfwatch/internal/alerts"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

const (
	streamAnomalies = "anomalies"
	streamEvents    = "events"
)

// Reporter is the only place anomalies leave the engine. It applies the
// per-kind cooldown, stores what passes and fans it out to subscribers.
type Reporter struct {
	logger    *slog.Logger
	anomalies *alerts.Store
	timeline  *alerts.Timeline
	stats     *metrics.Store
	cooldown  *Cooldown

	mu          sync.Mutex
	nextSub     int
	anomalySubs map[int]chan model.SurveillanceAnomaly
	eventSubs   map[int]chan model.TimelineEvent
}

func NewReporter(logger *slog.Logger, anomalies *alerts.Store, timeline *alerts.Timeline, stats *metrics.Store) *Reporter {
	if anomalies == nil {
		anomalies = alerts.NewStore(0)
	}
	if timeline == nil {
		timeline = alerts.NewTimeline(0)
	}
	if stats == nil {
		stats = metrics.NewStore(0)
	}
	return &Reporter{
		logger:      logger,
		anomalies:   anomalies,
		timeline:    timeline,
		stats:       stats,
		cooldown:    NewCooldown(),
		anomalySubs: make(map[int]chan model.SurveillanceAnomaly),
		eventSubs:   make(map[int]chan model.TimelineEvent),
	}
}

// Report applies the cooldown for the anomaly's kind and, when it passes,
// records and publishes it. It returns the stored anomaly and whether it
// was accepted.
func (r *Reporter) Report(detector string, a model.SurveillanceAnomaly, cooldown time.Duration) (model.SurveillanceAnomaly, bool) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if !r.cooldown.AllowAt(string(a.Kind), a.Timestamp, cooldown) {
		r.stats.RecordEmission(detector, a.Kind, false)
		if r.logger != nil {
			r.logger.Debug("anomaly suppressed by cooldown", "kind", a.Kind, "detector", detector)
		}
		return a, false
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Confidence == "" {
		a.Confidence = model.ConfidenceLow
	}
	a.Severity = model.SeverityFor(a.Confidence)

	r.anomalies.Add(a)
	r.stats.RecordEmission(detector, a.Kind, true)
	if r.logger != nil {
		r.logger.Warn("anomaly detected",
			"kind", a.Kind,
			"severity", a.Severity,
			"confidence", a.Confidence,
			"detector", detector,
			"emitter_id", a.TechnicalDetails["emitter_id"],
			"description", a.Description,
		)
	}
	r.Publish(model.TimelineEvent{
		Timestamp:         a.Timestamp,
		Type:              model.EventAnomaly,
		Title:             anomalyTitle(a.Kind),
		Description:       a.Description,
		Severity:          a.Severity,
		AnomalyKind:       a.Kind,
		AnomalyID:         a.ID,
		RelatedEmitterIDs: a.RelatedEmitterIDs,
	})

	r.mu.Lock()
	for _, ch := range r.anomalySubs {
		select {
		case ch <- a:
		default:
			r.stats.RecordDrop(streamAnomalies)
		}
	}
	r.mu.Unlock()
	return a, true
}

// Publish appends ev to the timeline and fans it out.
func (r *Reporter) Publish(ev model.TimelineEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	r.timeline.Add(ev)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.eventSubs {
		select {
		case ch <- ev:
		default:
			r.stats.RecordDrop(streamEvents)
		}
	}
}

// SubscribeAnomalies returns a buffered feed of accepted anomalies. A slow
// reader loses messages, never blocks the engine. cancel closes the channel.
func (r *Reporter) SubscribeAnomalies(buffer int) (<-chan model.SurveillanceAnomaly, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.SurveillanceAnomaly, buffer)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.anomalySubs[id] = ch
	r.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.anomalySubs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
}

func (r *Reporter) SubscribeEvents(buffer int) (<-chan model.TimelineEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.TimelineEvent, buffer)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.eventSubs[id] = ch
	r.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.eventSubs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
}

func (r *Reporter) Anomalies() *alerts.Store { return r.anomalies }

func (r *Reporter) Timeline() *alerts.Timeline { return r.timeline }

func anomalyTitle(kind model.AnomalyKind) string {
	switch kind {
	case model.KindJammer:
		return "Possible RF jamming"
	case model.KindEvilTwin:
		return "Possible evil twin"
	case model.KindFollowingNetwork:
		return "Network following you"
	case model.KindDrone:
		return "Drone detected"
	case model.KindCameraCluster:
		return "Surveillance camera cluster"
	case model.KindSurveillanceVehicle:
		return "Surveillance vehicle network"
	case model.KindHiddenNetwork:
		return "Hidden network anomaly"
	case model.KindWeakEncryption:
		return "Weak encryption"
	case model.KindSuspiciousOpen:
		return "Suspicious open network"
	case model.KindDeauthAttack:
		return "Deauthentication attack"
	case model.KindWatchlist:
		return "Watchlisted emitter"
	}
	return "Anomaly"
}

var deviceTypes = map[model.AnomalyKind]string{
	model.KindJammer:              "RF_JAMMER",
	model.KindEvilTwin:            "ROGUE_AP",
	model.KindFollowingNetwork:    "TRACKING_DEVICE",
	model.KindDrone:               "DRONE",
	model.KindCameraCluster:       "SURVEILLANCE_CAMERA",
	model.KindSurveillanceVehicle: "SURVEILLANCE_VEHICLE",
	model.KindHiddenNetwork:       "HIDDEN_NETWORK",
	model.KindWeakEncryption:      "WEAK_ENCRYPTION_AP",
	model.KindSuspiciousOpen:      "HONEYPOT_AP",
	model.KindDeauthAttack:        "DEAUTH_ATTACK",
	model.KindWatchlist:           "WATCHLISTED_DEVICE",
}

// ToDetectionRecord projects an anomaly onto the persisted detection schema.
// The mapping depends only on the anomaly itself.
func ToDetectionRecord(a model.SurveillanceAnomaly) model.DetectionRecord {
	deviceType, ok := deviceTypes[a.Kind]
	if !ok {
		deviceType = "UNKNOWN"
	}
	method := a.TechnicalDetails["method"]
	if method == "" {
		method = string(a.Kind)
	}
	severity := a.Severity
	if severity == "" {
		severity = model.SeverityFor(a.Confidence)
	}
	rec := model.DetectionRecord{
		ID:              a.ID,
		Timestamp:       a.Timestamp,
		DeviceType:      deviceType,
		Protocol:        "wifi",
		DetectionMethod: method,
		ThreatLevel:     severity,
		ThreatScore:     threatScore(severity),
		Name:            a.TechnicalDetails["name"],
		EmitterID:       a.TechnicalDetails["emitter_id"],
		Lat:             a.Lat,
		Lon:             a.Lon,
		Details:         a.TechnicalDetails,
	}
	if rec.EmitterID == "" && len(a.RelatedEmitterIDs) == 1 {
		rec.EmitterID = a.RelatedEmitterIDs[0]
	}
	if v, err := strconv.Atoi(a.TechnicalDetails["signal_dbm"]); err == nil {
		rec.SignalDbm = &v
	}
	return rec
}

func threatScore(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 95
	case model.SeverityHigh:
		return 75
	case model.SeverityMedium:
		return 50
	}
	return 25
}
