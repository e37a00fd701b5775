package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rfwatch/internal/alerts"
	"rfwatch/internal/config"
	"rfwatch/internal/geo"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
	"rfwatch/internal/snapshot"
)

type Engine struct {
	logger   *slog.Logger
	metrics  *metrics.Store
	reporter *Reporter
	cfg      atomic.Value
	trust    atomic.Value

	// everything below is owned by the scan cycle and guarded by mu
	mu        sync.Mutex
	baseline  *BaselineTracker
	history   *History
	hidden    snapshot.HiddenState
	location  *model.LocationFix
	detectors []Detector
	jammer    *JammerDetector
	following *FollowingDetector
	drones    *DroneDetector
	hiddenNet *HiddenNetworkDetector
	deauth    *DeauthMonitor
	dedupe    *DedupeCache

	cycles       int
	monitoring   bool
	stopped      bool
	lastScan     time.Time
	lastScanWall time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, anomalies *alerts.Store, timeline *alerts.Timeline, metricsStore *metrics.Store) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if metricsStore == nil {
		metricsStore = metrics.NewStore(cfg.Metrics.StoreLimit)
	}
	e := &Engine{
		logger:    logger,
		metrics:   metricsStore,
		reporter:  NewReporter(logger, anomalies, timeline, metricsStore),
		baseline:  NewBaselineTracker(cfg.Detection.BaselineCapacity, cfg.Detection.MinBaselineSamples),
		history:   NewHistory(),
		hidden:    snapshot.HiddenState{Expiry: cfg.Detection.HiddenStateExpiry},
		jammer:    &JammerDetector{},
		following: NewFollowingDetector(),
		drones:    NewDroneDetector(),
		hiddenNet: &HiddenNetworkDetector{Enabled: cfg.Detection.HiddenNetworkAnomaly},
		deauth:    &DeauthMonitor{},
		dedupe:    NewDedupeCache(),
	}
	e.detectors = []Detector{
		e.jammer,
		&EvilTwinDetector{},
		e.following,
		e.drones,
		&CameraClusterDetector{},
		&VehicleDetector{},
		e.hiddenNet,
		&WeakEncryptionDetector{},
		&SuspiciousOpenDetector{},
		&WatchlistDetector{},
	}
	e.cfg.Store(cfg)
	e.trust.Store(buildTrustSet(cfg))
	return e
}

// UpdateConfig swaps the active config. Runtime overrides made through the
// admin setters survive unless the detection section changed, in which case
// the new config's values take over.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	prev := e.config()
	e.cfg.Store(cfg)
	e.trust.Store(buildTrustSet(cfg))
	e.reporter.anomalies.Resize(cfg.Alerts.StoreLimit)
	e.reporter.timeline.Resize(cfg.Alerts.TimelineLimit)
	e.mu.Lock()
	if prev.Detection != cfg.Detection {
		e.hiddenNet.Enabled = cfg.Detection.HiddenNetworkAnomaly
		e.following.SetMinTrackingDistance(-1)
	}
	e.hidden.Expiry = cfg.Detection.HiddenStateExpiry
	e.mu.Unlock()
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) trustSet() *TrustSet {
	if v := e.trust.Load(); v != nil {
		if t, ok := v.(*TrustSet); ok {
			return t
		}
	}
	return nil
}

// Start consumes in on a background goroutine until ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.Input) {
	go func() {
		_ = e.Run(ctx, in)
	}()
}

// Run consumes in until ctx is done, then stops monitoring.
func (e *Engine) Run(ctx context.Context, in <-chan model.Input) error {
	e.mu.Lock()
	e.stopped = false
	e.beginMonitoringLocked(time.Now().UTC())
	e.mu.Unlock()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				e.Stop()
				return nil
			}
			e.Handle(msg)
		case <-ctx.Done():
			e.Stop()
			return ctx.Err()
		}
	}
}

// Handle dispatches one queued input.
func (e *Engine) Handle(msg model.Input) {
	switch msg.Kind {
	case model.InputScan:
		if msg.Scan != nil {
			e.SubmitSnapshot(msg.Scan.Emitters, msg.Scan.Timestamp)
		}
	case model.InputLocation:
		if msg.Location != nil {
			e.SubmitLocation(msg.Location.Lat, msg.Location.Lon, msg.Location.Timestamp)
		}
	case model.InputLink:
		if msg.Link != nil {
			e.OnLinkStateChange(msg.Link.Disconnected, msg.Link.Timestamp)
		}
	default:
		if e.logger != nil {
			e.logger.Warn("unknown input kind", "kind", msg.Kind, "source", msg.Source)
		}
	}
}

// SubmitSnapshot runs one full scan cycle and returns the anomalies it
// produced that passed the cooldown.
func (e *Engine) SubmitSnapshot(obs []model.EmitterObservation, ts time.Time) []model.SurveillanceAnomaly {
	cfg := e.config()
	wall := time.Now().UTC()
	ts = clampTimestamp(ts, wall, cfg.Detection.MaxClockSkew, cfg.Detection.MaxFutureSkew)
	obs = normalize.Observations(obs)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	if cfg.Detection.DedupeWindow > 0 && e.dedupe.Seen(snapshotKey(obs, ts), ts, cfg.Detection.DedupeWindow) {
		metrics.ScansDuplicate.Inc()
		return nil
	}
	start := time.Now()
	e.beginMonitoringLocked(ts)

	snap, hidden := snapshot.Build(obs, ts, e.hidden)
	e.hidden = hidden
	c := &Cycle{
		Timestamp:    ts,
		Observations: obs,
		Snapshot:     snap,
		History:      e.history,
		Trust:        e.trustSet(),
		Config:       cfg,
	}
	if e.baseline.Record(snap) {
		b := e.baseline.Baseline()
		c.Note(model.TimelineEvent{
			Type:        model.EventBaselineEstablished,
			Title:       "Baseline established",
			Description: fmt.Sprintf("%d networks at %d dBm average over %d scans", b.MeanCount, b.MeanSignalDbm, b.Samples),
			Severity:    model.SeverityLow,
		})
		if e.logger != nil {
			e.logger.Info("baseline established", "networks", b.MeanCount, "avg_signal_dbm", b.MeanSignalDbm, "samples", b.Samples)
		}
	}
	c.Baseline = e.baseline.Baseline()

	var at *model.GeoPoint
	if e.location != nil {
		loc := *e.location
		c.Location = &loc
		p := loc.Point()
		at = &p
	}
	for _, o := range obs {
		if e.history.Observe(o, ts, at) && e.cycles > 0 {
			c.Note(model.TimelineEvent{
				Type:              model.EventNetworkAppeared,
				Title:             "Network appeared",
				Description:       label(o),
				Severity:          model.SeverityLow,
				RelatedEmitterIDs: []string{o.ID},
			})
		}
	}

	var out []model.SurveillanceAnomaly
	for _, d := range e.detectors {
		name := d.Name()
		emit := func(a model.SurveillanceAnomaly) bool {
			if c.Location != nil && a.Lat == nil && !geo.IsUnknown(c.Location.Lat, c.Location.Lon) {
				lat, lon := c.Location.Lat, c.Location.Lon
				a.Lat, a.Lon = &lat, &lon
			}
			stored, ok := e.reporter.Report(name, a, cfg.Detection.AnomalyCooldown)
			if ok {
				out = append(out, stored)
			}
			return ok
		}
		_ = runDetector(d, c, emit, e.metrics, e.logger)
	}
	for _, ev := range c.events {
		e.reporter.Publish(ev)
	}

	e.cycles++
	e.lastScan = ts
	e.lastScanWall = wall
	metrics.ScansProcessed.Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	e.metrics.UpdateStatus(e.statusLocked(ts))
	return out
}

// SubmitLocation replaces the observer position. Older or invalid fixes are
// ignored.
func (e *Engine) SubmitLocation(lat, lon float64, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	fix, err := normalize.Location(lat, lon, ts)
	if err != nil || geo.IsUnknown(lat, lon) {
		if e.logger != nil {
			e.logger.Debug("location ignored", "lat", lat, "lon", lon, "err", err)
		}
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.location != nil && fix.Timestamp.Before(e.location.Timestamp) {
		return
	}
	e.location = &fix
	metrics.LocationsReceived.Inc()
}

// Location returns the most recent observer fix.
func (e *Engine) Location() (model.LocationFix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.location == nil {
		return model.LocationFix{}, false
	}
	return *e.location, true
}

// OnLinkStateChange feeds the deauthentication monitor.
func (e *Engine) OnLinkStateChange(disconnected bool, ts time.Time) {
	if !disconnected {
		return
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	cfg := e.config()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	a, ok := e.deauth.Observe(ts, cfg.Detection.Deauth.Threshold, cfg.Detection.Deauth.Window)
	if !ok {
		return
	}
	if e.location != nil {
		lat, lon := e.location.Lat, e.location.Lon
		a.Lat, a.Lon = &lat, &lon
	}
	if _, ok := e.reporter.Report(e.deauth.Name(), a, cfg.Detection.AnomalyCooldown); ok {
		e.deauth.Clear()
	}
}

// Cleanup prunes stale state. It shares the scan cycle's lock.
func (e *Engine) Cleanup(now time.Time) {
	cfg := e.config()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.history.Prune(now, cfg.Detection.HistoryStaleAfter) {
		desc := h.ID
		if h.DisplayName != "" {
			desc = fmt.Sprintf("%q (%s)", h.DisplayName, h.ID)
		}
		e.reporter.Publish(model.TimelineEvent{
			Timestamp:         now,
			Type:              model.EventNetworkDisappeared,
			Title:             "Network disappeared",
			Description:       desc,
			Severity:          model.SeverityLow,
			RelatedEmitterIDs: []string{h.ID},
		})
	}
	e.following.Prune(now, cfg.Detection.Following.TrackingWindow)
	for _, id := range e.drones.Prune(now, cfg.Detection.Drone.PendingExpiry, cfg.Detection.Drone.ActiveExpiry) {
		if e.logger != nil {
			e.logger.Info("drone expired", "emitter_id", id)
		}
	}
	e.deauth.Prune(now, cfg.Detection.Deauth.Window)
	e.reporter.cooldown.Prune(now, cfg.Detection.AnomalyCooldown)
}

// StartHousekeeping runs Cleanup every interval until ctx is done.
func (e *Engine) StartHousekeeping(ctx context.Context, interval time.Duration) {
	go func() {
		_ = e.RunHousekeeping(ctx, interval)
	}()
}

func (e *Engine) RunHousekeeping(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = e.config().Detection.HousekeepingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Cleanup(e.referenceTime())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// referenceTime follows scan time rather than wall time so replayed data
// ages at the pace it was recorded.
func (e *Engine) referenceTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	if e.lastScan.IsZero() {
		return now
	}
	return e.lastScan.Add(now.Sub(e.lastScanWall))
}

// Stop ends monitoring. Calling it again is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if !e.monitoring {
		return
	}
	e.monitoring = false
	e.reporter.Publish(model.TimelineEvent{
		Type:     model.EventMonitoringStopped,
		Title:    "Monitoring stopped",
		Severity: model.SeverityLow,
	})
	if e.logger != nil {
		e.logger.Info("monitoring stopped", "cycles", e.cycles)
	}
}

func (e *Engine) beginMonitoringLocked(ts time.Time) {
	if e.monitoring {
		return
	}
	e.monitoring = true
	e.reporter.Publish(model.TimelineEvent{
		Timestamp: ts,
		Type:      model.EventMonitoringStarted,
		Title:     "Monitoring started",
		Severity:  model.SeverityLow,
	})
	if e.logger != nil {
		e.logger.Info("monitoring started")
	}
}

func (e *Engine) ClearAnomalies() {
	e.reporter.anomalies.Clear()
}

// ClearHistory drops all rolling state including the baseline. Cooldowns
// and stored anomalies survive.
func (e *Engine) ClearHistory() {
	cfg := e.config()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearHistoryLocked(cfg)
}

func (e *Engine) clearHistoryLocked(cfg *config.Config) {
	e.baseline = NewBaselineTracker(cfg.Detection.BaselineCapacity, cfg.Detection.MinBaselineSamples)
	e.history.Clear()
	e.hidden = snapshot.HiddenState{Expiry: cfg.Detection.HiddenStateExpiry}
	for _, d := range e.detectors {
		d.Reset()
	}
	e.deauth.Clear()
	e.dedupe.Reset()
	e.cycles = 0
}

// Reset returns the engine to its initial state, cooldowns and stores included.
func (e *Engine) Reset() {
	cfg := e.config()
	e.mu.Lock()
	e.clearHistoryLocked(cfg)
	e.location = nil
	e.lastScan = time.Time{}
	e.lastScanWall = time.Time{}
	e.mu.Unlock()
	e.reporter.cooldown.Reset()
	e.reporter.anomalies.Clear()
	e.reporter.timeline.Clear()
	e.metrics.Clear()
}

func (e *Engine) SetMinTrackingDistance(meters float64) {
	if meters < 0 {
		meters = 0
	}
	e.mu.Lock()
	e.following.SetMinTrackingDistance(meters)
	e.mu.Unlock()
}

func (e *Engine) SetHiddenNetworkAnomalyEnabled(enabled bool) {
	e.mu.Lock()
	e.hiddenNet.Enabled = enabled
	e.mu.Unlock()
}

// Settings reports the effective runtime overrides.
func (e *Engine) Settings() model.RuntimeSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	dist := e.config().Detection.Following.MinTrackingDistanceM
	if e.following.overridden {
		dist = e.following.minDistance
	}
	return model.RuntimeSettings{
		MinTrackingDistanceM: dist,
		HiddenNetworkAnomaly: e.hiddenNet.Enabled,
	}
}

// Status summarizes the latest scan against the baseline.
func (e *Engine) Status() model.EnvironmentStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.lastScan
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return e.statusLocked(now)
}

func (e *Engine) statusLocked(now time.Time) model.EnvironmentStatus {
	snap, ok := e.baseline.Latest()
	recent := e.reporter.anomalies.Since(now.Add(-riskLookback))
	return buildStatus(snap, ok, e.baseline.Baseline(), recent, e.jammer.Suspected(),
		len(e.drones.active), e.history.Len(), e.monitoring && !e.stopped, now)
}

func (e *Engine) Drones() []model.DroneInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drones.Active()
}

func (e *Engine) SubscribeAnomalies(buffer int) (<-chan model.SurveillanceAnomaly, func()) {
	return e.reporter.SubscribeAnomalies(buffer)
}

func (e *Engine) SubscribeEvents(buffer int) (<-chan model.TimelineEvent, func()) {
	return e.reporter.SubscribeEvents(buffer)
}

// ToDetectionRecord converts an anomaly for persistence layers.
func (e *Engine) ToDetectionRecord(a model.SurveillanceAnomaly) model.DetectionRecord {
	return ToDetectionRecord(a)
}

func (e *Engine) Anomalies() *alerts.Store { return e.reporter.anomalies }

func (e *Engine) Timeline() *alerts.Timeline { return e.reporter.timeline }

func (e *Engine) Metrics() *metrics.Store { return e.metrics }

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts.UTC()
}
