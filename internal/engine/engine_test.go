package engine

import (
	"fmt"
	"testing"
	"time"

	"rfwatch/internal/alerts"
	"rfwatch/internal/config"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.DedupeWindow = 0
	cfg.Detection.MaxClockSkew = 0
	cfg.Detection.MaxFutureSkew = 0
	cfg.Detection.AnomalyCooldown = 3 * time.Minute
	return cfg
}

func newEngineForTest(cfg *config.Config) *Engine {
	return NewEngine(cfg, nil, alerts.NewStore(100), alerts.NewTimeline(200), metrics.NewStore(100))
}

func strPtr(s string) *string { return &s }

func mac(i int) string {
	return fmt.Sprintf("02:00:00:%02X:%02X:%02X", (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF)
}

func obs(id, name string, dbm int, mhz int64) model.EmitterObservation {
	o := model.EmitterObservation{
		ID:           id,
		SignalDbm:    dbm,
		FrequencyHz:  mhz * 1_000_000,
		Capabilities: "[WPA2-PSK-CCMP][ESS]",
	}
	if name != "" {
		o.DisplayName = strPtr(name)
	}
	return o
}

// scanOf returns n ordinary encrypted networks at the given signal.
func scanOf(n, dbm int) []model.EmitterObservation {
	out := make([]model.EmitterObservation, n)
	for i := range out {
		out[i] = obs(mac(i+1), fmt.Sprintf("net-%d", i+1), dbm, 2412+5*int64(i%11))
	}
	return out
}

func countKind(list []model.SurveillanceAnomaly, kind model.AnomalyKind) int {
	n := 0
	for _, a := range list {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func countEvents(list []model.TimelineEvent, typ model.EventType) int {
	n := 0
	for _, ev := range list {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestBaselineCommitsOnce(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < cfg.Detection.MinBaselineSamples-1; i++ {
		eng.SubmitSnapshot(scanOf(10, -60), base.Add(time.Duration(i)*10*time.Second))
		if eng.baseline.Baseline() != nil {
			t.Fatalf("baseline set after %d samples", i+1)
		}
	}
	eng.SubmitSnapshot(scanOf(10, -60), base.Add(time.Minute))
	b := eng.baseline.Baseline()
	if b == nil {
		t.Fatalf("expected baseline after %d samples", cfg.Detection.MinBaselineSamples)
	}
	if b.MeanCount != 10 || b.MeanSignalDbm != -60 || b.Samples != cfg.Detection.MinBaselineSamples {
		t.Fatalf("unexpected baseline %+v", *b)
	}
	for i := 0; i < 5; i++ {
		eng.SubmitSnapshot(scanOf(30, -40), base.Add(2*time.Minute+time.Duration(i)*10*time.Second))
	}
	if got := eng.baseline.Baseline(); got.MeanCount != 10 || got.MeanSignalDbm != -60 {
		t.Fatalf("baseline changed after commit: %+v", *got)
	}
	if n := countEvents(eng.Timeline().List(0), model.EventBaselineEstablished); n != 1 {
		t.Fatalf("expected one baseline event, got %d", n)
	}
	eng.ClearHistory()
	if eng.baseline.Baseline() != nil {
		t.Fatalf("baseline survived ClearHistory")
	}
}

func establishBaseline(eng *Engine, base time.Time, n, dbm int) time.Time {
	ts := base
	for i := 0; i < eng.config().Detection.MinBaselineSamples; i++ {
		eng.SubmitSnapshot(scanOf(n, dbm), ts)
		ts = ts.Add(10 * time.Second)
	}
	return ts
}

func TestJammerEndToEnd(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := establishBaseline(eng, time.Now().Add(-time.Hour), 40, -55)
	b := eng.baseline.Baseline()
	if b == nil || b.MeanCount != 40 || b.MeanSignalDbm != -55 {
		t.Fatalf("unexpected baseline %+v", b)
	}

	var jammer []model.SurveillanceAnomaly
	for i := 0; i < 3; i++ {
		out := eng.SubmitSnapshot(scanOf(12, -85), ts)
		ts = ts.Add(10 * time.Second)
		if i < 2 && countKind(out, model.KindJammer) != 0 {
			t.Fatalf("jammer raised after %d collapsed scans", i+1)
		}
		for _, a := range out {
			if a.Kind == model.KindJammer {
				jammer = append(jammer, a)
			}
		}
	}
	if len(jammer) != 1 {
		t.Fatalf("expected one jammer anomaly, got %d", len(jammer))
	}
	a := jammer[0]
	if a.Severity.Rank() < model.SeverityMedium.Rank() {
		t.Fatalf("expected severity >= medium, got %s", a.Severity)
	}
	if a.ID == "" {
		t.Fatalf("anomaly id not assigned")
	}
	if !eng.Status().JammerSuspected {
		t.Fatalf("status should report a suspected jammer")
	}

	out := eng.SubmitSnapshot(scanOf(38, -55), ts)
	if countKind(out, model.KindJammer) != 0 {
		t.Fatalf("jammer raised on a restored scan")
	}
	if eng.jammer.Streak() != 0 {
		t.Fatalf("expected streak reset, got %d", eng.jammer.Streak())
	}
	if eng.Status().JammerSuspected {
		t.Fatalf("jammer still suspected after restore")
	}
}

func TestJammerHysteresis(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := establishBaseline(eng, time.Now().Add(-time.Hour), 40, -55)
	for i := 0; i < 4; i++ {
		out := eng.SubmitSnapshot(scanOf(12, -85), ts)
		out = append(out, eng.SubmitSnapshot(scanOf(40, -55), ts.Add(5*time.Second))...)
		ts = ts.Add(10 * time.Second)
		if countKind(out, model.KindJammer) != 0 {
			t.Fatalf("isolated dip raised a jammer anomaly")
		}
	}
	if eng.Anomalies().Len() != 0 {
		t.Fatalf("expected no anomalies, got %d", eng.Anomalies().Len())
	}
}

func TestJammerNeedsBaselineFloor(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := establishBaseline(eng, time.Now().Add(-time.Hour), 4, -50)
	for i := 0; i < 5; i++ {
		if out := eng.SubmitSnapshot(scanOf(1, -95), ts); countKind(out, model.KindJammer) != 0 {
			t.Fatalf("jammer raised below the network floor")
		}
		ts = ts.Add(10 * time.Second)
	}
}

func TestJammerStreakRestartsAfterEmission(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := establishBaseline(eng, time.Now().Add(-time.Hour), 40, -55)
	var confs []model.Confidence
	for i := 0; i < 5; i++ {
		for _, a := range eng.SubmitSnapshot(scanOf(12, -85), ts) {
			if a.Kind == model.KindJammer {
				confs = append(confs, a.Confidence)
			}
		}
		ts = ts.Add(10 * time.Second)
	}
	if len(confs) != 1 || confs[0] != model.ConfidenceMedium {
		t.Fatalf("expected a single medium jammer anomaly, got %v", confs)
	}
	// accepted emission resets the streak
	if eng.jammer.Streak() != 2 {
		t.Fatalf("expected streak 2, got %d", eng.jammer.Streak())
	}
}

func TestJammerStreakGrowsWhileCooldownSuppresses(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := establishBaseline(eng, time.Now().Add(-time.Hour), 40, -55)
	var accepted []model.SurveillanceAnomaly
	var firstAt time.Time
	for i := 0; i < 25; i++ {
		for _, a := range eng.SubmitSnapshot(scanOf(12, -85), ts) {
			if a.Kind == model.KindJammer {
				accepted = append(accepted, a)
			}
		}
		switch {
		case len(accepted) == 1 && firstAt.IsZero():
			firstAt = ts
		case len(accepted) == 1:
			// suppressed emissions leave the streak running
			if want := int(ts.Sub(firstAt) / (10 * time.Second)); eng.jammer.Streak() != want {
				t.Fatalf("scan %d: expected streak %d, got %d", i, want, eng.jammer.Streak())
			}
			if !eng.jammer.Suspected() {
				t.Fatalf("scan %d: collapse not reported as suspected", i)
			}
		}
		ts = ts.Add(10 * time.Second)
	}
	if len(accepted) != 2 {
		t.Fatalf("expected two jammer anomalies across the cooldown, got %d", len(accepted))
	}
	if accepted[0].Confidence != model.ConfidenceMedium {
		t.Fatalf("expected first anomaly medium, got %s", accepted[0].Confidence)
	}
	second := accepted[1]
	if second.Confidence != model.ConfidenceHigh {
		t.Fatalf("expected high confidence after a long streak, got %s", second.Confidence)
	}
	if second.Timestamp.Sub(accepted[0].Timestamp) < testConfig().Detection.AnomalyCooldown {
		t.Fatalf("second anomaly inside the cooldown")
	}
	if second.TechnicalDetails["consecutive_readings"] != "18" {
		t.Fatalf("expected 18 consecutive readings, got %q", second.TechnicalDetails["consecutive_readings"])
	}
	if eng.jammer.Streak() >= 5 {
		t.Fatalf("expected streak reset after the accepted emission, got %d", eng.jammer.Streak())
	}
}

func TestEvilTwinDualBandExcluded(t *testing.T) {
	for _, suffixes := range [][2]string{{"10", "1F"}, {"00", "FF"}} {
		eng := newEngineForTest(testConfig())
		ts := time.Now().Add(-time.Hour)
		for i := 0; i < 3; i++ {
			out := eng.SubmitSnapshot([]model.EmitterObservation{
				obs("A4:2B:B0:11:22:"+suffixes[0], "HomeRouter", -30, 2437),
				obs("A4:2B:B0:11:22:"+suffixes[1], "HomeRouter", -90, 5180),
			}, ts)
			ts = ts.Add(10 * time.Second)
			if countKind(out, model.KindEvilTwin) != 0 {
				t.Fatalf("dual-band router %v flagged as evil twin", suffixes)
			}
		}
	}
}

func TestEvilTwinDetected(t *testing.T) {
	eng := newEngineForTest(testConfig())
	out := eng.SubmitSnapshot([]model.EmitterObservation{
		obs("11:22:33:00:00:01", "CorpNet", -80, 2437),
		obs("77:88:99:00:00:02", "CorpNet", -35, 2437),
	}, time.Now().Add(-time.Hour))
	if countKind(out, model.KindEvilTwin) != 1 {
		t.Fatalf("expected evil twin anomaly, got %+v", out)
	}
	for _, a := range out {
		if a.Kind != model.KindEvilTwin {
			continue
		}
		if a.Confidence != model.ConfidenceHigh {
			t.Fatalf("expected high confidence for a 45 dB spread, got %s", a.Confidence)
		}
		if a.TechnicalDetails["suspect_id"] != "77:88:99:00:00:02" {
			t.Fatalf("unexpected suspect %q", a.TechnicalDetails["suspect_id"])
		}
	}
}

func TestEvilTwinSkipsTrustedPublicNames(t *testing.T) {
	eng := newEngineForTest(testConfig())
	out := eng.SubmitSnapshot([]model.EmitterObservation{
		obs("11:22:33:00:00:01", "eduroam", -80, 2437),
		obs("77:88:99:00:00:02", "eduroam", -35, 2437),
	}, time.Now().Add(-time.Hour))
	if countKind(out, model.KindEvilTwin) != 0 {
		t.Fatalf("trusted public name flagged")
	}
}

func TestEvilTwinEstablishedIncumbentNotFlagged(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := time.Now().Add(-time.Hour)
	incumbent := obs("77:88:99:00:00:02", "CorpNet", -35, 2437)
	for i := 0; i < 10; i++ {
		eng.SubmitSnapshot([]model.EmitterObservation{incumbent}, ts)
		ts = ts.Add(10 * time.Second)
	}
	out := eng.SubmitSnapshot([]model.EmitterObservation{
		incumbent,
		obs("11:22:33:00:00:01", "CorpNet", -80, 2437),
	}, ts)
	if countKind(out, model.KindEvilTwin) != 0 {
		t.Fatalf("loud incumbent flagged as evil twin")
	}
}

const metersPerDegreeLat = 111320.0

func runFollowingTrip(eng *Engine, spacing float64) []model.SurveillanceAnomaly {
	var all []model.SurveillanceAnomaly
	ts := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		lat := 40.0 + float64(i)*spacing/metersPerDegreeLat
		eng.SubmitLocation(lat, -75.0, ts)
		all = append(all, eng.SubmitSnapshot([]model.EmitterObservation{
			obs("5A:11:22:33:44:55", "Tracker", -50, 2437),
		}, ts)...)
		ts = ts.Add(30 * time.Second)
	}
	return all
}

func TestFollowingDistanceGate(t *testing.T) {
	eng := newEngineForTest(testConfig())
	if n := countKind(runFollowingTrip(eng, 60), model.KindFollowingNetwork); n != 0 {
		t.Fatalf("observer loitering raised %d following anomalies", n)
	}

	eng = newEngineForTest(testConfig())
	out := runFollowingTrip(eng, 500)
	if n := countKind(out, model.KindFollowingNetwork); n != 1 {
		t.Fatalf("expected one following anomaly, got %d", n)
	}
	for _, a := range out {
		if a.Kind == model.KindFollowingNetwork {
			if a.Lat == nil || a.Lon == nil {
				t.Fatalf("following anomaly missing observer position")
			}
			if a.TechnicalDetails["distinct_locations"] != "5" {
				t.Fatalf("unexpected distinct locations %q", a.TechnicalDetails["distinct_locations"])
			}
		}
	}
	if len(eng.following.Sightings("5A:11:22:33:44:55")) != 0 {
		t.Fatalf("sighting buffer not cleared after emission")
	}
}

func TestFollowingMinDistanceOverride(t *testing.T) {
	eng := newEngineForTest(testConfig())
	eng.SetMinTrackingDistance(100)
	if n := countKind(runFollowingTrip(eng, 60), model.KindFollowingNetwork); n != 1 {
		t.Fatalf("expected one following anomaly with a lowered gate, got %d", n)
	}
}

func TestSettingsOverridesRevertOnConfigUpdate(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	eng.SetMinTrackingDistance(250)
	eng.SetHiddenNetworkAnomalyEnabled(true)
	got := eng.Settings()
	if got.MinTrackingDistanceM != 250 || !got.HiddenNetworkAnomaly {
		t.Fatalf("overrides not applied: %+v", got)
	}
	next := *cfg
	next.Detection.Following.MinTrackingDistanceM = 2000
	eng.UpdateConfig(&next)
	got = eng.Settings()
	if got.MinTrackingDistanceM != 2000 || got.HiddenNetworkAnomaly {
		t.Fatalf("expected config values after update, got %+v", got)
	}
}

func TestSettingsOverridesSurviveTrustEdit(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	eng.SetMinTrackingDistance(250)
	eng.SetHiddenNetworkAnomalyEnabled(true)

	next := *cfg
	next.Trust.TrustedIDs = []string{"02:00:00:00:00:01"}
	eng.UpdateConfig(&next)
	got := eng.Settings()
	if got.MinTrackingDistanceM != 250 || !got.HiddenNetworkAnomaly {
		t.Fatalf("trust edit reverted overrides: %+v", got)
	}
	if !eng.trustSet().IsTrustedID("02:00:00:00:00:01") {
		t.Fatalf("trust list not applied")
	}

	// reapplying an identical config keeps them too
	same := next
	eng.UpdateConfig(&same)
	if got := eng.Settings(); got.MinTrackingDistanceM != 250 || !got.HiddenNetworkAnomaly {
		t.Fatalf("unchanged detection section reverted overrides: %+v", got)
	}
}

func TestFollowingNeedsLocation(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		eng.SubmitSnapshot([]model.EmitterObservation{obs("5A:11:22:33:44:55", "Tracker", -50, 2437)}, ts)
		ts = ts.Add(30 * time.Second)
	}
	if eng.following.Tracked() != 0 {
		t.Fatalf("sightings recorded without an observer fix")
	}
}

func TestAssessFollowingClassifies(t *testing.T) {
	base := time.Now()
	var records []model.SightingRecord
	for i := 0; i < 6; i++ {
		records = append(records, model.SightingRecord{
			Timestamp:   base.Add(time.Duration(i) * 20 * time.Second),
			ObserverLat: 40.0 + float64(i)*300/metersPerDegreeLat,
			ObserverLon: -75.0,
			SignalDbm:   -50,
		})
	}
	a := assessFollowing("x", records, 50)
	if a.TimePattern != model.PatternPeriodic {
		t.Fatalf("expected periodic, got %s", a.TimePattern)
	}
	if !a.Vehicle || !a.Mobile {
		t.Fatalf("expected vehicle-mounted mobile emitter, got %+v", a)
	}
	if a.SignalTrend != model.TrendStable {
		t.Fatalf("expected stable trend, got %s", a.SignalTrend)
	}
	if a.PathCorrelation < 0.99 {
		t.Fatalf("constant signal should correlate fully, got %f", a.PathCorrelation)
	}
	if a.Score > 100 || a.Score < 50 {
		t.Fatalf("unexpected score %d", a.Score)
	}
}

func TestSignalTrend(t *testing.T) {
	cases := []struct {
		in   []float64
		want model.SignalTrend
	}{
		{[]float64{-72, -70, -62, -60}, model.TrendApproaching},
		{[]float64{-60, -62, -70, -72}, model.TrendDeparting},
		{[]float64{-60, -61, -60, -59}, model.TrendStable},
		{[]float64{-30, -90, -30, -90}, model.TrendErratic},
		{[]float64{-60}, model.TrendStable},
	}
	for _, tc := range cases {
		if got := signalTrend(tc.in); got != tc.want {
			t.Fatalf("signalTrend(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestCooldownIdempotence(t *testing.T) {
	cfg := testConfig()
	cfg.Trust.Watchlist = []string{"de:ad:be:ef:00:01"}
	eng := newEngineForTest(cfg)
	target := []model.EmitterObservation{obs("DE:AD:BE:EF:00:01", "watched", -60, 2437)}
	base := time.Now().Add(-time.Hour)

	total := 0
	total += countKind(eng.SubmitSnapshot(target, base), model.KindWatchlist)
	total += countKind(eng.SubmitSnapshot(target, base.Add(time.Minute)), model.KindWatchlist)
	if total != 1 {
		t.Fatalf("expected one emission inside the cooldown, got %d", total)
	}
	total += countKind(eng.SubmitSnapshot(target, base.Add(4*time.Minute)), model.KindWatchlist)
	if total != 2 {
		t.Fatalf("expected a second emission after the cooldown, got %d", total)
	}
	st, ok := eng.Metrics().Detector("watchlist")
	if !ok || st.Emitted != 2 || st.Suppressed != 1 {
		t.Fatalf("unexpected detector stats %+v", st)
	}
}

func TestCooldownAllowAt(t *testing.T) {
	c := NewCooldown()
	now := time.Now()
	if !c.AllowAt("jammer", now, time.Minute) {
		t.Fatalf("first emission should pass")
	}
	if c.AllowAt("jammer", now.Add(30*time.Second), time.Minute) {
		t.Fatalf("emission inside cooldown should be suppressed")
	}
	if !c.AllowAt("drone", now.Add(30*time.Second), time.Minute) {
		t.Fatalf("cooldown is per kind")
	}
	if !c.AllowAt("jammer", now.Add(time.Minute), time.Minute) {
		t.Fatalf("emission after cooldown should pass")
	}
	if removed := c.Prune(now.Add(3*time.Minute), time.Minute); removed != 2 {
		t.Fatalf("expected 2 pruned keys, got %d", removed)
	}
}

func TestDroneVendorConfirmsImmediately(t *testing.T) {
	eng := newEngineForTest(testConfig())
	out := eng.SubmitSnapshot([]model.EmitterObservation{obs("60:60:1F:AA:BB:CC", "", -45, 5745)}, time.Now().Add(-time.Hour))
	if countKind(out, model.KindDrone) != 1 {
		t.Fatalf("expected drone anomaly on first sighting")
	}
	if out[0].Confidence != model.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", out[0].Confidence)
	}
	drones := eng.Drones()
	if len(drones) != 1 || drones[0].Manufacturer != "DJI" || drones[0].Distance != model.DistanceImmediate {
		t.Fatalf("unexpected drones %+v", drones)
	}
	if n := countEvents(eng.Timeline().List(0), model.EventDroneConfirmed); n != 1 {
		t.Fatalf("expected drone confirmed event, got %d", n)
	}
}

func TestDroneNameNeedsRepeatedSightings(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := time.Now().Add(-time.Hour)
	tello := []model.EmitterObservation{obs("02:11:22:33:44:55", "TELLO-A1B2C3", -65, 2437)}

	if out := eng.SubmitSnapshot(tello, ts); countKind(out, model.KindDrone) != 0 {
		t.Fatalf("name match confirmed on the first sighting")
	}
	if len(eng.Drones()) != 0 || eng.drones.PendingCount("02:11:22:33:44:55") != 1 {
		t.Fatalf("expected one pending sighting")
	}
	out := eng.SubmitSnapshot(tello, ts.Add(10*time.Second))
	if countKind(out, model.KindDrone) != 1 || out[0].Confidence != model.ConfidenceMedium {
		t.Fatalf("expected medium drone anomaly on the second sighting, got %+v", out)
	}
	drones := eng.Drones()
	if len(drones) != 1 || drones[0].Method != methodSSIDPattern || drones[0].Distance != model.DistanceNear {
		t.Fatalf("unexpected drones %+v", drones)
	}
	if eng.drones.PendingCount("02:11:22:33:44:55") != 0 {
		t.Fatalf("pending entry kept after confirmation")
	}
}

func TestDronePendingBelowThresholdNeverConfirms(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.Drone.MinSightings = 3
	eng := newEngineForTest(cfg)
	ts := time.Now().Add(-time.Hour)
	tello := []model.EmitterObservation{obs("02:11:22:33:44:55", "TELLO-A1B2C3", -65, 2437)}
	for i := 0; i < 2; i++ {
		eng.SubmitSnapshot(tello, ts.Add(time.Duration(i)*10*time.Second))
	}
	if len(eng.Drones()) != 0 {
		t.Fatalf("confirmed with fewer sightings than required")
	}
	// a gap longer than the pending expiry starts the count over
	eng.SubmitSnapshot(tello, ts.Add(5*time.Minute))
	if len(eng.Drones()) != 0 || eng.drones.PendingCount("02:11:22:33:44:55") != 1 {
		t.Fatalf("stale pending count was not restarted")
	}
}

func TestDroneConfirmedDespiteCooldown(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := time.Now().Add(-time.Hour)
	eng.SubmitSnapshot([]model.EmitterObservation{obs("60:60:1F:AA:BB:01", "", -45, 5745)}, ts)
	out := eng.SubmitSnapshot([]model.EmitterObservation{
		obs("60:60:1F:AA:BB:01", "", -45, 5745),
		obs("90:3A:E6:00:00:02", "", -75, 5745),
	}, ts.Add(10*time.Second))
	if countKind(out, model.KindDrone) != 0 {
		t.Fatalf("second drone anomaly should be held by the cooldown")
	}
	if len(eng.Drones()) != 2 {
		t.Fatalf("expected both drones tracked, got %d", len(eng.Drones()))
	}
	eng.Cleanup(ts.Add(10 * time.Minute))
	if len(eng.Drones()) != 0 {
		t.Fatalf("drones did not expire")
	}
}

func TestCameraCluster(t *testing.T) {
	eng := newEngineForTest(testConfig())
	var scan []model.EmitterObservation
	for i := 0; i < 5; i++ {
		scan = append(scan, obs(fmt.Sprintf("C0:56:E3:00:00:%02X", i), fmt.Sprintf("cam-%d", i), -70, 2437))
	}
	out := eng.SubmitSnapshot(scan, time.Now().Add(-time.Hour))
	if countKind(out, model.KindCameraCluster) != 1 {
		t.Fatalf("expected camera cluster anomaly")
	}
	for _, a := range out {
		if a.Kind == model.KindCameraCluster && a.Confidence != model.ConfidenceMedium {
			t.Fatalf("expected medium for 5 cameras, got %s", a.Confidence)
		}
	}
}

func TestWIPSDetectors(t *testing.T) {
	eng := newEngineForTest(testConfig())
	wep := obs("02:AA:00:00:00:01", "OldRouter", -60, 2437)
	wep.Capabilities = "[WEP][ESS]"
	lure := obs("02:AA:00:00:00:02", "Free Airport WiFi", -50, 2437)
	lure.Capabilities = "[ESS]"
	lure.IsOpenAccess = true
	public := obs("02:AA:00:00:00:03", "xfinitywifi", -50, 2437)
	public.IsOpenAccess = true
	van := obs("02:AA:00:00:00:04", "FBI Surveillance Van", -70, 2437)

	out := eng.SubmitSnapshot([]model.EmitterObservation{wep, lure, public, van}, time.Now().Add(-time.Hour))
	if countKind(out, model.KindWeakEncryption) != 1 {
		t.Fatalf("expected weak encryption anomaly")
	}
	if countKind(out, model.KindSurveillanceVehicle) != 1 {
		t.Fatalf("expected surveillance vehicle anomaly")
	}
	for _, a := range out {
		if a.Kind == model.KindSuspiciousOpen {
			if len(a.RelatedEmitterIDs) != 1 || a.RelatedEmitterIDs[0] != lure.ID {
				t.Fatalf("unexpected honeypot match %v", a.RelatedEmitterIDs)
			}
			return
		}
	}
	t.Fatalf("expected suspicious open network anomaly")
}

func TestHiddenNetworkAnomalyGated(t *testing.T) {
	eng := newEngineForTest(testConfig())
	strong := obs("02:BB:00:00:00:01", "", -40, 2437)
	ts := time.Now().Add(-time.Hour)
	if out := eng.SubmitSnapshot([]model.EmitterObservation{strong}, ts); countKind(out, model.KindHiddenNetwork) != 0 {
		t.Fatalf("hidden network detector ran while disabled")
	}
	eng.SetHiddenNetworkAnomalyEnabled(true)
	out := eng.SubmitSnapshot([]model.EmitterObservation{strong}, ts.Add(10*time.Second))
	if countKind(out, model.KindHiddenNetwork) != 1 {
		t.Fatalf("expected strong hidden network anomaly")
	}
	if out[0].Confidence != model.ConfidenceLow {
		t.Fatalf("expected low confidence, got %s", out[0].Confidence)
	}
}

func TestDeauthBurst(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := time.Now().Add(-time.Hour)
	eng.OnLinkStateChange(true, ts)
	eng.OnLinkStateChange(false, ts.Add(time.Second))
	eng.OnLinkStateChange(true, ts.Add(2*time.Second))
	if eng.Anomalies().Len() != 0 {
		t.Fatalf("deauth raised below threshold")
	}
	eng.OnLinkStateChange(true, ts.Add(3*time.Second))
	list := eng.Anomalies().ByKind(model.KindDeauthAttack)
	if len(list) != 1 || list[0].Severity != model.SeverityHigh {
		t.Fatalf("expected one high deauth anomaly, got %+v", list)
	}
	if eng.deauth.Len() != 0 {
		t.Fatalf("disconnect records not cleared after alert")
	}
}

func TestDeauthWindow(t *testing.T) {
	eng := newEngineForTest(testConfig())
	ts := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		eng.OnLinkStateChange(true, ts.Add(time.Duration(i)*45*time.Second))
	}
	if eng.Anomalies().Len() != 0 {
		t.Fatalf("spread out disconnects raised a deauth anomaly")
	}
}

type panicDetector struct{}

func (panicDetector) Name() string { return "boom" }

func (panicDetector) Check(*Cycle, EmitFunc) error { panic("boom") }

func (panicDetector) Reset() {}

func TestDetectorPanicIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.Trust.Watchlist = []string{"DE:AD:BE:EF:00:01"}
	eng := newEngineForTest(cfg)
	eng.detectors = append([]Detector{panicDetector{}}, eng.detectors...)
	out := eng.SubmitSnapshot([]model.EmitterObservation{obs("DE:AD:BE:EF:00:01", "x", -60, 2437)}, time.Now().Add(-time.Hour))
	if countKind(out, model.KindWatchlist) != 1 {
		t.Fatalf("panic in one detector stopped the others")
	}
	st, ok := eng.Metrics().Detector("boom")
	if !ok || st.Errors != 1 || st.LastError == "" {
		t.Fatalf("panic not recorded: %+v", st)
	}
}

func TestDuplicateSnapshotIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Detection.DedupeWindow = 2 * time.Second
	eng := newEngineForTest(cfg)
	ts := time.Now().Add(-time.Hour)
	eng.SubmitSnapshot(scanOf(5, -60), ts)
	eng.SubmitSnapshot(scanOf(5, -60), ts)
	if eng.cycles != 1 {
		t.Fatalf("expected duplicate to be dropped, cycles=%d", eng.cycles)
	}
	eng.SubmitSnapshot(scanOf(5, -60), ts.Add(10*time.Second))
	if eng.cycles != 2 {
		t.Fatalf("expected new timestamp to be processed, cycles=%d", eng.cycles)
	}
}

func TestImplausibleSignalsStillCounted(t *testing.T) {
	eng := newEngineForTest(testConfig())
	scan := scanOf(3, -60)
	scan[0].SignalDbm = 0
	eng.SubmitSnapshot(scan, time.Now().Add(-time.Hour))
	st := eng.Status()
	if st.Total != 3 || st.AvgSignalDbm != -60 {
		t.Fatalf("unexpected status %+v", st)
	}
	if eng.history.Len() != 3 {
		t.Fatalf("implausible reading dropped from history")
	}
}

func TestNetworkLifecycleEvents(t *testing.T) {
	cfg := testConfig()
	eng := newEngineForTest(cfg)
	ts := time.Now().Add(-time.Hour)
	eng.SubmitSnapshot(scanOf(3, -60), ts)
	if n := countEvents(eng.Timeline().List(0), model.EventNetworkAppeared); n != 0 {
		t.Fatalf("first cycle should not report appearances, got %d", n)
	}
	eng.SubmitSnapshot(scanOf(4, -60), ts.Add(10*time.Second))
	if n := countEvents(eng.Timeline().List(0), model.EventNetworkAppeared); n != 1 {
		t.Fatalf("expected one appeared event, got %d", n)
	}
	eng.Cleanup(ts.Add(10*time.Second + cfg.Detection.HistoryStaleAfter + time.Second))
	if n := countEvents(eng.Timeline().List(0), model.EventNetworkDisappeared); n != 4 {
		t.Fatalf("expected four disappeared events, got %d", n)
	}
	if eng.history.Len() != 0 {
		t.Fatalf("stale histories kept")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	eng := newEngineForTest(testConfig())
	events, cancel := eng.SubscribeEvents(16)
	defer cancel()
	ts := time.Now().Add(-time.Hour)
	eng.SubmitSnapshot(scanOf(2, -60), ts)
	eng.Stop()
	eng.Stop()
	if n := countEvents(eng.Timeline().List(0), model.EventMonitoringStopped); n != 1 {
		t.Fatalf("expected one stopped event, got %d", n)
	}
	if out := eng.SubmitSnapshot(scanOf(2, -60), ts.Add(time.Second)); out != nil || eng.cycles != 1 {
		t.Fatalf("snapshot processed after stop")
	}
	if eng.Status().Monitoring {
		t.Fatalf("status still reports monitoring")
	}
	var got []model.EventType
	for len(events) > 0 {
		got = append(got, (<-events).Type)
	}
	if len(got) == 0 || got[0] != model.EventMonitoringStarted || got[len(got)-1] != model.EventMonitoringStopped {
		t.Fatalf("unexpected event order %v", got)
	}
}

func TestSubscribersReceiveAnomalies(t *testing.T) {
	cfg := testConfig()
	cfg.Trust.Watchlist = []string{"DE:AD:BE:EF:00:01"}
	eng := newEngineForTest(cfg)
	feed, cancel := eng.SubscribeAnomalies(1)
	eng.SubmitSnapshot([]model.EmitterObservation{obs("DE:AD:BE:EF:00:01", "x", -60, 2437)}, time.Now().Add(-time.Hour))
	select {
	case a := <-feed:
		if a.Kind != model.KindWatchlist || a.ID == "" {
			t.Fatalf("unexpected anomaly %+v", a)
		}
	default:
		t.Fatalf("subscriber got nothing")
	}
	cancel()
	cancel()
	if _, ok := <-feed; ok {
		t.Fatalf("channel not closed by cancel")
	}
}

func TestClearAndReset(t *testing.T) {
	cfg := testConfig()
	cfg.Trust.Watchlist = []string{"DE:AD:BE:EF:00:01"}
	eng := newEngineForTest(cfg)
	target := []model.EmitterObservation{obs("DE:AD:BE:EF:00:01", "x", -60, 2437)}
	ts := time.Now().Add(-time.Hour)
	eng.SubmitSnapshot(target, ts)
	eng.ClearAnomalies()
	if eng.Anomalies().Len() != 0 {
		t.Fatalf("anomalies not cleared")
	}
	// cooldown survives ClearAnomalies and ClearHistory
	eng.ClearHistory()
	if out := eng.SubmitSnapshot(target, ts.Add(time.Minute)); countKind(out, model.KindWatchlist) != 0 {
		t.Fatalf("cooldown lost on clear")
	}
	eng.Reset()
	if out := eng.SubmitSnapshot(target, ts.Add(2*time.Minute)); countKind(out, model.KindWatchlist) != 1 {
		t.Fatalf("expected emission after reset")
	}
}

func TestToDetectionRecord(t *testing.T) {
	lat, lon := 40.1, -75.2
	a := model.SurveillanceAnomaly{
		ID:         "a-1",
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		Kind:       model.KindEvilTwin,
		Confidence: model.ConfidenceHigh,
		Severity:   model.SeverityHigh,
		TechnicalDetails: map[string]string{
			"method":     "ssid_duplicate",
			"name":       "CorpNet",
			"suspect_id": "77:88:99:00:00:02",
			"signal_dbm": "-35",
		},
		RelatedEmitterIDs: []string{"77:88:99:00:00:02"},
		Lat:               &lat,
		Lon:               &lon,
	}
	rec := ToDetectionRecord(a)
	if rec.ID != "a-1" || rec.DeviceType != "ROGUE_AP" || rec.DetectionMethod != "ssid_duplicate" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.ThreatLevel != model.SeverityHigh || rec.ThreatScore != 75 || rec.Protocol != "wifi" {
		t.Fatalf("unexpected threat fields %+v", rec)
	}
	if rec.SignalDbm == nil || *rec.SignalDbm != -35 || rec.EmitterID != "77:88:99:00:00:02" || rec.Name != "CorpNet" {
		t.Fatalf("unexpected emitter fields %+v", rec)
	}
	if rec2 := ToDetectionRecord(a); rec2.DeviceType != rec.DeviceType || rec2.ThreatScore != rec.ThreatScore {
		t.Fatalf("mapping not deterministic")
	}

	unknown := ToDetectionRecord(model.SurveillanceAnomaly{Kind: "mystery", Confidence: model.ConfidenceCritical})
	if unknown.DeviceType != "UNKNOWN" || unknown.DetectionMethod != "mystery" || unknown.ThreatScore != 95 {
		t.Fatalf("unexpected fallback record %+v", unknown)
	}
}

func TestRiskTier(t *testing.T) {
	if RiskTierFor(nil, false) != model.RiskLow {
		t.Fatalf("expected low")
	}
	if RiskTierFor(nil, true) != model.RiskElevated {
		t.Fatalf("jammer should elevate risk")
	}
	recent := []model.SurveillanceAnomaly{{Severity: model.SeverityLow}, {Severity: model.SeverityHigh}}
	if RiskTierFor(recent, false) != model.RiskHigh {
		t.Fatalf("expected high")
	}
	if NoiseLevelFor(map[int]int{1: 3, 6: 12}) != model.NoiseHigh {
		t.Fatalf("expected high noise")
	}
}
