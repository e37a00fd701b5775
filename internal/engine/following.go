package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"rfwatch/internal/geo"
	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
)

const (
	mobileDisplacementM = 50.0
	vehicleSpeedKmh     = 20.0
	footSpeedKmh        = 8.0
	footSignalDbm       = -60.0

	// log-distance path loss model used to turn RSSI into a rough range
	pathLossTxPowerDbm = -40.0
	pathLossExponent   = 2.7
)

// FollowingDetector keeps a sighting window per emitter, tagged with the
// observer position, and flags emitters that keep showing up while the
// observer travels.
type FollowingDetector struct {
	windows     map[string]*SightingWindow
	minDistance float64
	overridden  bool
}

func NewFollowingDetector() *FollowingDetector {
	return &FollowingDetector{windows: make(map[string]*SightingWindow)}
}

func (d *FollowingDetector) Name() string { return "following" }

func (d *FollowingDetector) Reset() {
	d.windows = make(map[string]*SightingWindow)
}

// SetMinTrackingDistance overrides the configured travel gate; a negative
// value goes back to the config.
func (d *FollowingDetector) SetMinTrackingDistance(m float64) {
	if m < 0 {
		d.overridden = false
		d.minDistance = 0
		return
	}
	d.minDistance = m
	d.overridden = true
}

func (d *FollowingDetector) minTrackingDistance(c *Cycle) float64 {
	if d.overridden {
		return d.minDistance
	}
	return c.Config.Detection.Following.MinTrackingDistanceM
}

func (d *FollowingDetector) Tracked() int { return len(d.windows) }

// Sightings returns a copy of the window for id.
func (d *FollowingDetector) Sightings(id string) []model.SightingRecord {
	if w, ok := d.windows[id]; ok {
		return w.Records()
	}
	return nil
}

func (d *FollowingDetector) Check(c *Cycle, emit EmitFunc) error {
	cfg := c.Config.Detection.Following
	loc := c.Location
	if loc == nil || geo.IsUnknown(loc.Lat, loc.Lon) || c.Timestamp.Sub(loc.Timestamp) > cfg.TrackingWindow {
		return nil
	}
	for _, o := range c.Observations {
		if c.Trust.IsTrustedID(o.ID) {
			continue
		}
		w, ok := d.windows[o.ID]
		if !ok {
			w = NewSightingWindow(cfg.TrackingWindow, cfg.MaxSightings)
			d.windows[o.ID] = w
		}
		w.Add(model.SightingRecord{
			Timestamp:   c.Timestamp,
			ObserverLat: loc.Lat,
			ObserverLon: loc.Lon,
			SignalDbm:   o.SignalDbm,
		})
	}

	minTravel := d.minTrackingDistance(c)
	for _, o := range c.Observations {
		w, ok := d.windows[o.ID]
		if !ok || w.Len() < cfg.MinSightings {
			continue
		}
		a := assessFollowing(o.ID, w.Records(), cfg.MergeRadiusM)
		if a.DistinctLocations < 3 && a.Score < 50 {
			continue
		}
		if a.TravelMeters < minTravel {
			continue
		}
		name := o.Name()
		label := name
		if label == "" {
			label = o.ID
		}
		desc := fmt.Sprintf("%s was seen at %d distinct locations over %.0f m of travel (score %d)",
			label, a.DistinctLocations, a.TravelMeters, a.Score)
		anomaly := newAnomaly(c, model.KindFollowingNetwork, followingConfidence(a.Score), desc, map[string]string{
			"method":             "co_location",
			"name":               name,
			"emitter_id":         o.ID,
			"signal_dbm":         strconv.Itoa(o.SignalDbm),
			"sightings":          strconv.Itoa(a.Sightings),
			"distinct_locations": strconv.Itoa(a.DistinctLocations),
			"travel_m":           strconv.FormatFloat(a.TravelMeters, 'f', 0, 64),
			"duration_s":         strconv.FormatFloat(a.DurationSeconds, 'f', 0, 64),
			"path_correlation":   strconv.FormatFloat(a.PathCorrelation, 'f', 2, 64),
			"time_pattern":       string(a.TimePattern),
			"signal_trend":       string(a.SignalTrend),
			"speed_kmh":          strconv.FormatFloat(a.SpeedKmh, 'f', 1, 64),
			"movement":           movementLabel(a),
			"score":              strconv.Itoa(a.Score),
		}, o.ID)
		if emit(anomaly) {
			delete(d.windows, o.ID)
		}
	}
	return nil
}

// Prune drops windows whose newest sighting fell out of the tracking window.
func (d *FollowingDetector) Prune(now time.Time, window time.Duration) int {
	removed := 0
	for id, w := range d.windows {
		w.Evict(now.Add(-window))
		if w.Len() == 0 {
			delete(d.windows, id)
			removed++
		}
	}
	return removed
}

func followingConfidence(score int) model.Confidence {
	switch {
	case score >= 80:
		return model.ConfidenceCritical
	case score >= 70:
		return model.ConfidenceHigh
	case score >= 50:
		return model.ConfidenceMedium
	}
	return model.ConfidenceLow
}

func movementLabel(a model.FollowingAssessment) string {
	switch {
	case a.Vehicle:
		return "vehicle"
	case a.OnFoot:
		return "foot"
	case a.Mobile:
		return "mobile"
	}
	return "stationary"
}

// assessFollowing scores one emitter's sightings, oldest first.
func assessFollowing(id string, records []model.SightingRecord, mergeRadius float64) model.FollowingAssessment {
	a := model.FollowingAssessment{ID: id, Sightings: len(records), TimePattern: model.PatternUnknown, SignalTrend: model.TrendStable}
	if len(records) == 0 {
		return a
	}
	points := make([]model.GeoPoint, len(records))
	for i, r := range records {
		points[i] = model.GeoPoint{Lat: r.ObserverLat, Lon: r.ObserverLon}
	}
	a.DistinctLocations = len(geo.Merge(points, mergeRadius))
	a.TravelMeters = geo.PathLength(points)
	a.DurationSeconds = records[len(records)-1].Timestamp.Sub(records[0].Timestamp).Seconds()
	if a.DurationSeconds > 0 {
		a.SpeedKmh = a.TravelMeters / a.DurationSeconds * 3.6
	}

	var signals, ranges []float64
	for _, r := range records {
		if !normalize.PlausibleSignal(r.SignalDbm) {
			continue
		}
		signals = append(signals, float64(r.SignalDbm))
		ranges = append(ranges, estimateRange(float64(r.SignalDbm)))
	}
	if len(ranges) >= 2 {
		mean, std := stat.PopMeanStdDev(ranges, nil)
		if mean > 0 {
			a.PathCorrelation = clamp01(1 - std/mean)
		}
	}
	if len(signals) > 0 {
		a.AvgSignalDbm = stat.Mean(signals, nil)
	}
	a.SignalTrend = signalTrend(signals)

	mean, cv, n := intervalStats(records)
	a.MeanIntervalSec = mean
	switch {
	case n < 2:
		a.TimePattern = model.PatternUnknown
	case cv < 0.25:
		a.TimePattern = model.PatternPeriodic
	case a.PathCorrelation >= 0.7:
		a.TimePattern = model.PatternCorrelated
	default:
		a.TimePattern = model.PatternRandom
	}

	a.Mobile = geo.MaxDisplacement(points, geo.Centroid(points)) > mobileDisplacementM
	a.Vehicle = a.SpeedKmh > vehicleSpeedKmh
	a.OnFoot = len(signals) > 0 && a.AvgSignalDbm > footSignalDbm && a.SpeedKmh > 0 && a.SpeedKmh <= footSpeedKmh
	a.Score = followingScore(a)
	return a
}

func followingScore(a model.FollowingAssessment) int {
	score := math.Min(float64(a.DistinctLocations)*10, 30)
	score += a.PathCorrelation * 25
	if a.Mobile {
		score += 10
	}
	if a.Vehicle {
		score += 15
	}
	if a.OnFoot {
		score += 15
	}
	score += math.Min(a.DurationSeconds/60*2, 10)
	switch a.TimePattern {
	case model.PatternCorrelated:
		score += 10
	case model.PatternPeriodic:
		score += 5
	}
	return int(math.Min(math.Round(score), 100))
}

func signalTrend(signals []float64) model.SignalTrend {
	if len(signals) < 2 {
		return model.TrendStable
	}
	if stat.PopStdDev(signals, nil) > 10 {
		return model.TrendErratic
	}
	half := len(signals) / 2
	diff := stat.Mean(signals[half:], nil) - stat.Mean(signals[:half], nil)
	switch {
	case diff > 5:
		return model.TrendApproaching
	case diff < -5:
		return model.TrendDeparting
	}
	return model.TrendStable
}

func estimateRange(rssi float64) float64 {
	return math.Pow(10, (pathLossTxPowerDbm-rssi)/(10*pathLossExponent))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
