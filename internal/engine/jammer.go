package engine

import (
	"fmt"
	"strconv"

	"rfwatch/internal/model"
)

// JammerDetector flags a sustained collapse of both network count and mean
// signal against the committed baseline. Single-scan dips are ignored.
type JammerDetector struct {
	streak    int
	suspected bool
}

func (d *JammerDetector) Name() string { return "jammer" }

func (d *JammerDetector) Reset() {
	d.streak = 0
	d.suspected = false
}

func (d *JammerDetector) Streak() int { return d.streak }

// Suspected reports whether the latest scan was a collapse reading.
func (d *JammerDetector) Suspected() bool { return d.suspected }

func (d *JammerDetector) Check(c *Cycle, emit EmitFunc) error {
	cfg := c.Config.Detection.Jammer
	b := c.Baseline
	if b == nil {
		d.Reset()
		return nil
	}
	snap := c.Snapshot
	collapsed := b.MeanCount >= cfg.FloorNetworks &&
		float64(snap.Total) <= float64(b.MeanCount)*cfg.DropRatio &&
		snap.AvgSignalDbm <= b.MeanSignalDbm-cfg.SignalDropDbm
	d.suspected = collapsed
	if !collapsed {
		d.streak = 0
		return nil
	}
	d.streak++
	if d.streak < cfg.MinConsecutive {
		return nil
	}
	conf := model.ConfidenceMedium
	if d.streak >= cfg.HighConfidenceRuns {
		conf = model.ConfidenceHigh
	}
	desc := fmt.Sprintf("Possible RF jamming: %d networks at %d dBm against a baseline of %d networks at %d dBm for %d consecutive scans",
		snap.Total, snap.AvgSignalDbm, b.MeanCount, b.MeanSignalDbm, d.streak)
	a := newAnomaly(c, model.KindJammer, conf, desc, map[string]string{
		"method":                  "baseline_collapse",
		"consecutive_readings":    strconv.Itoa(d.streak),
		"network_count":           strconv.Itoa(snap.Total),
		"baseline_network_count":  strconv.Itoa(b.MeanCount),
		"avg_signal_dbm":          strconv.Itoa(snap.AvgSignalDbm),
		"baseline_avg_signal_dbm": strconv.Itoa(b.MeanSignalDbm),
	})
	if emit(a) {
		d.streak = 0
	}
	return nil
}
