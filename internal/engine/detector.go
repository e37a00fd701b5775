package engine

import (
	"fmt"
	"log/slog"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

// EmitFunc hands an anomaly to the reporter. It returns false when the
// anomaly was suppressed by the cooldown.
type EmitFunc func(model.SurveillanceAnomaly) bool

// Detector is one independent check run against every scan cycle.
type Detector interface {
	Name() string
	Check(c *Cycle, emit EmitFunc) error
	Reset()
}

// Cycle is the read-only view detectors get of a single scan.
type Cycle struct {
	Timestamp    time.Time
	Observations []model.EmitterObservation
	Snapshot     model.RadioSnapshot
	Baseline     *model.Baseline
	History      *History
	Location     *model.LocationFix
	Trust        *TrustSet
	Config       *config.Config

	events []model.TimelineEvent
}

// Note queues a timeline event to be published after all detectors ran.
func (c *Cycle) Note(ev model.TimelineEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.Timestamp
	}
	c.events = append(c.events, ev)
}

func runDetector(d Detector, c *Cycle, emit EmitFunc, stats *metrics.Store, logger *slog.Logger) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector %s panicked: %v", d.Name(), r)
		}
		if stats != nil {
			stats.RecordRun(d.Name(), c.Timestamp, time.Since(start), err)
		}
		if err != nil && logger != nil {
			logger.Error("detector failed", "detector", d.Name(), "err", err)
		}
	}()
	return d.Check(c, emit)
}

func newAnomaly(c *Cycle, kind model.AnomalyKind, conf model.Confidence, desc string, details map[string]string, ids ...string) model.SurveillanceAnomaly {
	return model.SurveillanceAnomaly{
		Timestamp:         c.Timestamp,
		Kind:              kind,
		Confidence:        conf,
		Severity:          model.SeverityFor(conf),
		Description:       desc,
		TechnicalDetails:  details,
		RelatedEmitterIDs: ids,
	}
}
