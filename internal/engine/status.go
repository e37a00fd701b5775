package engine

import (
	"time"

	"rfwatch/internal/model"
)

const riskLookback = 15 * time.Minute

// NoiseLevelFor grades congestion by the busiest channel.
func NoiseLevelFor(channels map[int]int) model.NoiseLevel {
	busiest := 0
	for _, n := range channels {
		if n > busiest {
			busiest = n
		}
	}
	switch {
	case busiest < 5:
		return model.NoiseLow
	case busiest < 10:
		return model.NoiseModerate
	case busiest < 20:
		return model.NoiseHigh
	}
	return model.NoiseExtreme
}

// RiskTierFor grades recent anomalies; a suspected jammer alone is elevated.
func RiskTierFor(recent []model.SurveillanceAnomaly, jammerSuspected bool) model.RiskTier {
	worst := 0
	for _, a := range recent {
		if r := a.Severity.Rank(); r > worst {
			worst = r
		}
	}
	tier := model.RiskLow
	switch {
	case worst >= model.SeverityCritical.Rank():
		tier = model.RiskCritical
	case worst >= model.SeverityHigh.Rank():
		tier = model.RiskHigh
	case worst >= model.SeverityMedium.Rank() || len(recent) >= 3:
		tier = model.RiskElevated
	}
	if jammerSuspected && tier == model.RiskLow {
		tier = model.RiskElevated
	}
	return tier
}

func buildStatus(snap model.RadioSnapshot, hasSnap bool, baseline *model.Baseline, recent []model.SurveillanceAnomaly, jammer bool, drones, tracked int, monitoring bool, now time.Time) model.EnvironmentStatus {
	st := model.EnvironmentStatus{
		Timestamp:           now,
		Monitoring:          monitoring,
		NoiseLevel:          model.NoiseLow,
		JammerSuspected:     jammer,
		RiskTier:            RiskTierFor(recent, jammer),
		BaselineEstablished: baseline != nil,
		Baseline:            baseline,
		ActiveDrones:        drones,
		TrackedEmitters:     tracked,
		RecentAnomalies:     len(recent),
	}
	if hasSnap {
		st.Total = snap.Total
		st.Band24 = snap.Band24
		st.Band5 = snap.Band5
		st.Band6 = snap.Band6
		st.Open = snap.OpenCount
		st.Hidden = snap.HiddenCount
		st.AvgSignalDbm = snap.AvgSignalDbm
		st.NoiseLevel = NoiseLevelFor(snap.Channels)
	}
	return st
}
