package model

import "time"

type AnomalyKind string

const (
	KindJammer              AnomalyKind = "jammer"
	KindEvilTwin            AnomalyKind = "evil_twin"
	KindFollowingNetwork    AnomalyKind = "following_network"
	KindDrone               AnomalyKind = "drone"
	KindCameraCluster       AnomalyKind = "surveillance_camera_cluster"
	KindSurveillanceVehicle AnomalyKind = "surveillance_vehicle"
	KindHiddenNetwork       AnomalyKind = "hidden_network_anomaly"
	KindWeakEncryption      AnomalyKind = "weak_encryption"
	KindSuspiciousOpen      AnomalyKind = "suspicious_open_network"
	KindDeauthAttack        AnomalyKind = "deauth_attack"
	KindWatchlist           AnomalyKind = "watchlist_match"
)

type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceCritical Confidence = "critical"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// SeverityFor maps a detector confidence to the downstream severity tier.
func SeverityFor(c Confidence) Severity {
	switch c {
	case ConfidenceMedium:
		return SeverityMedium
	case ConfidenceHigh:
		return SeverityHigh
	case ConfidenceCritical:
		return SeverityCritical
	}
	return SeverityLow
}

type SurveillanceAnomaly struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Kind              AnomalyKind       `json:"kind"`
	Severity          Severity          `json:"severity"`
	Confidence        Confidence        `json:"confidence"`
	Description       string            `json:"description"`
	TechnicalDetails  map[string]string `json:"technical_details,omitempty"`
	RelatedEmitterIDs []string          `json:"related_emitter_ids,omitempty"`
	Lat               *float64          `json:"lat,omitempty"`
	Lon               *float64          `json:"lon,omitempty"`
}

type DetectionRecord struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	DeviceType      string            `json:"device_type"`
	Protocol        string            `json:"protocol"`
	DetectionMethod string            `json:"detection_method"`
	ThreatLevel     Severity          `json:"threat_level"`
	ThreatScore     int               `json:"threat_score"`
	Name            string            `json:"name,omitempty"`
	EmitterID       string            `json:"emitter_id,omitempty"`
	SignalDbm       *int              `json:"signal_dbm,omitempty"`
	Lat             *float64          `json:"lat,omitempty"`
	Lon             *float64          `json:"lon,omitempty"`
	Details         map[string]string `json:"details,omitempty"`
}

type EventType string

const (
	EventAnomaly             EventType = "anomaly"
	EventMonitoringStarted   EventType = "monitoring_started"
	EventMonitoringStopped   EventType = "monitoring_stopped"
	EventNetworkAppeared     EventType = "network_appeared"
	EventNetworkDisappeared  EventType = "network_disappeared"
	EventBaselineEstablished EventType = "baseline_established"
	EventDroneConfirmed      EventType = "drone_confirmed"
)

type TimelineEvent struct {
	ID                string      `json:"id"`
	Timestamp         time.Time   `json:"timestamp"`
	Type              EventType   `json:"type"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	Severity          Severity    `json:"severity,omitempty"`
	AnomalyKind       AnomalyKind `json:"anomaly_kind,omitempty"`
	AnomalyID         string      `json:"anomaly_id,omitempty"`
	RelatedEmitterIDs []string    `json:"related_emitter_ids,omitempty"`
}

type NoiseLevel string

const (
	NoiseLow      NoiseLevel = "low"
	NoiseModerate NoiseLevel = "moderate"
	NoiseHigh     NoiseLevel = "high"
	NoiseExtreme  NoiseLevel = "extreme"
)

type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskElevated RiskTier = "elevated"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

type EnvironmentStatus struct {
	Timestamp           time.Time  `json:"timestamp"`
	Monitoring          bool       `json:"monitoring"`
	Total               int        `json:"total"`
	Band24              int        `json:"band_24"`
	Band5               int        `json:"band_5"`
	Band6               int        `json:"band_6"`
	Open                int        `json:"open"`
	Hidden              int        `json:"hidden"`
	AvgSignalDbm        int        `json:"avg_signal_dbm"`
	NoiseLevel          NoiseLevel `json:"noise_level"`
	JammerSuspected     bool       `json:"jammer_suspected"`
	RiskTier            RiskTier   `json:"risk_tier"`
	BaselineEstablished bool       `json:"baseline_established"`
	Baseline            *Baseline  `json:"baseline,omitempty"`
	ActiveDrones        int        `json:"active_drones"`
	TrackedEmitters     int        `json:"tracked_emitters"`
	RecentAnomalies     int        `json:"recent_anomalies"`
}

// RuntimeSettings are the operator overrides adjustable without a config change.
type RuntimeSettings struct {
	MinTrackingDistanceM float64 `json:"min_tracking_distance_m"`
	HiddenNetworkAnomaly bool    `json:"hidden_network_anomaly"`
}
