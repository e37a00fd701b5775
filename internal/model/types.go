package model

import "time"

type Band string

const (
	Band24GHz   Band = "2.4GHz"
	Band5GHz    Band = "5GHz"
	Band6GHz    Band = "6GHz"
	BandUnknown Band = "unknown"
)

// EmitterObservation is one emitter reported by a single radio scan.
type EmitterObservation struct {
	ID           string  `json:"id"`
	DisplayName  *string `json:"name,omitempty"`
	SignalDbm    int     `json:"signal_dbm"`
	FrequencyHz  int64   `json:"frequency_hz"`
	IsOpenAccess bool    `json:"open"`
	VendorPrefix string  `json:"vendor_prefix,omitempty"`
	Capabilities string  `json:"capabilities,omitempty"`
}

// Name returns the display name or "" for hidden emitters.
func (o EmitterObservation) Name() string {
	if o.DisplayName == nil {
		return ""
	}
	return *o.DisplayName
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type LocationFix struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

func (f LocationFix) Point() GeoPoint {
	return GeoPoint{Lat: f.Lat, Lon: f.Lon}
}

type HiddenNetworkProfile struct {
	Count                  int     `json:"count"`
	AvgHiddenSignalDbm     float64 `json:"avg_hidden_signal_dbm"`
	AvgVisibleSignalDbm    float64 `json:"avg_visible_signal_dbm"`
	SignalVariance         float64 `json:"signal_variance"`
	SignalClusters         int     `json:"signal_clusters"`
	ChannelConcentrated    bool    `json:"channel_concentrated"`
	DominantChannels       []int   `json:"dominant_channels,omitempty"`
	VendorSharing          int     `json:"vendor_sharing"`
	Persistent             int     `json:"persistent"`
	NewThisScan            int     `json:"new_this_scan"`
	SimultaneousAppearance bool    `json:"simultaneous_appearance"`
	StrongestDbm           int     `json:"strongest_dbm"`
	StrongestID            string  `json:"strongest_id,omitempty"`
}

// RadioSnapshot is the aggregate of one scan cycle. It is never mutated
// after the builder returns it.
type RadioSnapshot struct {
	Timestamp     time.Time             `json:"timestamp"`
	Total         int                   `json:"total"`
	Band24        int                   `json:"band_24"`
	Band5         int                   `json:"band_5"`
	Band6         int                   `json:"band_6"`
	BandUnknown   int                   `json:"band_unknown"`
	OpenCount     int                   `json:"open_count"`
	HiddenCount   int                   `json:"hidden_count"`
	AvgSignalDbm  int                   `json:"avg_signal_dbm"`
	SignalSamples int                   `json:"signal_samples"`
	Channels      map[int]int           `json:"channels"`
	DroneLike     int                   `json:"drone_like"`
	CameraLike    int                   `json:"camera_like"`
	VehicleLike   int                   `json:"vehicle_like"`
	Hidden        *HiddenNetworkProfile `json:"hidden,omitempty"`
}

type Baseline struct {
	MeanCount     int       `json:"mean_count"`
	MeanSignalDbm int       `json:"mean_signal_dbm"`
	Samples       int       `json:"samples"`
	EstablishedAt time.Time `json:"established_at"`
}

type EmitterHistory struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"name,omitempty"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	SeenCount    int        `json:"seen_count"`
	Signals      []int      `json:"signals"`
	Locations    []GeoPoint `json:"locations,omitempty"`
	IsOpen       bool       `json:"open"`
	FrequencyHz  int64      `json:"frequency_hz"`
	VendorPrefix string     `json:"vendor_prefix,omitempty"`
}

type SightingRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	ObserverLat float64   `json:"observer_lat"`
	ObserverLon float64   `json:"observer_lon"`
	SignalDbm   int       `json:"signal_dbm"`
}

type DistanceBucket string

const (
	DistanceImmediate DistanceBucket = "immediate"
	DistanceNear      DistanceBucket = "near"
	DistanceFar       DistanceBucket = "far"
)

type DroneInfo struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Manufacturer string         `json:"manufacturer"`
	Method       string         `json:"method"`
	FirstSeen    time.Time      `json:"first_seen"`
	LastSeen     time.Time      `json:"last_seen"`
	SignalDbm    int            `json:"signal_dbm"`
	Distance     DistanceBucket `json:"distance"`
	Sightings    int            `json:"sightings"`
}

type TimePattern string

const (
	PatternPeriodic   TimePattern = "periodic"
	PatternRandom     TimePattern = "random"
	PatternCorrelated TimePattern = "correlated"
	PatternUnknown    TimePattern = "unknown"
)

type SignalTrend string

const (
	TrendStable      SignalTrend = "stable"
	TrendApproaching SignalTrend = "approaching"
	TrendDeparting   SignalTrend = "departing"
	TrendErratic     SignalTrend = "erratic"
)

// FollowingAssessment is the tracker's verdict on one emitter's sightings.
type FollowingAssessment struct {
	ID                string      `json:"id"`
	Sightings         int         `json:"sightings"`
	DistinctLocations int         `json:"distinct_locations"`
	TravelMeters      float64     `json:"travel_m"`
	DurationSeconds   float64     `json:"duration_s"`
	MeanIntervalSec   float64     `json:"mean_interval_s"`
	PathCorrelation   float64     `json:"path_correlation"`
	TimePattern       TimePattern `json:"time_pattern"`
	SignalTrend       SignalTrend `json:"signal_trend"`
	AvgSignalDbm      float64     `json:"avg_signal_dbm"`
	SpeedKmh          float64     `json:"speed_kmh"`
	Mobile            bool        `json:"mobile"`
	Vehicle           bool        `json:"vehicle"`
	OnFoot            bool        `json:"on_foot"`
	Score             int         `json:"score"`
}
