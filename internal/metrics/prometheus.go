package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rfwatch/internal/model"
)

var (
	ScansProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfwatch_scans_processed_total",
			Help: "Total number of scan cycles processed",
		},
	)

	ScansDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfwatch_scans_duplicate_total",
			Help: "Scan reports ignored as duplicates",
		},
	)

	LocationsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rfwatch_locations_received_total",
			Help: "Observer location fixes accepted",
		},
	)

	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_ingest_messages_total",
			Help: "Ingest messages by source and outcome",
		},
		[]string{"source", "outcome"}, // outcome: "accepted", "invalid", "dropped"
	)

	AnomaliesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_anomalies_emitted_total",
			Help: "Anomalies accepted by the reporter",
		},
		[]string{"kind"},
	)

	AnomaliesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_anomalies_suppressed_total",
			Help: "Anomalies dropped by the per-kind cooldown",
		},
		[]string{"kind"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_detector_errors_total",
			Help: "Detector failures, including recovered panics",
		},
		[]string{"detector"},
	)

	DetectorRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfwatch_detector_run_seconds",
			Help:    "Time spent in a single detector per scan cycle",
			Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"detector"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rfwatch_scan_cycle_seconds",
			Help:    "Duration of a full scan cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_subscriber_drops_total",
			Help: "Stream messages dropped because a subscriber was full",
		},
		[]string{"stream"},
	)

	VisibleNetworks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rfwatch_visible_networks",
			Help: "Emitters in the latest scan by band",
		},
		[]string{"band"},
	)

	AverageSignal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfwatch_average_signal_dbm",
			Help: "Mean signal strength of the latest scan",
		},
	)

	ActiveDrones = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfwatch_active_drones",
			Help: "Confirmed drones not yet expired",
		},
	)

	TrackedEmitters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfwatch_tracked_emitters",
			Help: "Emitter histories currently retained",
		},
	)

	JammerSuspected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfwatch_jammer_suspected",
			Help: "1 while the jammer streak is non-zero",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfwatch_websocket_clients",
			Help: "Connected event stream clients",
		},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_storage_errors_total",
			Help: "Persistence failures by operation",
		},
		[]string{"operation"},
	)

	MQTTPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfwatch_mqtt_published_total",
			Help: "MQTT publishes by outcome",
		},
		[]string{"outcome"},
	)
)

func ObserveStatus(st model.EnvironmentStatus) {
	VisibleNetworks.WithLabelValues(string(model.Band24GHz)).Set(float64(st.Band24))
	VisibleNetworks.WithLabelValues(string(model.Band5GHz)).Set(float64(st.Band5))
	VisibleNetworks.WithLabelValues(string(model.Band6GHz)).Set(float64(st.Band6))
	VisibleNetworks.WithLabelValues("total").Set(float64(st.Total))
	AverageSignal.Set(float64(st.AvgSignalDbm))
	ActiveDrones.Set(float64(st.ActiveDrones))
	TrackedEmitters.Set(float64(st.TrackedEmitters))
	if st.JammerSuspected {
		JammerSuspected.Set(1)
	} else {
		JammerSuspected.Set(0)
	}
}
