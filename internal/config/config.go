package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Trust      TrustConfig      `json:"trust" yaml:"trust"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	MQTT       MQTTConfig       `json:"mqtt" yaml:"mqtt"`
	Supervisor SupervisorConfig `json:"supervisor" yaml:"supervisor"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
}

type DetectionConfig struct {
	BaselineCapacity     int             `json:"baseline_capacity" yaml:"baseline_capacity"`
	MinBaselineSamples   int             `json:"min_baseline_samples" yaml:"min_baseline_samples"`
	Jammer               JammerConfig    `json:"jammer" yaml:"jammer"`
	EvilTwin             EvilTwinConfig  `json:"evil_twin" yaml:"evil_twin"`
	Following            FollowingConfig `json:"following" yaml:"following"`
	Drone                DroneConfig     `json:"drone" yaml:"drone"`
	Deauth               DeauthConfig    `json:"deauth" yaml:"deauth"`
	HiddenNetworkAnomaly bool            `json:"hidden_network_anomaly" yaml:"hidden_network_anomaly"`
	StrongHiddenDbm      int             `json:"strong_hidden_dbm" yaml:"strong_hidden_dbm"`
	AnomalyCooldown      time.Duration   `json:"anomaly_cooldown" yaml:"anomaly_cooldown"`
	HistoryStaleAfter    time.Duration   `json:"history_stale_after" yaml:"history_stale_after"`
	HiddenStateExpiry    time.Duration   `json:"hidden_state_expiry" yaml:"hidden_state_expiry"`
	HousekeepingInterval time.Duration   `json:"housekeeping_interval" yaml:"housekeeping_interval"`
	DedupeWindow         time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew         time.Duration   `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew        time.Duration   `json:"max_future_skew" yaml:"max_future_skew"`
}

type JammerConfig struct {
	FloorNetworks      int     `json:"floor_networks" yaml:"floor_networks"`
	DropRatio          float64 `json:"drop_ratio" yaml:"drop_ratio"`
	SignalDropDbm      int     `json:"signal_drop_dbm" yaml:"signal_drop_dbm"`
	MinConsecutive     int     `json:"min_consecutive" yaml:"min_consecutive"`
	HighConfidenceRuns int     `json:"high_confidence_runs" yaml:"high_confidence_runs"`
}

type EvilTwinConfig struct {
	SuffixBound        int `json:"suffix_bound" yaml:"suffix_bound"`
	SpreadThresholdDbm int `json:"spread_threshold_dbm" yaml:"spread_threshold_dbm"`
	LargeSpreadDbm     int `json:"large_spread_threshold_dbm" yaml:"large_spread_threshold_dbm"`
	EstablishedSeen    int `json:"established_seen" yaml:"established_seen"`
}

type FollowingConfig struct {
	MinTrackingDistanceM float64       `json:"min_tracking_distance_m" yaml:"min_tracking_distance_m"`
	TrackingWindow       time.Duration `json:"tracking_window" yaml:"tracking_window"`
	MaxSightings         int           `json:"max_sightings" yaml:"max_sightings"`
	MergeRadiusM         float64       `json:"merge_radius_m" yaml:"merge_radius_m"`
	MinSightings         int           `json:"min_sightings" yaml:"min_sightings"`
}

type DroneConfig struct {
	MinSightings     int           `json:"min_sightings" yaml:"min_sightings"`
	PendingExpiry    time.Duration `json:"pending_expiry" yaml:"pending_expiry"`
	ActiveExpiry     time.Duration `json:"active_expiry" yaml:"active_expiry"`
	CameraClusterMin int           `json:"camera_cluster_min" yaml:"camera_cluster_min"`
}

type DeauthConfig struct {
	Threshold int           `json:"threshold" yaml:"threshold"`
	Window    time.Duration `json:"window" yaml:"window"`
}

// TrustConfig lists operator-vetted emitters and a watchlist of ids that
// must always be reported.
type TrustConfig struct {
	TrustedIDs   []string `json:"trusted_ids" yaml:"trusted_ids"`
	TrustedNames []string `json:"trusted_names" yaml:"trusted_names"`
	Watchlist    []string `json:"watchlist" yaml:"watchlist"`
}

type APIConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Addr            string `json:"addr" yaml:"addr"`
	WebsocketBuffer int    `json:"websocket_buffer" yaml:"websocket_buffer"`
}

type StorageConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Driver         string        `json:"driver" yaml:"driver"`
	DSN            string        `json:"dsn" yaml:"dsn"`
	StatusInterval time.Duration `json:"status_interval" yaml:"status_interval"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit    int `json:"store_limit" yaml:"store_limit"`
	TimelineLimit int `json:"timeline_limit" yaml:"timeline_limit"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
	Retain      bool   `json:"retain" yaml:"retain"`
}

type SupervisorConfig struct {
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold"`
	FailureDecay     float64       `json:"failure_decay" yaml:"failure_decay"`
	FailureBackoff   time.Duration `json:"failure_backoff" yaml:"failure_backoff"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Detection: DetectionConfig{
			BaselineCapacity:   120,
			MinBaselineSamples: 5,
			Jammer: JammerConfig{
				FloorNetworks:      5,
				DropRatio:          1.0 / 3.0,
				SignalDropDbm:      20,
				MinConsecutive:     3,
				HighConfidenceRuns: 5,
			},
			EvilTwin: EvilTwinConfig{
				SuffixBound:        0x10,
				SpreadThresholdDbm: 20,
				LargeSpreadDbm:     30,
				EstablishedSeen:    10,
			},
			Following: FollowingConfig{
				MinTrackingDistanceM: 1609.34,
				TrackingWindow:       5 * time.Minute,
				MaxSightings:         50,
				MergeRadiusM:         50,
				MinSightings:         3,
			},
			Drone: DroneConfig{
				MinSightings:     2,
				PendingExpiry:    2 * time.Minute,
				ActiveExpiry:     5 * time.Minute,
				CameraClusterMin: 3,
			},
			Deauth:               DeauthConfig{Threshold: 3, Window: 60 * time.Second},
			HiddenNetworkAnomaly: false,
			StrongHiddenDbm:      -55,
			AnomalyCooldown:      3 * time.Minute,
			HistoryStaleAfter:    10 * time.Minute,
			HiddenStateExpiry:    30 * time.Minute,
			HousekeepingInterval: 30 * time.Second,
			DedupeWindow:         2 * time.Second,
			MaxClockSkew:         0,
			MaxFutureSkew:        5 * time.Minute,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081", WebsocketBuffer: 64},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:rfwatch.db?_pragma=busy_timeout(5000)", StatusInterval: time.Minute},
		Metrics: MetricsConfig{StoreLimit: 500},
		Alerts:  AlertsConfig{StoreLimit: 1000, TimelineLimit: 200},
		MQTT:    MQTTConfig{Enabled: false, TopicPrefix: "rfwatch", QoS: 1},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	d := &cfg.Detection
	if d.BaselineCapacity <= 0 {
		d.BaselineCapacity = def.Detection.BaselineCapacity
	}
	if d.MinBaselineSamples <= 0 {
		d.MinBaselineSamples = def.Detection.MinBaselineSamples
	}
	if d.Jammer.MinConsecutive <= 0 {
		d.Jammer.MinConsecutive = def.Detection.Jammer.MinConsecutive
	}
	if d.Jammer.HighConfidenceRuns <= 0 {
		d.Jammer.HighConfidenceRuns = def.Detection.Jammer.HighConfidenceRuns
	}
	if d.Jammer.DropRatio <= 0 {
		d.Jammer.DropRatio = def.Detection.Jammer.DropRatio
	}
	if d.EvilTwin.SuffixBound <= 0 {
		d.EvilTwin.SuffixBound = def.Detection.EvilTwin.SuffixBound
	}
	if d.EvilTwin.EstablishedSeen <= 0 {
		d.EvilTwin.EstablishedSeen = def.Detection.EvilTwin.EstablishedSeen
	}
	if d.Following.TrackingWindow <= 0 {
		d.Following.TrackingWindow = def.Detection.Following.TrackingWindow
	}
	if d.Following.MaxSightings <= 0 {
		d.Following.MaxSightings = def.Detection.Following.MaxSightings
	}
	if d.Following.MergeRadiusM <= 0 {
		d.Following.MergeRadiusM = def.Detection.Following.MergeRadiusM
	}
	if d.Following.MinSightings <= 0 {
		d.Following.MinSightings = def.Detection.Following.MinSightings
	}
	if d.Drone.MinSightings <= 0 {
		d.Drone.MinSightings = def.Detection.Drone.MinSightings
	}
	if d.Drone.PendingExpiry <= 0 {
		d.Drone.PendingExpiry = def.Detection.Drone.PendingExpiry
	}
	if d.Drone.ActiveExpiry <= 0 {
		d.Drone.ActiveExpiry = def.Detection.Drone.ActiveExpiry
	}
	if d.Drone.CameraClusterMin <= 0 {
		d.Drone.CameraClusterMin = def.Detection.Drone.CameraClusterMin
	}
	if d.Deauth.Threshold <= 0 {
		d.Deauth.Threshold = def.Detection.Deauth.Threshold
	}
	if d.Deauth.Window <= 0 {
		d.Deauth.Window = def.Detection.Deauth.Window
	}
	if d.HistoryStaleAfter <= 0 {
		d.HistoryStaleAfter = def.Detection.HistoryStaleAfter
	}
	if d.HiddenStateExpiry <= 0 {
		d.HiddenStateExpiry = def.Detection.HiddenStateExpiry
	}
	if d.HousekeepingInterval <= 0 {
		d.HousekeepingInterval = def.Detection.HousekeepingInterval
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Alerts.TimelineLimit <= 0 {
		cfg.Alerts.TimelineLimit = def.Alerts.TimelineLimit
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.API.WebsocketBuffer <= 0 {
		cfg.API.WebsocketBuffer = def.API.WebsocketBuffer
	}
	if cfg.Storage.StatusInterval <= 0 {
		cfg.Storage.StatusInterval = def.Storage.StatusInterval
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if cfg.Supervisor.FailureThreshold <= 0 {
		cfg.Supervisor.FailureThreshold = def.Supervisor.FailureThreshold
	}
	if cfg.Supervisor.FailureDecay <= 0 {
		cfg.Supervisor.FailureDecay = def.Supervisor.FailureDecay
	}
	if cfg.Supervisor.FailureBackoff <= 0 {
		cfg.Supervisor.FailureBackoff = def.Supervisor.FailureBackoff
	}
	if cfg.Supervisor.ShutdownTimeout <= 0 {
		cfg.Supervisor.ShutdownTimeout = def.Supervisor.ShutdownTimeout
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
		}
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return errors.New("mqtt.broker required when mqtt.enabled is true")
	}
	if cfg.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}
	d := cfg.Detection
	if d.MinBaselineSamples > d.BaselineCapacity {
		return errors.New("detection.min_baseline_samples must not exceed detection.baseline_capacity")
	}
	if d.Jammer.DropRatio <= 0 || d.Jammer.DropRatio >= 1 {
		return errors.New("detection.jammer.drop_ratio must be between 0 and 1")
	}
	if d.Following.MinTrackingDistanceM < 0 {
		return errors.New("detection.following.min_tracking_distance_m must be >= 0")
	}
	if d.AnomalyCooldown < 0 {
		return errors.New("detection.anomaly_cooldown must be >= 0")
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.stampModTime()
	return m, nil
}

// NewStaticManager serves a fixed config; Reload and Watch are no-ops.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.stampModTime()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.stampModTime()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

// stampModTime records the file's current mtime as already loaded.
func (m *Manager) stampModTime() {
	if m.path == "" {
		return
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.modTime = info.ModTime()
	m.mu.Unlock()
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
