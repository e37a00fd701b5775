// Package api serves the read side of the engine (status, anomalies,
// timeline, drones, detection records), its admin controls, Prometheus
// metrics and a live websocket event stream.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rfwatch/internal/alerts"
	"rfwatch/internal/config"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

type Engine interface {
	Status() model.EnvironmentStatus
	Drones() []model.DroneInfo
	Anomalies() *alerts.Store
	Timeline() *alerts.Timeline
	Metrics() *metrics.Store
	ToDetectionRecord(a model.SurveillanceAnomaly) model.DetectionRecord
	SubscribeEvents(buffer int) (<-chan model.TimelineEvent, func())

	ClearAnomalies()
	ClearHistory()
	Reset()
	UpdateConfig(cfg *config.Config)
	SetMinTrackingDistance(meters float64)
	SetHiddenNetworkAnomalyEnabled(enabled bool)
	Settings() model.RuntimeSettings
}

// RecordReader reads persisted detection records back.
type RecordReader interface {
	RecentDetections(ctx context.Context, limit int) ([]model.DetectionRecord, error)
}

type Server struct {
	cfg     *config.Manager
	engine  Engine
	records RecordReader
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status          string                  `json:"status"`
	Time            string                  `json:"time"`
	Version         string                  `json:"version"`
	ConfigPath      string                  `json:"config_path"`
	Environment     model.EnvironmentStatus `json:"environment"`
	Detectors       []metrics.DetectorStats `json:"detectors"`
	SubscriberDrops int64                   `json:"subscriber_drops"`
	Settings        model.RuntimeSettings   `json:"settings"`
	Ingest          ingestStatus            `json:"ingest"`
	Storage         bool                    `json:"storage"`
	MQTT            bool                    `json:"mqtt"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	TCPStream bool `json:"tcp_stream"`
	FileTail  bool `json:"file_tail"`
	Kafka     bool `json:"kafka"`
}

func NewServer(cfg *config.Manager, engine Engine, records RecordReader, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, engine: engine, records: records, logger: logger, version: version}
}

func (s *Server) String() string { return "api" }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/anomalies", s.handleAnomalies)
	mux.HandleFunc("/timeline", s.handleTimeline)
	mux.HandleFunc("/drones", s.handleDrones)
	mux.HandleFunc("/detections", s.handleDetections)
	mux.HandleFunc("/config/trust", s.handleTrust)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/settings", s.handleSettings)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve listens on api.addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.Get().API.Addr
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", addr)
	}
	httpServer := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
			return err
		}
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	stats := s.engine.Metrics()
	resp := statusResponse{
		Status:          "ok",
		Time:            time.Now().UTC().Format(time.RFC3339Nano),
		Version:         s.version,
		ConfigPath:      s.cfg.Path(),
		Environment:     s.engine.Status(),
		Detectors:       stats.Detectors(),
		SubscriberDrops: stats.Dropped(),
		Settings:        s.engine.Settings(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		Storage: cfg.Storage.Enabled,
		MQTT:    cfg.MQTT.Enabled,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := queryLimit(q.Get("limit"))
	store := s.engine.Anomalies()
	var list []model.SurveillanceAnomaly
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = store.Since(ts)
	case q.Get("kind") != "":
		list = store.ByKind(model.AnomalyKind(q.Get("kind")))
	default:
		list = store.List(limit)
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": list,
		"count":     len(list),
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	var events []model.TimelineEvent
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		events = s.engine.Timeline().Since(ts)
	} else {
		events = s.engine.Timeline().List(queryLimit(q.Get("limit")))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleDrones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	drones := s.engine.Drones()
	writeJSON(w, http.StatusOK, map[string]any{
		"drones": drones,
		"count":  len(drones),
	})
}

// handleDetections serves persisted records when storage is configured and
// projects the in-memory anomalies otherwise.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryLimit(r.URL.Query().Get("limit"))
	var records []model.DetectionRecord
	if s.records != nil {
		list, err := s.records.RecentDetections(r.Context(), limit)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("read detections failed", "err", err)
			}
			writeError(w, http.StatusInternalServerError, "storage unavailable")
			return
		}
		records = list
	} else {
		anomalies := s.engine.Anomalies().List(limit)
		records = make([]model.DetectionRecord, 0, len(anomalies))
		for _, a := range anomalies {
			records = append(records, s.engine.ToDetectionRecord(a))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": records,
		"count":      len(records),
	})
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"trust": s.cfg.Get().Trust})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var trust config.TrustConfig
		if err := json.Unmarshal(body, &trust); err != nil {
			writeError(w, http.StatusBadRequest, "invalid trust payload")
			return
		}
		trust.TrustedIDs = sanitizeList(trust.TrustedIDs)
		trust.TrustedNames = sanitizeList(trust.TrustedNames)
		trust.Watchlist = sanitizeList(trust.Watchlist)
		next := *s.cfg.Get()
		next.Trust = trust
		if err := s.cfg.Update(&next); err != nil {
			if s.logger != nil {
				s.logger.Error("save trust config failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.engine.UpdateConfig(&next)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.engine.ClearAnomalies()
		s.engine.ClearHistory()
	case "anomalies":
		s.engine.ClearAnomalies()
	case "history":
		s.engine.ClearHistory()
	case "metrics":
		s.engine.Metrics().Clear()
	default:
		writeError(w, http.StatusBadRequest, "unknown target "+strconv.Quote(target))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "target": target})
}

// handleSettings applies runtime overrides. They hold until the next config
// reload.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Settings())
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			MinTrackingDistanceM *float64 `json:"min_tracking_distance_m"`
			HiddenNetworkAnomaly *bool    `json:"hidden_network_anomaly"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings payload")
			return
		}
		if req.MinTrackingDistanceM != nil && *req.MinTrackingDistanceM < 0 {
			writeError(w, http.StatusBadRequest, "min_tracking_distance_m must not be negative")
			return
		}
		if req.MinTrackingDistanceM != nil {
			s.engine.SetMinTrackingDistance(*req.MinTrackingDistanceM)
		}
		if req.HiddenNetworkAnomaly != nil {
			s.engine.SetHiddenNetworkAnomalyEnabled(*req.HiddenNetworkAnomaly)
		}
		if s.logger != nil {
			s.logger.Info("runtime settings updated", "min_tracking_distance_m", req.MinTrackingDistanceM, "hidden_network_anomaly", req.HiddenNetworkAnomaly)
		}
		writeJSON(w, http.StatusOK, s.engine.Settings())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func queryLimit(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func sanitizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
