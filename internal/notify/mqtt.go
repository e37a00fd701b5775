// Package notify forwards accepted anomalies to an MQTT broker.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"rfwatch/internal/config"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type AnomalySource interface {
	SubscribeAnomalies(buffer int) (<-chan model.SurveillanceAnomaly, func())
}

type Publisher struct {
	cfg     config.MQTTConfig
	source  AnomalySource
	client  Client
	logger  *slog.Logger
	timeout time.Duration
}

// Message is the payload published per anomaly.
type Message struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Kind              model.AnomalyKind `json:"kind"`
	Severity          model.Severity    `json:"severity"`
	Confidence        model.Confidence  `json:"confidence"`
	Description       string            `json:"description"`
	RelatedEmitterIDs []string          `json:"related_emitter_ids,omitempty"`
	Lat               *float64          `json:"lat,omitempty"`
	Lon               *float64          `json:"lon,omitempty"`
	Details           map[string]string `json:"details,omitempty"`
}

func NewPublisher(cfg config.MQTTConfig, source AnomalySource, logger *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rfwatch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if logger != nil {
			logger.Info("mqtt connected", "broker", cfg.Broker)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
		}
	})

	return newPublisher(cfg, source, mqtt.NewClient(opts), logger), nil
}

func newPublisher(cfg config.MQTTConfig, source AnomalySource, client Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:     cfg,
		source:  source,
		client:  client,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

func (p *Publisher) String() string { return "mqtt-publisher" }

// Serve connects, then publishes anomalies until ctx is done. A failed
// connect is returned so the supervisor retries with backoff.
func (p *Publisher) Serve(ctx context.Context) error {
	if !p.client.IsConnected() {
		token := p.client.Connect()
		if !token.WaitTimeout(p.timeout) {
			return fmt.Errorf("connect to mqtt broker %s: timeout", p.cfg.Broker)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect to mqtt broker %s: %w", p.cfg.Broker, err)
		}
	}
	defer p.client.Disconnect(250)

	anomalies, cancel := p.source.SubscribeAnomalies(128)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-anomalies:
			if !ok {
				return nil
			}
			if err := p.Publish(a); err != nil && p.logger != nil {
				p.logger.Error("mqtt publish failed", "kind", a.Kind, "err", err)
			}
		}
	}
}

func (p *Publisher) Publish(a model.SurveillanceAnomaly) error {
	topic := Topic(p.cfg.TopicPrefix, a.Kind)
	payload, err := Payload(a)
	if err != nil {
		metrics.MQTTPublished.WithLabelValues("error").Inc()
		return err
	}
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(p.timeout) {
		metrics.MQTTPublished.WithLabelValues("timeout").Inc()
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		metrics.MQTTPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.MQTTPublished.WithLabelValues("ok").Inc()
	return nil
}

// Topic is {prefix}/anomalies/{kind}.
func Topic(prefix string, kind model.AnomalyKind) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "rfwatch"
	}
	return prefix + "/anomalies/" + string(kind)
}

func Payload(a model.SurveillanceAnomaly) ([]byte, error) {
	data, err := json.Marshal(Message{
		ID:                a.ID,
		Timestamp:         a.Timestamp,
		Kind:              a.Kind,
		Severity:          a.Severity,
		Confidence:        a.Confidence,
		Description:       a.Description,
		RelatedEmitterIDs: a.RelatedEmitterIDs,
		Lat:               a.Lat,
		Lon:               a.Lon,
		Details:           a.TechnicalDetails,
	})
	if err != nil {
		return nil, fmt.Errorf("encode anomaly %s: %w", a.ID, err)
	}
	return data, nil
}
