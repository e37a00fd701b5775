package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool { return true }

func (t doneToken) WaitTimeout(time.Duration) bool { return true }

func (t doneToken) Error() error { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	sent       []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	return doneToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type chanSource struct {
	ch chan model.SurveillanceAnomaly
}

func (s chanSource) SubscribeAnomalies(int) (<-chan model.SurveillanceAnomaly, func()) {
	return s.ch, func() {}
}

func TestTopic(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"rfwatch", "rfwatch/anomalies/drone"},
		{"site/a/", "site/a/anomalies/drone"},
		{"", "rfwatch/anomalies/drone"},
	}
	for _, tc := range cases {
		if got := Topic(tc.prefix, model.KindDrone); got != tc.want {
			t.Fatalf("Topic(%q) = %q, want %q", tc.prefix, got, tc.want)
		}
	}
}

func TestPublishEncodesAnomaly(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(config.MQTTConfig{TopicPrefix: "rfwatch", QoS: 1, Retain: true}, nil, client, nil)
	lat := 40.0
	a := model.SurveillanceAnomaly{
		ID: "id-1", Kind: model.KindJammer, Severity: model.SeverityHigh, Confidence: model.ConfidenceHigh,
		Description: "count collapse", Lat: &lat, TechnicalDetails: map[string]string{"method": "count_drop"},
	}
	if err := p.Publish(a); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.count() != 1 {
		t.Fatalf("expected one publish, got %d", client.count())
	}
	msg := client.sent[0]
	if msg.topic != "rfwatch/anomalies/jammer" || msg.qos != 1 || !msg.retain {
		t.Fatalf("unexpected publish: %+v", msg)
	}
	var decoded Message
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != "id-1" || decoded.Details["method"] != "count_drop" || decoded.Lat == nil || *decoded.Lat != lat {
		t.Fatalf("payload mismatch: %+v", decoded)
	}
}

func TestPublishReportsBrokerError(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: errors.New("not authorized")}
	p := newPublisher(config.MQTTConfig{TopicPrefix: "rfwatch"}, nil, client, nil)
	if err := p.Publish(model.SurveillanceAnomaly{ID: "x", Kind: model.KindDrone}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestServeConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	p := newPublisher(config.MQTTConfig{Broker: "tcp://broker:1883"}, chanSource{ch: make(chan model.SurveillanceAnomaly)}, client, nil)
	if err := p.Serve(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestServeForwardsAnomalies(t *testing.T) {
	client := &fakeClient{}
	src := chanSource{ch: make(chan model.SurveillanceAnomaly, 2)}
	p := newPublisher(config.MQTTConfig{TopicPrefix: "rfwatch"}, src, client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	src.ch <- model.SurveillanceAnomaly{ID: "a", Kind: model.KindDrone}
	src.ch <- model.SurveillanceAnomaly{ID: "b", Kind: model.KindEvilTwin}

	deadline := time.Now().Add(2 * time.Second)
	for client.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected two publishes, got %d", client.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if client.IsConnected() {
		t.Fatalf("expected disconnect on shutdown")
	}
}

func TestNewPublisherRequiresBroker(t *testing.T) {
	if _, err := NewPublisher(config.MQTTConfig{}, nil, nil); err == nil {
		t.Fatalf("expected error without broker")
	}
}
