package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
)

const kafkaSource = "kafka"

// KafkaSource consumes scan and location messages from a topic.
type KafkaSource struct {
	cfg    *config.Manager
	out    chan<- model.Input
	logger *slog.Logger
}

func NewKafkaSource(cfg *config.Manager, out chan<- model.Input, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{cfg: cfg, out: out, logger: logger}
}

func (s *KafkaSource) String() string { return "kafka-ingest" }

func (s *KafkaSource) Serve(ctx context.Context) error {
	current := s.cfg.Get().Ingest.Kafka
	if len(current.Brokers) == 0 || current.Topic == "" {
		return errors.New("kafka ingest needs brokers and a topic")
	}
	if s.logger != nil {
		s.logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.logger != nil {
				s.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, 0) {
				return ctx.Err()
			}
			continue
		}
		_, _ = Dispatch(ctx, kafkaSource, m.Value, s.cfg.Get(), s.out, s.logger)
	}
}
