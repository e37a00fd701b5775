// Package ingest hosts the producer side: every transport decodes wire
// messages and queues them for the engine without ever blocking on it.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/metrics"
	"rfwatch/internal/model"
)

const (
	outcomeAccepted = "accepted"
	outcomeInvalid  = "invalid"
	outcomeDropped  = "dropped"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Input, in model.Input, logger *slog.Logger) bool {
	select {
	case out <- in:
		metrics.IngestMessages.WithLabelValues(in.Source, outcomeAccepted).Inc()
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.IngestMessages.WithLabelValues(in.Source, outcomeDropped).Inc()
		if logger != nil {
			logger.Warn("input channel full, dropping message", "kind", in.Kind, "source", in.Source)
		}
		return false
	}
}

// Result counts what happened to one payload.
type Result struct {
	Accepted int `json:"accepted"`
	Invalid  int `json:"invalid"`
	Dropped  int `json:"dropped"`
}

// Dispatch decodes payload and queues every valid message under source. err
// is set only when the payload as a whole could not be decoded.
func Dispatch(ctx context.Context, source string, payload []byte, cfg *config.Config, out chan<- model.Input, logger *slog.Logger) (Result, error) {
	var res Result
	inputs, bad, err := DecodeMessages(payload, cfg)
	res.Invalid = bad
	if bad > 0 {
		metrics.IngestMessages.WithLabelValues(source, outcomeInvalid).Add(float64(bad))
	}
	if err != nil {
		if bad == 0 {
			res.Invalid = 1
			metrics.IngestMessages.WithLabelValues(source, outcomeInvalid).Inc()
		}
		if logger != nil {
			logger.Warn("ingest decode error", "source", source, "err", err)
		}
		return res, err
	}
	for _, in := range inputs {
		if in.Source == "" {
			in.Source = source
		}
		if SendNonBlocking(ctx, out, in, logger) {
			res.Accepted++
		} else {
			res.Dropped++
		}
	}
	return res, nil
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
