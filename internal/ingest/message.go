package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"rfwatch/internal/config"
	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrUnknownType  = errors.New("unknown message type")
	ErrNoPosition   = errors.New("location message without lat/lon")
)

// wireTime accepts either a quoted timestamp or a bare unix number.
type wireTime string

func (t *wireTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = wireTime(s)
		return nil
	}
	// fractional seconds are dropped
	if i := bytes.IndexByte(data, '.'); i >= 0 {
		data = data[:i]
	}
	*t = wireTime(data)
	return nil
}

type wireEmitter struct {
	ID           string   `json:"id"`
	BSSID        string   `json:"bssid"`
	MAC          string   `json:"mac"`
	Name         *string  `json:"name"`
	SSID         *string  `json:"ssid"`
	SignalDbm    *int     `json:"signal_dbm"`
	RSSI         *int     `json:"rssi"`
	Level        *int     `json:"level"`
	FrequencyHz  int64    `json:"frequency_hz"`
	FrequencyMHz *float64 `json:"frequency"`
	Open         *bool    `json:"open"`
	Capabilities string   `json:"capabilities"`
	VendorPrefix string   `json:"vendor_prefix"`
}

type wireMessage struct {
	Type         string        `json:"type"`
	Source       string        `json:"source"`
	Timestamp    wireTime      `json:"timestamp"`
	Emitters     []wireEmitter `json:"emitters"`
	Networks     []wireEmitter `json:"networks"`
	Lat          *float64      `json:"lat"`
	Lon          *float64      `json:"lon"`
	Latitude     *float64      `json:"latitude"`
	Longitude    *float64      `json:"longitude"`
	Disconnected *bool         `json:"disconnected"`
}

// DecodeMessages reads a single message object or an array of them. Bad
// entries in an array are counted and skipped; err is only returned when the
// payload itself is not JSON.
func DecodeMessages(data []byte, cfg *config.Config) ([]model.Input, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, ErrEmptyPayload
	}
	if data[0] != '[' {
		in, err := DecodeMessage(data, cfg)
		if err != nil {
			return nil, 1, err
		}
		return []model.Input{in}, 0, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode message array: %w", err)
	}
	out := make([]model.Input, 0, len(raw))
	failed := 0
	for _, item := range raw {
		in, err := DecodeMessage(item, cfg)
		if err != nil {
			failed++
			continue
		}
		out = append(out, in)
	}
	return out, failed, nil
}

// DecodeMessage turns one wire object into a queued input. A missing "type"
// is inferred from the fields present.
func DecodeMessage(data []byte, cfg *config.Config) (model.Input, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.Input{}, fmt.Errorf("decode message: %w", err)
	}
	ts, err := normalize.Timestamp(string(msg.Timestamp), cfg)
	if err != nil {
		return model.Input{}, err
	}
	kind := model.InputKind(strings.ToLower(strings.TrimSpace(msg.Type)))
	if kind == "" {
		kind = inferKind(msg)
	}
	in := model.Input{Kind: kind, Source: msg.Source}
	switch kind {
	case model.InputScan:
		in.Scan = &model.ScanReport{Timestamp: ts, Emitters: decodeEmitters(append(msg.Emitters, msg.Networks...))}
	case model.InputLocation:
		lat, lon := pick(msg.Lat, msg.Latitude), pick(msg.Lon, msg.Longitude)
		if lat == nil || lon == nil {
			return model.Input{}, ErrNoPosition
		}
		fix, err := normalize.Location(*lat, *lon, ts)
		if err != nil {
			return model.Input{}, err
		}
		in.Location = &fix
	case model.InputLink:
		in.Link = &model.LinkStateChange{Disconnected: msg.Disconnected != nil && *msg.Disconnected, Timestamp: ts}
	default:
		return model.Input{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return in, nil
}

func inferKind(msg wireMessage) model.InputKind {
	switch {
	case msg.Emitters != nil || msg.Networks != nil:
		return model.InputScan
	case pick(msg.Lat, msg.Latitude) != nil:
		return model.InputLocation
	case msg.Disconnected != nil:
		return model.InputLink
	}
	return ""
}

func decodeEmitters(list []wireEmitter) []model.EmitterObservation {
	out := make([]model.EmitterObservation, 0, len(list))
	for _, w := range list {
		fields := normalize.EmitterFields{
			ID:           firstNonEmpty(w.ID, w.BSSID, w.MAC),
			Name:         w.Name,
			FrequencyHz:  w.FrequencyHz,
			Open:         w.Open,
			Capabilities: w.Capabilities,
			VendorPrefix: w.VendorPrefix,
		}
		if fields.Name == nil {
			fields.Name = w.SSID
		}
		if v := pickInt(w.SignalDbm, w.RSSI, w.Level); v != nil {
			fields.SignalDbm = *v
		}
		if w.FrequencyMHz != nil {
			fields.FrequencyMHz = *w.FrequencyMHz
		}
		o, err := normalize.Emitter(fields)
		if err != nil {
			continue
		}
		out = append(out, o)
	}
	return out
}

func pick(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func pickInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
