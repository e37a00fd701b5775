package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rfwatch/internal/config"
	"rfwatch/internal/geo"
	"rfwatch/internal/model"
	"rfwatch/internal/signatures"
)

// EmitterFields is an emitter as decoded from the wire, before any cleanup.
type EmitterFields struct {
	ID           string
	Name         *string
	SignalDbm    int
	FrequencyHz  int64
	FrequencyMHz float64
	Open         *bool
	Capabilities string
	VendorPrefix string
}

var ErrMissingID = errors.New("emitter id is empty")

func Emitter(fields EmitterFields) (model.EmitterObservation, error) {
	id := CanonicalID(fields.ID)
	if id == "" {
		return model.EmitterObservation{}, ErrMissingID
	}
	freq := fields.FrequencyHz
	if freq <= 0 && fields.FrequencyMHz > 0 {
		freq = int64(fields.FrequencyMHz * 1e6)
	}
	if freq < 0 {
		freq = 0
	}
	caps := strings.TrimSpace(fields.Capabilities)
	open := false
	if fields.Open != nil {
		open = *fields.Open
	} else if caps != "" {
		open = OpenFromCapabilities(caps)
	}
	prefix := signatures.NormalizePrefix(fields.VendorPrefix)
	if prefix == "" && IsMAC(id) {
		prefix = id[:8]
	}
	return model.EmitterObservation{
		ID:           id,
		DisplayName:  cleanName(fields.Name),
		SignalDbm:    fields.SignalDbm,
		FrequencyHz:  freq,
		IsOpenAccess: open,
		VendorPrefix: prefix,
		Capabilities: caps,
	}, nil
}

// Observations canonicalizes an already typed emitter list. Entries without an
// id are dropped; a repeated id keeps its strongest reading.
func Observations(in []model.EmitterObservation) []model.EmitterObservation {
	out := make([]model.EmitterObservation, 0, len(in))
	index := make(map[string]int, len(in))
	for _, o := range in {
		norm, err := Emitter(EmitterFields{
			ID:           o.ID,
			Name:         o.DisplayName,
			SignalDbm:    o.SignalDbm,
			FrequencyHz:  o.FrequencyHz,
			Open:         &o.IsOpenAccess,
			Capabilities: o.Capabilities,
			VendorPrefix: o.VendorPrefix,
		})
		if err != nil {
			continue
		}
		if i, ok := index[norm.ID]; ok {
			if preferReading(norm.SignalDbm, out[i].SignalDbm) {
				out[i] = norm
			}
			continue
		}
		index[norm.ID] = len(out)
		out = append(out, norm)
	}
	return out
}

func preferReading(candidate, current int) bool {
	if !PlausibleSignal(current) {
		return PlausibleSignal(candidate)
	}
	return PlausibleSignal(candidate) && candidate > current
}

// PlausibleSignal reports whether a dBm reading can take part in averages.
func PlausibleSignal(dbm int) bool {
	return dbm > -120 && dbm < 0
}

// OpenFromCapabilities treats a capability string without any security
// suite as an open network.
func OpenFromCapabilities(caps string) bool {
	upper := strings.ToUpper(caps)
	for _, marker := range []string{"WEP", "WPA", "RSN", "SAE", "EAP", "OWE", "PSK"} {
		if strings.Contains(upper, marker) {
			return false
		}
	}
	return true
}

func IsWEP(caps string) bool {
	return strings.Contains(strings.ToUpper(caps), "WEP")
}

// CanonicalID upper-cases MAC style ids into colon form and trims anything else.
func CanonicalID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	hex := make([]byte, 0, 12)
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			hex = append(hex, c)
		case c >= 'a' && c <= 'f':
			hex = append(hex, c-'a'+'A')
		case c == ':' || c == '-' || c == '.':
		default:
			return id
		}
	}
	if len(hex) != 12 {
		return id
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.Write(hex[i : i+2])
	}
	return b.String()
}

func IsMAC(id string) bool {
	if len(id) != 17 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if i%3 == 2 {
			if id[i] != ':' {
				return false
			}
			continue
		}
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func cleanName(name *string) *string {
	if name == nil {
		return nil
	}
	v := strings.TrimRight(*name, "\x00")
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func Location(lat, lon float64, ts time.Time) (model.LocationFix, error) {
	if !geo.Valid(lat, lon) {
		return model.LocationFix{}, fmt.Errorf("invalid coordinates %f,%f", lat, lon)
	}
	return model.LocationFix{Lat: lat, Lon: lon, Timestamp: ts.UTC()}, nil
}

// Timestamp parses a wire timestamp in the configured zone. An empty value
// means "now".
func Timestamp(value string, cfg *config.Config) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now().UTC(), nil
	}
	loc := time.UTC
	if cfg != nil && cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts, err := ParseTimestamp(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts.UTC(), nil
}

// zonedLayouts carry their own offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// localLayouts are read in the configured zone.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

// parseUnix reads 13+ digit values as milliseconds.
func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
