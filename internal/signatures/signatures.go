// Package signatures holds the reference sets the detectors match against:
// vendor prefixes, SSID patterns and known-legitimate public network names.
package signatures

import (
	"regexp"
	"strings"
)

// Category is what a single emitter looks like on its own.
type Category string

const (
	CategoryNone    Category = ""
	CategoryDrone   Category = "drone"
	CategoryCamera  Category = "camera"
	CategoryVehicle Category = "vehicle"
)

var droneVendors = map[string]string{
	"60:60:1F": "DJI",
	"34:D2:62": "DJI",
	"48:1C:B9": "DJI",
	"04:A8:5A": "DJI",
	"E4:7A:2C": "DJI",
	"58:B8:58": "DJI",
	"90:3A:E6": "Parrot",
	"A0:14:3D": "Parrot",
	"00:12:1C": "Parrot",
	"00:26:7E": "Parrot",
	"90:03:B7": "Parrot",
	"EC:5B:CD": "Autel Robotics",
	"38:1D:14": "Skydio",
}

var cameraVendors = map[string]string{
	"C0:56:E3": "Hikvision",
	"44:19:B6": "Hikvision",
	"BC:AD:28": "Hikvision",
	"4C:BD:8F": "Hikvision",
	"28:57:BE": "Hikvision",
	"00:40:8C": "Axis",
	"AC:CC:8E": "Axis",
	"B8:A4:4F": "Axis",
	"3C:EF:8C": "Dahua",
	"90:02:A9": "Dahua",
	"E0:50:8B": "Dahua",
	"00:18:AE": "TVT",
	"00:80:F0": "Panasonic",
	"00:1C:27": "Sunell",
}

type namePattern struct {
	re           *regexp.Regexp
	manufacturer string
}

// Drone name patterns require a model suffix so plain consumer names
// such as "DJI" or "Mavic" on their own do not match.
var droneNames = []namePattern{
	{regexp.MustCompile(`(?i)^DJI[-_ ]?(MAVIC|MINI|AIR|SPARK|PHANTOM|AVATA|FPV|INSPIRE|MATRICE)[0-9A-Z]*[-_ ][0-9A-Z]{2,}`), "DJI"},
	{regexp.MustCompile(`(?i)^(MAVIC|PHANTOM)[-_ ]?(PRO|AIR|MINI|[0-9])[-_ ]?[0-9A-F]{4,}$`), "DJI"},
	{regexp.MustCompile(`(?i)^TELLO-[0-9A-F]{6}$`), "Ryze"},
	{regexp.MustCompile(`(?i)^(ANAFI|BEBOP|DISCO)[-_ ]?[A-Z0-9]*[-_][0-9]{6}$`), "Parrot"},
	{regexp.MustCompile(`(?i)^SKYDIO[-_ ]?[0-9A-Z]{2,}[-_][0-9A-F]{4,}$`), "Skydio"},
	{regexp.MustCompile(`(?i)^AUTEL[-_ ]?(EVO|LITE|NANO)[-_ ]?[0-9A-Z]{2,}`), "Autel Robotics"},
}

var cameraNames = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(HIK|HIKVISION)[-_ ]?[A-Z0-9]{4,}`),
	regexp.MustCompile(`(?i)^DAHUA[-_ ]?[A-Z0-9]{4,}`),
	regexp.MustCompile(`(?i)^AXIS[-_ ][A-Z][0-9]{3,}`),
	regexp.MustCompile(`(?i)^(IPC|NVR|DVR)[-_][0-9A-F]{4,}$`),
}

var vehicleNames = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^FBI[-_ ]?(SURVEILLANCE|VAN|UNIT)`),
	regexp.MustCompile(`(?i)SURVEILLANCE[-_ ]?(VAN|UNIT|VEHICLE)`),
	regexp.MustCompile(`(?i)^(UNMARKED|UNIT)[-_ ]?[0-9]{2,}$`),
	regexp.MustCompile(`(?i)^(MDT|MDC)[-_][0-9]{3,}$`),
	regexp.MustCompile(`(?i)^FLOCK[-_ ]?[0-9A-F]{4,}`),
}

var trustedPublic = map[string]struct{}{
	"xfinitywifi":             {},
	"xfinity mobile":          {},
	"eduroam":                 {},
	"attwifi":                 {},
	"spectrumwifi":            {},
	"spectrumwifi plus":       {},
	"cablewifi":               {},
	"optimumwifi":             {},
	"coxwifi":                 {},
	"google starbucks":        {},
	"boingo hotspot":          {},
	"govwifi":                 {},
	"the cloud":               {},
	"btwifi":                  {},
	"btwi-fi":                 {},
	"telekom":                 {},
	"freewifi_secure":         {},
	"passpoint":               {},
	"_the cloud":              {},
	"oneplace":                {},
	"mcdonalds free wifi":     {},
	"starbucks wifi":          {},
	"walmartwifi":             {},
	"target guest wi-fi":      {},
	"linksys":                 {},
	"netgear":                 {},
	"home depot public wi-fi": {},
}

var honeypotWords = []string{
	"free", "public", "guest", "wifi", "open", "hotspot",
	"starbucks", "mcdonalds", "mcdonald", "airport", "hotel",
}

// NormalizePrefix returns the upper-case colon form of the first three
// octets of a vendor prefix or MAC address, or "" when it does not parse.
func NormalizePrefix(v string) string {
	hex := make([]byte, 0, 6)
	for i := 0; i < len(v) && len(hex) < 6; i++ {
		c := v[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			hex = append(hex, c)
		case c >= 'a' && c <= 'f':
			hex = append(hex, c-'a'+'A')
		case c == ':' || c == '-' || c == '.':
		default:
			return ""
		}
	}
	if len(hex) < 6 {
		return ""
	}
	return string(hex[0:2]) + ":" + string(hex[2:4]) + ":" + string(hex[4:6])
}

// DroneVendor reports the manufacturer registered to prefix.
func DroneVendor(prefix string) (string, bool) {
	m, ok := droneVendors[NormalizePrefix(prefix)]
	return m, ok
}

func CameraVendor(prefix string) (string, bool) {
	m, ok := cameraVendors[NormalizePrefix(prefix)]
	return m, ok
}

// DroneName matches name against the model-specific drone patterns.
func DroneName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, p := range droneNames {
		if p.re.MatchString(name) {
			return p.manufacturer, true
		}
	}
	return "", false
}

func CameraName(name string) bool {
	return matchAny(cameraNames, name)
}

func VehicleName(name string) bool {
	return matchAny(vehicleNames, name)
}

func matchAny(set []*regexp.Regexp, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, re := range set {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Classify returns the single strongest category for an emitter.
func Classify(prefix, name string) Category {
	if _, ok := DroneVendor(prefix); ok {
		return CategoryDrone
	}
	if _, ok := DroneName(name); ok {
		return CategoryDrone
	}
	if _, ok := CameraVendor(prefix); ok {
		return CategoryCamera
	}
	if CameraName(name) {
		return CategoryCamera
	}
	if VehicleName(name) {
		return CategoryVehicle
	}
	return CategoryNone
}

func IsTrustedPublic(name string) bool {
	_, ok := trustedPublic[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// HoneypotWord returns the first lure word found in name.
func HoneypotWord(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, w := range honeypotWords {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}
