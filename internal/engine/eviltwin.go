package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
	"rfwatch/internal/signatures"
	"rfwatch/internal/snapshot"
)

// EvilTwinDetector looks for one network name served by several physically
// distinct devices with a suspicious signal spread between them.
type EvilTwinDetector struct{}

func (d *EvilTwinDetector) Name() string { return "evil_twin" }

func (d *EvilTwinDetector) Reset() {}

func (d *EvilTwinDetector) Check(c *Cycle, emit EmitFunc) error {
	cfg := c.Config.Detection.EvilTwin
	groups := make(map[string][]model.EmitterObservation)
	for _, o := range c.Observations {
		name := o.Name()
		if name == "" || c.Trust.IsTrustedID(o.ID) {
			continue
		}
		groups[name] = append(groups[name], o)
	}
	names := make([]string, 0, len(groups))
	for name, members := range groups {
		if len(members) >= 2 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if signatures.IsTrustedPublic(name) || c.Trust.IsTrustedName(name) {
			continue
		}
		members := groups[name]
		clusters := clusterDevices(members, c.History, cfg.SuffixBound, cfg.EstablishedSeen)
		if len(clusters) < 2 {
			continue
		}
		threshold := cfg.SpreadThresholdDbm
		if len(clusters) >= 3 {
			threshold = cfg.LargeSpreadDbm
		}
		strongest, weakest := -1, -1
		for i, cl := range clusters {
			if !cl.plausible {
				continue
			}
			if strongest < 0 || cl.signal > clusters[strongest].signal {
				strongest = i
			}
			if weakest < 0 || cl.signal < clusters[weakest].signal {
				weakest = i
			}
		}
		if strongest < 0 || strongest == weakest {
			continue
		}
		spread := clusters[strongest].signal - clusters[weakest].signal
		if spread <= threshold {
			continue
		}
		// The incumbent being the loudest device is normal; only a louder
		// newcomer is suspicious.
		if clusters[strongest].maxSeen >= cfg.EstablishedSeen {
			continue
		}
		conf := model.ConfidenceMedium
		if spread >= threshold+15 {
			conf = model.ConfidenceHigh
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
		}
		sort.Strings(ids)
		suspect := clusters[strongest].ids[0]
		desc := fmt.Sprintf("Network %q is served by %d distinct devices with a %d dB signal spread; strongest device %s is new",
			name, len(clusters), spread, suspect)
		emit(newAnomaly(c, model.KindEvilTwin, conf, desc, map[string]string{
			"method":           "ssid_duplicate",
			"name":             name,
			"clusters":         strconv.Itoa(len(clusters)),
			"signal_spread_db": strconv.Itoa(spread),
			"threshold_db":     strconv.Itoa(threshold),
			"suspect_id":       suspect,
			"signal_dbm":       strconv.Itoa(clusters[strongest].signal),
		}, ids...))
	}
	return nil
}

type deviceCluster struct {
	ids       []string
	signal    int
	plausible bool
	maxSeen   int
}

// clusterDevices groups same-name emitters into physical devices. Multi-band
// radios of one router are merged first; if the remainder still looks like a
// mesh deployment everything collapses into a single device.
func clusterDevices(members []model.EmitterObservation, h *History, suffixBound, establishedSeen int) []deviceCluster {
	parent := make([]int, len(members))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if sameRouter(members[i], members[j], suffixBound) {
				parent[find(i)] = find(j)
			}
		}
	}
	roots := make(map[int]int)
	for i := range members {
		root := find(i)
		if _, ok := roots[root]; !ok {
			roots[root] = len(roots)
		}
	}
	if len(roots) >= 2 && isMeshDeployment(members, h, establishedSeen) {
		for i := range parent {
			parent[i] = 0
		}
		roots = map[int]int{0: 0}
	}

	clusters := make([]deviceCluster, len(roots))
	for i, m := range members {
		cl := &clusters[roots[find(i)]]
		cl.ids = append(cl.ids, m.ID)
		if normalize.PlausibleSignal(m.SignalDbm) && (!cl.plausible || m.SignalDbm > cl.signal) {
			cl.signal = m.SignalDbm
			cl.plausible = true
		}
		if seen := seenCount(h, m.ID); seen > cl.maxSeen {
			cl.maxSeen = seen
		}
	}
	for i := range clusters {
		sort.Strings(clusters[i].ids)
	}
	return clusters
}

func seenCount(h *History, id string) int {
	if h == nil {
		return 0
	}
	return h.SeenCount(id)
}

// sameRouter: same vendor prefix, NIC suffixes within suffixBound, different bands.
func sameRouter(a, b model.EmitterObservation, suffixBound int) bool {
	pa := signatures.NormalizePrefix(a.VendorPrefix)
	if pa == "" || pa != signatures.NormalizePrefix(b.VendorPrefix) {
		return false
	}
	na, okA := nicSuffix(a.ID)
	nb, okB := nicSuffix(b.ID)
	if !okA || !okB {
		return false
	}
	diff := na - nb
	if diff < 0 {
		diff = -diff
	}
	if diff > suffixBound {
		return false
	}
	ba, bb := snapshot.BandOf(a.FrequencyHz), snapshot.BandOf(b.FrequencyHz)
	return ba != model.BandUnknown && bb != model.BandUnknown && ba != bb
}

func isMeshDeployment(members []model.EmitterObservation, h *History, establishedSeen int) bool {
	prefixes := make(map[string]struct{})
	bands := make(map[model.Band]struct{})
	heads := make(map[string]int)
	minSeen, maxSeen := -1, 0
	for _, m := range members {
		prefixes[signatures.NormalizePrefix(m.VendorPrefix)] = struct{}{}
		if band := snapshot.BandOf(m.FrequencyHz); band != model.BandUnknown {
			bands[band] = struct{}{}
		}
		if head := idHead(m.ID); head != "" {
			heads[head]++
		}
		seen := seenCount(h, m.ID)
		if minSeen < 0 || seen < minSeen {
			minSeen = seen
		}
		if seen > maxSeen {
			maxSeen = seen
		}
	}
	_, blankPrefix := prefixes[""]

	// One vendor with long, comparable sighting histories.
	if len(prefixes) == 1 && !blankPrefix && minSeen >= establishedSeen && maxSeen <= 2*minSeen {
		return true
	}
	if len(bands) >= 2 && len(prefixes) <= 2 {
		return true
	}
	for _, n := range heads {
		if n*2 > len(members) {
			return true
		}
	}
	return false
}

// nicSuffix returns the device-specific lower 24 bits of a MAC id.
func nicSuffix(id string) (int, bool) {
	if !normalize.IsMAC(id) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(id[9:], ":", ""), 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// idHead is the first four hex digits of an id, "" if it has fewer.
func idHead(id string) string {
	var b strings.Builder
	for i := 0; i < len(id) && b.Len() < 4; i++ {
		c := id[i]
		if c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f' {
			b.WriteByte(c)
		}
	}
	if b.Len() < 4 {
		return ""
	}
	return strings.ToUpper(b.String())
}
