package engine

import (
	"fmt"
	"sort"
	"strconv"

	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
	"rfwatch/internal/signatures"
	"rfwatch/internal/snapshot"
)

// HiddenNetworkDetector reads the snapshot's hidden-network profile. It has
// the highest false positive rate of all checks and is off unless enabled.
type HiddenNetworkDetector struct {
	Enabled bool
}

func (d *HiddenNetworkDetector) Name() string { return "hidden_network" }

func (d *HiddenNetworkDetector) Reset() {}

func (d *HiddenNetworkDetector) Check(c *Cycle, emit EmitFunc) error {
	h := c.Snapshot.Hidden
	if !d.Enabled || h == nil {
		return nil
	}
	var (
		conf   model.Confidence
		method string
		desc   string
		ids    []string
	)
	switch {
	case h.SimultaneousAppearance:
		conf, method = model.ConfidenceHigh, "simultaneous_appearance"
		desc = fmt.Sprintf("%d hidden networks appeared in a single scan", h.NewThisScan)
		ids = hiddenIDs(c.Observations)
	case h.Count >= 5 && h.ChannelConcentrated && h.VendorSharing >= 3:
		conf, method = model.ConfidenceMedium, "coordinated_hidden"
		desc = fmt.Sprintf("%d hidden networks concentrated on channels %v with shared vendors", h.Count, h.DominantChannels)
		ids = hiddenIDs(c.Observations)
	case h.StrongestID != "" && normalize.PlausibleSignal(h.StrongestDbm) && h.StrongestDbm > c.Config.Detection.StrongHiddenDbm:
		conf, method = model.ConfidenceLow, "strong_hidden"
		desc = fmt.Sprintf("Hidden network %s very close at %d dBm", h.StrongestID, h.StrongestDbm)
		ids = []string{h.StrongestID}
	default:
		return nil
	}
	emit(newAnomaly(c, model.KindHiddenNetwork, conf, desc, map[string]string{
		"method":               method,
		"hidden_count":         strconv.Itoa(h.Count),
		"new_this_scan":        strconv.Itoa(h.NewThisScan),
		"persistent":           strconv.Itoa(h.Persistent),
		"vendor_sharing":       strconv.Itoa(h.VendorSharing),
		"signal_clusters":      strconv.Itoa(h.SignalClusters),
		"channel_concentrated": strconv.FormatBool(h.ChannelConcentrated),
		"avg_hidden_dbm":       strconv.FormatFloat(h.AvgHiddenSignalDbm, 'f', 1, 64),
		"avg_visible_dbm":      strconv.FormatFloat(h.AvgVisibleSignalDbm, 'f', 1, 64),
		"signal_variance":      strconv.FormatFloat(h.SignalVariance, 'f', 1, 64),
		"strongest_hidden_id":  h.StrongestID,
		"strongest_hidden_dbm": strconv.Itoa(h.StrongestDbm),
	}, ids...))
	return nil
}

func hiddenIDs(obs []model.EmitterObservation) []string {
	var ids []string
	for _, o := range obs {
		if snapshot.IsHidden(o) {
			ids = append(ids, o.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// WeakEncryptionDetector reports access points still advertising WEP.
type WeakEncryptionDetector struct{}

func (d *WeakEncryptionDetector) Name() string { return "weak_encryption" }

func (d *WeakEncryptionDetector) Reset() {}

func (d *WeakEncryptionDetector) Check(c *Cycle, emit EmitFunc) error {
	var matched []model.EmitterObservation
	for _, o := range c.Observations {
		if c.Trust.IsTrustedID(o.ID) || !normalize.IsWEP(o.Capabilities) {
			continue
		}
		matched = append(matched, o)
	}
	if len(matched) == 0 {
		return nil
	}
	first, ids := strongestFirst(matched)
	desc := fmt.Sprintf("%d access points use WEP encryption", len(matched))
	if len(matched) == 1 {
		desc = fmt.Sprintf("Access point %s uses WEP encryption", label(first))
	}
	emit(newAnomaly(c, model.KindWeakEncryption, model.ConfidenceLow, desc, map[string]string{
		"method":       "capabilities",
		"name":         first.Name(),
		"emitter_id":   first.ID,
		"signal_dbm":   strconv.Itoa(first.SignalDbm),
		"capabilities": first.Capabilities,
		"count":        strconv.Itoa(len(matched)),
	}, ids...))
	return nil
}

// SuspiciousOpenDetector reports open networks whose names look like lures.
type SuspiciousOpenDetector struct{}

func (d *SuspiciousOpenDetector) Name() string { return "suspicious_open" }

func (d *SuspiciousOpenDetector) Reset() {}

func (d *SuspiciousOpenDetector) Check(c *Cycle, emit EmitFunc) error {
	var (
		matched []model.EmitterObservation
		word    string
	)
	for _, o := range c.Observations {
		name := o.Name()
		if !o.IsOpenAccess || name == "" {
			continue
		}
		if signatures.IsTrustedPublic(name) || c.Trust.IsTrustedName(name) || c.Trust.IsTrustedID(o.ID) {
			continue
		}
		w, ok := signatures.HoneypotWord(name)
		if !ok {
			continue
		}
		if word == "" {
			word = w
		}
		matched = append(matched, o)
	}
	if len(matched) == 0 {
		return nil
	}
	first, ids := strongestFirst(matched)
	if w, ok := signatures.HoneypotWord(first.Name()); ok {
		word = w
	}
	desc := fmt.Sprintf("Open network %q looks like a honeypot", first.Name())
	if len(matched) > 1 {
		desc = fmt.Sprintf("%d open networks look like honeypots, strongest %q", len(matched), first.Name())
	}
	emit(newAnomaly(c, model.KindSuspiciousOpen, model.ConfidenceMedium, desc, map[string]string{
		"method":     "open_lure_name",
		"name":       first.Name(),
		"emitter_id": first.ID,
		"signal_dbm": strconv.Itoa(first.SignalDbm),
		"lure_word":  word,
		"count":      strconv.Itoa(len(matched)),
	}, ids...))
	return nil
}

// WatchlistDetector reports any operator-listed id present in a scan.
type WatchlistDetector struct{}

func (d *WatchlistDetector) Name() string { return "watchlist" }

func (d *WatchlistDetector) Reset() {}

func (d *WatchlistDetector) Check(c *Cycle, emit EmitFunc) error {
	var matched []model.EmitterObservation
	for _, o := range c.Observations {
		if c.Trust.IsWatched(o.ID) {
			matched = append(matched, o)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	first, ids := strongestFirst(matched)
	desc := fmt.Sprintf("Watchlisted emitter %s in range", label(first))
	if len(matched) > 1 {
		desc = fmt.Sprintf("%d watchlisted emitters in range", len(matched))
	}
	emit(newAnomaly(c, model.KindWatchlist, model.ConfidenceHigh, desc, map[string]string{
		"method":     "watchlist",
		"name":       first.Name(),
		"emitter_id": first.ID,
		"signal_dbm": strconv.Itoa(first.SignalDbm),
		"count":      strconv.Itoa(len(matched)),
	}, ids...))
	return nil
}

// strongestFirst orders matches by signal and returns the strongest plus all ids.
func strongestFirst(obs []model.EmitterObservation) (model.EmitterObservation, []string) {
	sort.SliceStable(obs, func(i, j int) bool {
		pi, pj := normalize.PlausibleSignal(obs[i].SignalDbm), normalize.PlausibleSignal(obs[j].SignalDbm)
		if pi != pj {
			return pi
		}
		return obs[i].SignalDbm > obs[j].SignalDbm
	})
	ids := make([]string, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	return obs[0], ids
}

func label(o model.EmitterObservation) string {
	if name := o.Name(); name != "" {
		return fmt.Sprintf("%q (%s)", name, o.ID)
	}
	return o.ID
}
