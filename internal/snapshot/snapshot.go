// Package snapshot reduces one scan's emitter list into a RadioSnapshot.
package snapshot

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"rfwatch/internal/model"
	"rfwatch/internal/normalize"
	"rfwatch/internal/signatures"
)

const (
	DefaultHiddenExpiry = 30 * time.Minute

	// emptyScanSignalDbm stands in for the mean signal of a scan without a
	// single plausible reading.
	emptyScanSignalDbm = -100

	clusterThresholdDbm     = 10.0
	concentrationMinHidden  = 3
	concentrationShare      = 0.8
	simultaneousMinNew      = 5
	simultaneousPriorHidden = 1
)

// HiddenState carries hidden-emitter sightings from one scan to the next.
type HiddenState struct {
	Seen            map[string]time.Time
	LastHiddenCount int
	Expiry          time.Duration
}

type hiddenEmitter struct {
	id        string
	signal    int
	plausible bool
	channel   int
	prefix    string
}

// Build is pure: prior is never modified and the returned state is a fresh copy.
func Build(obs []model.EmitterObservation, ts time.Time, prior HiddenState) (model.RadioSnapshot, HiddenState) {
	snap := model.RadioSnapshot{
		Timestamp: ts,
		Total:     len(obs),
		Channels:  make(map[int]int),
	}
	var signalSum int
	var visibleSignals []float64
	hidden := make([]hiddenEmitter, 0)

	for _, o := range obs {
		band := BandOf(o.FrequencyHz)
		switch band {
		case model.Band24GHz:
			snap.Band24++
		case model.Band5GHz:
			snap.Band5++
		case model.Band6GHz:
			snap.Band6++
		default:
			snap.BandUnknown++
		}
		ch := Channel(o.FrequencyHz)
		if ch > 0 {
			snap.Channels[ch]++
		}
		if o.IsOpenAccess {
			snap.OpenCount++
		}
		plausible := normalize.PlausibleSignal(o.SignalDbm)
		if plausible {
			signalSum += o.SignalDbm
			snap.SignalSamples++
		}
		switch signatures.Classify(o.VendorPrefix, o.Name()) {
		case signatures.CategoryDrone:
			snap.DroneLike++
		case signatures.CategoryCamera:
			snap.CameraLike++
		case signatures.CategoryVehicle:
			snap.VehicleLike++
		}
		if IsHidden(o) {
			snap.HiddenCount++
			hidden = append(hidden, hiddenEmitter{
				id:        o.ID,
				signal:    o.SignalDbm,
				plausible: plausible,
				channel:   ch,
				prefix:    signatures.NormalizePrefix(o.VendorPrefix),
			})
		} else if plausible {
			visibleSignals = append(visibleSignals, float64(o.SignalDbm))
		}
	}
	if snap.SignalSamples > 0 {
		snap.AvgSignalDbm = int(math.Round(float64(signalSum) / float64(snap.SignalSamples)))
	} else {
		snap.AvgSignalDbm = emptyScanSignalDbm
	}

	next := advanceHidden(prior, hidden, ts)
	if len(hidden) > 0 {
		snap.Hidden = hiddenProfile(hidden, visibleSignals, prior, ts)
	}
	return snap, next
}

// IsHidden reports an emitter that does not advertise a usable name.
func IsHidden(o model.EmitterObservation) bool {
	if o.DisplayName == nil {
		return true
	}
	for _, r := range *o.DisplayName {
		if r != 0 && r != ' ' {
			return false
		}
	}
	return true
}

func expiry(state HiddenState) time.Duration {
	if state.Expiry > 0 {
		return state.Expiry
	}
	return DefaultHiddenExpiry
}

func alive(state HiddenState, id string, ts time.Time) bool {
	last, ok := state.Seen[id]
	if !ok {
		return false
	}
	return ts.Sub(last) <= expiry(state)
}

func advanceHidden(prior HiddenState, hidden []hiddenEmitter, ts time.Time) HiddenState {
	next := HiddenState{
		Seen:            make(map[string]time.Time, len(prior.Seen)+len(hidden)),
		LastHiddenCount: len(hidden),
		Expiry:          prior.Expiry,
	}
	for id := range prior.Seen {
		if alive(prior, id, ts) {
			next.Seen[id] = prior.Seen[id]
		}
	}
	for _, h := range hidden {
		next.Seen[h.id] = ts
	}
	return next
}

func hiddenProfile(hidden []hiddenEmitter, visible []float64, prior HiddenState, ts time.Time) *model.HiddenNetworkProfile {
	p := &model.HiddenNetworkProfile{Count: len(hidden), StrongestDbm: emptyScanSignalDbm}

	signals := make([]float64, 0, len(hidden))
	channelCounts := make(map[int]int)
	prefixCounts := make(map[string]int)
	for _, h := range hidden {
		if h.plausible {
			signals = append(signals, float64(h.signal))
			if h.signal > p.StrongestDbm || p.StrongestID == "" {
				p.StrongestDbm = h.signal
				p.StrongestID = h.id
			}
		}
		if h.channel > 0 {
			channelCounts[h.channel]++
		}
		if h.prefix != "" {
			prefixCounts[h.prefix]++
		}
		if alive(prior, h.id, ts) {
			p.Persistent++
		} else {
			p.NewThisScan++
		}
	}
	if len(signals) > 0 {
		p.AvgHiddenSignalDbm = stat.Mean(signals, nil)
		p.SignalVariance = stat.PopVariance(signals, nil)
		p.SignalClusters = countClusters(signals, clusterThresholdDbm)
	}
	if len(visible) > 0 {
		p.AvgVisibleSignalDbm = stat.Mean(visible, nil)
	}

	p.DominantChannels = topChannels(channelCounts, 2)
	if len(hidden) >= concentrationMinHidden {
		top := 0
		for _, ch := range p.DominantChannels {
			top += channelCounts[ch]
		}
		p.ChannelConcentrated = float64(top) >= concentrationShare*float64(len(hidden))
	}
	for _, h := range hidden {
		if h.prefix != "" && prefixCounts[h.prefix] > 1 {
			p.VendorSharing++
		}
	}
	p.SimultaneousAppearance = p.NewThisScan >= simultaneousMinNew && prior.LastHiddenCount >= simultaneousPriorHidden
	return p
}

// countClusters groups sorted readings greedily: a reading further than
// threshold from the current cluster's first member opens a new cluster.
func countClusters(signals []float64, threshold float64) int {
	if len(signals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), signals...)
	sort.Float64s(sorted)
	clusters := 1
	anchor := sorted[0]
	for _, s := range sorted[1:] {
		if s-anchor > threshold {
			clusters++
			anchor = s
		}
	}
	return clusters
}

func topChannels(counts map[int]int, n int) []int {
	if len(counts) == 0 {
		return nil
	}
	chans := make([]int, 0, len(counts))
	for ch := range counts {
		chans = append(chans, ch)
	}
	sort.Slice(chans, func(i, j int) bool {
		if counts[chans[i]] != counts[chans[j]] {
			return counts[chans[i]] > counts[chans[j]]
		}
		return chans[i] < chans[j]
	})
	if len(chans) > n {
		chans = chans[:n]
	}
	return chans
}
