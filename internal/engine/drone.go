package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rfwatch/internal/model"
	"rfwatch/internal/signatures"
)

const (
	methodVendorPrefix = "vendor_prefix"
	methodSSIDPattern  = "ssid_pattern"
)

type pendingDrone struct {
	count        int
	manufacturer string
	firstSeen    time.Time
	lastSeen     time.Time
}

// DroneDetector confirms drones by vendor prefix right away and by SSID
// pattern only after repeated sightings, then tracks them until they go
// quiet.
type DroneDetector struct {
	pending map[string]*pendingDrone
	active  map[string]*model.DroneInfo
}

func NewDroneDetector() *DroneDetector {
	return &DroneDetector{
		pending: make(map[string]*pendingDrone),
		active:  make(map[string]*model.DroneInfo),
	}
}

func (d *DroneDetector) Name() string { return "drone" }

func (d *DroneDetector) Reset() {
	d.pending = make(map[string]*pendingDrone)
	d.active = make(map[string]*model.DroneInfo)
}

func (d *DroneDetector) Check(c *Cycle, emit EmitFunc) error {
	cfg := c.Config.Detection.Drone
	for _, o := range c.Observations {
		if c.Trust.IsTrustedID(o.ID) {
			continue
		}
		name := o.Name()
		manufacturer, ok := signatures.DroneVendor(o.VendorPrefix)
		method := methodVendorPrefix
		if !ok {
			manufacturer, ok = signatures.DroneName(name)
			method = methodSSIDPattern
		}
		if !ok {
			continue
		}
		if info, tracked := d.active[o.ID]; tracked {
			info.LastSeen = c.Timestamp
			info.SignalDbm = o.SignalDbm
			info.Distance = DistanceFromSignal(o.SignalDbm)
			info.Sightings++
			if name != "" {
				info.Name = name
			}
			continue
		}
		if method == methodVendorPrefix {
			d.confirm(c, emit, o, manufacturer, method, model.ConfidenceHigh, c.Timestamp, 1)
			continue
		}
		p, seen := d.pending[o.ID]
		if !seen || c.Timestamp.Sub(p.lastSeen) > cfg.PendingExpiry {
			p = &pendingDrone{manufacturer: manufacturer, firstSeen: c.Timestamp}
			d.pending[o.ID] = p
		}
		p.count++
		p.lastSeen = c.Timestamp
		if p.count < cfg.MinSightings {
			continue
		}
		delete(d.pending, o.ID)
		d.confirm(c, emit, o, manufacturer, method, model.ConfidenceMedium, p.firstSeen, p.count)
	}
	return nil
}

func (d *DroneDetector) confirm(c *Cycle, emit EmitFunc, o model.EmitterObservation, manufacturer, method string, conf model.Confidence, firstSeen time.Time, sightings int) {
	info := &model.DroneInfo{
		ID:           o.ID,
		Name:         o.Name(),
		Manufacturer: manufacturer,
		Method:       method,
		FirstSeen:    firstSeen,
		LastSeen:     c.Timestamp,
		SignalDbm:    o.SignalDbm,
		Distance:     DistanceFromSignal(o.SignalDbm),
		Sightings:    sightings,
	}
	d.active[o.ID] = info

	label := info.Name
	if label == "" {
		label = o.ID
	}
	c.Note(model.TimelineEvent{
		Type:              model.EventDroneConfirmed,
		Title:             "Drone confirmed",
		Description:       fmt.Sprintf("%s drone %s (%s)", manufacturer, label, info.Distance),
		Severity:          model.SeverityFor(conf),
		RelatedEmitterIDs: []string{o.ID},
	})
	desc := fmt.Sprintf("%s drone %s detected by %s, %s range", manufacturer, label, strings.ReplaceAll(method, "_", " "), info.Distance)
	emit(newAnomaly(c, model.KindDrone, conf, desc, map[string]string{
		"method":       method,
		"manufacturer": manufacturer,
		"name":         info.Name,
		"emitter_id":   o.ID,
		"signal_dbm":   strconv.Itoa(o.SignalDbm),
		"distance":     string(info.Distance),
		"sightings":    strconv.Itoa(sightings),
	}, o.ID))
}

// Prune expires quiet drones and stale pending matches.
func (d *DroneDetector) Prune(now time.Time, pendingExpiry, activeExpiry time.Duration) (expired []string) {
	for id, p := range d.pending {
		if now.Sub(p.lastSeen) > pendingExpiry {
			delete(d.pending, id)
		}
	}
	for id, info := range d.active {
		if now.Sub(info.LastSeen) > activeExpiry {
			delete(d.active, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

// Active returns the tracked drones, most recently seen first.
func (d *DroneDetector) Active() []model.DroneInfo {
	out := make([]model.DroneInfo, 0, len(d.active))
	for _, info := range d.active {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func (d *DroneDetector) PendingCount(id string) int {
	if p, ok := d.pending[id]; ok {
		return p.count
	}
	return 0
}

// DistanceFromSignal buckets a drone's RSSI into a coarse range.
func DistanceFromSignal(dbm int) model.DistanceBucket {
	switch {
	case dbm >= -50:
		return model.DistanceImmediate
	case dbm >= -70:
		return model.DistanceNear
	}
	return model.DistanceFar
}

// CameraClusterDetector tallies emitters from video-surveillance vendors.
type CameraClusterDetector struct{}

func (d *CameraClusterDetector) Name() string { return "camera_cluster" }

func (d *CameraClusterDetector) Reset() {}

func (d *CameraClusterDetector) Check(c *Cycle, emit EmitFunc) error {
	var ids []string
	vendors := make(map[string]int)
	for _, o := range c.Observations {
		if c.Trust.IsTrustedID(o.ID) {
			continue
		}
		if vendor, ok := signatures.CameraVendor(o.VendorPrefix); ok {
			ids = append(ids, o.ID)
			vendors[vendor]++
		}
	}
	n := len(ids)
	if n < c.Config.Detection.Drone.CameraClusterMin {
		return nil
	}
	conf := model.ConfidenceLow
	switch {
	case n >= 8:
		conf = model.ConfidenceHigh
	case n >= 5:
		conf = model.ConfidenceMedium
	}
	names := make([]string, 0, len(vendors))
	for v := range vendors {
		names = append(names, v)
	}
	sort.Strings(names)
	sort.Strings(ids)
	desc := fmt.Sprintf("%d surveillance camera emitters in range (%s)", n, strings.Join(names, ", "))
	emit(newAnomaly(c, model.KindCameraCluster, conf, desc, map[string]string{
		"method":  methodVendorPrefix,
		"count":   strconv.Itoa(n),
		"vendors": strings.Join(names, ","),
	}, ids...))
	return nil
}

// VehicleDetector flags SSIDs that follow surveillance-vehicle naming.
type VehicleDetector struct{}

func (d *VehicleDetector) Name() string { return "surveillance_vehicle" }

func (d *VehicleDetector) Reset() {}

func (d *VehicleDetector) Check(c *Cycle, emit EmitFunc) error {
	var matched []model.EmitterObservation
	for _, o := range c.Observations {
		if c.Trust.IsTrustedID(o.ID) || c.Trust.IsTrustedName(o.Name()) {
			continue
		}
		if signatures.VehicleName(o.Name()) {
			matched = append(matched, o)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	first, ids := strongestFirst(matched)
	desc := fmt.Sprintf("Network %q matches surveillance vehicle naming", first.Name())
	if len(matched) > 1 {
		desc = fmt.Sprintf("%d networks match surveillance vehicle naming, strongest %q", len(matched), first.Name())
	}
	emit(newAnomaly(c, model.KindSurveillanceVehicle, model.ConfidenceMedium, desc, map[string]string{
		"method":     methodSSIDPattern,
		"name":       first.Name(),
		"emitter_id": first.ID,
		"signal_dbm": strconv.Itoa(first.SignalDbm),
		"count":      strconv.Itoa(len(matched)),
	}, ids...))
	return nil
}
