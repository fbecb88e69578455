package geofence

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/geosentinel-data/geosentinel/internal/geo"
	"github.com/geosentinel-data/geosentinel/internal/locmux"
	"github.com/geosentinel-data/geosentinel/internal/monitoring"
)

// Recompute rebuilds the gateway's active monitoring set from scratch.
// Exposed for operational surfaces; the Tracker recomputes internally after
// every mutation that can change the set.
func (t *Tracker) Recompute() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recomputeLocked()
}

// recomputeLocked is the priority scheduler. It tears down all monitoring,
// selects up to MaxMonitoredRegions enabled regions (nearest-first when a
// device location is known, list order otherwise), clamps each radius to the
// legal bounds, and re-registers the winners. Deterministic given the same
// region list, settings and location.
func (t *Tracker) recomputeLocked() {
	if err := t.gateway.StopAllMonitoring(); err != nil {
		t.logf("scheduler: stopping all monitoring failed: %v", err)
	}
	if err := t.gateway.StopCoarseMode(); err != nil {
		t.logf("scheduler: stopping coarse mode failed: %v", err)
	}

	enabled := make([]Region, 0, len(t.regions))
	for _, r := range t.regions {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}

	if loc := t.lastLocation; loc != nil {
		sort.SliceStable(enabled, func(i, j int) bool {
			return regionDistanceM(enabled[i], *loc) < regionDistanceM(enabled[j], *loc)
		})
	}

	active := enabled
	if len(active) > MaxMonitoredRegions {
		active = active[:MaxMonitoredRegions]
		t.logf("scheduler: %d enabled regions exceed the %d-slot cap", len(enabled), MaxMonitoredRegions)
		for _, r := range enabled[MaxMonitoredRegions:] {
			t.logf("scheduler: region %s left unmonitored", r.Name)
		}
	}

	for _, r := range active {
		radius, clamped := ClampRadius(r.RadiusM)
		if clamped {
			t.logf("scheduler: radius %.0fm for %s out of range, clamped to %.0fm", r.RadiusM, r.Name, radius)
		}
		mr := locmux.MonitoredRegion{
			ID:            r.ID.String(),
			Latitude:      r.Latitude,
			Longitude:     r.Longitude,
			RadiusM:       radius,
			NotifyOnEntry: r.NotifyOnEntry,
			NotifyOnExit:  r.NotifyOnExit,
		}
		if err := t.gateway.StartMonitoring(mr); err != nil {
			t.logf("scheduler: starting monitoring for %s failed: %v", r.Name, err)
		}
	}

	monitoring.Logf("geofence: scheduler: monitoring %d of %d enabled regions", len(active), len(enabled))
	if t.lastLocation != nil && len(active) > 0 {
		dists := make([]float64, len(active))
		for i, r := range active {
			dists[i] = regionDistanceM(r, *t.lastLocation)
		}
		monitoring.Logf("geofence: scheduler: nearest %.0fm, mean active distance %.0fm",
			dists[0], stat.Mean(dists, nil))
	}

	if t.settings.BatteryMode == Saver {
		if err := t.gateway.StartCoarseMode(); err != nil {
			t.logf("scheduler: starting coarse mode failed: %v", err)
		}
	}
}

func regionDistanceM(r Region, loc geo.Point) float64 {
	return geo.DistanceM(geo.Point{Latitude: r.Latitude, Longitude: r.Longitude}, loc)
}
