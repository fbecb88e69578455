package main

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/geosentinel-data/geosentinel/internal/geofence"
)

// RegionStats summarises the confirmed transition history for one region.
type RegionStats struct {
	RegionID      uuid.UUID
	Visits        int
	OpenVisit     bool
	MeanDwellMin  float64
	P50DwellMin   float64
	P90DwellMin   float64
	TotalDwellMin float64
}

// buildStats pairs confirmed enters with the following exit per region and
// reduces the dwell durations. Transitions may arrive in any order; they are
// sorted by time first. An enter without a matching exit counts as an open
// visit and contributes no duration.
func buildStats(transitions []geofence.Transition) map[uuid.UUID]RegionStats {
	sorted := make([]geofence.Transition, len(transitions))
	copy(sorted, transitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	type pending struct {
		enteredAt time.Time
		open      bool
	}
	entered := make(map[uuid.UUID]pending)
	durations := make(map[uuid.UUID][]float64)
	visits := make(map[uuid.UUID]int)

	for _, tr := range sorted {
		switch tr.Kind {
		case geofence.TransitionEnter:
			entered[tr.RegionID] = pending{enteredAt: tr.At, open: true}
		case geofence.TransitionExit:
			p := entered[tr.RegionID]
			if !p.open {
				continue
			}
			visits[tr.RegionID]++
			durations[tr.RegionID] = append(durations[tr.RegionID], tr.At.Sub(p.enteredAt).Minutes())
			entered[tr.RegionID] = pending{}
		}
	}

	out := make(map[uuid.UUID]RegionStats)
	ids := make(map[uuid.UUID]bool)
	for id := range visits {
		ids[id] = true
	}
	for id, p := range entered {
		if p.open {
			ids[id] = true
		}
	}

	for id := range ids {
		rs := RegionStats{
			RegionID:  id,
			Visits:    visits[id],
			OpenVisit: entered[id].open,
		}
		if d := durations[id]; len(d) > 0 {
			sort.Float64s(d)
			rs.MeanDwellMin = stat.Mean(d, nil)
			rs.P50DwellMin = stat.Quantile(0.5, stat.Empirical, d, nil)
			rs.P90DwellMin = stat.Quantile(0.9, stat.Empirical, d, nil)
			for _, v := range d {
				rs.TotalDwellMin += v
			}
		}
		out[id] = rs
	}
	return out
}
