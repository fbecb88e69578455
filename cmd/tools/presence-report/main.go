// presence-report renders an HTML report over the confirmed transition
// history: visits and dwell-time statistics per region.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/google/uuid"

	"github.com/geosentinel-data/geosentinel/internal/db"
	"github.com/geosentinel-data/geosentinel/internal/geofence"
)

var (
	dbPath  = flag.String("db", "geosentinel.db", "Path to the sqlite database")
	outPath = flag.String("out", "presence-report.html", "Output HTML file")
	limit   = flag.Int("limit", 10000, "Maximum transitions to load")
)

func main() {
	flag.Parse()

	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	regions, err := database.LoadRegions()
	if err != nil {
		log.Fatalf("failed to load regions: %v", err)
	}
	transitions, err := database.Transitions(*limit)
	if err != nil {
		log.Fatalf("failed to load transitions: %v", err)
	}
	if len(transitions) == 0 {
		log.Fatal("no confirmed transitions recorded yet")
	}

	stats := buildStats(transitions)

	names := make(map[uuid.UUID]string, len(regions))
	for _, r := range regions {
		names[r.ID] = r.Name
	}
	nameFor := func(id uuid.UUID) string {
		if n, ok := names[id]; ok {
			return n
		}
		// Deleted regions keep their history under a short id.
		return id.String()[:8]
	}

	// Stable ordering: region list order first, then deleted regions.
	var ordered []geofence.Region
	seen := make(map[uuid.UUID]bool)
	for _, r := range regions {
		if _, ok := stats[r.ID]; ok {
			ordered = append(ordered, r)
			seen[r.ID] = true
		}
	}
	for id := range stats {
		if !seen[id] {
			ordered = append(ordered, geofence.Region{ID: id})
		}
	}

	var labels []string
	var visitData, meanData, p90Data []opts.BarData
	for _, r := range ordered {
		rs := stats[r.ID]
		labels = append(labels, nameFor(r.ID))
		visitData = append(visitData, opts.BarData{Value: rs.Visits})
		meanData = append(meanData, opts.BarData{Value: fmt.Sprintf("%.1f", rs.MeanDwellMin)})
		p90Data = append(p90Data, opts.BarData{Value: fmt.Sprintf("%.1f", rs.P90DwellMin)})
	}

	visits := charts.NewBar()
	visits.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Presence Report", Width: "900px", Height: "450px"}),
		charts.WithTitleOpts(opts.Title{Title: "Visits per Region", Subtitle: fmt.Sprintf("%d transitions analysed", len(transitions))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	visits.SetXAxis(labels)
	visits.AddSeries("visits", visitData)

	dwell := charts.NewBar()
	dwell.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "450px"}),
		charts.WithTitleOpts(opts.Title{Title: "Dwell Time per Region (minutes)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	dwell.SetXAxis(labels)
	dwell.AddSeries("mean", meanData)
	dwell.AddSeries("p90", p90Data)

	page := components.NewPage()
	page.AddCharts(visits, dwell)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}

	for _, r := range ordered {
		rs := stats[r.ID]
		open := ""
		if rs.OpenVisit {
			open = " (visit in progress)"
		}
		log.Printf("%s: %d visits, mean %.1f min, p50 %.1f min, p90 %.1f min%s",
			nameFor(r.ID), rs.Visits, rs.MeanDwellMin, rs.P50DwellMin, rs.P90DwellMin, open)
	}
	log.Printf("report written to %s", *outPath)
}
