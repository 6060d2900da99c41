// Package report renders a static HTML summary of one run: failures
// broken down by kind and the distribution of quality scores across
// successful places.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/atlas-data/boundaryline/internal/resultdb"
)

// scoreBuckets partitions [0,1] for the quality histogram.
var scoreBuckets = []struct {
	label string
	min   float64
	max   float64
}{
	{"0.0-0.2", 0.0, 0.2},
	{"0.2-0.4", 0.2, 0.4},
	{"0.4-0.6", 0.4, 0.6},
	{"0.6-0.8", 0.6, 0.8},
	{"0.8-1.0", 0.8, 1.01},
}

// Generate renders the report for a run to w. An empty runID selects
// the most recent run.
func Generate(db *resultdb.DB, runID string, w io.Writer) error {
	if runID == "" {
		latest, err := db.LatestRunID()
		if err != nil {
			return err
		}
		if latest == "" {
			return fmt.Errorf("no runs recorded yet")
		}
		runID = latest
	}

	run, err := db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	results, err := db.ResultsForRun(runID)
	if err != nil {
		return fmt.Errorf("failed to load results for %s: %w", runID, err)
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Boundary run %s", run.RunID)
	page.AddCharts(failureChart(run, results), qualityChart(results))
	return page.Render(w)
}

func failureChart(run *resultdb.Run, results []*resultdb.Result) *charts.Bar {
	counts := make(map[string]int)
	for _, r := range results {
		if !r.Passed {
			counts[r.FailureKind]++
		}
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	data := make([]opts.BarData, len(kinds))
	for i, k := range kinds {
		data[i] = opts.BarData{Value: counts[k]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Failures by kind",
			Subtitle: fmt.Sprintf("mode=%s attempted=%d succeeded=%d started=%s",
				run.Mode, run.Attempted, run.Succeeded,
				time.Unix(0, run.StartedAt).UTC().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(kinds)
	bar.AddSeries("failures", data)
	return bar
}

func qualityChart(results []*resultdb.Result) *charts.Bar {
	counts := make([]int, len(scoreBuckets))
	for _, r := range results {
		if !r.Passed {
			continue
		}
		for i, b := range scoreBuckets {
			if r.QualityScore >= b.min && r.QualityScore < b.max {
				counts[i]++
				break
			}
		}
	}

	labels := make([]string, len(scoreBuckets))
	data := make([]opts.BarData, len(scoreBuckets))
	for i, b := range scoreBuckets {
		labels[i] = b.label
		data[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Quality scores", Subtitle: "successful places"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("places", data)
	return bar
}
