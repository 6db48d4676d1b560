package exporter

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"covidseir/internal/epidemic"
)

// maxChartPoints caps the points per line; longer trajectories are thinned.
const maxChartPoints = 2000

// chartSeries are the compartments drawn on the epidemic curve chart.
var chartSeries = []epidemic.Compartment{
	epidemic.Exposed,
	epidemic.Asymptomatic,
	epidemic.Symptomatic,
	epidemic.Hospitalized,
	epidemic.Fatalities,
}

// WriteCharts renders two PNG charts for a run: the epidemic curves as
// population fractions, and the reproduction number over time.
func WriteCharts(dir, name string, trajectory []epidemic.Record) ([]string, error) {
	if len(trajectory) == 0 {
		return nil, fmt.Errorf("empty trajectory")
	}
	out := filepath.Join(dir, name)
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	sample := thin(trajectory, maxChartPoints)

	curves := plot.New()
	curves.Title.Text = name + " epidemic curves"
	curves.X.Label.Text = "Days from last data point"
	curves.Y.Label.Text = "Fraction of population"

	var lines []interface{}
	for _, c := range chartSeries {
		points := make(plotter.XYs, len(sample))
		for i, r := range sample {
			points[i].X = r.Time
			points[i].Y = r.Totals.Of(c)
		}
		lines = append(lines, c.String(), points)
	}
	if err := plotutil.AddLines(curves, lines...); err != nil {
		return nil, fmt.Errorf("failed to add curves: %w", err)
	}
	curvesPath := filepath.Join(out, name+"_curves.png")
	if err := curves.Save(8*vg.Inch, 4*vg.Inch, curvesPath); err != nil {
		return nil, fmt.Errorf("failed to save chart: %w", err)
	}

	rt := plot.New()
	rt.Title.Text = name + " reproduction number"
	rt.X.Label.Text = "Days from last data point"
	rt.Y.Label.Text = "Rt"

	points := make(plotter.XYs, len(sample))
	for i, r := range sample {
		points[i].X = r.Time
		points[i].Y = r.Rt
	}
	if err := plotutil.AddLinePoints(rt, "Rt", points); err != nil {
		return nil, fmt.Errorf("failed to add Rt: %w", err)
	}
	rtPath := filepath.Join(out, name+"_rt.png")
	if err := rt.Save(8*vg.Inch, 4*vg.Inch, rtPath); err != nil {
		return nil, fmt.Errorf("failed to save chart: %w", err)
	}

	return []string{curvesPath, rtPath}, nil
}

// thin keeps at most n records, always including the first and last.
func thin(records []epidemic.Record, n int) []epidemic.Record {
	if len(records) <= n || n < 2 {
		return records
	}
	out := make([]epidemic.Record, 0, n)
	stride := float64(len(records)-1) / float64(n-1)
	for i := 0; i < n-1; i++ {
		out = append(out, records[int(float64(i)*stride)])
	}
	return append(out, records[len(records)-1])
}
