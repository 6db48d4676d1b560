package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// JHURow is one province row of a CSSE time-series file.
type JHURow struct {
	Province string
	Country  string
	Values   []float64
}

// DailyDates returns n consecutive dates in the M/D/YY layout.
func DailyDates(start time.Time, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i).Format("1/2/06")
	}
	return out
}

// JHUCSV renders rows in the CSSE global time-series layout. A NaN value
// is written as a blank cell.
func JHUCSV(dates []string, rows ...JHURow) string {
	var b strings.Builder
	b.WriteString("Province/State,Country/Region,Lat,Long")
	for _, d := range dates {
		b.WriteString("," + d)
	}
	b.WriteString("\n")
	for _, r := range rows {
		country := r.Country
		if strings.Contains(country, ",") {
			country = `"` + country + `"`
		}
		fmt.Fprintf(&b, "%s,%s,0.0,0.0", r.Province, country)
		for _, v := range r.Values {
			if math.IsNaN(v) {
				b.WriteString(",")
				continue
			}
			fmt.Fprintf(&b, ",%g", v)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Growth returns n cumulative counts starting at first and growing by rate
// per day, rounded to whole numbers.
func Growth(n int, first, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round(first * math.Exp(rate*float64(i)))
	}
	return out
}

var pyramidAges = []string{
	"0-4", "5-9", "10-14", "15-19", "20-24", "25-29", "30-34", "35-39", "40-44",
	"45-49", "50-54", "55-59", "60-64", "65-69", "70-74", "75-79", "80-84",
	"85-89", "90-94", "95-99", "100+",
}

// PyramidCSV renders an "Age,M,F" pyramid with the given male and female
// count in every five-year row.
func PyramidCSV(male, female float64) string {
	var b strings.Builder
	b.WriteString("Age,M,F\n")
	for _, age := range pyramidAges {
		fmt.Fprintf(&b, "%s,%g,%g\n", age, male, female)
	}
	return b.String()
}

// PyramidRows returns the same pyramid as rows, for building workbooks.
func PyramidRows(male, female float64) [][]interface{} {
	rows := [][]interface{}{{"Age", "M", "F"}}
	for _, age := range pyramidAges {
		rows = append(rows, []interface{}{age, male, female})
	}
	return rows
}

// WriteFile writes content below dir and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// DataFixture is a data directory with deaths, cases and pyramid files.
type DataFixture struct {
	Dir           string
	DeathsFile    string
	CasesFile     string
	PopulationDir string
	Dates         []string
	Deaths        []float64
	Cases         []float64
}

// NewDataFixture writes a 40-day outbreak for each country: deaths start at
// zero, reach 1 on day 10 and then grow 15% a day; cases are a hundred times
// deaths plus a constant. Every country gets a pyramid of 500k per sex and
// five-year row (21M people).
func NewDataFixture(t *testing.T, countries ...string) *DataFixture {
	t.Helper()
	dir := t.TempDir()
	dates := DailyDates(time.Date(2020, 2, 20, 0, 0, 0, 0, time.UTC), 40)

	deaths := make([]float64, len(dates))
	cases := make([]float64, len(dates))
	for i := range dates {
		if i >= 10 {
			deaths[i] = math.Round(math.Exp(0.15 * float64(i-10)))
		}
		cases[i] = 100*deaths[i] + 20
	}

	var deathRows, caseRows []JHURow
	for _, c := range countries {
		deathRows = append(deathRows, JHURow{Country: c, Values: deaths})
		caseRows = append(caseRows, JHURow{Country: c, Values: cases})
		name := c + "-2019.csv"
		switch c {
		case "Korea, South":
			name = "SKorea-2019.csv"
		case "United Kingdom":
			name = "UK-2019.csv"
		}
		WriteFile(t, filepath.Join(dir, "popdata"), name, PyramidCSV(500000, 500000))
	}

	return &DataFixture{
		Dir:           dir,
		DeathsFile:    WriteFile(t, dir, "time_series_covid19_deaths_global.csv", JHUCSV(dates, deathRows...)),
		CasesFile:     WriteFile(t, dir, "time_series_covid19_confirmed_global.csv", JHUCSV(dates, caseRows...)),
		PopulationDir: filepath.Join(dir, "popdata"),
		Dates:         dates,
		Deaths:        deaths,
		Cases:         cases,
	}
}
