package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "covidseir/internal/errors"
)

const (
	jhuHeaderMarker = "Province/State"
	jhuCountryCol   = 1
	jhuFirstDateCol = 4
)

// Table is one parsed CSSE time-series file: a date axis and, per country,
// the counts summed over all of its provinces.
type Table struct {
	Dates     []time.Time
	Countries map[string][]float64
}

// ReadJHU parses a time_series_covid19_*_global.csv stream. Blank cells
// count as zero.
func ReadJHU(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	t := &Table{Countries: make(map[string][]float64)}
	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("read line %d", line), err)
		}
		if len(row) == 0 {
			continue
		}

		if strings.TrimPrefix(row[0], "\ufeff") == jhuHeaderMarker {
			if len(row) <= jhuFirstDateCol {
				return nil, apperrors.NewParsingError("header has no date columns", nil)
			}
			t.Dates = make([]time.Time, 0, len(row)-jhuFirstDateCol)
			for _, cell := range row[jhuFirstDateCol:] {
				d, err := ParseDate(cell)
				if err != nil {
					return nil, err
				}
				t.Dates = append(t.Dates, d)
			}
			continue
		}

		if t.Dates == nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("line %d precedes the header", line), nil)
		}
		if len(row) != jhuFirstDateCol+len(t.Dates) {
			return nil, apperrors.NewDataAlignmentError(
				fmt.Sprintf("line %d has %d columns, header has %d", line, len(row), jhuFirstDateCol+len(t.Dates)), nil)
		}

		country := strings.TrimSpace(row[jhuCountryCol])
		sums, ok := t.Countries[country]
		if !ok {
			sums = make([]float64, len(t.Dates))
			t.Countries[country] = sums
		}
		for i, cell := range row[jhuFirstDateCol:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, apperrors.NewParsingError(fmt.Sprintf("line %d column %d", line, i+jhuFirstDateCol), err)
			}
			sums[i] += v
		}
	}

	if t.Dates == nil {
		return nil, apperrors.NewParsingError("missing "+jhuHeaderMarker+" header", nil)
	}
	return t, nil
}

// ReadJHUFile opens and parses a CSSE time-series file.
func ReadJHUFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewStorageError("open "+path, err)
	}
	defer f.Close()
	return ReadJHU(f)
}

// Country returns the counts for one country.
func (t *Table) Country(name string) ([]float64, error) {
	v, ok := t.Countries[name]
	if !ok {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("no time series for country %q", name), nil)
	}
	return v, nil
}

// Combine builds the Series of one country from a deaths and a cases table.
// The two tables must share the same date axis.
func Combine(country string, deaths, cases *Table) (*Series, error) {
	if len(deaths.Dates) != len(cases.Dates) {
		return nil, apperrors.NewDataAlignmentError(
			fmt.Sprintf("deaths have %d dates, cases have %d", len(deaths.Dates), len(cases.Dates)), nil)
	}
	for i := range deaths.Dates {
		if !deaths.Dates[i].Equal(cases.Dates[i]) {
			return nil, apperrors.NewDataAlignmentError(
				fmt.Sprintf("date %d differs: deaths %s, cases %s", i,
					deaths.Dates[i].Format(DateLayout), cases.Dates[i].Format(DateLayout)), nil)
		}
	}
	d, err := deaths.Country(country)
	if err != nil {
		return nil, err
	}
	c, err := cases.Country(country)
	if err != nil {
		return nil, err
	}

	s := &Series{
		Country: country,
		Dates:   append([]time.Time(nil), deaths.Dates...),
		Deaths:  append([]float64(nil), d...),
		Cases:   append([]float64(nil), c...),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
