package exporter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"covidseir/internal/epidemic"
)

const (
	summarySheet = "Summary"
	totalsSheet  = "Totals"
	finalSheet   = "Final"
)

// WriteWorkbook saves a run as <dir>/<name>/<name>.xlsx with three sheets:
// the run summary, compartment totals for every step, and the final state
// per age bin.
func WriteWorkbook(dir, name string, res *epidemic.Result) (string, error) {
	if res == nil {
		return "", fmt.Errorf("no result to export")
	}
	out := filepath.Join(dir, name)
	if err := os.MkdirAll(out, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return "", err
	}
	if err := writeSummarySheet(f, name, res); err != nil {
		return "", fmt.Errorf("summary sheet: %w", err)
	}
	if _, err := f.NewSheet(totalsSheet); err != nil {
		return "", err
	}
	if err := writeTotalsSheet(f, res.Trajectory); err != nil {
		return "", fmt.Errorf("totals sheet: %w", err)
	}
	if _, err := f.NewSheet(finalSheet); err != nil {
		return "", err
	}
	if err := writeFinalSheet(f, res.Final); err != nil {
		return "", fmt.Errorf("final sheet: %w", err)
	}

	path := filepath.Join(out, name+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	return path, nil
}

func writeSummarySheet(f *excelize.File, name string, res *epidemic.Result) error {
	s := res.Summary
	rows := [][]interface{}{
		{"Run", name},
		{"Termination", string(res.Termination)},
		{"Steps", res.Steps},
		{"Calibrated", res.Calibrated},
		{"Seed fraction", res.SeedFraction},
		{"Population", s.Population},
		{"Peak infected fraction", s.PeakInfectedFraction.Value},
		{"Peak infected day", s.PeakInfectedFraction.Time},
		{"Peak symptomatic", s.PeakSymptomatic.Value},
		{"Peak asymptomatic", s.PeakAsymptomatic.Value},
		{"Peak hospitalized", s.PeakHospitalized.Value},
		{"Peak ICU", s.PeakICU.Value},
		{"Total fatalities", s.TotalFatalities},
		{"Projected fatalities", s.ProjectedFatalities},
		{"Ever infected", s.EverInfected},
		{"Final Rt", s.FinalRt},
	}
	if s.ICUCapacity > 0 {
		rows = append(rows,
			[]interface{}{"ICU capacity", s.ICUCapacity},
			[]interface{}{"ICU exceeded", s.ICUExceeded})
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeTotalsSheet(f *excelize.File, trajectory []epidemic.Record) error {
	sw, err := f.NewStreamWriter(totalsSheet)
	if err != nil {
		return err
	}

	header := []interface{}{"step", "time", "dt", "beta", "rt"}
	for _, c := range epidemic.AllCompartments() {
		header = append(header, c.String())
	}
	header = append(header, "icu")
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, r := range trajectory {
		row := make([]interface{}, 0, len(header))
		row = append(row, r.Step, r.Time, r.Dt, r.Beta, r.Rt)
		for _, v := range r.Totals {
			row = append(row, v)
		}
		row = append(row, r.ICU)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writeFinalSheet(f *excelize.File, final epidemic.Snapshot) error {
	header := []interface{}{"compartment"}
	for _, h := range binHeaders {
		header = append(header, h)
	}
	if err := f.SetSheetRow(finalSheet, "A1", &header); err != nil {
		return err
	}
	for i, c := range epidemic.AllCompartments() {
		row := []interface{}{c.String()}
		for _, v := range final.Values[c] {
			row = append(row, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(finalSheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
