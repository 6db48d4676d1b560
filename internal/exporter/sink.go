package exporter

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
)

// Format names an output kind.
type Format string

const (
	FormatDat  Format = "dat"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPNG  Format = "png"
)

// ParseFormats validates and de-duplicates format names.
func ParseFormats(names []string) ([]Format, error) {
	seen := make(map[Format]bool, len(names))
	var out []Format
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatDat, FormatCSV, FormatXLSX, FormatPNG:
		default:
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown output format %q", n), nil)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// MultiRecorder fans a frame out to every recorder in order and stops at the
// first error.
type MultiRecorder []epidemic.Recorder

// Record implements epidemic.Recorder.
func (m MultiRecorder) Record(f epidemic.Frame) error {
	for _, r := range m {
		if err := r.Record(f); err != nil {
			return err
		}
	}
	return nil
}

type streamRecorder interface {
	epidemic.Recorder
	Close() error
	Files() []string
}

// Sink writes the outputs of one run. Streaming formats (dat, csv) are fed
// step by step through Record; the rest are written from the Result in
// Finish.
type Sink struct {
	dir     string
	name    string
	formats []Format
	streams []streamRecorder
	closed  bool
	logger  *slog.Logger
}

// NewSink opens the streaming outputs for a run called name under dir.
func NewSink(dir, name string, formats []string, logger *slog.Logger) (*Sink, error) {
	parsed, err := ParseFormats(formats)
	if err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid run name %q", name), nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{dir: dir, name: name, formats: parsed, logger: logger}
	for _, f := range parsed {
		var rec streamRecorder
		switch f {
		case FormatDat:
			rec, err = NewDatRecorder(dir, name)
		case FormatCSV:
			rec, err = NewCSVRecorder(NewCSVWriter(dir), name)
		default:
			continue
		}
		if err != nil {
			s.Close()
			return nil, apperrors.NewStorageError(fmt.Sprintf("open %s output", f), err)
		}
		s.streams = append(s.streams, rec)
	}
	return s, nil
}

// Dir is the directory holding this run's files.
func (s *Sink) Dir() string { return filepath.Join(s.dir, s.name) }

// Record implements epidemic.Recorder.
func (s *Sink) Record(f epidemic.Frame) error {
	for _, r := range s.streams {
		if err := r.Record(f); err != nil {
			return err
		}
	}
	return nil
}

// Finish closes the streams, writes the result-based outputs and returns
// every file produced.
func (s *Sink) Finish(res *epidemic.Result) ([]string, error) {
	var files []string
	for _, r := range s.streams {
		files = append(files, r.Files()...)
	}
	if err := s.Close(); err != nil {
		return files, apperrors.NewStorageError("close outputs", err)
	}
	if res == nil {
		return files, nil
	}

	for _, f := range s.formats {
		switch f {
		case FormatCSV:
			path, err := WriteSummaryCSV(s.dir, s.name, res)
			if err != nil {
				return files, apperrors.NewStorageError("write summary", err)
			}
			files = append(files, path)
		case FormatXLSX:
			path, err := WriteWorkbook(s.dir, s.name, res)
			if err != nil {
				return files, apperrors.NewStorageError("write workbook", err)
			}
			files = append(files, path)
		case FormatPNG:
			paths, err := WriteCharts(s.dir, s.name, res.Trajectory)
			if err != nil {
				return files, apperrors.NewStorageError("write charts", err)
			}
			files = append(files, paths...)
		}
	}

	s.logger.Info("run outputs written",
		slog.String("run", s.name),
		slog.String("dir", s.Dir()),
		slog.Int("files", len(files)))
	return files, nil
}

// Close closes the streaming outputs. It is safe to call more than once.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for _, r := range s.streams {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WriteSummaryCSV writes the run summary as metric,value rows to
// <dir>/<name>/<name>_summary.csv. Peaks and totals are in people.
func WriteSummaryCSV(dir, name string, res *epidemic.Result) (string, error) {
	s := res.Summary
	records := [][]string{
		{"termination", string(res.Termination)},
		{"steps", strconv.Itoa(res.Steps)},
		{"calibrated", strconv.FormatBool(res.Calibrated)},
		{"population", formatCount(s.Population)},
		{"seed_fraction", formatFloat(res.SeedFraction)},
		{"peak_infected_fraction", formatFloat(s.PeakInfectedFraction.Value)},
		{"peak_infected_day", formatFloat(s.PeakInfectedFraction.Time)},
		{"peak_symptomatic", formatCount(s.PeakSymptomatic.Value)},
		{"peak_asymptomatic", formatCount(s.PeakAsymptomatic.Value)},
		{"peak_hospitalized", formatCount(s.PeakHospitalized.Value)},
		{"peak_icu", formatCount(s.PeakICU.Value)},
		{"total_fatalities", formatCount(s.TotalFatalities)},
		{"projected_fatalities", formatCount(s.ProjectedFatalities)},
		{"ever_infected", formatCount(s.EverInfected)},
		{"final_rt", formatFloat(s.FinalRt)},
	}
	if s.ICUCapacity > 0 {
		records = append(records,
			[]string{"icu_capacity", formatCount(s.ICUCapacity)},
			[]string{"icu_exceeded", strconv.FormatBool(s.ICUExceeded)})
	}

	w := NewCSVWriter(dir)
	rel := filepath.Join(name, name+"_summary.csv")
	if err := w.WriteSimpleCSV(rel, []string{"metric", "value"}, records); err != nil {
		return "", err
	}
	return w.resolvePath(rel), nil
}
