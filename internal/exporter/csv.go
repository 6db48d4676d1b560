package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"covidseir/internal/epidemic"
)

// CSVWriter provides CSV export functionality rooted at a base directory
type CSVWriter struct {
	baseDir string
}

// NewCSVWriter creates a new CSV writer instance. Relative paths are
// resolved against baseDir.
func NewCSVWriter(baseDir string) *CSVWriter {
	return &CSVWriter{baseDir: baseDir}
}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	Append    bool
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// WriteCSV writes data to a CSV file with the given options
func (w *CSVWriter) WriteCSV(filePath string, options WriteOptions) error {
	fullPath := w.resolvePath(filePath)

	slog.Debug("Writing CSV file",
		slog.String("file_path", filePath),
		slog.String("full_path", fullPath),
		slog.Int("record_count", len(options.Records)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if options.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(fullPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if options.BOMPrefix && !options.Append {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if !options.Append && len(options.Headers) > 0 {
		if err := writer.Write(options.Headers); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}

	for i, record := range options.Records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSimpleCSV writes a simple CSV file with headers and records
func (w *CSVWriter) WriteSimpleCSV(filePath string, headers []string, records [][]string) error {
	return w.WriteCSV(filePath, WriteOptions{
		Headers:   headers,
		Records:   records,
		BOMPrefix: true,
	})
}

// StreamWriter provides streaming CSV writing for long trajectories
type StreamWriter struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// CreateStreamWriter creates a new streaming CSV writer
func (w *CSVWriter) CreateStreamWriter(filePath string, headers []string) (*StreamWriter, error) {
	fullPath := w.resolvePath(filePath)

	slog.Debug("Creating CSV stream writer",
		slog.String("file_path", filePath),
		slog.String("full_path", fullPath),
		slog.Int("header_count", len(headers)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	writer := csv.NewWriter(file)
	if len(headers) > 0 {
		if err := writer.Write(headers); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}

	return &StreamWriter{path: fullPath, file: file, writer: writer}, nil
}

// WriteRecord writes a single record to the stream
func (s *StreamWriter) WriteRecord(record []string) error {
	return s.writer.Write(record)
}

// Path returns the file being written.
func (s *StreamWriter) Path() string { return s.path }

// Close flushes and closes the stream writer
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) || w.baseDir == "" {
		return filePath
	}
	return filepath.Join(w.baseDir, filePath)
}

// binHeaders names the age-bin columns.
var binHeaders = []string{
	"age_0_9", "age_10_19", "age_20_29", "age_30_39", "age_40_49",
	"age_50_59", "age_60_69", "age_70_79", "age_80_plus",
}

// TrajectoryHeaders is the header of the long-form trajectory CSV.
func TrajectoryHeaders() []string {
	return append([]string{"step", "time", "dt", "rt", "compartment"}, binHeaders...)
}

// CSVRecorder streams every step as one row per compartment plus one for
// ICU demand.
type CSVRecorder struct {
	stream *StreamWriter
}

// NewCSVRecorder creates <dir>/<name>_trajectory.csv.
func NewCSVRecorder(w *CSVWriter, name string) (*CSVRecorder, error) {
	stream, err := w.CreateStreamWriter(filepath.Join(name, name+"_trajectory.csv"), TrajectoryHeaders())
	if err != nil {
		return nil, err
	}
	return &CSVRecorder{stream: stream}, nil
}

// Record implements epidemic.Recorder.
func (r *CSVRecorder) Record(f epidemic.Frame) error {
	prefix := []string{
		strconv.Itoa(f.Step),
		formatFloat(f.Time),
		formatFloat(f.Dt),
		formatFloat(f.Rt),
	}
	for _, c := range epidemic.AllCompartments() {
		if err := r.stream.WriteRecord(binRow(prefix, c.Symbol(), f.Values[c])); err != nil {
			return err
		}
	}
	return r.stream.WriteRecord(binRow(prefix, "U", f.ICU))
}

// Close flushes the file.
func (r *CSVRecorder) Close() error { return r.stream.Close() }

// Files lists the file written.
func (r *CSVRecorder) Files() []string { return []string{r.stream.Path()} }

func binRow(prefix []string, symbol string, v epidemic.Vector) []string {
	row := make([]string, 0, len(prefix)+1+epidemic.Bins)
	row = append(row, prefix...)
	row = append(row, symbol)
	for _, x := range v {
		row = append(row, formatFloat(x))
	}
	return row
}
