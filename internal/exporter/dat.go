package exporter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"covidseir/internal/epidemic"
)

// datSeries lists the .dat outputs in file order. U is ICU demand.
var datSeries = []string{"S", "C", "E", "A", "I", "Q", "H", "U", "R"}

// DatRecorder writes one whitespace-separated file per compartment:
//
//	<step> <time> <dt> <Rt> <bin 0> ... <bin 8>
//
// with every number after the step in %E notation. Files are named
// <name>_<X>file.dat inside <dir>/<name>.
type DatRecorder struct {
	files   map[string]*os.File
	writers map[string]*bufio.Writer
	paths   []string
}

// NewDatRecorder creates the nine output files.
func NewDatRecorder(dir, name string) (*DatRecorder, error) {
	out := filepath.Join(dir, name)
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	r := &DatRecorder{
		files:   make(map[string]*os.File, len(datSeries)),
		writers: make(map[string]*bufio.Writer, len(datSeries)),
	}
	for _, s := range datSeries {
		path := filepath.Join(out, fmt.Sprintf("%s_%sfile.dat", name, s))
		f, err := os.Create(path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		r.files[s] = f
		r.writers[s] = bufio.NewWriter(f)
		r.paths = append(r.paths, path)
	}
	return r, nil
}

// Record implements epidemic.Recorder.
func (r *DatRecorder) Record(f epidemic.Frame) error {
	for _, s := range datSeries {
		var values epidemic.Vector
		if s == "U" {
			values = f.ICU
		} else {
			c, err := epidemic.ParseCompartment(s)
			if err != nil {
				return err
			}
			values = f.Values[c]
		}
		if _, err := r.writers[s].WriteString(DatLine(f.Step, f.Time, f.Dt, f.Rt, values)); err != nil {
			return err
		}
	}
	return nil
}

// DatLine renders one line of a .dat file, newline included.
func DatLine(step int, t, dt, rt float64, values epidemic.Vector) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s %s %s", step, formatDat(t), formatDat(dt), formatDat(rt))
	for _, v := range values {
		b.WriteString(" ")
		b.WriteString(formatDat(v))
	}
	b.WriteString("\n")
	return b.String()
}

// Close flushes and closes every file, returning the first error.
func (r *DatRecorder) Close() error {
	var first error
	for _, s := range datSeries {
		if w, ok := r.writers[s]; ok {
			if err := w.Flush(); err != nil && first == nil {
				first = err
			}
		}
		if f, ok := r.files[s]; ok {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Files lists the paths written.
func (r *DatRecorder) Files() []string { return append([]string(nil), r.paths...) }
