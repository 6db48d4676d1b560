package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
)

// minPyramidRows is the number of five-year rows up to 85-89.
const minPyramidRows = 2 * epidemic.Bins

// Pyramid is a population by ten-year age bin.
type Pyramid struct {
	Country string
	Counts  epidemic.Vector
}

// Total returns the population.
func (p *Pyramid) Total() float64 {
	return p.Counts.Sum()
}

// Weights returns the population share of each bin.
func (p *Pyramid) Weights() epidemic.Vector {
	total := p.Total()
	if total == 0 {
		return epidemic.Vector{}
	}
	return p.Counts.Scale(1 / total)
}

// pyramidFromRows folds five-year rows of [age, male, female] into ten-year
// bins. Every row from 80-84 on, including 100+, goes to the last bin.
func pyramidFromRows(country string, rows [][]string) (*Pyramid, error) {
	var fives []float64
	for i, row := range rows {
		if len(row) == 0 || strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff")), "age") {
			continue
		}
		if len(row) < 3 {
			return nil, apperrors.NewParsingError(fmt.Sprintf("pyramid row %d has %d columns, want 3", i+1, len(row)), nil)
		}
		var total float64
		for _, cell := range row[1:3] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil || v < 0 {
				return nil, apperrors.NewParsingError(fmt.Sprintf("pyramid row %d: invalid count %q", i+1, cell), err)
			}
			total += v
		}
		fives = append(fives, total)
	}
	if len(fives) < minPyramidRows {
		return nil, apperrors.NewParsingError(
			fmt.Sprintf("pyramid has %d age rows, want at least %d", len(fives), minPyramidRows), nil)
	}

	p := &Pyramid{Country: country}
	for i, v := range fives {
		bin := i / 2
		if bin >= epidemic.Bins {
			bin = epidemic.Bins - 1
		}
		p.Counts[bin] += v
	}
	if p.Total() <= 0 {
		return nil, apperrors.NewParsingError("pyramid population is zero", nil)
	}
	return p, nil
}

// ReadPyramidCSV parses an "Age,M,F" population pyramid.
func ReadPyramidCSV(country string, r io.Reader) (*Pyramid, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewParsingError("read pyramid csv", err)
		}
		rows = append(rows, row)
	}
	return pyramidFromRows(country, rows)
}

// ReadPyramidXLSX parses the same layout from the first sheet of a workbook.
func ReadPyramidXLSX(country string, r io.Reader) (*Pyramid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.NewParsingError("open pyramid workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewParsingError("pyramid workbook has no sheets", nil)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.NewParsingError("read pyramid sheet "+sheets[0], err)
	}
	return pyramidFromRows(country, rows)
}

// LoadPyramid reads <dir>/<file>.csv, falling back to .xlsx with the same
// base name.
func LoadPyramid(dir string, profile Profile) (*Pyramid, error) {
	base := strings.TrimSuffix(profile.PyramidFile(), filepath.Ext(profile.PyramidFile()))
	for _, ext := range []string{".csv", ".xlsx"} {
		path := filepath.Join(dir, base+ext)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, apperrors.NewStorageError("open "+path, err)
		}
		defer f.Close()
		if ext == ".xlsx" {
			return ReadPyramidXLSX(profile.Name, f)
		}
		return ReadPyramidCSV(profile.Name, f)
	}
	return nil, apperrors.NewConfigurationError(
		fmt.Sprintf("no population pyramid for %s in %s", profile.Name, dir), nil)
}
