package exporter

import (
	"fmt"
	"strconv"
)

// formatFloat formats a model value for CSV output. Fractions span many
// orders of magnitude, so the shortest exact representation is used.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// formatCount formats a population count rounded to whole people.
func formatCount(f float64) string {
	return fmt.Sprintf("%.0f", f)
}

// formatDat formats a value the way the .dat files carry them.
func formatDat(f float64) string {
	return fmt.Sprintf("%E", f)
}
