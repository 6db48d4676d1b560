package dataset

import (
	"fmt"
	"math"
	"time"

	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
)

// Series is the cumulative case and death history of one country.
type Series struct {
	Country string
	Dates   []time.Time
	Cases   []float64
	Deaths  []float64
}

// Validate checks that all columns have the same length and the dates are
// strictly ascending.
func (s *Series) Validate() error {
	n := len(s.Dates)
	if n == 0 {
		return apperrors.NewDataAlignmentError(fmt.Sprintf("%s: empty series", s.Country), nil)
	}
	if len(s.Cases) != n || len(s.Deaths) != n {
		return apperrors.NewDataAlignmentError(
			fmt.Sprintf("%s: %d dates, %d case counts, %d death counts", s.Country, n, len(s.Cases), len(s.Deaths)), nil)
	}
	for i := 1; i < n; i++ {
		if !s.Dates[i].After(s.Dates[i-1]) {
			return apperrors.NewDataAlignmentError(
				fmt.Sprintf("%s: date %s does not follow %s", s.Country,
					s.Dates[i].Format(DateLayout), s.Dates[i-1].Format(DateLayout)), nil)
		}
	}
	return nil
}

// Origin is the last date; model time zero.
func (s *Series) Origin() time.Time {
	return s.Dates[len(s.Dates)-1]
}

// TimeOf converts a date to model time.
func (s *Series) TimeOf(d time.Time) float64 {
	return Days(d, s.Origin())
}

// Times returns model time for every date.
func (s *Series) Times() []float64 {
	out := make([]float64, len(s.Dates))
	for i, d := range s.Dates {
		out[i] = s.TimeOf(d)
	}
	return out
}

// EventTime converts a profile or override date to model time. "none" and
// the empty string give epidemic.Never.
func (s *Series) EventTime(date string) (float64, error) {
	if IsNoDate(date) {
		return epidemic.Never, nil
	}
	d, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return s.TimeOf(d), nil
}

// ThresholdIndex returns the first index whose cumulative deaths reach
// threshold, or 0 when none does.
func (s *Series) ThresholdIndex(threshold float64) int {
	for i, d := range s.Deaths {
		if d >= threshold {
			return i
		}
	}
	return 0
}

// MinDeaths returns the smallest cumulative death count.
func (s *Series) MinDeaths() float64 {
	m := math.Inf(1)
	for _, d := range s.Deaths {
		m = math.Min(m, d)
	}
	return m
}

// History builds the calibration history from index from onwards.
func (s *Series) History(from int, population float64) (*epidemic.History, error) {
	if from < 0 || from >= len(s.Dates) {
		return nil, apperrors.NewDataAlignmentError(fmt.Sprintf("%s: start index %d out of range", s.Country, from), nil)
	}
	return epidemic.NewHistory(s.Times()[from:], s.Deaths[from:], population)
}

// DoublingTime returns ln 2 over the logarithmic growth rate of cumulative
// cases at every date. Dates where cases did not grow report 0.
func (s *Series) DoublingTime() []float64 {
	logCases := make([]float64, len(s.Cases))
	for i, c := range s.Cases {
		logCases[i] = math.Log(c + 1e-10)
	}
	slope := epidemic.Gradient(logCases, s.Times())

	out := make([]float64, len(slope))
	for i, k := range slope {
		if k != 0 {
			out[i] = math.Ln2 / k
		}
	}
	return out
}

// LatestDoublingTime is the doubling time at the last date.
func (s *Series) LatestDoublingTime() float64 {
	dt := s.DoublingTime()
	if len(dt) == 0 {
		return 0
	}
	return dt[len(dt)-1]
}
