package dataset

import (
	"fmt"
	"strings"
	"time"

	apperrors "covidseir/internal/errors"
)

// DateLayout is the M/D/YY layout of the case data headers.
const DateLayout = "1/2/06"

// NoDate disables a lockdown or release date.
const NoDate = "none"

var dateLayouts = []string{DateLayout, "1/2/2006", "2006-01-02"}

// ParseDate accepts M/D/YY, M/D/YYYY and ISO dates, all in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return d, nil
		}
	}
	return time.Time{}, apperrors.NewParsingError(fmt.Sprintf("invalid date %q", s), nil)
}

// Days returns the signed number of days from origin to d.
func Days(d, origin time.Time) float64 {
	return d.Sub(origin).Hours() / 24
}

// IsNoDate reports whether s disables an event.
func IsNoDate(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, NoDate)
}
