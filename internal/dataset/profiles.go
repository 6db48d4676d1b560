package dataset

import (
	"fmt"
	"sort"
	"strings"

	apperrors "covidseir/internal/errors"
)

// Profile describes one country as the simulator knows it.
type Profile struct {
	Name string `json:"name"`
	// Pyramid is the population file base name when it differs from
	// "<Name>-2019".
	Pyramid string `json:"pyramid,omitempty"`
	// Lockdown and Release are M/D/YY dates or "none".
	Lockdown       string  `json:"lockdown"`
	Release        string  `json:"release"`
	MedianAge      float64 `json:"median_age"`
	ICUBedsPer100k float64 `json:"icu_beds_per_100k"`
	// MinimumThreshold calibrates from the smallest reported death count
	// instead of the configured threshold.
	MinimumThreshold bool `json:"minimum_threshold,omitempty"`
}

// PyramidFile returns the population file name.
func (p Profile) PyramidFile() string {
	if p.Pyramid != "" {
		return p.Pyramid
	}
	return p.Name + "-2019.csv"
}

var profiles = []Profile{
	{Name: "China", Lockdown: "1/23/20", Release: NoDate, MedianAge: 38.4, ICUBedsPer100k: 3.6, MinimumThreshold: true},
	{Name: "Korea, South", Pyramid: "SKorea-2019.csv", Lockdown: "2/18/20", Release: NoDate, MedianAge: 40.8, ICUBedsPer100k: 10.6},
	{Name: "Iran", Lockdown: "2/22/20", Release: NoDate, MedianAge: 32, ICUBedsPer100k: 5.3},
	{Name: "Italy", Lockdown: "3/09/20", Release: NoDate, MedianAge: 47.3, ICUBedsPer100k: 12.5},
	{Name: "Denmark", Lockdown: "3/11/20", Release: NoDate, MedianAge: 41.6, ICUBedsPer100k: 6.7},
	{Name: "Norway", Lockdown: "3/12/20", Release: NoDate, MedianAge: 39.2, ICUBedsPer100k: 8},
	{Name: "Poland", Lockdown: "3/13/20", Release: NoDate, MedianAge: 39.7, ICUBedsPer100k: 6.9},
	{Name: "Spain", Lockdown: "3/14/20", Release: NoDate, MedianAge: 43.1, ICUBedsPer100k: 9.7},
	{Name: "US", Lockdown: "3/19/20", Release: NoDate, MedianAge: 38.2, ICUBedsPer100k: 34.7},
	{Name: "Sweden", Lockdown: NoDate, Release: NoDate, MedianAge: 40.9, ICUBedsPer100k: 5.8},
	{Name: "Brazil", Lockdown: "3/24/20", Release: NoDate, MedianAge: 31.4, ICUBedsPer100k: 18},
	{Name: "Tunisia", Lockdown: "3/22/20", Release: NoDate, MedianAge: 31.3, ICUBedsPer100k: 2.72},
	{Name: "Germany", Lockdown: NoDate, Release: NoDate, MedianAge: 45.9, ICUBedsPer100k: 29.2},
	{Name: "Japan", Lockdown: NoDate, Release: NoDate, MedianAge: 47.3, ICUBedsPer100k: 7.3},
	{Name: "France", Lockdown: NoDate, Release: NoDate, MedianAge: 41.2, ICUBedsPer100k: 11.6},
	{Name: "Ireland", Lockdown: NoDate, Release: NoDate, MedianAge: 36.5, ICUBedsPer100k: 6.5},
	{Name: "Uruguay", Lockdown: NoDate, Release: NoDate, MedianAge: 34.9, ICUBedsPer100k: 6},
	{Name: "Chile", Lockdown: NoDate, Release: NoDate, MedianAge: 33.8, ICUBedsPer100k: 6},
	{Name: "India", Lockdown: NoDate, Release: NoDate, MedianAge: 26.8, ICUBedsPer100k: 5.2},
	{Name: "United Kingdom", Pyramid: "UK-2019.csv", Lockdown: NoDate, Release: NoDate, MedianAge: 26.8, ICUBedsPer100k: 6.6},
	{Name: "Switzerland", Lockdown: NoDate, Release: NoDate, MedianAge: 26.8, ICUBedsPer100k: 11},
}

// Lookup finds a profile by name, ignoring case.
func Lookup(name string) (Profile, error) {
	for _, p := range profiles {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return Profile{}, apperrors.NewConfigurationError(fmt.Sprintf("unknown country profile %q", name), nil)
}

// Profiles returns every profile sorted by name.
func Profiles() []Profile {
	out := append([]Profile(nil), profiles...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
