package epidemic

// Peak is the maximum of a trajectory quantity and the time it occurred.
type Peak struct {
	Value float64 `json:"value"`
	Time  float64 `json:"time"`
}

// Summary condenses a run. Fractions are of the total population; counts
// are fractions scaled by the population.
type Summary struct {
	Population float64 `json:"population"`

	PeakInfectedFraction Peak `json:"peak_infected_fraction"`
	PeakSymptomatic      Peak `json:"peak_symptomatic"`
	PeakAsymptomatic     Peak `json:"peak_asymptomatic"`
	PeakHospitalized     Peak `json:"peak_hospitalized"`
	PeakICU              Peak `json:"peak_icu"`

	TotalFatalities float64 `json:"total_fatalities"`
	// ProjectedFatalities applies the fatality table to everyone who left
	// Susceptible and Confined, including cases not yet resolved.
	ProjectedFatalities float64 `json:"projected_fatalities"`
	EverInfected        float64 `json:"ever_infected"`
	FinalRt             float64 `json:"final_rt"`

	ICUCapacity float64 `json:"icu_capacity,omitempty"`
	ICUExceeded bool    `json:"icu_exceeded"`
}

// Summarize scans the trajectory for peaks and reads the totals at the end
// from the final state.
func Summarize(trajectory []Record, final *State, p *Parameters, population float64) Summary {
	s := Summary{Population: population}

	for _, r := range trajectory {
		track(&s.PeakInfectedFraction, r.Totals.Infectious(), r.Time)
		track(&s.PeakSymptomatic, r.Totals[Symptomatic]*population, r.Time)
		track(&s.PeakAsymptomatic, r.Totals[Asymptomatic]*population, r.Time)
		track(&s.PeakHospitalized, r.Totals[Hospitalized]*population, r.Time)
		track(&s.PeakICU, r.ICU*population, r.Time)
	}
	if n := len(trajectory); n > 0 {
		s.FinalRt = trajectory[n-1].Rt
	}

	if final != nil {
		s.TotalFatalities = final.X[Fatalities].Sum() * population
		s.ProjectedFatalities = final.ProjectedDeaths(p).Sum() * population
		s.EverInfected = (final.Weights.Sum() - final.X[Susceptible].Sum() - final.X[Confined].Sum()) * population
	}
	return s
}

func track(pk *Peak, v, t float64) {
	if v > pk.Value {
		pk.Value = v
		pk.Time = t
	}
}

// WithICUCapacity compares the ICU peak against a bed density per 100k.
func (s Summary) WithICUCapacity(bedsPer100k float64) Summary {
	s.ICUCapacity = bedsPer100k / 1e5 * s.Population
	s.ICUExceeded = s.PeakICU.Value > s.ICUCapacity
	return s
}
