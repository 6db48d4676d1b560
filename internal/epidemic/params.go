package epidemic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	apperrors "covidseir/internal/errors"
)

// Bins is the number of age bins.
const Bins = 9

// Vector holds one value per age bin.
type Vector [Bins]float64

// Sum returns the sum over bins.
func (v Vector) Sum() float64 {
	return floats.Sum(v[:])
}

// Dot returns the bin-wise product summed over bins.
func (v Vector) Dot(w Vector) float64 {
	return floats.Dot(v[:], w[:])
}

// Scale returns v multiplied by c.
func (v Vector) Scale(c float64) Vector {
	out := v
	floats.Scale(c, out[:])
	return out
}

// VectorFrom copies a slice of exactly Bins values.
func VectorFrom(values []float64) (Vector, error) {
	var v Vector
	if len(values) != Bins {
		return v, fmt.Errorf("expected %d age bins, got %d", Bins, len(values))
	}
	copy(v[:], values)
	return v, nil
}

// Age-stratified severity tables, 0-9 through 80+.
var (
	DefaultFatality = Vector{
		0.00002, 0.00006, 0.0003, 0.0008, 0.0015, 0.006, 0.022, 0.051, 0.093,
	}
	DefaultHospitalization = Vector{
		0.001, 0.003, 0.012, 0.032, 0.049, 0.102, 0.166, 0.243, 0.273,
	}
	DefaultCriticalCare = Vector{
		0.05, 0.05, 0.05, 0.05, 0.063, 0.122, 0.274, 0.432, 0.709,
	}
)

// Timescales are the mean residence times of the model, in days.
type Timescales struct {
	Incubation      float64 // E -> A, I
	Infection       float64 // I -> Q
	Hospitalization float64 // I -> H, R and Q -> R
	Hospitalized    float64 // H -> R, F
	Death           float64 // A -> R, I; also the death reporting delay
}

// DefaultTimescales returns the timescales used when nothing overrides them.
func DefaultTimescales() Timescales {
	return Timescales{
		Incubation:      5.2,
		Infection:       2.9,
		Hospitalization: 5,
		Hospitalized:    10,
		Death:           14,
	}
}

// Parameters are immutable for the duration of a run.
type Parameters struct {
	Sigma float64 // 1/T_incubation
	Gamma float64 // 1/T_infection
	Xi    float64 // 1/T_hospitalization
	Eta   float64 // 1/T_hospitalized
	Theta float64 // 1/T_death

	// P is the symptomatic fraction of new infections and W the fraction of
	// asymptomatic cases that recover without developing symptoms.
	P float64
	W float64

	Fatality        Vector
	Hospitalization Vector
	CriticalCare    Vector

	Timescales Timescales
}

// NewParameters validates the inputs and derives the rates. Any missing,
// non-finite or out-of-range value is a configuration error.
func NewParameters(ts Timescales, p, w float64, fatality, hospitalization, criticalCare Vector) (*Parameters, error) {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"incubation", ts.Incubation},
		{"infection", ts.Infection},
		{"hospitalization", ts.Hospitalization},
		{"hospitalized", ts.Hospitalized},
		{"death", ts.Death},
	} {
		if !(f.value > 0) || math.IsInf(f.value, 0) {
			return nil, apperrors.NewConfigurationError(
				fmt.Sprintf("missing or invalid %s timescale %v", f.name, f.value), nil)
		}
	}
	if !unit(p) {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("symptomatic fraction %v outside [0, 1]", p), nil)
	}
	if !unit(w) {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("asymptomatic recovery fraction %v outside [0, 1]", w), nil)
	}
	for name, v := range map[string]Vector{
		"fatality":        fatality,
		"hospitalization": hospitalization,
		"critical care":   criticalCare,
	} {
		for i, x := range v {
			if !unit(x) {
				return nil, apperrors.NewConfigurationError(
					fmt.Sprintf("%s fraction %v in bin %d outside [0, 1]", name, x, i), nil)
			}
		}
	}

	return &Parameters{
		Sigma:           1 / ts.Incubation,
		Gamma:           1 / ts.Infection,
		Xi:              1 / ts.Hospitalization,
		Eta:             1 / ts.Hospitalized,
		Theta:           1 / ts.Death,
		P:               p,
		W:               w,
		Fatality:        fatality,
		Hospitalization: hospitalization,
		CriticalCare:    criticalCare,
		Timescales:      ts,
	}, nil
}

// DefaultParameters returns the default rates and severity tables.
func DefaultParameters() *Parameters {
	p, err := NewParameters(DefaultTimescales(), 0.6, 0.8, DefaultFatality, DefaultHospitalization, DefaultCriticalCare)
	if err != nil {
		panic(err)
	}
	return p
}

// FatalityRate is the fatality fraction weighted by the age pyramid.
func (p *Parameters) FatalityRate(weights Vector) float64 {
	total := weights.Sum()
	if total == 0 {
		return 0
	}
	return p.Fatality.Dot(weights) / total
}

// Rt returns the effective reproduction number for a transmission rate.
func (p *Parameters) Rt(beta float64) float64 {
	return beta / p.Gamma
}

func unit(x float64) bool {
	return x >= 0 && x <= 1
}
