package epidemic

import (
	"fmt"
	"math"
	"strings"

	apperrors "covidseir/internal/errors"
)

// Compartment identifies one of the disjoint population categories.
type Compartment int

const (
	Susceptible Compartment = iota
	Confined
	Exposed
	Asymptomatic
	Symptomatic
	Quarantined
	Hospitalized
	Removed
	Fatalities

	NumCompartments int = iota
)

var compartmentNames = [NumCompartments]string{
	"susceptible", "confined", "exposed", "asymptomatic", "symptomatic",
	"quarantined", "hospitalized", "removed", "fatalities",
}

var compartmentSymbols = [NumCompartments]string{"S", "C", "E", "A", "I", "Q", "H", "R", "F"}

// AllCompartments lists the compartments in state order.
func AllCompartments() []Compartment {
	out := make([]Compartment, NumCompartments)
	for i := range out {
		out[i] = Compartment(i)
	}
	return out
}

func (c Compartment) String() string {
	if c < 0 || int(c) >= NumCompartments {
		return fmt.Sprintf("compartment(%d)", int(c))
	}
	return compartmentNames[c]
}

// Symbol returns the one-letter name used in output files.
func (c Compartment) Symbol() string {
	if c < 0 || int(c) >= NumCompartments {
		return "?"
	}
	return compartmentSymbols[c]
}

// ParseCompartment accepts either the full name or the symbol.
func ParseCompartment(s string) (Compartment, error) {
	s = strings.TrimSpace(s)
	for i := 0; i < NumCompartments; i++ {
		if strings.EqualFold(s, compartmentNames[i]) || strings.EqualFold(s, compartmentSymbols[i]) {
			return Compartment(i), nil
		}
	}
	return 0, apperrors.NewConfigurationError(fmt.Sprintf("unknown compartment %q", s), nil)
}

// Compartments holds every compartment vector in state order.
type Compartments [NumCompartments]Vector

// Aggregate holds each compartment summed over age bins.
type Aggregate [NumCompartments]float64

// Of returns the total of one compartment.
func (a Aggregate) Of(c Compartment) float64 { return a[c] }

// Infectious returns the symptomatic plus asymptomatic total.
func (a Aggregate) Infectious() float64 { return a[Symptomatic] + a[Asymptomatic] }

// Snapshot is an immutable copy of the state at one instant.
type Snapshot struct {
	Time   float64
	Values Compartments
}

// State is the mutable model state of a single run. It is created once,
// seeded, and advanced in place by the Integrator.
type State struct {
	Time    float64
	Weights Vector
	X       Compartments

	acc Compartments
	rhs Compartments
}

// weightTolerance bounds how far the age weights may sum from 1.
const weightTolerance = 1e-6

// NewState places the whole population in Susceptible.
func NewState(weights Vector) (*State, error) {
	for i, w := range weights {
		if !(w >= 0) || math.IsInf(w, 0) {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid weight %v for age bin %d", w, i), nil)
		}
	}
	if sum := weights.Sum(); math.Abs(sum-1) > weightTolerance {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("age weights sum to %v, want 1", sum), nil)
	}
	s := &State{Weights: weights}
	s.X[Susceptible] = weights
	return s, nil
}

// Seed moves fraction of bin from Susceptible into compartment c.
func (s *State) Seed(bin int, c Compartment, fraction float64) error {
	if bin < 0 || bin >= Bins {
		return apperrors.NewConfigurationError(fmt.Sprintf("seed bin %d out of range", bin), nil)
	}
	if c == Susceptible || int(c) >= NumCompartments || c < 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("cannot seed into %s", c), nil)
	}
	if !(fraction >= 0) || fraction > s.X[Susceptible][bin] {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("seed fraction %v exceeds susceptible weight %v of bin %d", fraction, s.X[Susceptible][bin], bin), nil)
	}
	s.X[Susceptible][bin] -= fraction
	s.X[c][bin] += fraction
	return nil
}

// Derivative evaluates the right-hand side at the current values into out.
// It reads only s.X and has no side effects. psi and phi are the lockdown
// and release impulse rates of this step.
func (s *State) Derivative(p *Parameters, beta float64, psi, phi *Vector, out *Compartments) {
	derivative(&s.X, p, beta, psi, phi, out)
}

func derivative(x *Compartments, p *Parameters, beta float64, psi, phi *Vector, out *Compartments) {
	// Contacts are not age-assortative: each bin's prevalence (I+A)/n is
	// weighted by its contact share n, leaving the plain sum of fractions.
	lambda := beta * (x[Symptomatic].Sum() + x[Asymptomatic].Sum())

	for i := 0; i < Bins; i++ {
		S, C, E := x[Susceptible][i], x[Confined][i], x[Exposed][i]
		A, I, Q, H := x[Asymptomatic][i], x[Symptomatic][i], x[Quarantined][i], x[Hospitalized][i]
		mu, q := p.Fatality[i], p.Hospitalization[i]

		infection := lambda * S
		lockdown := psi[i] * S
		release := phi[i] * C
		incubation := p.Sigma * E
		resolution := p.Theta * A
		quarantine := p.Gamma * I
		progression := p.Xi * I
		quarantineEnd := p.Xi * Q
		discharge := p.Eta * H

		out[Susceptible][i] = -infection - lockdown + release
		out[Confined][i] = lockdown - release
		out[Exposed][i] = infection - incubation
		out[Asymptomatic][i] = (1-p.P)*incubation - resolution
		out[Symptomatic][i] = p.P*incubation + (1-p.W)*resolution - quarantine - progression
		out[Quarantined][i] = quarantine - quarantineEnd
		out[Hospitalized][i] = q*progression - discharge
		out[Removed][i] = p.W*resolution + (1-q)*progression + quarantineEnd + (1-mu)*discharge
		out[Fatalities][i] = mu * discharge
	}
}

// Totals sums every compartment over the age bins.
func (s *State) Totals() Aggregate {
	var a Aggregate
	for c := range s.X {
		a[c] = s.X[c].Sum()
	}
	return a
}

// ICU returns the per-bin intensive care demand derived from Hospitalized.
func (s *State) ICU(p *Parameters) Vector {
	var u Vector
	for i := range u {
		u[i] = p.CriticalCare[i] * s.X[Hospitalized][i]
	}
	return u
}

// ProjectedDeaths returns the per-bin fatalities implied by everyone who has
// left Susceptible and Confined, mu * (n - S - C).
func (s *State) ProjectedDeaths(p *Parameters) Vector {
	var d Vector
	for i := range d {
		d[i] = p.Fatality[i] * (s.Weights[i] - s.X[Susceptible][i] - s.X[Confined][i])
	}
	return d
}

// Snapshot copies the current values.
func (s *State) Snapshot() Snapshot {
	return Snapshot{Time: s.Time, Values: s.X}
}

// Check verifies that no value is negative or non-finite and that every
// bin still sums to its weight, both within the relative tolerance tol.
func (s *State) Check(step int, tol float64) error {
	for i := 0; i < Bins; i++ {
		n := s.Weights[i]
		floor := -tol * math.Max(n, tol)
		var sum float64
		for c := 0; c < NumCompartments; c++ {
			v := s.X[c][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return apperrors.NewNumericalInstabilityError(step, s.Time,
					fmt.Sprintf("%s in bin %d is not finite", Compartment(c), i))
			}
			if v < floor {
				return apperrors.NewNumericalInstabilityError(step, s.Time,
					fmt.Sprintf("%s in bin %d is negative (%g)", Compartment(c), i, v))
			}
			sum += v
		}
		if math.Abs(sum-n) > tol*math.Max(n, 1) {
			return apperrors.NewNumericalInstabilityError(step, s.Time,
				fmt.Sprintf("bin %d holds %.12g, want %.12g", i, sum, n))
		}
	}
	return nil
}
