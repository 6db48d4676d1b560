package epidemic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	apperrors "covidseir/internal/errors"
)

// History is the observed mortality used for calibration. Times are in model
// days on the same axis as the simulation.
type History struct {
	Times  []float64
	Deaths []float64 // cumulative deaths as a fraction of the population
	Rate   []float64 // dDeaths/dt

	rate interp.PiecewiseLinear
}

// NewHistory normalizes cumulative deaths by population and differentiates
// them on the time axis. Times must be strictly ascending and match deaths
// in length.
func NewHistory(times, deaths []float64, population float64) (*History, error) {
	if len(times) != len(deaths) {
		return nil, apperrors.NewDataAlignmentError(
			fmt.Sprintf("history has %d times but %d death counts", len(times), len(deaths)), nil)
	}
	if len(times) < 2 {
		return nil, apperrors.NewDataAlignmentError(
			fmt.Sprintf("history needs at least 2 samples, got %d", len(times)), nil)
	}
	if !(population > 0) {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid population %v", population), nil)
	}
	for i := 1; i < len(times); i++ {
		if !(times[i] > times[i-1]) {
			return nil, apperrors.NewDataAlignmentError(
				fmt.Sprintf("history times not strictly ascending at index %d (%v after %v)", i, times[i], times[i-1]), nil)
		}
	}

	h := &History{
		Times:  append([]float64(nil), times...),
		Deaths: make([]float64, len(deaths)),
	}
	for i, d := range deaths {
		h.Deaths[i] = d / population
	}
	h.Rate = Gradient(h.Deaths, h.Times)

	if err := h.rate.Fit(h.Times, h.Rate); err != nil {
		return nil, apperrors.NewDataAlignmentError("interpolate death rate", err)
	}
	return h, nil
}

// Start returns the first observation time.
func (h *History) Start() float64 { return h.Times[0] }

// End returns the last observation time.
func (h *History) End() float64 { return h.Times[len(h.Times)-1] }

// RateAt linearly interpolates the death rate. Times outside the observed
// range are a calibration range error.
func (h *History) RateAt(t float64) (float64, error) {
	if t < h.Start() || t > h.End() || math.IsNaN(t) {
		return 0, apperrors.NewCalibrationRangeError(t, h.Start(), h.End())
	}
	return h.rate.Predict(t), nil
}

// Gradient differentiates f sampled at ascending points x. Interior points
// use the second-order central difference for uneven spacing, the two ends
// use one-sided first differences.
func Gradient(f, x []float64) []float64 {
	n := len(f)
	g := make([]float64, n)
	if n < 2 {
		return g
	}
	g[0] = (f[1] - f[0]) / (x[1] - x[0])
	g[n-1] = (f[n-1] - f[n-2]) / (x[n-1] - x[n-2])
	for i := 1; i < n-1; i++ {
		hs := x[i] - x[i-1]
		hd := x[i+1] - x[i]
		g[i] = (hs*hs*f[i+1] + (hd*hd-hs*hs)*f[i] - hd*hd*f[i-1]) / (hs * hd * (hd + hs))
	}
	return g
}

// Estimator yields the transmission rate at each step.
//
// While the retarded time t + T_death is negative the rate is solved from
// the observed death rate at that later time: deaths observed then are
// attributed to infections happening now,
//
//	beta = dD/dt(t + T_death) / [(sum I + sum A) * sum_i mu_i S_i]
//
// From the first non-negative retarded time on, the last calibrated value is
// held. Without history, or before any calibration took place, the rate is
// R0 * gamma.
type Estimator struct {
	history  *History
	params   *Parameters
	delay    float64
	fallback float64

	last       float64
	calibrated bool
}

// NewEstimator returns an estimator for one run. history may be nil.
func NewEstimator(history *History, params *Parameters, r0 float64) *Estimator {
	return &Estimator{
		history:  history,
		params:   params,
		delay:    params.Timescales.Death,
		fallback: r0 * params.Gamma,
	}
}

// Calibrated reports whether any rate so far came from the death data.
func (e *Estimator) Calibrated() bool { return e.calibrated }

// Fallback returns the R0-derived rate used without calibration data.
func (e *Estimator) Fallback() float64 { return e.fallback }

// Projecting reports whether Beta at time t holds a value instead of
// calibrating against the death data.
func (e *Estimator) Projecting(t float64) bool {
	return e.history == nil || t+e.delay >= 0
}

// Beta returns the transmission rate at time t for the given state.
func (e *Estimator) Beta(t float64, s *State) (float64, error) {
	retarded := t + e.delay
	if e.Projecting(t) {
		if e.calibrated {
			return e.last, nil
		}
		return e.fallback, nil
	}

	rate, err := e.history.RateAt(retarded)
	if err != nil {
		return 0, err
	}

	infectious := s.X[Symptomatic].Sum() + s.X[Asymptomatic].Sum()
	lethal := e.params.Fatality.Dot(s.X[Susceptible])
	denom := infectious * lethal
	if !(denom > 0) {
		return e.fallback, nil
	}

	beta := rate / denom
	if beta < 0 || math.IsNaN(beta) {
		// Downward revisions of the cumulative count give a negative rate.
		beta = 0
	}
	e.last = beta
	e.calibrated = true
	return beta, nil
}
