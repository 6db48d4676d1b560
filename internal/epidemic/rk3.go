package epidemic

import "math"

// Williamson low-storage RK3 coefficients.
var (
	rk3Alpha = [3]float64{0, -5.0 / 9.0, -153.0 / 128.0}
	rk3Beta  = [3]float64{1.0 / 3.0, 15.0 / 16.0, 8.0 / 15.0}
)

// DefaultDamping is the fraction of the fastest timescale used as step.
const DefaultDamping = 0.5

// Integrator advances a State with the low-storage third-order Runge-Kutta
// scheme. There is no error control; the step follows the fastest rate.
type Integrator struct {
	Damping float64
}

// StepSize returns Damping times the shortest timescale among the
// transmission rate and the model rates. A zero beta does not constrain it.
func (in Integrator) StepSize(p *Parameters, beta float64) float64 {
	c := in.Damping
	if c <= 0 {
		c = DefaultDamping
	}
	fastest := math.Max(math.Max(p.Sigma, p.Eta), math.Max(p.Theta, math.Max(p.Gamma, p.Xi)))
	if beta > fastest {
		fastest = beta
	}
	return c / fastest
}

// Step advances s by dt. beta and the impulses are held over the three
// stages; each stage evaluates the right-hand side at the state left by the
// previous one.
func (in Integrator) Step(s *State, p *Parameters, beta float64, psi, phi Vector, dt float64) {
	accTime := 0.0
	for k := 0; k < 3; k++ {
		derivative(&s.X, p, beta, &psi, &phi, &s.rhs)

		a, b := rk3Alpha[k], rk3Beta[k]*dt
		for c := 0; c < NumCompartments; c++ {
			for i := 0; i < Bins; i++ {
				s.acc[c][i] = a*s.acc[c][i] + s.rhs[c][i]
				s.X[c][i] += b * s.acc[c][i]
			}
		}
		accTime = a*accTime + 1
		s.Time += b * accTime
	}
}
