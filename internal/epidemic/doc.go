// Package epidemic implements the age-stratified compartment model and its
// time integration.
//
// The population is split into nine age bins (0-9, 10-19, ..., 70-79, 80+).
// Every compartment is a Vector of population fractions, one entry per bin,
// and for each bin the compartments always sum to that bin's weight.
//
// The package contains five pieces that are assembled by a Simulation:
//
// Parameters: the per-run rates (inverse timescales), the per-bin fatality,
// hospitalization and critical care fractions, and the symptomatic and
// asymptomatic recovery fractions.
//
// State: the compartment vectors at one instant plus the integrator's
// accumulators. State.Derivative is the right-hand side of the ODE system:
//
//	dS = -lambda S - psi S + phi C
//	dC =  psi S - phi C
//	dE =  lambda S - sigma E
//	dA =  (1-p) sigma E - theta A
//	dI =  p sigma E + (1-w) theta A - (gamma + xi) I
//	dQ =  gamma I - xi Q
//	dH =  q xi I - eta H
//	dR =  w theta A + (1-q) xi I + xi Q + (1-mu) eta H
//	dF =  mu eta H
//
// Schedule: the lockdown (S to C) and release (C to S) events, each applied
// as a discrete Dirac impulse in the step whose interval contains the
// trigger time.
//
// Estimator: the transmission rate. Before the retarded time t + T_death
// reaches the last observation it is solved from the observed death rate;
// afterwards the last calibrated value is held.
//
// Integrator: the low-storage third-order Runge-Kutta scheme of Williamson
// with a step size tied to the fastest active rate.
//
// Example usage:
//
//	params, err := epidemic.NewParameters(epidemic.DefaultTimescales(), 0.6, 0.8,
//		epidemic.DefaultFatality, epidemic.DefaultHospitalization, epidemic.DefaultCriticalCare)
//	if err != nil {
//		return err
//	}
//	sim, err := epidemic.NewSimulation(epidemic.Options{
//		Weights:    weights,
//		Population: 60e6,
//		Params:     params,
//		Estimator:  epidemic.NewEstimator(history, params, 2.8),
//		Start:      -40,
//		Horizon:    60,
//		SeedDeaths: 1,
//		SeedBin:    4,
//	})
//	if err != nil {
//		return err
//	}
//	result, err := sim.Run(ctx, recorder)
package epidemic
