package epidemic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	apperrors "covidseir/internal/errors"
)

// Phase is the lifecycle position of a Simulation.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseStepping
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseStepping:
		return "stepping"
	case PhaseTerminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Termination tells why a run stopped.
type Termination string

const (
	TerminationHorizon      Termination = "horizon"
	TerminationIterationCap Termination = "iteration-cap"
	TerminationUnstable     Termination = "unstable"
	TerminationCancelled    Termination = "cancelled"
	TerminationFailed       Termination = "failed"
)

// SeedPolicy selects the compartment that receives the initial infection.
type SeedPolicy int

const (
	SeedSymptomatic SeedPolicy = iota
	SeedExposed
)

// Compartment returns the compartment seeded under the policy.
func (p SeedPolicy) Compartment() Compartment {
	if p == SeedExposed {
		return Exposed
	}
	return Symptomatic
}

// ParseSeedPolicy maps "symptomatic" and "exposed" to a policy.
func ParseSeedPolicy(s string) (SeedPolicy, error) {
	switch s {
	case "", "symptomatic":
		return SeedSymptomatic, nil
	case "exposed":
		return SeedExposed, nil
	}
	return 0, apperrors.NewConfigurationError(fmt.Sprintf("unknown seed compartment %q", s), nil)
}

const (
	DefaultMaxSteps  = 100000
	DefaultTolerance = 1e-9

	// cancelCheckEvery is how many steps run between context checks.
	cancelCheckEvery = 64
)

// Options configures one simulation run.
type Options struct {
	Weights    Vector
	Population float64
	Params     *Parameters
	Schedule   Schedule
	// Estimator supplies beta. When nil, a history-free estimator holding
	// R0 * gamma is used and R0 must be set.
	Estimator *Estimator
	R0        float64

	Start   float64
	Horizon float64

	// SeedDeaths is the observed death count at Start + T_death. The seed is
	// SeedDeaths/Population divided by the age-weighted fatality rate.
	SeedDeaths float64
	SeedBin    int
	SeedPolicy SeedPolicy

	Integrator Integrator
	MaxSteps   int
	Tolerance  float64

	Logger *slog.Logger
}

// Record is one row of the trajectory.
type Record struct {
	Step   int       `json:"step"`
	Time   float64   `json:"time"`
	Dt     float64   `json:"dt"`
	Beta   float64   `json:"beta"`
	Rt     float64   `json:"rt"`
	Totals Aggregate `json:"totals"`
	ICU    float64   `json:"icu"`
}

// Frame is what a Recorder receives after each step: the record plus the
// per-bin values of every compartment and of ICU demand.
type Frame struct {
	Record
	Values Compartments
	ICU    Vector
}

// Recorder consumes frames as the run progresses.
type Recorder interface {
	Record(Frame) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Frame) error

func (f RecorderFunc) Record(fr Frame) error { return f(fr) }

// Result is the outcome of a run. It is returned alongside any error so a
// failed run still exposes the trajectory up to the failure.
type Result struct {
	Trajectory   []Record
	Initial      Snapshot
	Final        Snapshot
	Steps        int
	Termination  Termination
	Calibrated   bool
	SeedFraction float64
	Elapsed      time.Duration
	Summary      Summary
}

// Simulation drives one run through Initializing, Stepping and Terminated.
type Simulation struct {
	opts  Options
	state *State
	phase Phase
	seed  float64

	logger *slog.Logger
}

// NewSimulation validates the options and seeds the initial state.
func NewSimulation(opts Options) (*Simulation, error) {
	if opts.Params == nil {
		return nil, apperrors.NewConfigurationError("missing model parameters", nil)
	}
	if !(opts.Population > 0) {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid population %v", opts.Population), nil)
	}
	if math.IsNaN(opts.Start) || math.IsNaN(opts.Horizon) || math.IsInf(opts.Horizon, 0) {
		return nil, apperrors.NewConfigurationError("start and horizon must be finite", nil)
	}
	if opts.Horizon < opts.Start {
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("horizon %v precedes start %v", opts.Horizon, opts.Start), nil)
	}
	if !(opts.SeedDeaths >= 0) {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("invalid seed death count %v", opts.SeedDeaths), nil)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Integrator.Damping <= 0 {
		opts.Integrator.Damping = DefaultDamping
	}
	if opts.Schedule == (Schedule{}) {
		opts.Schedule = NoInterventions()
	}
	if err := opts.Schedule.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	sim := &Simulation{
		opts:   opts,
		phase:  PhaseInitializing,
		logger: opts.Logger.With(slog.String("component", "simulation")),
	}

	state, err := NewState(opts.Weights)
	if err != nil {
		return nil, err
	}
	state.Time = opts.Start

	if opts.SeedDeaths > 0 {
		rate := opts.Params.FatalityRate(opts.Weights)
		if !(rate > 0) {
			return nil, apperrors.NewConfigurationError("age-weighted fatality rate is zero, cannot seed from deaths", nil)
		}
		sim.seed = (opts.SeedDeaths / opts.Population) / rate
		if err := state.Seed(opts.SeedBin, opts.SeedPolicy.Compartment(), sim.seed); err != nil {
			return nil, err
		}
	}
	if opts.Estimator == nil {
		if !(opts.R0 > 0) {
			return nil, apperrors.NewConfigurationError("missing transmission estimator and R0", nil)
		}
		sim.opts.Estimator = NewEstimator(nil, opts.Params, opts.R0)
	}

	sim.state = state
	return sim, nil
}

// Phase returns the current lifecycle phase.
func (s *Simulation) Phase() Phase { return s.phase }

// State exposes the live state. It must not be modified while Run is active.
func (s *Simulation) State() *State { return s.state }

// SeedFraction is the initial infected fraction placed in the seed bin.
func (s *Simulation) SeedFraction() float64 { return s.seed }

// Run integrates until the horizon, the iteration cap, a failed check or
// cancellation of ctx. rec may be nil.
func (s *Simulation) Run(ctx context.Context, rec Recorder) (*Result, error) {
	if s.phase != PhaseInitializing {
		return nil, apperrors.NewConflictError("simulation already ran")
	}
	started := time.Now()
	opts := s.opts
	p := opts.Params
	st := s.state

	result := &Result{
		Initial:      st.Snapshot(),
		SeedFraction: s.seed,
	}
	finish := func(reason Termination, err error) (*Result, error) {
		s.phase = PhaseTerminated
		result.Termination = reason
		result.Final = st.Snapshot()
		result.Calibrated = opts.Estimator.Calibrated()
		result.Elapsed = time.Since(started)
		result.Summary = Summarize(result.Trajectory, st, p, opts.Population)

		attrs := []any{
			slog.String("termination", string(reason)),
			slog.Int("steps", result.Steps),
			slog.Float64("time", st.Time),
			slog.Duration("elapsed", result.Elapsed),
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "simulation failed", append(attrs, slog.String("error", err.Error()))...)
		} else if reason == TerminationIterationCap {
			s.logger.WarnContext(ctx, "simulation hit iteration cap before horizon",
				append(attrs, slog.Float64("horizon", opts.Horizon))...)
		} else {
			s.logger.InfoContext(ctx, "simulation finished", attrs...)
		}
		return result, err
	}

	beta, err := opts.Estimator.Beta(st.Time, st)
	if err != nil {
		return finish(TerminationFailed, err)
	}
	dt := opts.Integrator.StepSize(p, beta)

	s.logger.InfoContext(ctx, "simulation started",
		slog.Float64("start", opts.Start),
		slog.Float64("horizon", opts.Horizon),
		slog.Float64("seed_fraction", s.seed),
		slog.Int("seed_bin", opts.SeedBin),
		slog.String("seed_compartment", opts.SeedPolicy.Compartment().String()),
		slog.Float64("initial_beta", beta),
		slog.Float64("initial_dt", dt))

	projecting := opts.Estimator.Projecting(st.Time)
	result.Trajectory = append(result.Trajectory, s.record(0, 0, beta))
	s.phase = PhaseStepping

	for step := 1; st.Time <= opts.Horizon; step++ {
		if step > opts.MaxSteps {
			return finish(TerminationIterationCap, nil)
		}
		if step%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return finish(TerminationCancelled, err)
			}
		}

		beta, err = opts.Estimator.Beta(st.Time, st)
		if err != nil {
			return finish(TerminationFailed, fmt.Errorf("step %d: %w", step, err))
		}
		if !projecting && opts.Estimator.Projecting(st.Time) {
			projecting = true
			s.logger.InfoContext(ctx, "calibration window ended, holding transmission rate",
				slog.Int("step", step),
				slog.Float64("time", st.Time),
				slog.Float64("beta", beta),
				slog.Bool("calibrated", opts.Estimator.Calibrated()))
		}

		// The step follows this step's beta so beta*dt never exceeds C.
		dt = opts.Integrator.StepSize(p, beta)
		psi, phi := opts.Schedule.Impulses(st.Time, dt)
		if opts.Schedule.Lockdown.Fires(st.Time+dt, st.Time) || opts.Schedule.Release.Fires(st.Time+dt, st.Time) {
			s.logger.InfoContext(ctx, "intervention applied",
				slog.Int("step", step),
				slog.Float64("time", st.Time),
				slog.Float64("lockdown_rate", psi.Sum()),
				slog.Float64("release_rate", phi.Sum()))
		}

		opts.Integrator.Step(st, p, beta, psi, phi, dt)
		result.Steps = step

		if err := st.Check(step, opts.Tolerance); err != nil {
			return finish(TerminationUnstable, err)
		}

		record := s.record(step, dt, beta)
		result.Trajectory = append(result.Trajectory, record)
		if rec != nil {
			frame := Frame{Record: record, Values: st.X, ICU: st.ICU(p)}
			if err := rec.Record(frame); err != nil {
				return finish(TerminationFailed, fmt.Errorf("record step %d: %w", step, err))
			}
		}
	}

	return finish(TerminationHorizon, nil)
}

func (s *Simulation) record(step int, dt, beta float64) Record {
	return Record{
		Step:   step,
		Time:   s.state.Time,
		Dt:     dt,
		Beta:   beta,
		Rt:     s.opts.Params.Rt(beta),
		Totals: s.state.Totals(),
		ICU:    s.state.ICU(s.opts.Params).Sum(),
	}
}
