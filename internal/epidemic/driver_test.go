package epidemic

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "covidseir/internal/errors"
	"covidseir/internal/shared/testutil"
)

const scenarioPopulation = 1e7

// uniformOptions is the reference scenario: uniform pyramid, default rates,
// R0 = 2.8, one death's worth of symptomatic infection in bin 4, no
// interventions.
func uniformOptions(t *testing.T) Options {
	logger, _ := testutil.NewTestLogger(t)
	return Options{
		Weights:    uniformWeights(),
		Population: scenarioPopulation,
		Params:     DefaultParameters(),
		R0:         2.8,
		Start:      0,
		Horizon:    300,
		SeedDeaths: 1,
		SeedBin:    4,
		Logger:     logger,
	}
}

func runScenario(t *testing.T, opts Options) *Result {
	t.Helper()
	sim, err := NewSimulation(opts)
	require.NoError(t, err)
	result, err := sim.Run(context.Background(), nil)
	require.NoError(t, err)
	return result
}

func TestSimulation_UniformScenario(t *testing.T) {
	opts := uniformOptions(t)
	result := runScenario(t, opts)

	assert.Equal(t, TerminationHorizon, result.Termination)
	assert.Greater(t, result.Trajectory[len(result.Trajectory)-1].Time, opts.Horizon)

	seed := result.SeedFraction
	wantSeed := (1 / scenarioPopulation) / opts.Params.FatalityRate(opts.Weights)
	assert.InDelta(t, wantSeed, seed, 1e-18)

	peak := result.Summary.PeakInfectedFraction
	assert.Greater(t, peak.Value, seed)
	assert.Greater(t, peak.Time, opts.Start)
	assert.Less(t, peak.Time, opts.Horizon)
	assert.Greater(t, peak.Value, 0.1, "R0 = 2.8 gives a large epidemic")

	everInfected := result.Summary.EverInfected / scenarioPopulation
	finalF := result.Final.Values[Fatalities].Sum()
	assert.Greater(t, finalF, 0.0)
	assert.Less(t, finalF, opts.Params.FatalityRate(opts.Weights)*everInfected)

	prevF := -1.0
	for _, r := range result.Trajectory {
		assert.GreaterOrEqual(t, r.Totals[Fatalities], prevF, "step %d", r.Step)
		prevF = r.Totals[Fatalities]

		var total float64
		for _, v := range r.Totals {
			total += v
		}
		assert.InDelta(t, 1, total, 1e-9, "step %d", r.Step)
		assert.Zero(t, r.Totals[Confined], "no lockdown keeps C empty")
		assert.InDelta(t, 2.8, r.Rt, 1e-12)
	}
}

func TestSimulation_ZeroAmplitudeEventsKeepConfinedEmpty(t *testing.T) {
	opts := uniformOptions(t)
	opts.Schedule = NewSchedule(20, Vector{}, 60, Vector{}, 1.575)

	result := runScenario(t, opts)
	require.Equal(t, TerminationHorizon, result.Termination)
	require.Greater(t, result.Trajectory[len(result.Trajectory)-1].Time, 60.0, "both triggers are crossed")

	reference := runScenario(t, uniformOptions(t))
	require.Len(t, result.Trajectory, len(reference.Trajectory))
	for i, r := range result.Trajectory {
		assert.Zero(t, r.Totals[Confined], "step %d", r.Step)
		assert.Equal(t, reference.Trajectory[i].Totals, r.Totals, "step %d", r.Step)
	}
	assert.Equal(t, Vector{}, result.Final.Values[Confined])
}

func TestSimulation_StepDampingConvergence(t *testing.T) {
	coarse := uniformOptions(t)
	fine := uniformOptions(t)
	fine.Integrator = Integrator{Damping: 0.25}

	a := runScenario(t, coarse).Summary.PeakSymptomatic.Value
	b := runScenario(t, fine).Summary.PeakSymptomatic.Value

	assert.Less(t, math.Abs(a-b)/b, 0.01)
}

func TestSimulation_Lockdown(t *testing.T) {
	opts := uniformOptions(t)
	full := Vector{1, 1, 1, 1, 1, 1, 1, 1, 1}
	opts.Schedule = NewSchedule(20, full, Never, Vector{}, 1.575)

	result := runScenario(t, opts)
	assert.Equal(t, TerminationHorizon, result.Termination)

	var before, after Record
	for _, r := range result.Trajectory {
		if r.Time <= 20 {
			before = r
		} else if after.Step == 0 {
			after = r
		}
	}
	assert.Zero(t, before.Totals[Confined])
	assert.Greater(t, after.Totals[Confined], 0.8)
	assert.Less(t, after.Totals[Susceptible], 0.05)

	unmitigated := runScenario(t, uniformOptions(t))
	assert.Less(t, result.Summary.TotalFatalities, unmitigated.Summary.TotalFatalities)
}

func TestSimulation_ExposedSeedPolicy(t *testing.T) {
	opts := uniformOptions(t)
	opts.SeedPolicy = SeedExposed

	sim, err := NewSimulation(opts)
	require.NoError(t, err)
	assert.Equal(t, PhaseInitializing, sim.Phase())
	assert.InDelta(t, sim.SeedFraction(), sim.State().X[Exposed][4], 1e-20)
	assert.Zero(t, sim.State().X[Symptomatic][4])
}

func TestSimulation_IterationCap(t *testing.T) {
	opts := uniformOptions(t)
	opts.MaxSteps = 10

	var frames int
	sim, err := NewSimulation(opts)
	require.NoError(t, err)
	result, err := sim.Run(context.Background(), RecorderFunc(func(f Frame) error {
		frames++
		assert.Equal(t, frames, f.Step)
		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, TerminationIterationCap, result.Termination)
	assert.Equal(t, 10, result.Steps)
	assert.Equal(t, 10, frames)
	assert.Len(t, result.Trajectory, 11, "initial record plus one per step")
	assert.Equal(t, PhaseTerminated, sim.Phase())

	_, err = sim.Run(context.Background(), nil)
	assert.Error(t, err, "a simulation runs once")
}

func TestSimulation_UnstableImpulse(t *testing.T) {
	sim, err := NewSimulation(uniformOptions(t))
	require.NoError(t, err)
	// past MaxImpulseAmplitude, which NewSimulation would refuse
	full := Vector{1, 1, 1, 1, 1, 1, 1, 1, 1}
	sim.opts.Schedule = NewSchedule(5, full, Never, Vector{}, 5)

	result, err := sim.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNumericalInstabilityError(err))
	assert.Equal(t, TerminationUnstable, result.Termination)
	assert.NotEmpty(t, result.Trajectory)
}

func TestSimulation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim, err := NewSimulation(uniformOptions(t))
	require.NoError(t, err)
	result, err := sim.Run(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, TerminationCancelled, result.Termination)
}

func TestSimulation_RecorderErrorStopsRun(t *testing.T) {
	boom := errors.New("disk full")
	sim, err := NewSimulation(uniformOptions(t))
	require.NoError(t, err)

	result, err := sim.Run(context.Background(), RecorderFunc(func(f Frame) error {
		if f.Step == 3 {
			return boom
		}
		return nil
	}))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, TerminationFailed, result.Termination)
	assert.Equal(t, 3, result.Steps)
}

func TestSimulation_Calibrated(t *testing.T) {
	times, deaths := exponentialHistory()
	opts := uniformOptions(t)
	h, err := NewHistory(times, deaths, opts.Population)
	require.NoError(t, err)

	opts.Estimator = NewEstimator(h, opts.Params, 2.8)
	opts.Start = h.Start() - opts.Params.Timescales.Death
	opts.Horizon = 30
	opts.SeedDeaths = deaths[0]

	result := runScenario(t, opts)
	assert.True(t, result.Calibrated)
	assert.Equal(t, TerminationHorizon, result.Termination)

	// beta is held constant once the retarded time reaches the last observation
	var held []float64
	for _, r := range result.Trajectory[1:] {
		if r.Time-r.Dt+opts.Params.Timescales.Death >= 0 {
			held = append(held, r.Beta)
		}
	}
	require.NotEmpty(t, held)
	for _, b := range held {
		assert.Equal(t, held[0], b)
	}
}

func TestSimulation_StepSizeFollowsCurrentBeta(t *testing.T) {
	times, deaths := exponentialHistory()
	opts := uniformOptions(t)
	h, err := NewHistory(times, deaths, opts.Population)
	require.NoError(t, err)

	opts.Estimator = NewEstimator(h, opts.Params, 2.8)
	opts.Start = h.Start() - opts.Params.Timescales.Death
	opts.Horizon = 30
	opts.SeedDeaths = deaths[0]

	result := runScenario(t, opts)
	require.True(t, result.Calibrated)

	in := Integrator{Damping: DefaultDamping}
	for _, r := range result.Trajectory[1:] {
		limit := in.StepSize(opts.Params, r.Beta)
		assert.LessOrEqual(t, r.Dt, limit*(1+1e-12), "step %d", r.Step)
		assert.LessOrEqual(t, r.Beta*r.Dt, DefaultDamping*(1+1e-12), "step %d", r.Step)
	}
}

func TestNewSimulation_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no parameters", func(o *Options) { o.Params = nil }},
		{"no population", func(o *Options) { o.Population = 0 }},
		{"horizon before start", func(o *Options) { o.Horizon = -1 }},
		{"infinite horizon", func(o *Options) { o.Horizon = math.Inf(1) }},
		{"bad weights", func(o *Options) { o.Weights = Vector{0.5} }},
		{"seed exceeds bin", func(o *Options) { o.SeedDeaths = 1e7 }},
		{"seed bin out of range", func(o *Options) { o.SeedBin = 12 }},
		{"no estimator and no R0", func(o *Options) { o.R0 = 0 }},
		{"lockdown amplitude drives S negative", func(o *Options) {
			o.Schedule = NewSchedule(20, Vector{1, 1, 1, 1, 1, 1, 1, 1, 1}, Never, Vector{}, 2)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := uniformOptions(t)
			tt.mutate(&opts)
			_, err := NewSimulation(opts)
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigurationError(err))
		})
	}
}

func TestSummary_WithICUCapacity(t *testing.T) {
	s := Summary{Population: 1e6, PeakICU: Peak{Value: 150, Time: 40}}
	s = s.WithICUCapacity(10)
	assert.InDelta(t, 100, s.ICUCapacity, 1e-9)
	assert.True(t, s.ICUExceeded)

	s = s.WithICUCapacity(20)
	assert.False(t, s.ICUExceeded)
}
