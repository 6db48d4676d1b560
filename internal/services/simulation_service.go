package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"covidseir/internal/config"
	"covidseir/internal/dataset"
	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
	"covidseir/internal/exporter"
	"covidseir/internal/infrastructure"
)

// SimulationRequest describes one run. Every override is optional; unset
// fields fall back to the service's model configuration and the country
// profile.
type SimulationRequest struct {
	Country string `json:"country" validate:"required"`
	// Name labels the outputs. It defaults to the country name with
	// anything but letters and digits replaced by underscores.
	Name string `json:"name,omitempty" validate:"omitempty,max=64,excludesall=/\\"`
	// Scenario is a YAML fragment of model settings applied before the
	// individual overrides below.
	Scenario string `json:"scenario,omitempty"`

	R0              *float64  `json:"r0,omitempty" validate:"omitempty,gt=0"`
	LockdownDate    *string   `json:"lockdown_date,omitempty"`
	ReleaseDate     *string   `json:"release_date,omitempty"`
	HorizonDate     *string   `json:"horizon_date,omitempty"`
	LockdownFactors []float64 `json:"lockdown_factors,omitempty" validate:"omitempty,len=9,dive,gte=0,lte=1"`
	ReleaseFactors  []float64 `json:"release_factors,omitempty" validate:"omitempty,len=9,dive,gte=0,lte=1"`
	SeedCompartment string    `json:"seed_compartment,omitempty" validate:"omitempty,oneof=symptomatic exposed"`

	WriteOutputs bool     `json:"write_outputs"`
	Formats      []string `json:"formats,omitempty" validate:"omitempty,dive,oneof=dat csv xlsx png"`

	IncludeTrajectory bool `json:"include_trajectory"`
}

// SimulationResult is the outcome of one run as returned to callers.
type SimulationResult struct {
	ID      string `json:"id"`
	Country string `json:"country"`
	Name    string `json:"name"`
	// Origin is the last date of the case data; model time 0.
	Origin     string   `json:"origin,omitempty"`
	Start      float64  `json:"start"`
	Horizon    float64  `json:"horizon"`
	Lockdown   *float64 `json:"lockdown,omitempty"`
	Release    *float64 `json:"release,omitempty"`
	Population float64  `json:"population"`

	Termination  string           `json:"termination"`
	Steps        int              `json:"steps"`
	Calibrated   bool             `json:"calibrated"`
	SeedFraction float64          `json:"seed_fraction"`
	ElapsedMS    float64          `json:"elapsed_ms"`
	Summary      epidemic.Summary `json:"summary"`

	Files      []string          `json:"files,omitempty"`
	Trajectory []epidemic.Record `json:"trajectory,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// RunPlan is a fully resolved run, ready to simulate.
type RunPlan struct {
	Country *dataset.Country
	Model   config.ModelConfig
	Name    string
	Origin  time.Time
	Options epidemic.Options
}

// CountrySummary is the listing view of a supported country.
type CountrySummary struct {
	dataset.Profile
	Population float64 `json:"population,omitempty"`
	Available  bool    `json:"available"`
	Error      string  `json:"error,omitempty"`
}

// CountryDetail adds the data series overview to a profile.
type CountryDetail struct {
	dataset.Profile
	Population   float64         `json:"population"`
	AgeWeights   epidemic.Vector `json:"age_weights"`
	FatalityRate float64         `json:"fatality_rate"`
	FirstDate    string          `json:"first_date,omitempty"`
	LastDate     string          `json:"last_date,omitempty"`
	Deaths       float64         `json:"deaths,omitempty"`
	Cases        float64         `json:"cases,omitempty"`
	DoublingTime float64         `json:"doubling_time,omitempty"`
}

// SimulationService turns requests into simulation runs against the
// configured data.
type SimulationService struct {
	loader  *dataset.Loader
	model   config.ModelConfig
	output  config.OutputConfig
	workers int
	metrics *infrastructure.SimulationMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

var requestValidator = validator.New()

// NewSimulationService creates the service. metrics and tracer may be nil.
func NewSimulationService(loader *dataset.Loader, cfg *config.Config, metrics *infrastructure.SimulationMetrics, tracer trace.Tracer, logger *slog.Logger) *SimulationService {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer(infrastructure.MeterName)
	}
	workers := cfg.Workers.Count
	if workers <= 0 {
		workers = 1
	}
	return &SimulationService{
		loader:  loader,
		model:   cfg.Model.Clone(),
		output:  cfg.Output,
		workers: workers,
		metrics: metrics,
		tracer:  tracer,
		logger:  infrastructure.WithComponent(logger, "simulation_service"),
	}
}

// Model returns a copy of the default model configuration.
func (s *SimulationService) Model() config.ModelConfig { return s.model.Clone() }

// Plan validates a request and resolves everything a run needs: the
// country data, the model settings, the calibration window and the event
// times. Errors are configuration or data alignment errors.
func (s *SimulationService) Plan(ctx context.Context, req SimulationRequest) (*RunPlan, error) {
	if err := requestValidator.Struct(req); err != nil {
		return nil, apperrors.NewConfigurationError("invalid simulation request", err)
	}

	model, err := req.apply(s.model)
	if err != nil {
		return nil, err
	}
	country, err := s.loader.Load(req.Country)
	if err != nil {
		return nil, err
	}

	params, err := epidemic.NewParameters(epidemic.Timescales{
		Incubation:      model.IncubationDays,
		Infection:       model.InfectionDays,
		Hospitalization: model.HospitalizationDays,
		Hospitalized:    model.HospitalizedDays,
		Death:           model.DeathDays,
	}, model.SymptomaticFraction, model.AsymptomaticRecovery,
		epidemic.DefaultFatality, epidemic.DefaultHospitalization, epidemic.DefaultCriticalCare)
	if err != nil {
		return nil, err
	}
	policy, err := epidemic.ParseSeedPolicy(model.SeedCompartment)
	if err != nil {
		return nil, err
	}
	lockdownFactors, err := epidemic.VectorFrom(model.LockdownFactors)
	if err != nil {
		return nil, apperrors.NewConfigurationError("lockdown factors", err)
	}
	releaseFactors, err := epidemic.VectorFrom(model.ReleaseFactors)
	if err != nil {
		return nil, apperrors.NewConfigurationError("release factors", err)
	}

	population := country.Pyramid.Total()
	opts := epidemic.Options{
		Weights:    country.Pyramid.Weights(),
		Population: population,
		Params:     params,
		R0:         model.R0,
		SeedBin:    model.SeedBin,
		SeedPolicy: policy,
		Integrator: epidemic.Integrator{Damping: model.StepDamping},
		MaxSteps:   model.MaxSteps,
		Tolerance:  model.Tolerance,
		Logger:     s.logger.With(slog.String("country", country.Profile.Name)),
	}

	lockdownDate := pick(model.LockdownDate, country.Profile.Lockdown)
	releaseDate := pick(model.ReleaseDate, country.Profile.Release)

	plan := &RunPlan{Country: country, Model: model, Name: req.outputName(country.Profile.Name)}
	lockdownAt, releaseAt := epidemic.Never, epidemic.Never

	if series := country.Series; series != nil {
		plan.Origin = series.Origin()

		threshold := model.DeathThreshold
		if country.Profile.MinimumThreshold {
			threshold = series.MinDeaths()
		}
		first := series.ThresholdIndex(threshold)
		history, err := series.History(first, population)
		if err != nil {
			return nil, err
		}
		opts.Estimator = epidemic.NewEstimator(history, params, model.R0)
		opts.SeedDeaths = series.Deaths[first]
		if opts.SeedDeaths < threshold || !(opts.SeedDeaths > 0) {
			// no day reaches the threshold: seed D0 deaths at the first date
			opts.SeedDeaths = model.DeathThreshold
			s.logger.WarnContext(ctx, "death threshold never reached, seeding from threshold",
				slog.String("country", country.Profile.Name),
				slog.Float64("threshold", threshold),
				slog.Float64("max_deaths", series.Deaths[len(series.Deaths)-1]))
		}
		opts.Start = history.Start() - params.Timescales.Death

		if model.HorizonDate != "" {
			if opts.Horizon, err = series.EventTime(model.HorizonDate); err != nil {
				return nil, apperrors.NewConfigurationError("horizon date", err)
			}
			if math.IsInf(opts.Horizon, 0) {
				opts.Horizon = opts.Start + model.HorizonDays
			}
		} else {
			opts.Horizon = opts.Start + model.HorizonDays
		}
		if lockdownAt, err = series.EventTime(lockdownDate); err != nil {
			return nil, apperrors.NewConfigurationError("lockdown date", err)
		}
		if releaseAt, err = series.EventTime(releaseDate); err != nil {
			return nil, apperrors.NewConfigurationError("release date", err)
		}
	} else {
		opts.SeedDeaths = model.DeathThreshold
		opts.Horizon = model.HorizonDays
		if !dataset.IsNoDate(lockdownDate) || !dataset.IsNoDate(releaseDate) {
			s.logger.WarnContext(ctx, "event dates ignored without a date axis",
				slog.String("country", country.Profile.Name),
				slog.String("lockdown", lockdownDate),
				slog.String("release", releaseDate))
		}
	}

	opts.Schedule = epidemic.NewSchedule(lockdownAt, lockdownFactors, releaseAt, releaseFactors, model.ImpulseGain)
	if opts.Horizon < opts.Start {
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("horizon %.1f precedes calibration start %.1f", opts.Horizon, opts.Start), nil)
	}
	plan.Options = opts
	return plan, nil
}

// Run executes one simulation synchronously.
func (s *SimulationService) Run(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	return s.RunWithRecorder(ctx, req, nil)
}

// RunWithRecorder is Run with an extra recorder receiving every step, as
// used for progress reporting. When the run itself fails after starting the
// returned result is still populated up to the failure.
func (s *SimulationService) RunWithRecorder(ctx context.Context, req SimulationRequest, rec epidemic.Recorder) (*SimulationResult, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := s.tracer.Start(ctx, "simulation.run",
		trace.WithAttributes(attribute.String("country", req.Country)))
	defer span.End()

	plan, err := s.Plan(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "simulation rejected",
			slog.String("country", req.Country),
			slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.execute(ctx, span, req, plan, rec)
}

func (s *SimulationService) execute(ctx context.Context, span trace.Span, req SimulationRequest, plan *RunPlan, rec epidemic.Recorder) (*SimulationResult, error) {
	country := plan.Country.Profile.Name
	out := &SimulationResult{
		ID:         uuid.New().String(),
		Country:    country,
		Name:       plan.Name,
		Start:      plan.Options.Start,
		Horizon:    plan.Options.Horizon,
		Lockdown:   finite(plan.Options.Schedule.Lockdown.Trigger),
		Release:    finite(plan.Options.Schedule.Release.Trigger),
		Population: plan.Options.Population,
	}
	if !plan.Origin.IsZero() {
		out.Origin = plan.Origin.Format(dataset.DateLayout)
	}

	var recorders exporter.MultiRecorder
	var sink *exporter.Sink
	if req.WriteOutputs {
		formats := req.Formats
		if len(formats) == 0 {
			formats = s.output.Formats
		}
		var err error
		sink, err = exporter.NewSink(s.output.Dir, plan.Name, formats, s.logger)
		if err != nil {
			return nil, err
		}
		defer sink.Close()
		recorders = append(recorders, sink)
	}
	if rec != nil {
		recorders = append(recorders, rec)
	}

	sim, err := epidemic.NewSimulation(plan.Options)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRunStart(ctx, country)
	s.logger.InfoContext(ctx, "simulation starting",
		slog.String("run_id", out.ID),
		slog.String("country", country),
		slog.Float64("start", out.Start),
		slog.Float64("horizon", out.Horizon),
		slog.Float64("population", out.Population))

	var recorder epidemic.Recorder
	if len(recorders) > 0 {
		recorder = recorders
	}
	res, runErr := sim.Run(ctx, recorder)

	termination := ""
	if res != nil {
		termination = string(res.Termination)
		res.Summary = res.Summary.WithICUCapacity(plan.Country.Profile.ICUBedsPer100k)
		out.Termination = termination
		out.Steps = res.Steps
		out.Calibrated = res.Calibrated
		out.SeedFraction = res.SeedFraction
		out.ElapsedMS = float64(res.Elapsed) / float64(time.Millisecond)
		out.Summary = res.Summary
		if req.IncludeTrajectory {
			out.Trajectory = res.Trajectory
		}
		s.metrics.RecordRunEnd(ctx, country, termination, res.Steps, res.Elapsed, runErr)
	}

	if sink != nil {
		files, err := sink.Finish(res)
		out.Files = files
		if err != nil && runErr == nil {
			runErr = err
		}
	}

	span.SetAttributes(
		attribute.String("termination", termination),
		attribute.Int("steps", out.Steps),
		attribute.Bool("calibrated", out.Calibrated))
	if runErr != nil {
		out.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return out, runErr
	}
	return out, nil
}

// RunBatch runs independent requests in parallel, at most one per worker.
// A failing run does not stop the others; results keep the request order
// and the returned error joins every failure.
func (s *SimulationService) RunBatch(ctx context.Context, reqs []SimulationRequest) ([]*SimulationResult, error) {
	results := make([]*SimulationResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Run(ctx, req)
			if res == nil {
				res = &SimulationResult{Country: req.Country, Name: req.Name}
				if err != nil {
					res.Error = err.Error()
				}
			}
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", req.Country, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	s.logger.InfoContext(ctx, "simulation batch finished",
		slog.Int("runs", len(reqs)),
		slog.Int("failed", failed),
		slog.Int("workers", s.workers))
	return results, errors.Join(errs...)
}

// Countries lists every known profile with its population when the
// pyramid can be read.
func (s *SimulationService) Countries() []CountrySummary {
	profiles := dataset.Profiles()
	out := make([]CountrySummary, 0, len(profiles))
	for _, p := range profiles {
		item := CountrySummary{Profile: p}
		if c, err := s.loader.Load(p.Name); err != nil {
			item.Error = err.Error()
		} else {
			item.Available = true
			item.Population = c.Pyramid.Total()
		}
		out = append(out, item)
	}
	return out
}

// Country describes one country and its data series.
func (s *SimulationService) Country(name string) (*CountryDetail, error) {
	c, err := s.loader.Load(name)
	if err != nil {
		if apperrors.IsConfigurationError(err) {
			if _, lookupErr := dataset.Lookup(name); lookupErr != nil {
				return nil, apperrors.NewNotFoundError("country " + name)
			}
		}
		return nil, err
	}
	weights := c.Pyramid.Weights()
	d := &CountryDetail{
		Profile:      c.Profile,
		Population:   c.Pyramid.Total(),
		AgeWeights:   weights,
		FatalityRate: epidemic.DefaultParameters().FatalityRate(weights),
	}
	if sr := c.Series; sr != nil && len(sr.Dates) > 0 {
		last := len(sr.Dates) - 1
		d.FirstDate = sr.Dates[0].Format(dataset.DateLayout)
		d.LastDate = sr.Dates[last].Format(dataset.DateLayout)
		d.Deaths = sr.Deaths[last]
		d.Cases = sr.Cases[last]
		d.DoublingTime = sr.LatestDoublingTime()
	}
	return d, nil
}

func (r SimulationRequest) apply(base config.ModelConfig) (config.ModelConfig, error) {
	m := base.Clone()
	if strings.TrimSpace(r.Scenario) != "" {
		var err error
		if m, err = config.ParseScenario([]byte(r.Scenario), m); err != nil {
			return config.ModelConfig{}, err
		}
	}
	if r.R0 != nil {
		m.R0 = *r.R0
	}
	if r.LockdownDate != nil {
		m.LockdownDate = *r.LockdownDate
	}
	if r.ReleaseDate != nil {
		m.ReleaseDate = *r.ReleaseDate
	}
	if r.HorizonDate != nil {
		m.HorizonDate = *r.HorizonDate
	}
	if r.LockdownFactors != nil {
		m.LockdownFactors = append([]float64(nil), r.LockdownFactors...)
	}
	if r.ReleaseFactors != nil {
		m.ReleaseFactors = append([]float64(nil), r.ReleaseFactors...)
	}
	if r.SeedCompartment != "" {
		m.SeedCompartment = r.SeedCompartment
	}
	if err := m.Validate(); err != nil {
		return config.ModelConfig{}, err
	}
	return m, nil
}

func (r SimulationRequest) outputName(country string) string {
	if r.Name != "" {
		return r.Name
	}
	return SanitizeName(country)
}

// SanitizeName maps a country name to a file-system friendly run name.
func SanitizeName(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// pick returns override unless it is empty.
func pick(override, profile string) string {
	if override != "" {
		return override
	}
	return profile
}

func finite(t float64) *float64 {
	if math.IsInf(t, 0) || math.IsNaN(t) {
		return nil
	}
	return &t
}
