package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v2"

	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "SEIR"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Model     ModelConfig     `yaml:"model" envconfig:"MODEL"`
	Data      DataConfig      `yaml:"data" envconfig:"DATA"`
	Output    OutputConfig    `yaml:"output" envconfig:"OUTPUT"`
	Workers   WorkerConfig    `yaml:"workers" envconfig:"WORKERS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	// ProgressEvery is the number of integration steps between progress
	// broadcasts of a running job.
	ProgressEvery int `yaml:"progress_every" envconfig:"PROGRESS_EVERY" validate:"gt=0"`
}

// TelemetryConfig switches the OpenTelemetry providers.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableMetrics  bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing  bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
}

// ModelConfig holds the scalar tuning inputs of one simulation run. Times
// are in days; dates use the M/D/YY layout of the case data.
type ModelConfig struct {
	IncubationDays      float64 `yaml:"incubation_days" envconfig:"INCUBATION_DAYS" validate:"gt=0"`
	InfectionDays       float64 `yaml:"infection_days" envconfig:"INFECTION_DAYS" validate:"gt=0"`
	HospitalizationDays float64 `yaml:"hospitalization_days" envconfig:"HOSPITALIZATION_DAYS" validate:"gt=0"`
	HospitalizedDays    float64 `yaml:"hospitalized_days" envconfig:"HOSPITALIZED_DAYS" validate:"gt=0"`
	DeathDays           float64 `yaml:"death_days" envconfig:"DEATH_DAYS" validate:"gt=0"`

	SymptomaticFraction  float64 `yaml:"symptomatic_fraction" envconfig:"SYMPTOMATIC_FRACTION" validate:"gte=0,lte=1"`
	AsymptomaticRecovery float64 `yaml:"asymptomatic_recovery" envconfig:"ASYMPTOMATIC_RECOVERY" validate:"gte=0,lte=1"`
	R0                   float64 `yaml:"r0" envconfig:"R0" validate:"gt=0"`

	ImpulseGain     float64   `yaml:"impulse_gain" envconfig:"IMPULSE_GAIN" validate:"gte=0"`
	LockdownFactors []float64 `yaml:"lockdown_factors" envconfig:"LOCKDOWN_FACTORS" validate:"len=9,dive,gte=0,lte=1"`
	ReleaseFactors  []float64 `yaml:"release_factors" envconfig:"RELEASE_FACTORS" validate:"len=9,dive,gte=0,lte=1"`
	// LockdownDate and ReleaseDate override the country profile when set.
	// The literal "none" disables the event.
	LockdownDate string `yaml:"lockdown_date" envconfig:"LOCKDOWN_DATE"`
	ReleaseDate  string `yaml:"release_date" envconfig:"RELEASE_DATE"`

	StepDamping float64 `yaml:"step_damping" envconfig:"STEP_DAMPING" validate:"gt=0,lte=1"`
	MaxSteps    int     `yaml:"max_steps" envconfig:"MAX_STEPS" validate:"gt=0"`
	Tolerance   float64 `yaml:"tolerance" envconfig:"TOLERANCE" validate:"gt=0"`

	SeedCompartment string  `yaml:"seed_compartment" envconfig:"SEED_COMPARTMENT" validate:"oneof=symptomatic exposed"`
	SeedBin         int     `yaml:"seed_bin" envconfig:"SEED_BIN" validate:"gte=0,lte=8"`
	DeathThreshold  float64 `yaml:"death_threshold" envconfig:"DEATH_THRESHOLD" validate:"gt=0"`

	HorizonDate string `yaml:"horizon_date" envconfig:"HORIZON_DATE"`
	// HorizonDays bounds runs without a date axis, counted from the start.
	HorizonDays float64 `yaml:"horizon_days" envconfig:"HORIZON_DAYS" validate:"gt=0"`
}

// DataConfig locates the input datasets.
type DataConfig struct {
	DeathsFile    string `yaml:"deaths_file" envconfig:"DEATHS_FILE"`
	CasesFile     string `yaml:"cases_file" envconfig:"CASES_FILE"`
	PopulationDir string `yaml:"population_dir" envconfig:"POPULATION_DIR"`
}

// OutputConfig selects where and in which formats results are written.
type OutputConfig struct {
	Dir     string   `yaml:"dir" envconfig:"DIR"`
	Formats []string `yaml:"formats" envconfig:"FORMATS" validate:"dive,oneof=dat csv xlsx png"`
}

// WorkerConfig sizes the simulation worker pool. Finished jobs are
// dropped after JobRetention; zero keeps them until shutdown.
type WorkerConfig struct {
	Count           int           `yaml:"count" envconfig:"COUNT" validate:"gt=0"`
	QueueSize       int           `yaml:"queue_size" envconfig:"QUEUE_SIZE" validate:"gt=0"`
	JobRetention    time.Duration `yaml:"job_retention" envconfig:"JOB_RETENTION" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" envconfig:"CLEANUP_INTERVAL" validate:"gte=0"`
}

// Load builds the configuration from defaults, an optional YAML file and
// SEIR_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit YAML file. An empty path skips the file.
func LoadFile(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, apperrors.NewConfigurationError("load config file "+configFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigurationError("load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file
// keep their current values.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadScenario overlays a YAML scenario file onto base and validates the
// result. A scenario only carries model keys, for example:
//
//	r0: 3.1
//	lockdown_factors: [0, 0, 0, 0, 0, 0, 1, 1, 1]
//	lockdown_date: 3/20/20
func LoadScenario(path string, base ModelConfig) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, apperrors.NewConfigurationError("read scenario "+path, err)
	}
	return ParseScenario(data, base)
}

// ParseScenario is LoadScenario for in-memory YAML.
func ParseScenario(data []byte, base ModelConfig) (ModelConfig, error) {
	m := base.Clone()
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return ModelConfig{}, apperrors.NewConfigurationError("parse scenario", err)
	}
	if err := m.Validate(); err != nil {
		return ModelConfig{}, err
	}
	return m, nil
}

// Clone returns a deep copy of the model configuration.
func (m ModelConfig) Clone() ModelConfig {
	out := m
	out.LockdownFactors = append([]float64(nil), m.LockdownFactors...)
	out.ReleaseFactors = append([]float64(nil), m.ReleaseFactors...)
	return out
}

var validate = validator.New()

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.NewConfigurationError("config validation failed", describe(err))
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return apperrors.NewConfigurationError("logging file_path is required for output "+c.Logging.Output, nil)
	}
	return c.Model.validateImpulses()
}

// Validate checks the model configuration on its own, as used for
// per-request overrides.
func (m *ModelConfig) Validate() error {
	if err := validate.Struct(m); err != nil {
		return apperrors.NewConfigurationError("model validation failed", describe(err))
	}
	return m.validateImpulses()
}

// validateImpulses bounds gain times the largest severity factor of each
// event by epidemic.MaxImpulseAmplitude.
func (m *ModelConfig) validateImpulses() error {
	events := []struct {
		name    string
		factors []float64
	}{
		{"lockdown_factors", m.LockdownFactors},
		{"release_factors", m.ReleaseFactors},
	}
	for _, ev := range events {
		name, factors := ev.name, ev.factors
		if len(factors) == 0 {
			continue
		}
		if amp := m.ImpulseGain * floats.Max(factors); amp >= epidemic.MaxImpulseAmplitude {
			return apperrors.NewConfigurationError(fmt.Sprintf(
				"impulse_gain %g times max %s gives amplitude %g, must be below %g",
				m.ImpulseGain, name, amp, epidemic.MaxImpulseAmplitude), nil)
		}
	}
	return nil
}

// describe flattens validator errors into one line naming each field.
func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		filepath.Join("..", "configs", "config.yaml"),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultModel returns the model tuning used when nothing overrides it.
func DefaultModel() ModelConfig {
	return ModelConfig{
		IncubationDays:       5.2,
		InfectionDays:        2.9,
		HospitalizationDays:  5,
		HospitalizedDays:     10,
		DeathDays:            14,
		SymptomaticFraction:  0.6,
		AsymptomaticRecovery: 0.8,
		R0:                   2.8,
		ImpulseGain:          1.575,
		LockdownFactors:      make([]float64, 9),
		ReleaseFactors:       make([]float64, 9),
		StepDamping:          0.5,
		MaxSteps:             100000,
		Tolerance:            1e-9,
		SeedCompartment:      "symptomatic",
		SeedBin:              4,
		DeathThreshold:       1,
		HorizonDate:          "6/01/20",
		HorizonDays:          365,
	}
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    3 * time.Minute,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  2 * time.Minute,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/seir.log",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			ProgressEvery:   250,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "covidseir",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			EnableMetrics:  true,
			EnableTracing:  false,
		},
		Model: DefaultModel(),
		Data: DataConfig{
			DeathsFile:    filepath.Join("jhudata", "time_series_covid19_deaths_global.csv"),
			CasesFile:     filepath.Join("jhudata", "time_series_covid19_confirmed_global.csv"),
			PopulationDir: "popdata",
		},
		Output: OutputConfig{
			Dir:     "output",
			Formats: []string{"dat"},
		},
		Workers: WorkerConfig{
			Count:           4,
			QueueSize:       64,
			JobRetention:    time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
	}
}
