package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "covidseir/internal/errors"
)

// chdirTemp runs the test inside an empty directory so no stray config.yaml
// is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "console", cfg.Logging.Output)
				assert.Equal(t, 5.2, cfg.Model.IncubationDays)
				assert.Equal(t, 2.9, cfg.Model.InfectionDays)
				assert.Equal(t, 14.0, cfg.Model.DeathDays)
				assert.Equal(t, 0.5, cfg.Model.StepDamping)
				assert.Equal(t, 100000, cfg.Model.MaxSteps)
				assert.Equal(t, "symptomatic", cfg.Model.SeedCompartment)
				assert.Len(t, cfg.Model.LockdownFactors, 9)
				assert.Equal(t, []string{"dat"}, cfg.Output.Formats)
				assert.Equal(t, 4, cfg.Workers.Count)
				assert.Equal(t, time.Hour, cfg.Workers.JobRetention)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"SEIR_SERVER_PORT":            "9090",
				"SEIR_SERVER_READ_TIMEOUT":    "30s",
				"SEIR_LOGGING_LEVEL":          "debug",
				"SEIR_MODEL_R0":               "3.1",
				"SEIR_MODEL_LOCKDOWN_FACTORS": "0,0,0,0,0,0,1,1,1",
				"SEIR_OUTPUT_FORMATS":         "dat,xlsx,png",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, 3.1, cfg.Model.R0)
				assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 1, 1, 1}, cfg.Model.LockdownFactors)
				assert.Equal(t, []string{"dat", "xlsx", "png"}, cfg.Output.Formats)
			},
		},
		{
			name: "yaml file keeps unspecified defaults",
			file: "model:\n  r0: 2.2\n  seed_compartment: exposed\nworkers:\n  count: 8\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2.2, cfg.Model.R0)
				assert.Equal(t, "exposed", cfg.Model.SeedCompartment)
				assert.Equal(t, 8, cfg.Workers.Count)
				assert.Equal(t, 5.2, cfg.Model.IncubationDays)
				assert.Equal(t, 8080, cfg.Server.Port)
			},
		},
		{
			name: "environment wins over file",
			file: "server:\n  port: 7000\n",
			env:  map[string]string{"SEIR_SERVER_PORT": "7001"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7001, cfg.Server.Port)
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"SEIR_SERVER_PORT": "99999"},
			wantErr: true,
		},
		{
			name:    "negative timescale",
			env:     map[string]string{"SEIR_MODEL_INCUBATION_DAYS": "-1"},
			wantErr: true,
		},
		{
			name:    "wrong number of lockdown factors",
			env:     map[string]string{"SEIR_MODEL_LOCKDOWN_FACTORS": "1,1"},
			wantErr: true,
		},
		{
			name:    "unknown output format",
			env:     map[string]string{"SEIR_OUTPUT_FORMATS": "pdf"},
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			file:    "server: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			t.Setenv("SEIR_CONFIG_FILE", "")
			if tt.file != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.file), 0o644))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestParseScenario(t *testing.T) {
	base := DefaultModel()

	m, err := ParseScenario([]byte("r0: 3.5\nlockdown_date: 3/20/20\nlockdown_factors: [0, 0, 0, 0, 0, 0, 1, 1, 1]\n"), base)
	require.NoError(t, err)
	assert.Equal(t, 3.5, m.R0)
	assert.Equal(t, "3/20/20", m.LockdownDate)
	assert.Equal(t, 1.0, m.LockdownFactors[8])

	// base is untouched
	assert.Equal(t, 2.8, base.R0)
	assert.Equal(t, 0.0, base.LockdownFactors[8])
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "beta_override: 1\n"},
		{"fraction above one", "symptomatic_fraction: 1.5\n"},
		{"bad seed compartment", "seed_compartment: removed\n"},
		{"seed bin out of range", "seed_bin: 9\n"},
		{"zero damping", "step_damping: 0\n"},
		{"lockdown amplitude past positivity", "impulse_gain: 2\nlockdown_factors: [1, 1, 1, 1, 1, 1, 1, 1, 1]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), DefaultModel())
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigurationError(err))
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"), DefaultModel())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestModelConfig_ValidateImpulseAmplitude(t *testing.T) {
	ones := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}
	halves := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	tests := []struct {
		name     string
		gain     float64
		lockdown []float64
		release  []float64
		wantErr  bool
	}{
		{"default gain full lockdown", 1.575, ones, halves, false},
		{"zero factors any gain", 50, make([]float64, 9), make([]float64, 9), false},
		{"gain two full lockdown", 2, ones, make([]float64, 9), true},
		{"exactly at bound", 1.596, ones, make([]float64, 9), true},
		{"release past bound", 3.5, make([]float64, 9), halves, true},
		{"halved factors", 3, halves, halves, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DefaultModel()
			m.ImpulseGain = tt.gain
			m.LockdownFactors = tt.lockdown
			m.ReleaseFactors = tt.release

			err := m.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigurationError(err))
			assert.Contains(t, err.Error(), "impulse_gain")

			cfg := Default()
			cfg.Model = m
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_FileOutputNeedsPath(t *testing.T) {
	cfg := Default()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_path")
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", ServerConfig{Host: "127.0.0.1", Port: 8080}.Addr())
	assert.Equal(t, ":9000", ServerConfig{Port: 9000}.Addr())
}

func TestLoadFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "seir.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  count: 3\nmodel:\n  r0: 2.9\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers.Count)
	assert.Equal(t, 2.9, cfg.Model.R0)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, apperrors.IsConfigurationError(err))
}
