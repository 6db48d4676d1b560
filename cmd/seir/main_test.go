package main

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covidseir/internal/shared/testutil"
)

func writeConfig(t *testing.T, fx *testutil.DataFixture, out string) string {
	t.Helper()
	yaml := fmt.Sprintf(`
logging:
  level: warn
data:
  deaths_file: %q
  cases_file: %q
  population_dir: %q
output:
  dir: %q
model:
  horizon_date: "4/15/20"
`, fx.DeathsFile, fx.CasesFile, fx.PopulationDir, out)
	return testutil.WriteFile(t, fx.Dir, "seir.yaml", yaml)
}

func TestRun_WritesSummaryAndFiles(t *testing.T) {
	fx := testutil.NewDataFixture(t, "Italy", "Spain")
	out := t.TempDir()
	cfg := writeConfig(t, fx, out)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-config", cfg,
		"-country", "Italy",
		"-country", "Spain",
		"-formats", "csv",
		"-parallel", "2",
	}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	text := stdout.String()
	assert.Contains(t, text, "Italy")
	assert.Contains(t, text, "Spain")
	assert.Contains(t, text, "horizon")
	assert.Contains(t, text, "peak infected")
	assert.Contains(t, text, "final Rt")

	var csvs []string
	require.NoError(t, filepath.WalkDir(out, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(path) == ".csv" {
			csvs = append(csvs, path)
		}
		return err
	}))
	require.NotEmpty(t, csvs)
	joined := strings.Join(csvs, "\n")
	assert.Contains(t, joined, "Italy")
	assert.Contains(t, joined, "Spain")
	assert.Contains(t, text, "wrote")
}

func TestRun_NoOutputs(t *testing.T) {
	fx := testutil.NewDataFixture(t, "Italy")
	out := t.TempDir()
	cfg := writeConfig(t, fx, out)

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(),
		[]string{"-config", cfg, "-country", "Italy", "-formats", "none"}, &stdout, &stderr))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotContains(t, stdout.String(), "wrote")
}

func TestRun_UnknownCountryReportsFailure(t *testing.T) {
	fx := testutil.NewDataFixture(t, "Italy")
	cfg := writeConfig(t, fx, t.TempDir())

	var stdout, stderr bytes.Buffer
	err := run(context.Background(),
		[]string{"-config", cfg, "-country", "Italy", "-country", "Atlantis", "-formats", "none"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Atlantis")
	assert.Contains(t, stdout.String(), "failed")
	assert.Contains(t, stdout.String(), "horizon", "the healthy run is still reported")
}

func TestRun_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no country", nil},
		{"empty country", []string{"-country", " "}},
		{"negative parallel", []string{"-country", "Italy", "-parallel", "-1"}},
		{"unknown format", []string{"-country", "Italy", "-formats", "pdf"}},
		{"missing scenario", []string{"-country", "Italy", "-scenario", "/does/not/exist.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Error(t, run(context.Background(), tt.args, &stdout, &stderr))
		})
	}
}

func TestCountryList_KeepsCommas(t *testing.T) {
	opts, err := parseFlags([]string{"-country", "Korea, South", "-country", "all"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, countryList{"Korea, South", "all"}, opts.countries)

	reqs, err := opts.requests()
	require.NoError(t, err)
	assert.Equal(t, "Korea, South", reqs[0].Country)
	assert.Greater(t, len(reqs), 2, `"all" expands to every known profile`)
	for _, r := range reqs {
		assert.True(t, r.WriteOutputs)
	}
}
