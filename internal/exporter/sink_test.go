package exporter

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
	"covidseir/internal/shared/testutil"
)

func testResult(steps int) *epidemic.Result {
	res := &epidemic.Result{
		Steps:        steps,
		Termination:  epidemic.TerminationHorizon,
		SeedFraction: 1e-6,
	}
	for i := 0; i <= steps; i++ {
		r := epidemic.Record{Step: i, Time: float64(i) - 10, Dt: 1, Beta: 0.25, Rt: 2.5 - 0.1*float64(i)}
		r.Totals[epidemic.Susceptible] = 1 - 0.01*float64(i)
		r.Totals[epidemic.Symptomatic] = 0.01 * float64(i)
		res.Trajectory = append(res.Trajectory, r)
	}
	for c := range res.Final.Values {
		for b := range res.Final.Values[c] {
			res.Final.Values[c][b] = float64(c) / 100
		}
	}
	res.Summary = epidemic.Summary{
		Population:      1e6,
		TotalFatalities: 1000.4,
		FinalRt:         res.Trajectory[steps].Rt,
	}
	return res
}

func TestDatLine(t *testing.T) {
	var v epidemic.Vector
	v[0] = 0.5
	line := DatLine(3, 1.5, 0.25, 2.8, v)

	fields := strings.Fields(line)
	require.Len(t, fields, 4+epidemic.Bins)
	assert.Equal(t, "3", fields[0])
	assert.Equal(t, "1.500000E+00", fields[1])
	assert.Equal(t, "2.500000E-01", fields[2])
	assert.Equal(t, "2.800000E+00", fields[3])
	assert.Equal(t, "5.000000E-01", fields[4])
	assert.Equal(t, "0.000000E+00", fields[12])
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestDatRecorder(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewDatRecorder(dir, "Spain")
	require.NoError(t, err)
	require.NoError(t, rec.Record(testFrame(1)))
	require.NoError(t, rec.Record(testFrame(2)))
	require.NoError(t, rec.Close())

	files := rec.Files()
	require.Len(t, files, 9)
	for _, s := range []string{"S", "C", "E", "A", "I", "Q", "H", "U", "R"} {
		assert.Contains(t, files, filepath.Join(dir, "Spain", "Spain_"+s+"file.dat"))
	}

	lines := readLines(t, filepath.Join(dir, "Spain", "Spain_Ifile.dat"))
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[0])
	assert.Equal(t, "1", fields[0])
	assert.Equal(t, "4.000000E+01", fields[4], "symptomatic bin 0")

	icu := strings.Fields(readLines(t, filepath.Join(dir, "Spain", "Spain_Ufile.dat"))[1])
	assert.Equal(t, "2", icu[0])
	assert.Equal(t, "2.500000E-01", icu[12])
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	res := testResult(5)

	path, err := WriteWorkbook(dir, "Italy", res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Italy", "Italy.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "Totals", "Final"}, f.GetSheetList())

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"Run", "Italy"}, summary[0])
	assert.Equal(t, []string{"Termination", "horizon"}, summary[1])

	totals, err := f.GetRows("Totals")
	require.NoError(t, err)
	require.Len(t, totals, 7)
	assert.Equal(t, "susceptible", totals[0][5])
	assert.Equal(t, "icu", totals[0][14])
	assert.Equal(t, "5", totals[6][0])

	final, err := f.GetRows("Final")
	require.NoError(t, err)
	require.Len(t, final, 10)
	assert.Equal(t, "fatalities", final[9][0])
	assert.Equal(t, "0.08", final[9][1])

	_, err = WriteWorkbook(dir, "Empty", nil)
	assert.Error(t, err)
}

func TestWriteCharts(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteCharts(dir, "Sweden", testResult(20).Trajectory)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
		assert.Equal(t, ".png", filepath.Ext(p))
	}

	_, err = WriteCharts(dir, "None", nil)
	assert.Error(t, err)
}

func TestThin(t *testing.T) {
	traj := testResult(99).Trajectory
	assert.Len(t, thin(traj, 200), 100)

	out := thin(traj, 10)
	require.Len(t, out, 10)
	assert.Equal(t, 0, out[0].Step)
	assert.Equal(t, 99, out[9].Step)
	for i := 1; i < len(out); i++ {
		assert.Greater(t, out[i].Step, out[i-1].Step)
	}
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats([]string{"dat", " CSV ", "dat", "png"})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatDat, FormatCSV, FormatPNG}, got)

	_, err = ParseFormats([]string{"pdf"})
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestMultiRecorder(t *testing.T) {
	var a, b []int
	m := MultiRecorder{
		epidemic.RecorderFunc(func(f epidemic.Frame) error { a = append(a, f.Step); return nil }),
		epidemic.RecorderFunc(func(f epidemic.Frame) error { b = append(b, f.Step); return nil }),
	}
	require.NoError(t, m.Record(testFrame(4)))
	assert.Equal(t, []int{4}, a)
	assert.Equal(t, []int{4}, b)

	failing := MultiRecorder{
		epidemic.RecorderFunc(func(epidemic.Frame) error { return assert.AnError }),
		epidemic.RecorderFunc(func(f epidemic.Frame) error { b = append(b, f.Step); return nil }),
	}
	assert.ErrorIs(t, failing.Record(testFrame(5)), assert.AnError)
	assert.Equal(t, []int{4}, b, "later recorders skipped after an error")
}

func TestSink_AllFormats(t *testing.T) {
	dir := t.TempDir()
	logger, capture := testutil.NewTestLogger(t)

	sink, err := NewSink(dir, "Italy", []string{"dat", "csv", "xlsx", "png"}, logger)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Italy"), sink.Dir())

	for step := 1; step <= 3; step++ {
		require.NoError(t, sink.Record(testFrame(step)))
	}
	files, err := sink.Finish(testResult(3))
	require.NoError(t, err)

	// 9 dat + trajectory csv + summary csv + workbook + 2 charts
	assert.Len(t, files, 14)
	for _, f := range files {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}
	assert.True(t, capture.ContainsMessage("run outputs written"))
	assert.NoError(t, sink.Close(), "close after finish is a no-op")

	summary := readLines(t, filepath.Join(dir, "Italy", "Italy_summary.csv"))
	assert.Equal(t, "metric,value", strings.TrimPrefix(summary[0], "\ufeff"))
	assert.Contains(t, summary, "total_fatalities,1000")
	assert.Contains(t, summary, "population,1000000")
}

func TestSink_Rejects(t *testing.T) {
	dir := t.TempDir()

	_, err := NewSink(dir, "Italy", []string{"gif"}, nil)
	assert.True(t, apperrors.IsConfigurationError(err))

	for _, name := range []string{"", "..", "a/b"} {
		_, err := NewSink(dir, name, []string{"dat"}, nil)
		assert.True(t, apperrors.IsConfigurationError(err), "name %q", name)
	}
}

func TestSink_FinishWithoutResult(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir, "Run", []string{"csv", "xlsx"}, nil)
	require.NoError(t, err)

	files, err := sink.Finish(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "Run", "Run_trajectory.csv")}, files)
}
