package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covidseir/internal/epidemic"
)

// Setup test environment
func setupTestEnv(t *testing.T) (*CSVWriter, string) {
	t.Helper()
	tempDir := t.TempDir()
	return NewCSVWriter(tempDir), tempDir
}

func TestCSVWriter_WriteCSV(t *testing.T) {
	writer, tempDir := setupTestEnv(t)

	tests := []struct {
		name     string
		filePath string
		options  WriteOptions
		validate func(t *testing.T, filePath string)
	}{
		{
			name:     "basic write with headers",
			filePath: "test_basic.csv",
			options: WriteOptions{
				Headers: []string{"country", "lockdown", "release"},
				Records: [][]string{
					{"Italy", "3/09/20", "none"},
					{"Spain", "3/14/20", "none"},
				},
			},
			validate: func(t *testing.T, filePath string) {
				content, err := os.ReadFile(filePath)
				require.NoError(t, err)

				lines := strings.Split(strings.TrimSpace(string(content)), "\n")
				assert.Len(t, lines, 3) // header + 2 records
				assert.Equal(t, "country,lockdown,release", lines[0])
				assert.Equal(t, "Italy,3/09/20,none", lines[1])
				assert.Equal(t, "Spain,3/14/20,none", lines[2])
			},
		},
		{
			name:     "write with BOM prefix",
			filePath: "test_bom.csv",
			options: WriteOptions{
				Headers:   []string{"metric", "value"},
				Records:   [][]string{{"final_rt", "0.8"}},
				BOMPrefix: true,
			},
			validate: func(t *testing.T, filePath string) {
				content, err := os.ReadFile(filePath)
				require.NoError(t, err)

				assert.True(t, bytes.HasPrefix(content, []byte{0xEF, 0xBB, 0xBF}))
				lines := strings.Split(strings.TrimSpace(string(content[3:])), "\n")
				assert.Equal(t, "metric,value", lines[0])
				assert.Equal(t, "final_rt,0.8", lines[1])
			},
		},
		{
			name:     "nested directory is created",
			filePath: filepath.Join("Italy", "nested.csv"),
			options: WriteOptions{
				Records: [][]string{{"a", "b"}},
			},
			validate: func(t *testing.T, filePath string) {
				content, err := os.ReadFile(filePath)
				require.NoError(t, err)
				assert.Equal(t, "a,b\n", string(content))
			},
		},
		{
			name:     "empty records",
			filePath: "test_empty.csv",
			options: WriteOptions{
				Headers: []string{"Col1", "Col2"},
				Records: [][]string{},
			},
			validate: func(t *testing.T, filePath string) {
				content, err := os.ReadFile(filePath)
				require.NoError(t, err)

				lines := strings.Split(strings.TrimSpace(string(content)), "\n")
				assert.Len(t, lines, 1) // only headers
				assert.Equal(t, "Col1,Col2", lines[0])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, writer.WriteCSV(tt.filePath, tt.options))
			tt.validate(t, filepath.Join(tempDir, tt.filePath))
		})
	}
}

func TestCSVWriter_Append(t *testing.T) {
	writer, tempDir := setupTestEnv(t)

	require.NoError(t, writer.WriteSimpleCSV("append.csv", []string{"Col1", "Col2"}, [][]string{{"a", "b"}}))
	require.NoError(t, writer.WriteCSV("append.csv", WriteOptions{
		Headers:   []string{"ignored", "on append"},
		Records:   [][]string{{"c", "d"}},
		Append:    true,
		BOMPrefix: true,
	}))

	content, err := os.ReadFile(filepath.Join(tempDir, "append.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(content, []byte{0xEF, 0xBB, 0xBF}), "BOM written once")
	lines := strings.Split(strings.TrimSpace(string(content[3:])), "\n")
	assert.Equal(t, []string{"Col1,Col2", "a,b", "c,d"}, lines)
}

func TestCSVWriter_ResolvePath(t *testing.T) {
	writer := NewCSVWriter("/data/output")

	assert.Equal(t, "/abs/file.csv", writer.resolvePath("/abs/file.csv"))
	assert.Equal(t, filepath.Join("/data/output", "Italy", "x.csv"), writer.resolvePath(filepath.Join("Italy", "x.csv")))
	assert.Equal(t, "rel.csv", NewCSVWriter("").resolvePath("rel.csv"))
}

func TestCSVWriter_SpecialCharacters(t *testing.T) {
	writer, tempDir := setupTestEnv(t)

	headers := []string{"country", "note"}
	records := [][]string{
		{"Korea, South", "quoted \"name\""},
		{"Côte d'Ivoire", "line\nbreak"},
	}
	require.NoError(t, writer.WriteSimpleCSV("special.csv", headers, records))

	file, err := os.Open(filepath.Join(tempDir, "special.csv"))
	require.NoError(t, err)
	defer file.Close()

	bom := make([]byte, 3)
	_, err = file.Read(bom)
	require.NoError(t, err)

	all, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, append([][]string{headers}, records...), all)
}

func TestCSVWriter_ConcurrentWrites(t *testing.T) {
	writer, tempDir := setupTestEnv(t)

	const numGoroutines = 8
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs <- writer.WriteSimpleCSV(fmt.Sprintf("run_%d.csv", id), []string{"id"}, [][]string{{fmt.Sprint(id)}})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(tempDir, "run_*.csv"))
	require.NoError(t, err)
	assert.Len(t, files, numGoroutines)
}

func TestStreamWriter(t *testing.T) {
	writer, tempDir := setupTestEnv(t)

	stream, err := writer.CreateStreamWriter("stream.csv", []string{"step", "value"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, stream.WriteRecord([]string{fmt.Sprint(i), fmt.Sprint(i * i)}))
	}
	require.NoError(t, stream.Close())
	assert.Equal(t, filepath.Join(tempDir, "stream.csv"), stream.Path())

	content, err := os.ReadFile(stream.Path())
	require.NoError(t, err)
	assert.Equal(t, "step,value\n0,0\n1,1\n2,4\n", string(content))
}

func testFrame(step int) epidemic.Frame {
	var f epidemic.Frame
	f.Step = step
	f.Time = float64(step) * 0.5
	f.Dt = 0.5
	f.Rt = 2.5
	for c := range f.Values {
		for b := range f.Values[c] {
			f.Values[c][b] = float64(c*10 + b)
		}
	}
	for b := range f.ICU {
		f.ICU[b] = 0.25
	}
	return f
}

func TestCSVRecorder(t *testing.T) {
	writer, tempDir := setupTestEnv(t)

	rec, err := NewCSVRecorder(writer, "Italy")
	require.NoError(t, err)
	require.NoError(t, rec.Record(testFrame(1)))
	require.NoError(t, rec.Record(testFrame(2)))
	require.NoError(t, rec.Close())

	path := filepath.Join(tempDir, "Italy", "Italy_trajectory.csv")
	assert.Equal(t, []string{path}, rec.Files())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 1+2*(epidemic.NumCompartments+1))
	assert.Equal(t, TrajectoryHeaders(), rows[0])
	assert.Len(t, rows[0], 5+epidemic.Bins)

	assert.Equal(t, []string{"1", "0.5", "0.5", "2.5", "S", "0", "1", "2", "3", "4", "5", "6", "7", "8"}, rows[1])
	assert.Equal(t, "E", rows[3][4])
	assert.Equal(t, "22", rows[3][7], "exposed bin 2")
	icu := rows[1+epidemic.NumCompartments]
	assert.Equal(t, "U", icu[4])
	assert.Equal(t, "0.25", icu[13])
	assert.Equal(t, "2", rows[len(rows)-1][0])
}
