package epidemic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "covidseir/internal/errors"
)

// exponentialHistory returns daily cumulative deaths growing 20% a day over
// model days -30..0.
func exponentialHistory() (times, deaths []float64) {
	for d := -30; d <= 0; d++ {
		times = append(times, float64(d))
		deaths = append(deaths, math.Exp(0.2*float64(d+30)))
	}
	return times, deaths
}

func TestGradient(t *testing.T) {
	x := []float64{0, 1, 3, 4}
	f := make([]float64, len(x))
	for i, v := range x {
		f[i] = v * v
	}

	g := Gradient(f, x)
	assert.InDelta(t, 1, g[0], 1e-12)
	assert.InDelta(t, 2, g[1], 1e-12, "exact for quadratics on uneven grid")
	assert.InDelta(t, 6, g[2], 1e-12)
	assert.InDelta(t, 7, g[3], 1e-12)

	assert.Equal(t, []float64{0}, Gradient([]float64{5}, []float64{1}))
}

func TestNewHistory(t *testing.T) {
	times, deaths := exponentialHistory()
	h, err := NewHistory(times, deaths, 1e6)
	require.NoError(t, err)

	assert.Equal(t, -30.0, h.Start())
	assert.Equal(t, 0.0, h.End())
	assert.InDelta(t, deaths[10]/1e6, h.Deaths[10], 1e-18)
	assert.Len(t, h.Rate, len(times))

	mid, err := h.RateAt(-14.5)
	require.NoError(t, err)
	assert.InDelta(t, (h.Rate[15]+h.Rate[16])/2, mid, 1e-15)
}

func TestNewHistory_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		times  []float64
		deaths []float64
	}{
		{"length mismatch", []float64{0, 1, 2}, []float64{1, 2}},
		{"single sample", []float64{0}, []float64{1}},
		{"descending", []float64{0, 2, 1}, []float64{1, 2, 3}},
		{"duplicate date", []float64{0, 1, 1}, []float64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHistory(tt.times, tt.deaths, 1e6)
			require.Error(t, err)
			assert.True(t, apperrors.IsDataAlignmentError(err))
		})
	}
}

func TestHistory_RateAtOutOfRange(t *testing.T) {
	times, deaths := exponentialHistory()
	h, err := NewHistory(times, deaths, 1e6)
	require.NoError(t, err)

	_, err = h.RateAt(-30.5)
	require.Error(t, err)
	assert.True(t, apperrors.IsCalibrationRangeError(err))

	_, err = h.RateAt(0.1)
	assert.True(t, apperrors.IsCalibrationRangeError(err))
}

func seededState(t *testing.T, fraction float64) *State {
	t.Helper()
	s, err := NewState(uniformWeights())
	require.NoError(t, err)
	require.NoError(t, s.Seed(4, Symptomatic, fraction))
	return s
}

func TestEstimator_CalibrationRegime(t *testing.T) {
	times, deaths := exponentialHistory()
	h, err := NewHistory(times, deaths, 1e6)
	require.NoError(t, err)
	p := DefaultParameters()
	e := NewEstimator(h, p, 2.8)
	s := seededState(t, 1e-4)

	// retarded time -30 + 14 = -16 is an observation day
	beta, err := e.Beta(-30, s)
	require.NoError(t, err)

	want := h.Rate[14] / (1e-4 * p.Fatality.Dot(s.X[Susceptible]))
	assert.InDelta(t, want, beta, want*1e-12)
	assert.True(t, e.Calibrated())

	// projection regime holds the last calibrated value
	held, err := e.Beta(-14, s)
	require.NoError(t, err)
	assert.Equal(t, beta, held)
	held, err = e.Beta(50, s)
	require.NoError(t, err)
	assert.Equal(t, beta, held)
}

func TestEstimator_RetardedTimeBeforeHistory(t *testing.T) {
	times, deaths := exponentialHistory()
	h, err := NewHistory(times, deaths, 1e6)
	require.NoError(t, err)
	e := NewEstimator(h, DefaultParameters(), 2.8)

	_, err = e.Beta(-50, seededState(t, 1e-4))
	require.Error(t, err)
	assert.True(t, apperrors.IsCalibrationRangeError(err))
}

func TestEstimator_Fallbacks(t *testing.T) {
	p := DefaultParameters()

	t.Run("no history", func(t *testing.T) {
		e := NewEstimator(nil, p, 2.8)
		beta, err := e.Beta(-100, seededState(t, 1e-4))
		require.NoError(t, err)
		assert.InDelta(t, 2.8*p.Gamma, beta, 1e-15)
		assert.False(t, e.Calibrated())
	})

	t.Run("no infectious mass", func(t *testing.T) {
		times, deaths := exponentialHistory()
		h, err := NewHistory(times, deaths, 1e6)
		require.NoError(t, err)
		e := NewEstimator(h, p, 2.8)
		s, err := NewState(uniformWeights())
		require.NoError(t, err)

		beta, err := e.Beta(-20, s)
		require.NoError(t, err)
		assert.Equal(t, e.Fallback(), beta)
	})

	t.Run("projection before any calibration", func(t *testing.T) {
		times, deaths := exponentialHistory()
		h, err := NewHistory(times, deaths, 1e6)
		require.NoError(t, err)
		e := NewEstimator(h, p, 3)
		beta, err := e.Beta(0, seededState(t, 1e-4))
		require.NoError(t, err)
		assert.InDelta(t, 3*p.Gamma, beta, 1e-15)
	})
}

func TestEstimator_NegativeRateClamped(t *testing.T) {
	times := []float64{-20, -19, -18, -17, -16, -15, -14, -13, -12, -11, -10}
	deaths := []float64{10, 12, 14, 16, 15, 14, 13, 13, 14, 15, 16}
	h, err := NewHistory(times, deaths, 1e6)
	require.NoError(t, err)
	e := NewEstimator(h, DefaultParameters(), 2.8)

	// retarded time -15 sits in the downward revision
	beta, err := e.Beta(-29, seededState(t, 1e-4))
	require.NoError(t, err)
	assert.Zero(t, beta)
}
