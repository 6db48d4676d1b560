package epidemic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "covidseir/internal/errors"
)

func uniformWeights() Vector {
	var w Vector
	for i := range w {
		w[i] = 0.1
	}
	// renormalized so the bins sum to one
	return w.Scale(1 / w.Sum())
}

func TestNewParameters_Defaults(t *testing.T) {
	p := DefaultParameters()

	assert.InDelta(t, 1/5.2, p.Sigma, 1e-15)
	assert.InDelta(t, 1/2.9, p.Gamma, 1e-15)
	assert.InDelta(t, 0.2, p.Xi, 1e-15)
	assert.InDelta(t, 0.1, p.Eta, 1e-15)
	assert.InDelta(t, 1.0/14, p.Theta, 1e-15)
	assert.Equal(t, 0.6, p.P)
	assert.Equal(t, 0.8, p.W)
	assert.Equal(t, DefaultFatality, p.Fatality)
}

func TestNewParameters_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ts *Timescales, p, w *float64, mu *Vector)
	}{
		{"zero incubation", func(ts *Timescales, _, _ *float64, _ *Vector) { ts.Incubation = 0 }},
		{"negative infection", func(ts *Timescales, _, _ *float64, _ *Vector) { ts.Infection = -1 }},
		{"NaN death", func(ts *Timescales, _, _ *float64, _ *Vector) { ts.Death = math.NaN() }},
		{"infinite hospitalized", func(ts *Timescales, _, _ *float64, _ *Vector) { ts.Hospitalized = math.Inf(1) }},
		{"symptomatic above one", func(_ *Timescales, p, _ *float64, _ *Vector) { *p = 1.2 }},
		{"recovery below zero", func(_ *Timescales, _, w *float64, _ *Vector) { *w = -0.1 }},
		{"fatality above one", func(_ *Timescales, _, _ *float64, mu *Vector) { mu[8] = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := DefaultTimescales()
			p, w := 0.6, 0.8
			mu := DefaultFatality
			tt.mutate(&ts, &p, &w, &mu)

			_, err := NewParameters(ts, p, w, mu, DefaultHospitalization, DefaultCriticalCare)
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigurationError(err))
		})
	}
}

func TestFatalityRate(t *testing.T) {
	p := DefaultParameters()

	rate := p.FatalityRate(uniformWeights())
	assert.InDelta(t, DefaultFatality.Sum()/9, rate, 1e-15)

	var old Vector
	old[8] = 1
	assert.InDelta(t, 0.093, p.FatalityRate(old), 1e-15)

	assert.Zero(t, p.FatalityRate(Vector{}))
}

func TestVectorFrom(t *testing.T) {
	v, err := VectorFrom([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, err)
	assert.Equal(t, 45.0, v.Sum())

	_, err = VectorFrom([]float64{1, 2})
	assert.Error(t, err)
}

func TestRt(t *testing.T) {
	p := DefaultParameters()
	assert.InDelta(t, 2.8, p.Rt(2.8*p.Gamma), 1e-12)
}
