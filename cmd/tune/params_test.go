package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/config"
)

func TestNormalizeRoundTrip(t *testing.T) {
	pv := NewParamVector()
	raw := []float64{2.0, 1.5, 4, 0.9}
	back := pv.Denormalize(pv.Normalize(raw))
	assert.InDeltaSlice(t, raw, back, 1e-12)
}

func TestClamp(t *testing.T) {
	pv := NewParamVector()
	got := pv.Clamp([]float64{-1, 10, 3, 0.2})
	assert.Equal(t, []float64{0.1, 3.0, 3, 0.5}, got)
}

func TestApplyAndExtract(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"in range", []float64{1.25, 0.5, 2, 0.95}, []float64{1.25, 0.5, 2, 0.95}},
		{"push apart rounds", []float64{1, 1, 2.6, 0.9}, []float64{1, 1, 3, 0.9}},
		{"clamped", []float64{9, -2, 20, 0}, []float64{5, 0, 8, 0.5}},
	}
	pv := NewParamVector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			pv.ApplyToConfig(cfg, tt.in)
			require.NoError(t, cfg.Refresh())
			assert.InDeltaSlice(t, tt.want, pv.ExtractFromConfig(cfg), 1e-12)
		})
	}
}
