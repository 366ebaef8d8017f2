package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/telemetry"
	"github.com/pthm-cable/flip/terrain"
)

func window(excess, target, speed, density float64) telemetry.WindowStats {
	return telemetry.WindowStats{
		WindowEndFrame: 1,
		TargetDensity:  target,
		MaxExcess:      excess,
		SpeedMean:      speed,
		DensityMean:    density,
	}
}

func TestComputeFitness(t *testing.T) {
	calm := []telemetry.WindowStats{
		window(5, 1, 3, 1), // warmup, ignored
		window(5, 1, 3, 1), // warmup, ignored
		window(0.1, 1, 0.05, 1),
		window(0.1, 1, 0.05, 1),
	}
	sloshing := []telemetry.WindowStats{
		window(0, 1, 0, 1),
		window(0, 1, 0, 1),
		window(0.8, 1, 1.5, 0.6),
		window(0.4, 1, 1.0, 1.4),
	}

	tests := []struct {
		name string
		run  runResult
		want float64
	}{
		{"calm", runResult{windows: calm}, weightExcess*0.1 + weightSpeed*0.05},
		{"failed", runResult{windows: calm, failed: true}, failedFitness},
		{"no windows", runResult{}, failedFitness},
		{"nan", runResult{windows: []telemetry.WindowStats{window(0, 1, math.NaN(), 1)}}, failedFitness},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, computeFitness(tt.run), 1e-9)
		})
	}

	assert.Less(t, computeFitness(runResult{windows: calm}), computeFitness(runResult{windows: sloshing}))
}

func TestCV(t *testing.T) {
	assert.Equal(t, 0.0, cv([]float64{3}))
	assert.Equal(t, 0.0, cv([]float64{2, 2, 2}))
	assert.InDelta(t, math.Sqrt2/2, cv([]float64{1, 3}), 1e-9) // sample std sqrt(2), mean 2
}

func TestEvaluateSmallRun(t *testing.T) {
	cfg := config.Default()
	cfg.Grid.SizeX, cfg.Grid.SizeY = 16, 16
	cfg.World.LengthX, cfg.World.LengthY = 1, 1
	cfg.Particles.Count = 200
	cfg.Compute.Workers = 2
	cfg.Solver.MaxIterations = 20
	cfg.Telemetry.StatsWindow = 4 * cfg.Physics.DT
	require.NoError(t, cfg.Refresh())

	pv := NewParamVector()
	fe := NewFitnessEvaluator(pv, 16, []float64{1, 0.5}, cfg, terrain.Flat(1))

	f := fe.Evaluate(pv.ExtractFromConfig(cfg))
	assert.Less(t, f, float64(failedFitness))
	assert.GreaterOrEqual(t, f, 0.0)
	assert.Len(t, fe.BestStats(), 4)
	assert.GreaterOrEqual(t, fe.LastExcess(), 0.0)
}
