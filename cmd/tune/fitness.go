package main

import (
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/controller"
	"github.com/pthm-cable/flip/telemetry"
	"github.com/pthm-cable/flip/terrain"
)

// failedFitness is returned for configurations that cannot run.
const failedFitness = 1e6

// Fitness component weights.
const (
	weightExcess    = 1.0 // relative overshoot of the target density
	weightSpeed     = 0.2 // residual particle motion once settled
	weightStability = 0.5 // spread of mean density across windows

	warmupFraction = 0.5 // leading share of windows ignored while the block falls
)

// FitnessEvaluator runs headless simulations and scores how well the liquid
// settles (lower = better).
type FitnessEvaluator struct {
	params     *ParamVector
	maxFrames  int
	scenarios  []float64 // particle count multipliers
	baseConfig *config.Config
	terrain    terrain.Provider
	logger     *slog.Logger

	mu          sync.Mutex
	bestFitness float64
	bestStats   []telemetry.WindowStats
	lastExcess  float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, maxFrames int, scenarios []float64, baseCfg *config.Config, t terrain.Provider) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		maxFrames:   maxFrames,
		scenarios:   scenarios,
		baseConfig:  baseCfg,
		terrain:     t,
		logger:      slog.New(slog.DiscardHandler),
		bestFitness: math.Inf(1),
	}
}

// BestStats returns the window stats of the best scenario run so far.
func (fe *FitnessEvaluator) BestStats() []telemetry.WindowStats {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestStats
}

// LastExcess returns the mean relative density excess of the most recent
// evaluation.
func (fe *FitnessEvaluator) LastExcess() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastExcess
}

// runResult holds the results from a single simulation run.
type runResult struct {
	windows []telemetry.WindowStats
	failed  bool
}

// Evaluate computes fitness for raw parameter values averaged over every
// scenario.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]runResult, len(fe.scenarios))
	var wg sync.WaitGroup
	for i, scale := range fe.scenarios {
		wg.Add(1)
		go func(idx int, scale float64) {
			defer wg.Done()
			results[idx] = fe.runSimulation(x, scale)
		}(i, scale)
	}
	wg.Wait()

	var total, excess float64
	best := math.Inf(1)
	var bestWindows []telemetry.WindowStats
	for _, r := range results {
		f := computeFitness(r)
		total += f
		excess += meanExcess(settled(r.windows))
		if f < best {
			best, bestWindows = f, r.windows
		}
	}
	n := float64(len(results))
	avg := total / n

	fe.mu.Lock()
	if avg < fe.bestFitness {
		fe.bestFitness = avg
		fe.bestStats = bestWindows
	}
	fe.lastExcess = excess / n
	fe.mu.Unlock()

	return avg
}

// runSimulation executes a single headless run with the given particle count
// multiplier.
func (fe *FitnessEvaluator) runSimulation(x []float64, scale float64) runResult {
	cfg := fe.baseConfig.Clone()
	fe.params.ApplyToConfig(cfg, x)
	cfg.Particles.Count = max(int(float64(cfg.Particles.Count)*scale), 1)
	if err := cfg.Refresh(); err != nil {
		return runResult{failed: true}
	}

	ctrl, err := controller.New(controller.Options{
		Config:    cfg,
		Terrain:   fe.terrain,
		Logger:    fe.logger,
		MaxFrames: fe.maxFrames,
	})
	if err != nil {
		return runResult{failed: true}
	}
	defer ctrl.Close()

	var result runResult
	ctrl.Start()
	for ctrl.State() == controller.StateRunning {
		last := ctrl.LastStats().WindowEndFrame
		err := ctrl.Tick()
		ctrl.EndFrame()
		if err != nil {
			result.failed = true
			return result
		}
		if w := ctrl.LastStats(); w.WindowEndFrame != last {
			result.windows = append(result.windows, w)
		}
	}
	return result
}

// settled drops the warmup windows.
func settled(windows []telemetry.WindowStats) []telemetry.WindowStats {
	skip := int(float64(len(windows)) * warmupFraction)
	return windows[skip:]
}

// computeFitness scores one run (lower = better).
func computeFitness(r runResult) float64 {
	valid := settled(r.windows)
	if r.failed || len(valid) == 0 {
		return failedFitness
	}

	speeds := make([]float64, 0, len(valid))
	densities := make([]float64, 0, len(valid))
	for _, w := range valid {
		if w.Failures > 0 || math.IsNaN(w.DensityMean) || math.IsNaN(w.SpeedMean) {
			return failedFitness
		}
		speeds = append(speeds, w.SpeedMean)
		densities = append(densities, w.DensityMean)
	}

	f := weightExcess*meanExcess(valid) +
		weightSpeed*stat.Mean(speeds, nil) +
		weightStability*cv(densities)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return failedFitness
	}
	return f
}

// meanExcess averages MaxExcess relative to the target density.
func meanExcess(windows []telemetry.WindowStats) float64 {
	if len(windows) == 0 {
		return 0
	}
	var sum float64
	for _, w := range windows {
		if w.TargetDensity > 0 {
			sum += w.MaxExcess / w.TargetDensity
		}
	}
	return sum / float64(len(windows))
}

// cv computes the coefficient of variation (std/mean).
func cv(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / math.Abs(mean)
}
