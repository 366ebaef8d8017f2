package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// WindowStats holds aggregated solver statistics for a time window.
type WindowStats struct {
	WindowStartFrame int     `csv:"-"`
	WindowEndFrame   int     `csv:"window_end"`
	SimTimeSec       float64 `csv:"sim_time"`
	Steps            int     `csv:"steps"`
	Failures         int     `csv:"failures"`

	// Cell classification at window end
	FluidCells int `csv:"fluid_cells"`
	AirCells   int `csv:"air_cells"`
	SolidCells int `csv:"solid_cells"`

	// Density over fluid cells
	TargetDensity float64 `csv:"target_density"`
	DensityMean   float64 `csv:"density_mean"`
	DensityP50    float64 `csv:"density_p50"`
	DensityP90    float64 `csv:"density_p90"`
	DensityMax    float64 `csv:"density_max"`
	MaxExcess     float64 `csv:"max_excess"` // max(density - target) over fluid cells

	// Particle speeds
	SpeedMean float64 `csv:"speed_mean"`
	SpeedP90  float64 `csv:"speed_p90"`
	SpeedMax  float64 `csv:"speed_max"`
	MinY      float64 `csv:"min_y"`

	// Solver residuals (‖r‖∞ after the fixed iteration count)
	DensityResidual  float64 `csv:"density_residual"`
	PressureResidual float64 `csv:"pressure_residual"`
	Converged        bool    `csv:"converged"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Distribution summarises a sample.
type Distribution struct {
	Mean, P10, P50, P90, Max float64
}

// ComputeDistribution calculates mean, percentiles and max. values is not
// modified.
func ComputeDistribution(values []float64) Distribution {
	n := len(values)
	if n == 0 {
		return Distribution{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	return Distribution{
		Mean: floats.Sum(sorted) / float64(n),
		P10:  Percentile(sorted, 0.10),
		P50:  Percentile(sorted, 0.50),
		P90:  Percentile(sorted, 0.90),
		Max:  floats.Max(sorted),
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartFrame),
		slog.Int("window_end", s.WindowEndFrame),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("steps", s.Steps),
		slog.Int("failures", s.Failures),
		slog.Int("fluid_cells", s.FluidCells),
		slog.Int("air_cells", s.AirCells),
		slog.Int("solid_cells", s.SolidCells),
		slog.Float64("target_density", s.TargetDensity),
		slog.Float64("density_mean", s.DensityMean),
		slog.Float64("density_p90", s.DensityP90),
		slog.Float64("max_excess", s.MaxExcess),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_max", s.SpeedMax),
		slog.Float64("density_residual", s.DensityResidual),
		slog.Float64("pressure_residual", s.PressureResidual),
		slog.Bool("converged", s.Converged),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("stats", "window", s)
}
