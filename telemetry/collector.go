package telemetry

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/flip/fluid"
)

// Snapshot is the post-step readback a window is summarised from.
type Snapshot struct {
	Positions  []float32 // interleaved x,y
	Velocities []float32 // interleaved x,y
	Density    []float32
	CellTypes  []uint32

	TargetDensity    float32
	DensityResidual  float32
	PressureResidual float32
	Tolerance        float64
}

// Collector accumulates step outcomes within time windows and produces
// WindowStats.
type Collector struct {
	windowDurationSec    float64
	windowDurationFrames int
	dt                   float64

	// Current window tracking
	windowStartFrame int

	steps    int
	failures int
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per step (used for frame-to-time conversion)
func NewCollector(windowDurationSec, dt float64) *Collector {
	framesPerWindow := max(int(math.Round(windowDurationSec/dt)), 1)
	return &Collector{
		windowDurationSec:    windowDurationSec,
		windowDurationFrames: framesPerWindow,
		dt:                   dt,
	}
}

// RecordStep records a completed step.
func (c *Collector) RecordStep() { c.steps++ }

// RecordFailure records a failed step.
func (c *Collector) RecordFailure() { c.failures++ }

// WindowFrames returns the number of frames per window.
func (c *Collector) WindowFrames() int { return c.windowDurationFrames }

// ShouldFlush returns true if enough frames have passed to flush the window.
func (c *Collector) ShouldFlush(currentFrame int) bool {
	return currentFrame-c.windowStartFrame >= c.windowDurationFrames
}

// Reset restarts windowing at frame.
func (c *Collector) Reset(frame int) {
	c.windowStartFrame = frame
	c.steps = 0
	c.failures = 0
}

// Flush produces a WindowStats from snap and resets counters for the next
// window.
func (c *Collector) Flush(currentFrame int, snap Snapshot) WindowStats {
	stats := WindowStats{
		WindowStartFrame: c.windowStartFrame,
		WindowEndFrame:   currentFrame,
		SimTimeSec:       float64(currentFrame) * c.dt,
		Steps:            c.steps,
		Failures:         c.failures,
		TargetDensity:    float64(snap.TargetDensity),
		DensityResidual:  float64(snap.DensityResidual),
		PressureResidual: float64(snap.PressureResidual),
	}
	stats.Converged = stats.DensityResidual <= snap.Tolerance && stats.PressureResidual <= snap.Tolerance

	var fluidDensity []float64
	for i, ct := range snap.CellTypes {
		switch ct {
		case fluid.CellFluid:
			stats.FluidCells++
			if i < len(snap.Density) {
				fluidDensity = append(fluidDensity, float64(snap.Density[i]))
			}
		case fluid.CellAir:
			stats.AirCells++
		case fluid.CellSolid:
			stats.SolidCells++
		}
	}
	density := ComputeDistribution(fluidDensity)
	stats.DensityMean = density.Mean
	stats.DensityP50 = density.P50
	stats.DensityP90 = density.P90
	stats.DensityMax = density.Max
	if len(fluidDensity) > 0 {
		stats.MaxExcess = math.Max(0, density.Max-stats.TargetDensity)
	}

	speeds := Speeds(snap.Velocities)
	speed := ComputeDistribution(speeds)
	stats.SpeedMean = speed.Mean
	stats.SpeedP90 = speed.P90
	stats.SpeedMax = speed.Max

	if ys := Column(snap.Positions, 1); len(ys) > 0 {
		stats.MinY = floats.Min(ys)
	}

	c.Reset(currentFrame)
	return stats
}

// Speeds returns |v| for each interleaved velocity pair.
func Speeds(velocities []float32) []float64 {
	out := make([]float64, len(velocities)/2)
	for i := range out {
		out[i] = math.Hypot(float64(velocities[2*i]), float64(velocities[2*i+1]))
	}
	return out
}

// Column extracts component k (0 = x, 1 = y) of interleaved pairs.
func Column(pairs []float32, k int) []float64 {
	out := make([]float64, len(pairs)/2)
	for i := range out {
		out[i] = float64(pairs[2*i+k])
	}
	return out
}
