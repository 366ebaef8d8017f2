package main

import (
	"math"

	"github.com/pthm-cable/flip/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name string  // Human-readable name
	Path string  // Config path for logging
	Min  float64 // Lower bound
	Max  float64 // Upper bound
}

// ParamVector holds the set of tunable solver parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of tunable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "pressure_stiffness", Path: "solver.pressure_stiffness", Min: 0.1, Max: 5.0},
			{Name: "correction_strength", Path: "physics.density_correction_strength", Min: 0.0, Max: 3.0},
			{Name: "push_apart_steps", Path: "particles.push_apart_steps", Min: 0, Max: 8},
			{Name: "pic_flip_ratio", Path: "physics.pic_flip_ratio", Min: 0.5, Max: 1.0},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig clamps values and writes them into cfg. Order must match
// Specs. The caller refreshes derived values.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.Solver.PressureStiffness = clamped[0]
	cfg.Physics.DensityCorrectionStrength = clamped[1]
	cfg.Particles.PushApartSteps = int(math.Round(clamped[2]))
	cfg.Physics.PicFlipRatio = clamped[3]
}

// ExtractFromConfig extracts current parameter values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Solver.PressureStiffness,
		cfg.Physics.DensityCorrectionStrength,
		float64(cfg.Particles.PushApartSteps),
		cfg.Physics.PicFlipRatio,
	}
}
