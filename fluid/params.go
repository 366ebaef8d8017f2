package fluid

import (
	"fmt"
	"math"

	"github.com/pthm-cable/flip/config"
)

// Cell types stored in the cellType buffer.
const (
	cellAir   uint32 = 0
	cellFluid uint32 = 1
	cellSolid uint32 = 2
)

// Exported mirrors of the cell type values for readback consumers.
const (
	CellAir   = cellAir
	CellFluid = cellFluid
	CellSolid = cellSolid
)

const (
	// Cells whose open fraction falls below this are treated as solid.
	minVolumeFraction = 0.1

	// Alpha and beta are zeroed when a denominator falls below this.
	pcgGuard = 1e-30

	// Explicit viscosity is unstable above this diffusion number.
	maxViscosityCoefficient = 0.25

	// Position correction is clamped to this fraction of a cell per step.
	maxCorrectionCells = 0.5
)

// PhysicsParams are the constants that may be retuned between steps.
type PhysicsParams struct {
	GravityX                  float32
	GravityY                  float32
	DT                        float32
	Viscosity                 float32
	ViscosityEnabled          bool
	FluidDensity              float32
	TargetDensity             float32 // 0 = measured at setup
	DensityCorrectionStrength float32
	PressureStiffness         float32
	VelocityDamping           float32
	PicFlipRatio              float32
	NormalRestitution         float32
	TangentRestitution        float32
	SolverIterations          int
}

// PhysicsFromConfig extracts the tunable physics constants from cfg.
func PhysicsFromConfig(cfg *config.Config) PhysicsParams {
	return PhysicsParams{
		GravityX:                  float32(cfg.Physics.GravityX),
		GravityY:                  float32(cfg.Physics.GravityY),
		DT:                        cfg.Derived.DT32,
		Viscosity:                 float32(cfg.Physics.Viscosity),
		ViscosityEnabled:          cfg.Physics.ViscosityEnabled,
		FluidDensity:              float32(cfg.Physics.FluidDensity),
		TargetDensity:             float32(cfg.Physics.TargetDensity),
		DensityCorrectionStrength: float32(cfg.Physics.DensityCorrectionStrength),
		PressureStiffness:         float32(cfg.Solver.PressureStiffness),
		VelocityDamping:           float32(cfg.Physics.VelocityDamping),
		PicFlipRatio:              float32(cfg.Physics.PicFlipRatio),
		NormalRestitution:         float32(cfg.Physics.NormalRestitution),
		TangentRestitution:        float32(cfg.Physics.TangentRestitution),
		SolverIterations:          cfg.Derived.SolverIterations,
	}
}

// Validate checks the ranges Step relies on.
func (p PhysicsParams) Validate() error {
	finite := func(vs ...float32) bool {
		for _, v := range vs {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
		return true
	}
	switch {
	case !finite(p.GravityX, p.GravityY, p.DT, p.Viscosity, p.FluidDensity, p.TargetDensity,
		p.DensityCorrectionStrength, p.PressureStiffness, p.VelocityDamping, p.PicFlipRatio,
		p.NormalRestitution, p.TangentRestitution):
		return fmt.Errorf("%w: non-finite physics parameter", config.ErrInvalid)
	case p.DT <= 0:
		return fmt.Errorf("%w: dt %g", config.ErrInvalid, p.DT)
	case p.FluidDensity <= 0:
		return fmt.Errorf("%w: fluid density %g", config.ErrInvalid, p.FluidDensity)
	case p.PicFlipRatio < 0 || p.PicFlipRatio > 1:
		return fmt.Errorf("%w: pic/flip ratio %g", config.ErrInvalid, p.PicFlipRatio)
	case p.VelocityDamping < 0 || p.VelocityDamping > 1:
		return fmt.Errorf("%w: velocity damping %g", config.ErrInvalid, p.VelocityDamping)
	case p.SolverIterations < 0:
		return fmt.Errorf("%w: solver iterations %d", config.ErrInvalid, p.SolverIterations)
	}
	return nil
}

// gridParams is the fixed geometry of one simulator instance.
type gridParams struct {
	nx, ny       int
	cells        int
	uFaces       int
	vFaces       int
	hx, hy       float32 // cell size
	invHx, invHy float32
	lx, ly       float32 // world extent
}

func newGridParams(cfg *config.Config) gridParams {
	d := cfg.Derived
	return gridParams{
		nx:     cfg.Grid.SizeX,
		ny:     cfg.Grid.SizeY,
		cells:  d.Cells,
		uFaces: d.UFaces,
		vFaces: d.VFaces,
		hx:     float32(d.GridToWorldX),
		hy:     float32(d.GridToWorldY),
		invHx:  float32(d.WorldToGridX),
		invHy:  float32(d.WorldToGridY),
		lx:     float32(cfg.World.LengthX),
		ly:     float32(cfg.World.LengthY),
	}
}

// cellOf returns the cell containing (x, y), clamped into the grid.
func (g *gridParams) cellOf(x, y float32) (int, int) {
	i := int(x * g.invHx)
	j := int(y * g.invHy)
	if x < 0 {
		i = 0
	}
	if y < 0 {
		j = 0
	}
	return min(max(i, 0), g.nx-1), min(max(j, 0), g.ny-1)
}

// params is shared by every binding of a simulator. phys is only written
// between steps.
type params struct {
	grid          gridParams
	phys          PhysicsParams
	particleCount int
	minDistance   float32
	radius        float32
}

func newParams(cfg *config.Config) *params {
	return &params{
		grid:          newGridParams(cfg),
		phys:          PhysicsFromConfig(cfg),
		particleCount: cfg.Particles.Count,
		minDistance:   float32(cfg.Derived.MinDistance),
		radius:        float32(cfg.Derived.ParticleRadius),
	}
}

func (p *params) solverIterations() int {
	return min(p.phys.SolverIterations, config.MaxSolverIterations)
}
