package fluid

import (
	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/terrain"
)

type densityRHSBinding struct {
	p        *params
	density  *compute.Buffer
	cellType *compute.Buffer
	rhs      *compute.Buffer
}

func (b densityRHSBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return []compute.Slot{
		compute.RO("density", b.density, compute.F32, n),
		compute.RO("cellType", b.cellType, compute.U32, n),
		compute.RW("rhs", b.rhs, compute.F32, n),
	}
}

// calculateDensityPressureRHS scales the relative density excess of each
// fluid cell. Under-dense cells contribute nothing.
func calculateDensityPressureRHS(b densityRHSBinding, lo, hi int) {
	density, ct, rhs := b.density.F32(), b.cellType.U32(), b.rhs.F32()
	target := b.p.phys.TargetDensity
	stiffness := b.p.phys.PressureStiffness
	for c := lo; c < min(hi, b.p.grid.cells); c++ {
		if ct[c] != cellFluid || target <= 0 {
			rhs[c] = 0
			continue
		}
		rhs[c] = stiffness * max(0, density[c]-target) / target
	}
}

// balanceDensityRHS runs as a single invocation. When no fluid cell borders
// air the density operator has only Neumann boundaries and is singular, so
// the mean is removed from the right-hand side to keep the system consistent.
func balanceDensityRHS(b densityRHSBinding, lo, hi int) {
	if lo != 0 || hi <= lo {
		return
	}
	g := &b.p.grid
	ct, rhs := b.cellType.U32(), b.rhs.F32()

	var sum float64
	var fluid int
	for c := range g.cells {
		if ct[c] != cellFluid {
			continue
		}
		i, j := c%g.nx, c/g.nx
		if (i > 0 && ct[c-1] == cellAir) || (i < g.nx-1 && ct[c+1] == cellAir) ||
			(j > 0 && ct[c-g.nx] == cellAir) || (j < g.ny-1 && ct[c+g.nx] == cellAir) {
			return
		}
		sum += float64(rhs[c])
		fluid++
	}
	if fluid == 0 {
		return
	}
	mean := float32(sum / float64(fluid))
	for c := range g.cells {
		if ct[c] == cellFluid {
			rhs[c] -= mean
		}
	}
}

type correctionBinding struct {
	p               *params
	densityPressure *compute.Buffer
	vf              *compute.Buffer
	cellType        *compute.Buffer
	du, dv          *compute.Buffer
}

func (b correctionBinding) Slots() []compute.Slot {
	g := &b.p.grid
	return []compute.Slot{
		compute.RO("densityPressure", b.densityPressure, compute.F32, g.cells),
		compute.RO("volumeFraction", b.vf, compute.F32, g.cells),
		compute.RO("cellType", b.cellType, compute.U32, g.cells),
		compute.RW("correctionU", b.du, compute.F32, g.uFaces),
		compute.RW("correctionV", b.dv, compute.F32, g.vFaces),
	}
}

// calculatePositionCorrection turns the density pressure gradient into a
// displacement on the left and bottom face of each cell, clamped to half a
// cell.
func calculatePositionCorrection(b correctionBinding, lo, hi int) {
	g := &b.p.grid
	q, vf, ct := b.densityPressure.F32(), b.vf.F32(), b.cellType.U32()
	du, dv := b.du.F32(), b.dv.F32()
	strength := b.p.phys.DensityCorrectionStrength
	for c := lo; c < min(hi, g.cells); c++ {
		i, j := c%g.nx, c/g.nx
		if i > 0 {
			left := g.cell(i-1, j)
			var d float32
			if g.weightU(vf, ct, i, j) > 0 && (ct[left] == cellFluid || ct[c] == cellFluid) {
				d = -strength * (fluidPressure(q, ct, c) - fluidPressure(q, ct, left)) * g.invHx
				limit := maxCorrectionCells * g.hx
				d = clamp32(d, -limit, limit)
			}
			du[g.uFace(i, j)] = d
		}
		if j > 0 {
			below := g.cell(i, j-1)
			var d float32
			if g.weightV(vf, ct, i, j) > 0 && (ct[below] == cellFluid || ct[c] == cellFluid) {
				d = -strength * (fluidPressure(q, ct, c) - fluidPressure(q, ct, below)) * g.invHy
				limit := maxCorrectionCells * g.hy
				d = clamp32(d, -limit, limit)
			}
			dv[g.vFace(i, j)] = d
		}
	}
}

type applyCorrectionBinding struct {
	p         *params
	terrain   terrain.Provider
	du, dv    *compute.Buffer
	positions *compute.Buffer
}

func (b applyCorrectionBinding) Slots() []compute.Slot {
	g := &b.p.grid
	return []compute.Slot{
		compute.RO("correctionU", b.du, compute.F32, g.uFaces),
		compute.RO("correctionV", b.dv, compute.F32, g.vFaces),
		compute.RW("positions", b.positions, compute.F32, 2*b.p.particleCount),
	}
}

// applyPositionCorrection displaces each particle by the interpolated
// correction field. Velocities are untouched.
func applyPositionCorrection(b applyCorrectionBinding, lo, hi int) {
	g := &b.p.grid
	du, dv, pos := b.du.F32(), b.dv.F32(), b.positions.F32()
	for i := lo; i < min(hi, b.p.particleCount); i++ {
		x, y := pos[2*i], pos[2*i+1]
		dx := g.sampleU(du, x, y)
		dy := g.sampleV(dv, x, y)
		pos[2*i], pos[2*i+1] = b.p.clampPosition(b.terrain, x+dx, y+dy)
	}
}
