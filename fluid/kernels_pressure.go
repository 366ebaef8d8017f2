package fluid

import (
	"github.com/pthm-cable/flip/compute"
)

type forcesBinding struct {
	p        *params
	cellType *compute.Buffer
	face     *compute.Buffer
}

func (b forcesBinding) slots(faces int) []compute.Slot {
	return []compute.Slot{
		compute.RO("cellType", b.cellType, compute.U32, b.p.grid.cells),
		compute.RW("face", b.face, compute.F32, faces),
	}
}

type forcesUBinding struct{ forcesBinding }

func (b forcesUBinding) Slots() []compute.Slot { return b.slots(b.p.grid.uFaces) }

type forcesVBinding struct{ forcesBinding }

func (b forcesVBinding) Slots() []compute.Slot { return b.slots(b.p.grid.vFaces) }

// addAccelerationAndDirichletU integrates gravity into u and pins faces on the
// domain edge or against a solid to the static terrain's zero velocity.
func addAccelerationAndDirichletU(b forcesUBinding, lo, hi int) {
	g := &b.p.grid
	ct, u := b.cellType.U32(), b.face.F32()
	dv := b.p.phys.DT * b.p.phys.GravityX
	stride := g.nx + 1
	for f := lo; f < min(hi, g.uFaces); f++ {
		i, j := f%stride, f/stride
		if i == 0 || i == g.nx || ct[g.cell(i-1, j)] == cellSolid || ct[g.cell(i, j)] == cellSolid {
			u[f] = 0
			continue
		}
		u[f] += dv
	}
}

func addAccelerationAndDirichletV(b forcesVBinding, lo, hi int) {
	g := &b.p.grid
	ct, v := b.cellType.U32(), b.face.F32()
	dv := b.p.phys.DT * b.p.phys.GravityY
	for f := lo; f < min(hi, g.vFaces); f++ {
		i, j := f%g.nx, f/g.nx
		if j == 0 || j == g.ny || ct[g.cell(i, j-1)] == cellSolid || ct[g.cell(i, j)] == cellSolid {
			v[f] = 0
			continue
		}
		v[f] += dv
	}
}

type viscosityBinding struct {
	p             *params
	cellType      *compute.Buffer
	src, dst      *compute.Buffer
	width, height int
	h             float32
	horizontal    bool // u faces
}

func (b viscosityBinding) Slots() []compute.Slot {
	n := b.width * b.height
	return []compute.Slot{
		compute.RO("cellType", b.cellType, compute.U32, b.p.grid.cells),
		compute.RO("src", b.src, compute.F32, n),
		compute.RW("dst", b.dst, compute.F32, n),
	}
}

// applyViscosity is one explicit diffusion step. Closed faces keep their value.
func applyViscosity(b viscosityBinding, lo, hi int) {
	g := &b.p.grid
	ct, src, dst := b.cellType.U32(), b.src.F32(), b.dst.F32()
	w, h := b.width, b.height
	coef := min(b.p.phys.Viscosity*b.p.phys.DT/(b.h*b.h), maxViscosityCoefficient)

	closed := func(i, j int) bool {
		if b.horizontal {
			return i == 0 || i == g.nx || ct[g.cell(i-1, j)] == cellSolid || ct[g.cell(i, j)] == cellSolid
		}
		return j == 0 || j == g.ny || ct[g.cell(i, j-1)] == cellSolid || ct[g.cell(i, j)] == cellSolid
	}

	for f := lo; f < min(hi, w*h); f++ {
		i, j := f%w, f/w
		if closed(i, j) || i == 0 || j == 0 || i == w-1 || j == h-1 {
			dst[f] = src[f]
			continue
		}
		lap := src[f-1] + src[f+1] + src[f-w] + src[f+w] - 4*src[f]
		dst[f] = src[f] + coef*lap
	}
}

type divergenceBinding struct {
	p          *params
	u, v       *compute.Buffer
	vf         *compute.Buffer
	cellType   *compute.Buffer
	divergence *compute.Buffer
	rhs        *compute.Buffer
}

func (b divergenceBinding) Slots() []compute.Slot {
	g := &b.p.grid
	return []compute.Slot{
		compute.RO("u", b.u, compute.F32, g.uFaces),
		compute.RO("v", b.v, compute.F32, g.vFaces),
		compute.RO("volumeFraction", b.vf, compute.F32, g.cells),
		compute.RO("cellType", b.cellType, compute.U32, g.cells),
		compute.RW("divergence", b.divergence, compute.F32, g.cells),
		compute.RW("rhs", b.rhs, compute.F32, g.cells),
	}
}

// calculateDivergence writes the volume-weighted divergence of each fluid
// cell and the pressure right-hand side -(ρ/dt)·div.
func calculateDivergence(b divergenceBinding, lo, hi int) {
	g := &b.p.grid
	u, v := b.u.F32(), b.v.F32()
	vf, ct := b.vf.F32(), b.cellType.U32()
	div, rhs := b.divergence.F32(), b.rhs.F32()
	scale := -b.p.phys.FluidDensity / b.p.phys.DT
	for c := lo; c < min(hi, g.cells); c++ {
		if ct[c] != cellFluid {
			div[c] = 0
			rhs[c] = 0
			continue
		}
		i, j := c%g.nx, c/g.nx
		d := (g.weightU(vf, ct, i+1, j)*u[g.uFace(i+1, j)]-g.weightU(vf, ct, i, j)*u[g.uFace(i, j)])*g.invHx +
			(g.weightV(vf, ct, i, j+1)*v[g.vFace(i, j+1)]-g.weightV(vf, ct, i, j)*v[g.vFace(i, j)])*g.invHy
		div[c] = d
		rhs[c] = scale * d
	}
}

type applyPressureBinding struct {
	p        *params
	pressure *compute.Buffer
	vf       *compute.Buffer
	cellType *compute.Buffer
	u, v     *compute.Buffer
}

func (b applyPressureBinding) Slots() []compute.Slot {
	g := &b.p.grid
	return []compute.Slot{
		compute.RO("pressure", b.pressure, compute.F32, g.cells),
		compute.RO("volumeFraction", b.vf, compute.F32, g.cells),
		compute.RO("cellType", b.cellType, compute.U32, g.cells),
		compute.RW("u", b.u, compute.F32, g.uFaces),
		compute.RW("v", b.v, compute.F32, g.vFaces),
	}
}

// fluidPressure reads p at a cell, with air held at zero.
func fluidPressure(p []float32, ct []uint32, c int) float32 {
	if ct[c] == cellFluid {
		return p[c]
	}
	return 0
}

// applyPressure subtracts the pressure gradient from the left u face and the
// bottom v face of each cell, so every face has exactly one writer.
func applyPressure(b applyPressureBinding, lo, hi int) {
	g := &b.p.grid
	p, vf, ct := b.pressure.F32(), b.vf.F32(), b.cellType.U32()
	u, v := b.u.F32(), b.v.F32()
	k := b.p.phys.DT / b.p.phys.FluidDensity
	for c := lo; c < min(hi, g.cells); c++ {
		i, j := c%g.nx, c/g.nx
		if i > 0 {
			left := g.cell(i-1, j)
			if g.weightU(vf, ct, i, j) > 0 && (ct[left] == cellFluid || ct[c] == cellFluid) {
				u[g.uFace(i, j)] -= k * (fluidPressure(p, ct, c) - fluidPressure(p, ct, left)) * g.invHx
			}
		}
		if j > 0 {
			below := g.cell(i, j-1)
			if g.weightV(vf, ct, i, j) > 0 && (ct[below] == cellFluid || ct[c] == cellFluid) {
				v[g.vFace(i, j)] -= k * (fluidPressure(p, ct, c) - fluidPressure(p, ct, below)) * g.invHy
			}
		}
	}
}
