package fluid

import (
	"github.com/pthm-cable/flip/compute"
)

// csr is the read side of the spatial index shared by every gather.
type csr struct {
	cellStart *compute.Buffer
	ids       *compute.Buffer
}

func (c csr) slots(p *params) []compute.Slot {
	return []compute.Slot{
		compute.RO("cellStart", c.cellStart, compute.U32, p.grid.cells+1),
		compute.RO("cellParticleIds", c.ids, compute.U32, p.particleCount),
	}
}

// gather visits every particle in cells [i0,i1]×[j0,j1], clamped to the grid,
// in ascending cell then id order.
func (c csr) gather(g *gridParams, i0, i1, j0, j1 int, visit func(id uint32)) {
	start, ids := c.cellStart.U32(), c.ids.U32()
	i0, i1 = max(i0, 0), min(i1, g.nx-1)
	j0, j1 = max(j0, 0), min(j1, g.ny-1)
	for cj := j0; cj <= j1; cj++ {
		for ci := i0; ci <= i1; ci++ {
			cell := g.cell(ci, cj)
			for _, id := range ids[start[cell]:start[cell+1]] {
				visit(id)
			}
		}
	}
}

type p2gBinding struct {
	p          *params
	index      csr
	positions  *compute.Buffer
	velocities *compute.Buffer
	face       *compute.Buffer
	mask       *compute.Buffer
}

func (b p2gBinding) slots(faces int) []compute.Slot {
	n := 2 * b.p.particleCount
	return append(b.index.slots(b.p),
		compute.RO("positions", b.positions, compute.F32, n),
		compute.RO("velocities", b.velocities, compute.F32, n),
		compute.RW("face", b.face, compute.F32, faces),
		compute.RW("mask", b.mask, compute.U32, faces),
	)
}

type p2gUBinding struct{ p2gBinding }

func (b p2gUBinding) Slots() []compute.Slot { return b.slots(b.p.grid.uFaces) }

type p2gVBinding struct{ p2gBinding }

func (b p2gVBinding) Slots() []compute.Slot { return b.slots(b.p.grid.vFaces) }

// particleToGridU sets each u face to the tent-weighted average of nearby
// particle x velocities. The face at (i·hx, (j+½)·hy) sees cells i-1..i and
// j-1..j+1.
func particleToGridU(b p2gUBinding, lo, hi int) {
	g := &b.p.grid
	pos, vel := b.positions.F32(), b.velocities.F32()
	u, mask := b.face.F32(), b.mask.U32()
	stride := g.nx + 1
	for f := lo; f < min(hi, g.uFaces); f++ {
		i, j := f%stride, f/stride
		fx := float32(i)
		fy := float32(j) + 0.5

		var sum, wsum float32
		b.index.gather(g, i-1, i, j-1, j+1, func(id uint32) {
			w := tent(pos[2*id]*g.invHx-fx) * tent(pos[2*id+1]*g.invHy-fy)
			if w > 0 {
				sum += w * vel[2*id]
				wsum += w
			}
		})
		if wsum > 0 {
			u[f] = sum / wsum
			mask[f] = 1
		} else {
			u[f] = 0
			mask[f] = 0
		}
	}
}

// particleToGridV is the v counterpart at ((i+½)·hx, j·hy), cells i-1..i+1
// and j-1..j.
func particleToGridV(b p2gVBinding, lo, hi int) {
	g := &b.p.grid
	pos, vel := b.positions.F32(), b.velocities.F32()
	v, mask := b.face.F32(), b.mask.U32()
	for f := lo; f < min(hi, g.vFaces); f++ {
		i, j := f%g.nx, f/g.nx
		fx := float32(i) + 0.5
		fy := float32(j)

		var sum, wsum float32
		b.index.gather(g, i-1, i+1, j-1, j, func(id uint32) {
			w := tent(pos[2*id]*g.invHx-fx) * tent(pos[2*id+1]*g.invHy-fy)
			if w > 0 {
				sum += w * vel[2*id+1]
				wsum += w
			}
		})
		if wsum > 0 {
			v[f] = sum / wsum
			mask[f] = 1
		} else {
			v[f] = 0
			mask[f] = 0
		}
	}
}

type densityBinding struct {
	p         *params
	index     csr
	positions *compute.Buffer
	density   *compute.Buffer
}

func (b densityBinding) Slots() []compute.Slot {
	return append(b.index.slots(b.p),
		compute.RO("positions", b.positions, compute.F32, 2*b.p.particleCount),
		compute.RW("density", b.density, compute.F32, b.p.grid.cells),
	)
}

// calculateDensity sums tent weights of particles around each cell centre.
func calculateDensity(b densityBinding, lo, hi int) {
	g := &b.p.grid
	pos, density := b.positions.F32(), b.density.F32()
	for c := lo; c < min(hi, g.cells); c++ {
		i, j := c%g.nx, c/g.nx
		cx := float32(i) + 0.5
		cy := float32(j) + 0.5

		var sum float32
		b.index.gather(g, i-1, i+1, j-1, j+1, func(id uint32) {
			sum += tent(pos[2*id]*g.invHx-cx) * tent(pos[2*id+1]*g.invHy-cy)
		})
		density[c] = sum
	}
}

type g2pBinding struct {
	p          *params
	positions  *compute.Buffer
	velocities *compute.Buffer
	u, v       *compute.Buffer
	uPrev      *compute.Buffer
	vPrev      *compute.Buffer
}

func (b g2pBinding) Slots() []compute.Slot {
	n := 2 * b.p.particleCount
	g := &b.p.grid
	return []compute.Slot{
		compute.RO("positions", b.positions, compute.F32, n),
		compute.RW("velocities", b.velocities, compute.F32, n),
		compute.RO("u", b.u, compute.F32, g.uFaces),
		compute.RO("v", b.v, compute.F32, g.vFaces),
		compute.RO("uPrev", b.uPrev, compute.F32, g.uFaces),
		compute.RO("vPrev", b.vPrev, compute.F32, g.vFaces),
	}
}

// gridToParticle blends the PIC velocity with the FLIP update
// v_p + (v_grid - v_prev) by the PIC/FLIP ratio.
func gridToParticle(b g2pBinding, lo, hi int) {
	g := &b.p.grid
	ratio := b.p.phys.PicFlipRatio
	pos, vel := b.positions.F32(), b.velocities.F32()
	u, v, uPrev, vPrev := b.u.F32(), b.v.F32(), b.uPrev.F32(), b.vPrev.F32()
	for i := lo; i < min(hi, b.p.particleCount); i++ {
		x, y := pos[2*i], pos[2*i+1]

		picX := g.sampleU(u, x, y)
		picY := g.sampleV(v, x, y)
		flipX := vel[2*i] + (picX - g.sampleU(uPrev, x, y))
		flipY := vel[2*i+1] + (picY - g.sampleV(vPrev, x, y))

		vel[2*i] = (1-ratio)*picX + ratio*flipX
		vel[2*i+1] = (1-ratio)*picY + ratio*flipY
	}
}
