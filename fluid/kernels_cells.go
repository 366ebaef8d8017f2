package fluid

import (
	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/terrain"
)

type fractionsBinding struct {
	p       *params
	terrain terrain.Provider
	vf      *compute.Buffer
}

func (b fractionsBinding) Slots() []compute.Slot {
	return []compute.Slot{compute.RW("volumeFraction", b.vf, compute.F32, b.p.grid.cells)}
}

// markFluidFractions computes how much of each cell lies above the terrain.
// The border ring is always closed.
func markFluidFractions(b fractionsBinding, lo, hi int) {
	g := &b.p.grid
	vf := b.vf.F32()
	for c := lo; c < min(hi, g.cells); c++ {
		i, j := c%g.nx, c/g.nx
		if g.border(i, j) {
			vf[c] = 0
			continue
		}
		h := b.terrain.Sample((float32(i) + 0.5) * g.hx).Height
		top := float32(j+1) * g.hy
		f := clamp32((top-h)/g.hy, 0, 1)
		if f < minVolumeFraction {
			f = 0
		}
		vf[c] = f
	}
}

type markSolidBinding struct {
	p        *params
	vf       *compute.Buffer
	cellType *compute.Buffer
}

func (b markSolidBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return []compute.Slot{
		compute.RO("volumeFraction", b.vf, compute.F32, n),
		compute.RW("cellType", b.cellType, compute.U32, n),
	}
}

func markSolid(b markSolidBinding, lo, hi int) {
	vf, ct := b.vf.F32(), b.cellType.U32()
	for c := lo; c < min(hi, b.p.grid.cells); c++ {
		if vf[c] == 0 {
			ct[c] = cellSolid
		} else {
			ct[c] = cellAir
		}
	}
}

type markLiquidBinding struct {
	p         *params
	cellStart *compute.Buffer
	cellType  *compute.Buffer
}

func (b markLiquidBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return []compute.Slot{
		compute.RO("cellStart", b.cellStart, compute.U32, n+1),
		compute.RW("cellType", b.cellType, compute.U32, n),
	}
}

// markLiquid marks every open cell holding at least one particle as fluid.
func markLiquid(b markLiquidBinding, lo, hi int) {
	start, ct := b.cellStart.U32(), b.cellType.U32()
	for c := lo; c < min(hi, b.p.grid.cells); c++ {
		if ct[c] == cellSolid {
			continue
		}
		if start[c+1] > start[c] {
			ct[c] = cellFluid
		} else {
			ct[c] = cellAir
		}
	}
}
