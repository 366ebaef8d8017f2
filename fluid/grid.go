package fluid

import (
	"github.com/pthm-cable/flip/terrain"
)

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// tent is the linear interpolation kernel with a support of one cell.
func tent(d float32) float32 {
	d = abs32(d)
	if d >= 1 {
		return 0
	}
	return 1 - d
}

func (g *gridParams) cell(i, j int) int { return i + j*g.nx }
func (g *gridParams) uFace(i, j int) int { return i + j*(g.nx+1) }
func (g *gridParams) vFace(i, j int) int { return i + j*g.nx }

func (g *gridParams) border(i, j int) bool {
	return i == 0 || j == 0 || i == g.nx-1 || j == g.ny-1
}

// weightU is the open weight of the u face (i, j) between cells (i-1, j) and
// (i, j). Faces on the domain edge or touching a solid cell are closed.
func (g *gridParams) weightU(vf []float32, ct []uint32, i, j int) float32 {
	if i <= 0 || i >= g.nx {
		return 0
	}
	a, b := g.cell(i-1, j), g.cell(i, j)
	if ct[a] == cellSolid || ct[b] == cellSolid {
		return 0
	}
	return min(vf[a], vf[b])
}

// weightV is the open weight of the v face (i, j) between cells (i, j-1) and
// (i, j).
func (g *gridParams) weightV(vf []float32, ct []uint32, i, j int) float32 {
	if j <= 0 || j >= g.ny {
		return 0
	}
	a, b := g.cell(i, j-1), g.cell(i, j)
	if ct[a] == cellSolid || ct[b] == cellSolid {
		return 0
	}
	return min(vf[a], vf[b])
}

// sampleGrid bilinearly interpolates a w×h node array at fractional node
// coordinates, clamping to the array.
func sampleGrid(data []float32, w, h int, fx, fy float32) float32 {
	fx = clamp32(fx, 0, float32(w-1))
	fy = clamp32(fy, 0, float32(h-1))
	i := min(int(fx), w-2)
	j := min(int(fy), h-2)
	tx := fx - float32(i)
	ty := fy - float32(j)

	k := i + j*w
	bottom := data[k]*(1-tx) + data[k+1]*tx
	top := data[k+w]*(1-tx) + data[k+w+1]*tx
	return bottom*(1-ty) + top*ty
}

// sampleU interpolates a u-face field at world (x, y).
func (g *gridParams) sampleU(u []float32, x, y float32) float32 {
	return sampleGrid(u, g.nx+1, g.ny, x*g.invHx, y*g.invHy-0.5)
}

// sampleV interpolates a v-face field at world (x, y).
func (g *gridParams) sampleV(v []float32, x, y float32) float32 {
	return sampleGrid(v, g.nx, g.ny+1, x*g.invHx-0.5, y*g.invHy)
}

// clampPosition keeps a particle inside the open domain and above the terrain.
func (p *params) clampPosition(t terrain.Provider, x, y float32) (float32, float32) {
	g := &p.grid
	r := p.radius
	top := g.ly - g.hy - r
	x = clamp32(x, g.hx+r, g.lx-g.hx-r)
	y = clamp32(y, g.hy+r, top)
	if floor := t.Sample(x).Height + r; y < floor {
		y = min(floor, top)
	}
	return x, y
}
