package fluid

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/pthm-cable/flip/compute"
)

// operator is the read side of the weighted Laplacian.
type operator struct {
	vf       *compute.Buffer
	cellType *compute.Buffer
}

func (o operator) slots(p *params) []compute.Slot {
	return []compute.Slot{
		compute.RO("volumeFraction", o.vf, compute.F32, p.grid.cells),
		compute.RO("cellType", o.cellType, compute.U32, p.grid.cells),
	}
}

type laplacianBinding struct {
	p   *params
	op  operator
	x   *compute.Buffer
	out *compute.Buffer
}

func (b laplacianBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return append(b.op.slots(b.p),
		compute.RO("x", b.x, compute.F32, n),
		compute.RW("out", b.out, compute.F32, n),
	)
}

// laplacianRow evaluates row c of A against x and returns the diagonal.
func laplacianRow(g *gridParams, vf, x []float32, ct []uint32, c int) (ax, diag float32) {
	i, j := c%g.nx, c/g.nx
	xc := x[c]
	ix2, iy2 := g.invHx*g.invHx, g.invHy*g.invHy
	term := func(w, scale float32, n int) {
		if w <= 0 {
			return
		}
		a := w * scale
		diag += a
		if ct[n] == cellFluid {
			ax += a * (xc - x[n])
		} else {
			ax += a * xc
		}
	}
	term(g.weightU(vf, ct, i, j), ix2, c-1)
	term(g.weightU(vf, ct, i+1, j), ix2, c+1)
	term(g.weightV(vf, ct, i, j), iy2, c-g.nx)
	term(g.weightV(vf, ct, i, j+1), iy2, c+g.nx)
	return ax, diag
}

// applyLaplacian computes out = A·x over fluid cells.
func applyLaplacian(b laplacianBinding, lo, hi int) {
	g := &b.p.grid
	vf, ct := b.op.vf.F32(), b.op.cellType.U32()
	x, out := b.x.F32(), b.out.F32()
	for c := lo; c < min(hi, g.cells); c++ {
		if ct[c] != cellFluid {
			out[c] = 0
			continue
		}
		out[c], _ = laplacianRow(g, vf, x, ct, c)
	}
}

type preconditionBinding struct {
	p  *params
	op operator
	r  *compute.Buffer
	z  *compute.Buffer
}

func (b preconditionBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return append(b.op.slots(b.p),
		compute.RO("r", b.r, compute.F32, n),
		compute.RW("z", b.z, compute.F32, n),
	)
}

// precondition applies the Jacobi preconditioner z = r / diag(A).
func precondition(b preconditionBinding, lo, hi int) {
	g := &b.p.grid
	vf, ct := b.op.vf.F32(), b.op.cellType.U32()
	r, z := b.r.F32(), b.z.F32()
	for c := lo; c < min(hi, g.cells); c++ {
		if ct[c] != cellFluid {
			z[c] = 0
			continue
		}
		_, diag := laplacianRow(g, vf, r, ct, c)
		if diag > 0 {
			z[c] = r[c] / diag
		} else {
			z[c] = 0
		}
	}
}

// slice returns the blas view of cells [lo, hi).
func slice(data []float32, lo, hi int) blas32.Vector {
	return blas32.Vector{N: hi - lo, Inc: 1, Data: data[lo:hi]}
}

type dotBinding struct {
	p             *params
	a, b          *compute.Buffer
	partial       *compute.Buffer
	cellsPerGroup int
	groupSize     int
	groups        int
}

func (b dotBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return []compute.Slot{
		compute.RO("a", b.a, compute.F32, n),
		compute.RO("b", b.b, compute.F32, n),
		compute.RW("partial", b.partial, compute.F32, b.groups),
	}
}

// dotPartial writes one partial dot product per workgroup.
func dotPartial(b dotBinding, lo, hi int) {
	n := b.p.grid.cells
	x, y, partial := b.a.F32(), b.b.F32(), b.partial.F32()
	for g := lo / b.groupSize; g < hi/b.groupSize && g < b.groups; g++ {
		start := g * b.cellsPerGroup
		end := min(start+b.cellsPerGroup, n)
		if start >= end {
			partial[g] = 0
			continue
		}
		partial[g] = blas32.Dot(slice(x, start, end), slice(y, start, end))
	}
}

type maxBinding struct {
	p             *params
	x             *compute.Buffer
	partial       *compute.Buffer
	cellsPerGroup int
	groupSize     int
	groups        int
}

func (b maxBinding) Slots() []compute.Slot {
	return []compute.Slot{
		compute.RO("x", b.x, compute.F32, b.p.grid.cells),
		compute.RW("partial", b.partial, compute.F32, b.groups),
	}
}

// maxAbsPartial writes one ‖x‖∞ partial per workgroup.
func maxAbsPartial(b maxBinding, lo, hi int) {
	n := b.p.grid.cells
	x, partial := b.x.F32(), b.partial.F32()
	for g := lo / b.groupSize; g < hi/b.groupSize && g < b.groups; g++ {
		start := g * b.cellsPerGroup
		end := min(start+b.cellsPerGroup, n)
		if start >= end {
			partial[g] = 0
			continue
		}
		k := blas32.Iamax(slice(x, start, end))
		partial[g] = abs32(x[start+k])
	}
}

type reduceBinding struct {
	partial *compute.Buffer
	out     *compute.Buffer
	n       int
}

func (b reduceBinding) Slots() []compute.Slot {
	return []compute.Slot{
		compute.RO("partial", b.partial, compute.F32, b.n),
		compute.RW("out", b.out, compute.F32, 1),
	}
}

func pairwiseSum(v []float32) float32 {
	switch len(v) {
	case 0:
		return 0
	case 1:
		return v[0]
	}
	mid := len(v) / 2
	return pairwiseSum(v[:mid]) + pairwiseSum(v[mid:])
}

// reduceSum finalizes a dot product in a single invocation.
func reduceSum(b reduceBinding, lo, hi int) {
	if lo == 0 {
		b.out.F32()[0] = pairwiseSum(b.partial.F32()[:b.n])
	}
}

// reduceMax finalizes ‖r‖∞ in a single invocation.
func reduceMax(b reduceBinding, lo, hi int) {
	if lo != 0 {
		return
	}
	var m float32
	for _, v := range b.partial.F32()[:b.n] {
		m = max(m, v)
	}
	b.out.F32()[0] = m
}

type alphaBetaBinding struct {
	scalars *compute.Buffer
}

func (b alphaBetaBinding) Slots() []compute.Slot {
	return []compute.Slot{compute.RW("scalars", b.scalars, compute.F32, scalarCount)}
}

// guardedDiv returns num/den, or 0 when the quotient would not be finite.
func guardedDiv(num, den float32) float32 {
	if abs32(den) < pcgGuard || math.IsNaN(float64(den)) {
		return 0
	}
	q := num / den
	if math.IsNaN(float64(q)) || math.IsInf(float64(q), 0) {
		return 0
	}
	return q
}

// calculateAlphaBeta refreshes alpha = σ/(p·Ap) and beta = σ'/σ. A converged
// system yields zero steps instead of NaN.
func calculateAlphaBeta(b alphaBetaBinding, lo, hi int) {
	if lo != 0 {
		return
	}
	s := b.scalars.F32()
	s[scalarAlpha] = guardedDiv(s[scalarSigma], s[scalarAlphaDenom])
	s[scalarBeta] = guardedDiv(s[scalarNewSigma], s[scalarSigma])
}

type axpyBinding struct {
	p         *params
	scalars   *compute.Buffer
	x         *compute.Buffer
	y         *compute.Buffer
	sign      float32
	groupSize int
}

func (b axpyBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return []compute.Slot{
		compute.RO("scalars", b.scalars, compute.F32, scalarCount),
		compute.RO("x", b.x, compute.F32, n),
		compute.RW("y", b.y, compute.F32, n),
	}
}

// updateVector computes y += sign·alpha·x over each workgroup's cells. It
// serves both the solution and the residual update.
func updateVector(b axpyBinding, lo, hi int) {
	n := b.p.grid.cells
	lo, hi = min(lo, n), min(hi, n)
	if lo >= hi {
		return
	}
	alpha := b.sign * b.scalars.F32()[scalarAlpha]
	blas32.Axpy(alpha, slice(b.x.F32(), lo, hi), slice(b.y.F32(), lo, hi))
}

type searchDirectionBinding struct {
	p       *params
	scalars *compute.Buffer
	z       *compute.Buffer
	dir     *compute.Buffer
}

func (b searchDirectionBinding) Slots() []compute.Slot {
	n := b.p.grid.cells
	return []compute.Slot{
		compute.RO("scalars", b.scalars, compute.F32, scalarCount),
		compute.RO("z", b.z, compute.F32, n),
		compute.RW("searchDirection", b.dir, compute.F32, n),
	}
}

// updateSearchDirection computes p = z + beta·p.
func updateSearchDirection(b searchDirectionBinding, lo, hi int) {
	n := b.p.grid.cells
	lo, hi = min(lo, n), min(hi, n)
	if lo >= hi {
		return
	}
	dir := slice(b.dir.F32(), lo, hi)
	blas32.Scal(b.scalars.F32()[scalarBeta], dir)
	blas32.Axpy(1, slice(b.z.F32(), lo, hi), dir)
}
