package fluid

import (
	"github.com/pthm-cable/flip/compute"
)

// encodeSolve records a fixed-iteration Jacobi-preconditioned CG solve of
// A·x = rhs over fluid cells. The loop never reads back; ‖r‖∞ is left in
// residualMax[sys.residualSlot] for post-step diagnostics.
func (s *Simulator) encodeSolve(enc *compute.Encoder, sys linearSystem) {
	b, bg := s.buf, s.groups
	d := s.cfg.Derived
	cellGroups := d.CellWorkgroups
	cells := d.Cells

	// Fresh scalar record, tolerance from the constants uniform.
	enc.ClearBuffer(b.scalars)
	enc.CopyBufferToBuffer(b.constants, constTolerance, b.scalars, scalarTolerance, 1)

	// x = 0, r = b, z = M⁻¹r, p = z, σ = r·z
	enc.ClearBuffer(sys.solution)
	enc.CopyBufferToBuffer(sys.rhs, 0, b.residual, 0, cells)
	compute.Dispatch(enc, bg.precondition, cellGroups)
	enc.CopyBufferToBuffer(b.aux, 0, b.searchDirection, 0, cells)
	s.encodeDot(enc, bg.dotRZ, scalarSigma)

	for range s.params.solverIterations() {
		// α = σ / p·Ap
		compute.Dispatch(enc, bg.laplacian, cellGroups)
		s.encodeDot(enc, bg.dotPQ, scalarAlphaDenom)
		compute.Dispatch(enc, bg.alphaBeta, 1)

		compute.Dispatch(enc, sys.updateSolution, cellGroups)
		compute.Dispatch(enc, bg.updateResidual, cellGroups)
		compute.Dispatch(enc, bg.precondition, cellGroups)

		// β = σ' / σ
		s.encodeDot(enc, bg.dotRZ, scalarNewSigma)
		compute.Dispatch(enc, bg.alphaBeta, 1)
		compute.Dispatch(enc, bg.searchDirection, cellGroups)

		enc.CopyBufferToBuffer(b.scalars, scalarNewSigma, b.tempScalar, 0, 1)
		enc.CopyBufferToBuffer(b.tempScalar, 0, b.scalars, scalarSigma, 1)
	}

	compute.Dispatch(enc, bg.maxResidual, d.PCGWorkgroups)
	compute.Dispatch(enc, bg.reduceMax, 1)
	enc.CopyBufferToBuffer(b.finalMax, 0, b.residualMax, sys.residualSlot, 1)
}

// encodeDot records a two-pass dot product into scalars[slot].
func (s *Simulator) encodeDot(enc *compute.Encoder, group *compute.BindGroup[dotBinding], slot int) {
	compute.Dispatch(enc, group, s.cfg.Derived.PCGWorkgroups)
	compute.Dispatch(enc, s.groups.reduceDot, 1)
	enc.CopyBufferToBuffer(s.buf.finalDot, 0, s.buf.scalars, slot, 1)
}
