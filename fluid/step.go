package fluid

import (
	"github.com/pthm-cable/flip/compute"
)

// encodeStep records one full frame. Nothing is read back between the first
// and the last command.
func (s *Simulator) encodeStep(enc *compute.Encoder) {
	s.encodeCellSetup(enc)
	s.encodeHash(enc)

	if s.cfg.Particles.PushApartSteps > 0 {
		s.encodePushApart(enc)
		s.encodeHash(enc)
	}
	s.encodeMarkLiquid(enc)

	s.encodeDensityField(enc)
	s.encodeDensityProjection(enc)
	s.encodeHash(enc)
	s.encodeMarkLiquid(enc)

	s.encodeTransferToGrid(enc)
	s.encodeExtension(enc)
	enc.CopyBufferToBuffer(s.buf.u, 0, s.buf.uPrev, 0, s.buf.u.Len())
	enc.CopyBufferToBuffer(s.buf.v, 0, s.buf.vPrev, 0, s.buf.v.Len())

	s.encodePressureProjection(enc)
	compute.Dispatch(enc, s.groups.g2p, s.cfg.Derived.ParticleWorkgroups)
	s.encodeAdvect(enc)
}

// encodeCellSetup recomputes volume fractions and solid cells.
func (s *Simulator) encodeCellSetup(enc *compute.Encoder) {
	cells := s.cfg.Derived.CellWorkgroups
	enc.ClearBuffer(s.buf.cellType)
	compute.Dispatch(enc, s.groups.fractions, cells)
	compute.Dispatch(enc, s.groups.markSolid, cells)
}

func (s *Simulator) encodeMarkLiquid(enc *compute.Encoder) {
	compute.Dispatch(enc, s.groups.markLiquid, s.cfg.Derived.CellWorkgroups)
}

// encodeHash rebuilds the CSR index from the primary position buffer.
func (s *Simulator) encodeHash(enc *compute.Encoder) {
	b, bg := s.buf, s.groups
	d := s.cfg.Derived
	plan := d.PrefixSum
	wg := s.cfg.Compute.WorkgroupSize

	enc.ClearBuffer(b.countPerCell)
	compute.Dispatch(enc, bg.count, d.ParticleWorkgroups)

	enc.CopyBufferToBuffer(b.countPerCell, 0, b.cellStart, 0, d.Cells)
	compute.Dispatch(enc, bg.scanCells, plan.Blocks1)
	if plan.IsSmallGrid {
		compute.Dispatch(enc, bg.spine, 1)
	} else {
		compute.Dispatch(enc, bg.scanSums, plan.Blocks2)
		compute.Dispatch(enc, bg.spine, 1)
		compute.Dispatch(enc, bg.offsetsSums, ceilDiv(plan.Blocks1, wg))
	}
	compute.Dispatch(enc, bg.offsetsCells, plan.OffsetGroups)
	compute.Dispatch(enc, bg.guard, 1)

	enc.CopyBufferToBuffer(b.cellStart, 0, b.countPerCell, 0, d.Cells)
	compute.Dispatch(enc, bg.assign, d.ParticleWorkgroups)
	compute.Dispatch(enc, bg.sort, d.CellWorkgroups)
}

// encodePushApart runs the overlap substeps, ping-ponging positions and
// leaving the result in the primary buffer. Velocities are not touched.
func (s *Simulator) encodePushApart(enc *compute.Encoder) {
	pos := s.buf.positions
	groups := s.cfg.Derived.ParticleWorkgroups
	for range s.cfg.Particles.PushApartSteps {
		compute.Dispatch(enc, s.groups.pushApart[pos.Index()], groups)
		pos.Swap()
	}
	if pos.Index() != 0 {
		enc.CopyBufferToBuffer(pos.Secondary(), 0, pos.Primary(), 0, pos.Primary().Len())
		pos.Reset()
	}
}

func (s *Simulator) encodeDensityField(enc *compute.Encoder) {
	compute.Dispatch(enc, s.groups.density, s.cfg.Derived.CellWorkgroups)
}

// encodeDensityProjection solves for the density pressure and displaces
// particles down its gradient.
func (s *Simulator) encodeDensityProjection(enc *compute.Encoder) {
	d := s.cfg.Derived
	compute.Dispatch(enc, s.groups.densityRHS, d.CellWorkgroups)
	compute.Dispatch(enc, s.groups.balanceRHS, 1)
	s.encodeSolve(enc, s.groups.densitySolve)

	enc.ClearBuffer(s.buf.correctionU)
	enc.ClearBuffer(s.buf.correctionV)
	compute.Dispatch(enc, s.groups.correction, d.CellWorkgroups)
	compute.Dispatch(enc, s.groups.applyCorrection, d.ParticleWorkgroups)
}

func (s *Simulator) encodeTransferToGrid(enc *compute.Encoder) {
	d := s.cfg.Derived
	compute.Dispatch(enc, s.groups.p2gU, d.UFaceWorkgroups)
	compute.Dispatch(enc, s.groups.p2gV, d.VFaceWorkgroups)
}

// encodeExtension fills undefined faces near the liquid. Passes alternate
// between the grid and scratch buffers.
func (s *Simulator) encodeExtension(enc *compute.Encoder) {
	b, d := s.buf, s.cfg.Derived
	passes := len(s.groups.extendU)
	for pass := range passes {
		compute.Dispatch(enc, s.groups.extendU[pass], d.UFaceWorkgroups)
		compute.Dispatch(enc, s.groups.extendV[pass], d.VFaceWorkgroups)
	}
	if passes%2 == 1 {
		enc.CopyBufferToBuffer(b.uScratch, 0, b.u, 0, b.u.Len())
		enc.CopyBufferToBuffer(b.uMaskScratch, 0, b.uMask, 0, b.uMask.Len())
		enc.CopyBufferToBuffer(b.vScratch, 0, b.v, 0, b.v.Len())
		enc.CopyBufferToBuffer(b.vMaskScratch, 0, b.vMask, 0, b.vMask.Len())
	}
}

// encodePressureProjection applies body forces, optional viscosity, and
// makes the face velocities divergence free.
func (s *Simulator) encodePressureProjection(enc *compute.Encoder) {
	b, d := s.buf, s.cfg.Derived
	compute.Dispatch(enc, s.groups.forcesU, d.UFaceWorkgroups)
	compute.Dispatch(enc, s.groups.forcesV, d.VFaceWorkgroups)

	if s.params.phys.ViscosityEnabled && s.params.phys.Viscosity > 0 {
		compute.Dispatch(enc, s.groups.viscosityU, d.UFaceWorkgroups)
		compute.Dispatch(enc, s.groups.viscosityV, d.VFaceWorkgroups)
		enc.CopyBufferToBuffer(b.uScratch, 0, b.u, 0, b.u.Len())
		enc.CopyBufferToBuffer(b.vScratch, 0, b.v, 0, b.v.Len())
	}

	compute.Dispatch(enc, s.groups.divergence, d.CellWorkgroups)
	s.encodeSolve(enc, s.groups.pressureSolve)
	compute.Dispatch(enc, s.groups.applyPressure, d.CellWorkgroups)
}

// encodeAdvect moves particles into the secondary buffers and copies the
// result back so the primary buffers always hold the latest state.
func (s *Simulator) encodeAdvect(enc *compute.Encoder) {
	pos, vel := s.buf.positions, s.buf.velocities
	compute.Dispatch(enc, s.groups.advect, s.cfg.Derived.ParticleWorkgroups)
	pos.Swap()
	vel.Swap()
	enc.CopyBufferToBuffer(pos.Current(), 0, pos.Other(), 0, pos.Current().Len())
	enc.CopyBufferToBuffer(vel.Current(), 0, vel.Other(), 0, vel.Current().Len())
	pos.Reset()
	vel.Reset()
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
