package fluid

import (
	"fmt"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/terrain"
)

// linearSystem is one instance of the shared PCG solve.
type linearSystem struct {
	name           string
	rhs            *compute.Buffer
	solution       *compute.Buffer
	residualSlot   int
	updateSolution *compute.BindGroup[axpyBinding]
}

// bindGroups are the validated bindings of every dispatch in a step.
type bindGroups struct {
	fractions  *compute.BindGroup[fractionsBinding]
	markSolid  *compute.BindGroup[markSolidBinding]
	markLiquid *compute.BindGroup[markLiquidBinding]

	count        *compute.BindGroup[countBinding]
	scanCells    *compute.BindGroup[scanBlocksBinding]
	scanSums     *compute.BindGroup[scanBlocksBinding] // large grids only
	spine        *compute.BindGroup[scanSpineBinding]
	offsetsSums  *compute.BindGroup[addOffsetsBinding] // large grids only
	offsetsCells *compute.BindGroup[addOffsetsBinding]
	guard        *compute.BindGroup[guardBinding]
	assign       *compute.BindGroup[assignBinding]
	sort         *compute.BindGroup[sortIdsBinding]

	p2gU    *compute.BindGroup[p2gUBinding]
	p2gV    *compute.BindGroup[p2gVBinding]
	density *compute.BindGroup[densityBinding]
	g2p     *compute.BindGroup[g2pBinding]
	extendU []*compute.BindGroup[extendBinding] // one per pass
	extendV []*compute.BindGroup[extendBinding]

	forcesU       *compute.BindGroup[forcesUBinding]
	forcesV       *compute.BindGroup[forcesVBinding]
	viscosityU    *compute.BindGroup[viscosityBinding]
	viscosityV    *compute.BindGroup[viscosityBinding]
	divergence    *compute.BindGroup[divergenceBinding]
	applyPressure *compute.BindGroup[applyPressureBinding]

	laplacian       *compute.BindGroup[laplacianBinding]
	precondition    *compute.BindGroup[preconditionBinding]
	dotRZ           *compute.BindGroup[dotBinding]
	dotPQ           *compute.BindGroup[dotBinding]
	reduceDot       *compute.BindGroup[reduceBinding]
	maxResidual     *compute.BindGroup[maxBinding]
	reduceMax       *compute.BindGroup[reduceBinding]
	alphaBeta       *compute.BindGroup[alphaBetaBinding]
	updateResidual  *compute.BindGroup[axpyBinding]
	searchDirection *compute.BindGroup[searchDirectionBinding]

	densitySolve  linearSystem
	pressureSolve linearSystem

	densityRHS      *compute.BindGroup[densityRHSBinding]
	balanceRHS      *compute.BindGroup[densityRHSBinding]
	correction      *compute.BindGroup[correctionBinding]
	applyCorrection *compute.BindGroup[applyCorrectionBinding]

	pushApart [2]*compute.BindGroup[pushApartBinding] // indexed by positions.Index()
	advect    *compute.BindGroup[advectBinding]
}

// bind validates one binding, keeping the first error.
func bind[B compute.Binder](dev *compute.Device, errp *error, k *compute.Kernel[B], label string, b B) *compute.BindGroup[B] {
	if *errp != nil {
		return nil
	}
	g, err := k.Bind(dev, label, b)
	if err != nil {
		*errp = err
		return nil
	}
	return g
}

func newBindGroups(dev *compute.Device, cfg *config.Config, k *kernelSet, b *buffers, p *params, t terrain.Provider) (*bindGroups, error) {
	d := cfg.Derived
	plan := d.PrefixSum
	wg := cfg.Compute.WorkgroupSize
	g := &p.grid
	index := csr{cellStart: b.cellStart, ids: b.cellParticleIds}
	posA, posB := b.positions.Primary(), b.positions.Secondary()
	velA, velB := b.velocities.Primary(), b.velocities.Secondary()
	op := operator{vf: b.volumeFraction, cellType: b.cellType}

	var err error
	bg := &bindGroups{}

	bg.fractions = bind(dev, &err, k.markFluidFractions, "fractions", fractionsBinding{p: p, terrain: t, vf: b.volumeFraction})
	bg.markSolid = bind(dev, &err, k.markSolid, "solid", markSolidBinding{p: p, vf: b.volumeFraction, cellType: b.cellType})
	bg.markLiquid = bind(dev, &err, k.markLiquid, "liquid", markLiquidBinding{p: p, cellStart: b.cellStart, cellType: b.cellType})

	bg.count = bind(dev, &err, k.countParticles, "count", countBinding{p: p, positions: posA, counts: b.countPerCell})
	bg.scanCells = bind(dev, &err, k.scanBlocks, "cells", scanBlocksBinding{
		data: b.cellStart, sums: b.blockSums1, n: d.Cells, blockSize: plan.BlockSize, groupSize: wg,
	})
	if plan.IsSmallGrid {
		bg.spine = bind(dev, &err, k.scanSpine, "sums1", scanSpineBinding{data: b.blockSums1, n: plan.Blocks1})
	} else {
		bg.scanSums = bind(dev, &err, k.scanBlocks, "sums1", scanBlocksBinding{
			data: b.blockSums1, sums: b.blockSums2, n: plan.Blocks1, blockSize: plan.BlockSize, groupSize: wg,
		})
		bg.spine = bind(dev, &err, k.scanSpine, "sums2", scanSpineBinding{data: b.blockSums2, n: plan.Blocks2})
		bg.offsetsSums = bind(dev, &err, k.addBlockOffsets, "sums1", addOffsetsBinding{
			data: b.blockSums1, offsets: b.blockSums2, n: plan.Blocks1, blockSize: plan.BlockSize,
		})
	}
	bg.offsetsCells = bind(dev, &err, k.addBlockOffsets, "cells", addOffsetsBinding{
		data: b.cellStart, offsets: b.blockSums1, n: d.Cells, blockSize: plan.BlockSize,
	})
	bg.guard = bind(dev, &err, k.addGuard, "guard", guardBinding{p: p, cellStart: b.cellStart})
	bg.assign = bind(dev, &err, k.assignParticleIds, "assign", assignBinding{p: p, positions: posA, cursor: b.countPerCell, ids: b.cellParticleIds})
	bg.sort = bind(dev, &err, k.sortCellIds, "sort", sortIdsBinding{p: p, cellStart: b.cellStart, ids: b.cellParticleIds})

	bg.p2gU = bind(dev, &err, k.particleToGridU, "u", p2gUBinding{p2gBinding{
		p: p, index: index, positions: posA, velocities: velA, face: b.u, mask: b.uMask,
	}})
	bg.p2gV = bind(dev, &err, k.particleToGridV, "v", p2gVBinding{p2gBinding{
		p: p, index: index, positions: posA, velocities: velA, face: b.v, mask: b.vMask,
	}})
	bg.density = bind(dev, &err, k.calculateDensity, "density", densityBinding{p: p, index: index, positions: posA, density: b.density})
	bg.g2p = bind(dev, &err, k.gridToParticle, "g2p", g2pBinding{
		p: p, positions: posA, velocities: velA, u: b.u, v: b.v, uPrev: b.uPrev, vPrev: b.vPrev,
	})

	passes := cfg.Physics.ExtensionPasses
	for pass := 1; pass <= passes; pass++ {
		eu := extendBinding{p: p, width: g.nx + 1, height: g.ny, pass: uint32(pass)}
		ev := extendBinding{p: p, width: g.nx, height: g.ny + 1, pass: uint32(pass)}
		if pass%2 == 1 {
			eu.src, eu.srcMask, eu.dst, eu.dstMask = b.u, b.uMask, b.uScratch, b.uMaskScratch
			ev.src, ev.srcMask, ev.dst, ev.dstMask = b.v, b.vMask, b.vScratch, b.vMaskScratch
		} else {
			eu.src, eu.srcMask, eu.dst, eu.dstMask = b.uScratch, b.uMaskScratch, b.u, b.uMask
			ev.src, ev.srcMask, ev.dst, ev.dstMask = b.vScratch, b.vMaskScratch, b.v, b.vMask
		}
		bg.extendU = append(bg.extendU, bind(dev, &err, k.extendVelocityU, fmt.Sprintf("pass%d", pass), eu))
		bg.extendV = append(bg.extendV, bind(dev, &err, k.extendVelocityV, fmt.Sprintf("pass%d", pass), ev))
	}

	bg.forcesU = bind(dev, &err, k.addForcesU, "u", forcesUBinding{forcesBinding{p: p, cellType: b.cellType, face: b.u}})
	bg.forcesV = bind(dev, &err, k.addForcesV, "v", forcesVBinding{forcesBinding{p: p, cellType: b.cellType, face: b.v}})
	bg.viscosityU = bind(dev, &err, k.applyViscosityU, "u", viscosityBinding{
		p: p, cellType: b.cellType, src: b.u, dst: b.uScratch, width: g.nx + 1, height: g.ny, h: g.hx, horizontal: true,
	})
	bg.viscosityV = bind(dev, &err, k.applyViscosityV, "v", viscosityBinding{
		p: p, cellType: b.cellType, src: b.v, dst: b.vScratch, width: g.nx, height: g.ny + 1, h: g.hy,
	})
	bg.divergence = bind(dev, &err, k.calculateDivergence, "divergence", divergenceBinding{
		p: p, u: b.u, v: b.v, vf: b.volumeFraction, cellType: b.cellType, divergence: b.divergence, rhs: b.rhs,
	})
	bg.applyPressure = bind(dev, &err, k.applyPressure, "pressure", applyPressureBinding{
		p: p, pressure: b.pressure, vf: b.volumeFraction, cellType: b.cellType, u: b.u, v: b.v,
	})

	reduction := func(x, y *compute.Buffer) dotBinding {
		return dotBinding{p: p, a: x, b: y, partial: b.partialDot, cellsPerGroup: d.PCGCellsPerGroup, groupSize: wg, groups: d.PCGWorkgroups}
	}
	bg.laplacian = bind(dev, &err, k.applyLaplacian, "p->q", laplacianBinding{p: p, op: op, x: b.searchDirection, out: b.temp})
	bg.precondition = bind(dev, &err, k.precondition, "r->z", preconditionBinding{p: p, op: op, r: b.residual, z: b.aux})
	bg.dotRZ = bind(dev, &err, k.dotPartial, "r.z", reduction(b.residual, b.aux))
	bg.dotPQ = bind(dev, &err, k.dotPartial, "p.q", reduction(b.searchDirection, b.temp))
	bg.reduceDot = bind(dev, &err, k.reduceSum, "dot", reduceBinding{partial: b.partialDot, out: b.finalDot, n: d.PCGWorkgroups})
	bg.maxResidual = bind(dev, &err, k.maxAbsPartial, "r", maxBinding{
		p: p, x: b.residual, partial: b.partialMax, cellsPerGroup: d.PCGCellsPerGroup, groupSize: wg, groups: d.PCGWorkgroups,
	})
	bg.reduceMax = bind(dev, &err, k.reduceMax, "max", reduceBinding{partial: b.partialMax, out: b.finalMax, n: d.PCGWorkgroups})
	bg.alphaBeta = bind(dev, &err, k.calculateAlphaBeta, "scalars", alphaBetaBinding{scalars: b.scalars})
	bg.updateResidual = bind(dev, &err, k.updateResidual, "r", axpyBinding{
		p: p, scalars: b.scalars, x: b.temp, y: b.residual, sign: -1, groupSize: wg,
	})
	bg.searchDirection = bind(dev, &err, k.updateSearchDirection, "p", searchDirectionBinding{
		p: p, scalars: b.scalars, z: b.aux, dir: b.searchDirection,
	})

	bg.densitySolve = linearSystem{
		name:         "density",
		rhs:          b.rhs,
		solution:     b.densityPressure,
		residualSlot: residualDensity,
		updateSolution: bind(dev, &err, k.updateSolution, "density", axpyBinding{
			p: p, scalars: b.scalars, x: b.searchDirection, y: b.densityPressure, sign: 1, groupSize: wg,
		}),
	}
	bg.pressureSolve = linearSystem{
		name:         "pressure",
		rhs:          b.rhs,
		solution:     b.pressure,
		residualSlot: residualPressure,
		updateSolution: bind(dev, &err, k.updateSolution, "pressure", axpyBinding{
			p: p, scalars: b.scalars, x: b.searchDirection, y: b.pressure, sign: 1, groupSize: wg,
		}),
	}

	bg.densityRHS = bind(dev, &err, k.densityPressureRHS, "rhs", densityRHSBinding{p: p, density: b.density, cellType: b.cellType, rhs: b.rhs})
	bg.balanceRHS = bind(dev, &err, k.balanceDensityRHS, "rhs", densityRHSBinding{p: p, density: b.density, cellType: b.cellType, rhs: b.rhs})
	bg.correction = bind(dev, &err, k.positionCorrection, "faces", correctionBinding{
		p: p, densityPressure: b.densityPressure, vf: b.volumeFraction, cellType: b.cellType, du: b.correctionU, dv: b.correctionV,
	})
	bg.applyCorrection = bind(dev, &err, k.applyPositionCorrect, "particles", applyCorrectionBinding{
		p: p, terrain: t, du: b.correctionU, dv: b.correctionV, positions: posA,
	})

	bg.pushApart[0] = bind(dev, &err, k.pushParticlesApart, "a->b", pushApartBinding{p: p, terrain: t, index: index, src: posA, dst: posB})
	bg.pushApart[1] = bind(dev, &err, k.pushParticlesApart, "b->a", pushApartBinding{p: p, terrain: t, index: index, src: posB, dst: posA})
	bg.advect = bind(dev, &err, k.advectParticles, "a->b", advectBinding{
		p: p, terrain: t, posSrc: posA, velSrc: velA, posDst: posB, velDst: velB,
	})

	if err != nil {
		return nil, fmt.Errorf("binding kernels: %w", err)
	}
	return bg, nil
}
