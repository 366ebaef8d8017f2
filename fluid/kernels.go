package fluid

import (
	"fmt"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
)

// kernelSet holds every kernel of the step, registered once per simulator.
type kernelSet struct {
	markFluidFractions *compute.Kernel[fractionsBinding]
	markSolid          *compute.Kernel[markSolidBinding]
	markLiquid         *compute.Kernel[markLiquidBinding]

	countParticles    *compute.Kernel[countBinding]
	scanBlocks        *compute.Kernel[scanBlocksBinding]
	scanSpine         *compute.Kernel[scanSpineBinding]
	addBlockOffsets   *compute.Kernel[addOffsetsBinding]
	addGuard          *compute.Kernel[guardBinding]
	assignParticleIds *compute.Kernel[assignBinding]
	sortCellIds       *compute.Kernel[sortIdsBinding]

	particleToGridU  *compute.Kernel[p2gUBinding]
	particleToGridV  *compute.Kernel[p2gVBinding]
	calculateDensity *compute.Kernel[densityBinding]
	gridToParticle   *compute.Kernel[g2pBinding]
	extendVelocityU  *compute.Kernel[extendBinding]
	extendVelocityV  *compute.Kernel[extendBinding]

	addForcesU          *compute.Kernel[forcesUBinding]
	addForcesV          *compute.Kernel[forcesVBinding]
	applyViscosityU     *compute.Kernel[viscosityBinding]
	applyViscosityV     *compute.Kernel[viscosityBinding]
	calculateDivergence *compute.Kernel[divergenceBinding]
	applyPressure       *compute.Kernel[applyPressureBinding]

	applyLaplacian        *compute.Kernel[laplacianBinding]
	precondition          *compute.Kernel[preconditionBinding]
	dotPartial            *compute.Kernel[dotBinding]
	reduceSum             *compute.Kernel[reduceBinding]
	maxAbsPartial         *compute.Kernel[maxBinding]
	reduceMax             *compute.Kernel[reduceBinding]
	calculateAlphaBeta    *compute.Kernel[alphaBetaBinding]
	updateSolution        *compute.Kernel[axpyBinding]
	updateResidual        *compute.Kernel[axpyBinding]
	updateSearchDirection *compute.Kernel[searchDirectionBinding]

	densityPressureRHS   *compute.Kernel[densityRHSBinding]
	balanceDensityRHS    *compute.Kernel[densityRHSBinding]
	positionCorrection   *compute.Kernel[correctionBinding]
	applyPositionCorrect *compute.Kernel[applyCorrectionBinding]

	pushParticlesApart *compute.Kernel[pushApartBinding]
	advectParticles    *compute.Kernel[advectBinding]
}

// kernel builds and registers one kernel, keeping the first error.
func kernel[B compute.Binder](r *compute.Registry, errp *error, name string, groupSize int, entry func(B, int, int)) *compute.Kernel[B] {
	k := &compute.Kernel[B]{Name: name, WorkgroupSize: groupSize, Entry: entry}
	if *errp == nil {
		if err := compute.Register(r, k); err != nil {
			*errp = err
		}
	}
	return k
}

func newKernelSet(r *compute.Registry, cfg *config.Config) (*kernelSet, error) {
	wg := cfg.Compute.WorkgroupSize
	pw := cfg.Compute.ParticleWorkgroup

	var err error
	k := &kernelSet{
		markFluidFractions: kernel(r, &err, "markFluidFractions", wg, markFluidFractions),
		markSolid:          kernel(r, &err, "markSolid", wg, markSolid),
		markLiquid:         kernel(r, &err, "markLiquid", wg, markLiquid),

		countParticles:    kernel(r, &err, "countParticles", pw, countParticles),
		scanBlocks:        kernel(r, &err, "scanBlocks", wg, scanBlocks),
		scanSpine:         kernel(r, &err, "scanSpine", wg, scanSpine),
		addBlockOffsets:   kernel(r, &err, "addBlockOffsets", wg, addBlockOffsets),
		addGuard:          kernel(r, &err, "addGuard", 1, addGuard),
		assignParticleIds: kernel(r, &err, "assignParticleIds", pw, assignParticleIds),
		sortCellIds:       kernel(r, &err, "sortCellIds", wg, sortCellIds),

		particleToGridU:  kernel(r, &err, "particleToGridU", wg, particleToGridU),
		particleToGridV:  kernel(r, &err, "particleToGridV", wg, particleToGridV),
		calculateDensity: kernel(r, &err, "calculateDensity", wg, calculateDensity),
		gridToParticle:   kernel(r, &err, "gridToParticle", pw, gridToParticle),
		extendVelocityU:  kernel(r, &err, "extendVelocityU", wg, extendVelocity),
		extendVelocityV:  kernel(r, &err, "extendVelocityV", wg, extendVelocity),

		addForcesU:          kernel(r, &err, "addAccelerationAndDirichletU", wg, addAccelerationAndDirichletU),
		addForcesV:          kernel(r, &err, "addAccelerationAndDirichletV", wg, addAccelerationAndDirichletV),
		applyViscosityU:     kernel(r, &err, "applyViscosityU", wg, applyViscosity),
		applyViscosityV:     kernel(r, &err, "applyViscosityV", wg, applyViscosity),
		calculateDivergence: kernel(r, &err, "calculateDivergence", wg, calculateDivergence),
		applyPressure:       kernel(r, &err, "applyPressure", wg, applyPressure),

		applyLaplacian:        kernel(r, &err, "applyLaplacian", wg, applyLaplacian),
		precondition:          kernel(r, &err, "precondition", wg, precondition),
		dotPartial:            kernel(r, &err, "dotProductPass1", wg, dotPartial),
		reduceSum:             kernel(r, &err, "dotProductPass2", 1, reduceSum),
		maxAbsPartial:         kernel(r, &err, "computeMaxResidualPass1", wg, maxAbsPartial),
		reduceMax:             kernel(r, &err, "computeMaxResidualPass2", 1, reduceMax),
		calculateAlphaBeta:    kernel(r, &err, "calculateAlphaBeta", 1, calculateAlphaBeta),
		updateSolution:        kernel(r, &err, "updateSolution", wg, updateVector),
		updateResidual:        kernel(r, &err, "updateResidual", wg, updateVector),
		updateSearchDirection: kernel(r, &err, "updateSearchDirection", wg, updateSearchDirection),

		densityPressureRHS:   kernel(r, &err, "calculateDensityPressureRHS", wg, calculateDensityPressureRHS),
		balanceDensityRHS:    kernel(r, &err, "balanceDensityRHS", 1, balanceDensityRHS),
		positionCorrection:   kernel(r, &err, "calculatePositionCorrection", wg, calculatePositionCorrection),
		applyPositionCorrect: kernel(r, &err, "applyPositionCorrection", pw, applyPositionCorrection),

		pushParticlesApart: kernel(r, &err, "pushParticlesApart", pw, pushParticlesApart),
		advectParticles:    kernel(r, &err, "advectParticles", pw, advectParticles),
	}
	if err != nil {
		return nil, fmt.Errorf("registering kernels: %w", err)
	}
	return k, nil
}
