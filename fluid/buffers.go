package fluid

import (
	"fmt"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
)

// Slots of the PCG scalar record.
const (
	scalarSigma = iota
	scalarAlphaDenom
	scalarAlpha
	scalarBeta
	scalarNewSigma
	scalarTolerance
	scalarCount
)

// Slots of the constants uniform.
const (
	constTolerance = iota
	constCount
)

// Slots of the residualMax diagnostics buffer.
const (
	residualDensity = iota
	residualPressure
	residualSlots
)

// buffers is every device-resident array of one simulator.
type buffers struct {
	all []*compute.Buffer

	// Particles, interleaved x,y.
	positions  *compute.DoubleBuffer
	velocities *compute.DoubleBuffer

	// MAC faces.
	u, v               *compute.Buffer
	uMask, vMask       *compute.Buffer
	uPrev, vPrev       *compute.Buffer
	uScratch, vScratch *compute.Buffer
	uMaskScratch       *compute.Buffer
	vMaskScratch       *compute.Buffer
	correctionU        *compute.Buffer
	correctionV        *compute.Buffer

	// Cell centres.
	pressure        *compute.Buffer
	densityPressure *compute.Buffer
	density         *compute.Buffer
	divergence      *compute.Buffer
	volumeFraction  *compute.Buffer
	cellType        *compute.Buffer
	rhs             *compute.Buffer

	// Spatial index.
	countPerCell    *compute.Buffer
	cellStart       *compute.Buffer
	cellParticleIds *compute.Buffer
	blockSums1      *compute.Buffer
	blockSums2      *compute.Buffer

	// Linear-solve scratch.
	residual        *compute.Buffer
	searchDirection *compute.Buffer
	aux             *compute.Buffer
	temp            *compute.Buffer
	partialDot      *compute.Buffer
	finalDot        *compute.Buffer
	partialMax      *compute.Buffer
	finalMax        *compute.Buffer
	tempScalar      *compute.Buffer
	scalars         *compute.Buffer
	constants       *compute.Buffer
	residualMax     *compute.Buffer
}

const storageUsage = compute.UsageStorage | compute.UsageCopySrc | compute.UsageCopyDst

func newBuffers(dev *compute.Device, cfg *config.Config) (*buffers, error) {
	d := cfg.Derived
	n := cfg.Particles.Count
	plan := d.PrefixSum

	b := &buffers{}
	var err error
	create := func(label string, f compute.Format, length int, usage compute.Usage) *compute.Buffer {
		if err != nil {
			return nil
		}
		var buf *compute.Buffer
		buf, err = dev.CreateBuffer(compute.BufferDescriptor{
			Label:  label,
			Format: f,
			Len:    max(length, 1),
			Usage:  usage,
		})
		if err != nil {
			err = fmt.Errorf("allocating %s: %w", label, err)
			return nil
		}
		b.all = append(b.all, buf)
		return buf
	}
	f32 := func(label string, length int) *compute.Buffer {
		return create(label, compute.F32, length, storageUsage)
	}
	u32 := func(label string, length int) *compute.Buffer {
		return create(label, compute.U32, length, storageUsage)
	}

	posA, posB := f32("positions.a", 2*n), f32("positions.b", 2*n)
	velA, velB := f32("velocities.a", 2*n), f32("velocities.b", 2*n)

	b.u, b.v = f32("u", d.UFaces), f32("v", d.VFaces)
	b.uMask, b.vMask = u32("u.mask", d.UFaces), u32("v.mask", d.VFaces)
	b.uPrev, b.vPrev = f32("u.prev", d.UFaces), f32("v.prev", d.VFaces)
	b.uScratch, b.vScratch = f32("u.scratch", d.UFaces), f32("v.scratch", d.VFaces)
	b.uMaskScratch, b.vMaskScratch = u32("u.mask.scratch", d.UFaces), u32("v.mask.scratch", d.VFaces)
	b.correctionU, b.correctionV = f32("correction.u", d.UFaces), f32("correction.v", d.VFaces)

	b.pressure = f32("pressure", d.Cells)
	b.densityPressure = f32("density.pressure", d.Cells)
	b.density = f32("density", d.Cells)
	b.divergence = f32("divergence", d.Cells)
	b.volumeFraction = f32("volume.fraction", d.Cells)
	b.cellType = u32("cell.type", d.Cells)
	b.rhs = f32("rhs", d.Cells)

	b.countPerCell = u32("count.per.cell", d.Cells)
	b.cellStart = u32("cell.start", d.Cells+1)
	b.cellParticleIds = u32("cell.particle.ids", n)
	b.blockSums1 = u32("block.sums.1", plan.Blocks1)
	b.blockSums2 = u32("block.sums.2", plan.Blocks2)

	b.residual = f32("pcg.residual", d.Cells)
	b.searchDirection = f32("pcg.search.direction", d.Cells)
	b.aux = f32("pcg.aux", d.Cells)
	b.temp = f32("pcg.temp", d.Cells)
	b.partialDot = f32("pcg.partial.dot", d.PCGWorkgroups)
	b.finalDot = f32("pcg.final.dot", 1)
	b.partialMax = f32("pcg.partial.max", d.PCGWorkgroups)
	b.finalMax = f32("pcg.final.max", 1)
	b.tempScalar = f32("pcg.temp.scalar", 1)
	b.scalars = f32("pcg.scalars", scalarCount)
	b.constants = create("pcg.constants", compute.F32, constCount, compute.UsageUniform|compute.UsageCopySrc|compute.UsageCopyDst)
	b.residualMax = f32("pcg.residual.max", residualSlots)

	if err != nil {
		b.destroy()
		return nil, err
	}

	if b.positions, err = compute.NewDoubleBuffer(posA, posB); err != nil {
		b.destroy()
		return nil, err
	}
	if b.velocities, err = compute.NewDoubleBuffer(velA, velB); err != nil {
		b.destroy()
		return nil, err
	}
	return b, nil
}

// bytes returns the total allocation.
func (b *buffers) bytes() int64 {
	var total int64
	for _, buf := range b.all {
		total += buf.Size()
	}
	return total
}

func (b *buffers) destroy() {
	for _, buf := range b.all {
		buf.Destroy()
	}
	b.all = nil
}
