package fluid

import (
	"slices"
	"sync/atomic"

	"github.com/pthm-cable/flip/compute"
)

type countBinding struct {
	p         *params
	positions *compute.Buffer
	counts    *compute.Buffer
}

func (b countBinding) Slots() []compute.Slot {
	return []compute.Slot{
		compute.RO("positions", b.positions, compute.F32, 2*b.p.particleCount),
		compute.RW("countPerCell", b.counts, compute.U32, b.p.grid.cells),
	}
}

func countParticles(b countBinding, lo, hi int) {
	g := &b.p.grid
	pos, counts := b.positions.F32(), b.counts.U32()
	for i := lo; i < min(hi, b.p.particleCount); i++ {
		ci, cj := g.cellOf(pos[2*i], pos[2*i+1])
		atomic.AddUint32(&counts[g.cell(ci, cj)], 1)
	}
}

type scanBlocksBinding struct {
	data      *compute.Buffer
	sums      *compute.Buffer
	n         int // elements of data to scan
	blockSize int
	groupSize int
}

func (b scanBlocksBinding) Slots() []compute.Slot {
	blocks := (b.n + b.blockSize - 1) / b.blockSize
	return []compute.Slot{
		compute.RW("data", b.data, compute.U32, b.n),
		compute.RW("blockSums", b.sums, compute.U32, blocks),
	}
}

// scanBlocks replaces each block of data with its exclusive prefix sum and
// writes the block total. One workgroup scans one block.
func scanBlocks(b scanBlocksBinding, lo, hi int) {
	data, sums := b.data.U32(), b.sums.U32()
	for g := lo / b.groupSize; g < hi/b.groupSize; g++ {
		start := g * b.blockSize
		if start >= b.n {
			return
		}
		end := min(start+b.blockSize, b.n)
		var acc uint32
		for k := start; k < end; k++ {
			v := data[k]
			data[k] = acc
			acc += v
		}
		sums[g] = acc
	}
}

type scanSpineBinding struct {
	data *compute.Buffer
	n    int
}

func (b scanSpineBinding) Slots() []compute.Slot {
	return []compute.Slot{compute.RW("data", b.data, compute.U32, b.n)}
}

// scanSpine is a single-workgroup exclusive scan of the top-level block sums.
func scanSpine(b scanSpineBinding, lo, hi int) {
	if lo != 0 {
		return
	}
	data := b.data.U32()
	var acc uint32
	for k := 0; k < b.n; k++ {
		v := data[k]
		data[k] = acc
		acc += v
	}
}

type addOffsetsBinding struct {
	data      *compute.Buffer
	offsets   *compute.Buffer
	n         int
	blockSize int
}

func (b addOffsetsBinding) Slots() []compute.Slot {
	blocks := (b.n + b.blockSize - 1) / b.blockSize
	return []compute.Slot{
		compute.RW("data", b.data, compute.U32, b.n),
		compute.RO("offsets", b.offsets, compute.U32, blocks),
	}
}

func addBlockOffsets(b addOffsetsBinding, lo, hi int) {
	data, offsets := b.data.U32(), b.offsets.U32()
	for k := lo; k < min(hi, b.n); k++ {
		data[k] += offsets[k/b.blockSize]
	}
}

type guardBinding struct {
	p         *params
	cellStart *compute.Buffer
}

func (b guardBinding) Slots() []compute.Slot {
	return []compute.Slot{compute.RW("cellStart", b.cellStart, compute.U32, b.p.grid.cells+1)}
}

func addGuard(b guardBinding, lo, hi int) {
	if lo == 0 {
		b.cellStart.U32()[b.p.grid.cells] = uint32(b.p.particleCount)
	}
}

type assignBinding struct {
	p         *params
	positions *compute.Buffer
	cursor    *compute.Buffer
	ids       *compute.Buffer
}

func (b assignBinding) Slots() []compute.Slot {
	return []compute.Slot{
		compute.RO("positions", b.positions, compute.F32, 2*b.p.particleCount),
		compute.RW("cursor", b.cursor, compute.U32, b.p.grid.cells),
		compute.RW("cellParticleIds", b.ids, compute.U32, b.p.particleCount),
	}
}

// assignParticleIds claims a slot in the particle's cell range.
func assignParticleIds(b assignBinding, lo, hi int) {
	g := &b.p.grid
	pos, cursor, ids := b.positions.F32(), b.cursor.U32(), b.ids.U32()
	for i := lo; i < min(hi, b.p.particleCount); i++ {
		ci, cj := g.cellOf(pos[2*i], pos[2*i+1])
		slot := atomic.AddUint32(&cursor[g.cell(ci, cj)], 1) - 1
		ids[slot] = uint32(i)
	}
}

type sortIdsBinding struct {
	p         *params
	cellStart *compute.Buffer
	ids       *compute.Buffer
}

func (b sortIdsBinding) Slots() []compute.Slot {
	return []compute.Slot{
		compute.RO("cellStart", b.cellStart, compute.U32, b.p.grid.cells+1),
		compute.RW("cellParticleIds", b.ids, compute.U32, b.p.particleCount),
	}
}

// sortCellIds orders each cell range ascending so gathers visit particles in
// a fixed order regardless of slot claim order.
func sortCellIds(b sortIdsBinding, lo, hi int) {
	start, ids := b.cellStart.U32(), b.ids.U32()
	for c := lo; c < min(hi, b.p.grid.cells); c++ {
		run := ids[start[c]:start[c+1]]
		if len(run) < 2 {
			continue
		}
		if len(run) <= 16 {
			for k := 1; k < len(run); k++ {
				v := run[k]
				m := k - 1
				for ; m >= 0 && run[m] > v; m-- {
					run[m+1] = run[m]
				}
				run[m+1] = v
			}
			continue
		}
		slices.Sort(run)
	}
}
