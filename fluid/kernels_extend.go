package fluid

import (
	"github.com/pthm-cable/flip/compute"
)

type extendBinding struct {
	p             *params
	src, srcMask  *compute.Buffer
	dst, dstMask  *compute.Buffer
	width, height int // face array dimensions
	pass          uint32
}

func (b extendBinding) Slots() []compute.Slot {
	n := b.width * b.height
	return []compute.Slot{
		compute.RO("src", b.src, compute.F32, n),
		compute.RO("srcMask", b.srcMask, compute.U32, n),
		compute.RW("dst", b.dst, compute.F32, n),
		compute.RW("dstMask", b.dstMask, compute.U32, n),
	}
}

// extendVelocity fills each undefined face with the average of its defined
// 4-neighbours from earlier passes and tags it with pass+1. Defined faces are
// copied through unchanged.
func extendVelocity(b extendBinding, lo, hi int) {
	src, srcMask := b.src.F32(), b.srcMask.U32()
	dst, dstMask := b.dst.F32(), b.dstMask.U32()
	w, h := b.width, b.height
	for f := lo; f < min(hi, w*h); f++ {
		if srcMask[f] != 0 {
			dst[f] = src[f]
			dstMask[f] = srcMask[f]
			continue
		}
		i, j := f%w, f/w

		var sum float32
		var count int
		add := func(k int) {
			if m := srcMask[k]; m >= 1 && m <= b.pass {
				sum += src[k]
				count++
			}
		}
		if i > 0 {
			add(f - 1)
		}
		if i < w-1 {
			add(f + 1)
		}
		if j > 0 {
			add(f - w)
		}
		if j < h-1 {
			add(f + w)
		}

		if count > 0 {
			dst[f] = sum / float32(count)
			dstMask[f] = b.pass + 1
		} else {
			dst[f] = 0
			dstMask[f] = 0
		}
	}
}
