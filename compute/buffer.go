package compute

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Usage is a bit set of the ways a buffer may be bound or copied.
type Usage uint32

const (
	UsageStorage Usage = 1 << iota
	UsageUniform
	UsageCopySrc
	UsageCopyDst
	UsageMapRead
)

// Has reports whether every flag in f is set.
func (u Usage) Has(f Usage) bool {
	return u&f == f
}

func (u Usage) String() string {
	var parts []string
	names := []string{"storage", "uniform", "copy-src", "copy-dst", "map-read"}
	for i, name := range names {
		if u&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Format is the element type of a buffer. Every element is 4 bytes.
type Format uint8

const (
	F32 Format = iota
	U32
)

func (f Format) String() string {
	switch f {
	case F32:
		return "f32"
	case U32:
		return "u32"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label  string
	Format Format
	Len    int // elements
	Usage  Usage
}

// Buffer is a device-resident array of 32-bit elements.
type Buffer struct {
	label  string
	format Format
	usage  Usage
	n      int

	f32 []float32
	u32 []uint32

	dev       *Device
	destroyed atomic.Bool
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Len returns the element count.
func (b *Buffer) Len() int { return b.n }

// Size returns the size in bytes.
func (b *Buffer) Size() int64 { return int64(b.n) * 4 }

// Format returns the element type.
func (b *Buffer) Format() Format { return b.format }

// Usage returns the usage flags.
func (b *Buffer) Usage() Usage { return b.usage }

// F32 exposes float storage to kernel entry points.
// Panics if the buffer holds another format.
func (b *Buffer) F32() []float32 {
	if b.format != F32 {
		panic(fmt.Sprintf("compute: buffer %q is %s, not f32", b.label, b.format))
	}
	return b.f32
}

// U32 exposes integer storage to kernel entry points.
// Panics if the buffer holds another format.
func (b *Buffer) U32() []uint32 {
	if b.format != U32 {
		panic(fmt.Sprintf("compute: buffer %q is %s, not u32", b.label, b.format))
	}
	return b.u32
}

// Destroyed reports whether Destroy has been called.
func (b *Buffer) Destroyed() bool { return b.destroyed.Load() }

// Destroy releases the storage. Further use is an invalid command.
func (b *Buffer) Destroy() {
	if b == nil || !b.destroyed.CompareAndSwap(false, true) {
		return
	}
	if b.dev != nil {
		b.dev.release(b.Size())
	}
	b.f32 = nil
	b.u32 = nil
}

func (b *Buffer) clear(off, n int) {
	switch b.format {
	case F32:
		clear(b.f32[off : off+n])
	case U32:
		clear(b.u32[off : off+n])
	}
}

func copyRange(src *Buffer, srcOff int, dst *Buffer, dstOff, n int) {
	switch src.format {
	case F32:
		copy(dst.f32[dstOff:dstOff+n], src.f32[srcOff:srcOff+n])
	case U32:
		copy(dst.u32[dstOff:dstOff+n], src.u32[srcOff:srcOff+n])
	}
}
