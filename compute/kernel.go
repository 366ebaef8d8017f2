package compute

import (
	"fmt"
)

// Access is how a kernel uses a bound buffer.
type Access uint8

const (
	ReadOnly Access = iota
	ReadWrite
	UniformRead
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read"
	case ReadWrite:
		return "read-write"
	case UniformRead:
		return "uniform"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// Slot is one buffer binding of a bind group.
type Slot struct {
	Name   string
	Buffer *Buffer
	Access Access
	Format Format
	MinLen int // minimum element count, 0 = any
}

// RO declares a read-only storage slot.
func RO(name string, b *Buffer, f Format, minLen int) Slot {
	return Slot{Name: name, Buffer: b, Access: ReadOnly, Format: f, MinLen: minLen}
}

// RW declares a read-write storage slot.
func RW(name string, b *Buffer, f Format, minLen int) Slot {
	return Slot{Name: name, Buffer: b, Access: ReadWrite, Format: f, MinLen: minLen}
}

// Uniform declares a uniform slot.
func Uniform(name string, b *Buffer, f Format, minLen int) Slot {
	return Slot{Name: name, Buffer: b, Access: UniformRead, Format: f, MinLen: minLen}
}

// Binder is the typed binding layout of a kernel. Slots lists every buffer
// the kernel touches so it can be validated once at bind time.
type Binder interface {
	Slots() []Slot
}

// Kernel is a compute entry point. Entry is invoked with a contiguous range of
// invocation ids [lo, hi) that starts and ends on workgroup boundaries.
// Invocations may run in any order and concurrently; writes become visible to
// the next command only.
type Kernel[B Binder] struct {
	Name          string
	WorkgroupSize int
	Entry         func(b B, lo, hi int)

	registry *Registry
}

// BindGroup is a validated, reusable binding of buffers to a kernel.
type BindGroup[B Binder] struct {
	label   string
	kernel  *Kernel[B]
	binding B
	slots   []Slot
	dev     *Device
}

// Label returns the bind group label.
func (g *BindGroup[B]) Label() string { return g.label }

// Kernel returns the bound kernel.
func (g *BindGroup[B]) Kernel() *Kernel[B] { return g.kernel }

// Binding returns the typed binding.
func (g *BindGroup[B]) Binding() B { return g.binding }

// Bind validates b against the kernel layout and the device.
func (k *Kernel[B]) Bind(dev *Device, label string, b B) (*BindGroup[B], error) {
	if k.registry == nil {
		return nil, fmt.Errorf("%w: %s: kernel %q not registered", ErrInvalidBinding, label, k.Name)
	}
	if k.Entry == nil {
		return nil, fmt.Errorf("%w: %s: kernel %q has no entry point", ErrInvalidBinding, label, k.Name)
	}
	if k.WorkgroupSize <= 0 || k.WorkgroupSize > dev.limits.MaxWorkgroupSize {
		return nil, fmt.Errorf("%w: %s: kernel %q workgroup size %d", ErrInvalidBinding, label, k.Name, k.WorkgroupSize)
	}

	slots := b.Slots()
	for i, s := range slots {
		if err := validateSlot(dev, s); err != nil {
			return nil, fmt.Errorf("%w: %s: slot %q: %v", ErrInvalidBinding, label, s.Name, err)
		}
		if s.Access != ReadWrite {
			continue
		}
		for j, o := range slots {
			if i != j && o.Buffer == s.Buffer {
				return nil, fmt.Errorf("%w: %s: buffer %q bound writable as %q and again as %q", ErrInvalidBinding, label, s.Buffer.label, s.Name, o.Name)
			}
		}
	}

	return &BindGroup[B]{
		label:   label,
		kernel:  k,
		binding: b,
		slots:   slots,
		dev:     dev,
	}, nil
}

func validateSlot(dev *Device, s Slot) error {
	b := s.Buffer
	switch {
	case b == nil:
		return fmt.Errorf("nil buffer")
	case b.dev != dev:
		return fmt.Errorf("buffer %q belongs to another device", b.label)
	case b.Destroyed():
		return fmt.Errorf("buffer %q destroyed", b.label)
	case b.format != s.Format:
		return fmt.Errorf("buffer %q is %s, want %s", b.label, b.format, s.Format)
	case b.n < s.MinLen:
		return fmt.Errorf("buffer %q has %d elements, need %d", b.label, b.n, s.MinLen)
	}
	want := UsageStorage
	if s.Access == UniformRead {
		want = UsageUniform
	}
	if !b.usage.Has(want) {
		return fmt.Errorf("buffer %q usage %s lacks %s", b.label, b.usage, want)
	}
	return nil
}
