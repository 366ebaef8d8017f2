package compute

import (
	"fmt"
)

type command struct {
	name string
	run  func(d *Device) error
}

// Encoder records an ordered batch of commands for one Submit.
//
// Recording never fails eagerly; the first validation error is kept and
// returned by Submit so call sites can encode a whole step without checking
// each command.
type Encoder struct {
	dev       *Device
	label     string
	cmds      []command
	err       error
	submitted bool
}

// NewEncoder starts a new command batch.
func (d *Device) NewEncoder(label string) *Encoder {
	return &Encoder{dev: d, label: label}
}

// Label returns the encoder label.
func (e *Encoder) Label() string { return e.label }

// Len returns the number of recorded commands.
func (e *Encoder) Len() int { return len(e.cmds) }

// Err returns the first recording error.
func (e *Encoder) Err() error { return e.err }

// Commands returns the recorded command names in order.
func (e *Encoder) Commands() []string {
	names := make([]string, len(e.cmds))
	for i, c := range e.cmds {
		names[i] = c.name
	}
	return names
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// Dispatch records workgroups×WorkgroupSize invocations of the group's kernel.
func Dispatch[B Binder](e *Encoder, g *BindGroup[B], workgroups int) {
	if g == nil {
		e.fail(fmt.Errorf("%w: dispatch with nil bind group", ErrInvalidCommand))
		return
	}
	if g.dev != e.dev {
		e.fail(fmt.Errorf("%w: bind group %q belongs to another device", ErrInvalidCommand, g.label))
		return
	}
	if workgroups < 0 || workgroups > e.dev.limits.MaxWorkgroupsPerOp {
		e.fail(fmt.Errorf("%w: %s: %d workgroups, limit %d", ErrInvalidCommand, g.label, workgroups, e.dev.limits.MaxWorkgroupsPerOp))
		return
	}

	k := g.kernel
	binding := g.binding
	slots := g.slots
	e.cmds = append(e.cmds, command{
		name: k.Name + "/" + g.label,
		run: func(d *Device) error {
			for _, s := range slots {
				if s.Buffer.Destroyed() {
					return fmt.Errorf("slot %q: buffer %q destroyed", s.Name, s.Buffer.label)
				}
			}
			return d.pool.run(workgroups, k.WorkgroupSize, func(lo, hi int) {
				k.Entry(binding, lo, hi)
			})
		},
	})
}

// ClearBuffer records zeroing all of b.
func (e *Encoder) ClearBuffer(b *Buffer) {
	if b == nil {
		e.fail(fmt.Errorf("%w: clear nil buffer", ErrInvalidCommand))
		return
	}
	e.ClearRange(b, 0, b.n)
}

// ClearRange records zeroing n elements of b from off.
func (e *Encoder) ClearRange(b *Buffer, off, n int) {
	if err := checkBuffer(b, e.dev); err != nil {
		e.fail(err)
		return
	}
	if !b.usage.Has(UsageCopyDst) {
		e.fail(fmt.Errorf("%w: clear %q lacks copy-dst usage", ErrInvalidCommand, b.label))
		return
	}
	if off < 0 || n < 0 || off+n > b.n {
		e.fail(fmt.Errorf("%w: clear [%d,%d) outside %q of %d elements", ErrInvalidCommand, off, off+n, b.label, b.n))
		return
	}
	e.cmds = append(e.cmds, command{
		name: "clear/" + b.label,
		run: func(*Device) error {
			if b.Destroyed() {
				return fmt.Errorf("buffer %q destroyed", b.label)
			}
			b.clear(off, n)
			return nil
		},
	})
}

// CopyBufferToBuffer records copying n elements from src[srcOff:] to
// dst[dstOff:]. Offsets and length are in elements.
func (e *Encoder) CopyBufferToBuffer(src *Buffer, srcOff int, dst *Buffer, dstOff, n int) {
	if err := checkBuffer(src, e.dev); err != nil {
		e.fail(err)
		return
	}
	if err := checkBuffer(dst, e.dev); err != nil {
		e.fail(err)
		return
	}
	switch {
	case src == dst:
		e.fail(fmt.Errorf("%w: copy %q onto itself", ErrInvalidCommand, src.label))
		return
	case src.format != dst.format:
		e.fail(fmt.Errorf("%w: copy %s %q to %s %q", ErrInvalidCommand, src.format, src.label, dst.format, dst.label))
		return
	case !src.usage.Has(UsageCopySrc):
		e.fail(fmt.Errorf("%w: copy source %q lacks copy-src usage", ErrInvalidCommand, src.label))
		return
	case !dst.usage.Has(UsageCopyDst):
		e.fail(fmt.Errorf("%w: copy destination %q lacks copy-dst usage", ErrInvalidCommand, dst.label))
		return
	case n < 0 || srcOff < 0 || dstOff < 0 || srcOff+n > src.n || dstOff+n > dst.n:
		e.fail(fmt.Errorf("%w: copy %d elements %q[%d:] to %q[%d:] out of range", ErrInvalidCommand, n, src.label, srcOff, dst.label, dstOff))
		return
	}
	e.cmds = append(e.cmds, command{
		name: "copy/" + src.label + "->" + dst.label,
		run: func(*Device) error {
			if src.Destroyed() || dst.Destroyed() {
				return fmt.Errorf("copy %q to %q: buffer destroyed", src.label, dst.label)
			}
			copyRange(src, srcOff, dst, dstOff, n)
			return nil
		},
	})
}
