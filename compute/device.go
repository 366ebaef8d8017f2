// Package compute is a CPU data-parallel backend that executes ordered
// batches of kernel dispatches over device-resident buffers.
//
// A Device owns a persistent worker pool. Work is recorded into an Encoder as
// dispatches, copies and clears, and Submit runs the whole batch in order. Each
// dispatch completes, with all of its writes visible, before the next command
// starts; that pass boundary is the only synchronization kernels may rely on.
package compute

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Feature names an optional device capability.
type Feature string

const (
	FeatureStorageAtomics Feature = "storage-atomics"
	FeatureFloat32Storage Feature = "float32-storage"
)

// Limits bound what a device will allocate and dispatch.
type Limits struct {
	MaxBufferSize      int64 // bytes per buffer
	MaxTotalMemory     int64 // bytes across live buffers
	MaxWorkgroupsPerOp int   // per dispatch
	MaxWorkgroupSize   int
}

// DefaultLimits mirrors a mid-range discrete accelerator.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:      1 << 30,
		MaxTotalMemory:     4 << 30,
		MaxWorkgroupsPerOp: 65535,
		MaxWorkgroupSize:   1024,
	}
}

// Options configure NewDevice.
type Options struct {
	Label    string
	Workers  int // 0 = GOMAXPROCS
	Limits   Limits
	Features []Feature // nil = every feature the CPU backend supports
	Logger   *slog.Logger
}

// Device is a single ordered queue over a worker pool.
type Device struct {
	label    string
	limits   Limits
	features map[Feature]bool
	logger   *slog.Logger

	pool      *workerPool
	allocated atomic.Int64

	queue sync.Mutex
	lost  atomic.Bool

	lostMu  sync.Mutex
	lostErr error
}

// NewDevice creates a device. It never fails for the CPU backend unless the
// options are inconsistent.
func NewDevice(opts Options) (*Device, error) {
	limits := opts.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits()
	}
	if limits.MaxBufferSize <= 0 || limits.MaxTotalMemory <= 0 || limits.MaxWorkgroupsPerOp <= 0 || limits.MaxWorkgroupSize <= 0 {
		return nil, fmt.Errorf("creating device: invalid limits %+v", limits)
	}

	features := opts.Features
	if features == nil {
		features = []Feature{FeatureStorageAtomics, FeatureFloat32Storage}
	}
	fs := make(map[Feature]bool, len(features))
	for _, f := range features {
		fs[f] = true
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	label := opts.Label
	if label == "" {
		label = "cpu"
	}

	d := &Device{
		label:    label,
		limits:   limits,
		features: fs,
		logger:   logger,
		pool:     newWorkerPool(opts.Workers),
	}
	logger.Debug("compute device created", "label", label, "workers", d.pool.numWorkers)
	return d, nil
}

// Label returns the device label.
func (d *Device) Label() string { return d.label }

// Limits returns the device limits.
func (d *Device) Limits() Limits { return d.limits }

// Workers returns the size of the worker pool.
func (d *Device) Workers() int { return d.pool.numWorkers }

// Allocated returns the bytes held by live buffers.
func (d *Device) Allocated() int64 { return d.allocated.Load() }

// Features returns the supported features in sorted order.
func (d *Device) Features() []Feature {
	out := make([]Feature, 0, len(d.features))
	for f := range d.features {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Require fails with ErrMissingCapability unless every feature is supported.
func (d *Device) Require(features ...Feature) error {
	for _, f := range features {
		if !d.features[f] {
			return fmt.Errorf("%w: %s", ErrMissingCapability, f)
		}
	}
	return nil
}

// CreateBuffer allocates a zeroed buffer.
func (d *Device) CreateBuffer(desc BufferDescriptor) (*Buffer, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if desc.Len <= 0 {
		return nil, fmt.Errorf("creating buffer %q: length %d", desc.Label, desc.Len)
	}
	if desc.Format != F32 && desc.Format != U32 {
		return nil, fmt.Errorf("creating buffer %q: unknown %s", desc.Label, desc.Format)
	}

	size := int64(desc.Len) * 4
	if size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q needs %d bytes, limit %d", ErrOutOfMemory, desc.Label, size, d.limits.MaxBufferSize)
	}
	if total := d.allocated.Add(size); total > d.limits.MaxTotalMemory {
		d.allocated.Add(-size)
		return nil, fmt.Errorf("%w: buffer %q would raise device memory to %d bytes, limit %d", ErrOutOfMemory, desc.Label, total, d.limits.MaxTotalMemory)
	}

	b := &Buffer{
		label:  desc.Label,
		format: desc.Format,
		usage:  desc.Usage,
		n:      desc.Len,
		dev:    d,
	}
	switch desc.Format {
	case F32:
		b.f32 = make([]float32, desc.Len)
	case U32:
		b.u32 = make([]uint32, desc.Len)
	}
	return b, nil
}

func (d *Device) release(size int64) {
	d.allocated.Add(-size)
}

// WriteF32 copies host data into b starting at element offset.
func (d *Device) WriteF32(b *Buffer, offset int, data []float32) error {
	if err := d.checkWrite(b, F32, offset, len(data)); err != nil {
		return err
	}
	d.queue.Lock()
	defer d.queue.Unlock()
	copy(b.f32[offset:], data)
	return nil
}

// WriteU32 copies host data into b starting at element offset.
func (d *Device) WriteU32(b *Buffer, offset int, data []uint32) error {
	if err := d.checkWrite(b, U32, offset, len(data)); err != nil {
		return err
	}
	d.queue.Lock()
	defer d.queue.Unlock()
	copy(b.u32[offset:], data)
	return nil
}

func (d *Device) checkWrite(b *Buffer, f Format, offset, n int) error {
	if err := d.checkLost(); err != nil {
		return err
	}
	if err := checkBuffer(b, d); err != nil {
		return err
	}
	if b.format != f {
		return fmt.Errorf("%w: write %s into %s buffer %q", ErrInvalidCommand, f, b.format, b.label)
	}
	if !b.usage.Has(UsageCopyDst) {
		return fmt.Errorf("%w: buffer %q lacks copy-dst usage", ErrInvalidCommand, b.label)
	}
	if offset < 0 || offset+n > b.n {
		return fmt.Errorf("%w: write [%d,%d) outside buffer %q of %d elements", ErrInvalidCommand, offset, offset+n, b.label, b.n)
	}
	return nil
}

// ReadF32 waits for queued work and returns a host copy of b.
func (d *Device) ReadF32(b *Buffer) ([]float32, error) {
	if err := d.checkRead(b, F32); err != nil {
		return nil, err
	}
	d.queue.Lock()
	defer d.queue.Unlock()
	return slices.Clone(b.f32), nil
}

// ReadU32 waits for queued work and returns a host copy of b.
func (d *Device) ReadU32(b *Buffer) ([]uint32, error) {
	if err := d.checkRead(b, U32); err != nil {
		return nil, err
	}
	d.queue.Lock()
	defer d.queue.Unlock()
	return slices.Clone(b.u32), nil
}

func (d *Device) checkRead(b *Buffer, f Format) error {
	if err := d.checkLost(); err != nil {
		return err
	}
	if err := checkBuffer(b, d); err != nil {
		return err
	}
	if b.format != f {
		return fmt.Errorf("%w: read %s from %s buffer %q", ErrInvalidCommand, f, b.format, b.label)
	}
	if !b.usage.Has(UsageCopySrc) {
		return fmt.Errorf("%w: buffer %q lacks copy-src usage", ErrInvalidCommand, b.label)
	}
	return nil
}

// Submit executes every command of enc in order. The first failure loses the
// device; the remaining commands are not run.
func (d *Device) Submit(enc *Encoder) error {
	if enc.dev != d {
		return fmt.Errorf("%w: encoder %q belongs to another device", ErrInvalidCommand, enc.label)
	}
	if enc.err != nil {
		return fmt.Errorf("submitting %q: %w", enc.label, enc.err)
	}
	if enc.submitted {
		return fmt.Errorf("%w: encoder %q already submitted", ErrInvalidCommand, enc.label)
	}
	enc.submitted = true

	d.queue.Lock()
	defer d.queue.Unlock()

	if err := d.checkLost(); err != nil {
		return err
	}
	for i := range enc.cmds {
		cmd := &enc.cmds[i]
		if err := cmd.run(d); err != nil {
			err = fmt.Errorf("%w: command %d (%s): %v", ErrDeviceLost, i, cmd.name, err)
			d.lose(err)
			return fmt.Errorf("submitting %q: %w", enc.label, err)
		}
	}
	return nil
}

// Lose marks the device lost. Used by fault injection and by Submit.
func (d *Device) Lose(reason error) {
	if reason == nil {
		reason = ErrDeviceLost
	}
	d.lose(reason)
}

func (d *Device) lose(reason error) {
	d.lostMu.Lock()
	defer d.lostMu.Unlock()
	if d.lost.Load() {
		return
	}
	d.lostErr = reason
	d.lost.Store(true)
	d.logger.Error("compute device lost", "label", d.label, "error", reason)
}

// Lost reports whether the device has been lost.
func (d *Device) Lost() bool { return d.lost.Load() }

func (d *Device) checkLost() error {
	if !d.lost.Load() {
		return nil
	}
	d.lostMu.Lock()
	reason := d.lostErr
	d.lostMu.Unlock()
	if reason == nil || errors.Is(reason, ErrDeviceLost) {
		return reason
	}
	return fmt.Errorf("%w: %v", ErrDeviceLost, reason)
}

// Destroy stops the worker pool. Buffers remain readable by Go code but the
// device accepts no further submissions.
func (d *Device) Destroy() {
	d.queue.Lock()
	defer d.queue.Unlock()
	d.pool.stopWorkers()
	d.lose(fmt.Errorf("device %q destroyed", d.label))
}

func checkBuffer(b *Buffer, d *Device) error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", ErrInvalidCommand)
	}
	if b.dev != d {
		return fmt.Errorf("%w: buffer %q belongs to another device", ErrInvalidCommand, b.label)
	}
	if b.Destroyed() {
		return fmt.Errorf("%w: buffer %q destroyed", ErrInvalidCommand, b.label)
	}
	return nil
}
