package compute

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scaleBinding struct {
	in, out *Buffer
	factor  float32
}

func (b scaleBinding) Slots() []Slot {
	return []Slot{
		RO("in", b.in, F32, 0),
		RW("out", b.out, F32, b.in.Len()),
	}
}

func scaleEntry(b scaleBinding, lo, hi int) {
	in, out := b.in.F32(), b.out.F32()
	if hi > len(in) {
		hi = len(in)
	}
	for i := lo; i < hi; i++ {
		out[i] = in[i] * b.factor
	}
}

func newTestDevice(t *testing.T, workers int) *Device {
	t.Helper()
	dev, err := NewDevice(Options{Label: "test", Workers: workers})
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)
	return dev
}

func newScaleKernel(t *testing.T) *Kernel[scaleBinding] {
	t.Helper()
	k := &Kernel[scaleBinding]{Name: "scale", WorkgroupSize: 64, Entry: scaleEntry}
	require.NoError(t, Register(NewRegistry(), k))
	return k
}

func storage(t *testing.T, dev *Device, label string, f Format, n int) *Buffer {
	t.Helper()
	b, err := dev.CreateBuffer(BufferDescriptor{
		Label:  label,
		Format: f,
		Len:    n,
		Usage:  UsageStorage | UsageCopySrc | UsageCopyDst,
	})
	require.NoError(t, err)
	return b
}

func TestDispatchCoversEveryInvocation(t *testing.T) {
	for _, workers := range []int{1, 4} {
		dev := newTestDevice(t, workers)
		k := newScaleKernel(t)

		const n = 1000
		in := storage(t, dev, "in", F32, n)
		out := storage(t, dev, "out", F32, n)
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(i)
		}
		require.NoError(t, dev.WriteF32(in, 0, data))

		g, err := k.Bind(dev, "scale", scaleBinding{in: in, out: out, factor: 2})
		require.NoError(t, err)

		enc := dev.NewEncoder("frame")
		Dispatch(enc, g, (n+63)/64)
		require.NoError(t, dev.Submit(enc))

		got, err := dev.ReadF32(out)
		require.NoError(t, err)
		for i := range got {
			if got[i] != 2*float32(i) {
				t.Fatalf("workers=%d out[%d] = %v, want %v", workers, i, got[i], 2*float32(i))
			}
		}
	}
}

func TestCommandsRunInOrder(t *testing.T) {
	dev := newTestDevice(t, 4)
	k := newScaleKernel(t)

	a := storage(t, dev, "a", F32, 256)
	b := storage(t, dev, "b", F32, 256)
	require.NoError(t, dev.WriteF32(a, 0, []float32{1, 2, 3}))

	g, err := k.Bind(dev, "a->b", scaleBinding{in: a, out: b, factor: 3})
	require.NoError(t, err)

	enc := dev.NewEncoder("ordered")
	Dispatch(enc, g, 4)
	enc.CopyBufferToBuffer(b, 0, a, 0, 256)
	Dispatch(enc, g, 4)
	enc.ClearRange(a, 0, 1)
	require.NoError(t, dev.Submit(enc))

	gotA, err := dev.ReadF32(a)
	require.NoError(t, err)
	gotB, err := dev.ReadF32(b)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 6, 9}, gotA[:3])
	assert.Equal(t, []float32{9, 18, 27}, gotB[:3])
	assert.Equal(t, []string{"scale/a->b", "copy/b->a", "scale/a->b", "clear/a"}, enc.Commands())
}

func TestBindRejectsInvalidSlots(t *testing.T) {
	dev := newTestDevice(t, 1)
	k := newScaleKernel(t)

	in := storage(t, dev, "in", F32, 64)
	out := storage(t, dev, "out", F32, 64)
	short := storage(t, dev, "short", F32, 8)
	ints := storage(t, dev, "ints", U32, 64)
	copyOnly, err := dev.CreateBuffer(BufferDescriptor{Label: "copy-only", Format: F32, Len: 64, Usage: UsageCopySrc})
	require.NoError(t, err)
	gone := storage(t, dev, "gone", F32, 64)
	gone.Destroy()

	cases := map[string]scaleBinding{
		"aliased":   {in: in, out: in},
		"too short": {in: in, out: short},
		"format":    {in: ints, out: out},
		"usage":     {in: copyOnly, out: out},
		"destroyed": {in: gone, out: out},
		"nil":       {in: in, out: nil},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := k.Bind(dev, name, b)
			assert.ErrorIs(t, err, ErrInvalidBinding)
		})
	}

	unregistered := &Kernel[scaleBinding]{Name: "loose", WorkgroupSize: 64, Entry: scaleEntry}
	_, err = unregistered.Bind(dev, "loose", scaleBinding{in: in, out: out})
	assert.ErrorIs(t, err, ErrInvalidBinding)
}

func TestEncoderReportsFirstErrorAtSubmit(t *testing.T) {
	dev := newTestDevice(t, 1)
	a := storage(t, dev, "a", F32, 16)
	b := storage(t, dev, "b", U32, 16)

	enc := dev.NewEncoder("bad")
	enc.CopyBufferToBuffer(a, 0, a, 0, 4)
	enc.CopyBufferToBuffer(a, 0, b, 0, 4)
	require.Error(t, enc.Err())

	err := dev.Submit(enc)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Contains(t, err.Error(), "onto itself")
	assert.False(t, dev.Lost(), "validation errors must not lose the device")

	enc = dev.NewEncoder("range")
	enc.CopyBufferToBuffer(a, 10, storage(t, dev, "c", F32, 16), 0, 8)
	assert.ErrorIs(t, dev.Submit(enc), ErrInvalidCommand)

	enc = dev.NewEncoder("workgroups")
	k := newScaleKernel(t)
	g, err := k.Bind(dev, "g", scaleBinding{in: a, out: storage(t, dev, "d", F32, 16)})
	require.NoError(t, err)
	Dispatch(enc, g, dev.Limits().MaxWorkgroupsPerOp+1)
	assert.ErrorIs(t, dev.Submit(enc), ErrInvalidCommand)
}

func TestKernelPanicLosesDevice(t *testing.T) {
	dev := newTestDevice(t, 4)
	reg := NewRegistry()
	k := &Kernel[scaleBinding]{
		Name:          "boom",
		WorkgroupSize: 32,
		Entry: func(b scaleBinding, lo, hi int) {
			_ = b.out.F32()[hi+1<<20]
		},
	}
	require.NoError(t, Register(reg, k))

	in := storage(t, dev, "in", F32, 512)
	out := storage(t, dev, "out", F32, 512)
	g, err := k.Bind(dev, "boom", scaleBinding{in: in, out: out})
	require.NoError(t, err)

	enc := dev.NewEncoder("frame")
	Dispatch(enc, g, 16)
	err = dev.Submit(enc)
	require.ErrorIs(t, err, ErrDeviceLost)
	assert.True(t, dev.Lost())

	_, err = dev.ReadF32(out)
	assert.ErrorIs(t, err, ErrDeviceLost)
	_, err = dev.CreateBuffer(BufferDescriptor{Label: "x", Format: F32, Len: 1, Usage: UsageStorage})
	assert.ErrorIs(t, err, ErrDeviceLost)
}

func TestLoseIsSticky(t *testing.T) {
	dev := newTestDevice(t, 1)
	reason := errors.New("driver reset")
	dev.Lose(reason)
	dev.Lose(errors.New("second"))

	err := dev.Submit(dev.NewEncoder("after"))
	require.ErrorIs(t, err, ErrDeviceLost)
	assert.Contains(t, err.Error(), "driver reset")
}

func TestOutOfMemory(t *testing.T) {
	dev, err := NewDevice(Options{
		Workers: 1,
		Limits: Limits{
			MaxBufferSize:      1024,
			MaxTotalMemory:     2048,
			MaxWorkgroupsPerOp: 16,
			MaxWorkgroupSize:   256,
		},
	})
	require.NoError(t, err)
	defer dev.Destroy()

	_, err = dev.CreateBuffer(BufferDescriptor{Label: "huge", Format: F32, Len: 257, Usage: UsageStorage})
	assert.ErrorIs(t, err, ErrOutOfMemory)

	a, err := dev.CreateBuffer(BufferDescriptor{Label: "a", Format: F32, Len: 256, Usage: UsageStorage})
	require.NoError(t, err)
	_, err = dev.CreateBuffer(BufferDescriptor{Label: "b", Format: F32, Len: 256, Usage: UsageStorage})
	require.NoError(t, err)
	_, err = dev.CreateBuffer(BufferDescriptor{Label: "c", Format: F32, Len: 1, Usage: UsageStorage})
	assert.ErrorIs(t, err, ErrOutOfMemory)

	a.Destroy()
	assert.Equal(t, int64(1024), dev.Allocated())
	_, err = dev.CreateBuffer(BufferDescriptor{Label: "c", Format: F32, Len: 1, Usage: UsageStorage})
	assert.NoError(t, err)
}

func TestRequireFeatures(t *testing.T) {
	dev, err := NewDevice(Options{Workers: 1, Features: []Feature{FeatureFloat32Storage}})
	require.NoError(t, err)
	defer dev.Destroy()

	assert.NoError(t, dev.Require(FeatureFloat32Storage))
	assert.ErrorIs(t, dev.Require(FeatureFloat32Storage, FeatureStorageAtomics), ErrMissingCapability)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	k1 := &Kernel[scaleBinding]{Name: "scale", WorkgroupSize: 64, Entry: scaleEntry}
	k2 := &Kernel[scaleBinding]{Name: "scale", WorkgroupSize: 32, Entry: scaleEntry}

	require.NoError(t, Register(reg, k1))
	assert.Error(t, Register(reg, k2))
	assert.Equal(t, 1, reg.Len())

	info, ok := reg.Lookup("scale")
	require.True(t, ok)
	assert.Equal(t, 64, info.WorkgroupSize)
	assert.Contains(t, info.EntryPoint, "scaleEntry")
}

func TestDoubleBuffer(t *testing.T) {
	dev := newTestDevice(t, 1)
	a := storage(t, dev, "a", F32, 8)
	b := storage(t, dev, "b", F32, 8)

	db, err := NewDoubleBuffer(a, b)
	require.NoError(t, err)
	assert.Same(t, a, db.Current())
	assert.Same(t, b, db.Other())

	db.Swap()
	assert.Same(t, b, db.Current())
	assert.Same(t, a, db.Other())
	assert.Equal(t, 1, db.Index())

	db.Reset()
	assert.Same(t, a, db.Current())

	_, err = NewDoubleBuffer(a, a)
	assert.Error(t, err)
	_, err = NewDoubleBuffer(a, storage(t, dev, "c", F32, 9))
	assert.Error(t, err)
}

func TestWorkerPoolChunksAlignToWorkgroups(t *testing.T) {
	p := newWorkerPool(3)
	defer p.stopWorkers()

	const group = 16
	var invocations atomic.Int64
	var misaligned atomic.Int64
	err := p.run(10, group, func(lo, hi int) {
		if lo%group != 0 || hi%group != 0 {
			misaligned.Add(1)
		}
		invocations.Add(int64(hi - lo))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10*group), invocations.Load())
	assert.Zero(t, misaligned.Load())
}
