package fluid

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/compute"
)

// transferRoundTrip runs P2G, extension and G2P without any forces, using the
// grid result as the previous velocity too.
func transferRoundTrip(s *Simulator) func(enc *compute.Encoder) {
	return func(enc *compute.Encoder) {
		s.encodeCellSetup(enc)
		s.encodeHash(enc)
		s.encodeMarkLiquid(enc)
		s.encodeTransferToGrid(enc)
		s.encodeExtension(enc)
		enc.CopyBufferToBuffer(s.buf.u, 0, s.buf.uPrev, 0, s.buf.u.Len())
		enc.CopyBufferToBuffer(s.buf.v, 0, s.buf.vPrev, 0, s.buf.v.Len())
		compute.Dispatch(enc, s.groups.g2p, s.cfg.Derived.ParticleWorkgroups)
	}
}

// blockLattice fills cells 4..11 of a 16×16 unit grid with two particles per
// cell side.
func blockLattice() []float32 {
	h := float32(1.0 / 16)
	return lattice(256, 16, 4*h, 4*h, h/2, h/2)
}

func TestUniformVelocityRoundTrip(t *testing.T) {
	pos := blockLattice()
	n := len(pos) / 2
	vel := make([]float32, 2*n)
	for i := range n {
		vel[2*i], vel[2*i+1] = 0.7, -0.3
	}

	tests := []struct {
		name  string
		ratio float32
	}{
		{"pic", 0},
		{"blend", 0.5},
		{"flip", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 16, 16, 1, 1, n)
			s := newTestSimulator(t, cfg, pos, vel)
			phys := s.Physics()
			phys.PicFlipRatio = tt.ratio
			require.NoError(t, s.SetPhysics(phys))

			run(t, s, transferRoundTrip(s))

			got, err := s.Velocities()
			require.NoError(t, err)
			for i := range n {
				assert.InDelta(t, 0.7, got[2*i], 1e-5, "vx of particle %d", i)
				assert.InDelta(t, -0.3, got[2*i+1], 1e-5, "vy of particle %d", i)
			}
		})
	}
}

func TestFlipKeepsVelocitiesWhenGridUnchanged(t *testing.T) {
	pos := blockLattice()
	n := len(pos) / 2
	rng := rand.New(rand.NewPCG(7, 11))
	vel := make([]float32, 2*n)
	for i := range vel {
		vel[i] = rng.Float32()*2 - 1
	}

	cfg := testConfig(t, 16, 16, 1, 1, n)
	s := newTestSimulator(t, cfg, pos, vel)
	phys := s.Physics()
	phys.PicFlipRatio = 1
	require.NoError(t, s.SetPhysics(phys))

	run(t, s, transferRoundTrip(s))

	got, err := s.Velocities()
	require.NoError(t, err)
	assert.Equal(t, vel, got)
}

func TestExtensionWidensDefinedFaces(t *testing.T) {
	cfg := testConfig(t, 12, 12, 12, 12, 1)
	cfg.Physics.ExtensionPasses = 3
	s := newTestSimulator(t, cfg, []float32{6.3, 6.6}, []float32{1.5, -2})

	run(t, s, func(enc *compute.Encoder) {
		s.encodeHash(enc)
		s.encodeTransferToGrid(enc)
	})
	before := readU32(t, s, s.buf.uMask)

	run(t, s, s.encodeExtension)
	u := readF32(t, s, s.buf.u)
	after := readU32(t, s, s.buf.uMask)

	count := func(mask []uint32) int {
		var n int
		for _, m := range mask {
			if m > 0 {
				n++
			}
		}
		return n
	}
	require.Positive(t, count(before))
	assert.Greater(t, count(after), count(before))

	for f, m := range after {
		switch {
		case m == 0:
			assert.Zero(t, u[f], "undefined face %d", f)
		case before[f] != 0:
			assert.Equal(t, uint32(1), m, "p2g face %d", f)
			assert.InDelta(t, 1.5, u[f], 1e-6)
		default:
			assert.LessOrEqual(t, m, uint32(cfg.Physics.ExtensionPasses+1))
			assert.InDelta(t, 1.5, u[f], 1e-6, "extended face %d", f)
		}
	}
}

func TestDensityOfUniformLattice(t *testing.T) {
	cfg := testConfig(t, 16, 16, 1, 1, 256)
	s := newTestSimulator(t, cfg, blockLattice(), nil)

	run(t, s, func(enc *compute.Encoder) {
		s.encodeHash(enc)
		s.encodeDensityField(enc)
	})
	density := readF32(t, s, s.buf.density)
	g := &s.params.grid

	// Two particles per cell side at offsets ¼ and ¾ give a weight of 2 per
	// axis away from the block edge.
	for j := 5; j <= 10; j++ {
		for i := 5; i <= 10; i++ {
			assert.InDelta(t, 4, density[g.cell(i, j)], 1e-4, "cell (%d,%d)", i, j)
		}
	}
	assert.InDelta(t, 1.75*1.75, density[g.cell(4, 4)], 1e-4)
	assert.Zero(t, density[g.cell(1, 1)])
	assert.InDelta(t, 4, s.Physics().TargetDensity, 1e-4)
}
