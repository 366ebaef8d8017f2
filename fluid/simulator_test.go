package fluid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/terrain"
)

func TestSettlesInSmallBox(t *testing.T) {
	const n = 16
	cfg := testConfig(t, 4, 4, 1, 1, n)
	h := float32(0.25)
	s := newTestSimulator(t, cfg, lattice(n, 8, h, h, h/4, h/4), nil)

	for range 60 {
		require.NoError(t, s.Step())
	}
	assert.Equal(t, 60, s.Frame())

	vel, err := s.Velocities()
	require.NoError(t, err)
	var fastest float32
	for _, v := range vel {
		fastest = max(fastest, abs32(v))
	}
	assert.Less(t, fastest, float32(0.05))

	pos, err := s.Positions()
	require.NoError(t, err)
	for i := range n {
		assert.GreaterOrEqual(t, pos[2*i+1], h, "particle %d sank into the floor", i)
	}

	ct, err := s.CellTypes()
	require.NoError(t, err)
	for i := range 4 {
		assert.Equal(t, uint32(CellSolid), ct[i], "floor cell %d", i)
	}
}

func TestStepIsDeterministic(t *testing.T) {
	state := func() ([]float32, []float32) {
		cfg := testConfig(t, 32, 32, 2, 2, 2000)
		s := newTestSimulator(t, cfg, nil, nil)
		for range 5 {
			require.NoError(t, s.Step())
		}
		pos, err := s.Positions()
		require.NoError(t, err)
		vel, err := s.Velocities()
		require.NoError(t, err)
		return pos, vel
	}

	posA, velA := state()
	posB, velB := state()
	assert.Equal(t, posA, posB)
	assert.Equal(t, velA, velB)
}

func TestStepEncodesOneBatch(t *testing.T) {
	cfg := testConfig(t, 16, 16, 1, 1, 100)
	s := newTestSimulator(t, cfg, nil, nil)

	enc := s.dev.NewEncoder("frame")
	s.encodeStep(enc)
	require.NoError(t, enc.Err())
	cmds := enc.Commands()

	index := func(name string) int {
		for i, c := range cmds {
			if c == name {
				return i
			}
		}
		t.Fatalf("command %q not recorded", name)
		return -1
	}
	last := func(name string) int {
		for i := len(cmds) - 1; i >= 0; i-- {
			if cmds[i] == name {
				return i
			}
		}
		t.Fatalf("command %q not recorded", name)
		return -1
	}

	assert.Less(t, index("markFluidFractions/fractions"), index("countParticles/count"))
	assert.Less(t, index("pushParticlesApart/a->b"), index("calculateDensity/density"))
	assert.Less(t, index("applyPositionCorrection/particles"), index("particleToGridU/u"))
	assert.Less(t, index("extendVelocityU/pass1"), index("copy/u->u.prev"))
	assert.Less(t, index("copy/u->u.prev"), index("addAccelerationAndDirichletU/u"))
	assert.Less(t, last("applyPressure/pressure"), index("gridToParticle/g2p"))
	assert.Equal(t, len(cmds)-3, index("advectParticles/a->b"))

	var hashes int
	for _, c := range cmds {
		if c == "countParticles/count" {
			hashes++
		}
	}
	assert.Equal(t, 3, hashes)
}

func TestStepFailureReportsFrame(t *testing.T) {
	cfg := testConfig(t, 8, 8, 1, 1, 32)
	s := newTestSimulator(t, cfg, nil, nil)
	require.NoError(t, s.Step())

	cause := errors.New("adapter reset")
	s.dev.Lose(cause)

	err := s.Step()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, compute.ErrDeviceLost)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Frame)
	assert.Equal(t, 1, s.Frame())

	_, err = s.Positions()
	assert.ErrorIs(t, err, compute.ErrDeviceLost)
}

func TestStepAfterClose(t *testing.T) {
	cfg := testConfig(t, 8, 8, 1, 1, 32)
	s := newTestSimulator(t, cfg, nil, nil)
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Step(), ErrStepFailed)
}

func TestNewRejectsMissingFeatures(t *testing.T) {
	cfg := testConfig(t, 8, 8, 1, 1, 32)
	dev, err := compute.NewDevice(compute.Options{
		Workers:  1,
		Logger:   quietLogger,
		Features: []compute.Feature{compute.FeatureFloat32Storage},
	})
	require.NoError(t, err)
	defer dev.Destroy()

	_, err = New(cfg, dev, nil, WithLogger(quietLogger))
	assert.ErrorIs(t, err, compute.ErrMissingCapability)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, 8, 8, 1, 1, 32)
	cfg.Physics.DT = 0
	_, err := New(cfg, newTestDevice(t), terrain.Flat(1))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewRejectsWrongParticleCount(t *testing.T) {
	cfg := testConfig(t, 8, 8, 1, 1, 32)
	_, err := New(cfg, newTestDevice(t), nil, WithLogger(quietLogger), WithInitialParticles(make([]float32, 10), nil))
	assert.Error(t, err)
}

func TestSetPhysics(t *testing.T) {
	cfg := testConfig(t, 8, 8, 1, 1, 32)
	s := newTestSimulator(t, cfg, nil, nil)
	measured := s.Physics().TargetDensity
	require.Positive(t, measured)

	p := s.Physics()
	p.TargetDensity = 0
	p.GravityY = -1
	require.NoError(t, s.SetPhysics(p))
	assert.Equal(t, measured, s.Physics().TargetDensity)
	assert.Equal(t, float32(-1), s.Physics().GravityY)

	p.PicFlipRatio = 2
	assert.ErrorIs(t, s.SetPhysics(p), config.ErrInvalid)
	assert.Equal(t, float32(0.95), s.Physics().PicFlipRatio)
}

func TestKernelsAreRegistered(t *testing.T) {
	s := newTestSimulator(t, testConfig(t, 8, 8, 1, 1, 32), nil, nil)
	names := s.Kernels()
	for _, want := range []string{
		"countParticles", "particleToGridU", "gridToParticle", "calculateDivergence",
		"applyLaplacian", "dotProductPass1", "calculateAlphaBeta", "applyPositionCorrection",
	} {
		assert.Contains(t, names, want)
	}
}

func TestMeanFluidDensityPrefersInterior(t *testing.T) {
	g := gridParams{nx: 4, ny: 4, cells: 16}
	ct := make([]uint32, 16)
	density := make([]float32, 16)
	for _, c := range []int{5, 6, 9, 10} {
		ct[c] = cellFluid
		density[c] = 2
	}
	assert.Equal(t, float32(2), meanFluidDensity(&g, density, ct))

	// A plus shape has one cell with four fluid neighbours.
	ct = make([]uint32, 25)
	density = make([]float32, 25)
	g = gridParams{nx: 5, ny: 5, cells: 25}
	for _, c := range []int{7, 11, 12, 13, 17} {
		ct[c] = cellFluid
		density[c] = 1
	}
	density[12] = 5
	assert.Equal(t, float32(5), meanFluidDensity(&g, density, ct))
}
