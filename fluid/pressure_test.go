package fluid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/compute"
)

// project runs classification, transfer and the pressure projection, then
// recomputes the divergence of the projected field.
func project(s *Simulator) func(enc *compute.Encoder) {
	return func(enc *compute.Encoder) {
		classify(s)(enc)
		s.encodeTransferToGrid(enc)
		s.encodeExtension(enc)
		s.encodePressureProjection(enc)
		compute.Dispatch(enc, s.groups.divergence, s.cfg.Derived.CellWorkgroups)
	}
}

func TestPressureProjectionRemovesDivergence(t *testing.T) {
	s := poolScene(t, func(x, y float32) (float32, float32) {
		return 0.5 * float32(math.Sin(float64(3*x))), 0.3 * float32(math.Cos(float64(5*y)))
	})
	run(t, s, project(s))

	g := &s.params.grid
	div := readF32(t, s, s.buf.divergence)
	ct := readU32(t, s, s.buf.cellType)

	var fluid int
	for c, typ := range ct {
		if typ != cellFluid {
			continue
		}
		fluid++
		assert.Less(t, abs32(div[c])*g.hx, float32(1e-3), "cell %d", c)
	}
	assert.Equal(t, 18, fluid)
}

func TestPressureProjectionClosesWalls(t *testing.T) {
	s := poolScene(t, func(x, y float32) (float32, float32) { return -2, 1 })
	run(t, s, project(s))

	g := &s.params.grid
	u := readF32(t, s, s.buf.u)
	v := readF32(t, s, s.buf.v)
	for j := range g.ny {
		assert.Zero(t, u[g.uFace(0, j)], "left wall row %d", j)
		assert.Zero(t, u[g.uFace(1, j)], "face against the solid left column, row %d", j)
		assert.Zero(t, u[g.uFace(g.nx, j)], "right wall row %d", j)
	}
	for i := range g.nx {
		assert.Zero(t, v[g.vFace(i, 0)], "floor column %d", i)
		assert.Zero(t, v[g.vFace(i, 1)], "face above the solid floor, column %d", i)
	}
}

func TestHydrostaticPressure(t *testing.T) {
	s := poolScene(t, nil)
	run(t, s, project(s))

	g := &s.params.grid
	p := readF32(t, s, s.buf.pressure)
	v := readF32(t, s, s.buf.v)
	ct := readU32(t, s, s.buf.cellType)

	for i := 2; i <= 5; i++ {
		require.Equal(t, uint32(cellFluid), ct[g.cell(i, 3)])
		require.Equal(t, uint32(cellAir), ct[g.cell(i, 4)])

		assert.Greater(t, p[g.cell(i, 1)], p[g.cell(i, 2)], "column %d", i)
		assert.Greater(t, p[g.cell(i, 2)], p[g.cell(i, 3)], "column %d", i)
		assert.Positive(t, p[g.cell(i, 3)], "column %d", i)

		for j := 1; j <= 4; j++ {
			assert.InDelta(t, 0, v[g.vFace(i, j)], 1e-3, "v face (%d,%d)", i, j)
		}
	}
}

func TestViscosityIsOptional(t *testing.T) {
	s := poolScene(t, nil)
	enc := s.dev.NewEncoder("plain")
	s.encodePressureProjection(enc)
	plain := enc.Len()

	phys := s.Physics()
	phys.ViscosityEnabled = true
	phys.Viscosity = 0.01
	require.NoError(t, s.SetPhysics(phys))
	enc = s.dev.NewEncoder("viscous")
	s.encodePressureProjection(enc)
	assert.Equal(t, plain+4, enc.Len())

	run(t, s, project(s))
	require.NoError(t, s.Step())
}
