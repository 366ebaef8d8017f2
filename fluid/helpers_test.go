package fluid

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/terrain"
)

var quietLogger = slog.New(slog.DiscardHandler)

// testConfig returns defaults resized to an nx×ny grid over lx×ly with n particles.
func testConfig(t *testing.T, nx, ny int, lx, ly float64, n int) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Grid.SizeX, cfg.Grid.SizeY = nx, ny
	cfg.World.LengthX, cfg.World.LengthY = lx, ly
	cfg.Particles.Count = n
	cfg.Compute.Workers = 4
	require.NoError(t, cfg.Refresh())
	return cfg
}

func newTestDevice(t *testing.T) *compute.Device {
	t.Helper()
	dev, err := compute.NewDevice(compute.Options{Label: t.Name(), Workers: 4, Logger: quietLogger})
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)
	return dev
}

func newTestSimulator(t *testing.T, cfg *config.Config, pos, vel []float32) *Simulator {
	t.Helper()
	dev := newTestDevice(t)
	opts := []Option{WithLogger(quietLogger)}
	if pos != nil {
		opts = append(opts, WithInitialParticles(pos, vel))
	}
	s, err := New(cfg, dev, terrain.Flat(float32(cfg.World.LengthX)), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// run submits the commands recorded by fn as one batch.
func run(t *testing.T, s *Simulator, fn func(enc *compute.Encoder)) {
	t.Helper()
	enc := s.dev.NewEncoder(t.Name())
	fn(enc)
	require.NoError(t, s.dev.Submit(enc))
}

// lattice places particles on a grid of spacing (dx, dy) starting at (x0, y0)
// with the given column count.
func lattice(n, cols int, x0, y0, dx, dy float32) []float32 {
	pos := make([]float32, 2*n)
	for k := range n {
		i, j := k%cols, k/cols
		pos[2*k] = x0 + (float32(i)+0.5)*dx
		pos[2*k+1] = y0 + (float32(j)+0.5)*dy
	}
	return pos
}

func readF32(t *testing.T, s *Simulator, b *compute.Buffer) []float32 {
	t.Helper()
	out, err := s.dev.ReadF32(b)
	require.NoError(t, err)
	return out
}

func readU32(t *testing.T, s *Simulator, b *compute.Buffer) []uint32 {
	t.Helper()
	out, err := s.dev.ReadU32(b)
	require.NoError(t, err)
	return out
}
