package fluid

import (
	"math"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/terrain"
)

// InitialBlock lays particles out on a square lattice filling the configured
// start block. The lattice side is ceil(sqrt(N)); the last row is truncated to
// N. Positions are clamped above the terrain and inside the walls.
func InitialBlock(cfg *config.Config, t terrain.Provider) []float32 {
	n := cfg.Particles.Count
	side := int(math.Ceil(math.Sqrt(float64(n))))
	lx, ly := cfg.World.LengthX, cfg.World.LengthY
	x0, y0 := cfg.Particles.InitX*lx, cfg.Particles.InitY*ly
	w, h := cfg.Particles.InitWidth*lx, cfg.Particles.InitHeight*ly
	dx, dy := w/float64(side), h/float64(side)

	p := newParams(cfg)
	pos := make([]float32, 2*n)
	for k := range n {
		i, j := k%side, k/side
		x := float32(x0 + (float64(i)+0.5)*dx)
		y := float32(y0 + (float64(j)+0.5)*dy)
		pos[2*k], pos[2*k+1] = p.clampPosition(t, x, y)
	}
	return pos
}
