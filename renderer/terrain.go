package renderer

import (
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/camera"
	"github.com/pthm-cable/flip/terrain"
)

// TerrainRenderer draws the ground profile from a baked table.
type TerrainRenderer struct {
	baked   []terrain.Baked
	lengthX float32
}

// NewTerrainRenderer bakes p at n samples over [0, lengthX].
func NewTerrainRenderer(p terrain.Provider, lengthX float32, n int) *TerrainRenderer {
	return &TerrainRenderer{baked: terrain.Bake(p, lengthX, n), lengthX: lengthX}
}

// Draw fills below the surface and strokes the surface line.
func (r *TerrainRenderer) Draw(cam *camera.Camera) {
	n := len(r.baked)
	if n < 2 {
		return
	}
	step := r.lengthX / float32(n-1)
	fill := rl.Color{R: 70, G: 60, B: 50, A: 255}
	edge := rl.Color{R: 150, G: 130, B: 100, A: 255}

	for i := 0; i < n-1; i++ {
		a, b := r.baked[i], r.baked[i+1]
		x0, x1 := float32(i)*step, float32(i+1)*step
		top := (a.Height + b.Height) / 2
		if top <= 0 {
			continue
		}
		sx0, sy0 := cam.WorldToScreen(x0, top)
		sx1, sy1 := cam.WorldToScreen(x1, 0)
		rl.DrawRectangleRec(rl.Rectangle{X: sx0, Y: sy0, Width: sx1 - sx0 + 1, Height: sy1 - sy0}, fill)
	}
	for i := 0; i < n-1; i++ {
		ax, ay := cam.WorldToScreen(float32(i)*step, r.baked[i].Height)
		bx, by := cam.WorldToScreen(float32(i+1)*step, r.baked[i+1].Height)
		rl.DrawLineEx(rl.Vector2{X: ax, Y: ay}, rl.Vector2{X: bx, Y: by}, 2, edge)
	}
}

// Unload frees resources.
func (r *TerrainRenderer) Unload() {
	// Nothing to unload
}
