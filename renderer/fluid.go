package renderer

import (
	"image/color"
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/camera"
	"github.com/pthm-cable/flip/fluid"
)

// ViewMode selects what the fluid renderer draws.
type ViewMode int

const (
	ViewParticles ViewMode = iota // particles colored by speed
	ViewGrid                      // cells colored by type and density
)

func (m ViewMode) String() string {
	if m == ViewGrid {
		return "grid"
	}
	return "particles"
}

// FluidRenderer draws particles or the cell grid. It only reads buffers
// that were read back after a step.
type FluidRenderer struct {
	Mode     ViewMode
	MaxSpeed float32 // speed mapped to the top of the gradient

	nx, ny  int
	texture rl.Texture2D
	pixels  []color.RGBA
	loaded  bool
}

// NewFluidRenderer creates a renderer for an nx×ny grid.
func NewFluidRenderer(nx, ny int) *FluidRenderer {
	return &FluidRenderer{MaxSpeed: 4, nx: nx, ny: ny}
}

// Resize changes the grid resolution after a reconfiguration.
func (r *FluidRenderer) Resize(nx, ny int) {
	if nx == r.nx && ny == r.ny {
		return
	}
	r.Unload()
	r.nx, r.ny = nx, ny
}

func (r *FluidRenderer) init() {
	if r.loaded {
		return
	}
	img := rl.GenImageColor(r.nx, r.ny, rl.Black)
	r.texture = rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	r.pixels = make([]color.RGBA, r.nx*r.ny)
	r.loaded = true
}

// DrawParticles draws each particle as a small circle.
func (r *FluidRenderer) DrawParticles(cam *camera.Camera, positions, velocities []float32, radius float32) {
	px := max(radius*cam.Scale(), 1)
	for i := 0; 2*i+1 < len(positions); i++ {
		x, y := positions[2*i], positions[2*i+1]
		if !cam.IsVisible(x, y, radius) {
			continue
		}
		var speed float32
		if 2*i+1 < len(velocities) {
			speed = float32(math.Hypot(float64(velocities[2*i]), float64(velocities[2*i+1])))
		}
		sx, sy := cam.WorldToScreen(x, y)
		rl.DrawCircleV(rl.Vector2{X: sx, Y: sy}, px, Gradient(0.2+0.8*speed/r.MaxSpeed))
	}
}

// DrawGrid paints SOLID and AIR cells flat and FLUID cells by density
// relative to target (target maps to the middle of the gradient).
func (r *FluidRenderer) DrawGrid(cam *camera.Camera, cellTypes []uint32, density []float32, target float32, worldW, worldH float32) {
	r.init()
	// Texture rows run top-down, grid rows bottom-up.
	for j := range r.ny {
		row := (r.ny - 1 - j) * r.nx
		for i := range r.nx {
			c := i + j*r.nx
			switch cellTypes[c] {
			case fluid.CellSolid:
				r.pixels[row+i] = solidColor
			case fluid.CellFluid:
				v := float32(0.5)
				if target > 0 && c < len(density) {
					v = 0.5 * density[c] / target
				}
				r.pixels[row+i] = Gradient(v)
			default:
				r.pixels[row+i] = airColor
			}
		}
	}
	rl.UpdateTexture(r.texture, r.pixels)

	x0, y1 := cam.WorldToScreen(0, worldH)
	x1, y0 := cam.WorldToScreen(worldW, 0)
	rl.DrawTexturePro(
		r.texture,
		rl.Rectangle{X: 0, Y: 0, Width: float32(r.nx), Height: float32(r.ny)},
		rl.Rectangle{X: x0, Y: y1, Width: x1 - x0, Height: y0 - y1},
		rl.Vector2{},
		0,
		rl.White,
	)
}

// DrawBox outlines the simulated domain.
func DrawBox(cam *camera.Camera, worldW, worldH float32) {
	x0, y1 := cam.WorldToScreen(0, worldH)
	x1, y0 := cam.WorldToScreen(worldW, 0)
	rl.DrawRectangleLinesEx(rl.Rectangle{X: x0, Y: y1, Width: x1 - x0, Height: y0 - y1}, 1, rl.Gray)
}

// Unload frees the grid texture.
func (r *FluidRenderer) Unload() {
	if r.loaded {
		rl.UnloadTexture(r.texture)
		r.loaded = false
	}
}
