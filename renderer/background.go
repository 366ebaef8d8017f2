package renderer

import rl "github.com/gen2brain/raylib-go/raylib"

// Background fills the window with a vertical gradient.
type Background struct {
	Top, Bottom rl.Color
}

// NewBackground returns the default dark background.
func NewBackground() *Background {
	return &Background{
		Top:    rl.Color{R: 12, G: 16, B: 24, A: 255},
		Bottom: rl.Color{R: 28, G: 34, B: 46, A: 255},
	}
}

// Draw paints the whole screen.
func (b *Background) Draw(screenW, screenH int32) {
	rl.DrawRectangleGradientV(0, 0, screenW, screenH, b.Top, b.Bottom)
}
