package ui

import (
	"fmt"
	"math"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/fluid"
)

// Action is a button press reported by the controls panel.
type Action int

const (
	ActionNone Action = iota
	ActionTogglePause
	ActionStep
	ActionReset
	ActionDump
)

// ControlsResult is what one Draw of the controls panel produced.
type ControlsResult struct {
	Physics fluid.PhysicsParams
	Changed bool // Physics differs from the input
	Action  Action
}

// sliderDescriptor binds a slider to one physics constant.
type sliderDescriptor struct {
	Label    string
	Min, Max float32
	Format   string
	Field    func(p *fluid.PhysicsParams) *float32
}

func physicsSliders() []sliderDescriptor {
	return []sliderDescriptor{
		{Label: "Gravity Y", Min: -30, Max: 0, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.GravityY }},
		{Label: "PIC/FLIP", Min: 0, Max: 1, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.PicFlipRatio }},
		{Label: "Target density", Min: 0, Max: 20, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.TargetDensity }},
		{Label: "Correction", Min: 0, Max: 5, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.DensityCorrectionStrength }},
		{Label: "Stiffness", Min: 0, Max: 5, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.PressureStiffness }},
		{Label: "Damping", Min: 0, Max: 1, Format: "%.3f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.VelocityDamping }},
		{Label: "Normal rest.", Min: 0, Max: 1, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.NormalRestitution }},
		{Label: "Tangent rest.", Min: 0, Max: 1, Format: "%.2f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.TangentRestitution }},
		{Label: "Viscosity", Min: 0, Max: 0.1, Format: "%.4f", Field: func(p *fluid.PhysicsParams) *float32 { return &p.Viscosity }},
	}
}

const maxSolverIterations = 200

// ControlsPanel renders the left-side panel with overlay toggles, run
// buttons and physics sliders.
type ControlsPanel struct {
	renderer *Renderer
	sliders  []sliderDescriptor
	x, y     int32
	width    int32
	visible  bool
}

// NewControlsPanel creates a new controls panel.
func NewControlsPanel(x, y, width int32) *ControlsPanel {
	return &ControlsPanel{
		renderer: NewRenderer(),
		sliders:  physicsSliders(),
		x:        x,
		y:        y,
		width:    width,
	}
}

// SetVisible shows or hides the panel.
func (c *ControlsPanel) SetVisible(visible bool) {
	c.visible = visible
}

// IsVisible returns whether the panel is shown.
func (c *ControlsPanel) IsVisible() bool {
	return c.visible
}

// Bounds returns the panel rectangle for the given overlay registry. Mouse
// input inside it should not reach the camera.
func (c *ControlsPanel) Bounds(overlays *OverlayRegistry) rl.Rectangle {
	return rl.Rectangle{X: float32(c.x), Y: float32(c.y), Width: float32(c.width), Height: float32(c.height(overlays))}
}

func (c *ControlsPanel) height(overlays *OverlayRegistry) int32 {
	r := c.renderer
	lh := r.Theme.LineHeight
	items := int32(0)
	for _, cat := range overlays.Categories() {
		items += int32(len(overlays.ByCategory(cat))) + 1
	}
	toggles := items*lh + int32(len(overlays.Categories()))*4
	sliders := int32(len(c.sliders)+2) * (lh + 6)
	return r.Theme.Padding*3 + 2*(lh+4) + toggles + buttonHeight + 8 + sliders
}

const buttonHeight = 22

// Draw renders the panel and reports slider changes and button presses.
func (c *ControlsPanel) Draw(overlays *OverlayRegistry, phys fluid.PhysicsParams, paused bool) ControlsResult {
	res := ControlsResult{Physics: phys}
	if !c.visible {
		return res
	}

	r := c.renderer
	padding := r.Theme.Padding
	lineHeight := r.Theme.LineHeight

	r.DrawPanel(c.x, c.y, c.width, c.height(overlays))

	y := c.y + padding
	rl.DrawText("Overlays", c.x+padding, y, 16, rl.White)
	y += lineHeight + 4

	for _, category := range overlays.Categories() {
		rl.DrawText(categoryLabel(category), c.x+padding, y, r.Theme.HeaderFontSize, r.Theme.SectionHeader)
		y += lineHeight
		for _, desc := range overlays.ByCategory(category) {
			c.drawToggle(c.x+padding, y, desc, overlays.IsEnabled(desc.ID), c.width-padding*2)
			y += lineHeight
		}
		y += 4
	}

	res.Action = c.drawButtons(c.x+padding, y, c.width-padding*2, paused)
	y += buttonHeight + 8

	rl.DrawText("Physics", c.x+padding, y, 16, rl.White)
	y += lineHeight + 4

	next := phys
	labelW := r.Theme.LabelWidth
	barX := float32(c.x + padding + labelW)
	barW := float32(c.width - 2*padding - labelW - 50)
	for _, sd := range c.sliders {
		field := sd.Field(&next)
		rl.DrawText(sd.Label, c.x+padding, y+2, r.Theme.FontSize, r.Theme.LabelColor)
		*field = gui.SliderBar(rl.Rectangle{X: barX, Y: float32(y), Width: barW, Height: 14}, "", fmt.Sprintf(sd.Format, *field), *field, sd.Min, sd.Max)
		y += lineHeight + 6
	}

	rl.DrawText("Iterations", c.x+padding, y+2, r.Theme.FontSize, r.Theme.LabelColor)
	iters := gui.SliderBar(rl.Rectangle{X: barX, Y: float32(y), Width: barW, Height: 14}, "",
		fmt.Sprintf("%d", next.SolverIterations), float32(next.SolverIterations), 0, maxSolverIterations)
	next.SolverIterations = int(math.Round(float64(iters)))
	y += lineHeight + 6

	viscLabel := "Viscosity: off"
	if next.ViscosityEnabled {
		viscLabel = "Viscosity: on"
	}
	if gui.Button(rl.Rectangle{X: float32(c.x + padding), Y: float32(y), Width: float32(c.width - 2*padding), Height: 18}, viscLabel) {
		next.ViscosityEnabled = !next.ViscosityEnabled
	}

	res.Physics = next
	res.Changed = next != phys
	return res
}

func (c *ControlsPanel) drawButtons(x, y, width int32, paused bool) Action {
	labels := []string{"Pause", "Step", "Reset", "Dump"}
	if paused {
		labels[0] = "Run"
	}
	actions := []Action{ActionTogglePause, ActionStep, ActionReset, ActionDump}

	gap := int32(4)
	bw := (width - gap*int32(len(labels)-1)) / int32(len(labels))
	pressed := ActionNone
	for i, label := range labels {
		bx := x + int32(i)*(bw+gap)
		if gui.Button(rl.Rectangle{X: float32(bx), Y: float32(y), Width: float32(bw), Height: buttonHeight}, label) {
			pressed = actions[i]
		}
	}
	return pressed
}

// drawToggle draws a single overlay toggle line.
func (c *ControlsPanel) drawToggle(x, y int32, desc OverlayDescriptor, enabled bool, width int32) {
	r := c.renderer

	statusColor := rl.Color{R: 80, G: 80, B: 80, A: 255}
	if enabled {
		statusColor = rl.Color{R: 100, G: 200, B: 100, A: 255}
	}
	rl.DrawRectangle(x, y+2, 8, 8, statusColor)

	nameColor := r.Theme.LabelColor
	if enabled {
		nameColor = rl.White
	}
	rl.DrawText(desc.Name, x+14, y, r.Theme.FontSize, nameColor)

	if desc.KeyLabel != "" {
		keyText := fmt.Sprintf("[%s]", desc.KeyLabel)
		keyWidth := rl.MeasureText(keyText, r.Theme.FontSize)
		rl.DrawText(keyText, x+width-keyWidth, y, r.Theme.FontSize, rl.Color{R: 150, G: 150, B: 150, A: 255})
	}
}

func categoryLabel(cat string) string {
	switch cat {
	case "view":
		return "View"
	case "panels":
		return "Panels"
	default:
		return cat
	}
}
