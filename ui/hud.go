package ui

import (
	"fmt"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/telemetry"
)

// HUDData holds all the data needed to render the main HUD.
type HUDData struct {
	Title        string
	Frame        int
	SimTime      float64
	State        string
	Err          error
	FPS          int32
	StepsPerSec  float64
	Particles    int
	GridX, GridY int
	View         string
	Clients      int // stream viewers, -1 when not serving
}

// HUD renders the main heads-up display.
type HUD struct {
	renderer *Renderer
}

// NewHUD creates a new HUD renderer.
func NewHUD() *HUD {
	return &HUD{
		renderer: NewRenderer(),
	}
}

// Draw renders the HUD.
func (h *HUD) Draw(data HUDData) {
	rl.DrawText(data.Title, 10, 10, 20, rl.White)

	rl.DrawText(
		fmt.Sprintf("Frame: %d | t = %.2fs | Particles: %d | Grid: %dx%d",
			data.Frame, data.SimTime, data.Particles, data.GridX, data.GridY),
		10, 35, 16, rl.LightGray,
	)

	info := fmt.Sprintf("FPS: %d | Steps/s: %.0f | View: %s", data.FPS, data.StepsPerSec, data.View)
	if data.Clients >= 0 {
		info += fmt.Sprintf(" | Viewers: %d", data.Clients)
	}
	rl.DrawText(info, 10, 55, 16, rl.LightGray)

	switch {
	case data.Err != nil:
		rl.DrawText("STEP FAILED (r to reset): "+data.Err.Error(), 10, 75, 16, rl.Red)
	case data.State == "running":
		rl.DrawText("Running", 10, 75, 16, rl.Yellow)
	default:
		rl.DrawText(data.State, 10, 75, 16, rl.Yellow)
	}
}

// DrawControls renders the control legend at the bottom of the screen.
func (h *HUD) DrawControls(screenHeight int32, controls string) {
	rl.DrawText(controls, 10, screenHeight-25, 14, rl.Gray)
}

// PerfPanel renders the per-phase frame timing panel.
type PerfPanel struct {
	renderer *Renderer
	x, y     int32
}

// NewPerfPanel creates a new performance panel.
func NewPerfPanel(x, y int32) *PerfPanel {
	return &PerfPanel{
		renderer: NewRenderer(),
		x:        x,
		y:        y,
	}
}

// SetPosition updates the panel position.
func (p *PerfPanel) SetPosition(x, y int32) {
	p.x = x
	p.y = y
}

// Draw renders the performance panel.
func (p *PerfPanel) Draw(stats telemetry.PerfStats) {
	x := p.x
	y := p.y

	rl.DrawText("Frame Timing", x, y, 16, rl.White)
	y += 20

	rl.DrawText(fmt.Sprintf("Avg: %s  Max: %s",
		stats.AvgFrameDuration.Round(time.Microsecond),
		stats.MaxFrameDuration.Round(time.Microsecond)), x, y, 14, rl.Yellow)
	y += 16

	for _, name := range telemetry.Phases {
		avg := stats.PhaseAvg[name]
		pct := stats.PhasePct[name]

		color := rl.LightGray
		if pct > 50 {
			color = rl.Red
		} else if pct > 25 {
			color = rl.Orange
		}

		rl.DrawText(
			fmt.Sprintf("%-10s %8s %5.1f%%", name, avg.Round(time.Microsecond), pct),
			x, y, 12, color,
		)
		y += 14
	}
}

// StatsPanel shows the most recent telemetry window.
type StatsPanel struct {
	renderer *Renderer
	sections []SectionDescriptor
	x, y     int32
	width    int32
}

// NewStatsPanel creates a stats panel anchored at (x, y).
func NewStatsPanel(x, y, width int32) *StatsPanel {
	return &StatsPanel{
		renderer: NewRenderer(),
		sections: statsSections(),
		x:        x,
		y:        y,
		width:    width,
	}
}

// SetPosition updates the panel position.
func (s *StatsPanel) SetPosition(x, y int32) {
	s.x = x
	s.y = y
}

// Draw renders stats. Nothing is drawn before the first window closes.
func (s *StatsPanel) Draw(stats telemetry.WindowStats) {
	if stats.WindowEndFrame == 0 {
		return
	}
	r := s.renderer
	pad := r.Theme.Padding

	height := pad * 2
	for _, sd := range s.sections {
		height += r.SectionHeight(sd, stats)
	}
	r.DrawPanel(s.x, s.y, s.width, height)

	y := s.y + pad
	for _, sd := range s.sections {
		y = r.DrawSection(s.x+pad, y, sd, stats, s.width-2*pad)
	}
}

func ws(data any) telemetry.WindowStats { return data.(telemetry.WindowStats) }

func statsSections() []SectionDescriptor {
	return []SectionDescriptor{
		{
			ID:    "window",
			Title: "Window",
			Fields: []FieldDescriptor{
				{ID: "frames", Label: "Frames", Widget: WidgetText, TextGetter: func(d any) string {
					s := ws(d)
					return fmt.Sprintf("%d-%d", s.WindowStartFrame, s.WindowEndFrame)
				}},
				{ID: "steps", Label: "Steps", Widget: WidgetText, Format: "%.0f", Getter: func(d any) float32 { return float32(ws(d).Steps) }},
				{ID: "failures", Label: "Failures", Widget: WidgetText, Format: "%.0f",
					Getter:  func(d any) float32 { return float32(ws(d).Failures) },
					Visible: func(d any) bool { return ws(d).Failures > 0 }},
			},
		},
		{
			ID:    "cells",
			Title: "Cells",
			Fields: []FieldDescriptor{
				{ID: "fluid", Label: "Fluid", Widget: WidgetBar, Range: DefaultRange(), Getter: func(d any) float32 { return cellShare(ws(d), ws(d).FluidCells) }},
				{ID: "air", Label: "Air", Widget: WidgetBar, Range: DefaultRange(), Getter: func(d any) float32 { return cellShare(ws(d), ws(d).AirCells) }},
				{ID: "solid", Label: "Solid", Widget: WidgetBar, Range: DefaultRange(), Getter: func(d any) float32 { return cellShare(ws(d), ws(d).SolidCells) }},
			},
		},
		{
			ID:    "density",
			Title: "Density",
			Fields: []FieldDescriptor{
				{ID: "target", Label: "Target", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).TargetDensity) }},
				{ID: "mean", Label: "Mean", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).DensityMean) }},
				{ID: "p90", Label: "P90", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).DensityP90) }},
				{ID: "excess", Label: "Max excess", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).MaxExcess) }},
			},
		},
		{
			ID:    "speed",
			Title: "Speed",
			Fields: []FieldDescriptor{
				{ID: "mean", Label: "Mean", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).SpeedMean) }},
				{ID: "max", Label: "Max", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).SpeedMax) }},
				{ID: "miny", Label: "Min y", Widget: WidgetText, Format: "%.3f", Getter: func(d any) float32 { return float32(ws(d).MinY) }},
			},
		},
		{
			ID:    "solver",
			Title: "Solver",
			Fields: []FieldDescriptor{
				{ID: "density", Label: "Density res", Widget: WidgetText, Format: "%.2e", Getter: func(d any) float32 { return float32(ws(d).DensityResidual) }},
				{ID: "pressure", Label: "Pressure res", Widget: WidgetText, Format: "%.2e", Getter: func(d any) float32 { return float32(ws(d).PressureResidual) }},
				{ID: "converged", Label: "Converged", Widget: WidgetText, TextGetter: func(d any) string {
					if ws(d).Converged {
						return "yes"
					}
					return "no"
				}},
			},
		},
	}
}

func cellShare(s telemetry.WindowStats, n int) float32 {
	total := s.FluidCells + s.AirCells + s.SolidCells
	if total == 0 {
		return 0
	}
	return float32(n) / float32(total)
}
