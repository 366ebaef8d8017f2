package main

import (
	"log/slog"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/camera"
	"github.com/pthm-cable/flip/controller"
	"github.com/pthm-cable/flip/renderer"
	"github.com/pthm-cable/flip/stream"
	"github.com/pthm-cable/flip/telemetry"
	"github.com/pthm-cable/flip/ui"
)

const controlsLegend = "SPACE pause | S step | R reset | D dump | G grid | [ ] particles | arrows/wheel camera | HOME recenter | C controls"

// viewer is the graphical host loop around one controller.
type viewer struct {
	ctrl   *controller.Controller
	hub    *stream.Hub // nil when not serving
	logger *slog.Logger

	screenWidth, screenHeight float32

	camera     *camera.Camera
	background *renderer.Background
	fluid      *renderer.FluidRenderer
	terrain    *renderer.TerrainRenderer

	overlays *ui.OverlayRegistry
	hud      *ui.HUD
	perf     *ui.PerfPanel
	stats    *ui.StatsPanel
	controls *ui.ControlsPanel
}

func newViewer(ctrl *controller.Controller, hub *stream.Hub, logger *slog.Logger) *viewer {
	cfg := ctrl.Config()
	w, h := float32(rl.GetScreenWidth()), float32(rl.GetScreenHeight())
	lx, ly := float32(cfg.World.LengthX), float32(cfg.World.LengthY)

	v := &viewer{
		ctrl:         ctrl,
		hub:          hub,
		logger:       logger,
		screenWidth:  w,
		screenHeight: h,
		camera:       camera.New(w, h, lx, ly),
		background:   renderer.NewBackground(),
		fluid:        renderer.NewFluidRenderer(cfg.Grid.SizeX, cfg.Grid.SizeY),
		terrain:      renderer.NewTerrainRenderer(ctrl.Simulator().Terrain(), lx, cfg.Terrain.BakeSamples),
		overlays:     ui.NewOverlayRegistry(),
		hud:          ui.NewHUD(),
		perf:         ui.NewPerfPanel(int32(w)-260, 10),
		stats:        ui.NewStatsPanel(int32(w)-260, 140, 250),
		controls:     ui.NewControlsPanel(10, 100, 300),
	}
	v.controls.SetVisible(v.overlays.IsEnabled(ui.OverlayControls))
	return v
}

// Run loops until the window closes or the run terminates.
func (v *viewer) Run() {
	perf := v.ctrl.Perf()
	for !rl.WindowShouldClose() {
		v.handleInput()
		applyCommands(v.ctrl, v.hub, v.logger)

		_ = v.ctrl.Tick() // failures are logged, pause the run and show in the HUD

		perf.StartPhase(telemetry.PhaseRender)
		action, phys, changed := v.draw()
		v.ctrl.EndFrame()
		perf.RecordPresent()

		if changed {
			if err := v.ctrl.SetPhysics(phys); err != nil {
				v.logger.Warn("physics change rejected", "error", err)
			}
		}
		v.apply(action)

		if v.ctrl.State() == controller.StateTerminated {
			return
		}
	}
}

func (v *viewer) apply(action ui.Action) {
	var err error
	switch action {
	case ui.ActionTogglePause:
		v.ctrl.TogglePause()
	case ui.ActionStep:
		v.ctrl.StepOnce()
	case ui.ActionReset:
		err = v.ctrl.Reset()
	case ui.ActionDump:
		_, err = v.ctrl.Dump()
	}
	if err != nil {
		v.logger.Error("action failed", "error", err)
	}
}

func (v *viewer) handleInput() {
	v.handleResize()

	if rl.IsKeyPressed(rl.KeyF11) {
		rl.ToggleFullscreen()
	}

	switch {
	case rl.IsKeyPressed(rl.KeySpace):
		v.apply(ui.ActionTogglePause)
	case rl.IsKeyPressed(rl.KeyS):
		v.apply(ui.ActionStep)
	case rl.IsKeyPressed(rl.KeyR):
		v.apply(ui.ActionReset)
	case rl.IsKeyPressed(rl.KeyD):
		v.apply(ui.ActionDump)
	case rl.IsKeyPressed(rl.KeyLeftBracket):
		v.scaleParticles(0.5)
	case rl.IsKeyPressed(rl.KeyRightBracket):
		v.scaleParticles(2)
	}

	for _, key := range v.overlays.Keys() {
		if rl.IsKeyPressed(key) {
			v.overlays.HandleKeyPress(key)
		}
	}
	v.controls.SetVisible(v.overlays.IsEnabled(ui.OverlayControls))

	v.handleCameraInput()
}

// scaleParticles rebuilds the run with factor times the particles.
func (v *viewer) scaleParticles(factor float64) {
	next := v.ctrl.Config().Clone()
	next.Particles.Count = max(int(float64(next.Particles.Count)*factor), 1)
	if err := v.ctrl.Reconfigure(next); err != nil {
		v.logger.Error("reconfigure failed", "particles", next.Particles.Count, "error", err)
		return
	}
	cfg := v.ctrl.Config()
	v.fluid.Resize(cfg.Grid.SizeX, cfg.Grid.SizeY)
}

func (v *viewer) handleResize() {
	if !rl.IsWindowResized() {
		return
	}
	w := float32(rl.GetScreenWidth())
	h := float32(rl.GetScreenHeight())
	if w == v.screenWidth && h == v.screenHeight {
		return
	}
	v.screenWidth = w
	v.screenHeight = h

	v.camera.Resize(w, h)
	v.perf.SetPosition(int32(w)-260, 10)
	v.stats.SetPosition(int32(w)-260, 140)
}

func (v *viewer) handleCameraInput() {
	const panSpeed = 8 // pixels per frame

	if rl.IsKeyDown(rl.KeyRight) {
		v.camera.Pan(panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyLeft) {
		v.camera.Pan(-panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyDown) {
		v.camera.Pan(0, -panSpeed)
	}
	if rl.IsKeyDown(rl.KeyUp) {
		v.camera.Pan(0, panSpeed)
	}

	// The wheel belongs to the sliders while the cursor is over the panel.
	overPanel := v.controls.IsVisible() &&
		rl.CheckCollisionPointRec(rl.GetMousePosition(), v.controls.Bounds(v.overlays))
	if wheel := rl.GetMouseWheelMove(); wheel != 0 && !overPanel {
		v.camera.ZoomBy(1 + wheel*0.1)
	}

	if rl.IsKeyPressed(rl.KeyEqual) || rl.IsKeyPressed(rl.KeyKpAdd) {
		v.camera.ZoomBy(1.25)
	}
	if rl.IsKeyPressed(rl.KeyMinus) || rl.IsKeyPressed(rl.KeyKpSubtract) {
		v.camera.ZoomBy(0.8)
	}
	if rl.IsKeyPressed(rl.KeyHome) {
		v.camera.Reset()
	}
}
