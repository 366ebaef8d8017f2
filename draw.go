package main

import (
	"fmt"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/controller"
	"github.com/pthm-cable/flip/fluid"
	"github.com/pthm-cable/flip/renderer"
	"github.com/pthm-cable/flip/ui"
)

// draw renders one frame and returns what the controls panel produced.
func (v *viewer) draw() (ui.Action, fluid.PhysicsParams, bool) {
	cfg := v.ctrl.Config()
	sim := v.ctrl.Simulator()
	lx, ly := float32(cfg.World.LengthX), float32(cfg.World.LengthY)

	rl.BeginDrawing()
	defer rl.EndDrawing()

	v.background.Draw(int32(v.screenWidth), int32(v.screenHeight))

	if v.overlays.IsEnabled(ui.OverlayGrid) {
		v.fluid.Mode = renderer.ViewGrid
		v.drawGrid(sim, lx, ly)
	} else {
		v.fluid.Mode = renderer.ViewParticles
		v.drawParticles(sim, float32(cfg.Derived.ParticleRadius))
	}
	if v.overlays.IsEnabled(ui.OverlayTerrain) {
		v.terrain.Draw(v.camera)
	}
	if v.overlays.IsEnabled(ui.OverlayBox) {
		renderer.DrawBox(v.camera, lx, ly)
	}

	perfStats := v.ctrl.Perf().Stats()
	if v.overlays.IsEnabled(ui.OverlayHUD) {
		clients := -1
		if v.hub != nil {
			clients = v.hub.Clients()
		}
		v.hud.Draw(ui.HUDData{
			Title:       "FLIP",
			Frame:       v.ctrl.Frame(),
			SimTime:     float64(v.ctrl.Frame()) * cfg.Physics.DT,
			State:       v.ctrl.State().String(),
			Err:         v.ctrl.Err(),
			FPS:         rl.GetFPS(),
			StepsPerSec: perfStats.StepsPerSecond,
			Particles:   cfg.Particles.Count,
			GridX:       cfg.Grid.SizeX,
			GridY:       cfg.Grid.SizeY,
			View:        v.fluid.Mode.String(),
			Clients:     clients,
		})
		v.perf.Draw(perfStats)
		v.hud.DrawControls(int32(v.screenHeight), controlsLegend)
	}
	if v.overlays.IsEnabled(ui.OverlayStats) {
		v.stats.Draw(v.ctrl.LastStats())
	}

	res := v.controls.Draw(v.overlays, sim.Physics(), v.ctrl.State() != controller.StateRunning)
	return res.Action, res.Physics, res.Changed
}

func (v *viewer) drawParticles(sim *fluid.Simulator, radius float32) {
	pos, err := sim.Positions()
	if err != nil {
		v.drawReadbackError(err)
		return
	}
	vel, err := sim.Velocities()
	if err != nil {
		v.drawReadbackError(err)
		return
	}
	v.fluid.DrawParticles(v.camera, pos, vel, radius)
}

func (v *viewer) drawGrid(sim *fluid.Simulator, lx, ly float32) {
	cells, err := sim.CellTypes()
	if err != nil {
		v.drawReadbackError(err)
		return
	}
	density, err := sim.Density()
	if err != nil {
		v.drawReadbackError(err)
		return
	}
	v.fluid.DrawGrid(v.camera, cells, density, sim.Physics().TargetDensity, lx, ly)
}

func (v *viewer) drawReadbackError(err error) {
	msg := fmt.Sprintf("readback failed: %v", err)
	rl.DrawText(msg, 10, int32(v.screenHeight)-50, 16, rl.Red)
}

// Unload frees GPU textures.
func (v *viewer) Unload() {
	v.fluid.Unload()
	v.terrain.Unload()
}
