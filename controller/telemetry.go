package controller

import (
	"github.com/pthm-cable/flip/telemetry"
)

// publish reads particle state back for every sink that wants this frame.
func (c *Controller) publish(frame int) {
	var wanted []FrameSink
	for _, s := range c.opts.Sinks {
		if s.WantsFrame(frame) {
			wanted = append(wanted, s)
		}
	}
	if len(wanted) == 0 {
		return
	}

	c.perf.StartPhase(telemetry.PhaseReadback)
	pos, err := c.sim.Positions()
	if err != nil {
		c.logger.Error("frame readback failed", "frame", frame, "error", err)
		return
	}
	vel, err := c.sim.Velocities()
	if err != nil {
		c.logger.Error("frame readback failed", "frame", frame, "error", err)
		return
	}

	c.perf.StartPhase(telemetry.PhaseStream)
	f := Frame{
		Index:      frame,
		SimTime:    float64(frame) * c.cfg.Physics.DT,
		WorldX:     float32(c.cfg.World.LengthX),
		WorldY:     float32(c.cfg.World.LengthY),
		Positions:  pos,
		Velocities: vel,
	}
	for _, s := range wanted {
		s.PublishFrame(f)
	}
}

// flushTelemetry closes the stats window when it is due.
func (c *Controller) flushTelemetry(frame int) {
	if !c.collector.ShouldFlush(frame) {
		return
	}

	c.perf.StartPhase(telemetry.PhaseReadback)
	snap, err := c.snapshot()
	if err != nil {
		c.logger.Error("telemetry readback failed", "frame", frame, "error", err)
		c.collector.Reset(frame)
		return
	}

	c.perf.StartPhase(telemetry.PhaseTelemetry)
	stats := c.collector.Flush(frame, snap)
	perfStats := c.perf.Stats()
	c.lastStats = stats

	if c.opts.LogStats {
		stats.LogStats(c.logger)
		perfStats.LogStats(c.logger)
	}

	if c.cfg.Telemetry.CheckConvergence {
		c.warnUnconverged("density", snap.DensityResidual, snap.Tolerance)
		c.warnUnconverged("pressure", snap.PressureResidual, snap.Tolerance)
	}

	if err := c.opts.Output.WriteStats(stats); err != nil {
		c.logger.Error("failed to write stats", "error", err)
	}
	if err := c.opts.Output.WritePerf(perfStats, stats.WindowEndFrame); err != nil {
		c.logger.Error("failed to write perf", "error", err)
	}
}

func (c *Controller) warnUnconverged(solve string, residual float32, tolerance float64) {
	if float64(residual) <= tolerance {
		return
	}
	c.logger.Warn("solver not converged",
		"frame", c.sim.Frame(),
		"solve", solve,
		"residual_max", residual,
		"tolerance", tolerance,
		"iterations", c.sim.Physics().SolverIterations,
	)
}

func (c *Controller) snapshot() (telemetry.Snapshot, error) {
	snap := telemetry.Snapshot{
		TargetDensity: c.sim.Physics().TargetDensity,
		Tolerance:     c.cfg.Solver.Tolerance,
	}
	var err error
	if snap.Positions, err = c.sim.Positions(); err != nil {
		return snap, err
	}
	if snap.Velocities, err = c.sim.Velocities(); err != nil {
		return snap, err
	}
	if snap.Density, err = c.sim.Density(); err != nil {
		return snap, err
	}
	if snap.CellTypes, err = c.sim.CellTypes(); err != nil {
		return snap, err
	}
	if snap.DensityResidual, snap.PressureResidual, err = c.sim.ResidualMax(); err != nil {
		return snap, err
	}
	return snap, nil
}
