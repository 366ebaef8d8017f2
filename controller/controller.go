// Package controller drives a fluid.Simulator from the host side: it decides
// when to submit a step, owns the compute device, and turns step outcomes into
// telemetry, dumps and published frames.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/fluid"
	"github.com/pthm-cable/flip/telemetry"
	"github.com/pthm-cable/flip/terrain"
)

// State is the run state of a Controller.
type State int32

const (
	StatePaused State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrNoOutput is returned by Dump when no output directory is configured.
	ErrNoOutput = errors.New("controller: no output directory")
	// ErrUnknownCommand is returned by Command for an unrecognised name.
	ErrUnknownCommand = errors.New("controller: unknown command")
)

// Frame is the particle state published after a completed step.
type Frame struct {
	Index   int
	SimTime float64
	WorldX  float32
	WorldY  float32

	Positions  []float32 // interleaved x,y
	Velocities []float32 // interleaved x,y
}

// FrameSink receives published frames. WantsFrame is asked first so the
// readback is skipped when nobody listens.
type FrameSink interface {
	WantsFrame(frame int) bool
	PublishFrame(f Frame)
}

// Options configure New.
type Options struct {
	Config  *config.Config
	Terrain terrain.Provider // nil = flat
	Logger  *slog.Logger

	// Initial particles; nil uses the configured start block.
	Positions, Velocities []float32

	MaxFrames int // 0 = unlimited
	DumpEvery int // 0 = never
	LogStats  bool
	Output    *telemetry.OutputManager // nil disables CSV output and dumps
	Sinks     []FrameSink

	// Device features; nil = everything the backend supports.
	Features []compute.Feature
}

// Controller owns one simulator and the device it runs on.
type Controller struct {
	opts   Options
	cfg    *config.Config
	logger *slog.Logger

	dev *compute.Device
	sim *fluid.Simulator

	state       State
	stepPending bool
	lastErr     error

	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	lastStats telemetry.WindowStats
}

// New builds the device and simulator. The controller starts paused.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		opts:   opts,
		cfg:    opts.Config,
		logger: opts.Logger,
		perf:   telemetry.NewPerfCollector(opts.Config.Telemetry.PerfWindow),
	}
	if err := c.build(opts.Positions, opts.Velocities); err != nil {
		return nil, err
	}
	if err := opts.Output.WriteConfig(c.cfg); err != nil {
		c.teardown()
		return nil, err
	}
	return c, nil
}

func deviceOptions(cfg *config.Config, features []compute.Feature, logger *slog.Logger) compute.Options {
	limits := compute.DefaultLimits()
	if cfg.Compute.MaxBufferMB > 0 {
		limits.MaxBufferSize = int64(cfg.Compute.MaxBufferMB) << 20
	}
	if cfg.Compute.MaxTotalMemoryMB > 0 {
		limits.MaxTotalMemory = int64(cfg.Compute.MaxTotalMemoryMB) << 20
	}
	if cfg.Compute.MaxWorkgroupsPerOp > 0 {
		limits.MaxWorkgroupsPerOp = cfg.Compute.MaxWorkgroupsPerOp
	}
	return compute.Options{
		Label:    "flip",
		Workers:  cfg.Compute.Workers,
		Limits:   limits,
		Features: features,
		Logger:   logger,
	}
}

// build creates a fresh device and simulator for c.cfg.
func (c *Controller) build(pos, vel []float32) error {
	dev, err := compute.NewDevice(deviceOptions(c.cfg, c.opts.Features, c.logger))
	if err != nil {
		return err
	}
	t := c.opts.Terrain
	if t == nil {
		t = terrain.Flat(float32(c.cfg.World.LengthX))
	}
	simOpts := []fluid.Option{fluid.WithLogger(c.logger)}
	if pos != nil {
		simOpts = append(simOpts, fluid.WithInitialParticles(pos, vel))
	}
	sim, err := fluid.New(c.cfg, dev, t, simOpts...)
	if err != nil {
		dev.Destroy()
		return err
	}
	c.dev, c.sim = dev, sim
	c.collector = telemetry.NewCollector(c.cfg.Telemetry.StatsWindow, c.cfg.Physics.DT)
	c.stepPending = false
	c.lastErr = nil
	return nil
}

func (c *Controller) teardown() {
	if c.sim != nil {
		c.sim.Close()
		c.sim = nil
	}
	if c.dev != nil {
		c.dev.Destroy()
		c.dev = nil
	}
}

// Start resumes stepping. A terminated controller stays terminated.
func (c *Controller) Start() {
	if c.state != StateTerminated {
		c.state = StateRunning
	}
}

// Pause stops submitting steps.
func (c *Controller) Pause() {
	if c.state == StateRunning {
		c.state = StatePaused
	}
}

// TogglePause switches between running and paused.
func (c *Controller) TogglePause() {
	switch c.state {
	case StateRunning:
		c.state = StatePaused
	case StatePaused:
		c.state = StateRunning
	}
}

// StepOnce requests a single step on the next Tick while paused.
func (c *Controller) StepOnce() {
	if c.state == StatePaused {
		c.stepPending = true
	}
}

// Command applies a named run control request: pause, resume, toggle, step,
// reset or dump. Remote viewers and key bindings share these names.
func (c *Controller) Command(name string) error {
	switch name {
	case "pause":
		c.Pause()
	case "resume", "start":
		c.Start()
	case "toggle":
		c.TogglePause()
	case "step":
		c.StepOnce()
	case "reset":
		return c.Reset()
	case "dump":
		_, err := c.Dump()
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return nil
}

// State returns the run state.
func (c *Controller) State() State { return c.state }

// Err returns the step error that last paused the run, if any.
func (c *Controller) Err() error { return c.lastErr }

// Frame returns the number of completed steps.
func (c *Controller) Frame() int { return c.sim.Frame() }

// Simulator returns the current simulator. It changes on Reset and
// Reconfigure.
func (c *Controller) Simulator() *fluid.Simulator { return c.sim }

// Device returns the current compute device.
func (c *Controller) Device() *compute.Device { return c.dev }

// Config returns the configuration of the current run.
func (c *Controller) Config() *config.Config { return c.cfg }

// Perf returns the frame timing collector.
func (c *Controller) Perf() *telemetry.PerfCollector { return c.perf }

// LastStats returns the most recently flushed window.
func (c *Controller) LastStats() telemetry.WindowStats { return c.lastStats }

// SetPhysics retunes physics constants before the next step.
func (c *Controller) SetPhysics(p fluid.PhysicsParams) error {
	return c.sim.SetPhysics(p)
}

// Tick opens a perf frame and, when running or when a single step was
// requested, advances one step. A step failure is logged, pauses the run and
// is returned. The caller closes the frame with EndFrame.
func (c *Controller) Tick() error {
	c.perf.StartFrame()
	if c.state == StateTerminated {
		return nil
	}
	if c.state != StateRunning && !c.stepPending {
		return nil
	}
	c.stepPending = false

	c.perf.StartPhase(telemetry.PhaseStep)
	if err := c.sim.Step(); err != nil {
		c.fail(err)
		return err
	}
	c.collector.RecordStep()
	frame := c.sim.Frame()

	c.publish(frame)
	c.flushTelemetry(frame)

	if c.opts.DumpEvery > 0 && frame%c.opts.DumpEvery == 0 && c.opts.Output != nil {
		if _, err := c.Dump(); err != nil {
			c.logger.Error("failed to write dump", "frame", frame, "error", err)
		}
	}

	if c.opts.MaxFrames > 0 && frame >= c.opts.MaxFrames {
		c.logger.Info("max frames reached", "frame", frame)
		c.state = StateTerminated
	}
	return nil
}

// EndFrame closes the perf frame opened by Tick.
func (c *Controller) EndFrame() { c.perf.EndFrame() }

func (c *Controller) fail(err error) {
	frame := c.sim.Frame()
	var se *fluid.StepError
	if errors.As(err, &se) {
		frame = se.Frame
	}
	c.logger.Error("step failed", "frame", frame, "error", err)
	c.collector.RecordFailure()
	c.lastErr = err
	c.state = StatePaused
}

// Run ticks until the controller terminates, a step fails or ctx is done. It
// starts the run if paused.
func (c *Controller) Run(ctx context.Context) error {
	c.Start()
	for c.state == StateRunning {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.Tick()
		c.EndFrame()
		if err != nil {
			return err
		}
	}
	return nil
}

// Reset discards every device resource and rebuilds the run from the same
// configuration. Live physics changes are carried over; a configured target
// density of zero is measured again.
func (c *Controller) Reset() error {
	phys := c.sim.Physics()
	phys.TargetDensity = float32(c.cfg.Physics.TargetDensity)
	if err := c.rebuild(c.cfg); err != nil {
		return err
	}
	if err := c.sim.SetPhysics(phys); err != nil {
		return err
	}
	c.logger.Info("simulation reset", "particles", c.cfg.Particles.Count)
	return nil
}

// Reconfigure validates cfg and rebuilds the run with it. On error the
// current run is left untouched.
func (c *Controller) Reconfigure(cfg *config.Config) error {
	next := cfg.Clone()
	if err := next.Refresh(); err != nil {
		return err
	}
	if err := c.rebuild(next); err != nil {
		return err
	}
	c.logger.Info("simulation reconfigured",
		"grid_x", next.Grid.SizeX,
		"grid_y", next.Grid.SizeY,
		"particles", next.Particles.Count,
	)
	return c.opts.Output.WriteConfig(next)
}

func (c *Controller) rebuild(cfg *config.Config) error {
	prevCfg := c.cfg
	prevDev, prevSim, prevCollector := c.dev, c.sim, c.collector

	c.cfg = cfg
	if err := c.build(nil, nil); err != nil {
		c.cfg, c.dev, c.sim, c.collector = prevCfg, prevDev, prevSim, prevCollector
		return fmt.Errorf("rebuilding simulation: %w", err)
	}
	prevSim.Close()
	prevDev.Destroy()

	if c.state == StateTerminated {
		c.state = StatePaused
	}
	return nil
}

// Dump writes the current cell classification, volume fractions and,
// as configured, particles and baked terrain under the output directory.
func (c *Controller) Dump() (string, error) {
	if c.opts.Output == nil {
		return "", ErrNoOutput
	}
	state, err := c.dumpState()
	if err != nil {
		return "", err
	}
	frame := c.sim.Frame()
	dir, err := c.opts.Output.WriteDumps(frame, state)
	if err != nil {
		return "", err
	}
	c.logger.Info("state dumped", "frame", frame, "dir", dir)
	return dir, nil
}

func (c *Controller) dumpState() (telemetry.DumpState, error) {
	s := telemetry.DumpState{GridX: c.cfg.Grid.SizeX, GridY: c.cfg.Grid.SizeY}
	var err error
	if s.CellTypes, err = c.sim.CellTypes(); err != nil {
		return s, err
	}
	if s.VolumeFractions, err = c.sim.VolumeFractions(); err != nil {
		return s, err
	}
	if c.cfg.Telemetry.DumpParticles {
		if s.Positions, err = c.sim.Positions(); err != nil {
			return s, err
		}
		if s.Velocities, err = c.sim.Velocities(); err != nil {
			return s, err
		}
	}
	if c.cfg.Telemetry.DumpTerrain {
		s.Terrain = terrain.Bake(c.sim.Terrain(), float32(c.cfg.World.LengthX), c.cfg.Terrain.BakeSamples)
	}
	return s, nil
}

// Close releases the simulator and the device.
func (c *Controller) Close() {
	c.teardown()
	c.state = StateTerminated
}
