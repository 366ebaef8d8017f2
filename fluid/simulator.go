// Package fluid implements a two-dimensional PIC/FLIP liquid solver with a
// density-constraint projection. Each Step encodes the whole frame as one
// ordered batch of compute dispatches and submits it once.
package fluid

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/terrain"
)

// ErrStepFailed is matched by every error returned from Step.
var ErrStepFailed = errors.New("fluid: step failed")

// StepError reports a failed frame. The simulator state is undefined after
// it and must be rebuilt.
type StepError struct {
	Frame int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("fluid: step failed at frame %d: %v", e.Frame, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStepFailed) true for every StepError.
func (e *StepError) Is(target error) bool { return target == ErrStepFailed }

// Option configures New.
type Option func(*Simulator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithInitialParticles replaces the default block layout. positions and
// velocities are interleaved x,y and must hold 2·particles.count values;
// velocities may be nil.
func WithInitialParticles(positions, velocities []float32) Option {
	return func(s *Simulator) {
		s.initPos = positions
		s.initVel = velocities
	}
}

// Simulator owns every device resource of one liquid.
type Simulator struct {
	cfg     *config.Config
	dev     *compute.Device
	terrain terrain.Provider
	logger  *slog.Logger

	mu     sync.Mutex
	params *params
	reg    *compute.Registry
	k      *kernelSet
	buf    *buffers
	groups *bindGroups
	frame  int
	closed bool

	initPos, initVel []float32
}

// RequiredFeatures are checked against the device at setup.
var RequiredFeatures = []compute.Feature{compute.FeatureStorageAtomics, compute.FeatureFloat32Storage}

// New allocates buffers, registers and binds every kernel, uploads the
// initial particles and, when the configured target density is not positive,
// measures it from the initial layout.
func New(cfg *config.Config, dev *compute.Device, t terrain.Provider, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		t = terrain.Flat(float32(cfg.World.LengthX))
	}
	s := &Simulator{
		cfg:     cfg,
		dev:     dev,
		terrain: t,
		logger:  slog.Default(),
		params:  newParams(cfg),
		reg:     compute.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := dev.Require(RequiredFeatures...); err != nil {
		return nil, fmt.Errorf("creating simulator: %w", err)
	}

	var err error
	if s.buf, err = newBuffers(dev, cfg); err != nil {
		return nil, fmt.Errorf("creating simulator: %w", err)
	}
	if s.k, err = newKernelSet(s.reg, cfg); err != nil {
		s.buf.destroy()
		return nil, fmt.Errorf("creating simulator: %w", err)
	}
	if s.groups, err = newBindGroups(dev, cfg, s.k, s.buf, s.params, t); err != nil {
		s.buf.destroy()
		return nil, fmt.Errorf("creating simulator: %w", err)
	}

	if err := s.upload(); err != nil {
		s.buf.destroy()
		return nil, fmt.Errorf("creating simulator: %w", err)
	}

	if s.params.phys.TargetDensity <= 0 {
		target, err := s.measureTargetDensity()
		if err != nil {
			s.buf.destroy()
			return nil, fmt.Errorf("measuring target density: %w", err)
		}
		s.params.phys.TargetDensity = target
	}

	s.logger.Info("simulator ready",
		"grid_x", cfg.Grid.SizeX,
		"grid_y", cfg.Grid.SizeY,
		"particles", cfg.Particles.Count,
		"kernels", s.reg.Len(),
		"buffer_bytes", s.buf.bytes(),
		"target_density", s.params.phys.TargetDensity,
	)
	return s, nil
}

func (s *Simulator) upload() error {
	n := s.cfg.Particles.Count
	pos := s.initPos
	if pos == nil {
		pos = InitialBlock(s.cfg, s.terrain)
	}
	vel := s.initVel
	if vel == nil {
		vel = make([]float32, 2*n)
	}
	if err := s.writeParticles(pos, vel); err != nil {
		return err
	}

	constants := make([]float32, constCount)
	constants[constTolerance] = float32(s.cfg.Solver.Tolerance)
	return s.dev.WriteF32(s.buf.constants, 0, constants)
}

func (s *Simulator) writeParticles(pos, vel []float32) error {
	want := 2 * s.cfg.Particles.Count
	if len(pos) != want || len(vel) != want {
		return fmt.Errorf("particles: got %d positions and %d velocities, want %d each", len(pos), len(vel), want)
	}
	if err := s.dev.WriteF32(s.buf.positions.Primary(), 0, pos); err != nil {
		return err
	}
	return s.dev.WriteF32(s.buf.velocities.Primary(), 0, vel)
}

// measureTargetDensity averages the initial density over fluid cells whose
// four neighbours are fluid too, falling back to every fluid cell.
func (s *Simulator) measureTargetDensity() (float32, error) {
	enc := s.dev.NewEncoder("target-density")
	s.encodeCellSetup(enc)
	s.encodeHash(enc)
	s.encodeMarkLiquid(enc)
	s.encodeDensityField(enc)
	if err := s.dev.Submit(enc); err != nil {
		return 0, err
	}

	density, err := s.dev.ReadF32(s.buf.density)
	if err != nil {
		return 0, err
	}
	ct, err := s.dev.ReadU32(s.buf.cellType)
	if err != nil {
		return 0, err
	}
	target := meanFluidDensity(&s.params.grid, density, ct)
	if target <= 0 || math.IsNaN(float64(target)) {
		return 0, fmt.Errorf("no fluid cells in the initial layout")
	}
	return target, nil
}

func meanFluidDensity(g *gridParams, density []float32, ct []uint32) float32 {
	var interior, all float64
	var nInterior, nAll int
	for c, t := range ct {
		if t != cellFluid {
			continue
		}
		all += float64(density[c])
		nAll++

		i, j := c%g.nx, c/g.nx
		if i == 0 || j == 0 || i == g.nx-1 || j == g.ny-1 {
			continue
		}
		if ct[c-1] == cellFluid && ct[c+1] == cellFluid && ct[c-g.nx] == cellFluid && ct[c+g.nx] == cellFluid {
			interior += float64(density[c])
			nInterior++
		}
	}
	switch {
	case nInterior > 0:
		return float32(interior / float64(nInterior))
	case nAll > 0:
		return float32(all / float64(nAll))
	}
	return 0
}

// Step advances one frame. On failure the frame counter is left unchanged
// and the returned error matches ErrStepFailed and the device cause.
func (s *Simulator) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StepError{Frame: s.frame, Err: errors.New("simulator closed")}
	}

	enc := s.dev.NewEncoder(fmt.Sprintf("frame-%d", s.frame))
	s.encodeStep(enc)
	if err := s.dev.Submit(enc); err != nil {
		return &StepError{Frame: s.frame, Err: err}
	}
	s.frame++
	return nil
}

// Frame returns the number of completed steps.
func (s *Simulator) Frame() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Config returns the configuration the simulator was built with.
func (s *Simulator) Config() *config.Config { return s.cfg }

// Terrain returns the terrain provider.
func (s *Simulator) Terrain() terrain.Provider { return s.terrain }

// Kernels returns the registered kernel names.
func (s *Simulator) Kernels() []string { return s.reg.Names() }

// Physics returns the current physics constants.
func (s *Simulator) Physics() PhysicsParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.phys
}

// SetPhysics replaces the physics constants for subsequent steps. A
// non-positive target density keeps the current one.
func (s *Simulator) SetPhysics(p PhysicsParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.TargetDensity <= 0 {
		p.TargetDensity = s.params.phys.TargetDensity
	}
	p.SolverIterations = min(p.SolverIterations, config.MaxSolverIterations)
	s.params.phys = p
	return nil
}

// SetParticles overwrites particle state between steps.
func (s *Simulator) SetParticles(positions, velocities []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if velocities == nil {
		velocities = make([]float32, len(positions))
	}
	return s.writeParticles(positions, velocities)
}

func (s *Simulator) readF32(b *compute.Buffer) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.ReadF32(b)
}

func (s *Simulator) readU32(b *compute.Buffer) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.ReadU32(b)
}

// Positions returns interleaved particle positions.
func (s *Simulator) Positions() ([]float32, error) { return s.readF32(s.buf.positions.Primary()) }

// Velocities returns interleaved particle velocities.
func (s *Simulator) Velocities() ([]float32, error) { return s.readF32(s.buf.velocities.Primary()) }

// Density returns the per-cell particle density of the last step.
func (s *Simulator) Density() ([]float32, error) { return s.readF32(s.buf.density) }

// Pressure returns the per-cell pressure of the last step.
func (s *Simulator) Pressure() ([]float32, error) { return s.readF32(s.buf.pressure) }

// VolumeFractions returns the per-cell open fraction.
func (s *Simulator) VolumeFractions() ([]float32, error) { return s.readF32(s.buf.volumeFraction) }

// CellTypes returns the per-cell AIR/FLUID/SOLID classification.
func (s *Simulator) CellTypes() ([]uint32, error) { return s.readU32(s.buf.cellType) }

// ResidualMax returns ‖r‖∞ after the density and pressure solves.
func (s *Simulator) ResidualMax() (density, pressure float32, err error) {
	r, err := s.readF32(s.buf.residualMax)
	if err != nil {
		return 0, 0, err
	}
	return r[residualDensity], r[residualPressure], nil
}

// Close releases every buffer. The device is owned by the caller.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.buf.destroy()
}
