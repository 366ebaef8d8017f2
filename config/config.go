// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Prefix-sum and solver layout constants shared by every dispatch plan.
const (
	SmallGridThreshold  = 65536 // cells below this use the single-block spine path
	MaxSolverIterations = 500   // hard cap on PCG iterations per solve
	MaxExtensionPasses  = 8
	minGridCells        = 3
	maxPrefixSumLevels  = 2
)

// Config holds all simulation configuration parameters.
type Config struct {
	Screen    ScreenConfig    `yaml:"screen"`
	Grid      GridConfig      `yaml:"grid"`
	World     WorldConfig     `yaml:"world"`
	Particles ParticlesConfig `yaml:"particles"`
	Solver    SolverConfig    `yaml:"solver"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	Compute   ComputeConfig   `yaml:"compute"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Stream    StreamConfig    `yaml:"stream"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ScreenConfig holds display settings.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// GridConfig holds the MAC grid resolution.
type GridConfig struct {
	SizeX int `yaml:"size_x"` // Cells along x
	SizeY int `yaml:"size_y"` // Cells along y
}

// WorldConfig holds the simulated domain extent in world units.
type WorldConfig struct {
	LengthX float64 `yaml:"length_x"`
	LengthY float64 `yaml:"length_y"`
}

// ParticlesConfig holds particle count, overlap resolution and initial placement.
type ParticlesConfig struct {
	Count             int     `yaml:"count"`
	PushApartSteps    int     `yaml:"push_apart_steps"`    // Overlap resolution substeps per frame
	MinDistanceFactor float64 `yaml:"min_distance_factor"` // minDistance = factor * cell width
	InitX             float64 `yaml:"init_x"`              // Block origin as a fraction of length_x
	InitY             float64 `yaml:"init_y"`              // Block origin as a fraction of length_y
	InitWidth         float64 `yaml:"init_width"`          // Block width as a fraction of length_x
	InitHeight        float64 `yaml:"init_height"`         // Block height as a fraction of length_y
}

// SolverConfig holds PCG parameters shared by both projections.
type SolverConfig struct {
	MaxIterations     int     `yaml:"max_iterations"`     // Fixed iteration count, capped at 500
	Tolerance         float64 `yaml:"tolerance"`          // Checked after the step for diagnostics only
	PressureStiffness float64 `yaml:"pressure_stiffness"` // Density projection RHS scale
}

// PhysicsConfig holds simulation physics parameters.
type PhysicsConfig struct {
	DT                        float64 `yaml:"dt"`
	GravityX                  float64 `yaml:"gravity_x"`
	GravityY                  float64 `yaml:"gravity_y"`
	Viscosity                 float64 `yaml:"viscosity"`
	ViscosityEnabled          bool    `yaml:"viscosity_enabled"`
	FluidDensity              float64 `yaml:"fluid_density"`
	TargetDensity             float64 `yaml:"target_density"` // 0 = measured from the initial layout
	DensityCorrectionStrength float64 `yaml:"density_correction_strength"`
	VelocityDamping           float64 `yaml:"velocity_damping"` // Per-step particle velocity retention
	PicFlipRatio              float64 `yaml:"pic_flip_ratio"`   // 0 = pure PIC, 1 = pure FLIP
	NormalRestitution         float64 `yaml:"normal_restitution"`
	TangentRestitution        float64 `yaml:"tangent_restitution"`
	ExtensionPasses           int     `yaml:"extension_passes"`
}

// TerrainConfig holds the terrain height file location and scaling.
type TerrainConfig struct {
	Path        string  `yaml:"path"`         // One height per line; empty = flat
	Scale       float64 `yaml:"scale"`        // Raw heights are multiplied by scale * length_y
	BakeSamples int     `yaml:"bake_samples"` // Samples for dumps and drawing
}

// ComputeConfig holds the data-parallel backend layout and limits.
type ComputeConfig struct {
	Workers            int `yaml:"workers"` // 0 = GOMAXPROCS
	WorkgroupSize      int `yaml:"workgroup_size"`
	ElementsPerThread  int `yaml:"elements_per_thread"` // Prefix-sum elements per invocation
	CellsPerThread     int `yaml:"cells_per_thread"`    // Reduction cells per invocation
	ParticleWorkgroup  int `yaml:"particle_workgroup"`  // Workgroup size of particle passes
	MaxBufferMB        int `yaml:"max_buffer_mb"`
	MaxTotalMemoryMB   int `yaml:"max_total_memory_mb"`
	MaxWorkgroupsPerOp int `yaml:"max_workgroups_per_op"`
}

// TelemetryConfig holds stats and export settings.
type TelemetryConfig struct {
	StatsWindow      float64 `yaml:"stats_window"`      // Seconds of simulation per stats window
	PerfWindow       int     `yaml:"perf_window"`       // Frames per perf average
	CheckConvergence bool    `yaml:"check_convergence"` // Read back residuals after each window
	DumpParticles    bool    `yaml:"dump_particles"`
	DumpTerrain      bool    `yaml:"dump_terrain"`
}

// StreamConfig holds websocket frame streaming settings.
type StreamConfig struct {
	Addr          string `yaml:"addr"`
	FrameInterval int    `yaml:"frame_interval"` // Broadcast every N frames
	MaxParticles  int    `yaml:"max_particles"`  // Subsample limit per broadcast frame
}

// PrefixSumPlan describes the multi-pass exclusive scan over cell counts.
type PrefixSumPlan struct {
	BlockSize    int  // WorkgroupSize * ElementsPerThread
	IsSmallGrid  bool // single spine pass over level-1 block sums
	Blocks1      int  // level-1 blocks (workgroups of the first pass)
	Blocks2      int  // level-2 blocks (0 on the small path)
	OffsetGroups int  // workgroups of the cell-level offset pass
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32 float32 // Physics.DT as float32

	Cells          int // SizeX * SizeY
	UFaces         int // (SizeX+1) * SizeY
	VFaces         int // SizeX * (SizeY+1)
	WorldToGridX   float64
	WorldToGridY   float64
	GridToWorldX   float64 // cell width
	GridToWorldY   float64 // cell height
	MinDistance    float64
	ParticleRadius float64

	SolverIterations int // min(MaxIterations, 500)

	CellWorkgroups     int
	UFaceWorkgroups    int
	VFaceWorkgroups    int
	ParticleWorkgroups int
	PCGWorkgroups      int // reduction workgroups over cells
	PCGCellsPerGroup   int

	PrefixSum PrefixSumPlan
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Clone returns a deep copy with derived values recomputed.
func (c *Config) Clone() *Config {
	cp := *c
	cp.computeDerived()
	return &cp
}

// Refresh validates the config and recomputes derived values.
// Call after mutating fields in code.
func (c *Config) Refresh() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	switch {
	case c.Grid.SizeX < minGridCells || c.Grid.SizeY < minGridCells:
		return fmt.Errorf("%w: grid %dx%d, need at least %d cells per axis", ErrInvalid, c.Grid.SizeX, c.Grid.SizeY, minGridCells)
	case c.World.LengthX <= 0 || c.World.LengthY <= 0:
		return fmt.Errorf("%w: world extent %gx%g", ErrInvalid, c.World.LengthX, c.World.LengthY)
	case c.Particles.Count < 1:
		return fmt.Errorf("%w: particle count %d", ErrInvalid, c.Particles.Count)
	case c.Particles.PushApartSteps < 0:
		return fmt.Errorf("%w: push_apart_steps %d", ErrInvalid, c.Particles.PushApartSteps)
	case c.Particles.MinDistanceFactor <= 0 || c.Particles.MinDistanceFactor >= 1:
		return fmt.Errorf("%w: min_distance_factor %g not in (0,1)", ErrInvalid, c.Particles.MinDistanceFactor)
	case c.Solver.MaxIterations < 0:
		return fmt.Errorf("%w: max_iterations %d", ErrInvalid, c.Solver.MaxIterations)
	case c.Physics.DT <= 0:
		return fmt.Errorf("%w: dt %g", ErrInvalid, c.Physics.DT)
	case c.Physics.FluidDensity <= 0:
		return fmt.Errorf("%w: fluid_density %g", ErrInvalid, c.Physics.FluidDensity)
	case c.Physics.PicFlipRatio < 0 || c.Physics.PicFlipRatio > 1:
		return fmt.Errorf("%w: pic_flip_ratio %g not in [0,1]", ErrInvalid, c.Physics.PicFlipRatio)
	case c.Physics.VelocityDamping < 0 || c.Physics.VelocityDamping > 1:
		return fmt.Errorf("%w: velocity_damping %g not in [0,1]", ErrInvalid, c.Physics.VelocityDamping)
	case c.Physics.ExtensionPasses < 0 || c.Physics.ExtensionPasses > MaxExtensionPasses:
		return fmt.Errorf("%w: extension_passes %d", ErrInvalid, c.Physics.ExtensionPasses)
	case c.Particles.MinDistanceFactor*c.World.LengthX/float64(c.Grid.SizeX) >= c.World.LengthY/float64(c.Grid.SizeY):
		// The push-apart neighbor search only covers the 3x3 cell block.
		return fmt.Errorf("%w: min distance %g exceeds cell height %g", ErrInvalid,
			c.Particles.MinDistanceFactor*c.World.LengthX/float64(c.Grid.SizeX), c.World.LengthY/float64(c.Grid.SizeY))
	case c.Compute.WorkgroupSize < 1 || c.Compute.ElementsPerThread < 1 || c.Compute.CellsPerThread < 1 || c.Compute.ParticleWorkgroup < 1:
		return fmt.Errorf("%w: compute layout %+v", ErrInvalid, c.Compute)
	}

	block := c.Compute.WorkgroupSize * c.Compute.ElementsPerThread
	cells := c.Grid.SizeX * c.Grid.SizeY
	if cells > block*block*block {
		return fmt.Errorf("%w: %d cells exceed the %d-level prefix sum capacity %d", ErrInvalid, cells, maxPrefixSumLevels, block*block*block)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	d := &c.Derived
	d.DT32 = float32(c.Physics.DT)

	nx, ny := c.Grid.SizeX, c.Grid.SizeY
	d.Cells = nx * ny
	d.UFaces = (nx + 1) * ny
	d.VFaces = nx * (ny + 1)
	d.WorldToGridX = float64(nx) / c.World.LengthX
	d.WorldToGridY = float64(ny) / c.World.LengthY
	d.GridToWorldX = c.World.LengthX / float64(nx)
	d.GridToWorldY = c.World.LengthY / float64(ny)
	d.MinDistance = d.GridToWorldX * c.Particles.MinDistanceFactor
	d.ParticleRadius = d.MinDistance / 2

	d.SolverIterations = min(c.Solver.MaxIterations, MaxSolverIterations)

	wg := c.Compute.WorkgroupSize
	d.CellWorkgroups = ceilDiv(d.Cells, wg)
	d.UFaceWorkgroups = ceilDiv(d.UFaces, wg)
	d.VFaceWorkgroups = ceilDiv(d.VFaces, wg)
	d.ParticleWorkgroups = ceilDiv(c.Particles.Count, c.Compute.ParticleWorkgroup)
	d.PCGCellsPerGroup = wg * c.Compute.CellsPerThread
	d.PCGWorkgroups = ceilDiv(d.Cells, d.PCGCellsPerGroup)

	block := wg * c.Compute.ElementsPerThread
	plan := PrefixSumPlan{
		BlockSize:    block,
		IsSmallGrid:  d.Cells < SmallGridThreshold,
		Blocks1:      ceilDiv(d.Cells, block),
		OffsetGroups: d.CellWorkgroups,
	}
	// The spine pass runs in one workgroup, so level-1 sums must fit one block.
	if plan.Blocks1 > block {
		plan.IsSmallGrid = false
	}
	if !plan.IsSmallGrid {
		plan.Blocks2 = ceilDiv(plan.Blocks1, block)
	}
	d.PrefixSum = plan
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// GridSizeFor returns a grid resolution with the same aspect ratio as the world
// and roughly the given number of cells along the longer axis.
func (c *Config) GridSizeFor(cells int) (int, int) {
	if c.World.LengthX >= c.World.LengthY {
		ny := int(math.Round(float64(cells) * c.World.LengthY / c.World.LengthX))
		return cells, max(ny, minGridCells)
	}
	nx := int(math.Round(float64(cells) * c.World.LengthX / c.World.LengthY))
	return max(nx, minGridCells), cells
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
