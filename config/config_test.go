package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsDerived(t *testing.T) {
	cfg := Default()

	d := cfg.Derived
	if d.Cells != 128*128 {
		t.Errorf("Cells = %d, want %d", d.Cells, 128*128)
	}
	if d.UFaces != 129*128 || d.VFaces != 128*129 {
		t.Errorf("faces = %d/%d", d.UFaces, d.VFaces)
	}
	if d.GridToWorldX != 8.0/128 {
		t.Errorf("cell width = %g", d.GridToWorldX)
	}
	if want := 0.45 * 8.0 / 128; d.MinDistance != want {
		t.Errorf("MinDistance = %g, want %g", d.MinDistance, want)
	}
	if d.ParticleRadius != d.MinDistance/2 {
		t.Errorf("ParticleRadius = %g", d.ParticleRadius)
	}
	if d.SolverIterations != 100 {
		t.Errorf("SolverIterations = %d", d.SolverIterations)
	}
	if d.PCGCellsPerGroup != 256*16 {
		t.Errorf("PCGCellsPerGroup = %d", d.PCGCellsPerGroup)
	}
	if d.PCGWorkgroups != 4 {
		t.Errorf("PCGWorkgroups = %d, want 4", d.PCGWorkgroups)
	}
}

func TestPrefixSumPlan(t *testing.T) {
	tests := []struct {
		name    string
		nx, ny  int
		small   bool
		blocks1 int
		blocks2 int
	}{
		{"tiny", 4, 4, true, 1, 0},
		{"one block", 32, 32, true, 1, 0},
		{"just below threshold", 255, 256, true, 64, 0},
		{"at threshold", 256, 256, false, 64, 1},
		{"large", 1024, 1024, false, 1024, 1},
		{"very large", 2048, 1024, false, 2048, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Grid.SizeX, cfg.Grid.SizeY = tt.nx, tt.ny
			if err := cfg.Refresh(); err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			p := cfg.Derived.PrefixSum
			if p.BlockSize != 1024 {
				t.Errorf("BlockSize = %d", p.BlockSize)
			}
			if p.IsSmallGrid != tt.small {
				t.Errorf("IsSmallGrid = %v, want %v", p.IsSmallGrid, tt.small)
			}
			if p.Blocks1 != tt.blocks1 {
				t.Errorf("Blocks1 = %d, want %d", p.Blocks1, tt.blocks1)
			}
			if p.Blocks2 != tt.blocks2 {
				t.Errorf("Blocks2 = %d, want %d", p.Blocks2, tt.blocks2)
			}
		})
	}
}

func TestSolverIterationsCapped(t *testing.T) {
	cfg := Default()
	cfg.Solver.MaxIterations = 10000
	if err := cfg.Refresh(); err != nil {
		t.Fatal(err)
	}
	if cfg.Derived.SolverIterations != MaxSolverIterations {
		t.Errorf("SolverIterations = %d, want %d", cfg.Derived.SolverIterations, MaxSolverIterations)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"small grid", func(c *Config) { c.Grid.SizeX = 2 }},
		{"zero world", func(c *Config) { c.World.LengthY = 0 }},
		{"no particles", func(c *Config) { c.Particles.Count = 0 }},
		{"min distance", func(c *Config) { c.Particles.MinDistanceFactor = 1.5 }},
		{"min distance exceeds cell height", func(c *Config) { c.Grid.SizeY = 512 }},
		{"dt", func(c *Config) { c.Physics.DT = 0 }},
		{"density", func(c *Config) { c.Physics.FluidDensity = -1 }},
		{"ratio", func(c *Config) { c.Physics.PicFlipRatio = 1.1 }},
		{"damping", func(c *Config) { c.Physics.VelocityDamping = 2 }},
		{"extension", func(c *Config) { c.Physics.ExtensionPasses = MaxExtensionPasses + 1 }},
		{"workgroup", func(c *Config) { c.Compute.WorkgroupSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateAcceptsTallCells(t *testing.T) {
	cfg := Default()
	cfg.Grid.SizeX, cfg.Grid.SizeY = 128, 64
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	data := []byte("grid:\n  size_x: 64\nparticles:\n  count: 1000\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Grid.SizeX != 64 || cfg.Grid.SizeY != 128 {
		t.Errorf("grid = %dx%d, want 64x128", cfg.Grid.SizeX, cfg.Grid.SizeY)
	}
	if cfg.Particles.Count != 1000 {
		t.Errorf("count = %d", cfg.Particles.Count)
	}
	if cfg.Physics.PicFlipRatio != 0.95 {
		t.Errorf("default ratio lost: %g", cfg.Physics.PicFlipRatio)
	}
	if cfg.Derived.Cells != 64*128 {
		t.Errorf("derived not refreshed: %d", cfg.Derived.Cells)
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Physics.PicFlipRatio = 0.5
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Physics.PicFlipRatio != 0.5 {
		t.Errorf("ratio = %g", got.Physics.PicFlipRatio)
	}
}

func TestGridSizeFor(t *testing.T) {
	cfg := Default()
	cfg.World.LengthX, cfg.World.LengthY = 16, 8
	nx, ny := cfg.GridSizeFor(100)
	if nx != 100 || ny != 50 {
		t.Errorf("GridSizeFor = %d,%d", nx, ny)
	}
}
