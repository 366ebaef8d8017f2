package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/flip/fluid"
)

func TestCollectorWindowing(t *testing.T) {
	c := NewCollector(0.5, 0.1)
	if c.WindowFrames() != 5 {
		t.Fatalf("WindowFrames = %d, want 5", c.WindowFrames())
	}

	tests := []struct {
		frame int
		want  bool
	}{
		{0, false},
		{4, false},
		{5, true},
		{9, true},
	}
	for _, tt := range tests {
		if got := c.ShouldFlush(tt.frame); got != tt.want {
			t.Errorf("ShouldFlush(%d) = %v, want %v", tt.frame, got, tt.want)
		}
	}

	c.Flush(5, Snapshot{})
	if c.ShouldFlush(9) {
		t.Error("window should restart at the flushed frame")
	}
	if !c.ShouldFlush(10) {
		t.Error("expected flush after a full second window")
	}
}

func TestCollectorMinimumWindow(t *testing.T) {
	c := NewCollector(0.001, 1.0/60)
	if c.WindowFrames() != 1 {
		t.Errorf("WindowFrames = %d, want 1", c.WindowFrames())
	}
}

func TestCollectorFlush(t *testing.T) {
	c := NewCollector(1, 0.5)
	c.RecordStep()
	c.RecordStep()
	c.RecordFailure()

	snap := Snapshot{
		Positions:  []float32{1, 2, 3, 0.5},
		Velocities: []float32{3, 4, 0, 0},
		Density:    []float32{0, 3, 5, 0},
		CellTypes:  []uint32{fluid.CellSolid, fluid.CellFluid, fluid.CellFluid, fluid.CellAir},

		TargetDensity:    4,
		DensityResidual:  1e-6,
		PressureResidual: 1e-3,
		Tolerance:        1e-5,
	}
	s := c.Flush(2, snap)

	checks := []struct {
		name      string
		got, want float64
	}{
		{"sim_time", s.SimTimeSec, 1},
		{"steps", float64(s.Steps), 2},
		{"failures", float64(s.Failures), 1},
		{"fluid_cells", float64(s.FluidCells), 2},
		{"air_cells", float64(s.AirCells), 1},
		{"solid_cells", float64(s.SolidCells), 1},
		{"density_mean", s.DensityMean, 4},
		{"density_max", s.DensityMax, 5},
		{"max_excess", s.MaxExcess, 1},
		{"speed_max", s.SpeedMax, 5},
		{"speed_mean", s.SpeedMean, 2.5},
		{"min_y", s.MinY, 0.5},
	}
	for _, ck := range checks {
		if math.Abs(ck.got-ck.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
	if s.Converged {
		t.Error("pressure residual above tolerance must not count as converged")
	}

	// Counters reset after a flush.
	if s2 := c.Flush(4, Snapshot{}); s2.Steps != 0 || s2.Failures != 0 || s2.WindowStartFrame != 2 {
		t.Errorf("second window = %+v", s2)
	}
}

func TestSpeeds(t *testing.T) {
	got := Speeds([]float32{3, 4, 0, -2})
	if len(got) != 2 || got[0] != 5 || got[1] != 2 {
		t.Errorf("Speeds = %v, want [5 2]", got)
	}
}
