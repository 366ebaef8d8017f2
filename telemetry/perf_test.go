package telemetry

import (
	"math"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeCollector(windowSize int) (*PerfCollector, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	pc := NewPerfCollector(windowSize)
	pc.now = clock.now
	return pc, clock
}

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc, clock := newFakeCollector(10)

	for range 5 {
		pc.StartFrame()
		pc.StartPhase(PhaseStep)
		clock.advance(100 * time.Microsecond)
		pc.StartPhase(PhaseReadback)
		clock.advance(200 * time.Microsecond)
		pc.EndFrame()
	}

	stats := pc.Stats()
	if stats.AvgFrameDuration != 300*time.Microsecond {
		t.Errorf("avg frame = %v, want 300µs", stats.AvgFrameDuration)
	}
	if _, ok := stats.PhaseAvg[PhaseStep]; !ok {
		t.Error("expected step phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseReadback]; !ok {
		t.Error("expected readback phase to be tracked")
	}
	if stats.MinFrameDuration > stats.MaxFrameDuration {
		t.Errorf("min %v > max %v", stats.MinFrameDuration, stats.MaxFrameDuration)
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc, clock := newFakeCollector(5)

	for range 10 {
		pc.StartFrame()
		pc.StartPhase(PhaseStep)
		clock.advance(time.Millisecond)
		pc.EndFrame()
	}

	stats := pc.Stats()
	if stats.AvgFrameDuration <= 0 {
		t.Error("expected positive average frame duration after window filled")
	}
	if stats.StepsPerSecond <= 0 {
		t.Error("expected positive steps per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc, clock := newFakeCollector(10)

	for range 5 {
		pc.StartFrame()
		pc.StartPhase(PhaseRender)
		clock.advance(10 * time.Microsecond)
		pc.StartPhase(PhaseStep)
		clock.advance(490 * time.Microsecond)
		pc.EndFrame()
	}

	stats := pc.Stats()
	if stats.AvgFrameDuration != 500*time.Microsecond {
		t.Errorf("avg frame = %v, want 500µs", stats.AvgFrameDuration)
	}
	if stats.PhaseAvg[PhaseStep] != 490*time.Microsecond {
		t.Errorf("step avg = %v, want 490µs", stats.PhaseAvg[PhaseStep])
	}
	if got := stats.PhasePct[PhaseStep]; math.Abs(got-98) > 1e-9 {
		t.Errorf("step pct = %v, want 98", got)
	}
	if got := stats.PhasePct[PhaseRender]; math.Abs(got-2) > 1e-9 {
		t.Errorf("render pct = %v, want 2", got)
	}
	if got := stats.StepsPerSecond; math.Abs(got-2000) > 1e-9 {
		t.Errorf("steps/sec = %v, want 2000", got)
	}

	row := stats.ToCSV(42)
	if row.WindowEnd != 42 || row.StepPct != stats.PhasePct[PhaseStep] {
		t.Errorf("ToCSV = %+v", row)
	}
}

func TestPerfCollector_WindowEvictsOldFrames(t *testing.T) {
	pc, clock := newFakeCollector(3)

	for i := range 6 {
		pc.StartFrame()
		pc.StartPhase(PhaseStep)
		clock.advance(time.Duration(i+1) * time.Millisecond)
		pc.EndFrame()
	}

	// Only frames of 4, 5 and 6 ms remain.
	stats := pc.Stats()
	if stats.MinFrameDuration != 4*time.Millisecond || stats.MaxFrameDuration != 6*time.Millisecond {
		t.Errorf("min/max = %v/%v, want 4ms/6ms", stats.MinFrameDuration, stats.MaxFrameDuration)
	}
	if stats.AvgFrameDuration != 5*time.Millisecond {
		t.Errorf("avg = %v, want 5ms", stats.AvgFrameDuration)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10).Stats()

	if stats.AvgFrameDuration != 0 {
		t.Error("expected zero avg frame duration for empty collector")
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("expected non-nil phase maps")
	}
}

func TestPerfCollector_PresentTiming(t *testing.T) {
	pc, clock := newFakeCollector(10)

	pc.RecordPresent()
	clock.advance(16 * time.Millisecond)
	pc.RecordPresent()

	stats := pc.Stats()
	if stats.PresentInterval != 16*time.Millisecond {
		t.Errorf("present interval = %v, want 16ms", stats.PresentInterval)
	}
	if math.Abs(stats.FPS-62.5) > 1e-9 {
		t.Errorf("FPS = %v, want 62.5", stats.FPS)
	}
}
