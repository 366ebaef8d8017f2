package controller

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/fluid"
	"github.com/pthm-cable/flip/telemetry"
)

var quietLogger = slog.New(slog.DiscardHandler)

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Grid.SizeX, cfg.Grid.SizeY = 16, 16
	cfg.World.LengthX, cfg.World.LengthY = 1, 1
	cfg.Particles.Count = 200
	cfg.Compute.Workers = 2
	cfg.Solver.MaxIterations = 20
	cfg.Telemetry.StatsWindow = 4 * cfg.Physics.DT
	require.NoError(t, cfg.Refresh())
	return cfg
}

func newController(t *testing.T, opts Options) *Controller {
	t.Helper()
	if opts.Config == nil {
		opts.Config = smallConfig(t)
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestStartsPaused(t *testing.T) {
	c := newController(t, Options{})
	assert.Equal(t, StatePaused, c.State())

	require.NoError(t, c.Tick())
	c.EndFrame()
	assert.Equal(t, 0, c.Frame())
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name string
		do   func(c *Controller)
		want State
	}{
		{"start", func(c *Controller) { c.Start() }, StateRunning},
		{"start then pause", func(c *Controller) { c.Start(); c.Pause() }, StatePaused},
		{"toggle from paused", func(c *Controller) { c.TogglePause() }, StateRunning},
		{"toggle twice", func(c *Controller) { c.TogglePause(); c.TogglePause() }, StatePaused},
		{"pause while paused", func(c *Controller) { c.Pause() }, StatePaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, Options{})
			tt.do(c)
			assert.Equal(t, tt.want, c.State())
		})
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmds    []string
		want    State
		wantErr error
	}{
		{"resume", []string{"resume"}, StateRunning, nil},
		{"resume then pause", []string{"resume", "pause"}, StatePaused, nil},
		{"toggle", []string{"toggle"}, StateRunning, nil},
		{"step stays paused", []string{"step"}, StatePaused, nil},
		{"reset", []string{"resume", "reset"}, StateRunning, nil},
		{"dump without output", []string{"dump"}, StatePaused, ErrNoOutput},
		{"unknown", []string{"explode"}, StatePaused, ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, Options{})
			var err error
			for _, cmd := range tt.cmds {
				err = c.Command(cmd)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, c.State())
		})
	}
}

func TestStepOnceWhilePaused(t *testing.T) {
	c := newController(t, Options{})

	c.StepOnce()
	require.NoError(t, c.Tick())
	c.EndFrame()
	assert.Equal(t, 1, c.Frame())

	require.NoError(t, c.Tick())
	c.EndFrame()
	assert.Equal(t, 1, c.Frame(), "a single step request is consumed once")
	assert.Equal(t, StatePaused, c.State())
}

func TestRunStopsAtMaxFrames(t *testing.T) {
	c := newController(t, Options{MaxFrames: 10})
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 10, c.Frame())
	assert.Equal(t, StateTerminated, c.State())

	c.Start()
	assert.Equal(t, StateTerminated, c.State(), "a terminated run does not restart")
}

func TestRunHonoursContext(t *testing.T) {
	c := newController(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
	assert.Equal(t, 0, c.Frame())
}

func TestStepFailurePausesAtLastFrame(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	c := newController(t, Options{Logger: logger})

	c.Start()
	require.NoError(t, c.Tick())
	c.EndFrame()
	require.Equal(t, 1, c.Frame())

	c.Device().Lose(nil)
	err := c.Tick()
	c.EndFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, fluid.ErrStepFailed)
	assert.ErrorIs(t, err, compute.ErrDeviceLost)
	assert.Equal(t, StatePaused, c.State())
	assert.Equal(t, 1, c.Frame())
	assert.Equal(t, err, c.Err())

	out := logs.String()
	assert.Contains(t, out, `"msg":"step failed"`)
	assert.Contains(t, out, `"frame":1`)

	// Without a rebuild the run stays broken.
	c.Start()
	require.Error(t, c.Tick())
	c.EndFrame()

	require.NoError(t, c.Reset())
	assert.NoError(t, c.Err())
	assert.Equal(t, 0, c.Frame())
	c.Start()
	require.NoError(t, c.Tick())
	c.EndFrame()
	assert.Equal(t, 1, c.Frame())
}

func TestRunReturnsStepError(t *testing.T) {
	c := newController(t, Options{})
	c.Device().Lose(nil)
	err := c.Run(context.Background())
	assert.ErrorIs(t, err, fluid.ErrStepFailed)
	assert.Equal(t, StatePaused, c.State())
}

func TestResetKeepsRetunedPhysics(t *testing.T) {
	c := newController(t, Options{})
	p := c.Simulator().Physics()
	p.GravityY = -1
	p.PicFlipRatio = 0.5
	require.NoError(t, c.SetPhysics(p))

	c.StepOnce()
	require.NoError(t, c.Tick())
	c.EndFrame()
	old := c.Simulator()

	require.NoError(t, c.Reset())
	assert.NotSame(t, old, c.Simulator())
	assert.Equal(t, 0, c.Frame())
	got := c.Simulator().Physics()
	assert.Equal(t, float32(-1), got.GravityY)
	assert.Equal(t, float32(0.5), got.PicFlipRatio)
	assert.Greater(t, got.TargetDensity, float32(0))
}

func TestReconfigure(t *testing.T) {
	c := newController(t, Options{})

	next := c.Config().Clone()
	next.Grid.SizeX, next.Grid.SizeY = 8, 8
	next.Particles.Count = 50
	require.NoError(t, c.Reconfigure(next))
	assert.Equal(t, 8, c.Simulator().Config().Grid.SizeX)
	assert.Equal(t, 50, c.Config().Particles.Count)

	pos, err := c.Simulator().Positions()
	require.NoError(t, err)
	assert.Len(t, pos, 100)

	c.StepOnce()
	require.NoError(t, c.Tick())
	c.EndFrame()
	assert.Equal(t, 1, c.Frame())
}

func TestReconfigureRejectsInvalidConfig(t *testing.T) {
	c := newController(t, Options{})
	c.StepOnce()
	require.NoError(t, c.Tick())
	c.EndFrame()
	sim := c.Simulator()

	bad := c.Config().Clone()
	bad.Grid.SizeX = 1
	err := c.Reconfigure(bad)
	assert.ErrorIs(t, err, config.ErrInvalid)

	assert.Same(t, sim, c.Simulator())
	assert.Equal(t, 16, c.Config().Grid.SizeX)
	c.StepOnce()
	require.NoError(t, c.Tick())
	c.EndFrame()
	assert.Equal(t, 2, c.Frame())
}

func TestNewRejectsMissingFeatures(t *testing.T) {
	_, err := New(Options{Config: smallConfig(t), Logger: quietLogger, Features: []compute.Feature{}})
	assert.ErrorIs(t, err, compute.ErrMissingCapability)
}

func TestDumpWithoutOutput(t *testing.T) {
	c := newController(t, Options{})
	_, err := c.Dump()
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestRunWritesTelemetry(t *testing.T) {
	dir := t.TempDir()
	om, err := telemetry.NewOutputManager(dir)
	require.NoError(t, err)

	c := newController(t, Options{Output: om, MaxFrames: 8, DumpEvery: 4})
	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, om.Close())

	stats := c.LastStats()
	assert.Equal(t, 8, stats.WindowEndFrame)
	assert.Equal(t, 4, stats.Steps)
	assert.Equal(t, 256, stats.FluidCells+stats.AirCells+stats.SolidCells)
	assert.Positive(t, stats.FluidCells)

	for _, name := range []string{"stats.csv", "perf.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		assert.Len(t, lines, 3, "%s: header plus two windows", name)
	}
	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	for _, frame := range []string{"dump_000004", "dump_000008"} {
		assert.FileExists(t, filepath.Join(dir, frame, "cell_type.csv"))
		assert.FileExists(t, filepath.Join(dir, frame, "particles.csv"))
		assert.FileExists(t, filepath.Join(dir, frame, "terrain.csv"))
	}
}

func TestWarnsWhenSolverDoesNotConverge(t *testing.T) {
	var logs bytes.Buffer
	cfg := smallConfig(t)
	cfg.Solver.MaxIterations = 0
	cfg.Solver.Tolerance = 1e-12
	require.NoError(t, cfg.Refresh())

	c := newController(t, Options{
		Config:    cfg,
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
		MaxFrames: 4,
	})
	require.NoError(t, c.Run(context.Background()))

	out := logs.String()
	assert.Contains(t, out, `"msg":"solver not converged"`)
	assert.Contains(t, out, `"solve":"pressure"`)
	assert.Contains(t, out, `"tolerance":1e-12`)
	assert.False(t, c.LastStats().Converged)
}

type recordingSink struct {
	every  int
	frames []Frame
}

func (s *recordingSink) WantsFrame(frame int) bool { return frame%s.every == 0 }
func (s *recordingSink) PublishFrame(f Frame)      { s.frames = append(s.frames, f) }

func TestSinksReceiveWantedFrames(t *testing.T) {
	sink := &recordingSink{every: 2}
	c := newController(t, Options{Sinks: []FrameSink{sink}, MaxFrames: 6})
	require.NoError(t, c.Run(context.Background()))

	require.Len(t, sink.frames, 3)
	for i, f := range sink.frames {
		assert.Equal(t, 2*(i+1), f.Index)
		assert.Len(t, f.Positions, 400)
		assert.Len(t, f.Velocities, 400)
		assert.Equal(t, float32(1), f.WorldX)
		assert.InDelta(t, float64(f.Index)/60, f.SimTime, 1e-6)
	}
}
