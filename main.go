package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/controller"
	"github.com/pthm-cable/flip/stream"
	"github.com/pthm-cable/flip/telemetry"
	"github.com/pthm-cable/flip/terrain"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, dumps and config snapshot")
	terrainPath := flag.String("terrain", "", "Terrain height file (overrides terrain.path)")
	maxFrames := flag.Int("max-frames", 0, "Stop after N frames (0 = unlimited)")
	dumpEvery := flag.Int("dump-every", 0, "Write a state dump every N frames (0 = never, requires -output-dir)")
	serve := flag.Bool("serve", false, "Stream frames to websocket viewers")
	addr := flag.String("addr", "", "Stream listen address (empty = use config)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindow = *statsWindow
	}
	if *terrainPath != "" {
		cfg.Terrain.Path = *terrainPath
	}
	if *addr != "" {
		cfg.Stream.Addr = *addr
	}
	if err := cfg.Refresh(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, runOptions{
		headless:  *headless,
		logStats:  *logStats,
		outputDir: *outputDir,
		maxFrames: *maxFrames,
		dumpEvery: *dumpEvery,
		serve:     *serve,
	}, logger); err != nil {
		slog.Error("simulation stopped", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	headless  bool
	logStats  bool
	outputDir string
	maxFrames int
	dumpEvery int
	serve     bool
}

func run(cfg *config.Config, ro runOptions, logger *slog.Logger) error {
	output, err := telemetry.NewOutputManager(ro.outputDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := output.Close(); err != nil {
			logger.Error("failed to close output", "error", err)
		}
	}()

	field := terrain.Load(cfg.Terrain.Path, float32(cfg.Terrain.Scale),
		float32(cfg.World.LengthX), float32(cfg.World.LengthY), logger)

	opts := controller.Options{
		Config:    cfg,
		Terrain:   field,
		Logger:    logger,
		MaxFrames: ro.maxFrames,
		DumpEvery: ro.dumpEvery,
		LogStats:  ro.logStats,
		Output:    output,
	}

	var hub *stream.Hub
	if ro.serve {
		hub = stream.NewHub(cfg.Stream, logger)
		defer hub.Close()
		srv := stream.NewServer(cfg.Stream.Addr, hub, logger)
		bound, err := srv.Start()
		if err != nil {
			return err
		}
		logger.Info("streaming frames", "addr", bound, "interval", cfg.Stream.FrameInterval)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("stream shutdown", "error", err)
			}
		}()
		opts.Sinks = append(opts.Sinks, hub)
	}

	if ro.headless {
		ctrl, err := controller.New(opts)
		if err != nil {
			return err
		}
		defer ctrl.Close()

		logger.Info("starting headless simulation",
			"grid_x", cfg.Grid.SizeX,
			"grid_y", cfg.Grid.SizeY,
			"particles", cfg.Particles.Count,
			"max_frames", ro.maxFrames,
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if hub != nil {
			return runServed(ctx, ctrl, hub, logger)
		}
		err = ctrl.Run(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("interrupted", "frame", ctrl.Frame())
			return nil
		}
		return err
	}

	// Graphical mode
	rl.SetConfigFlags(rl.FlagWindowResizable)
	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "FLIP")
	defer rl.CloseWindow()

	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	ctrl, err := controller.New(opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	v := newViewer(ctrl, hub, logger)
	defer v.Unload()
	v.Run()
	return nil
}

// runServed steps headless while stream clients may pause, step or reset the
// run. A step failure leaves the run paused for a remote reset.
func runServed(ctx context.Context, ctrl *controller.Controller, hub *stream.Hub, logger *slog.Logger) error {
	ctrl.Start()
	idle := time.NewTicker(50 * time.Millisecond)
	defer idle.Stop()

	for ctrl.State() != controller.StateTerminated {
		if err := ctx.Err(); err != nil {
			logger.Info("interrupted", "frame", ctrl.Frame())
			return nil
		}
		applyCommands(ctrl, hub, logger)

		ticked := ctrl.State() == controller.StateRunning
		_ = ctrl.Tick() // failures are logged and pause the run
		ctrl.EndFrame()

		if !ticked {
			select {
			case <-ctx.Done():
			case <-idle.C:
			}
		}
	}
	return nil
}

// applyCommands drains pending stream commands without blocking.
func applyCommands(ctrl *controller.Controller, hub *stream.Hub, logger *slog.Logger) {
	if hub == nil {
		return
	}
	for {
		select {
		case cmd := <-hub.Commands():
			if err := ctrl.Command(cmd.Command); err != nil {
				logger.Warn("stream command failed", "command", cmd.Command, "error", err)
			}
		default:
			return
		}
	}
}
