// Package main searches solver parameters that let a falling block of liquid
// settle with little compression and little residual motion.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/flip/config"
	"github.com/pthm-cable/flip/terrain"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// evalRow is one line of tune_log.csv.
type evalRow struct {
	Eval               int     `csv:"eval"`
	Fitness            float64 `csv:"fitness"`
	PressureStiffness  float64 `csv:"pressure_stiffness"`
	CorrectionStrength float64 `csv:"correction_strength"`
	PushApartSteps     float64 `csv:"push_apart_steps"`
	PicFlipRatio       float64 `csv:"pic_flip_ratio"`
}

func parseScenarios(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid scenario scale %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	maxFrames := flag.Int("max-frames", 600, "Frames per evaluation run")
	maxEvals := flag.Int("max-evals", 60, "Maximum number of evaluations")
	scenarios := flag.String("scenarios", "1,0.5", "Comma separated particle count multipliers per evaluation")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *outputDir == "" {
		slog.Error("--output is required")
		os.Exit(1)
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		slog.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}
	scales, err := parseScenarios(*scenarios)
	if err != nil {
		slog.Error("bad -scenarios", "error", err)
		os.Exit(1)
	}

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	baseCfg := config.Cfg()

	field := terrain.Load(baseCfg.Terrain.Path, float32(baseCfg.Terrain.Scale),
		float32(baseCfg.World.LengthX), float32(baseCfg.World.LengthY), logger)

	params := NewParamVector()
	evaluator := NewFitnessEvaluator(params, *maxFrames, scales, baseCfg, field)

	dim := params.Dim()
	initX := params.Normalize(params.Clamp(params.ExtractFromConfig(baseCfg)))

	logPath := filepath.Join(*outputDir, "tune_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		slog.Error("failed to create log file", "error", err)
		os.Exit(1)
	}
	defer logFile.Close()
	headerWritten := false

	evalCount := 0
	bestFitness := 1e9
	var bestParams []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			clamped := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(clamped)
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = clamped
			}

			row := []evalRow{{
				Eval:               evalCount,
				Fitness:            fitness,
				PressureStiffness:  clamped[0],
				CorrectionStrength: clamped[1],
				PushApartSteps:     clamped[2],
				PicFlipRatio:       clamped[3],
			}}
			if headerWritten {
				err = gocsv.MarshalWithoutHeaders(row, logFile)
			} else {
				err = gocsv.Marshal(row, logFile)
				headerWritten = true
			}
			if err != nil {
				slog.Error("failed to write tune log", "error", err)
			}

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(max(*maxEvals-evalCount, 0)) * avgPerEval
			fmt.Printf("Eval %d/%d: fitness=%.4f excess=%.3f (best=%.4f) | elapsed: %s, ETA: %s\n",
				evalCount, *maxEvals, fitness, evaluator.LastExcess(), bestFitness,
				formatDuration(elapsed), formatDuration(remaining))

			return fitness
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      0, // Sequential evaluation; scenarios already run in parallel
	}
	method := &optimize.NelderMead{SimplexSize: 0.2}

	fmt.Printf("Starting Nelder-Mead search with %d parameters, max_evals=%d\n", dim, *maxEvals)
	fmt.Printf("Scenarios per evaluation: %v, frames per run: %d\n", scales, *maxFrames)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		slog.Warn("optimization ended", "error", err)
	}
	if bestParams == nil && result != nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}
	if bestParams == nil {
		slog.Error("no evaluation completed")
		os.Exit(1)
	}

	fmt.Printf("\nSearch complete after %d evaluations in %s\n", evalCount, formatDuration(time.Since(startTime)))
	fmt.Printf("Best fitness: %.4f\n", bestFitness)
	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s (%s): %.4f\n", spec.Name, spec.Path, bestParams[i])
	}

	bestCfg := baseCfg.Clone()
	params.ApplyToConfig(bestCfg, bestParams)
	if err := bestCfg.Refresh(); err != nil {
		slog.Error("best parameters do not validate", "error", err)
		os.Exit(1)
	}
	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		slog.Error("failed to write best config", "error", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	}

	if stats := evaluator.BestStats(); len(stats) > 0 {
		statsPath := filepath.Join(*outputDir, "best_stats.csv")
		f, err := os.Create(statsPath)
		if err != nil {
			slog.Error("failed to create best stats", "error", err)
			return
		}
		defer f.Close()
		if err := gocsv.Marshal(stats, f); err != nil {
			slog.Error("failed to write best stats", "error", err)
			return
		}
		fmt.Printf("Best run stats saved to: %s\n", statsPath)
	}
}
