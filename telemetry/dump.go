package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/flip/terrain"
)

// DumpState is everything WriteDumps exports. Nil particle or terrain
// slices skip the corresponding file.
type DumpState struct {
	GridX, GridY    int
	CellTypes       []uint32
	VolumeFractions []float32
	Positions       []float32 // interleaved x,y
	Velocities      []float32 // interleaved x,y
	Terrain         []terrain.Baked
}

// ParticleRow is one line of particles.csv.
type ParticleRow struct {
	Index int     `csv:"index"`
	X     float32 `csv:"x"`
	Y     float32 `csv:"y"`
	VX    float32 `csv:"vx"`
	VY    float32 `csv:"vy"`
}

// WriteDumps writes cell_type.csv and volume_fraction.csv as row-major
// matrices (one grid row per line, cell index x + y·GridX), plus
// particles.csv and terrain.csv when present.
func WriteDumps(dir string, s DumpState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	cells := s.GridX * s.GridY
	if len(s.CellTypes) != cells || len(s.VolumeFractions) != cells {
		return fmt.Errorf("dump: got %d cell types and %d fractions for a %dx%d grid",
			len(s.CellTypes), len(s.VolumeFractions), s.GridX, s.GridY)
	}

	err := writeMatrix(filepath.Join(dir, "cell_type.csv"), s.GridX, s.GridY, func(c int) string {
		return strconv.FormatUint(uint64(s.CellTypes[c]), 10)
	})
	if err != nil {
		return err
	}
	err = writeMatrix(filepath.Join(dir, "volume_fraction.csv"), s.GridX, s.GridY, func(c int) string {
		return strconv.FormatFloat(float64(s.VolumeFractions[c]), 'g', -1, 32)
	})
	if err != nil {
		return err
	}

	if s.Positions != nil {
		if err := writeStructs(filepath.Join(dir, "particles.csv"), ParticleRows(s.Positions, s.Velocities)); err != nil {
			return err
		}
	}
	if s.Terrain != nil {
		if err := writeStructs(filepath.Join(dir, "terrain.csv"), s.Terrain); err != nil {
			return err
		}
	}
	return nil
}

// ParticleRows zips interleaved positions and velocities. Missing velocities
// are written as zero.
func ParticleRows(positions, velocities []float32) []ParticleRow {
	rows := make([]ParticleRow, len(positions)/2)
	for i := range rows {
		rows[i] = ParticleRow{Index: i, X: positions[2*i], Y: positions[2*i+1]}
		if 2*i+1 < len(velocities) {
			rows[i].VX, rows[i].VY = velocities[2*i], velocities[2*i+1]
		}
	}
	return rows
}

func writeMatrix(path string, w, h int, cell func(c int) string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	row := make([]string, w)
	for j := range h {
		for i := range w {
			row[i] = cell(i + j*w)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeStructs[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if err := gocsv.Marshal(rows, f); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
