// Package terrain provides the static ground profile the liquid rests on.
//
// A Field is a height function of world x built from evenly spaced control
// points. Sampling is pure and safe for concurrent use by kernels.
package terrain

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/gocarina/gocsv"
)

// FlatSamples is the control point count of the fallback flat field.
const FlatSamples = 1024

// Sample is the terrain height and unit upward normal at one x.
type Sample struct {
	Height  float32
	NormalX float32
	NormalY float32
}

// Provider answers terrain queries by world x.
type Provider interface {
	Sample(x float32) Sample
}

// Field is a piecewise-linear height profile over [0, length].
type Field struct {
	heights []float32 // world units
	length  float32
	dx      float32 // control point spacing
}

// NewField builds a field from heights in world units spread evenly over
// [0, length]. At least two points are required.
func NewField(heights []float32, length float32) (*Field, error) {
	if len(heights) < 2 {
		return nil, fmt.Errorf("terrain: need at least 2 control points, got %d", len(heights))
	}
	if length <= 0 {
		return nil, fmt.Errorf("terrain: length %g", length)
	}
	for i, h := range heights {
		if math.IsNaN(float64(h)) || math.IsInf(float64(h), 0) {
			return nil, fmt.Errorf("terrain: control point %d is %v", i, h)
		}
	}
	hs := make([]float32, len(heights))
	copy(hs, heights)
	return &Field{
		heights: hs,
		length:  length,
		dx:      length / float32(len(hs)-1),
	}, nil
}

// Flat returns a zero-height field.
func Flat(length float32) *Field {
	f, _ := NewField(make([]float32, FlatSamples), length)
	return f
}

// Len returns the number of control points.
func (f *Field) Len() int { return len(f.heights) }

// Length returns the x extent of the field.
func (f *Field) Length() float32 { return f.length }

// Height returns the interpolated height at x, clamped to the field extent.
func (f *Field) Height(x float32) float32 {
	t := x / f.dx
	if t <= 0 {
		return f.heights[0]
	}
	last := len(f.heights) - 1
	if t >= float32(last) {
		return f.heights[last]
	}
	i := int(t)
	frac := t - float32(i)
	return f.heights[i]*(1-frac) + f.heights[i+1]*frac
}

// Sample implements Provider. The normal comes from a central difference of
// the height one control spacing to each side.
func (f *Field) Sample(x float32) Sample {
	h := f.Height(x)
	slope := (f.Height(x+f.dx) - f.Height(x-f.dx)) / (2 * f.dx)
	inv := 1 / float32(math.Sqrt(float64(slope*slope+1)))
	return Sample{
		Height:  h,
		NormalX: -slope * inv,
		NormalY: inv,
	}
}

// MaxHeight returns the highest control point.
func (f *Field) MaxHeight() float32 {
	m := f.heights[0]
	for _, h := range f.heights[1:] {
		m = max(m, h)
	}
	return m
}

// Baked is one row of a precomputed terrain table.
type Baked struct {
	Index   int     `csv:"Index"`
	Height  float32 `csv:"Height"`
	NormalX float32 `csv:"NormalX"`
	NormalY float32 `csv:"NormalY"`
}

// Bake samples p at n evenly spaced x over [0, length].
func Bake(p Provider, length float32, n int) []Baked {
	if n < 2 {
		n = 2
	}
	out := make([]Baked, n)
	step := length / float32(n-1)
	for i := range out {
		s := p.Sample(float32(i) * step)
		out[i] = Baked{Index: i, Height: s.Height, NormalX: s.NormalX, NormalY: s.NormalY}
	}
	return out
}

type heightRow struct {
	Height float64 `csv:"height"`
}

// Load reads one raw height per line from path and scales each by
// scale*lengthY. A missing, unreadable or malformed file yields a flat field
// and a warning, never an error.
func Load(path string, scale, lengthX, lengthY float32, logger *slog.Logger) *Field {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return Flat(lengthX)
	}

	f, err := loadFile(path, scale*lengthY, lengthX)
	if err != nil {
		logger.Warn("terrain fallback to flat", "path", path, "error", err)
		return Flat(lengthX)
	}
	logger.Info("terrain loaded", "path", path, "points", f.Len(), "max_height", f.MaxHeight())
	return f
}

func loadFile(path string, factor, lengthX float32) (*Field, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []*heightRow
	if err := gocsv.UnmarshalWithoutHeaders(file, &rows); err != nil {
		return nil, fmt.Errorf("parsing heights: %w", err)
	}
	heights := make([]float32, len(rows))
	for i, r := range rows {
		heights[i] = float32(r.Height) * factor
	}
	return NewField(heights, lengthX)
}
