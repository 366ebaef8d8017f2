package camera

import (
	"math"
	"testing"
)

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 0.01 }

func TestNew(t *testing.T) {
	cam := New(1000, 800, 8, 8)

	// Should be centered on world
	if cam.X != 4 || cam.Y != 4 {
		t.Errorf("expected camera at (4, 4), got (%f, %f)", cam.X, cam.Y)
	}
	if cam.Zoom != 1.0 {
		t.Errorf("expected zoom 1.0, got %f", cam.Zoom)
	}
	// Limited by height: 800/8 * 0.95
	if !near(cam.Scale(), 95) {
		t.Errorf("expected scale 95, got %f", cam.Scale())
	}
}

func TestWorldToScreen(t *testing.T) {
	cam := New(1000, 800, 8, 8)

	tests := []struct {
		name   string
		wx, wy float32
		sx, sy float32
	}{
		{"center", 4, 4, 500, 400},
		{"origin is bottom left", 0, 0, 500 - 4*95, 400 + 4*95},
		{"top right", 8, 8, 500 + 4*95, 400 - 4*95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sx, sy := cam.WorldToScreen(tt.wx, tt.wy)
			if !near(sx, tt.sx) || !near(sy, tt.sy) {
				t.Errorf("WorldToScreen(%g, %g) = (%f, %f), want (%f, %f)", tt.wx, tt.wy, sx, sy, tt.sx, tt.sy)
			}
		})
	}
}

func TestScreenToWorldRoundtrip(t *testing.T) {
	cam := New(1280, 720, 8, 4)
	cam.ZoomBy(2)
	cam.Pan(40, -25)

	testCases := []struct{ sx, sy float32 }{
		{640, 360},  // center
		{100, 100},  // top-left
		{1200, 600}, // near bottom-right
	}

	for _, tc := range testCases {
		wx, wy := cam.ScreenToWorld(tc.sx, tc.sy)
		sx, sy := cam.WorldToScreen(wx, wy)
		if !near(sx, tc.sx) || !near(sy, tc.sy) {
			t.Errorf("roundtrip failed: (%f,%f) -> (%f,%f) -> (%f,%f)",
				tc.sx, tc.sy, wx, wy, sx, sy)
		}
	}
}

func TestPanStaysInsideBox(t *testing.T) {
	cam := New(1000, 1000, 8, 8)

	// Dragging right and down moves the view right and down in world space.
	cam.Pan(118.75, 118.75)
	if !near(cam.X, 5) || !near(cam.Y, 3) {
		t.Errorf("expected center (5, 3), got (%f, %f)", cam.X, cam.Y)
	}

	cam.Pan(-1e6, -1e6)
	if cam.X != 0 || cam.Y != 8 {
		t.Errorf("expected center clamped to (0, 8), got (%f, %f)", cam.X, cam.Y)
	}
}

func TestZoomClamp(t *testing.T) {
	cam := New(1280, 720, 8, 8)

	cam.SetZoom(0.1) // Below min
	if cam.Zoom != cam.MinZoom {
		t.Errorf("expected zoom clamped to %f, got %f", cam.MinZoom, cam.Zoom)
	}

	cam.SetZoom(100) // Above max
	if cam.Zoom != cam.MaxZoom {
		t.Errorf("expected zoom clamped to %f, got %f", cam.MaxZoom, cam.Zoom)
	}
}

func TestResizeRefits(t *testing.T) {
	cam := New(800, 600, 16, 8)
	// min(800/16, 600/8) * 0.95 = 50 * 0.95
	if !near(cam.Scale(), 47.5) {
		t.Fatalf("expected scale 47.5, got %f", cam.Scale())
	}
	cam.Resize(1600, 1200)
	if !near(cam.Scale(), 95) {
		t.Errorf("expected scale 95 after resize, got %f", cam.Scale())
	}
}

func TestIsVisible(t *testing.T) {
	cam := New(1000, 1000, 8, 8)
	cam.SetZoom(4)
	// Visible range: center ± 1000/(2*475) ≈ ±1.05

	if !cam.IsVisible(4, 4, 0.01) {
		t.Error("center should be visible")
	}
	if cam.IsVisible(7.5, 4, 0.01) {
		t.Error("far point should not be visible")
	}
	if !cam.IsVisible(5.5, 4, 0.5) {
		t.Error("edge point with large radius should be visible")
	}
}

func TestReset(t *testing.T) {
	cam := New(1000, 1000, 8, 8)
	cam.X = 1
	cam.Y = 7
	cam.Zoom = 2.5

	cam.Reset()

	if cam.X != 4 || cam.Y != 4 {
		t.Errorf("expected position (4, 4), got (%f, %f)", cam.X, cam.Y)
	}
	if cam.Zoom != 1.0 {
		t.Errorf("expected zoom 1.0, got %f", cam.Zoom)
	}
}
