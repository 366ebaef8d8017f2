package ui

import (
	rl "github.com/gen2brain/raylib-go/raylib"
)

// OverlayID uniquely identifies an overlay.
type OverlayID string

// Standard overlay IDs.
const (
	OverlayParticles OverlayID = "particles"
	OverlayGrid      OverlayID = "grid"
	OverlayTerrain   OverlayID = "terrain"
	OverlayBox       OverlayID = "box"
	OverlayHUD       OverlayID = "hud"
	OverlayStats     OverlayID = "stats"
	OverlayControls  OverlayID = "controls"
)

// OverlayDescriptor defines an overlay that can be toggled.
type OverlayDescriptor struct {
	ID          OverlayID   // Unique identifier
	Name        string      // Display name
	Description string      // What this overlay shows
	Key         int32       // Keyboard key to toggle (0 = no key)
	KeyLabel    string      // Key label for display (e.g., "G", "T")
	Category    string      // Grouping ("view" or "panels")
	Exclusive   []OverlayID // Other overlays to disable when this is enabled
	Default     bool        // Enabled at startup
}

// OverlayRegistry manages overlay state and metadata.
type OverlayRegistry struct {
	descriptors []OverlayDescriptor
	byID        map[OverlayID]OverlayDescriptor
	enabled     map[OverlayID]bool
	order       []OverlayID // Maintains insertion order for display
}

// NewOverlayRegistry creates a registry with default overlays.
func NewOverlayRegistry() *OverlayRegistry {
	reg := &OverlayRegistry{
		byID:    make(map[OverlayID]OverlayDescriptor),
		enabled: make(map[OverlayID]bool),
	}
	reg.registerDefaults()
	return reg
}

func (r *OverlayRegistry) registerDefaults() {
	r.Register(OverlayDescriptor{
		ID:          OverlayParticles,
		Name:        "Particles",
		Description: "Draw particles colored by speed",
		Key:         rl.KeyP,
		KeyLabel:    "P",
		Category:    "view",
		Exclusive:   []OverlayID{OverlayGrid},
		Default:     true,
	})
	r.Register(OverlayDescriptor{
		ID:          OverlayGrid,
		Name:        "Cell Grid",
		Description: "Draw cell classification and volume fraction",
		Key:         rl.KeyG,
		KeyLabel:    "G",
		Category:    "view",
		Exclusive:   []OverlayID{OverlayParticles},
	})
	r.Register(OverlayDescriptor{
		ID:          OverlayTerrain,
		Name:        "Terrain",
		Description: "Fill the solid region below the terrain surface",
		Key:         rl.KeyT,
		KeyLabel:    "T",
		Category:    "view",
		Default:     true,
	})
	r.Register(OverlayDescriptor{
		ID:          OverlayBox,
		Name:        "Domain Box",
		Description: "Outline the simulation domain",
		Key:         rl.KeyB,
		KeyLabel:    "B",
		Category:    "view",
		Default:     true,
	})

	r.Register(OverlayDescriptor{
		ID:          OverlayHUD,
		Name:        "HUD",
		Description: "Frame, state and timing summary",
		Key:         rl.KeyH,
		KeyLabel:    "H",
		Category:    "panels",
		Default:     true,
	})
	r.Register(OverlayDescriptor{
		ID:          OverlayStats,
		Name:        "Solver Stats",
		Description: "Last telemetry window",
		Key:         rl.KeyI,
		KeyLabel:    "I",
		Category:    "panels",
	})
	r.Register(OverlayDescriptor{
		ID:          OverlayControls,
		Name:        "Physics Controls",
		Description: "Live tuning sliders",
		Key:         rl.KeyC,
		KeyLabel:    "C",
		Category:    "panels",
	})
}

// Register adds an overlay to the registry.
func (r *OverlayRegistry) Register(desc OverlayDescriptor) {
	r.descriptors = append(r.descriptors, desc)
	r.byID[desc.ID] = desc
	r.order = append(r.order, desc.ID)
	r.enabled[desc.ID] = desc.Default
}

// Toggle switches an overlay on/off and handles exclusivity. Turning off
// one side of an exclusive pair turns the other side on.
func (r *OverlayRegistry) Toggle(id OverlayID) bool {
	desc, ok := r.byID[id]
	if !ok {
		return false
	}
	r.SetEnabled(id, !r.enabled[id])
	if !r.enabled[id] && len(desc.Exclusive) == 1 {
		r.enabled[desc.Exclusive[0]] = true
	}
	return r.enabled[id]
}

// SetEnabled explicitly sets an overlay's state.
func (r *OverlayRegistry) SetEnabled(id OverlayID, enabled bool) {
	desc, ok := r.byID[id]
	if !ok {
		return
	}

	r.enabled[id] = enabled

	// If enabling, disable exclusive overlays
	if enabled {
		for _, excl := range desc.Exclusive {
			r.enabled[excl] = false
		}
	}
}

// IsEnabled returns whether an overlay is active.
func (r *OverlayRegistry) IsEnabled(id OverlayID) bool {
	return r.enabled[id]
}

// ByCategory returns overlays filtered by category.
func (r *OverlayRegistry) ByCategory(category string) []OverlayDescriptor {
	var result []OverlayDescriptor
	for _, desc := range r.descriptors {
		if desc.Category == category {
			result = append(result, desc)
		}
	}
	return result
}

// Categories returns all unique categories in order.
func (r *OverlayRegistry) Categories() []string {
	seen := make(map[string]bool)
	var cats []string
	for _, desc := range r.descriptors {
		if !seen[desc.Category] {
			seen[desc.Category] = true
			cats = append(cats, desc.Category)
		}
	}
	return cats
}

// HandleKeyPress checks if a key corresponds to an overlay toggle.
// Returns the overlay ID and new state if a toggle occurred.
func (r *OverlayRegistry) HandleKeyPress(key int32) (OverlayID, bool, bool) {
	for _, desc := range r.descriptors {
		if desc.Key == key {
			newState := r.Toggle(desc.ID)
			return desc.ID, newState, true
		}
	}
	return "", false, false
}

// Keys returns every toggle key in registration order.
func (r *OverlayRegistry) Keys() []int32 {
	keys := make([]int32, 0, len(r.descriptors))
	for _, desc := range r.descriptors {
		if desc.Key != 0 {
			keys = append(keys, desc.Key)
		}
	}
	return keys
}
