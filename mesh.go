package terratile

import "cogentcore.org/core/math32"

// TileMesh is the CPU-side stand-in for one tile's renderable scene
// object. The host renderer owns turning it into GPU state; the map owns
// adding and removing it from the scene and disposing it exactly once.
type TileMesh struct {
	Key      TileKey
	Geometry *TileGeometry
	Material *TextureData
	// Skirt hides seams against neighbors of a different detail level. It
	// always carries the same texture as the main material.
	Skirt *TextureData
	// Layers is the combined visibility bitmask across all views.
	Layers uint32
	// Position is the world-space anchor the host places the tile at.
	Position math32.Vector3
	// Debug toggles the tile-outline helper geometry.
	Debug bool

	disposed bool
}

func newTileMesh(key TileKey, geom *TileGeometry) *TileMesh {
	return &TileMesh{
		Key:      key,
		Geometry: geom,
		Material: newWireframeTexture(),
	}
}

// setMaterial swaps in a new material and keeps the skirt in sync.
func (m *TileMesh) setMaterial(tex *TextureData) {
	m.Material = tex
	m.updateSkirtMaterial()
}

func (m *TileMesh) updateSkirtMaterial() {
	m.Skirt = m.Material
}

// dispose releases the mesh's buffers. Guarded so a second call is a
// no-op rather than a double free.
func (m *TileMesh) dispose() {
	if m.disposed {
		return
	}
	m.disposed = true
	m.Geometry = nil
	m.Material = nil
	m.Skirt = nil
}
