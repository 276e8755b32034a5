package terratile

import (
	"context"
	"time"
)

// renderState is what the tile currently shows.
type renderState int

const (
	// renderWireframe is the placeholder before any pixel data arrives.
	renderWireframe renderState = iota
	// renderParentData is a low-res preview cropped from an ancestor.
	renderParentData
	// renderLoaded is the tile's own texture, fetched or synthetic.
	renderLoaded
)

// loadState is what the tile's fetch machinery is doing.
type loadState int

const (
	loadIdle loadState = iota
	loadLoading
	// loadCancelling means a cancel was issued but the in-flight fetch has
	// not settled yet. Activation is refused in this window.
	loadCancelling
)

// Tile is one quad-tree node. It owns its mesh, geometry and in-flight
// fetch handle; the owning map owns its lifetime and the scene membership
// of its mesh. All fields are guarded by the owner's lock and methods
// assume the caller holds it.
type Tile struct {
	Key TileKey

	mesh     *TileMesh
	geometry *TileGeometry

	// tileLayers is the OR of every view's requirement. 0 means nobody
	// needs the tile and it may leave the scene.
	tileLayers uint32

	render renderState
	load   loadState
	loaded bool

	// needsHighResLoad marks a tile showing parent data that still wants
	// its own texture fetched.
	needsHighResLoad bool

	// inactiveSince is set when tileLayers drops to 0, cleared on
	// reactivation. The cache prune cutoff compares against it.
	inactiveSince time.Time

	// generation invalidates fetch completions: a result is applied only
	// if the generation it started under is still current.
	generation uint64
	cancel     context.CancelFunc

	owner *QuadTreeMap
}

func newTile(owner *QuadTreeMap, key TileKey) *Tile {
	return &Tile{Key: key, owner: owner}
}

// buildGeometry constructs the vertex grid and mesh for this tile's
// footprint. Calling it again once built is a no-op.
func (t *Tile) buildGeometry(radius float64) {
	if t.geometry != nil {
		return
	}
	t.geometry = newTileGeometry(tileSegments)
	t.geometry.reproject(t.Key, radius, t.elevationAt())
	t.mesh = newTileMesh(t.Key, t.geometry)
	t.setPosition()
}

// recalculateCurve reprojects the tile's vertices for a new curvature
// radius, reusing the existing buffers.
func (t *Tile) recalculateCurve(radius float64) {
	if t.geometry == nil {
		return
	}
	t.geometry.reproject(t.Key, radius, t.elevationAt())
	t.setPosition()
}

func (t *Tile) elevationAt() func(lat, lon float64) float64 {
	e := t.owner.elevation
	if e == nil {
		return nil
	}
	zoom := t.Key.Z
	return func(lat, lon float64) float64 {
		return e.GetElevationInterpolated(lat, lon, zoom)
	}
}

// canSubdivide reports whether the tile may be replaced by its children:
// its own mesh and geometry must already exist.
func (t *Tile) canSubdivide() bool {
	return t.mesh != nil && t.geometry != nil
}

func (t *Tile) isCancelling() bool {
	return t.load == loadCancelling
}

// buildMaterialFromParent synthesizes a preview material from a parent
// tile's texture. Returns nil when the parent is absent, has no mesh, has
// no material, or its material is still the wireframe placeholder; texel
// data must never be read from a texture that has not finished loading.
// Callers fall back to the normal async fetch on nil.
func (t *Tile) buildMaterialFromParent(parent *Tile) *TextureData {
	if parent == nil || parent.mesh == nil {
		return nil
	}
	mat := parent.mesh.Material
	if mat == nil || !mat.usable() {
		return nil
	}
	qx, qy := t.Key.Quadrant()
	return mat.cropForChild(qx, qy)
}

// cancelPendingLoads aborts the tile's in-flight fetch, if any. Bumping
// the generation guarantees a response already past the context check is
// still discarded. No-op when nothing is in flight.
func (t *Tile) cancelPendingLoads() {
	if t.cancel == nil {
		return
	}
	t.generation++
	t.load = loadCancelling
	cancel := t.cancel
	t.cancel = nil
	cancel()
}

// setPosition keeps the mesh anchored on its bounding-box center; the
// host renderer reads the anchor when placing the tile.
func (t *Tile) setPosition() {
	if t.mesh != nil && t.geometry != nil {
		t.mesh.Position = t.geometry.Center()
	}
}

func (t *Tile) removeDebugGeometry() {
	if t.mesh != nil {
		t.mesh.Debug = false
	}
}
