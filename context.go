package terratile

import (
	"context"
	"errors"
	"image"

	"cogentcore.org/core/math32"
	"github.com/paulmach/orb/maptile"
)

// ErrTileCancelled marks a fetch that was interrupted on purpose. Callers
// treat it as a non-error: the tile stays in its placeholder state.
var ErrTileCancelled = errors.New("tile load cancelled")

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrTileCancelled)
}

// SceneGraph is the slice of the host's scene the map is allowed to touch:
// adding and removing tile meshes. Only the owning map calls it.
type SceneGraph interface {
	Add(*TileMesh)
	Remove(*TileMesh)
}

// MapContext bundles the collaborator functions a map needs from its host.
// It replaces any global lookup: everything the quad-tree core consumes
// from the outside world comes in through here at construction time.
type MapContext struct {
	// FetchTileImage returns decoded imagery for a tile, nil if the source
	// has no data there. It must honor ctx cancellation.
	FetchTileImage func(ctx context.Context, t maptile.Tile) (image.Image, error)

	// FetchElevation returns the height grid for a tile. Nil means no
	// elevation source is configured and all geometry stays at height 0.
	FetchElevation func(ctx context.Context, t maptile.Tile) (*ElevationGrid, error)

	// CameraDistance returns the distance from a view's camera to a world
	// position, used for the footprint-vs-threshold comparison.
	CameraDistance func(view int, center math32.Vector3) float32

	// RequestRender tells the host one more frame should be drawn. May be
	// nil when the host renders continuously.
	RequestRender func()

	// Scene receives tile meshes as they become resident. May be nil for
	// headless use (prefetching, tests).
	Scene SceneGraph
}

func (c *MapContext) requestRender() {
	if c.RequestRender != nil {
		c.RequestRender()
	}
}

func (c *MapContext) cameraDistance(view int, center math32.Vector3) float32 {
	if c.CameraDistance == nil {
		return 1
	}
	return c.CameraDistance(view, center)
}

// ViewBit converts a view index to its layer-mask bit.
func ViewBit(view int) uint32 {
	return 1 << uint(view)
}
