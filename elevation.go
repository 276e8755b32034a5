package terratile

import (
	"context"
	"sync"

	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
)

// ElevationGrid is one tile's worth of height samples, row-major from the
// south-west corner, Size samples per side.
type ElevationGrid struct {
	Size    int
	Heights []float32
}

func (g *ElevationGrid) at(col, row int) float64 {
	if col < 0 {
		col = 0
	} else if col >= g.Size {
		col = g.Size - 1
	}
	if row < 0 {
		row = 0
	} else if row >= g.Size {
		row = g.Size - 1
	}
	return float64(g.Heights[row*g.Size+col])
}

// sample bilinearly interpolates at fractional grid coordinates
// u, v in [0, 1], u east-ward and v north-ward.
func (g *ElevationGrid) sample(u, v float64) float64 {
	if g.Size <= 1 || len(g.Heights) < g.Size*g.Size {
		return 0
	}
	fx := u * float64(g.Size-1)
	fy := v * float64(g.Size-1)
	c0, r0 := int(fx), int(fy)
	tx, ty := fx-float64(c0), fy-float64(r0)

	h00 := g.at(c0, r0)
	h10 := g.at(c0+1, r0)
	h01 := g.at(c0, r0+1)
	h11 := g.at(c0+1, r0+1)
	return h00*(1-tx)*(1-ty) + h10*tx*(1-ty) + h01*(1-tx)*ty + h11*tx*ty
}

// ElevationMap is the companion map supplying height samples that deform
// tile geometry. It caches one grid per tile key and fetches missing
// grids asynchronously; queries degrade to 0 until data lands, at which
// point the owning texture map re-deforms the affected tiles.
type ElevationMap struct {
	mu sync.Mutex

	fetch   func(ctx context.Context, t maptile.Tile) (*ElevationGrid, error)
	minZoom int
	maxZoom int

	grids   map[TileKey]*ElevationGrid
	pending map[TileKey]struct{}

	rootCtx    context.Context
	rootCancel context.CancelFunc
	cleaned    bool

	// onReady is installed by the owning map to hear about grid arrivals.
	onReady func(TileKey)
}

func NewElevationMap(mc MapContext, minZoom, maxZoom int) *ElevationMap {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &ElevationMap{
		fetch:      mc.FetchElevation,
		minZoom:    minZoom,
		maxZoom:    maxZoom,
		grids:      make(map[TileKey]*ElevationGrid),
		pending:    make(map[TileKey]struct{}),
		rootCtx:    rootCtx,
		rootCancel: cancel,
	}
}

// ensureGrid requests the grid for a key if it is neither cached nor in
// flight. Out-of-range zooms are clamped to the nearest valid level.
func (e *ElevationMap) ensureGrid(k TileKey) {
	e.mu.Lock()
	e.ensureGridLocked(k)
	e.mu.Unlock()
}

func (e *ElevationMap) ensureGridLocked(k TileKey) {
	if e.cleaned || e.fetch == nil {
		return
	}
	k = e.clampKey(k)
	if _, ok := e.grids[k]; ok {
		return
	}
	if _, ok := e.pending[k]; ok {
		return
	}
	e.pending[k] = struct{}{}
	go e.fetchGrid(k)
}

func (e *ElevationMap) clampKey(k TileKey) TileKey {
	for k.Z > e.maxZoom {
		k = TileKey{Z: k.Z - 1, X: k.X / 2, Y: k.Y / 2}
	}
	if k.Z < e.minZoom {
		// Below the pyramid there is nothing coarser to clamp to.
		k = TileKey{Z: e.minZoom, X: k.X << uint(e.minZoom-k.Z), Y: k.Y << uint(e.minZoom-k.Z)}
	}
	return k
}

func (e *ElevationMap) fetchGrid(k TileKey) {
	grid, err := e.fetch(e.rootCtx, k.Tile())
	e.mu.Lock()
	delete(e.pending, k)
	if e.cleaned {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.mu.Unlock()
		if !isCancelled(err) {
			log.Errorf("fetch elevation %s error ~ %s", k, err)
		}
		return
	}
	if grid == nil {
		e.mu.Unlock()
		return
	}
	e.grids[k] = grid
	ready := e.onReady
	e.mu.Unlock()
	if ready != nil {
		ready(k)
	}
}

// GetElevationInterpolated returns the bilinear height at lat/lon using
// the finest cached grid at or above desiredZoom, walking up the pyramid
// until one exists. Returns 0 (and kicks off the fetch) when no covering
// grid has arrived yet.
func (e *ElevationMap) GetElevationInterpolated(lat, lon float64, desiredZoom int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleaned {
		return 0
	}
	if desiredZoom > e.maxZoom {
		desiredZoom = e.maxZoom
	}
	if desiredZoom < e.minZoom {
		desiredZoom = e.minZoom
	}
	for z := desiredZoom; z >= e.minZoom; z-- {
		k := keyAt(lon, lat, z)
		grid, ok := e.grids[k]
		if !ok {
			continue
		}
		b := k.Bound()
		u := (lon - b.Left()) / (b.Right() - b.Left())
		v := (lat - b.Bottom()) / (b.Top() - b.Bottom())
		return grid.sample(u, v)
	}
	e.ensureGridLocked(keyAt(lon, lat, desiredZoom))
	return 0
}

// Clean aborts outstanding elevation fetches and drops all cached grids.
// Terminal, like the texture map's Clean.
func (e *ElevationMap) Clean() {
	e.mu.Lock()
	if e.cleaned {
		e.mu.Unlock()
		return
	}
	e.cleaned = true
	e.rootCancel()
	e.grids = make(map[TileKey]*ElevationGrid)
	e.pending = make(map[TileKey]struct{})
	e.onReady = nil
	e.mu.Unlock()
}
