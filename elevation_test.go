package terratile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElevationGridSample(t *testing.T) {
	g := &ElevationGrid{
		Size:    2,
		Heights: []float32{0, 10, 20, 30},
	}
	assert.InDelta(t, 0.0, g.sample(0, 0), 1e-6)
	assert.InDelta(t, 10.0, g.sample(1, 0), 1e-6)
	assert.InDelta(t, 20.0, g.sample(0, 1), 1e-6)
	assert.InDelta(t, 30.0, g.sample(1, 1), 1e-6)
	assert.InDelta(t, 15.0, g.sample(0.5, 0.5), 1e-6)

	// out-of-range coordinates clamp instead of exploding
	assert.InDelta(t, 0.0, g.sample(-1, -1), 1e-6)

	degenerate := &ElevationGrid{Size: 1, Heights: []float32{7}}
	assert.InDelta(t, 0.0, degenerate.sample(0.5, 0.5), 1e-6)
}

func TestElevationDegradesToZero(t *testing.T) {
	e := NewElevationMap(MapContext{}, 0, 10) // no elevation source
	assert.Zero(t, e.GetElevationInterpolated(45, 9, 8))

	env := newTestEnv()
	m := NewQuadTreeMap(env.mapContext(), 0, 10, 0, nil) // no companion
	assert.Zero(t, m.GetElevationInterpolated(45, 9, 8))
}

func TestElevationFetchAndInterpolate(t *testing.T) {
	var fetches int32
	mc := MapContext{
		FetchElevation: func(ctx context.Context, tile maptile.Tile) (*ElevationGrid, error) {
			atomic.AddInt32(&fetches, 1)
			return &ElevationGrid{
				Size:    2,
				Heights: []float32{100, 100, 100, 100},
			}, nil
		},
	}
	e := NewElevationMap(mc, 0, 10)
	defer e.Clean()

	var ready int32
	e.onReady = func(k TileKey) { atomic.AddInt32(&ready, 1) }

	// first query misses, kicks off the fetch, returns 0
	assert.Zero(t, e.GetElevationInterpolated(45, 9, 8))

	require.Eventually(t, func() bool {
		return e.GetElevationInterpolated(45, 9, 8) == 100
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ready))

	// cached: no second fetch for the same tile
	e.GetElevationInterpolated(45, 9, 8)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestElevationCoarserGridServesFinerQuery(t *testing.T) {
	mc := MapContext{
		FetchElevation: func(ctx context.Context, tile maptile.Tile) (*ElevationGrid, error) {
			return &ElevationGrid{Size: 2, Heights: []float32{50, 50, 50, 50}}, nil
		},
	}
	e := NewElevationMap(mc, 0, 10)
	defer e.Clean()

	e.ensureGrid(keyAt(9, 45, 6))
	require.Eventually(t, func() bool {
		// a zoom-8 query walks up the pyramid to the zoom-6 grid
		return e.GetElevationInterpolated(45, 9, 8) == 50
	}, 2*time.Second, 5*time.Millisecond)
}

func TestElevationDeformsTileGeometry(t *testing.T) {
	mc := MapContext{
		FetchElevation: func(ctx context.Context, tile maptile.Tile) (*ElevationGrid, error) {
			return &ElevationGrid{Size: 2, Heights: []float32{500, 500, 500, 500}}, nil
		},
	}
	env := newTestEnv()
	full := env.mapContext()
	full.FetchElevation = mc.FetchElevation

	elev := NewElevationMap(full, 0, 10)
	m := NewQuadTreeMapTexture(full, 0, 10, 0, elev, nil)
	defer m.Clean()
	defer elev.Clean()

	k := TileKey{Z: 5, X: 10, Y: 10}
	require.True(t, m.ActivateTile(5, 10, 10, ViewBit(0), false))

	// once the grid lands the map re-deforms the tile to height 500
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		tile := m.cache.Get(k)
		if tile == nil || tile.geometry == nil {
			return false
		}
		return tile.geometry.Positions[0].Y == 500
	}, 2*time.Second, 5*time.Millisecond)
}
