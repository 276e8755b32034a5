package terratile

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"cogentcore.org/core/math32"
	"github.com/paulmach/orb/maptile"
)

// fakeScene records scene membership for assertions.
type fakeScene struct {
	mu       sync.Mutex
	resident map[TileKey]bool
	adds     int
	removes  int
}

func newFakeScene() *fakeScene {
	return &fakeScene{resident: make(map[TileKey]bool)}
}

func (s *fakeScene) Add(m *TileMesh) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resident[m.Key] = true
	s.adds++
}

func (s *fakeScene) Remove(m *TileMesh) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resident, m.Key)
	s.removes++
}

func (s *fakeScene) has(k TileKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resident[k]
}

// fakeFetcher is a controllable tile-image collaborator. When block is
// set, fetches wait for it to close; honorCtx decides whether ctx
// cancellation unblocks them (off to force the cancelling window open).
type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	block    chan struct{}
	honorCtx bool
	img      image.Image
	err      error
}

func (f *fakeFetcher) fetch(ctx context.Context, t maptile.Tile) (image.Image, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	honor := f.honorCtx
	img, err := f.img, f.err
	f.mu.Unlock()
	if block != nil {
		if honor {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-block:
			}
		} else {
			<-block
		}
	}
	return img, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testImage(c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

type testEnv struct {
	scene   *fakeScene
	fetcher *fakeFetcher
	dist    float32
	mu      sync.Mutex
	renders int
}

func newTestEnv() *testEnv {
	return &testEnv{
		scene:   newFakeScene(),
		fetcher: &fakeFetcher{img: testImage(color.RGBA{R: 200, A: 255})},
		dist:    1e9,
	}
}

func (e *testEnv) mapContext() MapContext {
	return MapContext{
		FetchTileImage: e.fetcher.fetch,
		CameraDistance: func(view int, center math32.Vector3) float32 { return e.dist },
		RequestRender: func() {
			e.mu.Lock()
			e.renders++
			e.mu.Unlock()
		},
		Scene: e.scene,
	}
}

// tileSnapshot copies a tile's guarded state for assertions.
type tileSnapshot struct {
	exists     bool
	layers     uint32
	render     renderState
	load       loadState
	loaded     bool
	needsHiRes bool
	inactive   bool
}

func snapshot(m *QuadTreeMap, k TileKey) tileSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.cache.Get(k)
	if t == nil {
		return tileSnapshot{}
	}
	return tileSnapshot{
		exists:     true,
		layers:     t.tileLayers,
		render:     t.render,
		load:       t.load,
		loaded:     t.loaded,
		needsHiRes: t.needsHighResLoad,
		inactive:   !t.inactiveSince.IsZero(),
	}
}
