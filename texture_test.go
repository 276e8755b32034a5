package terratile

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The loaded callback fires exactly once, after every tracked load has
// settled, whatever order settlement happens in.
func TestLoadedCallbackExactlyOnce(t *testing.T) {
	env := newTestEnv()
	var fired int32
	m := NewQuadTreeMapTexture(env.mapContext(), 0, 10, 0, nil, func() {
		atomic.AddInt32(&fired, 1)
	})
	defer m.Clean()

	const n = 12
	keys := make([]TileKey, n)
	m.mu.Lock()
	for i := range keys {
		keys[i] = TileKey{Z: 8, X: i, Y: 0}
		m.trackTileLoading(keys[i])
	}
	m.mu.Unlock()
	require.Equal(t, n, m.PendingLoads())

	rand.Shuffle(n, func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k TileKey) {
			defer wg.Done()
			m.mu.Lock()
			fire := m.noteTileSettled(k)
			m.mu.Unlock()
			if fire != nil {
				fire()
			}
		}(k)
	}
	wg.Wait()

	assert.Equal(t, 0, m.PendingLoads())
	assert.True(t, m.Loaded())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	// settling an untracked key after the milestone changes nothing
	m.mu.Lock()
	m.trackTileLoading(TileKey{Z: 9, X: 0, Y: 0}) // skipped: already loaded
	fire := m.noteTileSettled(TileKey{Z: 9, X: 0, Y: 0})
	m.mu.Unlock()
	assert.Nil(t, fire)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

// A map whose tiles never needed a fetch still reports loaded, via the
// deferred check.
func TestLoadedCallbackWithoutFetches(t *testing.T) {
	env := newTestEnv()
	var fired int32
	m := NewQuadTreeMapTexture(env.mapContext(), 5, 10, 0, nil, func() {
		atomic.AddInt32(&fired, 1)
	})
	defer m.Clean()

	// below minZoom: synthetic, no pending load
	require.True(t, m.ActivateTile(2, 0, 0, ViewBit(0), false))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.Loaded())
}

// Clean before settlement: the callback must never fire afterwards.
func TestLoadedCallbackSuppressedByClean(t *testing.T) {
	env := newTestEnv()
	env.fetcher.block = make(chan struct{})
	env.fetcher.honorCtx = true

	var fired int32
	m := NewQuadTreeMapTexture(env.mapContext(), 0, 10, 0, nil, func() {
		atomic.AddInt32(&fired, 1)
	})

	require.True(t, m.ActivateTile(5, 10, 10, ViewBit(0), false))
	require.Equal(t, 1, m.PendingLoads())

	m.Clean()
	close(env.fetcher.block)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.False(t, m.Loaded())
}
