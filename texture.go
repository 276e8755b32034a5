package terratile

import (
	"time"
)

// loadedCheckDelay debounces the "all tiles loaded" check so activations
// from the same tick can register their fetches first.
const loadedCheckDelay = 100 * time.Millisecond

// QuadTreeMapTexture binds the quad-tree to real scene objects and tracks
// every in-flight load so the host's loaded callback fires exactly once,
// after the initial set of fetches has settled. Loads registered after
// that point belong to dynamic subdivision and are not tracked.
type QuadTreeMapTexture struct {
	*QuadTreeMap

	// guarded by QuadTreeMap.mu
	pending        map[TileKey]struct{}
	loaded         bool
	loadedCallback func()
	loadedTimer    *time.Timer
}

// NewQuadTreeMapTexture wraps a new map with load-completion tracking.
// loadedCallback may be nil; SetLoadedCallback can install it later.
func NewQuadTreeMapTexture(mc MapContext, minZoom, maxZoom int, radius float64, elev *ElevationMap, loadedCallback func()) *QuadTreeMapTexture {
	tm := &QuadTreeMapTexture{
		QuadTreeMap:    NewQuadTreeMap(mc, minZoom, maxZoom, radius, elev),
		pending:        make(map[TileKey]struct{}),
		loadedCallback: loadedCallback,
	}
	tm.QuadTreeMap.tracker = tm
	return tm
}

// SetLoadedCallback installs the one-time callback. Has no effect once
// the map has already reported loaded.
func (tm *QuadTreeMapTexture) SetLoadedCallback(fn func()) {
	tm.mu.Lock()
	tm.loadedCallback = fn
	tm.mu.Unlock()
}

// Loaded reports whether the initial load milestone has been reached.
func (tm *QuadTreeMapTexture) Loaded() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.loaded
}

// PendingLoads returns the number of tracked in-flight tile loads.
func (tm *QuadTreeMapTexture) PendingLoads() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.pending)
}

// trackTileLoading registers a tile's in-flight load. Skipped once the
// loaded callback has fired: later loads are post-initial subdivision.
func (tm *QuadTreeMapTexture) trackTileLoading(k TileKey) {
	if tm.loaded {
		return
	}
	tm.pending[k] = struct{}{}
	instrumentPendingLoads(len(tm.pending))
}

// noteTileSettled removes a settled load (success or failure alike) and
// returns the loaded callback when this settlement completed the initial
// set. The caller invokes it after releasing the map lock.
func (tm *QuadTreeMapTexture) noteTileSettled(k TileKey) func() {
	if _, ok := tm.pending[k]; !ok {
		return nil
	}
	delete(tm.pending, k)
	instrumentPendingLoads(len(tm.pending))
	return tm.checkLoadedLocked()
}

// checkLoadedLocked fires at most once: only when nothing is pending, the
// milestone has not been reached before and the map is still alive.
// loaded flips first so concurrent settlements cannot fire twice.
func (tm *QuadTreeMapTexture) checkLoadedLocked() func() {
	if tm.loaded || tm.cleaned || len(tm.pending) != 0 {
		return nil
	}
	tm.loaded = true
	return tm.loadedCallback
}

// scheduleLoadedCheck arms a deferred check so maps whose tiles were all
// synthetic or parent-seeded (no fetches at all) still report loaded.
func (tm *QuadTreeMapTexture) scheduleLoadedCheck() {
	if tm.loaded || tm.loadedTimer != nil {
		return
	}
	tm.loadedTimer = time.AfterFunc(loadedCheckDelay, func() {
		tm.mu.Lock()
		tm.loadedTimer = nil
		fire := tm.checkLoadedLocked()
		tm.mu.Unlock()
		if fire != nil {
			fire()
		}
	})
}

// mapCleaned drops tracking state alongside the base map's teardown.
func (tm *QuadTreeMapTexture) mapCleaned() {
	if tm.loadedTimer != nil {
		tm.loadedTimer.Stop()
		tm.loadedTimer = nil
	}
	tm.pending = make(map[TileKey]struct{})
	instrumentPendingLoads(0)
}
