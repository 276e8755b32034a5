package terratile

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
)

// loadTracker is how the texture specialization observes the base map's
// async loads. All methods are called with the map lock held except the
// function returned by noteTileSettled, which the caller invokes after
// releasing it.
type loadTracker interface {
	trackTileLoading(k TileKey)
	noteTileSettled(k TileKey) func()
	scheduleLoadedCheck()
	mapCleaned()
}

// QuadTreeMap owns the tile cache, the subdivision policy and the
// per-view visibility masks. It decides which tiles must exist, activate
// or deactivate each update tick; tiles never mutate their siblings.
type QuadTreeMap struct {
	mu sync.Mutex

	ctx       MapContext
	scene     SceneGraph
	cache     *TileCache
	elevation *ElevationMap

	minZoom int
	maxZoom int
	radius  float64

	// deferred holds fully deactivated tiles whose scene removal waits
	// for their replacement children to finish loading.
	deferred map[TileKey]struct{}

	rootCtx    context.Context
	rootCancel context.CancelFunc
	cleaned    bool

	tracker loadTracker
}

// NewQuadTreeMap builds a map over [minZoom, maxZoom] with the given
// curvature radius (<= 0 for the flat configuration). elev may be nil.
func NewQuadTreeMap(mc MapContext, minZoom, maxZoom int, radius float64, elev *ElevationMap) *QuadTreeMap {
	rootCtx, cancel := context.WithCancel(context.Background())
	m := &QuadTreeMap{
		ctx:        mc,
		scene:      mc.Scene,
		cache:      NewTileCache(),
		elevation:  elev,
		minZoom:    minZoom,
		maxZoom:    maxZoom,
		radius:     radius,
		deferred:   make(map[TileKey]struct{}),
		rootCtx:    rootCtx,
		rootCancel: cancel,
	}
	if elev != nil {
		elev.onReady = m.elevationArrived
	}
	return m
}

// Cache exposes the tile cache for bulk host operations.
func (m *QuadTreeMap) Cache() *TileCache {
	return m.cache
}

// ActivateTile makes the tile at (z, x, y) resident for the views in
// layerMask. Returns false if the tile is mid-cancellation (retry next
// tick) or the map has been cleaned.
func (m *QuadTreeMap) ActivateTile(z, x, y int, layerMask uint32, useParentData bool) bool {
	m.mu.Lock()
	ok := m.activateTileLocked(TileKey{Z: z, X: x, Y: y}, layerMask, useParentData)
	m.mu.Unlock()
	if ok {
		m.ctx.requestRender()
	}
	return ok
}

func (m *QuadTreeMap) activateTileLocked(k TileKey, layerMask uint32, useParentData bool) bool {
	if m.cleaned {
		return false
	}

	if t := m.cache.Get(k); t != nil {
		if t.isCancelling() {
			// Reviving a tile mid-cancellation could let the stale fetch
			// land on the new activation's state. Caller retries.
			return false
		}
		if t.tileLayers == 0 {
			// a deferred tile never left the scene, so only instant
			// removals need re-adding
			if _, waiting := m.deferred[k]; !waiting && m.scene != nil && t.mesh != nil {
				m.scene.Add(t.mesh)
			}
			t.inactiveSince = time.Time{}
			delete(m.deferred, k)
		}
		t.tileLayers |= layerMask
		if t.mesh != nil {
			t.mesh.Layers = t.tileLayers
		}
		// a revived tile that never got its texture (cancelled or failed
		// fetch) retries now; parent-data upgrades stay with the general pass
		if !t.loaded && t.load == loadIdle && t.render == renderWireframe {
			m.startTileLoadLocked(t)
		}
		return true
	}

	t := newTile(m, k)
	t.buildGeometry(m.radius)
	t.tileLayers = layerMask
	t.mesh.Layers = layerMask
	m.cache.Set(k, t)
	if m.scene != nil {
		m.scene.Add(t.mesh)
	}

	switch {
	case k.Z < m.minZoom || k.Z > m.maxZoom:
		// Outside the fetchable range: a flat black stand-in, no network,
		// no pending-load tracking.
		t.mesh.setMaterial(newSyntheticTexture(color.RGBA{A: 255}))
		t.render = renderLoaded
		t.loaded = true
		if m.tracker != nil {
			m.tracker.scheduleLoadedCheck()
		}
	case useParentData:
		var parent *Tile
		if pk, ok := k.Parent(); ok {
			parent = m.cache.Get(pk)
		}
		if mat := t.buildMaterialFromParent(parent); mat != nil {
			t.mesh.setMaterial(mat)
			t.render = renderParentData
			t.needsHighResLoad = true
			if m.tracker != nil {
				m.tracker.scheduleLoadedCheck()
			}
		} else {
			// Parent texture not usable yet; pay for the real fetch now.
			m.startTileLoadLocked(t)
		}
	default:
		m.startTileLoadLocked(t)
	}
	return true
}

// DeactivateTile clears layerMask's views from the tile. A mask of 0
// clears every view (full teardown). Once no view needs the tile its
// pending load is cancelled and inactiveSince is stamped; the mesh leaves
// the scene immediately when instant is set, otherwise removal is
// deferred until its replacement children have settled.
func (m *QuadTreeMap) DeactivateTile(z, x, y int, layerMask uint32, instant bool) {
	m.mu.Lock()
	m.deactivateTileLocked(TileKey{Z: z, X: x, Y: y}, layerMask, instant)
	m.mu.Unlock()
	m.ctx.requestRender()
}

func (m *QuadTreeMap) deactivateTileLocked(k TileKey, layerMask uint32, instant bool) {
	t := m.cache.Get(k)
	if t == nil {
		return
	}
	if layerMask == 0 {
		t.tileLayers = 0
	} else {
		t.tileLayers &^= layerMask
	}
	if t.mesh != nil {
		t.mesh.Layers = t.tileLayers
	}
	if t.tileLayers != 0 {
		return
	}
	t.cancelPendingLoads()
	t.inactiveSince = time.Now()
	if instant {
		m.removeFromSceneLocked(t)
	} else {
		m.deferred[k] = struct{}{}
	}
}

func (m *QuadTreeMap) removeFromSceneLocked(t *Tile) {
	if m.scene != nil && t.mesh != nil {
		m.scene.Remove(t.mesh)
	}
	delete(m.deferred, t.Key)
}

// apparent size is the tile's world footprint divided by the view's
// camera distance; the subdivision threshold compares against it.
func (m *QuadTreeMap) apparentSizeLocked(t *Tile, view int) float32 {
	dist := m.ctx.cameraDistance(view, t.geometry.Center())
	if dist < 1 {
		dist = 1
	}
	return t.geometry.worldSize() / dist
}

// SubdivideTilesViewSpecific runs one view's detail pass: tiles the
// camera is too close to are replaced by their four children (seeded from
// the parent texture for an instant preview), and sibling groups the
// camera has moved away from collapse back into their parent. Other
// views' layer bits are never touched.
func (m *QuadTreeMap) SubdivideTilesViewSpecific(view int, targetWorldSize float32) {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	bit := ViewBit(view)

	var work []*Tile
	m.cache.Range(func(t *Tile) bool {
		if t.tileLayers&bit != 0 {
			work = append(work, t)
		}
		return true
	})

	// Split pass. Children activated here join the worklist so a large
	// camera jump deepens more than one level per tick.
	for len(work) > 0 {
		t := work[len(work)-1]
		work = work[:len(work)-1]
		if t.Key.Z >= m.maxZoom || !t.canSubdivide() {
			continue
		}
		if m.apparentSizeLocked(t, view) <= targetWorldSize {
			continue
		}
		split := true
		for _, ck := range t.Key.Children() {
			if m.activateTileLocked(ck, bit, true) {
				if ct := m.cache.Get(ck); ct != nil {
					work = append(work, ct)
				}
			} else {
				split = false
			}
		}
		// A refused child (mid-cancellation) leaves the parent's bit in
		// place so the next tick retries the whole group; dropping it here
		// would lose that quadrant's coverage for this view.
		if split {
			m.deactivateTileLocked(t.Key, bit, false)
		}
	}

	// Merge pass: when every child of a parent holds this view's bit and
	// the parent alone would satisfy the threshold, restore the parent
	// and release the children.
	counts := make(map[TileKey]int)
	m.cache.Range(func(t *Tile) bool {
		if t.tileLayers&bit == 0 {
			return true
		}
		if pk, ok := t.Key.Parent(); ok {
			counts[pk]++
		}
		return true
	})
	for pk, n := range counts {
		if n != 4 {
			continue
		}
		pt := m.cache.Get(pk)
		if pt == nil || !pt.canSubdivide() {
			continue
		}
		if m.apparentSizeLocked(pt, view) > targetWorldSize {
			continue
		}
		if m.activateTileLocked(pk, bit, false) {
			for _, ck := range pk.Children() {
				m.deactivateTileLocked(ck, bit, false)
			}
		}
	}
	m.mu.Unlock()
	m.ctx.requestRender()
}

// SubdivideTilesGeneral is the view-independent per-tick bookkeeping:
// deferred scene removals whose replacement children have settled,
// high-res upgrades for tiles still showing parent data, and the loaded
// check for maps that never needed a fetch.
func (m *QuadTreeMap) SubdivideTilesGeneral() {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	changed := false

	for k := range m.deferred {
		t := m.cache.Get(k)
		if t == nil || t.tileLayers != 0 {
			delete(m.deferred, k)
			continue
		}
		if m.childrenSettledLocked(k) {
			m.removeFromSceneLocked(t)
			changed = true
		}
	}

	m.cache.Range(func(t *Tile) bool {
		if t.tileLayers != 0 && t.needsHighResLoad && t.load == loadIdle {
			m.startTileLoadLocked(t)
		}
		return true
	})

	if m.tracker != nil {
		m.tracker.scheduleLoadedCheck()
	}
	m.mu.Unlock()
	if changed {
		m.ctx.requestRender()
	}
}

// childrenSettledLocked reports whether every active child of k has some
// material to show, so removing the parent won't leave a hole.
func (m *QuadTreeMap) childrenSettledLocked(k TileKey) bool {
	for _, ck := range k.Children() {
		ct := m.cache.Get(ck)
		if ct == nil || ct.tileLayers == 0 {
			continue
		}
		if ct.render == renderWireframe {
			return false
		}
	}
	return true
}

// startTileLoadLocked kicks off the async texture fetch for a tile. The
// elevation request goes out first so height data has a head start on
// texture assembly; that ordering is a hint, not a guarantee.
func (m *QuadTreeMap) startTileLoadLocked(t *Tile) {
	if m.cleaned || t.load != loadIdle || m.ctx.FetchTileImage == nil {
		return
	}
	fctx, cancel := context.WithCancel(m.rootCtx)
	t.cancel = cancel
	t.load = loadLoading
	t.needsHighResLoad = false
	if m.tracker != nil {
		m.tracker.trackTileLoading(t.Key)
	}
	if m.elevation != nil {
		m.elevation.ensureGrid(t.Key)
	}
	go m.fetchTile(fctx, t, t.generation)
}

func (m *QuadTreeMap) fetchTile(ctx context.Context, t *Tile, gen uint64) {
	img, err := m.ctx.FetchTileImage(ctx, t.Key.Tile())
	m.completeLoad(t, gen, img, err)
}

// completeLoad applies a fetch result under the lock, discarding it when
// the tile's generation moved on or the map was cleaned in the meantime.
func (m *QuadTreeMap) completeLoad(t *Tile, gen uint64, img image.Image, err error) {
	m.mu.Lock()
	var fire func()

	if m.cleaned || gen != t.generation {
		if t.load == loadCancelling {
			t.load = loadIdle
		}
		instrumentTileFetchCancelled()
		log.Debugf("discarded stale fetch for tile %s", t.Key)
	} else {
		t.cancel = nil
		t.load = loadIdle
		switch {
		case err != nil && isCancelled(err):
			instrumentTileFetchCancelled()
			log.Debugf("fetch tile %s cancelled", t.Key)
		case err != nil:
			// Stays wireframe; a later activation retries the fetch.
			instrumentTileFetchFailed()
			log.Errorf("fetch tile %s error ~ %s", t.Key, err)
		case img == nil:
			instrumentTileFetchFailed()
			log.Warnf("nil tile %s ~", t.Key)
		default:
			instrumentTileFetched()
			t.mesh.setMaterial(textureFromImage(img))
			t.render = renderLoaded
			t.loaded = true
			t.needsHighResLoad = false
		}
	}

	if m.tracker != nil {
		fire = m.tracker.noteTileSettled(t.Key)
	}
	m.mu.Unlock()
	m.ctx.requestRender()
	if fire != nil {
		fire()
	}
}

// RecalculateCurveMap reprojects every cached tile onto a new curvature
// radius. No-op when the radius is unchanged and force is unset.
func (m *QuadTreeMap) RecalculateCurveMap(radius float64, force bool) {
	m.mu.Lock()
	if m.cleaned || (radius == m.radius && !force) {
		m.mu.Unlock()
		return
	}
	m.radius = radius
	m.cache.Range(func(t *Tile) bool {
		t.recalculateCurve(radius)
		return true
	})
	m.mu.Unlock()
	m.ctx.requestRender()
}

// GetElevationInterpolated passes through to the elevation companion,
// degrading to 0 when none is configured.
func (m *QuadTreeMap) GetElevationInterpolated(lat, lon float64, desiredZoom int) float64 {
	if m.elevation == nil {
		return 0
	}
	return m.elevation.GetElevationInterpolated(lat, lon, desiredZoom)
}

// elevationArrived re-deforms resident tiles overlapping a freshly loaded
// height grid. Runs on the elevation fetch goroutine.
func (m *QuadTreeMap) elevationArrived(k TileKey) {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	b := k.Bound()
	touched := false
	m.cache.Range(func(t *Tile) bool {
		if t.tileLayers != 0 && boundsOverlap(t.Key.Bound(), b) {
			t.recalculateCurve(m.radius)
			touched = true
		}
		return true
	})
	m.mu.Unlock()
	if touched {
		m.ctx.requestRender()
	}
}

func boundsOverlap(a, b orb.Bound) bool {
	return a.Left() <= b.Right() && b.Left() <= a.Right() &&
		a.Bottom() <= b.Top() && b.Bottom() <= a.Top()
}

// PruneInactive evicts tiles fully inactive for longer than the retention
// window and disposes their resources. The window is the host's policy.
func (m *QuadTreeMap) PruneInactive(olderThan time.Duration) int {
	m.mu.Lock()
	evicted := m.cache.Prune(time.Now().Add(-olderThan))
	for _, t := range evicted {
		m.removeFromSceneLocked(t)
		if t.mesh != nil {
			t.mesh.dispose()
		}
		t.mesh = nil
		t.geometry = nil
	}
	m.mu.Unlock()
	if len(evicted) > 0 {
		m.ctx.requestRender()
	}
	return len(evicted)
}

// Clean tears the map down: aborts all outstanding fetches, disposes
// every tile and drops the scene reference. Terminal: a cleaned map
// refuses further activation.
func (m *QuadTreeMap) Clean() {
	m.mu.Lock()
	if m.cleaned {
		m.mu.Unlock()
		return
	}
	m.cleaned = true
	m.rootCancel()
	m.cache.Range(func(t *Tile) bool {
		t.cancel = nil // the root cancel above covers in-flight fetches
		if m.scene != nil && t.mesh != nil {
			m.scene.Remove(t.mesh)
		}
		if t.mesh != nil {
			t.mesh.dispose()
		}
		t.mesh = nil
		t.geometry = nil
		return true
	})
	m.cache.clear()
	m.deferred = make(map[TileKey]struct{})
	m.scene = nil
	if m.tracker != nil {
		m.tracker.mapCleaned()
	}
	m.mu.Unlock()
}
