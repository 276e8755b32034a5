package terratile

import (
	"sync"
	"time"
)

// TileCache maps tile keys to their single resident Tile. It never creates
// tiles on lookup; the owning map decides what exists.
type TileCache struct {
	mu    sync.RWMutex
	tiles map[TileKey]*Tile
}

func NewTileCache() *TileCache {
	return &TileCache{tiles: make(map[TileKey]*Tile)}
}

func (c *TileCache) Get(k TileKey) *Tile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tiles[k]
}

func (c *TileCache) Set(k TileKey, t *Tile) {
	c.mu.Lock()
	c.tiles[k] = t
	n := len(c.tiles)
	c.mu.Unlock()
	instrumentCacheSize(n)
}

func (c *TileCache) Delete(k TileKey) {
	c.mu.Lock()
	delete(c.tiles, k)
	n := len(c.tiles)
	c.mu.Unlock()
	instrumentCacheSize(n)
}

func (c *TileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiles)
}

// Range calls fn for every cached tile until fn returns false. The
// snapshot is taken up front so fn may mutate the cache.
func (c *TileCache) Range(fn func(*Tile) bool) {
	c.mu.RLock()
	snapshot := make([]*Tile, 0, len(c.tiles))
	for _, t := range c.tiles {
		snapshot = append(snapshot, t)
	}
	c.mu.RUnlock()
	for _, t := range snapshot {
		if !fn(t) {
			return
		}
	}
}

// Prune removes tiles that have been fully inactive since before the
// cutoff and returns them so the owner can dispose their resources. The
// retention policy itself lives with the caller; the cache only keeps
// the timestamps.
func (c *TileCache) Prune(cutoff time.Time) []*Tile {
	c.mu.Lock()
	var evicted []*Tile
	for k, t := range c.tiles {
		if t.tileLayers == 0 && !t.inactiveSince.IsZero() && t.inactiveSince.Before(cutoff) {
			evicted = append(evicted, t)
			delete(c.tiles, k)
		}
	}
	n := len(c.tiles)
	c.mu.Unlock()
	instrumentCacheSize(n)
	return evicted
}

func (c *TileCache) clear() {
	c.mu.Lock()
	c.tiles = make(map[TileKey]*Tile)
	c.mu.Unlock()
	instrumentCacheSize(0)
}
