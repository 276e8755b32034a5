package terratile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileKey identifies one quad-tree node within a map: a (zoom, x, y)
// coordinate in the standard power-of-two tile pyramid.
type TileKey struct {
	Z int
	X int
	Y int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Tile returns the orb maptile for this key.
func (k TileKey) Tile() maptile.Tile {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Z))
}

// Bound returns the geographic footprint of the key, west/south/east/north
// in degrees.
func (k TileKey) Bound() orb.Bound {
	return k.Tile().Bound()
}

// Parent returns the key one zoom level up, false at the pyramid root.
func (k TileKey) Parent() (TileKey, bool) {
	if k.Z <= 0 {
		return TileKey{}, false
	}
	return TileKey{Z: k.Z - 1, X: k.X / 2, Y: k.Y / 2}, true
}

// Children returns the four keys one zoom level down.
func (k TileKey) Children() [4]TileKey {
	z, x, y := k.Z+1, k.X*2, k.Y*2
	return [4]TileKey{
		{Z: z, X: x, Y: y},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y + 1},
	}
}

// Quadrant reports which quarter of the parent this key occupies,
// 0 or 1 on each axis.
func (k TileKey) Quadrant() (qx, qy int) {
	return k.X & 1, k.Y & 1
}

// keyAt returns the key containing the given lon/lat at a zoom level.
func keyAt(lon, lat float64, zoom int) TileKey {
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
	return TileKey{Z: zoom, X: int(t.X), Y: int(t.Y)}
}
