package terratile

import (
	"math"

	"cogentcore.org/core/math32"
)

// tileSegments is the number of quads per tile edge; vertices per edge is
// tileSegments+1.
const tileSegments = 16

// earthRadius in meters, used to scale the flat configuration so world
// units stay meters regardless of curvature.
const earthRadius = 6371000.0

// TileGeometry is the CPU-side vertex grid for one tile footprint.
// Positions are row-major, (tileSegments+1)^2 entries.
type TileGeometry struct {
	Segments  int
	Positions []math32.Vector3
	Bounds    math32.Box3
}

func newTileGeometry(segments int) *TileGeometry {
	n := (segments + 1) * (segments + 1)
	return &TileGeometry{
		Segments:  segments,
		Positions: make([]math32.Vector3, n),
		Bounds:    math32.B3Empty(),
	}
}

// latLonToWorld maps a geographic coordinate onto world space. A positive
// radius projects onto a sphere of that radius; radius <= 0 selects the
// flat configuration, an equirectangular plane with meters preserved at
// the equator.
func latLonToWorld(lat, lon float64, elev float64, radius float64) math32.Vector3 {
	latr := lat * math.Pi / 180
	lonr := lon * math.Pi / 180
	if radius <= 0 {
		return math32.Vec3(
			float32(earthRadius*lonr),
			float32(elev),
			float32(-earthRadius*latr),
		)
	}
	r := radius + elev
	return math32.Vec3(
		float32(r*math.Cos(latr)*math.Sin(lonr)),
		float32(r*math.Sin(latr)),
		float32(r*math.Cos(latr)*math.Cos(lonr)),
	)
}

// reproject recomputes every vertex for the given key and curvature
// radius, sampling elevation through elevAt (which may be nil for flat
// zero-height geometry). Reuses the position buffer, so it is safe to
// call repeatedly as the radius changes.
func (g *TileGeometry) reproject(k TileKey, radius float64, elevAt func(lat, lon float64) float64) {
	b := k.Bound()
	west, south := b.Left(), b.Bottom()
	dLon := (b.Right() - b.Left()) / float64(g.Segments)
	dLat := (b.Top() - b.Bottom()) / float64(g.Segments)

	i := 0
	for row := 0; row <= g.Segments; row++ {
		lat := south + dLat*float64(row)
		for col := 0; col <= g.Segments; col++ {
			lon := west + dLon*float64(col)
			var elev float64
			if elevAt != nil {
				elev = elevAt(lat, lon)
			}
			g.Positions[i] = latLonToWorld(lat, lon, elev, radius)
			i++
		}
	}
	g.Bounds.SetFromPoints(g.Positions)
}

// Center returns the world-space center of the tile's bounding box.
func (g *TileGeometry) Center() math32.Vector3 {
	return g.Bounds.Center()
}

// worldSize returns the diagonal extent of the tile in world units, the
// footprint measure compared against the subdivision threshold.
func (g *TileGeometry) worldSize() float32 {
	return g.Bounds.Size().Length()
}
