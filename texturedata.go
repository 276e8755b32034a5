package terratile

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// TileSize is the pixel size of a tile texture edge.
const TileSize = 256

// TextureKind tells the host renderer where a tile's pixels came from.
type TextureKind int

const (
	// TextureWireframe is the placeholder material a tile carries before
	// any pixel data has arrived. It has no pixels.
	TextureWireframe TextureKind = iota
	// TextureSynthetic is a flat single-color fill used for tiles outside
	// the map's zoom range. Never fetched.
	TextureSynthetic
	// TextureParentCrop is a quarter of an ancestor's texture, upsampled
	// as an instant low-res preview.
	TextureParentCrop
	// TextureFull is the tile's own fetched imagery.
	TextureFull
)

// TextureData is the CPU-side material payload for one tile. The host
// renderer maps it to its own GPU texture; this package only guarantees
// Pixels is non-nil for every kind except TextureWireframe.
type TextureData struct {
	Kind   TextureKind
	Pixels *image.RGBA
}

func newWireframeTexture() *TextureData {
	return &TextureData{Kind: TextureWireframe}
}

func newSyntheticTexture(c color.RGBA) *TextureData {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return &TextureData{Kind: TextureSynthetic, Pixels: img}
}

func textureFromImage(src image.Image) *TextureData {
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	return &TextureData{Kind: TextureFull, Pixels: img}
}

// usable reports whether texel data may be read from this texture. A
// wireframe placeholder has no pixels and must never be sampled.
func (t *TextureData) usable() bool {
	return t != nil && t.Kind != TextureWireframe && t.Pixels != nil
}

// cropForChild cuts the (qx, qy) quarter out of this texture and scales it
// back up to full tile size, giving a child tile an instant preview without
// any network I/O. Caller must have checked usable first.
func (t *TextureData) cropForChild(qx, qy int) *TextureData {
	b := t.Pixels.Bounds()
	hw, hh := b.Dx()/2, b.Dy()/2
	quarter := image.Rect(b.Min.X+qx*hw, b.Min.Y+qy*hh, b.Min.X+(qx+1)*hw, b.Min.Y+(qy+1)*hh)
	sub := t.Pixels.SubImage(quarter)

	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.ApproxBiLinear.Scale(img, img.Bounds(), sub, quarter, xdraw.Src, nil)
	return &TextureData{Kind: TextureParentCrop, Pixels: img}
}
