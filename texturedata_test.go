package terratile

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextureUsable(t *testing.T) {
	var nilTex *TextureData
	assert.False(t, nilTex.usable())
	assert.False(t, newWireframeTexture().usable())
	assert.True(t, newSyntheticTexture(color.RGBA{A: 255}).usable())

	broken := &TextureData{Kind: TextureFull}
	assert.False(t, broken.usable())
}

func TestCropForChild(t *testing.T) {
	// parent with four solid-colored quadrants
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	colors := [2][2]color.RGBA{
		{{R: 255, A: 255}, {G: 255, A: 255}},
		{{B: 255, A: 255}, {R: 255, G: 255, A: 255}},
	}
	h := TileSize / 2
	for qy := 0; qy < 2; qy++ {
		for qx := 0; qx < 2; qx++ {
			r := image.Rect(qx*h, qy*h, (qx+1)*h, (qy+1)*h)
			draw.Draw(img, r, &image.Uniform{C: colors[qy][qx]}, image.Point{}, draw.Src)
		}
	}
	parent := &TextureData{Kind: TextureFull, Pixels: img}

	for qy := 0; qy < 2; qy++ {
		for qx := 0; qx < 2; qx++ {
			crop := parent.cropForChild(qx, qy)
			require.NotNil(t, crop)
			assert.Equal(t, TextureParentCrop, crop.Kind)
			assert.Equal(t, TileSize, crop.Pixels.Bounds().Dx())
			assert.Equal(t, TileSize, crop.Pixels.Bounds().Dy())
			// sample away from the seam where the scaler blends
			got := crop.Pixels.RGBAAt(TileSize/2, TileSize/2)
			assert.Equal(t, colors[qy][qx], got, "quadrant %d,%d", qx, qy)
		}
	}
}
