package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// TileSource is a remote {z}/{x}/{y} tile endpoint. It serves both the
// prefetch task (raw bytes into mbtiles) and the engine's FetchTileImage
// collaborator (decoded images).
type TileSource struct {
	Name   string
	URL    string
	Format string
	Min    int
	Max    int

	client *http.Client
}

func NewTileSource(name, url, format string, min, max int) *TileSource {
	return &TileSource{
		Name:   name,
		URL:    url,
		Format: format,
		Min:    min,
		Max:    max,
		client: &http.Client{},
	}
}

// tileURL expands the {x}/{y}/{z} placeholders for a tile.
func (s *TileSource) tileURL(t maptile.Tile) string {
	url := strings.Replace(s.URL, "{x}", strconv.Itoa(int(t.X)), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(int(t.Y)), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(int(t.Z)), -1)
	return url
}

// FetchRaw downloads one tile's payload. A zero-byte body maps to
// (nil, nil): the source simply has no data there.
func (s *TileSource) FetchRaw(ctx context.Context, t maptile.Tile) ([]byte, error) {
	url := s.tileURL(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s status code %d", url, resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// FetchTileImage implements the engine's tile-image collaborator.
func (s *TileSource) FetchTileImage(ctx context.Context, t maptile.Tile) (image.Image, error) {
	body, err := s.FetchRaw(ctx, t)
	if err != nil || body == nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode tile %v: %w", t, err)
	}
	return img, nil
}
