package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
)

// MBTileVersion mbtiles版本号
const MBTileVersion = "1.2"

// TileSize 默认瓦片大小
const TileSize = 256

// Constants representing TileFormat types
const (
	GZIP string = "gzip" // encoding = gzip
	ZLIB        = "zlib" // encoding = deflate
	PNG         = "png"
	JPG         = "jpg"
	PBF         = "pbf"
	WEBP        = "webp"
)

// flipY converts XYZ row order to the TMS order mbtiles stores.
func flipY(t maptile.Tile) uint32 {
	zpower := math.Pow(2.0, float64(t.Z))
	return uint32(zpower) - 1 - t.Y
}

// MBTiles wraps one mbtiles database for tile reads and writes. The read
// side doubles as an offline tile source for the engine.
type MBTiles struct {
	File string
	db   *sql.DB
}

// createMBTiles sets up a fresh mbtiles file with the standard schema and
// metadata table.
func createMBTiles(file string, meta map[string]string) (*MBTiles, error) {
	os.MkdirAll(filepath.Dir(file), os.ModePerm)
	os.Remove(file)
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, err
	}
	if err := optimizeConnection(db); err != nil {
		return nil, err
	}
	_, err = db.Exec("create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec("create table if not exists metadata (name text, value text);")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec("create unique index name on metadata (name);")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec("create unique index tile_index on tiles(zoom_level, tile_column, tile_row);")
	if err != nil {
		return nil, err
	}
	for name, value := range meta {
		_, err := db.Exec("insert into metadata (name, value) values (?, ?)", name, value)
		if err != nil {
			return nil, err
		}
	}
	return &MBTiles{File: file, db: db}, nil
}

// openMBTiles opens an existing mbtiles file for reads.
func openMBTiles(file string) (*MBTiles, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, err
	}
	return &MBTiles{File: file, db: db}, nil
}

// SaveTile stores one tile's payload.
func (m *MBTiles) SaveTile(t maptile.Tile, data []byte) error {
	_, err := m.db.Exec("insert into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);",
		t.Z, t.X, flipY(t), data)
	return err
}

// ReadTile returns a tile's payload, nil when absent.
func (m *MBTiles) ReadTile(t maptile.Tile) ([]byte, error) {
	var data []byte
	err := m.db.QueryRow("select tile_data from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		t.Z, t.X, flipY(t)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return data, err
}

// FetchTileImage implements the engine's tile-image collaborator against
// the local store, for offline sessions.
func (m *MBTiles) FetchTileImage(ctx context.Context, t maptile.Tile) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := m.ReadTile(t)
	if err != nil || data == nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode stored tile %v: %w", t, err)
	}
	return img, nil
}

// Close finalizes the database, running the analyze/vacuum pass first.
func (m *MBTiles) Close() error {
	if err := optimizeDatabase(m.db); err != nil {
		log.Warnf("optimize %s error ~ %s", m.File, err)
	}
	return m.db.Close()
}

func optimizeConnection(db *sql.DB) error {
	_, err := db.Exec("PRAGMA synchronous=0")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA locking_mode=EXCLUSIVE")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA journal_mode=DELETE")
	if err != nil {
		return err
	}
	return nil
}

func optimizeDatabase(db *sql.DB) error {
	_, err := db.Exec("ANALYZE;")
	if err != nil {
		return err
	}
	_, err = db.Exec("VACUUM;")
	if err != nil {
		return err
	}
	return nil
}

// saveToFiles writes a tile into a z/x/y directory layout.
func saveToFiles(t maptile.Tile, data []byte, rootdir, format string) error {
	dir := filepath.Join(rootdir, fmt.Sprintf(`%d`, t.Z), fmt.Sprintf(`%d`, t.X))
	os.MkdirAll(dir, os.ModePerm)
	fileName := filepath.Join(dir, fmt.Sprintf(`%d.%s`, t.Y, format))
	return ioutil.WriteFile(fileName, data, os.ModePerm)
}
