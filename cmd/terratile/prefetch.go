package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// PrefetchTask walks a region's tile pyramid and pulls every tile into
// the local store, so the engine can run offline against the mbtiles
// FetchTileImage collaborator later.
type PrefetchTask struct {
	ID         string
	Name       string
	File       string
	Min        int
	Max        int
	Collection orb.Collection
	Source     *TileSource
	Total      int64
	Bar        *pb.ProgressBar

	store        *MBTiles
	workerCount  int
	savePipeSize int
	bufSize      int
	wg           sync.WaitGroup
	abort        chan struct{}
	workers      chan maptile.Tile
	savingpipe   chan savedTile
	savedone     chan struct{}
	outformat    string

	ctx    context.Context
	cancel context.CancelFunc
}

type savedTile struct {
	T maptile.Tile
	C []byte
}

// NewPrefetchTask sizes a task over the source's zoom range for the given
// coverage collection.
func NewPrefetchTask(collection orb.Collection, source *TileSource) *PrefetchTask {
	if len(collection) == 0 {
		return nil
	}
	id, _ := shortid.Generate()
	ctx, cancel := context.WithCancel(context.Background())
	task := &PrefetchTask{
		ID:         id,
		Name:       source.Name,
		Min:        source.Min,
		Max:        source.Max,
		Collection: collection,
		Source:     source,
		ctx:        ctx,
		cancel:     cancel,
	}
	for z := task.Min; z <= task.Max; z++ {
		count := tilecover.CollectionCount(collection, maptile.Zoom(z))
		log.Debugf("zoom %d: %d tiles", z, count)
		task.Total += count
	}
	task.abort = make(chan struct{})
	task.workerCount = viper.GetInt("task.workers")
	task.savePipeSize = viper.GetInt("task.savepipe")
	task.bufSize = viper.GetInt("task.mergebuf")
	task.workers = make(chan maptile.Tile, task.workerCount)
	task.savingpipe = make(chan savedTile, task.savePipeSize)
	task.savedone = make(chan struct{})
	task.outformat = viper.GetString("output.format")
	return task
}

// Bound 范围
func (task *PrefetchTask) Bound() orb.Bound {
	bound := orb.Bound{}
	for _, g := range task.Collection {
		bound = bound.Union(g.Bound())
	}
	return bound
}

// MetaItems assembles the mbtiles metadata table contents.
func (task *PrefetchTask) MetaItems() map[string]string {
	b := task.Bound()
	c := b.Center()
	return map[string]string{
		"id":          task.ID,
		"name":        task.Name,
		"description": fmt.Sprintf("terrain tile prefetch of %s", task.Name),
		"basename":    task.Source.Name,
		"format":      task.Source.Format,
		"type":        "baselayer",
		"pixel_scale": strconv.Itoa(TileSize),
		"version":     MBTileVersion,
		"bounds":      fmt.Sprintf(`%f,%f,%f,%f`, b.Left(), b.Bottom(), b.Right(), b.Top()),
		"center":      fmt.Sprintf(`%f,%f,%d`, c.X(), c.Y(), (task.Min+task.Max)/2),
		"minzoom":     strconv.Itoa(task.Min),
		"maxzoom":     strconv.Itoa(task.Max),
	}
}

// Abort 取消任务
func (task *PrefetchTask) Abort() {
	task.cancel()
	close(task.abort)
}

// savePipe 保存瓦片管道
func (task *PrefetchTask) savePipe() {
	defer close(task.savedone)
	for tile := range task.savingpipe {
		if err := task.store.SaveTile(tile.T, tile.C); err != nil {
			log.Errorf("save %v tile to mbtiles db error ~ %s", tile.T, err)
		}
	}
}

// tileFetcher 瓦片加载器
func (task *PrefetchTask) tileFetcher(t maptile.Tile) {
	defer task.wg.Done()
	defer func() {
		<-task.workers
	}()
	start := time.Now()
	body, err := task.Source.FetchRaw(task.ctx, t)
	if err != nil {
		log.Errorf("fetch tile %v error ~ %s", t, err)
		return
	}
	if body == nil {
		log.Warnf("nil tile %v ~", t)
		return
	}
	if task.Source.Format == PBF {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			log.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			log.Fatal(err)
		}
		body = buf.Bytes()
	}
	tile := savedTile{T: t, C: body}
	if task.outformat == "mbtiles" {
		task.savingpipe <- tile
	} else {
		if err := saveToFiles(t, body, filepath.Base(task.File), task.Source.Format); err != nil {
			log.Errorf("create %v tile file error ~ %s", t, err)
		}
	}
	secs := time.Since(start).Seconds()
	log.Debugf("tile %v, %.3fs, %.2f kb", t, secs, float32(len(body))/1024.0)
}

// downloadZoom 下载指定层级
func (task *PrefetchTask) downloadZoom(zoom int) {
	bar := pb.New64(tilecover.CollectionCount(task.Collection, maptile.Zoom(zoom))).
		Prefix(fmt.Sprintf("Zoom %d : ", zoom))
	bar.Start()

	tilelist := make(chan maptile.Tile, task.bufSize)
	go tilecover.CollectionChannel(task.Collection, maptile.Zoom(zoom), tilelist)

	for tile := range tilelist {
		select {
		case task.workers <- tile:
			bar.Increment()
			task.Bar.Increment()
			task.wg.Add(1)
			go task.tileFetcher(tile)
		case <-task.abort:
			log.Infof("task %s got canceled.", task.ID)
			close(tilelist)
		}
	}
	task.wg.Wait()
	bar.FinishPrint(fmt.Sprintf("task %s zoom %d finished ~", task.ID, zoom))
}

// Download 开启下载任务
func (task *PrefetchTask) Download() error {
	task.Bar = pb.New64(task.Total).Prefix("Task : ")
	task.Bar.Start()
	if task.outformat == "mbtiles" {
		if task.File == "" {
			outdir := viper.GetString("output.directory")
			task.File = filepath.Join(outdir, task.ID+"."+task.Name+".mbtiles")
		}
		store, err := createMBTiles(task.File, task.MetaItems())
		if err != nil {
			return err
		}
		task.store = store
		defer task.store.Close()
		go task.savePipe()
	}
	for z := task.Min; z <= task.Max; z++ {
		task.downloadZoom(z)
	}
	task.wg.Wait()
	close(task.savingpipe)
	if task.store != nil {
		<-task.savedone
	}
	task.Bar.FinishPrint(fmt.Sprintf("task %s finished ~", task.ID))
	return nil
}
