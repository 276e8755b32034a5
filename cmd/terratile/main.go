package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// flag
var (
	hf bool
	cf string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.Usage = usage
	//InitLog 初始化日志
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.DebugLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `terratile version: terratile/v0.1.0
Usage: terratile [-h] [-c filename]
`)
	flag.PrintDefaults()
}

// initConf 初始化配置
func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	viper.SetDefault("app.version", "v 0.1.0")
	viper.SetDefault("app.title", "Terratile Prefetch")
	viper.SetDefault("output.format", "mbtiles")
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.savepipe", 1)
	viper.SetDefault("task.mergebuf", 16)
	viper.SetDefault("tm.name", "terrain")
	viper.SetDefault("tm.format", "png")
	viper.SetDefault("tm.min", 0)
	viper.SetDefault("tm.max", 10)
	viper.SetDefault("region.column", "geom")
}

// loadRegion resolves the coverage region from config: a geojson file or
// a spatialite table.
func loadRegion() orb.Collection {
	if path := viper.GetString("region.geojson"); path != "" {
		c, err := loadCollection(path)
		if err != nil {
			log.Fatal(err)
		}
		return c
	}
	if path := viper.GetString("region.spatialite"); path != "" {
		c, err := loadCollectionSpatialite(path, viper.GetString("region.table"), viper.GetString("region.column"))
		if err != nil {
			log.Fatal(err)
		}
		return c
	}
	log.Fatal("no region configured: set region.geojson or region.spatialite")
	return nil
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	if cf == "" {
		cf = "conf.toml"
	}
	initConf(cf)

	source := NewTileSource(
		viper.GetString("tm.name"),
		viper.GetString("tm.url"),
		viper.GetString("tm.format"),
		viper.GetInt("tm.min"),
		viper.GetInt("tm.max"),
	)
	if source.URL == "" {
		log.Fatal("tm.url not configured")
	}

	collection := loadRegion()
	task := NewPrefetchTask(collection, source)
	if task == nil {
		log.Fatal("empty coverage region")
	}

	start := time.Now()
	if err := task.Download(); err != nil {
		log.Fatal(err)
	}
	log.Printf("%.3fs finished...", time.Since(start).Seconds())
}
