package terratile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All collectors here are process-global. The gauges report the most
// recent writer, so they assume one live map per process; hosts running
// several maps at once should register their own labeled collectors.
var (
	tilesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terratile_tiles_fetched_total",
		Help: "The total number of tile textures fetched successfully.",
	})

	tileFetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terratile_tile_fetch_failures_total",
		Help: "The total number of tile fetches that failed for reasons other than cancellation.",
	})

	tileFetchCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terratile_tile_fetch_cancelled_total",
		Help: "The total number of tile fetches discarded due to cancellation.",
	})

	pendingTileLoads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terratile_pending_tile_loads",
		Help: "The number of tile loads currently in flight.",
	})

	cachedTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terratile_cached_tiles",
		Help: "The number of tiles resident in the cache.",
	})
)

func instrumentTileFetched() {
	tilesFetchedTotal.Inc()
}

func instrumentTileFetchFailed() {
	tileFetchFailuresTotal.Inc()
}

func instrumentTileFetchCancelled() {
	tileFetchCancelledTotal.Inc()
}

func instrumentPendingLoads(n int) {
	pendingTileLoads.Set(float64(n))
}

func instrumentCacheSize(n int) {
	cachedTiles.Set(float64(n))
}
