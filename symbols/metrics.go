package symbols

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sharedGroupHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "symbols",
		Name:      "shared_group_hits_total",
		Help:      "Shared groups reused from the cache without loading.",
	})
	sharedGroupWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "symbols",
		Name:      "shared_group_waits_total",
		Help:      "Shared groups awaited while another tile was loading them.",
	})
	sharedGroupLoads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "symbols",
		Name:      "shared_group_loads_total",
		Help:      "Shared groups loaded from a provider and published.",
	})
	symbolUploads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "symbols",
		Name:      "uploads_total",
		Help:      "Symbols uploaded to GPU.",
	})
	uploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "symbols",
		Name:      "upload_failures_total",
		Help:      "Tile uploads rolled back because a symbol failed.",
	})
	gpuBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "symbols",
		Name:      "gpu_bytes",
		Help:      "Bytes held by textures of the memory backend.",
	})
)
