// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolen/driftwatch/internal/window"
)

// Metrics holds the Prometheus instruments of the ingest pipeline.
type Metrics struct {
	ReadingsIngested  *prometheus.CounterVec // accepted readings by sensor_type
	AnomaliesDetected *prometheus.CounterVec // anomaly verdicts by severity
	ScoringDuration   prometheus.Histogram   // detector evaluation latency
	QueueDepth        prometheus.Gauge       // readings queued for scoring
	ScoringDropped    prometheus.Counter     // scoring jobs dropped on overflow
	PublishFailures   *prometheus.CounterVec // failed publishes by stream
}

// NewMetrics creates and registers the pipeline metrics. The registerer
// parameter allows flexible registration (global registry, test registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	readingsIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftwatch_readings_ingested_total",
		Help: "Total number of readings accepted for ingestion",
	}, []string{"sensor_type"})

	anomaliesDetected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftwatch_anomalies_detected_total",
		Help: "Total number of readings scored as anomalous",
	}, []string{"severity"})

	scoringDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "driftwatch_scoring_duration_seconds",
		Help:    "Time spent producing an anomaly verdict for one reading",
		Buckets: prometheus.DefBuckets,
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "driftwatch_scoring_queue_depth",
		Help: "Current number of readings waiting to be scored",
	})

	scoringDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driftwatch_scoring_dropped_total",
		Help: "Total number of scoring jobs dropped because the queue was full",
	})

	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "driftwatch_publish_failures_total",
		Help: "Total number of failed event publishes",
	}, []string{"stream"})

	reg.MustRegister(readingsIngested)
	reg.MustRegister(anomaliesDetected)
	reg.MustRegister(scoringDuration)
	reg.MustRegister(queueDepth)
	reg.MustRegister(scoringDropped)
	reg.MustRegister(publishFailures)

	return &Metrics{
		ReadingsIngested:  readingsIngested,
		AnomaliesDetected: anomaliesDetected,
		ScoringDuration:   scoringDuration,
		QueueDepth:        queueDepth,
		ScoringDropped:    scoringDropped,
		PublishFailures:   publishFailures,
	}
}

// RegisterWindowStats exposes the window cache counters. The stats
// function is polled at scrape time.
func RegisterWindowStats(reg prometheus.Registerer, stats func() window.Stats) {
	counters := []struct {
		name string
		help string
		get  func(window.Stats) uint64
	}{
		{
			name: "driftwatch_window_buffer_hits_total",
			help: "Window lookups served from the in-memory buffer",
			get:  func(s window.Stats) uint64 { return s.BufferHits },
		},
		{
			name: "driftwatch_window_cache_hits_total",
			help: "Window lookups served from the cache store",
			get:  func(s window.Stats) uint64 { return s.CacheHits },
		},
		{
			name: "driftwatch_window_cache_misses_total",
			help: "Window lookups that missed the cache store",
			get:  func(s window.Stats) uint64 { return s.CacheMisses },
		},
		{
			name: "driftwatch_window_store_loads_total",
			help: "Window hydrations served by the durable store",
			get:  func(s window.Stats) uint64 { return s.StoreLoads },
		},
		{
			name: "driftwatch_window_store_errors_total",
			help: "Window hydrations that failed against the durable store",
			get:  func(s window.Stats) uint64 { return s.StoreErrors },
		},
	}
	for _, c := range counters {
		get := c.get
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: c.name,
			Help: c.help,
		}, func() float64 {
			return float64(get(stats()))
		}))
	}
}
