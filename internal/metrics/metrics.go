package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pancake_events_processed_total", Help: "Events handled by kind"},
		[]string{"event"},
	)
	EventsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pancake_events_skipped_total", Help: "Events whose aggregate update was skipped"},
		[]string{"event", "reason"},
	)
	TokenReadFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pancake_token_read_fallbacks_total", Help: "Token metadata reads answered by a fallback value"},
		[]string{"field"},
	)
	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "pancake_handler_duration_seconds", Help: "Handler duration", Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}},
		[]string{"event"},
	)
	SyncErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "pancake_sync_errors_total", Help: "Failed sync iterations"},
	)
	LastBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "pancake_last_block", Help: "Last fully processed block height"},
	)
	SummaryCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pancake_events_summary", Help: "EventsSummary counters as last reported"},
		[]string{"counter"},
	)
	EntityRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "pancake_entity_records", Help: "Stored records per collection"},
		[]string{"collection"},
	)

	lastBlock uint64
)

func MustRegister() {
	prometheus.MustRegister(
		EventsProcessedTotal,
		EventsSkippedTotal,
		TokenReadFallbacksTotal,
		HandlerDuration,
		SyncErrorsTotal,
		LastBlock,
		SummaryCount,
		EntityRecords,
	)
}

func IncProcessed(event string)       { EventsProcessedTotal.WithLabelValues(event).Inc() }
func IncSkipped(event, reason string) { EventsSkippedTotal.WithLabelValues(event, reason).Inc() }
func IncTokenFallback(field string)   { TokenReadFallbacksTotal.WithLabelValues(field).Inc() }
func IncSyncError()                   { SyncErrorsTotal.Inc() }

func ObserveHandler(event string, seconds float64) {
	HandlerDuration.WithLabelValues(event).Observe(seconds)
}

func SetSummary(counter string, value float64) { SummaryCount.WithLabelValues(counter).Set(value) }
func SetEntityRecords(collection string, n int64) {
	EntityRecords.WithLabelValues(collection).Set(float64(n))
}

func SetLastBlock(height uint64) {
	atomic.StoreUint64(&lastBlock, height)
	LastBlock.Set(float64(height))
}

// GetLastBlock returns the height last passed to SetLastBlock.
func GetLastBlock() uint64 {
	return atomic.LoadUint64(&lastBlock)
}
