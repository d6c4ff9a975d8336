// Package telemetry holds the Prometheus metrics and the ops HTTP server.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	IngestOutcomes    *prometheus.CounterVec // outcome
	SummaryDeliveries *prometheus.CounterVec // window, result
	CommandsHandled   *prometheus.CounterVec // command, result
	StoreErrors       *prometheus.CounterVec // op

	BackfillRuns     prometheus.Counter
	BackfillInserted prometheus.Counter
	EventsDropped    prometheus.Counter
	NotifierDropped  prometheus.Counter

	StoreOpDuration *prometheus.HistogramVec // op
)

// Init registers metrics with the default registry (idempotent).
func Init() {
	once.Do(func() {
		IngestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "exectracker_ingest_outcomes_total", Help: "Embed payloads processed, by outcome"}, []string{"outcome"})
		SummaryDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "exectracker_summary_deliveries_total", Help: "Scheduled summaries, by window and result"}, []string{"window", "result"})
		CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "exectracker_commands_total", Help: "Chat commands handled, by command and result"}, []string{"command", "result"})
		StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "exectracker_store_errors_total", Help: "Store operations that returned an error"}, []string{"op"})
		BackfillRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "exectracker_backfill_runs_total", Help: "History imports started"})
		BackfillInserted = promauto.NewCounter(prometheus.CounterOpts{Name: "exectracker_backfill_inserted_total", Help: "Executions inserted by history imports"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "exectracker_gateway_events_dropped_total", Help: "Gateway messages dropped because the event queue was full"})
		NotifierDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "exectracker_notifier_dropped_total", Help: "Log channel notifications dropped"})
		StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "exectracker_store_op_duration_seconds", Help: "Store operation latency", Buckets: prometheus.DefBuckets}, []string{"op"})
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// IncIngest counts one ingestion outcome.
func IncIngest(outcome string) {
	if IngestOutcomes != nil {
		IngestOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncSummary counts one scheduled summary delivery attempt.
func IncSummary(window string, err error) {
	if SummaryDeliveries != nil {
		SummaryDeliveries.WithLabelValues(window, result(err)).Inc()
	}
}

func IncCommand(command string, err error) {
	if CommandsHandled != nil {
		CommandsHandled.WithLabelValues(command, result(err)).Inc()
	}
}

// AddBackfill records one finished history import.
func AddBackfill(inserted int) {
	if BackfillRuns != nil {
		BackfillRuns.Inc()
		BackfillInserted.Add(float64(inserted))
	}
}

func IncEventsDropped() {
	if EventsDropped != nil {
		EventsDropped.Inc()
	}
}

func IncNotifierDropped() {
	if NotifierDropped != nil {
		NotifierDropped.Inc()
	}
}

func observeStore(op string, start time.Time, err error) {
	if StoreOpDuration == nil {
		return
	}
	StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(op).Inc()
	}
}
