package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smc"

// Recorder collects engine and service metrics in Prometheus.
type Recorder struct {
	barsIngested    *prometheus.CounterVec
	zoneEvents      *prometheus.CounterVec
	structureShifts *prometheus.CounterVec
	signals         *prometheus.CounterVec
	dataQuality     *prometheus.CounterVec
	orderErrors     *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec
	activeZones     *prometheus.GaugeVec
	tradableZones   *prometheus.GaugeVec
	lastClose       *prometheus.GaugeVec
	ingestLatency   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates a recorder registered on reg. Passing nil uses a fresh
// registry, which keeps tests independent of the global one.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	labels := []string{"symbol", "timeframe"}

	return &Recorder{
		barsIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bars_ingested_total",
				Help:      "Total number of bars ingested per instrument",
			},
			labels,
		),
		zoneEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "zone_events_total",
				Help:      "Zone lifecycle transitions by kind",
			},
			append(labels, "kind"),
		),
		structureShifts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "structure_shifts_total",
				Help:      "Structure shifts by direction",
			},
			append(labels, "direction"),
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signals emitted by policy and side",
			},
			append(labels, "policy", "side"),
		),
		dataQuality: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_quality_warnings_total",
				Help:      "Bars skipped because of non-finite prices",
			},
			labels,
		),
		orderErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_order_errors_total",
				Help:      "Bars rejected for non-increasing timestamps",
			},
			labels,
		),
		sinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_errors_total",
				Help:      "Failures writing snapshots or events to downstream sinks",
			},
			[]string{"sink"},
		),
		activeZones: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_zones",
				Help:      "Zones currently in the active state",
			},
			labels,
		),
		tradableZones: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tradable_zones",
				Help:      "Inverted zones not yet traded",
			},
			labels,
		),
		lastClose: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_close",
				Help:      "Close of the most recent bar",
			},
			labels,
		),
		ingestLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Time spent processing one bar including policies",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			labels,
		),
		gatherer: reg,
	}
}

// RecordBar records one processed bar and the registry sizes after it.
func (r *Recorder) RecordBar(symbol, timeframe string, price float64, active, tradable int, took time.Duration) {
	r.barsIngested.WithLabelValues(symbol, timeframe).Inc()
	r.lastClose.WithLabelValues(symbol, timeframe).Set(price)
	r.activeZones.WithLabelValues(symbol, timeframe).Set(float64(active))
	r.tradableZones.WithLabelValues(symbol, timeframe).Set(float64(tradable))
	r.ingestLatency.WithLabelValues(symbol, timeframe).Observe(took.Seconds())
}

// RecordZoneEvent records a zone transition.
func (r *Recorder) RecordZoneEvent(symbol, timeframe, kind string) {
	r.zoneEvents.WithLabelValues(symbol, timeframe, kind).Inc()
}

// RecordShift records a structure shift.
func (r *Recorder) RecordShift(symbol, timeframe, direction string) {
	r.structureShifts.WithLabelValues(symbol, timeframe, direction).Inc()
}

// RecordSignal records a policy signal.
func (r *Recorder) RecordSignal(symbol, timeframe, policy, side string) {
	r.signals.WithLabelValues(symbol, timeframe, policy, side).Inc()
}

// RecordDataQuality records a skipped bar.
func (r *Recorder) RecordDataQuality(symbol, timeframe string) {
	r.dataQuality.WithLabelValues(symbol, timeframe).Inc()
}

// RecordOrderError records a rejected out-of-order bar.
func (r *Recorder) RecordOrderError(symbol, timeframe string) {
	r.orderErrors.WithLabelValues(symbol, timeframe).Inc()
}

// RecordSinkError records a failed cache or journal write.
func (r *Recorder) RecordSinkError(sink string) {
	r.sinkErrors.WithLabelValues(sink).Inc()
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
