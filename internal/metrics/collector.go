// Package metrics exposes Prometheus collectors for the scheduler.
//
// All record methods are safe to call on a nil *Collector, so components can
// take an optional collector without nil checks.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns a private registry so several collectors can coexist in one
// process (tests, multiple servers).
type Collector struct {
	registry *prometheus.Registry

	roundsTotal        *prometheus.CounterVec
	bidsTotal          *prometheus.CounterVec
	bidAmount          prometheus.Histogram
	generationsTotal   *prometheus.CounterVec
	generationDuration prometheus.Histogram
	creditsRemaining   *prometheus.GaugeVec
	ledgerAppends      prometheus.Counter
	malformedLines     prometheus.Counter
	streamSubscribers  prometheus.Gauge
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers every collector under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.roundsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Auction rounds by outcome",
		},
		[]string{"outcome"},
	)

	c.bidsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bids collected by the scorer that produced them",
		},
		[]string{"source"}, // primary, fallback, none, exhausted
	)

	c.bidAmount = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bid_amount_credits",
			Help:      "Credits offered per bid",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Turn generations by status",
		},
		[]string{"status"},
	)

	c.generationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating one turn",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.creditsRemaining = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credits_remaining",
			Help:      "Remaining credits per participant in the active run",
		},
		[]string{"participant"},
	)

	c.ledgerAppends = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Entries appended to the history ledger",
		},
	)

	c.malformedLines = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_malformed_lines_total",
			Help:      "Ledger lines skipped because they could not be decoded",
		},
	)

	c.streamSubscribers = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Observers currently attached to the live event hub",
		},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRound counts a round outcome ("granted" or "no_viable_bid").
func (c *Collector) RecordRound(outcome string) {
	if c == nil {
		return
	}
	c.roundsTotal.WithLabelValues(outcome).Inc()
}

// RecordBid counts one bid and its amount.
func (c *Collector) RecordBid(source string, amount int) {
	if c == nil {
		return
	}
	c.bidsTotal.WithLabelValues(source).Inc()
	c.bidAmount.Observe(float64(amount))
}

// RecordGeneration counts one generated turn.
func (c *Collector) RecordGeneration(ok bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	c.generationsTotal.WithLabelValues(status).Inc()
	c.generationDuration.Observe(duration.Seconds())
}

// SetCredits publishes the balances of a credit pool snapshot.
func (c *Collector) SetCredits(credits map[string]int) {
	if c == nil {
		return
	}
	for id, n := range credits {
		c.creditsRemaining.WithLabelValues(id).Set(float64(n))
	}
}

func (c *Collector) RecordAppend() {
	if c == nil {
		return
	}
	c.ledgerAppends.Inc()
}

func (c *Collector) RecordMalformedLine() {
	if c == nil {
		return
	}
	c.malformedLines.Inc()
}

// SubscriberAdded and SubscriberRemoved track live observers.
func (c *Collector) SubscriberAdded() {
	if c == nil {
		return
	}
	c.streamSubscribers.Inc()
}

func (c *Collector) SubscriberRemoved() {
	if c == nil {
		return
	}
	c.streamSubscribers.Dec()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
