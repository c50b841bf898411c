package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"fvgbot/internal/domain"
)

// Recorder implements ports.Metrics using Prometheus.
type Recorder struct {
	gapsDetected    *prometheus.CounterVec
	gapsArchived    *prometheus.CounterVec
	confluences     *prometheus.CounterVec
	intentsRejected *prometheus.CounterVec
	ordersSubmitted *prometheus.CounterVec
	ordersResolved  *prometheus.CounterVec
	activeGaps      *prometheus.GaugeVec
	liveOrders      prometheus.Gauge
	pollDuration    prometheus.Histogram
}

// New creates a Prometheus metrics recorder registered on the default
// registry.
func New() *Recorder {
	return &Recorder{
		gapsDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fvgbot_gaps_detected_total",
				Help: "Total number of fair value gaps detected",
			},
			[]string{"symbol", "timeframe", "kind"},
		),
		gapsArchived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fvgbot_gaps_archived_total",
				Help: "Total number of gaps archived by final status",
			},
			[]string{"symbol", "timeframe", "status"},
		),
		confluences: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fvgbot_confluences_found_total",
				Help: "Total number of cross-timeframe confluences above threshold",
			},
			[]string{"symbol"},
		),
		intentsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fvgbot_intents_rejected_total",
				Help: "Total number of order intents rejected before submission",
			},
			[]string{"symbol", "reason"},
		),
		ordersSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fvgbot_orders_submitted_total",
				Help: "Total number of orders submitted to the broker",
			},
			[]string{"symbol"},
		),
		ordersResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fvgbot_orders_resolved_total",
				Help: "Total number of orders resolved by terminal state",
			},
			[]string{"symbol", "state"},
		),
		activeGaps: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fvgbot_active_gaps",
				Help: "Active gaps currently tracked per stream",
			},
			[]string{"symbol", "timeframe"},
		),
		liveOrders: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "fvgbot_live_orders",
				Help: "Live orders currently monitored",
			},
		),
		pollDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fvgbot_poll_duration_seconds",
				Help:    "Duration of broker poll cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (r *Recorder) GapDetected(symbol string, tf domain.Timeframe, kind domain.GapKind) {
	r.gapsDetected.WithLabelValues(symbol, string(tf), string(kind)).Inc()
}

func (r *Recorder) GapArchived(symbol string, tf domain.Timeframe, status domain.GapStatus) {
	r.gapsArchived.WithLabelValues(symbol, string(tf), string(status)).Inc()
}

func (r *Recorder) ConfluenceFound(symbol string) {
	r.confluences.WithLabelValues(symbol).Inc()
}

func (r *Recorder) IntentRejected(symbol, reason string) {
	r.intentsRejected.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) OrderSubmitted(symbol string) {
	r.ordersSubmitted.WithLabelValues(symbol).Inc()
}

func (r *Recorder) OrderFilled(symbol string) {
	r.ordersResolved.WithLabelValues(symbol, string(domain.OrderFilled)).Inc()
}

func (r *Recorder) OrderExpired(symbol string) {
	r.ordersResolved.WithLabelValues(symbol, string(domain.OrderExpired)).Inc()
}

func (r *Recorder) OrderUnknown(symbol string) {
	r.ordersResolved.WithLabelValues(symbol, string(domain.OrderUnknown)).Inc()
}

func (r *Recorder) SetActiveGaps(symbol string, tf domain.Timeframe, count int) {
	r.activeGaps.WithLabelValues(symbol, string(tf)).Set(float64(count))
}

func (r *Recorder) SetLiveOrders(count int) {
	r.liveOrders.Set(float64(count))
}

func (r *Recorder) ObservePollDuration(seconds float64) {
	r.pollDuration.Observe(seconds)
}
