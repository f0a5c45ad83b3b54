// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the settler.
type Metrics struct {
	// Order book metrics
	OrdersAdmitted  prometheus.Counter
	OrdersRejected  *prometheus.CounterVec
	OrdersCancelled prometheus.Counter
	OrdersExpired   prometheus.Counter

	// Auction metrics
	AuctionsBuilt prometheus.Counter
	AuctionOrders prometheus.Histogram

	// Competition metrics
	RoundsTotal        *prometheus.CounterVec
	RoundDuration      prometheus.Histogram
	CandidatesProduced *prometheus.CounterVec
	WinnerSurplus      prometheus.Gauge

	// Submission metrics
	SubmissionsTotal  *prometheus.CounterVec
	SubmissionRetries prometheus.Counter
	GasPriceGwei      prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "batch_settler"
	}

	return &Metrics{
		// Order book metrics
		OrdersAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "orders_admitted_total",
			Help:      "Total number of orders admitted to the book",
		}),
		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "orders_rejected_total",
			Help:      "Total number of rejected order submissions by reason",
		}, []string{"reason"}),
		OrdersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "orders_cancelled_total",
			Help:      "Total number of orders cancelled by their owner",
		}),
		OrdersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orderbook",
			Name:      "orders_expired_total",
			Help:      "Total number of orders closed by the expiry sweep",
		}),

		// Auction metrics
		AuctionsBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "auctions_built_total",
			Help:      "Total number of auction snapshots built",
		}),
		AuctionOrders: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auction",
			Name:      "orders_per_auction",
			Help:      "Number of eligible orders per auction",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		// Competition metrics
		RoundsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "competition",
			Name:      "rounds_total",
			Help:      "Total number of solving rounds by outcome",
		}, []string{"outcome"}),
		RoundDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "competition",
			Name:      "round_duration_seconds",
			Help:      "Solving round duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		}),
		CandidatesProduced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "competition",
			Name:      "candidates_produced_total",
			Help:      "Total number of candidate settlements by strategy",
		}, []string{"strategy"}),
		WinnerSurplus: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "competition",
			Name:      "winner_surplus",
			Help:      "Normalized surplus of the most recent winning settlement",
		}),

		// Submission metrics
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "submissions_total",
			Help:      "Total number of submissions by terminal state",
		}, []string{"state"}),
		SubmissionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "retries_total",
			Help:      "Total number of gas-escalated resubmissions",
		}),
		GasPriceGwei: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "gas_price_gwei",
			Help:      "Gas price of the most recent submission attempt in gwei",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
