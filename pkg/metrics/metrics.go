package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ico_orders_created_total",
		Help: "Orders accepted by the create endpoint",
	})

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ico_order_transitions_total",
			Help: "Order status transitions applied",
		},
		[]string{"to"},
	)

	WatcherAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ico_payment_watcher_attempts_total",
			Help: "Payment watcher polling attempts by outcome",
		},
		[]string{"outcome"},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ico_payouts_total",
			Help: "Payout dispatch results",
		},
		[]string{"result"},
	)

	PayoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ico_payout_duration_seconds",
		Help:    "Time from dequeue to confirmed payout",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	ReferralRewardsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ico_referral_rewards_created_total",
			Help: "Referral rewards posted by level",
		},
		[]string{"level"},
	)

	SettlementQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ico_settlement_queue_depth",
		Help: "Orders waiting for a settlement worker",
	})

	DatabaseConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ico_database_connections",
			Help: "Database pool connections by state",
		},
		[]string{"state"},
	)
)
