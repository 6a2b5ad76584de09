package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wash_hup"

var (
	OffersSent     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Offers sent from clients to washers"})
	PriceProposals = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "price_proposals_total", Help: "Prices proposed by washers"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_accepted_total", Help: "Offers accepted by washers"})
	WashesCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "washes_created_total", Help: "Wash requests created"})
	WashersOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "washers_available", Help: "Washers toggled available by this process"})

	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "verifications_total", Help: "On-site code verifications by result"},
		[]string{"result"},
	)
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settlements_total", Help: "Settlement attempts by result"},
		[]string{"result"},
	)
	DuplicateWebhooks = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "webhook_duplicates_total", Help: "Gateway webhooks dropped as duplicates"})
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "settlement_latency_seconds", Help: "Settlement transaction latency seconds"})

	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections", Help: "Live websocket connections by role"},
		[]string{"role"},
	)
	BrokerRelayed   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broker_relayed_total", Help: "Broker messages forwarded to local sockets"})
	SendFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ws_send_failures_total", Help: "Local socket sends that failed"})
	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "outbox_published_total", Help: "Notifications published from the outbox"})
	OutboxFailed    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "outbox_failed_total", Help: "Notification publish attempts that failed"})
	DeadLettered    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "settlements_dead_lettered_total", Help: "Settlement events routed to the dead-letter topic"})
	PaymentsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "payments_expired_total", Help: "Pending payments marked failed by the sweeper"})

	AmountMismatches = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "settlement_amount_mismatch_total", Help: "Settled charges whose gross differs from the payment amount"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
