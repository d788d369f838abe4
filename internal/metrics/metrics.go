package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts normalized events by kind ("fill", "ledger", "market").
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalewatch_events_processed_total",
		Help: "Normalized events processed, by event kind.",
	}, []string{"kind"})

	// AlertsSent counts delivered alerts by reason.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalewatch_alerts_sent_total",
		Help: "Alerts handed to the notifier, by reason.",
	}, []string{"reason"})

	// AlertDeliveryFailures counts notifier errors. Alerts are dropped, not retried.
	AlertDeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_alert_delivery_failures_total",
		Help: "Alerts that failed to deliver to at least one sink.",
	})

	// ClustersDetected counts clusters that passed the score gate.
	ClustersDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_clusters_detected_total",
		Help: "Coordinated clusters that fired an alert.",
	})

	// WalletsPromoted counts cluster-driven VIP promotions.
	WalletsPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_wallets_promoted_total",
		Help: "Wallets promoted to VIP by cluster detection.",
	})

	// APIErrors counts upstream request failures by endpoint.
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whalewatch_api_errors_total",
		Help: "Upstream API request failures, by endpoint.",
	}, []string{"endpoint"})

	// ClassificationSkips counts events dropped because they could not be classified.
	ClassificationSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_classification_skips_total",
		Help: "Raw events skipped due to unrecognized side or direction.",
	})

	// PollDuration observes one address tick end to end.
	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whalewatch_poll_duration_seconds",
		Help:    "Duration of a single address poll.",
		Buckets: prometheus.DefBuckets,
	})

	// WatchedAddresses tracks the current watchlist size by role.
	WatchedAddresses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whalewatch_watched_addresses",
		Help: "Addresses on the watchlist, by role.",
	}, []string{"role"})

	// MarketTradesSeen counts trades received on the market stream.
	MarketTradesSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whalewatch_market_trades_seen_total",
		Help: "Trades observed on the market-wide websocket stream.",
	})
)
