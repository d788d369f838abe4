package notifier

import (
	"time"
)

// AlertReason indicates why an alert was triggered.
type AlertReason string

const (
	AlertReasonVIPActivity   AlertReason = "vip_activity"   // Watched VIP did anything at all
	AlertReasonLargeTrade    AlertReason = "large_trade"    // Trade crossed the notional threshold
	AlertReasonUnusualSize   AlertReason = "unusual_size"   // Trade dwarfs the wallet's own baseline
	AlertReasonLargeDeposit  AlertReason = "large_deposit"  // Deposit crossed the notional threshold
	AlertReasonClusterFormed AlertReason = "cluster_formed" // Coordinated trading pattern detected
)

// TradeAlert contains all the data needed for a trade alert notification.
type TradeAlert struct {
	// Wallet info
	Address string
	VIP     bool

	// Trade info
	Token       string
	Direction   string // LONG or SHORT
	Action      string // OPEN or CLOSE
	Size        float64
	Price       float64
	NotionalUsd float64

	// Context
	ThresholdUsd    float64 // Threshold in effect when the alert fired
	WalletMedianUsd float64 // Wallet's trailing median notional, 0 if unknown
	PositionAfter   float64 // Signed position in the token after this trade

	// Alert metadata
	Reasons    []AlertReason
	ExternalID string
	Timestamp  time.Time
}

// TransferAlert contains the data for a deposit/withdrawal alert.
type TransferAlert struct {
	Address   string
	VIP       bool
	Kind      string // DEPOSIT or WITHDRAWAL
	Asset     string
	AmountUsd float64

	Reasons    []AlertReason
	ExternalID string
	Timestamp  time.Time
}

// ClusterMember summarizes one wallet's share of a fired cluster.
type ClusterMember struct {
	Address     string
	TradeCount  int
	NotionalUsd float64
	AgeDays     int  // -1 if unknown
	Promoted    bool // true if this firing promoted the wallet to VIP
}

// ScoreBreakdown carries the per-factor suspicion sub-scores.
type ScoreBreakdown struct {
	Timing         int
	Notional       int
	WalletCount    int
	WalletAge      int
	Alignment      int
	SizeClustering int
	CrossToken     int
	Precision      int
	Total          int
}

// ClusterAlert contains the data for a coordinated-cluster alert.
type ClusterAlert struct {
	ClusterID        string
	Token            string
	Direction        string
	Members          []ClusterMember
	TradeCount       int
	TotalNotionalUsd float64
	WindowStart      time.Time
	WindowEnd        time.Time
	Alignment        float64
	Score            ScoreBreakdown

	Timestamp time.Time
}

// SummaryReport carries the periodic service status report.
type SummaryReport struct {
	Startup          bool // true for the boot notification
	StartedAt        time.Time
	Uptime           time.Duration
	WatchedAddresses int
	VIPAddresses     int
	Scans            int64
	APISuccesses     int64
	APIFailures      int64
	AlertsSent       int64
	ClustersDetected int64
	WalletsPromoted  int64
	SourceHealthy    bool
}

// Notifier is the interface for sending alerts to various channels.
type Notifier interface {
	// SendTradeAlert sends a single-wallet trade alert.
	SendTradeAlert(alert TradeAlert)

	// SendTransferAlert sends a deposit/withdrawal alert.
	SendTransferAlert(alert TransferAlert)

	// SendClusterAlert sends a coordinated-cluster alert.
	SendClusterAlert(alert ClusterAlert)

	// SendSummary sends a periodic status report.
	SendSummary(report SummaryReport)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendTradeAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendTradeAlert(alert TradeAlert) {
	for _, n := range m.notifiers {
		n.SendTradeAlert(alert)
	}
}

// SendTransferAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendTransferAlert(alert TransferAlert) {
	for _, n := range m.notifiers {
		n.SendTransferAlert(alert)
	}
}

// SendClusterAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendClusterAlert(alert ClusterAlert) {
	for _, n := range m.notifiers {
		n.SendClusterAlert(alert)
	}
}

// SendSummary sends the report to all registered notifiers.
func (m *MultiNotifier) SendSummary(report SummaryReport) {
	for _, n := range m.notifiers {
		n.SendSummary(report)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
