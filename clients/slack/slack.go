package slack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"

	"go.uber.org/zap"
)

// SlackClient sends alerts to a Slack incoming webhook.
// Implements notifier.Notifier interface.
type SlackClient struct {
	logger     *zap.Logger
	webhookURL string
	isProd     bool
	client     *http.Client
}

func NewSlackClient(logger *zap.Logger, cfg *config.Config) *SlackClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	url := cfg.Slack.WebhookURL
	if url == "" {
		logger.Warn("SLACK_WEBHOOK_URL not set, Slack alerts disabled")
		return &SlackClient{
			logger: logger,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("slack webhook initialized", zap.Bool("isProd", cfg.IsProd))

	return &SlackClient{
		logger:     logger,
		webhookURL: url,
		isProd:     cfg.IsProd,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SendTradeAlert sends a single-wallet trade alert.
// Implements notifier.Notifier interface.
func (sc *SlackClient) SendTradeAlert(alert notifier.TradeAlert) {
	if sc.webhookURL == "" {
		sc.logger.Warn("slack not configured, skipping alert")
		return
	}

	if err := sc.post(sc.buildTradeMessage(alert)); err != nil {
		sc.logger.Error("failed to send slack message", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	sc.logger.Info("sent slack trade alert",
		zap.String("address", shortAddress(alert.Address)),
		zap.String("token", alert.Token),
		zap.Float64("notionalUsd", alert.NotionalUsd),
	)
}

// SendTransferAlert sends a deposit/withdrawal alert.
func (sc *SlackClient) SendTransferAlert(alert notifier.TransferAlert) {
	if sc.webhookURL == "" {
		sc.logger.Warn("slack not configured, skipping alert")
		return
	}

	if err := sc.post(sc.buildTransferMessage(alert)); err != nil {
		sc.logger.Error("failed to send slack message", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	sc.logger.Info("sent slack transfer alert",
		zap.String("address", shortAddress(alert.Address)),
		zap.String("kind", alert.Kind),
	)
}

// SendClusterAlert sends a coordinated-cluster alert.
func (sc *SlackClient) SendClusterAlert(alert notifier.ClusterAlert) {
	if sc.webhookURL == "" {
		sc.logger.Warn("slack not configured, skipping alert")
		return
	}

	if err := sc.post(sc.buildClusterMessage(alert)); err != nil {
		sc.logger.Error("failed to send slack message", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	sc.logger.Info("sent slack cluster alert",
		zap.String("clusterID", alert.ClusterID),
		zap.String("token", alert.Token),
		zap.Int("score", alert.Score.Total),
	)
}

// SendSummary sends the periodic status report.
func (sc *SlackClient) SendSummary(report notifier.SummaryReport) {
	if sc.webhookURL == "" {
		return
	}

	if err := sc.post(sc.buildSummaryMessage(report)); err != nil {
		sc.logger.Error("failed to send slack summary", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
	}
}

func (sc *SlackClient) buildTradeMessage(alert notifier.TradeAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n", tradeTitle(alert)))
	sb.WriteString(fmt.Sprintf("*Wallet:* `%s`\n", alert.Address))
	sb.WriteString(fmt.Sprintf("*Trade:* %s %s %s\n", alert.Action, alert.Direction, alert.Token))
	sb.WriteString(fmt.Sprintf("*Size:* %s %s @ $%s\n", formatAmount(alert.Size), alert.Token, formatAmount(alert.Price)))
	sb.WriteString(fmt.Sprintf("*Notional:* $%s\n", formatAmount(alert.NotionalUsd)))
	if alert.ThresholdUsd > 0 {
		sb.WriteString(fmt.Sprintf("*Threshold:* $%s\n", formatAmount(alert.ThresholdUsd)))
	}
	if alert.WalletMedianUsd > 0 {
		sb.WriteString(fmt.Sprintf("*Wallet median:* $%s\n", formatAmount(alert.WalletMedianUsd)))
	}
	sb.WriteString(fmt.Sprintf("_%s_", alertTimestamp(alert.Timestamp)))

	return sb.String()
}

func (sc *SlackClient) buildTransferMessage(alert notifier.TransferAlert) string {
	var sb strings.Builder

	title := "💰 Large Deposit"
	if alert.Kind == "WITHDRAWAL" {
		title = "💸 Large Withdrawal"
	}
	if alert.VIP {
		title = "⭐ VIP Transfer"
	}

	sb.WriteString(fmt.Sprintf("*%s*\n", title))
	sb.WriteString(fmt.Sprintf("*Wallet:* `%s`\n", alert.Address))
	sb.WriteString(fmt.Sprintf("*Amount:* $%s %s\n", formatAmount(alert.AmountUsd), alert.Asset))
	sb.WriteString(fmt.Sprintf("_%s_", alertTimestamp(alert.Timestamp)))

	return sb.String()
}

func (sc *SlackClient) buildClusterMessage(alert notifier.ClusterAlert) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*🚨 Coordinated %s cluster on %s — score %d/100*\n",
		alert.Direction, alert.Token, alert.Score.Total))
	sb.WriteString(fmt.Sprintf("*Wallets:* %d  *Trades:* %d  *Total:* $%s\n",
		len(alert.Members), alert.TradeCount, formatAmount(alert.TotalNotionalUsd)))
	sb.WriteString(fmt.Sprintf("*Window:* %s → %s (%.0fs)\n",
		alert.WindowStart.UTC().Format("15:04:05"),
		alert.WindowEnd.UTC().Format("15:04:05"),
		alert.WindowEnd.Sub(alert.WindowStart).Seconds()))

	sb.WriteString("*Score:* ")
	sb.WriteString(fmt.Sprintf("timing %d, notional %d, wallets %d, age %d, alignment %d, sizing %d, cross-token %d, precision %d\n",
		alert.Score.Timing, alert.Score.Notional, alert.Score.WalletCount, alert.Score.WalletAge,
		alert.Score.Alignment, alert.Score.SizeClustering, alert.Score.CrossToken, alert.Score.Precision))

	for _, m := range alert.Members {
		line := fmt.Sprintf("• `%s` — %d trades, $%s", shortAddress(m.Address), m.TradeCount, formatAmount(m.NotionalUsd))
		if m.AgeDays >= 0 {
			line += fmt.Sprintf(", %dd old", m.AgeDays)
		}
		if m.Promoted {
			line += " → promoted to VIP"
		}
		sb.WriteString(line + "\n")
	}

	sb.WriteString(fmt.Sprintf("_cluster %s_", alert.ClusterID))

	return sb.String()
}

func (sc *SlackClient) buildSummaryMessage(report notifier.SummaryReport) string {
	if report.Startup {
		return fmt.Sprintf("*👁 whalewatch started* — watching %d addresses (%d VIP)",
			report.WatchedAddresses, report.VIPAddresses)
	}

	health := "healthy"
	if !report.SourceHealthy {
		health = "degraded"
	}

	return fmt.Sprintf(
		"*📊 Status report* — uptime %s\nWatching %d addresses (%d VIP) • API %s (%d ok / %d failed)\nScans %d • Alerts %d • Clusters %d • Promotions %d",
		report.Uptime.Round(time.Minute),
		report.WatchedAddresses, report.VIPAddresses,
		health, report.APISuccesses, report.APIFailures,
		report.Scans, report.AlertsSent, report.ClustersDetected, report.WalletsPromoted,
	)
}

func (sc *SlackClient) post(text string) error {
	payload := map[string]any{
		"text": text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := sc.client.Post(sc.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (sc *SlackClient) Close() error {
	return nil
}

func tradeTitle(alert notifier.TradeAlert) string {
	for _, r := range alert.Reasons {
		if r == notifier.AlertReasonVIPActivity {
			return "⭐ VIP Trade"
		}
	}
	for _, r := range alert.Reasons {
		if r == notifier.AlertReasonUnusualSize {
			return "📈 Unusual Size for Wallet"
		}
	}
	if alert.Direction == "SHORT" && alert.Action == "OPEN" {
		return "🐻 Large Short Opened"
	}
	return "🐋 Large Trade"
}

func alertTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format("2006-01-02 15:04:05 MST")
}

func formatAmount(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("%.1fK", v/1_000)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}
