package discord

import (
	"fmt"
	"strings"
	"time"

	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// SendMessage sends a plain text message.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping message")
		return
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, message)
	if err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	dc.logger.Info("sent discord message")
}

// SendTradeAlert sends a rich embedded trade alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendTradeAlert(alert notifier.TradeAlert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildTradeEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	dc.logger.Info("sent discord trade alert",
		zap.String("address", shortAddress(alert.Address)),
		zap.String("token", alert.Token),
		zap.Float64("notionalUsd", alert.NotionalUsd),
	)
}

// SendTransferAlert sends a deposit/withdrawal embed.
func (dc *DiscordClient) SendTransferAlert(alert notifier.TransferAlert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildTransferEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	dc.logger.Info("sent discord transfer alert",
		zap.String("address", shortAddress(alert.Address)),
		zap.String("kind", alert.Kind),
	)
}

// SendClusterAlert sends a coordinated-cluster embed with the score breakdown.
func (dc *DiscordClient) SendClusterAlert(alert notifier.ClusterAlert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildClusterEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		metrics.AlertDeliveryFailures.Inc()
		return
	}

	dc.logger.Info("sent discord cluster alert",
		zap.String("clusterID", alert.ClusterID),
		zap.Int("score", alert.Score.Total),
	)
}

// SendSummary sends the periodic status report as a plain message.
func (dc *DiscordClient) SendSummary(report notifier.SummaryReport) {
	if dc.session == nil {
		return
	}

	dc.SendMessage(buildSummaryText(report))
}

func (dc *DiscordClient) buildTradeEmbed(alert notifier.TradeAlert) *discordgo.MessageEmbed {
	// Choose color based on direction
	color := 0x2ECC71 // Green for LONG
	dirEmoji := "🟢"
	if alert.Direction == "SHORT" {
		color = 0xE74C3C // Red for SHORT
		dirEmoji = "🔴"
	}

	title := tradeTitle(alert)
	if alert.VIP {
		color = 0xF1C40F
	}

	walletDisplay := fmt.Sprintf("[%s](https://app.hyperliquid.xyz/explorer/address/%s)",
		shortAddress(alert.Address), alert.Address)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Wallet", Value: walletDisplay, Inline: true},
		{Name: "Token", Value: alert.Token, Inline: true},
		{Name: "Side", Value: fmt.Sprintf("%s %s %s", dirEmoji, alert.Action, alert.Direction), Inline: true},
		{Name: "Trade", Value: fmt.Sprintf("%s %s @ $%s", formatAmount(alert.Size), alert.Token, formatAmount(alert.Price)), Inline: true},
		{Name: "Notional", Value: "$" + formatAmount(alert.NotionalUsd), Inline: true},
	}
	if alert.ThresholdUsd > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Threshold", Value: "$" + formatAmount(alert.ThresholdUsd), Inline: true,
		})
	}
	if alert.WalletMedianUsd > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Wallet Median", Value: "$" + formatAmount(alert.WalletMedianUsd), Inline: true,
		})
	}
	if alert.PositionAfter != 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Position After", Value: fmt.Sprintf("%s %s", formatAmount(alert.PositionAfter), alert.Token), Inline: true,
		})
	}

	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Fields:    fields,
		Timestamp: embedTimestamp(alert.Timestamp),
		Footer:    &discordgo.MessageEmbedFooter{Text: "whalewatch"},
	}
}

func (dc *DiscordClient) buildTransferEmbed(alert notifier.TransferAlert) *discordgo.MessageEmbed {
	title := "💰 Large Deposit"
	color := 0x3498DB
	if alert.Kind == "WITHDRAWAL" {
		title = "💸 Large Withdrawal"
		color = 0x9B59B6
	}
	if alert.VIP {
		title = "⭐ VIP Transfer"
		color = 0xF1C40F
	}

	return &discordgo.MessageEmbed{
		Title: title,
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Wallet", Value: fmt.Sprintf("`%s`", alert.Address), Inline: false},
			{Name: "Kind", Value: alert.Kind, Inline: true},
			{Name: "Amount", Value: fmt.Sprintf("$%s %s", formatAmount(alert.AmountUsd), alert.Asset), Inline: true},
		},
		Timestamp: embedTimestamp(alert.Timestamp),
		Footer:    &discordgo.MessageEmbedFooter{Text: "whalewatch"},
	}
}

func (dc *DiscordClient) buildClusterEmbed(alert notifier.ClusterAlert) *discordgo.MessageEmbed {
	var members strings.Builder
	for _, m := range alert.Members {
		line := fmt.Sprintf("`%s` — %d trades, $%s", shortAddress(m.Address), m.TradeCount, formatAmount(m.NotionalUsd))
		if m.AgeDays >= 0 {
			line += fmt.Sprintf(", %dd old", m.AgeDays)
		}
		if m.Promoted {
			line += " → **VIP**"
		}
		members.WriteString(line)
		members.WriteString("\n")
	}

	breakdown := fmt.Sprintf(
		"timing %d • notional %d • wallets %d • age %d\nalignment %d • sizing %d • cross-token %d • precision %d",
		alert.Score.Timing, alert.Score.Notional, alert.Score.WalletCount, alert.Score.WalletAge,
		alert.Score.Alignment, alert.Score.SizeClustering, alert.Score.CrossToken, alert.Score.Precision,
	)

	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🚨 Coordinated %s Cluster on %s — %d/100", alert.Direction, alert.Token, alert.Score.Total),
		Color: 0xE67E22,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Wallets", Value: fmt.Sprintf("%d", len(alert.Members)), Inline: true},
			{Name: "Trades", Value: fmt.Sprintf("%d", alert.TradeCount), Inline: true},
			{Name: "Total Notional", Value: "$" + formatAmount(alert.TotalNotionalUsd), Inline: true},
			{Name: "Window", Value: fmt.Sprintf("%.0fs", alert.WindowEnd.Sub(alert.WindowStart).Seconds()), Inline: true},
			{Name: "Alignment", Value: fmt.Sprintf("%.2f", alert.Alignment), Inline: true},
			{Name: "Score", Value: breakdown, Inline: false},
			{Name: "Members", Value: members.String(), Inline: false},
		},
		Timestamp: embedTimestamp(alert.Timestamp),
		Footer:    &discordgo.MessageEmbedFooter{Text: "cluster " + alert.ClusterID},
	}
}

func buildSummaryText(report notifier.SummaryReport) string {
	if report.Startup {
		return fmt.Sprintf("👁 **whalewatch started** — watching %d addresses (%d VIP)",
			report.WatchedAddresses, report.VIPAddresses)
	}

	health := "healthy"
	if !report.SourceHealthy {
		health = "degraded"
	}

	return fmt.Sprintf(
		"📊 **Status report** — uptime %s\nWatching %d addresses (%d VIP) • API %s (%d ok / %d failed)\nScans %d • Alerts %d • Clusters %d • Promotions %d",
		report.Uptime.Round(time.Minute),
		report.WatchedAddresses, report.VIPAddresses,
		health, report.APISuccesses, report.APIFailures,
		report.Scans, report.AlertsSent, report.ClustersDetected, report.WalletsPromoted,
	)
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

func embedTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format(time.RFC3339)
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

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
