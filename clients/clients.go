package clients

import (
	"whalewatch/clients/discord"
	"whalewatch/clients/hyperliquid"
	"whalewatch/clients/hyperliquidws"
	"whalewatch/clients/notifier"
	"whalewatch/clients/slack"
	"whalewatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord       *discord.DiscordClient
	Slack         *slack.SlackClient
	Notifier      notifier.Notifier // Combined notifier for all channels
	Hyperliquid   *hyperliquid.HyperliquidClient
	HyperliquidWS *hyperliquidws.HyperliquidWSClient
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	slackClient := slack.NewSlackClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, slackClient)

	c := &Clients{
		Logger:      logger,
		Discord:     discordClient,
		Slack:       slackClient,
		Notifier:    multiNotifier,
		Hyperliquid: hyperliquid.NewHyperliquidClient(logger, cfg),
	}

	// Only create the market stream client when the scan is enabled
	if cfg.MarketScan.Enabled {
		c.HyperliquidWS = hyperliquidws.NewHyperliquidWSClient(logger, cfg.Hyperliquid.WSURL)
	}

	return c
}
