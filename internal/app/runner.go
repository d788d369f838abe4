package app

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	clts "whalewatch/clients"
	"whalewatch/clients/notifier"
	"whalewatch/config"

	"go.uber.org/zap"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

type Runner struct {
	clients      *clts.Clients
	cfg          *config.Config
	store        Store
	monitor      *Monitor
	scanner      *MarketScanner
	snapshotter  *StateSnapshotter
	healthServer *http.Server
	startTime    time.Time
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	// Watchlist
	Watchlist struct {
		Addresses int `json:"addresses"`
		VIPs      int `json:"vips"`
	} `json:"watchlist"`

	// Polling
	Poller struct {
		Scans        int64  `json:"scans"`
		APISuccesses int64  `json:"api_successes"`
		APIFailures  int64  `json:"api_failures"`
		BreakerState string `json:"breaker_state"`
		Healthy      bool   `json:"healthy"`
	} `json:"poller"`

	// Alerting
	Alerts struct {
		Total            int64 `json:"total"`
		ClustersDetected int64 `json:"clusters_detected"`
		WalletsPromoted  int64 `json:"wallets_promoted"`
	} `json:"alerts"`

	// Market scan websocket
	MarketScan struct {
		Enabled        bool   `json:"enabled"`
		Tokens         int    `json:"tokens"`
		MessageCount   uint64 `json:"message_count"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
		TradesSeen     uint64 `json:"trades_seen"`
		TradesFed      uint64 `json:"trades_fed"`
	} `json:"market_scan"`

	// Notification status
	Notifications struct {
		DiscordEnabled   bool   `json:"discord_enabled"`
		DiscordChannelID string `json:"discord_channel_id,omitempty"`
		SlackEnabled     bool   `json:"slack_enabled"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		HeapSys    uint64 `json:"heap_sys"`
		HeapInuse  uint64 `json:"heap_inuse"`
		StackInuse uint64 `json:"stack_inuse"`
		NumGC      uint32 `json:"num_gc"`
		LastGC     string `json:"last_gc,omitempty"`
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, cfg *config.Config, st Store) *Runner {
	return &Runner{
		clients: clients,
		cfg:     cfg,
		store:   st,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger

	logger.Info("starting wallet monitor",
		zap.Int("watchedAddresses", len(r.cfg.Watch.Addresses)),
		zap.Int("vipAddresses", len(r.cfg.Watch.VIPAddresses)),
		zap.Duration("pollInterval", r.cfg.Watch.PollInterval),
		zap.Bool("marketScan", r.cfg.MarketScan.Enabled),
	)

	r.monitor = NewMonitor(logger, r.cfg, r.clients.Hyperliquid, r.store, r.clients.Notifier)

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err := r.monitor.Init(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("monitor init: %w", err)
	}

	r.snapshotter = NewStateSnapshotter(
		logger,
		r.store,
		r.monitor.Positions(),
		r.monitor.Baselines(),
		r.cfg.Store.SnapshotInterval,
	)

	// Connect the market-wide trades stream
	if r.cfg.MarketScan.Enabled && r.clients.HyperliquidWS != nil {
		r.scanner = NewMarketScanner(logger, r.cfg.MarketScan, r.clients.HyperliquidWS, r.monitor)
		if err := r.scanner.Connect(ctx); err != nil {
			logger.Warn("failed to connect market feed, polling only", zap.Error(err))
		}
		go r.scanner.Run(ctx)
		go r.runWSReconnector(ctx)
	}

	// Start health check server if enabled
	if r.cfg.HealthServer.Enabled {
		r.startHealthServer(r.cfg.HealthServer.Port)
		logger.Info("health server started", zap.Int("port", r.cfg.HealthServer.Port))
	}

	// Boot notification before the first poll so a restart is visible.
	r.sendSummary(true)

	go r.monitor.Run(ctx)
	go r.snapshotter.Run(ctx)

	if r.cfg.Summary.Enabled {
		go r.runSummaryLoop(ctx)
	}

	<-ctx.Done()
	logger.Info("runner shutting down")

	if r.clients.HyperliquidWS != nil {
		_ = r.clients.HyperliquidWS.Close()
	}

	if r.healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return nil
}

// runWSReconnector monitors the market feed and reconnects when it goes
// stale or drops.
func (r *Runner) runWSReconnector(ctx context.Context) {
	logger := r.clients.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.clients.HyperliquidWS.Stats()

			if stats.MessageCount > 0 && time.Since(stats.LastMessageAt) > 2*time.Minute {
				logger.Warn("market feed appears stale, attempting reconnect",
					zap.Duration("timeSinceLastMessage", time.Since(stats.LastMessageAt)),
				)
				r.attemptReconnect(ctx)
			}
		}
	}
}

func (r *Runner) attemptReconnect(ctx context.Context) {
	logger := r.clients.Logger

	_ = r.clients.HyperliquidWS.Close()

	time.Sleep(5 * time.Second)

	// Pass the parent context, not a timeout context: Connect holds ctx for
	// the goroutine that closes the connection on cancellation.
	if err := r.scanner.Connect(ctx); err != nil {
		logger.Error("failed to reconnect market feed", zap.Error(err))
	}
}

// runSummaryLoop posts a periodic status report to the notifiers.
func (r *Runner) runSummaryLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Summary.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendSummary(false)
		}
	}
}

func (r *Runner) sendSummary(startup bool) {
	ms := r.monitor.Stats()
	wl := r.monitor.Watchlist()

	report := notifier.SummaryReport{
		Startup:          startup,
		StartedAt:        r.startTime,
		Uptime:           time.Since(r.startTime),
		WatchedAddresses: wl.Count(),
		VIPAddresses:     wl.VIPCount(),
		Scans:            ms.Scans,
		APISuccesses:     ms.APISuccesses,
		APIFailures:      ms.APIFailures,
		AlertsSent:       ms.AlertsSent,
		ClustersDetected: ms.ClustersDetected,
		WalletsPromoted:  ms.WalletsPromoted,
		SourceHealthy:    r.clients.Hyperliquid.Healthy(),
	}

	r.clients.Logger.Info("sending status summary",
		zap.Bool("startup", startup),
		zap.Int64("scans", ms.Scans),
		zap.Int64("alertsSent", ms.AlertsSent),
		zap.Bool("sourceHealthy", report.SourceHealthy),
	)

	r.clients.Notifier.SendSummary(report)
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := time.Since(r.startTime)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	if r.monitor != nil {
		wl := r.monitor.Watchlist()
		stats.Watchlist.Addresses = wl.Count()
		stats.Watchlist.VIPs = wl.VIPCount()

		ms := r.monitor.Stats()
		stats.Poller.Scans = ms.Scans
		stats.Poller.APISuccesses = ms.APISuccesses
		stats.Poller.APIFailures = ms.APIFailures
		stats.Alerts.Total = ms.AlertsSent
		stats.Alerts.ClustersDetected = ms.ClustersDetected
		stats.Alerts.WalletsPromoted = ms.WalletsPromoted
	}
	stats.Poller.BreakerState = r.clients.Hyperliquid.BreakerState()
	stats.Poller.Healthy = r.clients.Hyperliquid.Healthy()

	// Market scan stats
	stats.MarketScan.Enabled = r.cfg.MarketScan.Enabled && r.clients.HyperliquidWS != nil
	if stats.MarketScan.Enabled {
		stats.MarketScan.Tokens = len(r.cfg.MarketScan.Tokens)
		wsStats := r.clients.HyperliquidWS.Stats()
		stats.MarketScan.MessageCount = wsStats.MessageCount
		if !wsStats.LastMessageAt.IsZero() {
			stats.MarketScan.LastMessageAt = wsStats.LastMessageAt.UTC().Format(time.RFC3339)
			stats.MarketScan.LastMessageAgo = time.Since(wsStats.LastMessageAt).Round(time.Second).String()
		}
		if r.scanner != nil {
			ss := r.scanner.Stats()
			stats.MarketScan.TradesSeen = ss.TradesSeen
			stats.MarketScan.TradesFed = ss.TradesFed
		}
	}

	// Notification status
	stats.Notifications.DiscordEnabled = r.clients.Discord != nil
	if r.clients.Discord != nil {
		if r.cfg.IsProd {
			stats.Notifications.DiscordChannelID = r.cfg.Discord.ProdChannelID
		} else {
			stats.Notifications.DiscordChannelID = r.cfg.Discord.BetaChannelID
		}
	}
	stats.Notifications.SlackEnabled = r.cfg.Slack.WebhookURL != ""

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.StackInuse = memStats.StackInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
