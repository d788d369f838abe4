package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Watched addresses and polling
	Watch WatchConfig `json:"watch"`

	// Alert thresholds
	Thresholds ThresholdsConfig `json:"thresholds"`

	// Coordinated-cluster detection
	Cluster ClusterConfig `json:"cluster"`

	// Market-wide trade scan
	MarketScan MarketScanConfig `json:"market_scan"`

	// Hyperliquid API
	Hyperliquid HyperliquidConfig `json:"hyperliquid"`

	// Durable state store - excluded from settings (env var only)
	Store StoreConfig `json:"-"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Slack
	Slack SlackConfig `json:"-"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`

	// Periodic summary report
	Summary SummaryConfig `json:"summary"`
}

// WatchConfig holds the watched address set and poll cadence.
type WatchConfig struct {
	Addresses    []string      `json:"addresses"`     // Seed addresses to monitor (lowercased)
	VIPAddresses []string      `json:"vip_addresses"` // Addresses that alert on any activity
	PollInterval time.Duration `json:"poll_interval"`
	Lookback     time.Duration `json:"lookback"`     // Catch-up window for a fresh cursor
	VIPLookback  time.Duration `json:"vip_lookback"` // Deep backfill window after promotion
	MaxInFlight  int           `json:"max_in_flight"`
}

// ThresholdsConfig holds notional alert thresholds.
type ThresholdsConfig struct {
	TradeNotionalUsd   float64       `json:"trade_notional_usd"`   // Static per-trade alert floor
	DepositNotionalUsd float64       `json:"deposit_notional_usd"` // Large-deposit alert floor
	Percentile         float64       `json:"percentile"`           // Dynamic threshold percentile (e.g. 0.99)
	PercentileWindow   time.Duration `json:"percentile_window"`    // Trailing window for the percentile
	MinSamples         int           `json:"min_samples"`          // Below this the static threshold stands
	UnusualMultiplier  float64       `json:"unusual_multiplier"`   // Multiple of the wallet median that flags a trade
	BaselineTrades     int           `json:"baseline_trades"`      // Trailing trades per wallet for the median
}

// ClusterConfig holds coordinated-cluster detection parameters.
type ClusterConfig struct {
	TimeWindow     time.Duration `json:"time_window"`
	MinScore       int           `json:"min_score"`
	MinNotionalUsd float64       `json:"min_notional_usd"`
	MinTrades      int           `json:"min_trades"`
	MinWallets     int           `json:"min_wallets"`
	MinAlignment   float64       `json:"min_alignment"`
	NotionalSteps  []float64     `json:"notional_steps"`  // Descending USD breakpoints for the notional factor
	NotionalPoints []int         `json:"notional_points"` // Points awarded per breakpoint
}

// MarketScanConfig holds the market-wide websocket scan settings.
type MarketScanConfig struct {
	Enabled     bool     `json:"enabled"`
	Tokens      []string `json:"tokens"`
	MinTradeUsd float64  `json:"min_trade_usd"`
}

// HyperliquidConfig holds Hyperliquid API configuration.
type HyperliquidConfig struct {
	APIURL            string        `json:"api_url"`
	WSURL             string        `json:"ws_url"`
	RequestsPerSecond int           `json:"requests_per_second"`
	RequestTimeout    time.Duration `json:"request_timeout"`
}

// StoreConfig holds Postgres state store configuration.
type StoreConfig struct {
	DSN              string        `json:"-"` // Excluded - env var only
	QueryTimeout     time.Duration `json:"query_timeout"`
	SnapshotInterval time.Duration `json:"snapshot_interval"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// SlackConfig holds Slack webhook configuration.
type SlackConfig struct {
	WebhookURL string `json:"-"` // Excluded - env var only
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// SummaryConfig holds the periodic status report settings.
type SummaryConfig struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Watch: WatchConfig{
			PollInterval: 30 * time.Second,
			Lookback:     10 * time.Minute,
			VIPLookback:  72 * time.Hour,
			MaxInFlight:  4,
		},
		Thresholds: ThresholdsConfig{
			TradeNotionalUsd:   25_000_000,
			DepositNotionalUsd: 20_000_000,
			Percentile:         0.99,
			PercentileWindow:   24 * time.Hour,
			MinSamples:         20,
			UnusualMultiplier:  10,
			BaselineTrades:     50,
		},
		Cluster: ClusterConfig{
			TimeWindow:     60 * time.Minute,
			MinScore:       70,
			MinNotionalUsd: 50_000_000,
			MinTrades:      3,
			MinWallets:     2,
			MinAlignment:   0.8,
			NotionalSteps:  []float64{500_000_000, 250_000_000, 100_000_000, 50_000_000},
			NotionalPoints: []int{20, 15, 10, 5},
		},
		MarketScan: MarketScanConfig{
			Enabled:     true,
			Tokens:      []string{"BTC", "ETH"},
			MinTradeUsd: 5_000_000,
		},
		Hyperliquid: HyperliquidConfig{
			APIURL:            "https://api.hyperliquid.xyz",
			WSURL:             "wss://api.hyperliquid.xyz/ws",
			RequestsPerSecond: 10,
			RequestTimeout:    15 * time.Second,
		},
		Store: StoreConfig{
			QueryTimeout:     10 * time.Second,
			SnapshotInterval: 10 * time.Minute,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Summary: SummaryConfig{
			Enabled:  true,
			Interval: 2 * time.Hour,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Watch: WatchConfig{
			Addresses:    normalizeAddresses(envStringSlice("WATCH_ADDRESSES")),
			VIPAddresses: normalizeAddresses(envStringSlice("VIP_ADDRESSES")),
			PollInterval: envDuration("POLL_INTERVAL", 30*time.Second),
			Lookback:     envDuration("LOOKBACK", 10*time.Minute),
			VIPLookback:  envDuration("VIP_LOOKBACK", 72*time.Hour),
			MaxInFlight:  envInt("MAX_IN_FLIGHT_POLLS", 4),
		},

		Thresholds: ThresholdsConfig{
			TradeNotionalUsd:   envFloat("USD_TRADE_THRESHOLD", 25_000_000),
			DepositNotionalUsd: envFloat("USD_DEPOSIT_THRESHOLD", 20_000_000),
			Percentile:         envFloat("THRESHOLD_PERCENTILE", 0.99),
			PercentileWindow:   envDuration("THRESHOLD_WINDOW", 24*time.Hour),
			MinSamples:         envInt("THRESHOLD_MIN_SAMPLES", 20),
			UnusualMultiplier:  envFloat("UNUSUAL_SIZE_MULTIPLIER", 10),
			BaselineTrades:     envInt("BASELINE_TRADE_COUNT", 50),
		},

		Cluster: ClusterConfig{
			TimeWindow:     envDuration("CLUSTER_TIME_WINDOW", 60*time.Minute),
			MinScore:       envInt("CLUSTER_MIN_SCORE", 70),
			MinNotionalUsd: envFloat("CLUSTER_MIN_NOTIONAL", 50_000_000),
			MinTrades:      envInt("CLUSTER_MIN_TRADES", 3),
			MinWallets:     envInt("CLUSTER_MIN_WALLETS", 2),
			MinAlignment:   envFloat("CLUSTER_MIN_ALIGNMENT", 0.8),
			NotionalSteps:  envFloatSlice("CLUSTER_NOTIONAL_STEPS", []float64{500_000_000, 250_000_000, 100_000_000, 50_000_000}),
			NotionalPoints: envIntSlice("CLUSTER_NOTIONAL_POINTS", []int{20, 15, 10, 5}),
		},

		MarketScan: MarketScanConfig{
			Enabled:     envBoolDefault("MARKET_SCAN_ENABLED", true),
			Tokens:      envStringSliceDefault("MARKET_SCAN_TOKENS", []string{"BTC", "ETH"}),
			MinTradeUsd: envFloat("MARKET_MIN_TRADE_SIZE", 5_000_000),
		},

		Hyperliquid: HyperliquidConfig{
			APIURL:            envString("HYPERLIQUID_API_URL", "https://api.hyperliquid.xyz"),
			WSURL:             envString("HYPERLIQUID_WS_URL", "wss://api.hyperliquid.xyz/ws"),
			RequestsPerSecond: envInt("HYPERLIQUID_RPS", 10),
			RequestTimeout:    envDuration("HYPERLIQUID_TIMEOUT", 15*time.Second),
		},

		Store: StoreConfig{
			DSN:              envString("POSTGRES_DSN", ""),
			QueryTimeout:     envDuration("STORE_QUERY_TIMEOUT", 10*time.Second),
			SnapshotInterval: envDuration("STORE_SNAPSHOT_INTERVAL", 10*time.Minute),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Slack: SlackConfig{
			WebhookURL: envString("SLACK_WEBHOOK_URL", ""),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},

		Summary: SummaryConfig{
			Enabled:  envBoolDefault("SUMMARY_ENABLED", true),
			Interval: envDuration("SUMMARY_INTERVAL", 2*time.Hour),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	if vals := envStringSlice(key); vals != nil {
		return vals
	}
	return defaultVal
}

func envFloatSlice(key string, defaultVal []float64) []float64 {
	parts := envStringSlice(key)
	if parts == nil {
		return defaultVal
	}
	result := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return defaultVal
		}
		result = append(result, f)
	}
	return result
}

func envIntSlice(key string, defaultVal []int) []int {
	parts := envStringSlice(key)
	if parts == nil {
		return defaultVal
	}
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return defaultVal
		}
		result = append(result, i)
	}
	return result
}

func normalizeAddresses(addrs []string) []string {
	if addrs == nil {
		return nil
	}
	result := make([]string, len(addrs))
	for i, a := range addrs {
		result[i] = strings.ToLower(a)
	}
	return result
}
