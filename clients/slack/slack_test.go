package slack

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestNewSlackClient_NoWebhook(t *testing.T) {
	cfg := config.Defaults()
	cfg.Slack.WebhookURL = ""

	client := NewSlackClient(zap.NewNop(), cfg)

	if client.webhookURL != "" {
		t.Error("expected empty webhook URL")
	}

	// Should not panic when unconfigured
	client.SendTradeAlert(notifier.TradeAlert{Address: "0xabc"})
	client.SendTransferAlert(notifier.TransferAlert{Address: "0xabc"})
	client.SendClusterAlert(notifier.ClusterAlert{Token: "BTC"})
	client.SendSummary(notifier.SummaryReport{})
}

func newTestClient(t *testing.T) (*SlackClient, *[]string) {
	t.Helper()

	var payloads []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		payloads = append(payloads, body["text"].(string))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Defaults()
	cfg.Slack.WebhookURL = server.URL

	return NewSlackClient(zap.NewNop(), cfg), &payloads
}

func TestSendTradeAlert_Payload(t *testing.T) {
	client, payloads := newTestClient(t)

	client.SendTradeAlert(notifier.TradeAlert{
		Address:     "0x1234567890abcdef1234567890abcdef12345678",
		Token:       "BTC",
		Direction:   "SHORT",
		Action:      "OPEN",
		Size:        500,
		Price:       60000,
		NotionalUsd: 30_000_000,
		Reasons:     []notifier.AlertReason{notifier.AlertReasonLargeTrade},
		Timestamp:   time.Unix(1700000000, 0),
	})

	if len(*payloads) != 1 {
		t.Fatalf("expected 1 webhook call, got %d", len(*payloads))
	}
	text := (*payloads)[0]
	if !strings.Contains(text, "Large Short Opened") {
		t.Errorf("missing title in: %s", text)
	}
	if !strings.Contains(text, "30.00M") {
		t.Errorf("missing notional in: %s", text)
	}
	if !strings.Contains(text, "0x1234567890abcdef1234567890abcdef12345678") {
		t.Errorf("missing address in: %s", text)
	}
}

func TestSendTradeAlert_VIPTitle(t *testing.T) {
	client, payloads := newTestClient(t)

	client.SendTradeAlert(notifier.TradeAlert{
		Address: "0xvip",
		VIP:     true,
		Token:   "ETH",
		Reasons: []notifier.AlertReason{notifier.AlertReasonVIPActivity},
	})

	if !strings.Contains((*payloads)[0], "VIP Trade") {
		t.Errorf("expected VIP title, got: %s", (*payloads)[0])
	}
}

func TestSendTransferAlert_Payload(t *testing.T) {
	client, payloads := newTestClient(t)

	client.SendTransferAlert(notifier.TransferAlert{
		Address:   "0xabc",
		Kind:      "DEPOSIT",
		Asset:     "USDC",
		AmountUsd: 25_000_000,
		Reasons:   []notifier.AlertReason{notifier.AlertReasonLargeDeposit},
	})

	text := (*payloads)[0]
	if !strings.Contains(text, "Large Deposit") {
		t.Errorf("missing title in: %s", text)
	}
	if !strings.Contains(text, "25.00M") {
		t.Errorf("missing amount in: %s", text)
	}
}

func TestSendClusterAlert_Payload(t *testing.T) {
	client, payloads := newTestClient(t)

	now := time.Unix(1700000000, 0)
	client.SendClusterAlert(notifier.ClusterAlert{
		ClusterID: "cluster-1",
		Token:     "BTC",
		Direction: "SHORT",
		Members: []notifier.ClusterMember{
			{Address: "0x1111111111111111111111111111111111111111", TradeCount: 2, NotionalUsd: 60_000_000, AgeDays: 2, Promoted: true},
			{Address: "0x2222222222222222222222222222222222222222", TradeCount: 1, NotionalUsd: 30_000_000, AgeDays: -1},
		},
		TradeCount:       3,
		TotalNotionalUsd: 90_000_000,
		WindowStart:      now,
		WindowEnd:        now.Add(150 * time.Second),
		Alignment:        1.0,
		Score:            notifier.ScoreBreakdown{Timing: 25, Total: 82},
	})

	text := (*payloads)[0]
	if !strings.Contains(text, "score 82/100") {
		t.Errorf("missing score in: %s", text)
	}
	if !strings.Contains(text, "promoted to VIP") {
		t.Errorf("missing promotion marker in: %s", text)
	}
	if !strings.Contains(text, "timing 25") {
		t.Errorf("missing breakdown in: %s", text)
	}
}

func TestSendSummary_Startup(t *testing.T) {
	client, payloads := newTestClient(t)

	client.SendSummary(notifier.SummaryReport{
		Startup:          true,
		WatchedAddresses: 12,
		VIPAddresses:     3,
	})

	text := (*payloads)[0]
	if !strings.Contains(text, "started") || !strings.Contains(text, "12 addresses") {
		t.Errorf("unexpected startup summary: %s", text)
	}
}

func TestSendSummary_Periodic(t *testing.T) {
	client, payloads := newTestClient(t)

	client.SendSummary(notifier.SummaryReport{
		Uptime:           2 * time.Hour,
		WatchedAddresses: 12,
		VIPAddresses:     3,
		Scans:            240,
		APISuccesses:     470,
		APIFailures:      10,
		AlertsSent:       5,
		ClustersDetected: 1,
		WalletsPromoted:  4,
		SourceHealthy:    true,
	})

	text := (*payloads)[0]
	if !strings.Contains(text, "Status report") {
		t.Errorf("missing header in: %s", text)
	}
	if !strings.Contains(text, "healthy") {
		t.Errorf("missing health in: %s", text)
	}
}

func TestSendTradeAlert_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := config.Defaults()
	cfg.Slack.WebhookURL = server.URL
	client := NewSlackClient(zap.NewNop(), cfg)

	before := testutil.ToFloat64(metrics.AlertDeliveryFailures)

	// Error is logged and absorbed; must not panic
	client.SendTradeAlert(notifier.TradeAlert{Address: "0xabc", Token: "BTC"})

	if got := testutil.ToFloat64(metrics.AlertDeliveryFailures) - before; got != 1 {
		t.Errorf("delivery failure counter delta = %v, want 1", got)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{2_500_000_000, "2.50B"},
		{30_000_000, "30.00M"},
		{5_500, "5.5K"},
		{42.5, "42.50"},
	}

	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestShortAddress(t *testing.T) {
	long := "0x1234567890abcdef1234567890abcdef12345678"
	short := shortAddress(long)
	if short == long {
		t.Error("expected truncation for long address")
	}
	if !strings.HasPrefix(short, "0x1234") {
		t.Errorf("unexpected prefix: %s", short)
	}
	if shortAddress("0xshort") != "0xshort" {
		t.Error("short addresses should pass through")
	}
}
