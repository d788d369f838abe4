package hyperliquidws

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewHyperliquidWSClient(t *testing.T) {
	client := NewHyperliquidWSClient(nil, "")

	if client.logger == nil {
		t.Error("expected logger to be set")
	}
	if client.wsURL != "wss://api.hyperliquid.xyz/ws" {
		t.Errorf("unexpected WS URL: %s", client.wsURL)
	}
	if client.pingInterval != 30*time.Second {
		t.Errorf("unexpected ping interval: %v", client.pingInterval)
	}
	if client.msgCh == nil {
		t.Error("expected msgCh to be initialized")
	}
	if client.errCh == nil {
		t.Error("expected errCh to be initialized")
	}
	if client.closeCh == nil {
		t.Error("expected closeCh to be initialized")
	}
}

func TestNewHyperliquidWSClient_CustomURL(t *testing.T) {
	client := NewHyperliquidWSClient(zap.NewNop(), "wss://example.com/ws")

	if client.wsURL != "wss://example.com/ws" {
		t.Errorf("unexpected WS URL: %s", client.wsURL)
	}
}

func TestStats_Empty(t *testing.T) {
	client := NewHyperliquidWSClient(nil, "")

	stats := client.Stats()

	if stats.MessageCount != 0 {
		t.Errorf("expected 0 messages, got %d", stats.MessageCount)
	}
	if !stats.LastMessageAt.IsZero() {
		t.Error("expected zero time for last message")
	}
}

func TestClose_NoConnection(t *testing.T) {
	client := NewHyperliquidWSClient(nil, "")

	// Multiple closes should be safe
	for i := 0; i < 3; i++ {
		if err := client.Close(); err != nil {
			t.Errorf("close %d returned error: %v", i, err)
		}
	}
}

func TestWriteJSON_NotConnected(t *testing.T) {
	client := NewHyperliquidWSClient(nil, "")

	err := client.writeJSON(map[string]string{"method": "ping"})
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestParseTrades_ValidFrame(t *testing.T) {
	data := []byte(`{
		"channel": "trades",
		"data": [
			{"coin":"BTC","side":"A","px":"60000","sz":"100","time":1700000000000,"hash":"0xh1","tid":42,"users":["0xbuyer","0xseller"]},
			{"coin":"BTC","side":"B","px":"60001","sz":"2","time":1700000001000,"hash":"0xh2","tid":43,"users":["0xb2","0xs2"]}
		]
	}`)

	trades := ParseTrades(data)
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	tr := trades[0]
	if tr.Coin != "BTC" {
		t.Errorf("Coin = %s, want BTC", tr.Coin)
	}
	if tr.PxFloat() != 60000 {
		t.Errorf("PxFloat = %v, want 60000", tr.PxFloat())
	}
	if tr.SzFloat() != 100 {
		t.Errorf("SzFloat = %v, want 100", tr.SzFloat())
	}
	if tr.Users[0] != "0xbuyer" || tr.Users[1] != "0xseller" {
		t.Errorf("unexpected users: %v", tr.Users)
	}
	if tr.Timestamp().UnixMilli() != 1700000000000 {
		t.Errorf("unexpected timestamp: %v", tr.Timestamp())
	}
}

func TestParseTrades_OtherChannel(t *testing.T) {
	if trades := ParseTrades([]byte(`{"channel":"subscriptionResponse","data":{}}`)); trades != nil {
		t.Errorf("expected nil for non-trade channel, got %v", trades)
	}
	if trades := ParseTrades([]byte(`{"channel":"pong"}`)); trades != nil {
		t.Errorf("expected nil for pong frame, got %v", trades)
	}
}

func TestParseTrades_InvalidJSON(t *testing.T) {
	if trades := ParseTrades([]byte(`not json`)); trades != nil {
		t.Errorf("expected nil for invalid JSON, got %v", trades)
	}
}

func TestForward_ChannelFull(t *testing.T) {
	client := NewHyperliquidWSClient(zap.NewNop(), "")

	// Fill the channel
	for i := 0; i < 1024; i++ {
		select {
		case client.msgCh <- []byte(`{}`):
		default:
		}
	}

	// Should not block when channel is full
	done := make(chan struct{})
	go func() {
		client.forward([]byte(`{"overflow": true}`))
		close(done)
	}()

	select {
	case <-done:
		// Good, didn't block
	case <-time.After(100 * time.Millisecond):
		t.Error("forward should not block when channel is full")
	}
}

func TestMessages_ChannelAccess(t *testing.T) {
	client := NewHyperliquidWSClient(nil, "")

	msgCh := client.Messages()
	if msgCh == nil {
		t.Fatal("Messages() returned nil")
	}
	if client.Errors() == nil {
		t.Fatal("Errors() returned nil")
	}

	go func() {
		client.forward([]byte(`{"channel":"trades"}`))
	}()

	select {
	case <-msgCh:
		// Good
	case <-time.After(100 * time.Millisecond):
		t.Error("expected message from Messages() channel")
	}
}
