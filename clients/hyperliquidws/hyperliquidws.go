package hyperliquidws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HyperliquidWSClient streams market-wide trades from the exchange websocket.
// One connection carries one "trades" subscription per coin.
type HyperliquidWSClient struct {
	logger *zap.Logger

	wsURL        string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan json.RawMessage
	errCh   chan error
	closeCh chan struct{}

	msgCount        uint64
	lastMsgUnixNano int64
}

func NewHyperliquidWSClient(logger *zap.Logger, wsURL string) *HyperliquidWSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wsURL == "" {
		wsURL = "wss://api.hyperliquid.xyz/ws"
	}

	return &HyperliquidWSClient{
		logger:       logger,
		wsURL:        wsURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: 30 * time.Second,

		msgCh:   make(chan json.RawMessage, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the websocket and subscribes to the trades channel for each
// coin. The connection is closed when ctx is canceled.
func (c *HyperliquidWSClient) Connect(ctx context.Context, coins []string) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial trades ws: %w", err)
	}

	c.logger.Info("hyperliquid ws dialed",
		zap.String("url", c.wsURL),
		zap.Strings("coins", coins),
	)

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn("hyperliquid ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	for _, coin := range coins {
		sub := map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type": "trades",
				"coin": coin,
			},
		}
		if err := c.writeJSON(sub); err != nil {
			_ = conn.Close()
			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()
			return fmt.Errorf("subscribe trades %s: %w", coin, err)
		}
	}

	c.logger.Info("hyperliquid ws subscriptions sent", zap.Int("coins", len(coins)))

	go c.readLoop()
	go c.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closeCh:
		}
	}()

	return nil
}

// Messages returns the stream of raw trade frames.
func (c *HyperliquidWSClient) Messages() <-chan json.RawMessage {
	return c.msgCh
}

func (c *HyperliquidWSClient) Errors() <-chan error {
	return c.errCh
}

type WSStats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *HyperliquidWSClient) Stats() WSStats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return WSStats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

// WsTrade is one trade from the trades channel. Users holds the buyer and
// seller addresses in that order.
type WsTrade struct {
	Coin  string    `json:"coin"`
	Side  string    `json:"side"` // "B" buyer was aggressor, "A" seller was
	Px    string    `json:"px"`
	Sz    string    `json:"sz"`
	Time  int64     `json:"time"` // unix ms
	Hash  string    `json:"hash"`
	Tid   int64     `json:"tid"`
	Users [2]string `json:"users"`
}

// PxFloat returns the trade price as a float64.
func (t *WsTrade) PxFloat() float64 {
	v, _ := strconv.ParseFloat(t.Px, 64)
	return v
}

// SzFloat returns the trade size as a float64.
func (t *WsTrade) SzFloat() float64 {
	v, _ := strconv.ParseFloat(t.Sz, 64)
	return v
}

// Timestamp returns the trade time as a time.Time.
func (t *WsTrade) Timestamp() time.Time {
	return time.UnixMilli(t.Time)
}

// ParseTrades extracts the trades from a raw frame. Returns nil for frames
// from other channels (subscription acks, pongs).
func ParseTrades(data json.RawMessage) []WsTrade {
	var frame struct {
		Channel string    `json:"channel"`
		Data    []WsTrade `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil
	}
	if frame.Channel != "trades" {
		return nil
	}
	return frame.Data
}

func (c *HyperliquidWSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	// Signal goroutines to stop by closing closeCh
	select {
	case <-c.closeCh:
		// Channel was already closed
	default:
		close(c.closeCh)
	}

	// Create fresh channel for potential reconnection
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *HyperliquidWSClient) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *HyperliquidWSClient) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			// Server expects an application-level ping frame.
			if err := c.writeJSON(map[string]string{"method": "ping"}); err != nil {
				c.logger.Warn("hyperliquid ws ping failed", zap.Error(err))
			}

		case <-c.closeCh:
			return
		}
	}
}

func (c *HyperliquidWSClient) readLoop() {
	c.logger.Info("hyperliquid ws read loop started")

	for {
		select {
		case <-c.closeCh:
			c.logger.Info("hyperliquid ws read loop exiting: closeCh signaled")
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.logger.Info("hyperliquid ws read loop exiting: conn is nil")
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("hyperliquid ws read loop exiting: read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.forward(json.RawMessage(append([]byte(nil), b...)))
	}
}

func (c *HyperliquidWSClient) forward(msg json.RawMessage) {
	select {
	case c.msgCh <- msg:
	default:
		c.logger.Warn("dropping ws message: msgCh full")
	}
}
