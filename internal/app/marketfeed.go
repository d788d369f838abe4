package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"whalewatch/clients/hyperliquidws"
	"whalewatch/config"
	"whalewatch/internal/metrics"

	"go.uber.org/zap"
)

// MarketScannerStats is a snapshot of the scanner counters.
type MarketScannerStats struct {
	TradesSeen  uint64
	TradesFed   uint64
	LastTradeAt time.Time
}

// MarketScanner consumes the market-wide trades stream and feeds sizable
// trades from unwatched wallets into cluster detection. Watched wallets are
// already covered by polling, so their websocket echoes are skipped to keep
// the detector windows free of duplicates.
type MarketScanner struct {
	logger  *zap.Logger
	cfg     config.MarketScanConfig
	ws      *hyperliquidws.HyperliquidWSClient
	monitor *Monitor

	tradesSeen    uint64
	tradesFed     uint64
	lastTradeNano int64
	startedOnce   sync.Once
}

func NewMarketScanner(logger *zap.Logger, cfg config.MarketScanConfig, ws *hyperliquidws.HyperliquidWSClient, monitor *Monitor) *MarketScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketScanner{
		logger:  logger,
		cfg:     cfg,
		ws:      ws,
		monitor: monitor,
	}
}

// Connect dials the websocket and subscribes to the configured coins.
func (s *MarketScanner) Connect(ctx context.Context) error {
	if len(s.cfg.Tokens) == 0 {
		return fmt.Errorf("market scan enabled with no tokens configured")
	}
	return s.ws.Connect(ctx, s.cfg.Tokens)
}

// Run drains the websocket message stream until ctx ends. Reconnection is
// the runner's job; Run simply returns when the stream goes quiet after a
// close.
func (s *MarketScanner) Run(ctx context.Context) {
	s.startedOnce.Do(func() {
		s.logger.Info("market scanner started",
			zap.Strings("tokens", s.cfg.Tokens),
			zap.Float64("minTradeUsd", s.cfg.MinTradeUsd),
		)
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market scanner shutting down")
			return
		case msg := <-s.ws.Messages():
			for _, trade := range hyperliquidws.ParseTrades(msg) {
				s.handleTrade(ctx, trade)
			}
		case err := <-s.ws.Errors():
			s.logger.Warn("market feed stream error", zap.Error(err))
		}
	}
}

func (s *MarketScanner) handleTrade(ctx context.Context, trade hyperliquidws.WsTrade) {
	atomic.AddUint64(&s.tradesSeen, 1)
	atomic.StoreInt64(&s.lastTradeNano, time.Now().UnixNano())
	metrics.MarketTradesSeen.Inc()

	notional := trade.PxFloat() * trade.SzFloat()
	if notional <= 0 {
		return
	}
	ts := trade.Timestamp()

	// Every market trade is a sample for the dynamic per-token threshold.
	s.monitor.RecordMarketSample(trade.Coin, notional, ts)

	if notional < s.cfg.MinTradeUsd {
		return
	}

	// One exchange trade is two wallet-side events: the buyer went long and
	// the seller went short.
	for _, ev := range s.splitTrade(trade, notional, ts) {
		if s.monitor.Watchlist().Contains(ev.Address) {
			continue
		}
		atomic.AddUint64(&s.tradesFed, 1)
		s.monitor.ObserveMarketTrade(ctx, ev)
	}
}

func (s *MarketScanner) splitTrade(trade hyperliquidws.WsTrade, notional float64, ts time.Time) []TradeEvent {
	buyer, seller := trade.Users[0], trade.Users[1]
	base := fmt.Sprintf("%d", trade.Tid)

	var events []TradeEvent
	if buyer != "" {
		events = append(events, TradeEvent{
			Address:     normalizeAddress(buyer),
			Token:       trade.Coin,
			Direction:   DirectionLong,
			Action:      ActionOpen,
			Size:        trade.SzFloat(),
			Price:       trade.PxFloat(),
			NotionalUsd: notional,
			ExternalID:  base + "-b",
			Timestamp:   ts,
		})
	}
	if seller != "" {
		events = append(events, TradeEvent{
			Address:     normalizeAddress(seller),
			Token:       trade.Coin,
			Direction:   DirectionShort,
			Action:      ActionOpen,
			Size:        trade.SzFloat(),
			Price:       trade.PxFloat(),
			NotionalUsd: notional,
			ExternalID:  base + "-s",
			Timestamp:   ts,
		})
	}
	return events
}

// Stats returns a snapshot of the scanner counters.
func (s *MarketScanner) Stats() MarketScannerStats {
	ns := atomic.LoadInt64(&s.lastTradeNano)
	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}
	return MarketScannerStats{
		TradesSeen:  atomic.LoadUint64(&s.tradesSeen),
		TradesFed:   atomic.LoadUint64(&s.tradesFed),
		LastTradeAt: t,
	}
}
