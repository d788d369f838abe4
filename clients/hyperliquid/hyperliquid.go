package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"whalewatch/config"

	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// ErrNoActivity indicates an address has no ledger history at all.
var ErrNoActivity = errors.New("hyperliquid: no activity for address")

// Fill is a single perp fill from the info API.
type Fill struct {
	Coin      string `json:"coin"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"` // "B" = bid/buy, "A" = ask/sell
	Dir       string `json:"dir"`  // e.g. "Open Long", "Close Short"
	Time      int64  `json:"time"` // unix ms
	Hash      string `json:"hash"`
	Oid       int64  `json:"oid"`
	Tid       int64  `json:"tid"`
	Crossed   bool   `json:"crossed"`
	Fee       string `json:"fee"`
	ClosedPnl string `json:"closedPnl"`
}

// PxFloat returns the fill price as a float64.
func (f *Fill) PxFloat() float64 {
	v, _ := strconv.ParseFloat(f.Px, 64)
	return v
}

// SzFloat returns the fill size as a float64.
func (f *Fill) SzFloat() float64 {
	v, _ := strconv.ParseFloat(f.Sz, 64)
	return v
}

// Timestamp returns the fill time as a time.Time.
func (f *Fill) Timestamp() time.Time {
	return time.UnixMilli(f.Time)
}

// ExternalID returns the exchange-assigned unique fill identifier.
func (f *Fill) ExternalID() string {
	return strconv.FormatInt(f.Tid, 10)
}

// LedgerDelta is the typed payload of a non-funding ledger update.
type LedgerDelta struct {
	Type string `json:"type"` // deposit, withdraw, internalTransfer, ...
	Usdc string `json:"usdc"`
}

// LedgerUpdate is a single non-funding ledger entry (deposits, withdrawals,
// internal transfers).
type LedgerUpdate struct {
	Time  int64       `json:"time"` // unix ms
	Hash  string      `json:"hash"`
	Delta LedgerDelta `json:"delta"`
}

// UsdcFloat returns the USDC delta as a float64 (negative for outflows).
func (u *LedgerUpdate) UsdcFloat() float64 {
	v, _ := strconv.ParseFloat(u.Delta.Usdc, 64)
	return v
}

// Timestamp returns the update time as a time.Time.
func (u *LedgerUpdate) Timestamp() time.Time {
	return time.UnixMilli(u.Time)
}

// ExternalID returns a unique identifier for the ledger entry.
func (u *LedgerUpdate) ExternalID() string {
	return u.Hash
}

// HyperliquidClient talks to the Hyperliquid info API. All requests are paced
// through a shared rate limiter and guarded by a circuit breaker so a flapping
// upstream fails fast instead of piling up timeouts.
type HyperliquidClient struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewHyperliquidClient(logger *zap.Logger, cfg *config.Config) *HyperliquidClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	rps := cfg.Hyperliquid.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	hc := &HyperliquidClient{
		logger:  logger,
		baseURL: cfg.Hyperliquid.APIURL,
		client:  &http.Client{Timeout: cfg.Hyperliquid.RequestTimeout},
		limiter: ratelimit.New(rps),
	}

	hc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hyperliquid-info",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	logger.Info("hyperliquid client initialized",
		zap.String("baseURL", hc.baseURL),
		zap.Int("rps", rps),
	)

	return hc
}

// UserFills fetches perp fills for an address. A non-zero since narrows the
// query server-side; the API returns fills newest-first.
func (hc *HyperliquidClient) UserFills(ctx context.Context, address string, since time.Time) ([]Fill, error) {
	payload := map[string]any{
		"type": "userFills",
		"user": address,
	}
	if !since.IsZero() {
		payload["type"] = "userFillsByTime"
		payload["startTime"] = since.UnixMilli()
	}

	var fills []Fill
	if err := hc.post(ctx, payload, &fills); err != nil {
		return nil, fmt.Errorf("user fills for %s: %w", address, err)
	}
	return fills, nil
}

// LedgerUpdates fetches non-funding ledger updates (deposits, withdrawals,
// internal transfers) for an address since the given time.
func (hc *HyperliquidClient) LedgerUpdates(ctx context.Context, address string, since time.Time) ([]LedgerUpdate, error) {
	payload := map[string]any{
		"type":      "userNonFundingLedgerUpdates",
		"user":      address,
		"startTime": since.UnixMilli(),
	}

	var updates []LedgerUpdate
	if err := hc.post(ctx, payload, &updates); err != nil {
		return nil, fmt.Errorf("ledger updates for %s: %w", address, err)
	}
	return updates, nil
}

// FirstActivity returns the time of the earliest ledger entry for an address,
// used as a proxy for wallet age. Returns ErrNoActivity for unused addresses.
func (hc *HyperliquidClient) FirstActivity(ctx context.Context, address string) (time.Time, error) {
	updates, err := hc.LedgerUpdates(ctx, address, time.UnixMilli(0))
	if err != nil {
		return time.Time{}, err
	}
	if len(updates) == 0 {
		return time.Time{}, ErrNoActivity
	}

	earliest := updates[0].Time
	for _, u := range updates[1:] {
		if u.Time < earliest {
			earliest = u.Time
		}
	}
	return time.UnixMilli(earliest), nil
}

// BreakerState reports the circuit breaker state for health reporting.
func (hc *HyperliquidClient) BreakerState() string {
	return hc.breaker.State().String()
}

// Healthy reports whether the breaker is currently letting requests through.
func (hc *HyperliquidClient) Healthy() bool {
	return hc.breaker.State() != gobreaker.StateOpen
}

func (hc *HyperliquidClient) post(ctx context.Context, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	hc.limiter.Take()

	_, err = hc.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.baseURL+"/info", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := hc.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return nil, fmt.Errorf("info API returned status %d: %s", resp.StatusCode, snippet)
		}

		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
