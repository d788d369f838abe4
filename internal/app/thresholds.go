package app

import (
	"sort"
	"sync"
	"time"

	"whalewatch/config"
)

type notionalSample struct {
	at       time.Time
	notional float64
}

// ThresholdCalculator derives the per-token alert threshold from recent
// market activity. The effective threshold is the lower of the static floor
// and the trailing-window percentile, so busy tokens never get a looser bar
// than the static one.
type ThresholdCalculator struct {
	mu         sync.Mutex
	static     float64
	percentile float64
	window     time.Duration
	minSamples int
	samples    map[string][]notionalSample
}

func NewThresholdCalculator(cfg config.ThresholdsConfig) *ThresholdCalculator {
	return &ThresholdCalculator{
		static:     cfg.TradeNotionalUsd,
		percentile: cfg.Percentile,
		window:     cfg.PercentileWindow,
		minSamples: cfg.MinSamples,
		samples:    make(map[string][]notionalSample),
	}
}

// Record adds a trade notional to the token's trailing window.
func (tc *ThresholdCalculator) Record(token string, notional float64, at time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.samples[token] = append(tc.prune(token, at), notionalSample{at: at, notional: notional})
}

// ThresholdFor returns the alert threshold for a token at the given time.
// With too few samples the static floor applies unchanged.
func (tc *ThresholdCalculator) ThresholdFor(token string, at time.Time) float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	recent := tc.prune(token, at)
	tc.samples[token] = recent

	if len(recent) < tc.minSamples {
		return tc.static
	}

	values := make([]float64, len(recent))
	for i, s := range recent {
		values[i] = s.notional
	}
	p := percentileOf(values, tc.percentile)

	if p < tc.static {
		return p
	}
	return tc.static
}

func (tc *ThresholdCalculator) prune(token string, at time.Time) []notionalSample {
	cutoff := at.Add(-tc.window)
	samples := tc.samples[token]
	keep := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	return keep
}

// percentileOf computes the p-quantile with linear interpolation between
// order statistics. p is in [0,1].
func percentileOf(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// WalletBaselines tracks the trailing trade notionals per wallet and flags
// trades far above the wallet's own typical size.
type WalletBaselines struct {
	mu         sync.Mutex
	maxTrades  int
	multiplier float64
	notionals  map[string][]float64
}

func NewWalletBaselines(cfg config.ThresholdsConfig) *WalletBaselines {
	return &WalletBaselines{
		maxTrades:  cfg.BaselineTrades,
		multiplier: cfg.UnusualMultiplier,
		notionals:  make(map[string][]float64),
	}
}

// Observe checks whether the notional is unusual against the baseline built
// from strictly preceding trades, then records it. The returned median is the
// pre-trade median, 0 when the baseline is empty.
func (wb *WalletBaselines) Observe(address string, notional float64) (unusual bool, median float64) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	history := wb.notionals[address]
	if len(history) > 0 {
		median = medianOf(history)
		unusual = median > 0 && notional >= wb.multiplier*median
	}

	history = append(history, notional)
	if len(history) > wb.maxTrades {
		history = history[len(history)-wb.maxTrades:]
	}
	wb.notionals[address] = history

	return unusual, median
}

// History returns a copy of the recorded notionals for persistence.
func (wb *WalletBaselines) History(address string) []float64 {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	history := wb.notionals[address]
	if len(history) == 0 {
		return nil
	}
	out := make([]float64, len(history))
	copy(out, history)
	return out
}

// Restore seeds a wallet's baseline from persisted notionals.
func (wb *WalletBaselines) Restore(address string, notionals []float64) {
	if len(notionals) == 0 {
		return
	}

	wb.mu.Lock()
	defer wb.mu.Unlock()

	history := make([]float64, len(notionals))
	copy(history, notionals)
	if len(history) > wb.maxTrades {
		history = history[len(history)-wb.maxTrades:]
	}
	wb.notionals[address] = history
}

// Addresses returns every wallet with a recorded baseline.
func (wb *WalletBaselines) Addresses() []string {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	addrs := make([]string, 0, len(wb.notionals))
	for addr := range wb.notionals {
		addrs = append(addrs, addr)
	}
	return addrs
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
