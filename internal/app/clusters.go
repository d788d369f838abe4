package app

import (
	"sync"
	"time"

	"whalewatch/config"

	"go.uber.org/zap"
)

// ClusterCandidate is a group of same-direction trades that passed the
// structural gates and is ready for scoring.
type ClusterCandidate struct {
	Token           string
	Direction       Direction
	Trades          []TradeEvent
	Alignment       float64
	TotalNotional   float64
	WindowStart     time.Time
	WindowEnd       time.Time
	CrossTokenCount int
}

// Addresses returns the distinct wallets in the candidate.
func (c *ClusterCandidate) Addresses() []string {
	seen := make(map[string]struct{})
	var addrs []string
	for _, t := range c.Trades {
		if _, ok := seen[t.Address]; !ok {
			seen[t.Address] = struct{}{}
			addrs = append(addrs, t.Address)
		}
	}
	return addrs
}

// ClusterDetector maintains a sliding trade window per token and surfaces
// candidate clusters. Trades that already fired an alert are consumed and
// never contribute to a second cluster on the same token.
type ClusterDetector struct {
	logger *zap.Logger
	cfg    config.ClusterConfig

	mu      sync.Mutex
	windows map[string][]TradeEvent
	// consumed maps token -> external ID -> trade timestamp. Entries are
	// evicted with the window prune once they age past the time window.
	consumed map[string]map[string]time.Time
}

func NewClusterDetector(logger *zap.Logger, cfg config.ClusterConfig) *ClusterDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClusterDetector{
		logger:   logger,
		cfg:      cfg,
		windows:  make(map[string][]TradeEvent),
		consumed: make(map[string]map[string]time.Time),
	}
}

// Observe adds a trade to its token window and returns a candidate when the
// window passes all structural gates, nil otherwise.
func (cd *ClusterDetector) Observe(ev TradeEvent) *ClusterCandidate {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.isConsumed(ev.Token, ev.ExternalID) {
		return nil
	}

	window := cd.pruneLocked(ev.Token, ev.Timestamp)
	window = append(window, ev)
	cd.windows[ev.Token] = window

	return cd.evaluateLocked(ev.Token, window)
}

func (cd *ClusterDetector) evaluateLocked(token string, window []TradeEvent) *ClusterCandidate {
	if len(window) < cd.cfg.MinTrades {
		return nil
	}

	// Alignment over the whole window, direction by notional.
	var longNotional, shortNotional float64
	for _, t := range window {
		if t.Direction == DirectionLong {
			longNotional += t.NotionalUsd
		} else {
			shortNotional += t.NotionalUsd
		}
	}
	total := longNotional + shortNotional
	if total <= 0 {
		return nil
	}

	direction := DirectionLong
	dominant := longNotional
	if shortNotional > longNotional {
		direction = DirectionShort
		dominant = shortNotional
	}
	alignment := dominant / total
	if alignment < cd.cfg.MinAlignment {
		return nil
	}

	var trades []TradeEvent
	var clusterNotional float64
	for _, t := range window {
		if t.Direction == direction {
			trades = append(trades, t)
			clusterNotional += t.NotionalUsd
		}
	}

	if len(trades) < cd.cfg.MinTrades {
		return nil
	}
	if distinctAddresses(trades) < cd.cfg.MinWallets {
		return nil
	}
	if clusterNotional < cd.cfg.MinNotionalUsd {
		return nil
	}

	first := trades[0].Timestamp
	last := trades[0].Timestamp
	for _, t := range trades[1:] {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}

	candidate := &ClusterCandidate{
		Token:         token,
		Direction:     direction,
		Trades:        trades,
		Alignment:     alignment,
		TotalNotional: clusterNotional,
		WindowStart:   first,
		WindowEnd:     last,
	}
	candidate.CrossTokenCount = cd.crossTokenCountLocked(token, candidate.Addresses(), last)

	return candidate
}

// crossTokenCountLocked counts the tokens, the cluster token included, where
// at least two of the cluster's wallets traded inside the current window.
func (cd *ClusterDetector) crossTokenCountLocked(clusterToken string, addresses []string, at time.Time) int {
	members := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		members[a] = struct{}{}
	}

	count := 1 // cluster token itself qualifies by construction
	cutoff := at.Add(-cd.cfg.TimeWindow)
	for token, window := range cd.windows {
		if token == clusterToken {
			continue
		}
		seen := make(map[string]struct{})
		for _, t := range window {
			if t.Timestamp.Before(cutoff) {
				continue
			}
			if _, ok := members[t.Address]; ok {
				seen[t.Address] = struct{}{}
			}
		}
		if len(seen) >= 2 {
			count++
		}
	}
	return count
}

// MarkConsumed retires trades after their cluster fired so they cannot
// contribute to another alert on the same token.
func (cd *ClusterDetector) MarkConsumed(token string, externalIDs []string) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	set := cd.consumed[token]
	if set == nil {
		set = make(map[string]time.Time)
		cd.consumed[token] = set
	}

	// Record each consumed trade at its own timestamp so the entry expires
	// with the window instead of accumulating forever.
	window := cd.windows[token]
	stamps := make(map[string]time.Time, len(window))
	for _, t := range window {
		stamps[t.ExternalID] = t.Timestamp
	}
	for _, id := range externalIDs {
		ts, ok := stamps[id]
		if !ok {
			ts = time.Now()
		}
		set[id] = ts
	}

	// Drop them from the live window as well.
	keep := window[:0]
	for _, t := range window {
		if _, gone := set[t.ExternalID]; !gone {
			keep = append(keep, t)
		}
	}
	cd.windows[token] = keep
}

func (cd *ClusterDetector) isConsumed(token, externalID string) bool {
	set := cd.consumed[token]
	if set == nil {
		return false
	}
	_, ok := set[externalID]
	return ok
}

func (cd *ClusterDetector) pruneLocked(token string, at time.Time) []TradeEvent {
	cutoff := at.Add(-cd.cfg.TimeWindow)
	window := cd.windows[token]
	keep := window[:0]
	for _, t := range window {
		if t.Timestamp.After(cutoff) {
			keep = append(keep, t)
		}
	}

	// Consumed IDs outside the window can no longer replay into it.
	for id, ts := range cd.consumed[token] {
		if !ts.After(cutoff) {
			delete(cd.consumed[token], id)
		}
	}
	if len(cd.consumed[token]) == 0 {
		delete(cd.consumed, token)
	}

	return keep
}

// WindowSize reports the live trade count for a token, for stats.
func (cd *ClusterDetector) WindowSize(token string) int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.windows[token])
}
