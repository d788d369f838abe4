package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"whalewatch/clients/hyperliquid"

	"go.uber.org/zap"
)

// AgeUnknown marks a wallet whose first activity could not be determined.
const AgeUnknown = -1

type ageEntry struct {
	firstActivity time.Time
	known         bool
	fetchedAt     time.Time
}

// AgeResolver resolves wallet ages from first on-chain activity, with a
// daily-refresh cache so scoring never hammers the history endpoint.
type AgeResolver struct {
	logger *zap.Logger
	source Source

	mu      sync.Mutex
	entries map[string]ageEntry
	ttl     time.Duration
}

func NewAgeResolver(logger *zap.Logger, source Source) *AgeResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgeResolver{
		logger:  logger,
		source:  source,
		entries: make(map[string]ageEntry),
		ttl:     24 * time.Hour,
	}
}

// AgeDays returns the wallet age in whole days at the reference time, or
// AgeUnknown when the history is unavailable. Lookup failures are cached
// briefly so a flapping endpoint does not stall scoring.
func (ar *AgeResolver) AgeDays(ctx context.Context, address string, at time.Time) int {
	ar.mu.Lock()
	entry, ok := ar.entries[address]
	ar.mu.Unlock()

	if !ok || at.Sub(entry.fetchedAt) > ar.ttl {
		entry = ar.refresh(ctx, address, at)
	}

	if !entry.known {
		return AgeUnknown
	}

	days := int(at.Sub(entry.firstActivity).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days
}

func (ar *AgeResolver) refresh(ctx context.Context, address string, at time.Time) ageEntry {
	first, err := ar.source.FirstActivity(ctx, address)

	entry := ageEntry{fetchedAt: at}
	switch {
	case err == nil:
		entry.firstActivity = first
		entry.known = true
	case errors.Is(err, hyperliquid.ErrNoActivity):
		// Never-funded wallet: treat as brand new.
		entry.firstActivity = at
		entry.known = true
	default:
		ar.logger.Warn("wallet age lookup failed",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		// Cache the miss for a short while only.
		entry.fetchedAt = at.Add(-ar.ttl).Add(5 * time.Minute)
	}

	ar.mu.Lock()
	ar.entries[address] = entry
	ar.mu.Unlock()

	return entry
}
