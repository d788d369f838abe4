package app

import (
	"context"
	"fmt"
	"sync"

	"whalewatch/internal/metrics"
	"whalewatch/internal/store"

	"go.uber.org/zap"
)

type watchEntry struct {
	role          string
	needsLookback bool
}

// Watchlist is the in-memory view of the watched addresses, kept in sync
// with the store. Promotion is one-way: a VIP never returns to regular.
type Watchlist struct {
	logger *zap.Logger
	store  Store

	mu      sync.RWMutex
	entries map[string]*watchEntry
}

func NewWatchlist(logger *zap.Logger, st Store) *Watchlist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchlist{
		logger:  logger,
		store:   st,
		entries: make(map[string]*watchEntry),
	}
}

// Load seeds the watchlist: configured addresses are upserted to the store,
// then the full persisted list (including past promotions) is read back.
func (wl *Watchlist) Load(ctx context.Context, configured, vips []string) error {
	for _, addr := range configured {
		if err := wl.store.UpsertAddress(ctx, addr, store.RoleRegular, store.PromotedManual); err != nil {
			return fmt.Errorf("seed address %s: %w", shortID(addr), err)
		}
	}
	for _, addr := range vips {
		if err := wl.store.UpsertAddress(ctx, addr, store.RoleVIP, store.PromotedManual); err != nil {
			return fmt.Errorf("seed vip %s: %w", shortID(addr), err)
		}
	}

	records, err := wl.store.ListAddresses(ctx)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}

	wl.mu.Lock()
	wl.entries = make(map[string]*watchEntry, len(records))
	for _, rec := range records {
		wl.entries[rec.Address] = &watchEntry{
			role:          rec.Role,
			needsLookback: rec.NeedsLookback,
		}
	}
	wl.mu.Unlock()

	wl.publishGauges()
	wl.logger.Info("watchlist loaded",
		zap.Int("addresses", len(records)),
		zap.Int("vips", wl.VIPCount()),
	)

	return nil
}

// Addresses returns every watched address.
func (wl *Watchlist) Addresses() []string {
	wl.mu.RLock()
	defer wl.mu.RUnlock()

	addrs := make([]string, 0, len(wl.entries))
	for addr := range wl.entries {
		addrs = append(addrs, addr)
	}
	return addrs
}

// IsVIP reports whether an address carries the VIP role.
func (wl *Watchlist) IsVIP(address string) bool {
	wl.mu.RLock()
	defer wl.mu.RUnlock()

	e := wl.entries[address]
	return e != nil && e.role == store.RoleVIP
}

// Contains reports whether the address is watched at all.
func (wl *Watchlist) Contains(address string) bool {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	_, ok := wl.entries[address]
	return ok
}

// NeedsLookback reports whether the address still owes a deep history
// backfill after promotion.
func (wl *Watchlist) NeedsLookback(address string) bool {
	wl.mu.RLock()
	defer wl.mu.RUnlock()

	e := wl.entries[address]
	return e != nil && e.needsLookback
}

// LookbackDone clears the backfill flag in memory and in the store.
func (wl *Watchlist) LookbackDone(ctx context.Context, address string) error {
	if err := wl.store.ClearLookback(ctx, address); err != nil {
		return err
	}

	wl.mu.Lock()
	if e := wl.entries[address]; e != nil {
		e.needsLookback = false
	}
	wl.mu.Unlock()

	return nil
}

// Promote upgrades cluster members to VIP, writing the cluster audit row in
// the same transaction. Returns the addresses that actually changed role.
func (wl *Watchlist) Promote(ctx context.Context, cluster store.ClusterRecord, addresses []string) ([]string, error) {
	promoted, err := wl.store.PromoteVIPs(ctx, cluster, addresses)
	if err != nil {
		return nil, err
	}

	wl.mu.Lock()
	for _, addr := range addresses {
		e := wl.entries[addr]
		if e == nil {
			e = &watchEntry{}
			wl.entries[addr] = e
		}
		if e.role != store.RoleVIP {
			e.role = store.RoleVIP
			e.needsLookback = true
		}
	}
	wl.mu.Unlock()

	wl.publishGauges()
	metrics.WalletsPromoted.Add(float64(len(promoted)))

	return promoted, nil
}

// Count returns the watchlist size.
func (wl *Watchlist) Count() int {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	return len(wl.entries)
}

// VIPCount returns the number of VIP addresses.
func (wl *Watchlist) VIPCount() int {
	wl.mu.RLock()
	defer wl.mu.RUnlock()

	n := 0
	for _, e := range wl.entries {
		if e.role == store.RoleVIP {
			n++
		}
	}
	return n
}

func (wl *Watchlist) publishGauges() {
	wl.mu.RLock()
	var vips, regulars int
	for _, e := range wl.entries {
		if e.role == store.RoleVIP {
			vips++
		} else {
			regulars++
		}
	}
	wl.mu.RUnlock()

	metrics.WatchedAddresses.WithLabelValues(store.RoleVIP).Set(float64(vips))
	metrics.WatchedAddresses.WithLabelValues(store.RoleRegular).Set(float64(regulars))
}
