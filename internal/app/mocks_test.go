package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"whalewatch/clients/hyperliquid"
	"whalewatch/clients/notifier"
	"whalewatch/internal/store"
)

// memStore is an in-memory Store implementation for testing.
type memStore struct {
	mu sync.Mutex

	cursors   map[string]time.Time // address|kind
	seen      map[string]map[string]struct{}
	addresses map[string]*store.AddressRecord
	baselines map[string][]float64
	positions []store.PositionRecord
	clusters  []store.ClusterRecord

	commitErr  error
	promoteErr error
	filterErr  error

	commitCalls int
}

func newMemStore() *memStore {
	return &memStore{
		cursors:   make(map[string]time.Time),
		seen:      make(map[string]map[string]struct{}),
		addresses: make(map[string]*store.AddressRecord),
		baselines: make(map[string][]float64),
	}
}

func cursorKey(address, kind string) string {
	return address + "|" + kind
}

func (m *memStore) GetCursor(_ context.Context, address, eventKind string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.cursors[cursorKey(address, eventKind)]
	return t, ok, nil
}

func (m *memStore) FilterNew(_ context.Context, address, eventKind string, ids []string) ([]string, error) {
	if m.filterErr != nil {
		return nil, m.filterErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := m.seen[cursorKey(address, eventKind)]
	var fresh []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

func (m *memStore) Commit(_ context.Context, address, eventKind string, cursor time.Time, ids []string) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commitCalls++
	key := cursorKey(address, eventKind)
	seen := m.seen[key]
	if seen == nil {
		seen = make(map[string]struct{})
		m.seen[key] = seen
	}
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	if cursor.After(m.cursors[key]) {
		m.cursors[key] = cursor
	}
	return nil
}

func (m *memStore) UpsertAddress(_ context.Context, address, role, promotedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.addresses[address]
	if !ok {
		m.addresses[address] = &store.AddressRecord{
			Address:    address,
			Role:       role,
			PromotedBy: promotedBy,
		}
		return nil
	}
	// Existing VIPs are never demoted
	if rec.Role != store.RoleVIP && role == store.RoleVIP {
		rec.Role = store.RoleVIP
		rec.PromotedBy = promotedBy
	}
	return nil
}

func (m *memStore) ListAddresses(_ context.Context) ([]store.AddressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs := make([]string, 0, len(m.addresses))
	for a := range m.addresses {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	records := make([]store.AddressRecord, 0, len(addrs))
	for _, a := range addrs {
		records = append(records, *m.addresses[a])
	}
	return records, nil
}

func (m *memStore) PromoteVIPs(_ context.Context, cluster store.ClusterRecord, addresses []string) ([]string, error) {
	if m.promoteErr != nil {
		return nil, m.promoteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clusters = append(m.clusters, cluster)

	var promoted []string
	for _, addr := range addresses {
		rec, ok := m.addresses[addr]
		if !ok {
			rec = &store.AddressRecord{Address: addr}
			m.addresses[addr] = rec
		}
		if rec.Role != store.RoleVIP {
			rec.Role = store.RoleVIP
			rec.PromotedBy = store.PromotedCluster
			rec.NeedsLookback = true
			promoted = append(promoted, addr)
		}
	}
	return promoted, nil
}

func (m *memStore) ClearLookback(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.addresses[address]; ok {
		rec.NeedsLookback = false
	}
	return nil
}

func (m *memStore) GetBaseline(_ context.Context, address string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baselines[address], nil
}

func (m *memStore) SaveBaseline(_ context.Context, address string, notionals []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[address] = append([]float64(nil), notionals...)
	return nil
}

func (m *memStore) LoadPositions(_ context.Context) ([]store.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.PositionRecord(nil), m.positions...), nil
}

func (m *memStore) SavePositions(_ context.Context, records []store.PositionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append([]store.PositionRecord(nil), records...)
	return nil
}

func (m *memStore) cursorFor(address, kind string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.cursors[cursorKey(address, kind)]
	return t, ok
}

func (m *memStore) isSeen(address, kind, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[cursorKey(address, kind)][id]
	return ok
}

// mockSource is a scripted Source implementation.
type mockSource struct {
	mu sync.Mutex

	fills         map[string][]hyperliquid.Fill
	ledger        map[string][]hyperliquid.LedgerUpdate
	firstActivity map[string]time.Time

	fillsErr    error
	ledgerErr   error
	activityErr error

	fillCalls   int
	ledgerCalls int
}

func newMockSource() *mockSource {
	return &mockSource{
		fills:         make(map[string][]hyperliquid.Fill),
		ledger:        make(map[string][]hyperliquid.LedgerUpdate),
		firstActivity: make(map[string]time.Time),
	}
}

func (m *mockSource) UserFills(_ context.Context, address string, _ time.Time) ([]hyperliquid.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillCalls++
	if m.fillsErr != nil {
		return nil, m.fillsErr
	}
	return m.fills[address], nil
}

func (m *mockSource) LedgerUpdates(_ context.Context, address string, _ time.Time) ([]hyperliquid.LedgerUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgerCalls++
	if m.ledgerErr != nil {
		return nil, m.ledgerErr
	}
	return m.ledger[address], nil
}

func (m *mockSource) FirstActivity(_ context.Context, address string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activityErr != nil {
		return time.Time{}, m.activityErr
	}
	t, ok := m.firstActivity[address]
	if !ok {
		return time.Time{}, hyperliquid.ErrNoActivity
	}
	return t, nil
}

func (m *mockSource) Healthy() bool {
	return true
}

// captureNotifier records every alert it receives.
type captureNotifier struct {
	mu sync.Mutex

	tradeAlerts    []notifier.TradeAlert
	transferAlerts []notifier.TransferAlert
	clusterAlerts  []notifier.ClusterAlert
	summaries      []notifier.SummaryReport
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{}
}

func (c *captureNotifier) SendTradeAlert(alert notifier.TradeAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradeAlerts = append(c.tradeAlerts, alert)
}

func (c *captureNotifier) SendTransferAlert(alert notifier.TransferAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferAlerts = append(c.transferAlerts, alert)
}

func (c *captureNotifier) SendClusterAlert(alert notifier.ClusterAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clusterAlerts = append(c.clusterAlerts, alert)
}

func (c *captureNotifier) SendSummary(report notifier.SummaryReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, report)
}

func (c *captureNotifier) Close() error {
	return nil
}

func (c *captureNotifier) trades() []notifier.TradeAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.TradeAlert(nil), c.tradeAlerts...)
}

func (c *captureNotifier) transfers() []notifier.TransferAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.TransferAlert(nil), c.transferAlerts...)
}

func (c *captureNotifier) clusters() []notifier.ClusterAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.ClusterAlert(nil), c.clusterAlerts...)
}
