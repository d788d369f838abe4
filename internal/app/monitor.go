package app

import (
	"context"
	"sync"
	"time"

	"whalewatch/clients/hyperliquid"
	"whalewatch/clients/notifier"
	"whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Source is the exchange history backend the monitor polls.
type Source interface {
	UserFills(ctx context.Context, address string, since time.Time) ([]hyperliquid.Fill, error)
	LedgerUpdates(ctx context.Context, address string, since time.Time) ([]hyperliquid.LedgerUpdate, error)
	FirstActivity(ctx context.Context, address string) (time.Time, error)
	Healthy() bool
}

// Store is the persistence surface the monitor depends on.
type Store interface {
	GetCursor(ctx context.Context, address, eventKind string) (time.Time, bool, error)
	FilterNew(ctx context.Context, address, eventKind string, ids []string) ([]string, error)
	Commit(ctx context.Context, address, eventKind string, cursor time.Time, ids []string) error
	UpsertAddress(ctx context.Context, address, role, promotedBy string) error
	ListAddresses(ctx context.Context) ([]store.AddressRecord, error)
	PromoteVIPs(ctx context.Context, cluster store.ClusterRecord, addresses []string) ([]string, error)
	ClearLookback(ctx context.Context, address string) error
	GetBaseline(ctx context.Context, address string) ([]float64, error)
	SaveBaseline(ctx context.Context, address string, notionals []float64) error
	LoadPositions(ctx context.Context) ([]store.PositionRecord, error)
	SavePositions(ctx context.Context, records []store.PositionRecord) error
}

// MonitorStats is a snapshot of the monitor's counters.
type MonitorStats struct {
	Scans            int64
	APISuccesses     int64
	APIFailures      int64
	AlertsSent       int64
	ClustersDetected int64
	WalletsPromoted  int64
}

// Monitor polls each watched address for fills and ledger updates, emits
// alerts, and feeds the cluster detector. Alerts are emitted before the
// cursor commits, so a crash re-delivers rather than drops.
type Monitor struct {
	logger   *zap.Logger
	cfg      *config.Config
	source   Source
	store    Store
	notifier notifier.Notifier

	normalizer *Normalizer
	watchlist  *Watchlist
	positions  *PositionTracker
	thresholds *ThresholdCalculator
	baselines  *WalletBaselines
	clusters   *ClusterDetector
	scorer     *Scorer
	ages       *AgeResolver

	// One poll per address at a time; sem bounds total concurrency.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
	sem        chan struct{}

	statsMu sync.Mutex
	stats   MonitorStats
}

func NewMonitor(logger *zap.Logger, cfg *config.Config, source Source, st Store, notif notifier.Notifier) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxInFlight := cfg.Watch.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	return &Monitor{
		logger:     logger,
		cfg:        cfg,
		source:     source,
		store:      st,
		notifier:   notif,
		normalizer: NewNormalizer(logger),
		watchlist:  NewWatchlist(logger, st),
		positions:  NewPositionTracker(),
		thresholds: NewThresholdCalculator(cfg.Thresholds),
		baselines:  NewWalletBaselines(cfg.Thresholds),
		clusters:   NewClusterDetector(logger, cfg.Cluster),
		scorer:     NewScorer(cfg.Cluster),
		ages:       NewAgeResolver(logger, source),
		inflight:   make(map[string]struct{}),
		sem:        make(chan struct{}, maxInFlight),
	}
}

// Watchlist exposes the watchlist for the runner and stats server.
func (m *Monitor) Watchlist() *Watchlist {
	return m.watchlist
}

// Clusters exposes the detector so the market scanner can feed it.
func (m *Monitor) Clusters() *ClusterDetector {
	return m.clusters
}

// Positions exposes the position tracker for snapshotting.
func (m *Monitor) Positions() *PositionTracker {
	return m.positions
}

// Baselines exposes the wallet baselines for snapshotting.
func (m *Monitor) Baselines() *WalletBaselines {
	return m.baselines
}

// Init loads the watchlist and restores persisted positions and baselines.
func (m *Monitor) Init(ctx context.Context) error {
	if err := m.watchlist.Load(ctx, m.cfg.Watch.Addresses, m.cfg.Watch.VIPAddresses); err != nil {
		return err
	}

	records, err := m.store.LoadPositions(ctx)
	if err != nil {
		return err
	}
	m.positions.Restore(records)

	for _, addr := range m.watchlist.Addresses() {
		notionals, err := m.store.GetBaseline(ctx, addr)
		if err != nil {
			m.logger.Warn("failed to restore baseline",
				zap.String("address", shortID(addr)),
				zap.Error(err),
			)
			continue
		}
		m.baselines.Restore(addr, notionals)
	}

	m.logger.Info("monitor initialized",
		zap.Int("addresses", m.watchlist.Count()),
		zap.Int("positions", len(records)),
	)
	return nil
}

// Run polls all addresses on the configured interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("wallet monitor started",
		zap.Duration("pollInterval", m.cfg.Watch.PollInterval),
		zap.Int("addresses", m.watchlist.Count()),
	)

	ticker := time.NewTicker(m.cfg.Watch.PollInterval)
	defer ticker.Stop()

	m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("wallet monitor shutting down")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick polls every watched address once, bounded by the concurrency limit.
// Addresses whose previous poll is still running are skipped this round.
func (m *Monitor) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, addr := range m.watchlist.Addresses() {
		if !m.tryLock(addr) {
			continue
		}

		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			defer m.unlock(address)

			select {
			case m.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-m.sem }()

			m.pollAddress(ctx, address)
		}(addr)
	}
	wg.Wait()
}

func (m *Monitor) tryLock(address string) bool {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	if _, busy := m.inflight[address]; busy {
		return false
	}
	m.inflight[address] = struct{}{}
	return true
}

func (m *Monitor) unlock(address string) {
	m.inflightMu.Lock()
	delete(m.inflight, address)
	m.inflightMu.Unlock()
}

func (m *Monitor) pollAddress(ctx context.Context, address string) {
	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	m.statsMu.Lock()
	m.stats.Scans++
	m.statsMu.Unlock()

	vip := m.watchlist.IsVIP(address)
	deepLookback := m.watchlist.NeedsLookback(address)

	fillsOK := m.pollFills(ctx, address, vip, deepLookback)
	ledgerOK := m.pollLedger(ctx, address, vip, deepLookback)

	if deepLookback && fillsOK && ledgerOK {
		if err := m.watchlist.LookbackDone(ctx, address); err != nil {
			m.logger.Warn("failed to clear lookback flag",
				zap.String("address", shortID(address)),
				zap.Error(err),
			)
		} else {
			m.logger.Info("vip backfill complete", zap.String("address", shortID(address)))
		}
	}
}

// sinceFor picks the fetch start: the cursor when one exists, otherwise the
// role's lookback horizon. A pending VIP backfill overrides the cursor with
// the deep horizon; dedup keys keep that replay idempotent.
func (m *Monitor) sinceFor(ctx context.Context, address, kind string, vip, deepLookback bool) (time.Time, error) {
	now := time.Now()

	if deepLookback {
		return now.Add(-m.cfg.Watch.VIPLookback), nil
	}

	cursor, ok, err := m.store.GetCursor(ctx, address, kind)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return cursor, nil
	}

	lookback := m.cfg.Watch.Lookback
	if vip {
		lookback = m.cfg.Watch.VIPLookback
	}
	return now.Add(-lookback), nil
}

func (m *Monitor) pollFills(ctx context.Context, address string, vip, deepLookback bool) bool {
	since, err := m.sinceFor(ctx, address, EventKindFill, vip, deepLookback)
	if err != nil {
		m.logger.Error("failed to read fill cursor",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		return false
	}

	fills, err := m.source.UserFills(ctx, address, since)
	if err != nil {
		m.noteAPIFailure("userFills", address, err)
		return false
	}
	m.noteAPISuccess()

	if len(fills) == 0 {
		return true
	}

	events, skipped := m.normalizer.NormalizeFills(address, fills)

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ExternalID
	}
	fresh, err := m.store.FilterNew(ctx, address, EventKindFill, ids)
	if err != nil {
		m.logger.Error("failed to filter seen fills",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		return false
	}
	freshSet := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		freshSet[id] = struct{}{}
	}

	watermark := since
	for _, ev := range events {
		if ev.Timestamp.After(watermark) {
			watermark = ev.Timestamp
		}
		if _, isNew := freshSet[ev.ExternalID]; !isNew {
			continue
		}
		m.handleTrade(ctx, ev, vip)
	}

	commitIDs := append(fresh, skipped...)
	if err := m.store.Commit(ctx, address, EventKindFill, watermark, commitIDs); err != nil {
		// Alerts already went out; the next poll re-filters them.
		m.logger.Error("failed to commit fill cursor",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		return false
	}

	return true
}

func (m *Monitor) pollLedger(ctx context.Context, address string, vip, deepLookback bool) bool {
	since, err := m.sinceFor(ctx, address, EventKindLedger, vip, deepLookback)
	if err != nil {
		m.logger.Error("failed to read ledger cursor",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		return false
	}

	updates, err := m.source.LedgerUpdates(ctx, address, since)
	if err != nil {
		m.noteAPIFailure("userNonFundingLedgerUpdates", address, err)
		return false
	}
	m.noteAPISuccess()

	if len(updates) == 0 {
		return true
	}

	events, passthrough := m.normalizer.NormalizeLedger(address, updates)

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ExternalID
	}
	fresh, err := m.store.FilterNew(ctx, address, EventKindLedger, ids)
	if err != nil {
		m.logger.Error("failed to filter seen ledger updates",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		return false
	}
	freshSet := make(map[string]struct{}, len(fresh))
	for _, id := range fresh {
		freshSet[id] = struct{}{}
	}

	watermark := since
	for _, u := range updates {
		if ts := u.Timestamp(); ts.After(watermark) {
			watermark = ts
		}
	}
	for _, ev := range events {
		if _, isNew := freshSet[ev.ExternalID]; !isNew {
			continue
		}
		m.handleTransfer(ev, vip)
	}

	commitIDs := append(fresh, passthrough...)
	if err := m.store.Commit(ctx, address, EventKindLedger, watermark, commitIDs); err != nil {
		m.logger.Error("failed to commit ledger cursor",
			zap.String("address", shortID(address)),
			zap.Error(err),
		)
		return false
	}

	return true
}

func (m *Monitor) handleTrade(ctx context.Context, ev TradeEvent, vip bool) {
	metrics.EventsProcessed.WithLabelValues(EventKindFill).Inc()

	positionAfter := m.positions.Apply(ev)

	threshold := m.thresholds.ThresholdFor(ev.Token, ev.Timestamp)
	m.thresholds.Record(ev.Token, ev.NotionalUsd, ev.Timestamp)

	unusual, median := m.baselines.Observe(ev.Address, ev.NotionalUsd)

	var reasons []notifier.AlertReason
	if vip {
		reasons = append(reasons, notifier.AlertReasonVIPActivity)
	}
	if ev.NotionalUsd >= threshold {
		reasons = append(reasons, notifier.AlertReasonLargeTrade)
	}
	if unusual {
		reasons = append(reasons, notifier.AlertReasonUnusualSize)
	}

	if len(reasons) > 0 {
		m.sendTradeAlert(notifier.TradeAlert{
			Address:         ev.Address,
			VIP:             vip,
			Token:           ev.Token,
			Direction:       string(ev.Direction),
			Action:          string(ev.Action),
			Size:            ev.Size,
			Price:           ev.Price,
			NotionalUsd:     ev.NotionalUsd,
			ThresholdUsd:    threshold,
			WalletMedianUsd: median,
			PositionAfter:   positionAfter,
			Reasons:         reasons,
			ExternalID:      ev.ExternalID,
			Timestamp:       ev.Timestamp,
		})
	}

	// Only trades that cleared a size signal feed cluster detection.
	if ev.NotionalUsd >= threshold || unusual {
		if candidate := m.clusters.Observe(ev); candidate != nil {
			m.fireCluster(ctx, candidate)
		}
	}
}

func (m *Monitor) handleTransfer(ev TransferEvent, vip bool) {
	metrics.EventsProcessed.WithLabelValues(EventKindLedger).Inc()

	var reasons []notifier.AlertReason
	if vip {
		reasons = append(reasons, notifier.AlertReasonVIPActivity)
	}
	if ev.AmountUsd >= m.cfg.Thresholds.DepositNotionalUsd {
		reasons = append(reasons, notifier.AlertReasonLargeDeposit)
	}

	if len(reasons) == 0 {
		return
	}

	alert := notifier.TransferAlert{
		Address:    ev.Address,
		VIP:        vip,
		Kind:       ev.Kind,
		Asset:      ev.Asset,
		AmountUsd:  ev.AmountUsd,
		Reasons:    reasons,
		ExternalID: ev.ExternalID,
		Timestamp:  ev.Timestamp,
	}

	m.statsMu.Lock()
	m.stats.AlertsSent++
	m.statsMu.Unlock()
	for _, r := range reasons {
		metrics.AlertsSent.WithLabelValues(string(r)).Inc()
	}

	m.logger.Info("TRANSFER ALERT",
		zap.String("address", shortID(ev.Address)),
		zap.String("kind", ev.Kind),
		zap.Float64("amountUsd", ev.AmountUsd),
		zap.Bool("vip", vip),
	)

	if m.notifier != nil {
		m.notifier.SendTransferAlert(alert)
	}
}

func (m *Monitor) sendTradeAlert(alert notifier.TradeAlert) {
	m.statsMu.Lock()
	m.stats.AlertsSent++
	m.statsMu.Unlock()
	for _, r := range alert.Reasons {
		metrics.AlertsSent.WithLabelValues(string(r)).Inc()
	}

	reasonStrs := make([]string, len(alert.Reasons))
	for i, r := range alert.Reasons {
		reasonStrs[i] = string(r)
	}
	m.logger.Info("TRADE ALERT",
		zap.Strings("reasons", reasonStrs),
		zap.String("address", shortID(alert.Address)),
		zap.String("token", alert.Token),
		zap.String("direction", alert.Direction),
		zap.String("action", alert.Action),
		zap.Float64("notionalUsd", alert.NotionalUsd),
		zap.Float64("thresholdUsd", alert.ThresholdUsd),
	)

	if m.notifier != nil {
		m.notifier.SendTradeAlert(alert)
	}
}

// fireCluster scores a structural candidate and, above the score gate,
// promotes its members and emits the cluster alert. Below the gate the
// trades stay live and may fire later with reinforcements.
func (m *Monitor) fireCluster(ctx context.Context, c *ClusterCandidate) {
	addresses := c.Addresses()

	ages := make(map[string]int, len(addresses))
	for _, addr := range addresses {
		ages[addr] = m.ages.AgeDays(ctx, addr, c.WindowEnd)
	}

	breakdown := m.scorer.Score(ScoreInput{
		Trades:          c.Trades,
		AgesDays:        ages,
		Alignment:       c.Alignment,
		CrossTokenCount: c.CrossTokenCount,
	})

	if breakdown.Total < m.cfg.Cluster.MinScore {
		m.logger.Debug("cluster below score gate",
			zap.String("token", c.Token),
			zap.Int("score", breakdown.Total),
			zap.Int("wallets", len(addresses)),
		)
		return
	}

	clusterID := uuid.NewString()

	record := store.ClusterRecord{
		ID:            clusterID,
		Token:         c.Token,
		Direction:     string(c.Direction),
		Score:         breakdown.Total,
		TotalNotional: c.TotalNotional,
		Members:       addresses,
		WindowStart:   c.WindowStart,
		WindowEnd:     c.WindowEnd,
	}

	promoted, err := m.watchlist.Promote(ctx, record, addresses)
	if err != nil {
		m.logger.Error("cluster promotion failed",
			zap.String("clusterID", clusterID),
			zap.Error(err),
		)
	}
	promotedSet := make(map[string]struct{}, len(promoted))
	for _, addr := range promoted {
		promotedSet[addr] = struct{}{}
	}

	members := make([]notifier.ClusterMember, 0, len(addresses))
	for _, addr := range addresses {
		var tradeCount int
		var notional float64
		for _, t := range c.Trades {
			if t.Address == addr {
				tradeCount++
				notional += t.NotionalUsd
			}
		}
		_, wasPromoted := promotedSet[addr]
		members = append(members, notifier.ClusterMember{
			Address:     addr,
			TradeCount:  tradeCount,
			NotionalUsd: notional,
			AgeDays:     ages[addr],
			Promoted:    wasPromoted,
		})
	}

	ids := make([]string, len(c.Trades))
	for i, t := range c.Trades {
		ids[i] = t.ExternalID
	}
	m.clusters.MarkConsumed(c.Token, ids)

	m.statsMu.Lock()
	m.stats.ClustersDetected++
	m.stats.WalletsPromoted += int64(len(promoted))
	m.stats.AlertsSent++
	m.statsMu.Unlock()
	metrics.ClustersDetected.Inc()
	metrics.AlertsSent.WithLabelValues(string(notifier.AlertReasonClusterFormed)).Inc()

	m.logger.Info("CLUSTER ALERT",
		zap.String("clusterID", clusterID),
		zap.String("token", c.Token),
		zap.String("direction", string(c.Direction)),
		zap.Int("score", breakdown.Total),
		zap.Int("wallets", len(addresses)),
		zap.Int("promoted", len(promoted)),
		zap.Float64("totalNotionalUsd", c.TotalNotional),
	)

	if m.notifier != nil {
		m.notifier.SendClusterAlert(notifier.ClusterAlert{
			ClusterID:        clusterID,
			Token:            c.Token,
			Direction:        string(c.Direction),
			Members:          members,
			TradeCount:       len(c.Trades),
			TotalNotionalUsd: c.TotalNotional,
			WindowStart:      c.WindowStart,
			WindowEnd:        c.WindowEnd,
			Alignment:        c.Alignment,
			Score:            breakdown,
			Timestamp:        time.Now(),
		})
	}
}

// RecordMarketSample feeds one market trade notional into the dynamic
// per-token threshold window.
func (m *Monitor) RecordMarketSample(token string, notionalUsd float64, at time.Time) {
	m.thresholds.Record(token, notionalUsd, at)
}

// ObserveMarketTrade feeds a market-wide trade into cluster detection. The
// caller has already applied the market size floor.
func (m *Monitor) ObserveMarketTrade(ctx context.Context, ev TradeEvent) {
	metrics.EventsProcessed.WithLabelValues(EventKindMarket).Inc()
	if candidate := m.clusters.Observe(ev); candidate != nil {
		m.fireCluster(ctx, candidate)
	}
}

func (m *Monitor) noteAPISuccess() {
	m.statsMu.Lock()
	m.stats.APISuccesses++
	m.statsMu.Unlock()
}

func (m *Monitor) noteAPIFailure(endpoint, address string, err error) {
	m.statsMu.Lock()
	m.stats.APIFailures++
	m.statsMu.Unlock()
	metrics.APIErrors.WithLabelValues(endpoint).Inc()

	m.logger.Warn("source request failed, cursor untouched",
		zap.String("endpoint", endpoint),
		zap.String("address", shortID(address)),
		zap.Error(err),
	)
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() MonitorStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}
