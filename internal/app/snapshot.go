package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StateSnapshotter periodically flushes in-memory position estimates and
// wallet baselines to the store, and once more on shutdown. Cursors and seen
// keys commit inline with polling; only the advisory state goes through here.
type StateSnapshotter struct {
	logger    *zap.Logger
	store     Store
	positions *PositionTracker
	baselines *WalletBaselines
	interval  time.Duration
}

func NewStateSnapshotter(logger *zap.Logger, st Store, positions *PositionTracker, baselines *WalletBaselines, interval time.Duration) *StateSnapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &StateSnapshotter{
		logger:    logger,
		store:     st,
		positions: positions,
		baselines: baselines,
		interval:  interval,
	}
}

// SavePositions flushes position estimates when they changed since the last
// snapshot.
func (sn *StateSnapshotter) SavePositions(ctx context.Context) error {
	records := sn.positions.Snapshot()
	if records == nil {
		sn.logger.Debug("positions unchanged, skipping snapshot")
		return nil
	}

	if err := sn.store.SavePositions(ctx, records); err != nil {
		return err
	}

	sn.logger.Info("saved position snapshot", zap.Int("positions", len(records)))
	return nil
}

// SaveBaselines flushes every wallet's trailing notional history.
func (sn *StateSnapshotter) SaveBaselines(ctx context.Context) error {
	addrs := sn.baselines.Addresses()
	saved := 0
	for _, addr := range addrs {
		history := sn.baselines.History(addr)
		if len(history) == 0 {
			continue
		}
		if err := sn.store.SaveBaseline(ctx, addr, history); err != nil {
			return err
		}
		saved++
	}

	if saved > 0 {
		sn.logger.Info("saved wallet baselines", zap.Int("wallets", saved))
	}
	return nil
}

// Run starts the periodic snapshot loop.
func (sn *StateSnapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(sn.interval)
	defer ticker.Stop()

	sn.logger.Info("state snapshotter started",
		zap.Duration("interval", sn.interval),
	)

	for {
		select {
		case <-ctx.Done():
			// Final save on shutdown
			saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sn.SavePositions(saveCtx); err != nil {
				sn.logger.Error("failed to save positions on shutdown", zap.Error(err))
			}
			if err := sn.SaveBaselines(saveCtx); err != nil {
				sn.logger.Error("failed to save baselines on shutdown", zap.Error(err))
			}
			cancel()
			sn.logger.Info("state snapshotter stopped")
			return

		case <-ticker.C:
			if err := sn.SavePositions(ctx); err != nil {
				sn.logger.Warn("failed to save positions", zap.Error(err))
			}
			if err := sn.SaveBaselines(ctx); err != nil {
				sn.logger.Warn("failed to save baselines", zap.Error(err))
			}
		}
	}
}
