package app

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestSnapshotter_SavePositions(t *testing.T) {
	ms := newMemStore()
	pt := NewPositionTracker()
	wb := NewWalletBaselines(thresholdsConfig())
	sn := NewStateSnapshotter(zap.NewNop(), ms, pt, wb, 0)

	// Nothing changed yet: no write.
	if err := sn.SavePositions(context.Background()); err != nil {
		t.Fatalf("SavePositions: %v", err)
	}
	if len(ms.positions) != 0 {
		t.Fatalf("clean snapshot wrote %d records", len(ms.positions))
	}

	pt.Apply(tradeFor("0xa", "BTC", DirectionLong, ActionOpen, 5))
	pt.Apply(tradeFor("0xb", "ETH", DirectionShort, ActionOpen, 2))

	if err := sn.SavePositions(context.Background()); err != nil {
		t.Fatalf("SavePositions: %v", err)
	}
	if len(ms.positions) != 2 {
		t.Errorf("persisted positions = %d, want 2", len(ms.positions))
	}
}

func TestSnapshotter_SaveBaselines(t *testing.T) {
	ms := newMemStore()
	pt := NewPositionTracker()
	wb := NewWalletBaselines(thresholdsConfig())
	sn := NewStateSnapshotter(zap.NewNop(), ms, pt, wb, 0)

	wb.Observe("0xa", 100_000)
	wb.Observe("0xa", 200_000)
	wb.Observe("0xb", 50_000)

	if err := sn.SaveBaselines(context.Background()); err != nil {
		t.Fatalf("SaveBaselines: %v", err)
	}

	if got := ms.baselines["0xa"]; len(got) != 2 {
		t.Errorf("baseline 0xa = %v, want 2 entries", got)
	}
	if got := ms.baselines["0xb"]; len(got) != 1 || got[0] != 50_000 {
		t.Errorf("baseline 0xb = %v, want [50000]", got)
	}
}
