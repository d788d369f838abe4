package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAgeDays_KnownFirstActivity(t *testing.T) {
	src := newMockSource()
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	src.firstActivity["0xa"] = at.AddDate(0, 0, -5)

	ar := NewAgeResolver(zap.NewNop(), src)
	if got := ar.AgeDays(context.Background(), "0xa", at); got != 5 {
		t.Errorf("AgeDays = %d, want 5", got)
	}
}

func TestAgeDays_NeverFundedWalletIsBrandNew(t *testing.T) {
	src := newMockSource()
	ar := NewAgeResolver(zap.NewNop(), src)

	// No firstActivity entry: the source reports no activity at all.
	if got := ar.AgeDays(context.Background(), "0xnew", time.Now()); got != 0 {
		t.Errorf("AgeDays for never-funded wallet = %d, want 0", got)
	}
}

func TestAgeDays_LookupFailure(t *testing.T) {
	src := newMockSource()
	src.activityErr = errors.New("info endpoint down")

	ar := NewAgeResolver(zap.NewNop(), src)
	if got := ar.AgeDays(context.Background(), "0xa", time.Now()); got != AgeUnknown {
		t.Errorf("AgeDays on lookup failure = %d, want AgeUnknown", got)
	}
}

func TestAgeDays_CachesWithinTTL(t *testing.T) {
	src := newMockSource()
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	src.firstActivity["0xa"] = at.AddDate(0, 0, -3)

	ar := NewAgeResolver(zap.NewNop(), src)
	if got := ar.AgeDays(context.Background(), "0xa", at); got != 3 {
		t.Fatalf("AgeDays = %d, want 3", got)
	}

	// Changing the source has no effect until the cached entry expires.
	src.mu.Lock()
	src.firstActivity["0xa"] = at.AddDate(0, 0, -30)
	src.mu.Unlock()

	if got := ar.AgeDays(context.Background(), "0xa", at.Add(time.Hour)); got != 3 {
		t.Errorf("cached AgeDays = %d, want 3", got)
	}

	// Past the 24h TTL the resolver refetches.
	if got := ar.AgeDays(context.Background(), "0xa", at.Add(25*time.Hour)); got != 31 {
		t.Errorf("refreshed AgeDays = %d, want 31", got)
	}
}

func TestAgeDays_FailureRetriedSoon(t *testing.T) {
	src := newMockSource()
	src.activityErr = errors.New("timeout")
	at := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	ar := NewAgeResolver(zap.NewNop(), src)
	if got := ar.AgeDays(context.Background(), "0xa", at); got != AgeUnknown {
		t.Fatalf("AgeDays = %d, want AgeUnknown", got)
	}

	// The endpoint recovers. A failed lookup is only cached for minutes,
	// not the full day, so the next score a while later sees real data.
	src.mu.Lock()
	src.activityErr = nil
	src.firstActivity["0xa"] = at.AddDate(0, 0, -2)
	src.mu.Unlock()

	if got := ar.AgeDays(context.Background(), "0xa", at.Add(10*time.Minute)); got != 2 {
		t.Errorf("AgeDays after recovery = %d, want 2", got)
	}
}
