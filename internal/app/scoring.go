package app

import (
	"math"
	"sort"
	"time"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

// ScoreInput carries everything the suspicion score needs. Ages use
// AgeUnknown for wallets whose history could not be resolved; those wallets
// simply contribute nothing to the age factor.
type ScoreInput struct {
	Trades          []TradeEvent
	AgesDays        map[string]int
	Alignment       float64
	CrossTokenCount int
}

// Scorer computes the 0-100 suspicion score for a candidate cluster.
type Scorer struct {
	notionalSteps  []float64
	notionalPoints []int
}

func NewScorer(cfg config.ClusterConfig) *Scorer {
	return &Scorer{
		notionalSteps:  cfg.NotionalSteps,
		notionalPoints: cfg.NotionalPoints,
	}
}

// Score returns the per-factor breakdown. A missing input zeroes its factor
// and never fails the whole computation.
func (s *Scorer) Score(in ScoreInput) notifier.ScoreBreakdown {
	var b notifier.ScoreBreakdown
	if len(in.Trades) == 0 {
		return b
	}

	span := tradeSpan(in.Trades)
	b.Timing = timingPoints(span)
	b.Notional = s.notionalPointsFor(totalNotional(in.Trades))
	b.WalletCount = walletCountPoints(distinctAddresses(in.Trades))
	b.WalletAge = agePoints(in.AgesDays)
	b.Alignment = alignmentPoints(in.Alignment)
	b.SizeClustering = sizeClusteringPoints(in.Trades)
	b.CrossToken = crossTokenPoints(in.CrossTokenCount)
	if span <= time.Minute {
		b.Precision = 10
	}

	total := b.Timing + b.Notional + b.WalletCount + b.WalletAge +
		b.Alignment + b.SizeClustering + b.CrossToken + b.Precision
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	b.Total = total

	return b
}

func tradeSpan(trades []TradeEvent) time.Duration {
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
	return last.Sub(first)
}

func timingPoints(span time.Duration) int {
	switch {
	case span < time.Minute:
		return 30
	case span < 5*time.Minute:
		return 25
	case span < 15*time.Minute:
		return 15
	case span < 30*time.Minute:
		return 10
	case span < time.Hour:
		return 5
	default:
		return 0
	}
}

func (s *Scorer) notionalPointsFor(total float64) int {
	for i, step := range s.notionalSteps {
		if total >= step && i < len(s.notionalPoints) {
			return s.notionalPoints[i]
		}
	}
	return 0
}

func walletCountPoints(wallets int) int {
	points := wallets * 3
	if points > 15 {
		points = 15
	}
	return points
}

// agePoints scores the median age of the wallets with known history. Fresh
// wallets making coordinated size are the strongest signal.
func agePoints(ages map[string]int) int {
	var known []int
	for _, d := range ages {
		if d != AgeUnknown {
			known = append(known, d)
		}
	}
	if len(known) == 0 {
		return 0
	}

	sort.Ints(known)
	median := known[len(known)/2]
	if len(known)%2 == 0 {
		median = (known[len(known)/2-1] + known[len(known)/2]) / 2
	}

	switch {
	case median < 3:
		return 10
	case median < 7:
		return 7
	case median < 14:
		return 4
	default:
		return 0
	}
}

func alignmentPoints(alignment float64) int {
	switch {
	case alignment > 0.95:
		return 10
	case alignment > 0.90:
		return 8
	case alignment > 0.80:
		return 5
	default:
		return 0
	}
}

// sizeClusteringPoints rewards near-identical trade notionals, measured by
// the coefficient of variation.
func sizeClusteringPoints(trades []TradeEvent) int {
	if len(trades) < 2 {
		return 0
	}

	var sum float64
	for _, t := range trades {
		sum += t.NotionalUsd
	}
	mean := sum / float64(len(trades))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, t := range trades {
		d := t.NotionalUsd - mean
		variance += d * d
	}
	variance /= float64(len(trades))
	cv := math.Sqrt(variance) / mean

	switch {
	case cv < 0.1:
		return 15
	case cv < 0.2:
		return 10
	case cv < 0.3:
		return 5
	default:
		return 0
	}
}

func crossTokenPoints(count int) int {
	switch {
	case count >= 3:
		return 10
	case count >= 2:
		return 5
	default:
		return 0
	}
}

func totalNotional(trades []TradeEvent) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.NotionalUsd
	}
	return sum
}

func distinctAddresses(trades []TradeEvent) int {
	seen := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		seen[t.Address] = struct{}{}
	}
	return len(seen)
}
