package app

import (
	"sort"
	"strings"

	"whalewatch/clients/hyperliquid"
	"whalewatch/internal/metrics"

	"go.uber.org/zap"
)

// Normalizer converts raw exchange records into ordered events. Records that
// cannot be classified are skipped but their IDs are still returned so the
// caller marks them seen and never reprocesses them.
type Normalizer struct {
	logger *zap.Logger
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// NormalizeFills converts fills into trade events sorted by timestamp, with
// the external ID as tiebreaker. The second return holds the IDs of fills
// that failed classification.
func (n *Normalizer) NormalizeFills(address string, fills []hyperliquid.Fill) ([]TradeEvent, []string) {
	events := make([]TradeEvent, 0, len(fills))
	var skipped []string

	for _, f := range fills {
		direction, err := parseDirection(f.Side, f.Dir)
		if err != nil {
			n.logger.Warn("skipping unclassifiable fill",
				zap.String("address", shortID(address)),
				zap.String("externalID", f.ExternalID()),
				zap.Error(err),
			)
			metrics.ClassificationSkips.Inc()
			skipped = append(skipped, f.ExternalID())
			continue
		}

		px := f.PxFloat()
		sz := f.SzFloat()
		events = append(events, TradeEvent{
			Address:     address,
			Token:       f.Coin,
			Direction:   direction,
			Action:      parseAction(f.Dir),
			Size:        sz,
			Price:       px,
			NotionalUsd: px * sz,
			ExternalID:  f.ExternalID(),
			Timestamp:   f.Timestamp(),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ExternalID < events[j].ExternalID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, skipped
}

// NormalizeLedger converts ledger updates into transfer events. Updates of
// other kinds (funding, spot transfers between sub-accounts) produce no event
// but their IDs are returned so they are marked seen.
func (n *Normalizer) NormalizeLedger(address string, updates []hyperliquid.LedgerUpdate) ([]TransferEvent, []string) {
	events := make([]TransferEvent, 0, len(updates))
	var passthrough []string

	for _, u := range updates {
		kind := ""
		switch strings.ToLower(u.Delta.Type) {
		case "deposit":
			kind = "DEPOSIT"
		case "withdraw", "withdrawal":
			kind = "WITHDRAWAL"
		default:
			passthrough = append(passthrough, u.ExternalID())
			continue
		}

		amount := u.UsdcFloat()
		if amount < 0 {
			amount = -amount
		}

		events = append(events, TransferEvent{
			Address:    address,
			Kind:       kind,
			Asset:      "USDC",
			AmountUsd:  amount,
			ExternalID: u.ExternalID(),
			Timestamp:  u.Timestamp(),
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ExternalID < events[j].ExternalID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, passthrough
}
