package app

import (
	"fmt"
	"strings"
	"time"
)

// Event kinds used for cursor and dedup keys.
const (
	EventKindFill   = "fill"
	EventKindLedger = "ledger"
	EventKindMarket = "market"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// TradeEvent is a normalized perp fill attributed to one wallet.
type TradeEvent struct {
	Address     string
	Token       string
	Direction   Direction
	Action      Action
	Size        float64
	Price       float64
	NotionalUsd float64
	ExternalID  string
	Timestamp   time.Time
}

// TransferEvent is a normalized deposit or withdrawal.
type TransferEvent struct {
	Address    string
	Kind       string // "DEPOSIT" or "WITHDRAWAL"
	Asset      string
	AmountUsd  float64
	ExternalID string
	Timestamp  time.Time
}

// parseDirection maps an exchange side marker to a direction. The dir string
// ("Open Long", "Close Short") wins when present; the raw side letter is the
// fallback.
func parseDirection(side, dir string) (Direction, error) {
	d := strings.ToLower(dir)
	switch {
	case strings.Contains(d, "long"):
		return DirectionLong, nil
	case strings.Contains(d, "short"):
		return DirectionShort, nil
	}

	switch strings.ToLower(strings.TrimSpace(side)) {
	case "b", "buy", "bid", "long":
		return DirectionLong, nil
	case "a", "s", "sell", "ask", "short":
		return DirectionShort, nil
	}

	return "", fmt.Errorf("unrecognized side %q dir %q", side, dir)
}

// parseAction distinguishes position opens from closes. Anything not
// explicitly a close counts as an open.
func parseAction(dir string) Action {
	if strings.Contains(strings.ToLower(dir), "close") {
		return ActionClose
	}
	return ActionOpen
}

// signedSize returns the position delta a trade applies: opens add in the
// trade direction, closes subtract.
func signedSize(direction Direction, action Action, size float64) float64 {
	sign := 1.0
	if direction == DirectionShort {
		sign = -1.0
	}
	if action == ActionClose {
		sign = -sign
	}
	return sign * size
}
