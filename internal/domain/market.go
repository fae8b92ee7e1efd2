package domain

import "time"

// Coin identifies one of the tradable crypto up/down series.
type Coin string

const (
	CoinBTC Coin = "btc"
	CoinETH Coin = "eth"
	CoinSOL Coin = "sol"
	CoinXRP Coin = "xrp"
)

// Outcome is one side of a binary up/down market.
type Outcome string

const (
	OutcomeUp   Outcome = "up"
	OutcomeDown Outcome = "down"
)

// Opposite returns the other side of the market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeUp {
		return OutcomeDown
	}
	return OutcomeUp
}

// MarketStatus represents the lifecycle state of a 15-minute market window.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is one coin's 15-minute up/down contract instance. A new Market is
// created when a contract period begins and superseded at window close.
// Everything except quotes is immutable after discovery.
type Market struct {
	Coin        Coin
	Slug        string
	ConditionID string
	UpTokenID   string
	DownTokenID string
	NegRisk     bool
	WindowStart time.Time
	WindowEnd   time.Time
	Status      MarketStatus
}

// SecondsToClose returns the whole seconds remaining until window end at the
// given instant. Negative once the window has closed.
func (m Market) SecondsToClose(now time.Time) int {
	return int(m.WindowEnd.Sub(now) / time.Second)
}

// TokenID returns the outcome token id for the given side.
func (m Market) TokenID(side Outcome) string {
	if side == OutcomeUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}
