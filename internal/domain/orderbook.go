package domain

import "time"

// Quote is the best bid/ask for one outcome token, with per-side update
// timestamps for staleness detection.
type Quote struct {
	Bid   float64
	Ask   float64
	BidAt time.Time
	AskAt time.Time
}

// OrderBookSnapshot is the normalized top-of-book view of one market at a
// point in time. Seq increases monotonically per market so consumers can
// detect and discard superseded snapshots. Owned by the Data Feed that
// produced it; the strategy layer reads it and never mutates it.
type OrderBookSnapshot struct {
	Coin       Coin
	Slug       string
	Seq        uint64
	Up         Quote
	Down       Quote
	ReceivedAt time.Time
}

// Confidence is the absolute ask-price gap between the two outcomes. The
// wider the gap, the stronger the market consensus on the favorite.
func (s OrderBookSnapshot) Confidence() float64 {
	d := s.Up.Ask - s.Down.Ask
	if d < 0 {
		return -d
	}
	return d
}

// Favorite returns the side with the higher ask price, interpreted as the
// consensus likely winner. Ties go to Up.
func (s OrderBookSnapshot) Favorite() Outcome {
	if s.Down.Ask > s.Up.Ask {
		return OutcomeDown
	}
	return OutcomeUp
}

// AskOf returns the current best ask for the given side.
func (s OrderBookSnapshot) AskOf(side Outcome) float64 {
	if side == OutcomeUp {
		return s.Up.Ask
	}
	return s.Down.Ask
}

// BidOf returns the current best bid for the given side.
func (s OrderBookSnapshot) BidOf(side Outcome) float64 {
	if side == OutcomeUp {
		return s.Up.Bid
	}
	return s.Down.Bid
}

// SpreadSum is upAsk+downAsk. A healthy binary book sums to slightly above
// 1.0; values far beyond that (or zero) indicate a crossed or empty book.
func (s OrderBookSnapshot) SpreadSum() float64 {
	return s.Up.Ask + s.Down.Ask
}

// AsksFresh reports whether both ask sides were updated within maxAge of now.
func (s OrderBookSnapshot) AsksFresh(now time.Time, maxAge time.Duration) bool {
	if s.Up.AskAt.IsZero() || s.Down.AskAt.IsZero() {
		return false
	}
	return now.Sub(s.Up.AskAt) <= maxAge && now.Sub(s.Down.AskAt) <= maxAge
}
