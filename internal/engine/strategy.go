// Package engine contains the late-entry strategy state machine, the
// per-market trader loop, and the orchestrator that runs one trader per
// enabled coin.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
)

// MarketState is the per-window strategy state.
type MarketState string

const (
	StateIdle        MarketState = "IDLE"
	StateEntryWindow MarketState = "ENTRY_WINDOW"
	StateEntered     MarketState = "ENTERED"
	StateExpired     MarketState = "EXPIRED"
	StateExitPending MarketState = "EXIT_PENDING"
	StateClosed      MarketState = "CLOSED"
)

// StrategyParams are the knobs of one coin's late-entry strategy. Sizing
// boundaries are strict: exactly 180 seconds remaining sizes as the middle
// bucket, exactly 120 as the last.
type StrategyParams struct {
	EntryWindowSec int
	EntryFrequency time.Duration // minimum spacing between entry evaluations
	MinConfidence  float64
	PriceMax       float64
	MaxSpread      float64

	SizeAbove180 float64 // contracts when more than 180s remain
	SizeAbove120 float64 // contracts when more than 120s remain
	SizeBelow120 float64 // contracts otherwise

	MaxQuoteAge time.Duration

	StopLossUSD     float64 // negative; exit when unrealized PnL falls to or below
	FlipStopEnabled bool
}

// Strategy is one coin's decision core. It is driven by the trader with
// order book snapshots and is not safe for concurrent use; each trader owns
// exactly one Strategy.
//
// Per window the strategy makes at most one entry attempt. A rejected
// attempt expires the window rather than retrying: by the time a rejection
// comes back the book has moved and the edge is gone.
type Strategy struct {
	params StrategyParams
	logger *slog.Logger

	state     MarketState
	slug      string
	attempted bool
	lastEval  time.Time
}

// NewStrategy creates a Strategy in the idle state.
func NewStrategy(params StrategyParams, logger *slog.Logger) *Strategy {
	return &Strategy{
		params: params,
		logger: logger.With(slog.String("component", "strategy")),
		state:  StateIdle,
	}
}

// State returns the current per-window state.
func (s *Strategy) State() MarketState { return s.state }

// ResetWindow arms the strategy for a new market window.
func (s *Strategy) ResetWindow(slug string) {
	s.state = StateIdle
	s.slug = slug
	s.attempted = false
	s.lastEval = time.Time{}
}

// EvaluateEntry decides whether to enter on this snapshot. It returns the
// decision and true when every gate passes; the caller then submits the
// order and reports the outcome through MarkEntered or MarkExpired.
func (s *Strategy) EvaluateEntry(snap domain.OrderBookSnapshot, market domain.Market, now time.Time) (domain.EntryDecision, bool) {
	if s.attempted || s.state == StateEntered || s.state == StateExpired {
		return domain.EntryDecision{}, false
	}

	secondsLeft := market.SecondsToClose(now)
	if secondsLeft <= 0 {
		s.state = StateExpired
		return domain.EntryDecision{}, false
	}
	if secondsLeft > s.params.EntryWindowSec {
		s.state = StateIdle
		return domain.EntryDecision{}, false
	}
	s.state = StateEntryWindow

	// Re-evaluate at most once per frequency interval.
	if !s.lastEval.IsZero() && now.Sub(s.lastEval) < s.params.EntryFrequency {
		return domain.EntryDecision{}, false
	}
	s.lastEval = now

	if !snap.AsksFresh(now, s.params.MaxQuoteAge) {
		s.logger.Debug("entry skipped, stale asks", slog.String("market", snap.Slug))
		return domain.EntryDecision{}, false
	}

	spread := snap.SpreadSum()
	if spread <= 0 || spread > s.params.MaxSpread {
		s.logger.Debug("entry skipped, unhealthy book",
			slog.String("market", snap.Slug),
			slog.Float64("spread_sum", spread),
		)
		return domain.EntryDecision{}, false
	}

	confidence := snap.Confidence()
	if confidence < s.params.MinConfidence {
		s.logger.Debug("entry skipped, low confidence",
			slog.String("market", snap.Slug),
			slog.Float64("confidence", confidence),
		)
		return domain.EntryDecision{}, false
	}

	side := snap.Favorite()
	price := snap.AskOf(side)
	if price > s.params.PriceMax {
		s.logger.Debug("entry skipped, favorite too expensive",
			slog.String("market", snap.Slug),
			slog.Float64("ask", price),
		)
		return domain.EntryDecision{}, false
	}

	s.attempted = true
	decision := domain.EntryDecision{
		Coin:        snap.Coin,
		Slug:        snap.Slug,
		Side:        side,
		Contracts:   s.SizeFor(secondsLeft),
		Price:       price,
		Confidence:  confidence,
		SecondsLeft: secondsLeft,
		DecidedAt:   now,
	}
	s.logger.Info("entry decided",
		slog.String("market", decision.Slug),
		slog.String("side", string(decision.Side)),
		slog.Float64("price", decision.Price),
		slog.Float64("contracts", decision.Contracts),
		slog.Float64("confidence", decision.Confidence),
		slog.Int("seconds_left", decision.SecondsLeft),
	)
	return decision, true
}

// SizeFor maps seconds remaining to the contract count. More time left
// means more uncertainty about the outcome, so earlier entries are smaller.
func (s *Strategy) SizeFor(secondsLeft int) float64 {
	switch {
	case secondsLeft > 180:
		return s.params.SizeAbove180
	case secondsLeft > 120:
		return s.params.SizeAbove120
	default:
		return s.params.SizeBelow120
	}
}

// EvaluateExit checks exit rules against an open position. Stop-loss is
// checked before flip-stop so the reported reason reflects the tighter
// condition when both trigger on the same snapshot.
func (s *Strategy) EvaluateExit(p domain.Position, snap domain.OrderBookSnapshot) (domain.ExitReason, bool) {
	if p.Status != domain.PositionStatusOpen {
		return "", false
	}

	if p.UnrealizedPnL <= s.params.StopLossUSD {
		s.logger.Warn("stop loss triggered",
			slog.String("market", p.Slug),
			slog.Float64("unrealized_pnl", p.UnrealizedPnL),
			slog.Float64("threshold", s.params.StopLossUSD),
		)
		return domain.ExitReasonStopLoss, true
	}

	if s.params.FlipStopEnabled {
		heldAsk := snap.AskOf(p.Side)
		oppAsk := snap.AskOf(p.Side.Opposite())
		if oppAsk > heldAsk && heldAsk > 0 {
			s.logger.Warn("flip stop triggered",
				slog.String("market", p.Slug),
				slog.String("held", string(p.Side)),
				slog.Float64("held_ask", heldAsk),
				slog.Float64("opposite_ask", oppAsk),
			)
			return domain.ExitReasonFlip, true
		}
	}

	return "", false
}

// MarkEntered records a successful entry fill.
func (s *Strategy) MarkEntered() { s.state = StateEntered }

// MarkExpired records a failed or rejected entry attempt. The window takes
// no further entries.
func (s *Strategy) MarkExpired() { s.state = StateExpired }

// MarkExitPending records that an exit order is in flight.
func (s *Strategy) MarkExitPending() { s.state = StateExitPending }

// MarkClosed records that the position is flat.
func (s *Strategy) MarkClosed() { s.state = StateClosed }

func (s *Strategy) String() string {
	return fmt.Sprintf("strategy{state=%s slug=%s attempted=%v}", s.state, s.slug, s.attempted)
}
