package engine

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updownbot/internal/domain"
)

func testParams() StrategyParams {
	return StrategyParams{
		EntryWindowSec:  240,
		EntryFrequency:  7 * time.Second,
		MinConfidence:   0.30,
		PriceMax:        0.92,
		MaxSpread:       1.05,
		SizeAbove180:    8,
		SizeAbove120:    10,
		SizeBelow120:    12,
		MaxQuoteAge:     10 * time.Second,
		StopLossUSD:     -12,
		FlipStopEnabled: true,
	}
}

func newTestStrategy(params StrategyParams) *Strategy {
	s := NewStrategy(params, slog.New(slog.DiscardHandler))
	s.ResetWindow("btc-updown-15m-100")
	return s
}

func bookAt(now time.Time, upAsk, downAsk float64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Coin: domain.CoinBTC,
		Slug: "btc-updown-15m-100",
		Up:   domain.Quote{Bid: upAsk - 0.02, Ask: upAsk, BidAt: now, AskAt: now},
		Down: domain.Quote{Bid: downAsk - 0.02, Ask: downAsk, BidAt: now, AskAt: now},
	}
}

func marketClosing(now time.Time, secondsLeft int) domain.Market {
	return domain.Market{
		Coin:        domain.CoinBTC,
		Slug:        "btc-updown-15m-100",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
		WindowEnd:   now.Add(time.Duration(secondsLeft) * time.Second),
	}
}

func TestSizeForBoundaries(t *testing.T) {
	s := newTestStrategy(testParams())

	assert.InDelta(t, 8, s.SizeFor(200), 1e-9)
	assert.InDelta(t, 8, s.SizeFor(181), 1e-9)
	assert.InDelta(t, 10, s.SizeFor(180), 1e-9)
	assert.InDelta(t, 10, s.SizeFor(121), 1e-9)
	assert.InDelta(t, 12, s.SizeFor(120), 1e-9)
	assert.InDelta(t, 12, s.SizeFor(30), 1e-9)
}

func TestEntryOnClearFavorite(t *testing.T) {
	s := newTestStrategy(testParams())
	now := time.Now()

	// Up 0.65 vs Down 0.30: confidence 0.35, favorite Up.
	d, ok := s.EvaluateEntry(bookAt(now, 0.65, 0.30), marketClosing(now, 200), now)

	require.True(t, ok)
	assert.Equal(t, domain.OutcomeUp, d.Side)
	assert.InDelta(t, 0.65, d.Price, 1e-9)
	assert.InDelta(t, 0.35, d.Confidence, 1e-9)
	assert.InDelta(t, 8, d.Contracts, 1e-9)
	assert.Equal(t, 200, d.SecondsLeft)
	assert.Equal(t, StateEntryWindow, s.State())
}

func TestEntryRequiresMinConfidence(t *testing.T) {
	now := time.Now()

	s := newTestStrategy(testParams())
	_, ok := s.EvaluateEntry(bookAt(now, 0.60, 0.31), marketClosing(now, 200), now)
	assert.False(t, ok, "confidence 0.29 is below the floor")

	s = newTestStrategy(testParams())
	d, ok := s.EvaluateEntry(bookAt(now, 0.60, 0.30), marketClosing(now, 200), now)
	require.True(t, ok, "confidence exactly at the floor enters")
	assert.InDelta(t, 0.30, d.Confidence, 1e-9)
}

func TestEntryRequiresAffordableFavorite(t *testing.T) {
	now := time.Now()

	s := newTestStrategy(testParams())
	_, ok := s.EvaluateEntry(bookAt(now, 0.93, 0.10), marketClosing(now, 200), now)
	assert.False(t, ok, "favorite above price cap must not enter")

	s = newTestStrategy(testParams())
	d, ok := s.EvaluateEntry(bookAt(now, 0.92, 0.10), marketClosing(now, 200), now)
	require.True(t, ok, "favorite exactly at the cap enters")
	assert.InDelta(t, 0.92, d.Price, 1e-9)
}

func TestEntryRejectsUnhealthySpread(t *testing.T) {
	now := time.Now()

	s := newTestStrategy(testParams())
	_, ok := s.EvaluateEntry(bookAt(now, 0.80, 0.30), marketClosing(now, 200), now)
	assert.False(t, ok, "spread sum 1.10 exceeds the cap")
}

func TestEntryOnlyInsideEntryWindow(t *testing.T) {
	now := time.Now()

	s := newTestStrategy(testParams())
	_, ok := s.EvaluateEntry(bookAt(now, 0.65, 0.30), marketClosing(now, 300), now)
	assert.False(t, ok, "too early: 300s remain, window opens at 240")
	assert.Equal(t, StateIdle, s.State())

	_, ok = s.EvaluateEntry(bookAt(now, 0.65, 0.30), marketClosing(now, -5), now)
	assert.False(t, ok, "window already closed")
	assert.Equal(t, StateExpired, s.State())
}

func TestEntryRejectsStaleAsks(t *testing.T) {
	now := time.Now()
	s := newTestStrategy(testParams())

	snap := bookAt(now.Add(-15*time.Second), 0.65, 0.30)
	_, ok := s.EvaluateEntry(snap, marketClosing(now, 200), now)
	assert.False(t, ok)
}

func TestOneAttemptPerWindow(t *testing.T) {
	now := time.Now()
	s := newTestStrategy(testParams())

	_, ok := s.EvaluateEntry(bookAt(now, 0.65, 0.30), marketClosing(now, 200), now)
	require.True(t, ok)

	later := now.Add(time.Minute)
	_, ok = s.EvaluateEntry(bookAt(later, 0.65, 0.30), marketClosing(later, 140), later)
	assert.False(t, ok, "one entry attempt per window")

	// The next window re-arms the strategy.
	s.ResetWindow("btc-updown-15m-101")
	_, ok = s.EvaluateEntry(bookAt(later, 0.65, 0.30), marketClosing(later, 200), later)
	assert.True(t, ok)
}

func TestEntryEvaluationThrottle(t *testing.T) {
	now := time.Now()
	s := newTestStrategy(testParams())

	// First evaluation fails a gate but consumes the interval.
	_, ok := s.EvaluateEntry(bookAt(now, 0.60, 0.35), marketClosing(now, 200), now)
	require.False(t, ok)

	soon := now.Add(3 * time.Second)
	_, ok = s.EvaluateEntry(bookAt(soon, 0.65, 0.30), marketClosing(soon, 197), soon)
	assert.False(t, ok, "re-evaluated inside the frequency interval")

	later := now.Add(8 * time.Second)
	_, ok = s.EvaluateEntry(bookAt(later, 0.65, 0.30), marketClosing(later, 192), later)
	assert.True(t, ok)
}

func TestStopLossExit(t *testing.T) {
	s := newTestStrategy(testParams())
	now := time.Now()

	p := domain.Position{
		Coin:          domain.CoinETH,
		Slug:          "eth-updown-15m-100",
		Side:          domain.OutcomeUp,
		Contracts:     10,
		AvgEntryPrice: 0.70,
		UnrealizedPnL: -15,
		Status:        domain.PositionStatusOpen,
	}

	reason, exit := s.EvaluateExit(p, bookAt(now, 0.55, 0.40))
	require.True(t, exit)
	assert.Equal(t, domain.ExitReasonStopLoss, reason)

	// Above the threshold the position rides.
	p.UnrealizedPnL = -11.99
	_, exit = s.EvaluateExit(p, bookAt(now, 0.68, 0.30))
	assert.False(t, exit)
}

func TestFlipStopExit(t *testing.T) {
	s := newTestStrategy(testParams())
	now := time.Now()

	p := domain.Position{
		Slug:          "btc-updown-15m-100",
		Side:          domain.OutcomeUp,
		Contracts:     10,
		AvgEntryPrice: 0.65,
		UnrealizedPnL: -5,
		Status:        domain.PositionStatusOpen,
	}

	// Down ask overtook the held Up ask.
	reason, exit := s.EvaluateExit(p, bookAt(now, 0.40, 0.58))
	require.True(t, exit)
	assert.Equal(t, domain.ExitReasonFlip, reason)
}

func TestStopLossTakesPrecedenceOverFlip(t *testing.T) {
	s := newTestStrategy(testParams())
	now := time.Now()

	p := domain.Position{
		Slug:          "btc-updown-15m-100",
		Side:          domain.OutcomeUp,
		Contracts:     10,
		AvgEntryPrice: 0.65,
		UnrealizedPnL: -20,
		Status:        domain.PositionStatusOpen,
	}

	reason, exit := s.EvaluateExit(p, bookAt(now, 0.40, 0.58))
	require.True(t, exit)
	assert.Equal(t, domain.ExitReasonStopLoss, reason)
}

func TestFlipStopDisabled(t *testing.T) {
	params := testParams()
	params.FlipStopEnabled = false
	s := newTestStrategy(params)
	now := time.Now()

	p := domain.Position{
		Slug:          "btc-updown-15m-100",
		Side:          domain.OutcomeUp,
		Contracts:     10,
		AvgEntryPrice: 0.65,
		UnrealizedPnL: -5,
		Status:        domain.PositionStatusOpen,
	}

	_, exit := s.EvaluateExit(p, bookAt(now, 0.40, 0.58))
	assert.False(t, exit)
}
