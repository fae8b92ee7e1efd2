package tracker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updownbot/internal/domain"
)

func newTestTracker() *Tracker {
	return New(slog.New(slog.DiscardHandler))
}

func buyFill(slug string, size, price float64) domain.Fill {
	return domain.Fill{
		Coin:   domain.CoinBTC,
		Slug:   slug,
		Side:   domain.OutcomeUp,
		Action: domain.OrderActionBuy,
		Size:   size,
		Price:  price,
		At:     time.Now(),
	}
}

func TestApplyFillOpensPosition(t *testing.T) {
	tr := newTestTracker()

	p := tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.65))

	assert.Equal(t, domain.PositionStatusOpen, p.Status)
	assert.InDelta(t, 10, p.Contracts, 1e-9)
	assert.InDelta(t, 6.5, p.Invested, 1e-9)
	assert.InDelta(t, 0.65, p.AvgEntryPrice, 1e-9)
}

func TestWeightedAverageCost(t *testing.T) {
	tr := newTestTracker()

	tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.60))
	p := tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.70))

	// 10@0.60 + 10@0.70 -> 20 @ 0.65
	assert.InDelta(t, 20, p.Contracts, 1e-9)
	assert.InDelta(t, 0.65, p.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 13.0, p.Invested, 1e-9)
}

func TestSellRealizesPnLAndCloses(t *testing.T) {
	tr := newTestTracker()

	tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.60))

	sell := buyFill("btc-updown-15m-100", 10, 0.50)
	sell.Action = domain.OrderActionSell
	p := tr.ApplyFill(sell)

	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	assert.Zero(t, p.Contracts)
	assert.InDelta(t, -1.0, p.RealizedPnL, 1e-9) // (0.50-0.60)*10
	require.NotNil(t, p.ClosedAt)
}

func TestDuplicateFillIgnored(t *testing.T) {
	tr := newTestTracker()

	fill := buyFill("eth-updown-15m-100", 10, 0.70)
	fill.VenueOrderID = "ord-1"
	fill.MatchedTotal = 10

	tr.ApplyFill(fill)
	p := tr.ApplyFill(fill) // duplicate delivery

	assert.InDelta(t, 10, p.Contracts, 1e-9)
	assert.InDelta(t, 7.0, p.Invested, 1e-9)
}

func TestIncrementalMatchedTotalAppliesDelta(t *testing.T) {
	tr := newTestTracker()

	first := buyFill("eth-updown-15m-100", 6, 0.70)
	first.VenueOrderID = "ord-1"
	first.MatchedTotal = 6
	tr.ApplyFill(first)

	// Venue reports cumulative matched size, not the increment.
	second := buyFill("eth-updown-15m-100", 10, 0.70)
	second.VenueOrderID = "ord-1"
	second.MatchedTotal = 10
	p := tr.ApplyFill(second)

	assert.InDelta(t, 10, p.Contracts, 1e-9)
}

func TestUpdateUnrealized(t *testing.T) {
	tr := newTestTracker()
	tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.65))

	snap := domain.OrderBookSnapshot{
		Coin: domain.CoinBTC,
		Slug: "btc-updown-15m-100",
		Up:   domain.Quote{Bid: 0.55, Ask: 0.58},
		Down: domain.Quote{Bid: 0.40, Ask: 0.44},
	}

	p, ok := tr.UpdateUnrealized(snap)
	require.True(t, ok)
	assert.InDelta(t, -1.0, p.UnrealizedPnL, 1e-9) // (0.55-0.65)*10
}

func TestMarkExitPendingOnlyFromOpen(t *testing.T) {
	tr := newTestTracker()
	tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.65))

	tr.MarkExitPending("btc-updown-15m-100", domain.ExitReasonStopLoss)
	p, _ := tr.Position("btc-updown-15m-100")
	assert.Equal(t, domain.PositionStatusExitPending, p.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, p.CloseReason)

	// A second transition attempt does not overwrite the reason.
	tr.MarkExitPending("btc-updown-15m-100", domain.ExitReasonFlip)
	p, _ = tr.Position("btc-updown-15m-100")
	assert.Equal(t, domain.ExitReasonStopLoss, p.CloseReason)
}

func TestReconcileAdoptsVenuePosition(t *testing.T) {
	tr := newTestTracker()

	adopted, closed := tr.Reconcile([]VenuePosition{{
		Slug:        "sol-updown-15m-100",
		ConditionID: "0xcond",
		Side:        domain.OutcomeDown,
		Contracts:   12,
		AvgPrice:    0.55,
		Invested:    6.6,
	}})

	assert.Equal(t, 1, adopted)
	assert.Zero(t, closed)

	p, ok := tr.Position("sol-updown-15m-100")
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusOpen, p.Status)
	assert.Equal(t, domain.CoinSOL, p.Coin)
	assert.InDelta(t, 12, p.Contracts, 1e-9)
}

func TestReconcileClosesLocalOnlyPosition(t *testing.T) {
	tr := newTestTracker()
	tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.65))

	adopted, closed := tr.Reconcile(nil)

	assert.Zero(t, adopted)
	assert.Equal(t, 1, closed)

	p, _ := tr.Position("btc-updown-15m-100")
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
}

func TestOpenPositions(t *testing.T) {
	tr := newTestTracker()
	tr.ApplyFill(buyFill("btc-updown-15m-100", 10, 0.65))

	eth := buyFill("eth-updown-15m-100", 8, 0.70)
	eth.Coin = domain.CoinETH
	tr.ApplyFill(eth)

	tr.MarkClosed("eth-updown-15m-100", 2.4, domain.ExitReasonResolution)

	open := tr.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, "btc-updown-15m-100", open[0].Slug)
}
