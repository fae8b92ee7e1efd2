package engine

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/tracker"
)

type stubFeed struct {
	ch     chan domain.OrderBookSnapshot
	market domain.Market
}

func (s *stubFeed) Snapshots() <-chan domain.OrderBookSnapshot { return s.ch }

func (s *stubFeed) Market() (domain.Market, bool) { return s.market, s.market.Slug != "" }

type stubSubmitter struct {
	intents []domain.OrderIntent
	fail    bool
}

func (s *stubSubmitter) Submit(ctx context.Context, intent domain.OrderIntent, negRisk bool) (domain.Order, error) {
	s.intents = append(s.intents, intent)
	if s.fail {
		return domain.Order{
			ClientID: "c-fail",
			Status:   domain.OrderStatusRejected,
			Reason:   domain.RejectReasonVenueRejected,
		}, domain.ErrVenueRejected
	}
	return domain.Order{
		ClientID:     "c1",
		VenueID:      fmt.Sprintf("v%d", len(s.intents)),
		Coin:         intent.Coin,
		Slug:         intent.Slug,
		Side:         intent.Side,
		Action:       intent.Action,
		Purpose:      intent.Purpose,
		Price:        intent.Price,
		Size:         intent.Size,
		FilledSize:   intent.Size,
		AvgFillPrice: intent.Price,
		Status:       domain.OrderStatusFilled,
	}, nil
}

type stubReset struct {
	slugs []string
}

func (s *stubReset) ResetMarket(slug string) { s.slugs = append(s.slugs, slug) }

// runTraderWith pushes the snapshots through a trader and waits for its loop
// to drain them.
func runTraderWith(t *testing.T, tr *Trader, feed *stubFeed, snaps ...domain.OrderBookSnapshot) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- tr.Run(context.Background()) }()
	for _, s := range snaps {
		feed.ch <- s
	}
	close(feed.ch)
	require.NoError(t, <-done)
}

func newTestTrader(params StrategyParams, feed *stubFeed, sub *stubSubmitter, book *tracker.Tracker, guard MarketReset) *Trader {
	logger := slog.New(slog.DiscardHandler)
	strategy := NewStrategy(params, logger)
	return NewTrader(domain.CoinBTC, feed, strategy, sub, book, nil, nil, guard, nil, "session-1", logger)
}

func TestTraderEntersOnFavorableBook(t *testing.T) {
	now := time.Now()
	feed := &stubFeed{ch: make(chan domain.OrderBookSnapshot, 4), market: marketClosing(now, 200)}
	sub := &stubSubmitter{}
	book := tracker.New(slog.New(slog.DiscardHandler))
	tr := newTestTrader(testParams(), feed, sub, book, nil)

	runTraderWith(t, tr, feed, bookAt(now, 0.65, 0.30))

	require.Len(t, sub.intents, 1)
	intent := sub.intents[0]
	assert.Equal(t, domain.OrderActionBuy, intent.Action)
	assert.Equal(t, domain.OrderPurposeEntry, intent.Purpose)
	assert.Equal(t, domain.OutcomeUp, intent.Side)
	assert.Equal(t, "tok-up", intent.TokenID)
	assert.InDelta(t, 0.65, intent.Price, 1e-9)
	assert.InDelta(t, 8, intent.Size, 1e-9)

	p, ok := book.Position("btc-updown-15m-100")
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusOpen, p.Status)
	assert.InDelta(t, 8, p.Contracts, 1e-9)
	assert.InDelta(t, 0.65, p.AvgEntryPrice, 1e-9)
}

func TestTraderStopLossClosesPosition(t *testing.T) {
	now := time.Now()
	params := testParams()
	params.StopLossUSD = -2

	feed := &stubFeed{ch: make(chan domain.OrderBookSnapshot, 4), market: marketClosing(now, 200)}
	sub := &stubSubmitter{}
	book := tracker.New(slog.New(slog.DiscardHandler))
	tr := newTestTrader(params, feed, sub, book, nil)

	entry := bookAt(now, 0.65, 0.30)
	// Up collapses: bid 0.30, unrealized (0.30-0.65)*8 = -2.80 breaches -2.
	crash := bookAt(now, 0.32, 0.66)

	runTraderWith(t, tr, feed, entry, crash)

	require.Len(t, sub.intents, 2)
	exit := sub.intents[1]
	assert.Equal(t, domain.OrderActionSell, exit.Action)
	assert.Equal(t, domain.OrderPurposeExit, exit.Purpose)
	assert.Equal(t, domain.OutcomeUp, exit.Side)
	assert.InDelta(t, 0.30, exit.Price, 1e-9)
	assert.InDelta(t, 8, exit.Size, 1e-9)

	p, ok := book.Position("btc-updown-15m-100")
	require.True(t, ok)
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, p.CloseReason)
	assert.InDelta(t, -2.80, p.RealizedPnL, 1e-9)
}

func TestTraderFailedEntryExpiresWindow(t *testing.T) {
	now := time.Now()
	feed := &stubFeed{ch: make(chan domain.OrderBookSnapshot, 4), market: marketClosing(now, 200)}
	sub := &stubSubmitter{fail: true}
	book := tracker.New(slog.New(slog.DiscardHandler))
	tr := newTestTrader(testParams(), feed, sub, book, nil)

	// The second equally attractive book must not produce a retry.
	runTraderWith(t, tr, feed, bookAt(now, 0.65, 0.30), bookAt(now, 0.70, 0.25))

	assert.Len(t, sub.intents, 1)
	_, ok := book.Position("btc-updown-15m-100")
	assert.False(t, ok)
}

func TestTraderRolloverReleasesSettledMarket(t *testing.T) {
	now := time.Now()
	feed := &stubFeed{ch: make(chan domain.OrderBookSnapshot, 4), market: marketClosing(now, 200)}
	sub := &stubSubmitter{}
	book := tracker.New(slog.New(slog.DiscardHandler))
	guard := &stubReset{}
	tr := newTestTrader(testParams(), feed, sub, book, guard)

	// Unattractive book: no entry, nothing held into resolution.
	flat := bookAt(now, 0.52, 0.50)
	next := domain.OrderBookSnapshot{
		Coin: domain.CoinBTC,
		Slug: "btc-updown-15m-101",
		Up:   domain.Quote{Bid: 0.50, Ask: 0.52, BidAt: now, AskAt: now},
		Down: domain.Quote{Bid: 0.48, Ask: 0.50, BidAt: now, AskAt: now},
	}

	runTraderWith(t, tr, feed, flat, next)

	assert.Equal(t, []string{"btc-updown-15m-100"}, guard.slugs)
	assert.Empty(t, sub.intents)
}
