package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
)

// SnapshotSource is the order book stream one trader consumes.
type SnapshotSource interface {
	Snapshots() <-chan domain.OrderBookSnapshot
	Market() (domain.Market, bool)
}

// OrderSubmitter submits intents and always returns a terminal order.
type OrderSubmitter interface {
	Submit(ctx context.Context, intent domain.OrderIntent, negRisk bool) (domain.Order, error)
}

// PositionBook is the tracker surface the trader depends on.
type PositionBook interface {
	ApplyFill(fill domain.Fill) domain.Position
	UpdateUnrealized(snap domain.OrderBookSnapshot) (domain.Position, bool)
	Position(slug string) (domain.Position, bool)
	MarkExitPending(slug string, reason domain.ExitReason)
	SetConditionID(slug, conditionID string)
}

// EventSink receives engine events. Implementations must not block.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event)
}

// MarketReset clears a settled market's committed capital in the safety
// guard.
type MarketReset interface {
	ResetMarket(marketSlug string)
}

// Trader runs one coin's trading loop: it consumes snapshots from the feed,
// drives the strategy through its window states, and routes the resulting
// orders through the executor and into the position book.
type Trader struct {
	coin      domain.Coin
	feed      SnapshotSource
	strategy  *Strategy
	executor  OrderSubmitter
	positions PositionBook
	store     domain.TradeStore
	events    EventSink
	guard     MarketReset
	stats     *sessionStats
	sessionID string
	logger    *slog.Logger

	market   domain.Market
	lastSnap domain.OrderBookSnapshot
}

// NewTrader wires one coin's trader. store, events, guard and stats may be
// nil.
func NewTrader(coin domain.Coin, feed SnapshotSource, strategy *Strategy, executor OrderSubmitter, positions PositionBook, store domain.TradeStore, events EventSink, guard MarketReset, stats *sessionStats, sessionID string, logger *slog.Logger) *Trader {
	return &Trader{
		coin:      coin,
		feed:      feed,
		strategy:  strategy,
		executor:  executor,
		positions: positions,
		store:     store,
		events:    events,
		guard:     guard,
		stats:     stats,
		sessionID: sessionID,
		logger:    logger.With(slog.String("component", "trader"), slog.String("coin", string(coin))),
	}
}

// Run consumes snapshots until ctx is cancelled or the feed closes.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.Info("trader started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-t.feed.Snapshots():
			if !ok {
				t.logger.Info("feed closed, trader stopping")
				return nil
			}
			t.handleSnapshot(ctx, snap)
		}
	}
}

func (t *Trader) handleSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) {
	if snap.Slug != t.market.Slug {
		t.rollover(ctx, snap.Slug)
	}
	t.lastSnap = snap

	now := time.Now()

	if p, ok := t.positions.UpdateUnrealized(snap); ok {
		switch p.Status {
		case domain.PositionStatusOpen:
			if reason, exit := t.strategy.EvaluateExit(p, snap); exit {
				t.positions.MarkExitPending(p.Slug, reason)
				t.strategy.MarkExitPending()
				t.submitExit(ctx, p, snap, reason)
			}
		case domain.PositionStatusExitPending:
			// A previous exit attempt did not fill. Keep trying until the
			// window closes or the sell goes through.
			t.submitExit(ctx, p, snap, p.CloseReason)
		}
		return
	}

	if decision, ok := t.strategy.EvaluateEntry(snap, t.market, now); ok {
		t.enter(ctx, decision)
	}
}

// rollover installs the new window's market. A position still open from the
// previous window rides through resolution; the collector redeems it.
func (t *Trader) rollover(ctx context.Context, newSlug string) {
	if t.market.Slug != "" {
		if p, ok := t.positions.Position(t.market.Slug); ok && p.Open() {
			t.logger.Info("window closed with position held to resolution",
				slog.String("market", t.market.Slug),
				slog.String("side", string(p.Side)),
				slog.Float64("contracts", p.Contracts),
			)
		} else if t.guard != nil {
			// Nothing held into resolution: free the settled window's
			// committed capital immediately.
			t.guard.ResetMarket(t.market.Slug)
		}
	}

	market, ok := t.feed.Market()
	if !ok || market.Slug != newSlug {
		// Feed published before discovery state settled; fall back to the
		// slug alone, token ids arrive with the next snapshot.
		market = domain.Market{Coin: t.coin, Slug: newSlug}
	}
	t.market = market
	t.strategy.ResetWindow(newSlug)
	t.logger.Info("market rollover", slog.String("market", newSlug))
	t.publish(ctx, domain.EventMarketRollover, newSlug, map[string]string{
		"window_end": market.WindowEnd.Format(time.RFC3339),
	})
}

func (t *Trader) enter(ctx context.Context, d domain.EntryDecision) {
	tokenID := t.market.TokenID(d.Side)
	if tokenID == "" {
		t.logger.Warn("entry skipped, market tokens not yet known", slog.String("market", d.Slug))
		t.strategy.MarkExpired()
		return
	}

	intent := domain.OrderIntent{
		Coin:     d.Coin,
		Slug:     d.Slug,
		TokenID:  tokenID,
		Side:     d.Side,
		Action:   domain.OrderActionBuy,
		Purpose:  domain.OrderPurposeEntry,
		Price:    d.Price,
		Size:     d.Contracts,
		DryRunOK: true,
	}

	order, err := t.executor.Submit(ctx, intent, t.market.NegRisk)
	t.persistOrder(ctx, &order)
	t.stats.recordOrder(order.Status)

	if err != nil || order.FilledSize <= 0 {
		t.strategy.MarkExpired()
		t.logger.Warn("entry attempt failed, window expired",
			slog.String("market", d.Slug),
			slog.String("status", string(order.Status)),
			slog.String("reason", order.Reason),
		)
		return
	}

	p := t.positions.ApplyFill(fillFromOrder(order))
	t.positions.SetConditionID(d.Slug, t.market.ConditionID)
	t.strategy.MarkEntered()
	t.stats.recordEntry(order.FilledSize * order.AvgFillPrice)
	t.persistPosition(ctx, &p)

	t.logger.Info("position opened",
		slog.String("market", d.Slug),
		slog.String("side", string(d.Side)),
		slog.Float64("contracts", p.Contracts),
		slog.Float64("avg_entry", p.AvgEntryPrice),
	)
	t.publish(ctx, domain.EventPositionOpened, d.Slug, map[string]string{
		"side":      string(d.Side),
		"contracts": fmt.Sprintf("%.2f", p.Contracts),
		"avg_entry": fmt.Sprintf("%.4f", p.AvgEntryPrice),
	})
}

// submitExit sells the whole held size at the current best bid. A failed
// attempt leaves the position exit-pending so the next snapshot retries.
func (t *Trader) submitExit(ctx context.Context, p domain.Position, snap domain.OrderBookSnapshot, reason domain.ExitReason) {
	bid := snap.BidOf(p.Side)
	if bid <= 0 {
		return // no bid to hit, wait for the book
	}

	intent := domain.OrderIntent{
		Coin:     p.Coin,
		Slug:     p.Slug,
		TokenID:  t.market.TokenID(p.Side),
		Side:     p.Side,
		Action:   domain.OrderActionSell,
		Purpose:  domain.OrderPurposeExit,
		Price:    bid,
		Size:     p.Contracts,
		DryRunOK: true,
	}

	order, err := t.executor.Submit(ctx, intent, t.market.NegRisk)
	t.persistOrder(ctx, &order)
	t.stats.recordOrder(order.Status)

	if err != nil || order.FilledSize <= 0 {
		t.logger.Warn("exit attempt failed, will retry",
			slog.String("market", p.Slug),
			slog.String("reason", order.Reason),
		)
		return
	}

	updated := t.positions.ApplyFill(fillFromOrder(order))
	if updated.Status != domain.PositionStatusClosed {
		t.logger.Warn("exit partially filled, remainder stays pending",
			slog.String("market", p.Slug),
			slog.Float64("remaining", updated.Contracts),
		)
		return
	}

	t.strategy.MarkClosed()
	t.stats.recordExit(updated.RealizedPnL)
	t.persistPosition(ctx, &updated)

	t.logger.Info("position closed",
		slog.String("market", p.Slug),
		slog.String("exit_reason", string(reason)),
		slog.Float64("realized_pnl", updated.RealizedPnL),
	)
	t.publish(ctx, domain.EventPositionClosed, p.Slug, map[string]string{
		"exit_reason":  string(reason),
		"realized_pnl": fmt.Sprintf("%.2f", updated.RealizedPnL),
	})
}

// CloseOpenPosition sells out the trader's current position, used during
// graceful shutdown. No-op when nothing is held or no book has been seen.
func (t *Trader) CloseOpenPosition(ctx context.Context) {
	if t.market.Slug == "" {
		return
	}
	p, ok := t.positions.Position(t.market.Slug)
	if !ok || !p.Open() {
		return
	}
	if t.lastSnap.Slug != t.market.Slug {
		t.logger.Warn("cannot close position on shutdown, no current book",
			slog.String("market", t.market.Slug))
		return
	}

	t.logger.Info("closing position for shutdown", slog.String("market", t.market.Slug))
	t.positions.MarkExitPending(t.market.Slug, domain.ExitReasonShutdown)
	t.submitExit(ctx, p, t.lastSnap, domain.ExitReasonShutdown)
}

func (t *Trader) persistOrder(ctx context.Context, o *domain.Order) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveOrder(ctx, t.sessionID, o); err != nil {
		t.logger.Error("persist order failed", slog.String("error", err.Error()))
	}
}

func (t *Trader) persistPosition(ctx context.Context, p *domain.Position) {
	if t.store == nil {
		return
	}
	if err := t.store.SavePosition(ctx, t.sessionID, p); err != nil {
		t.logger.Error("persist position failed", slog.String("error", err.Error()))
	}
}

func (t *Trader) publish(ctx context.Context, typ domain.EventType, slug string, detail map[string]string) {
	if t.events == nil {
		return
	}
	t.events.Publish(ctx, domain.Event{
		Type:   typ,
		Coin:   t.coin,
		Slug:   slug,
		At:     time.Now(),
		Detail: detail,
	})
}

// fillFromOrder converts a terminal filled order into the tracker's fill
// representation.
func fillFromOrder(o domain.Order) domain.Fill {
	return domain.Fill{
		VenueOrderID: o.VenueID,
		Coin:         o.Coin,
		Slug:         o.Slug,
		Side:         o.Side,
		Action:       o.Action,
		Size:         o.FilledSize,
		Price:        o.AvgFillPrice,
		MatchedTotal: o.FilledSize,
		At:           time.Now(),
	}
}
