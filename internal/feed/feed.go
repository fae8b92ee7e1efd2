// Package feed turns the raw Polymarket market-channel stream into
// normalized per-market order book snapshots. One Feed runs per coin: it
// discovers the live 15-minute market, subscribes to its two outcome
// tokens, and re-subscribes at every window rollover.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/platform/polymarket"
)

// MarketSource discovers the live up/down market for a coin.
type MarketSource interface {
	CurrentMarket(ctx context.Context, coin domain.Coin, now time.Time) (domain.Market, error)
}

// Config tunes staleness detection and reconnect behaviour.
type Config struct {
	StaleAfter          time.Duration // no update for this long forces a reconnect
	MaxQuoteAge         time.Duration // per-side ask age beyond which snapshots are not fresh
	ReconnectBackoffMax time.Duration
}

// Feed owns one coin's order book state. Snapshots are published on a
// conflated channel: consumers always see the latest book and never a
// superseded one.
type Feed struct {
	coin    Coin
	markets MarketSource
	ws      *polymarket.WSClient
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	market  domain.Market
	up      domain.Quote
	down    domain.Quote
	seq     uint64
	lastMsg time.Time

	snapshots chan domain.OrderBookSnapshot
}

// Coin aliases the domain type for readability in constructor signatures.
type Coin = domain.Coin

// New creates a Feed for one coin. wsHost is the WebSocket root URL.
func New(coin Coin, markets MarketSource, wsHost string, cfg Config, logger *slog.Logger) *Feed {
	return &Feed{
		coin:      coin,
		markets:   markets,
		ws:        polymarket.NewMarketWSClient(wsHost, cfg.ReconnectBackoffMax),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "feed"), slog.String("coin", string(coin))),
		snapshots: make(chan domain.OrderBookSnapshot, 1),
	}
}

// Snapshots returns the conflated snapshot channel. Closed when Run returns.
func (f *Feed) Snapshots() <-chan domain.OrderBookSnapshot {
	return f.snapshots
}

// Market returns the market currently being streamed, if discovery has
// succeeded for the active window.
func (f *Feed) Market() (domain.Market, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.market, f.market.Slug != ""
}

// Run discovers markets and streams snapshots until ctx is cancelled. A
// disconnect or a discovery failure never escapes: the loop retries, so one
// coin's feed trouble cannot take down the process.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.snapshots)
	defer f.ws.Close()

	f.ws.OnBook(f.handleBook)
	f.ws.OnPriceChange(f.handlePriceChange)

	if err := f.ws.Connect(ctx); err != nil {
		f.logger.Warn("initial connect failed, read loop will retry", slog.String("error", err.Error()))
	}

	watchdog := time.NewTicker(time.Second)
	defer watchdog.Stop()

	for {
		market, err := f.discoverMarket(ctx)
		if err != nil {
			return err // only on ctx cancellation
		}

		f.setMarket(market)
		if err := f.ws.SubscribeMarket([]string{market.UpTokenID, market.DownTokenID}); err != nil {
			f.logger.Warn("subscribe failed", slog.String("error", err.Error()))
		}
		f.logger.Info("streaming market",
			slog.String("slug", market.Slug),
			slog.Time("window_end", market.WindowEnd),
		)

		// Stream until the window closes, kicking the connection whenever
		// the staleness window elapses without an update.
		windowDone := time.NewTimer(time.Until(market.WindowEnd))
	stream:
		for {
			select {
			case <-ctx.Done():
				windowDone.Stop()
				return ctx.Err()
			case <-windowDone.C:
				break stream
			case <-watchdog.C:
				f.mu.Lock()
				stale := !f.lastMsg.IsZero() && time.Since(f.lastMsg) > f.cfg.StaleAfter
				if stale {
					f.lastMsg = time.Now()
				}
				f.mu.Unlock()
				if stale {
					f.logger.Warn("feed stale, forcing reconnect",
						slog.Duration("stale_after", f.cfg.StaleAfter))
					f.ws.ForceReconnect()
				}
			}
		}
		// Window over: loop back to discover the next market.
	}
}

// discoverMarket polls until the current window's market is listed. Markets
// usually appear within seconds of the window opening.
func (f *Feed) discoverMarket(ctx context.Context) (domain.Market, error) {
	delay := time.Second
	for {
		market, err := f.markets.CurrentMarket(ctx, f.coin, time.Now())
		if err == nil {
			return market, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			f.logger.Warn("market discovery failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return domain.Market{}, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 10*time.Second {
			delay *= 2
		}
	}
}

func (f *Feed) setMarket(m domain.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.market = m
	f.up = domain.Quote{}
	f.down = domain.Quote{}
	f.lastMsg = time.Now()
}

// handleBook applies a full book snapshot for one of the market's tokens.
func (f *Feed) handleBook(msg polymarket.WSBookMessage) {
	bid, ask := msg.BestLevels()
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	side, ok := f.sideFor(msg.AssetID)
	if !ok {
		return // message for a previous window's token
	}

	q := domain.Quote{Bid: bid, Ask: ask, BidAt: now, AskAt: now}
	if side == domain.OutcomeUp {
		f.up = q
	} else {
		f.down = q
	}
	f.lastMsg = now
	f.publishLocked(now)
}

// handlePriceChange applies an incremental top-of-book move. Polymarket
// reports the aggressing side, so BUY updates the bid and SELL the ask.
func (f *Feed) handlePriceChange(msg polymarket.WSPriceChange) {
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	side, ok := f.sideFor(msg.AssetID)
	if !ok {
		return
	}

	q := f.up
	if side == domain.OutcomeDown {
		q = f.down
	}
	switch msg.Side {
	case "BUY":
		q.Bid = price
		q.BidAt = now
	case "SELL":
		q.Ask = price
		q.AskAt = now
	default:
		return
	}
	if side == domain.OutcomeUp {
		f.up = q
	} else {
		f.down = q
	}
	f.lastMsg = now
	f.publishLocked(now)
}

func (f *Feed) sideFor(assetID string) (domain.Outcome, bool) {
	switch assetID {
	case f.market.UpTokenID:
		return domain.OutcomeUp, true
	case f.market.DownTokenID:
		return domain.OutcomeDown, true
	default:
		return "", false
	}
}

// publishLocked emits the current snapshot, replacing any unconsumed one.
// Caller must hold f.mu.
func (f *Feed) publishLocked(now time.Time) {
	if f.up.Ask <= 0 || f.down.Ask <= 0 {
		return // wait for both sides before exposing a book
	}

	f.seq++
	snap := domain.OrderBookSnapshot{
		Coin:       f.coin,
		Slug:       f.market.Slug,
		Seq:        f.seq,
		Up:         f.up,
		Down:       f.down,
		ReceivedAt: now,
	}

	for {
		select {
		case f.snapshots <- snap:
			return
		default:
			// Drop the superseded snapshot and retry.
			select {
			case <-f.snapshots:
			default:
			}
		}
	}
}
