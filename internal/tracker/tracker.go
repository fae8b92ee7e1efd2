// Package tracker maintains the authoritative view of what the engine
// currently holds. Positions are mutated only here, in response to fills,
// book updates, and venue reconciliation.
package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
)

// contractEpsilon treats residual dust below this many contracts as flat.
const contractEpsilon = 1e-6

// VenuePosition is the venue's view of one holding, used for startup
// reconciliation.
type VenuePosition struct {
	Slug        string
	ConditionID string
	Side        domain.Outcome
	Contracts   float64
	AvgPrice    float64
	Invested    float64
}

// Tracker is the single source of truth for positions across all markets.
type Tracker struct {
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position // by market slug
	seenFills map[string]float64          // venue order id -> cumulative matched size applied
}

// New creates an empty Tracker.
func New(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger:    logger.With(slog.String("component", "position_tracker")),
		positions: make(map[string]*domain.Position),
		seenFills: make(map[string]float64),
	}
}

// ApplyFill folds a fill into the market's position and returns the updated
// position. Duplicate deliveries of the same fill are detected through the
// venue's cumulative matched size and applied at most once: only the delta
// beyond what has already been applied for that order counts.
//
// Buys extend the position at weighted-average cost; sells realize PnL
// against the average entry price and close the position when it reaches
// zero contracts.
func (t *Tracker) ApplyFill(fill domain.Fill) domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := fill.Size
	if fill.VenueOrderID != "" && fill.MatchedTotal > 0 {
		applied := t.seenFills[fill.VenueOrderID]
		delta := fill.MatchedTotal - applied
		if delta <= 0 {
			t.logger.Debug("duplicate fill ignored",
				slog.String("venue_order_id", fill.VenueOrderID),
				slog.Float64("matched_total", fill.MatchedTotal),
			)
			if p := t.positions[fill.Slug]; p != nil {
				return *p
			}
			return domain.Position{}
		}
		size = delta
		t.seenFills[fill.VenueOrderID] = fill.MatchedTotal
	}

	p := t.positions[fill.Slug]
	if p == nil {
		p = &domain.Position{
			Coin:     fill.Coin,
			Slug:     fill.Slug,
			Side:     fill.Side,
			Status:   domain.PositionStatusOpen,
			OpenedAt: fill.At,
		}
		t.positions[fill.Slug] = p
	}

	switch fill.Action {
	case domain.OrderActionBuy:
		p.Invested += size * fill.Price
		p.Contracts += size
		p.AvgEntryPrice = p.Invested / p.Contracts
		if p.Status == domain.PositionStatusNone || p.Status == domain.PositionStatusClosed {
			p.Status = domain.PositionStatusOpen
			p.OpenedAt = fill.At
		}

	case domain.OrderActionSell:
		if size > p.Contracts {
			size = p.Contracts
		}
		p.RealizedPnL += (fill.Price - p.AvgEntryPrice) * size
		p.Invested -= p.AvgEntryPrice * size
		p.Contracts -= size
		if p.Contracts <= contractEpsilon {
			p.Contracts = 0
			p.Invested = 0
			p.UnrealizedPnL = 0
			p.Status = domain.PositionStatusClosed
			at := fill.At
			p.ClosedAt = &at
		}
	}

	t.logger.Info("fill applied",
		slog.String("market", fill.Slug),
		slog.String("side", string(fill.Side)),
		slog.String("action", string(fill.Action)),
		slog.Float64("size", size),
		slog.Float64("price", fill.Price),
		slog.Float64("contracts", p.Contracts),
		slog.Float64("avg_entry", p.AvgEntryPrice),
	)

	return *p
}

// SetConditionID attaches the market's condition id to its position, for
// later settlement.
func (t *Tracker) SetConditionID(slug, conditionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.positions[slug]; p != nil {
		p.ConditionID = conditionID
	}
}

// UpdateUnrealized recomputes unrealized PnL from the current best bid of
// the held side. Returns the updated position and whether one exists.
func (t *Tracker) UpdateUnrealized(snap domain.OrderBookSnapshot) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.positions[snap.Slug]
	if p == nil || !p.Open() {
		return domain.Position{}, false
	}

	bid := snap.BidOf(p.Side)
	if bid > 0 {
		p.UnrealizedPnL = (bid - p.AvgEntryPrice) * p.Contracts
	}
	return *p, true
}

// Position returns the market's position and whether one is tracked.
func (t *Tracker) Position(slug string) (domain.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.positions[slug]; p != nil {
		return *p, true
	}
	return domain.Position{}, false
}

// OpenPositions returns a copy of every open or exiting position.
func (t *Tracker) OpenPositions() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		if p.Open() {
			out = append(out, *p)
		}
	}
	return out
}

// MarkExitPending transitions an open position to exit-pending with the
// given reason. No-op if the position is absent or already terminal.
func (t *Tracker) MarkExitPending(slug string, reason domain.ExitReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.positions[slug]
	if p == nil || p.Status != domain.PositionStatusOpen {
		return
	}
	p.Status = domain.PositionStatusExitPending
	p.CloseReason = reason
}

// MarkClosed force-closes a position with the given realized PnL, used for
// resolution settlements and reconciliation. The position's contracts are
// kept for redemption accounting when closed by resolution.
func (t *Tracker) MarkClosed(slug string, realizedPnL float64, reason domain.ExitReason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.positions[slug]
	if p == nil || p.Status == domain.PositionStatusClosed {
		return
	}
	p.Status = domain.PositionStatusClosed
	p.CloseReason = reason
	p.RealizedPnL += realizedPnL
	p.UnrealizedPnL = 0
	now := time.Now()
	p.ClosedAt = &now
}

// MarkRedeemed flags a resolution-closed position as redeemed.
func (t *Tracker) MarkRedeemed(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.positions[slug]; p != nil {
		p.Redeemed = true
	}
}

// Reconcile aligns local state with the venue's view at startup. The venue
// is ground truth: unknown venue positions are adopted as open, and local
// open positions absent at the venue are closed with a warning. Returns the
// number of adoptions and forced closes.
func (t *Tracker) Reconcile(venue []VenuePosition) (adopted, closed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	atVenue := make(map[string]bool, len(venue))
	for _, v := range venue {
		atVenue[v.Slug] = true

		p := t.positions[v.Slug]
		if p != nil && p.Open() {
			continue
		}

		t.positions[v.Slug] = &domain.Position{
			Coin:          coinFromSlug(v.Slug),
			Slug:          v.Slug,
			ConditionID:   v.ConditionID,
			Side:          v.Side,
			Contracts:     v.Contracts,
			Invested:      v.Invested,
			AvgEntryPrice: v.AvgPrice,
			Status:        domain.PositionStatusOpen,
			OpenedAt:      time.Now(),
		}
		adopted++
		t.logger.Warn("adopted venue position with no local record",
			slog.String("market", v.Slug),
			slog.String("side", string(v.Side)),
			slog.Float64("contracts", v.Contracts),
			slog.Float64("avg_price", v.AvgPrice),
		)
	}

	for slug, p := range t.positions {
		if p.Open() && !atVenue[slug] {
			p.Status = domain.PositionStatusClosed
			p.CloseReason = domain.ExitReasonResolution
			p.UnrealizedPnL = 0
			now := time.Now()
			p.ClosedAt = &now
			closed++
			t.logger.Warn("local open position absent at venue, marked closed",
				slog.String("market", slug),
				slog.Float64("contracts", p.Contracts),
			)
		}
	}

	return adopted, closed
}

// Restore seeds the tracker with previously persisted positions, before
// venue reconciliation runs.
func (t *Tracker) Restore(positions []*domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range positions {
		cp := *p
		t.positions[p.Slug] = &cp
	}
}

// coinFromSlug extracts the coin prefix of an up/down market slug
// ("btc-updown-15m-123" -> btc). Unknown prefixes come back as-is.
func coinFromSlug(slug string) domain.Coin {
	for i := 0; i < len(slug); i++ {
		if slug[i] == '-' {
			return domain.Coin(slug[:i])
		}
	}
	return domain.Coin(slug)
}
