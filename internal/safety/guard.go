// Package safety implements the shared admission-control gate every order
// must pass before reaching the venue. All four market loops contend on one
// Guard; check-and-reserve is a single critical section so no two loops can
// simultaneously pass a check that together breaches a ceiling.
package safety

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Denial reasons returned in Decision.Reason.
const (
	ReasonEmergencyStop   = "EMERGENCY_STOP"
	ReasonDryRun          = "DRY_RUN"
	ReasonOrderSizeLimit  = "ORDER_SIZE_LIMIT"
	ReasonInvestmentLimit = "INVESTMENT_LIMIT"
	ReasonRateLimit       = "RATE_LIMIT"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limits are the immutable ceilings the Guard enforces.
type Limits struct {
	DryRun             bool
	MaxOrderSizeUSD    float64
	MaxPerMarketUSD    float64
	MaxOrdersPerMinute int
}

// Guard is the process-wide safety state. Reservations made by
// CheckAndReserve count against the per-market ceiling until the caller
// either records the fill or releases the reservation, so capital can never
// be double-committed by concurrent admission checks.
type Guard struct {
	limits Limits
	logger *slog.Logger
	now    func() time.Time

	mu               sync.Mutex
	emergencyStopped bool
	invested         map[string]float64 // per market slug, filled USD
	reserved         map[string]float64 // per market slug, in-flight USD
	orderTimes       []time.Time        // admissions in the rolling window
}

// NewGuard creates a Guard with the given limits.
func NewGuard(limits Limits, logger *slog.Logger) *Guard {
	return &Guard{
		limits:   limits,
		logger:   logger.With(slog.String("component", "safety_guard")),
		now:      time.Now,
		invested: make(map[string]float64),
		reserved: make(map[string]float64),
	}
}

// CheckAndReserve is the single admission-control choke point. requiresLive
// marks orders that must reach the real venue; they are denied while
// dry-run is active. On an allowed decision the proposed USD is reserved
// against the market and the admission counts toward the rate window.
func (g *Guard) CheckAndReserve(marketSlug string, proposedUSD float64, requiresLive bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.emergencyStopped {
		return Decision{Reason: ReasonEmergencyStop}
	}
	if g.limits.DryRun && requiresLive {
		return Decision{Reason: ReasonDryRun}
	}
	if proposedUSD > g.limits.MaxOrderSizeUSD {
		return Decision{Reason: fmt.Sprintf("%s ($%.2f > $%.2f)", ReasonOrderSizeLimit, proposedUSD, g.limits.MaxOrderSizeUSD)}
	}

	committed := g.invested[marketSlug] + g.reserved[marketSlug]
	if committed+proposedUSD > g.limits.MaxPerMarketUSD {
		return Decision{Reason: fmt.Sprintf("%s for %s ($%.2f + $%.2f > $%.2f)",
			ReasonInvestmentLimit, marketSlug, committed, proposedUSD, g.limits.MaxPerMarketUSD)}
	}

	now := g.now()
	g.pruneWindowLocked(now)
	if len(g.orderTimes) >= g.limits.MaxOrdersPerMinute {
		return Decision{Reason: fmt.Sprintf("%s (%d orders in 60s)", ReasonRateLimit, len(g.orderTimes))}
	}

	// Admitted: reserve in the same critical section.
	g.orderTimes = append(g.orderTimes, now)
	g.reserved[marketSlug] += proposedUSD

	return Decision{Allowed: true}
}

// RecordFill converts reservedUSD of the market's reservation into invested
// capital worth filledUSD. Partial fills pass the actually-filled amount;
// the unfilled remainder of the reservation is released.
func (g *Guard) RecordFill(marketSlug string, reservedUSD, filledUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.releaseLocked(marketSlug, reservedUSD)
	if filledUSD > 0 {
		g.invested[marketSlug] += filledUSD
	}
}

// ReleaseReservation returns a failed submission's reservation to the pool.
func (g *Guard) ReleaseReservation(marketSlug string, reservedUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(marketSlug, reservedUSD)
}

func (g *Guard) releaseLocked(marketSlug string, usd float64) {
	g.reserved[marketSlug] -= usd
	if g.reserved[marketSlug] <= 0 {
		delete(g.reserved, marketSlug)
	}
}

// ResetMarket clears a market's invested capital once its window has
// settled, so the next window starts from a clean ceiling.
func (g *Guard) ResetMarket(marketSlug string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if was, ok := g.invested[marketSlug]; ok {
		delete(g.invested, marketSlug)
		g.logger.Info("market investment reset",
			slog.String("market", marketSlug),
			slog.Float64("was_usd", was),
		)
	}
	delete(g.reserved, marketSlug)
}

// SetEmergencyStop engages or clears the emergency stop. While engaged,
// every admission check is denied; orders already accepted by the venue are
// not cancelled.
func (g *Guard) SetEmergencyStop(stopped bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.emergencyStopped == stopped {
		return
	}
	g.emergencyStopped = stopped
	if stopped {
		g.logger.Error("EMERGENCY STOP ENGAGED", slog.String("reason", reason))
	} else {
		g.logger.Warn("emergency stop cleared")
	}
}

// EmergencyStopped reports whether the emergency stop is engaged.
func (g *Guard) EmergencyStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emergencyStopped
}

// IsDryRun reports whether dry-run mode is active.
func (g *Guard) IsDryRun() bool {
	return g.limits.DryRun
}

// MarketInvestment returns the filled USD committed to one market.
func (g *Guard) MarketInvestment(marketSlug string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.invested[marketSlug]
}

// TotalInvestment returns the filled USD committed across all markets.
func (g *Guard) TotalInvestment() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total float64
	for _, v := range g.invested {
		total += v
	}
	return total
}

// pruneWindowLocked drops admissions older than one minute. Caller must
// hold g.mu.
func (g *Guard) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for ; i < len(g.orderTimes); i++ {
		if g.orderTimes[i].After(cutoff) {
			break
		}
	}
	g.orderTimes = g.orderTimes[i:]
}
