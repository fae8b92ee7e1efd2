package safety

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestGuard(limits Limits) *Guard {
	return NewGuard(limits, testLogger())
}

func defaultLimits() Limits {
	return Limits{
		MaxOrderSizeUSD:    150,
		MaxPerMarketUSD:    300,
		MaxOrdersPerMinute: 30,
	}
}

func TestCheckAndReserveAllows(t *testing.T) {
	g := newTestGuard(defaultLimits())

	d := g.CheckAndReserve("btc-updown-15m-100", 50, true)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestPerOrderCeiling(t *testing.T) {
	g := newTestGuard(defaultLimits())

	d := g.CheckAndReserve("btc-updown-15m-100", 150.01, true)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, ReasonOrderSizeLimit)

	// Exactly at the ceiling is allowed.
	d = g.CheckAndReserve("btc-updown-15m-100", 150, true)
	assert.True(t, d.Allowed)
}

func TestPerMarketCeilingCountsReservations(t *testing.T) {
	g := newTestGuard(defaultLimits())

	d := g.CheckAndReserve("eth-updown-15m-100", 150, true)
	require.True(t, d.Allowed)
	d = g.CheckAndReserve("eth-updown-15m-100", 150, true)
	require.True(t, d.Allowed)

	// Market is fully committed by reservations alone.
	d = g.CheckAndReserve("eth-updown-15m-100", 1, true)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, ReasonInvestmentLimit)

	// Other markets are unaffected.
	d = g.CheckAndReserve("sol-updown-15m-100", 100, true)
	assert.True(t, d.Allowed)
}

func TestReleaseReservationRestoresHeadroom(t *testing.T) {
	g := newTestGuard(defaultLimits())

	require.True(t, g.CheckAndReserve("btc-updown-15m-100", 150, true).Allowed)
	require.True(t, g.CheckAndReserve("btc-updown-15m-100", 150, true).Allowed)
	require.False(t, g.CheckAndReserve("btc-updown-15m-100", 10, true).Allowed)

	g.ReleaseReservation("btc-updown-15m-100", 150)

	assert.True(t, g.CheckAndReserve("btc-updown-15m-100", 10, true).Allowed)
}

func TestRecordFillPartial(t *testing.T) {
	g := newTestGuard(defaultLimits())

	require.True(t, g.CheckAndReserve("xrp-updown-15m-100", 100, true).Allowed)

	// Only 60 of the reserved 100 actually filled.
	g.RecordFill("xrp-updown-15m-100", 100, 60)

	assert.InDelta(t, 60, g.MarketInvestment("xrp-updown-15m-100"), 1e-9)
	// 240 of headroom remains.
	assert.True(t, g.CheckAndReserve("xrp-updown-15m-100", 240, true).Allowed)
	assert.False(t, g.CheckAndReserve("xrp-updown-15m-100", 1, true).Allowed)
}

func TestEmergencyStopDeniesEverything(t *testing.T) {
	g := newTestGuard(defaultLimits())

	g.SetEmergencyStop(true, "operator")

	for _, slug := range []string{"btc-updown-15m-100", "eth-updown-15m-100", "sol-updown-15m-100", "xrp-updown-15m-100"} {
		d := g.CheckAndReserve(slug, 10, true)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonEmergencyStop, d.Reason)
	}

	// Invested state survives the stop for later redemption.
	assert.True(t, g.EmergencyStopped())

	g.SetEmergencyStop(false, "")
	assert.True(t, g.CheckAndReserve("btc-updown-15m-100", 10, true).Allowed)
}

func TestDryRunDeniesLiveOnly(t *testing.T) {
	limits := defaultLimits()
	limits.DryRun = true
	g := newTestGuard(limits)

	d := g.CheckAndReserve("btc-updown-15m-100", 50, true)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDryRun, d.Reason)

	// Synthetic orders still pass the remaining checks.
	d = g.CheckAndReserve("btc-updown-15m-100", 50, false)
	assert.True(t, d.Allowed)
	assert.True(t, g.IsDryRun())
}

func TestRateWindow(t *testing.T) {
	limits := defaultLimits()
	limits.MaxOrdersPerMinute = 3
	g := newTestGuard(limits)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, g.CheckAndReserve(fmt.Sprintf("m%d", i), 1, true).Allowed)
	}

	d := g.CheckAndReserve("m3", 1, true)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, ReasonRateLimit)

	// Once the window slides past the oldest admission, capacity returns.
	now = now.Add(61 * time.Second)
	assert.True(t, g.CheckAndReserve("m3", 1, true).Allowed)
}

func TestResetMarketClearsInvestment(t *testing.T) {
	g := newTestGuard(defaultLimits())

	require.True(t, g.CheckAndReserve("btc-updown-15m-100", 150, true).Allowed)
	g.RecordFill("btc-updown-15m-100", 150, 150)
	require.True(t, g.CheckAndReserve("btc-updown-15m-100", 150, true).Allowed)
	g.RecordFill("btc-updown-15m-100", 150, 150)

	require.False(t, g.CheckAndReserve("btc-updown-15m-100", 1, true).Allowed)

	g.ResetMarket("btc-updown-15m-100")

	assert.Zero(t, g.MarketInvestment("btc-updown-15m-100"))
	assert.True(t, g.CheckAndReserve("btc-updown-15m-100", 150, true).Allowed)
}

func TestConcurrentReservationsNeverBreachCeiling(t *testing.T) {
	limits := defaultLimits()
	limits.MaxOrdersPerMinute = 10_000
	g := newTestGuard(limits)

	const slug = "eth-updown-15m-100"
	const workers = 50
	const orderUSD = 20.0

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admittedUSD float64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.CheckAndReserve(slug, orderUSD, true).Allowed {
				mu.Lock()
				admittedUSD += orderUSD
				mu.Unlock()
				g.RecordFill(slug, orderUSD, orderUSD)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, admittedUSD, limits.MaxPerMarketUSD)
	assert.InDelta(t, admittedUSD, g.MarketInvestment(slug), 1e-9)
	assert.InDelta(t, 300, admittedUSD, 1e-9) // 15 of 50 orders fit exactly
}

func TestTotalInvestmentSumsMarkets(t *testing.T) {
	g := newTestGuard(defaultLimits())

	for _, slug := range []string{"btc-x", "eth-x"} {
		require.True(t, g.CheckAndReserve(slug, 40, true).Allowed)
		g.RecordFill(slug, 40, 40)
	}

	assert.InDelta(t, 80, g.TotalInvestment(), 1e-9)
}

func TestDenialReasonsAreDescriptive(t *testing.T) {
	g := newTestGuard(defaultLimits())

	d := g.CheckAndReserve("btc-updown-15m-100", 200, true)
	require.False(t, d.Allowed)
	assert.True(t, strings.Contains(d.Reason, "$200.00"), "reason should carry amounts: %s", d.Reason)
}
