package settlement

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/platform/polymarket"
)

type fakeSource struct {
	positions []polymarket.APIPosition
}

func (f *fakeSource) RedeemablePositions(ctx context.Context, wallet string, sizeThreshold float64) ([]polymarket.APIPosition, error) {
	return f.positions, nil
}

type fakeRedeemer struct {
	claims []domain.RedemptionClaim
	errs   map[string]error // by condition id
}

func (f *fakeRedeemer) Redeem(ctx context.Context, claim domain.RedemptionClaim) (string, error) {
	if err := f.errs[claim.ConditionID]; err != nil {
		return "", err
	}
	f.claims = append(f.claims, claim)
	return "0xtx", nil
}

func newTestCollector(source PositionSource, redeemer ChainRedeemer) *Collector {
	cfg := CollectorConfig{MinRedeemContracts: 0.1}
	return NewCollector(source, redeemer, "0xwallet", nil, nil, nil, cfg, slog.New(slog.DiscardHandler))
}

func TestScanRedeemsWinningPositions(t *testing.T) {
	source := &fakeSource{positions: []polymarket.APIPosition{
		{
			ConditionID:  "0xcond1",
			Slug:         "btc-updown-15m-100",
			Outcome:      "Up",
			Size:         10,
			CurrentValue: 10,
			Redeemable:   true,
		},
		{
			ConditionID:  "0xcond2",
			Slug:         "sol-updown-15m-100",
			Outcome:      "Down",
			Size:         12,
			CurrentValue: 12,
			Redeemable:   true,
			NegativeRisk: true,
		},
	}}
	redeemer := &fakeRedeemer{}
	c := newTestCollector(source, redeemer)

	require.NoError(t, c.ScanOnce(context.Background()))

	require.Len(t, redeemer.claims, 2)
	assert.Equal(t, domain.CoinBTC, redeemer.claims[0].Coin)
	assert.Equal(t, domain.OutcomeUp, redeemer.claims[0].Side)
	assert.Equal(t, domain.OutcomeDown, redeemer.claims[1].Side)
	assert.True(t, redeemer.claims[1].NegRisk)
	assert.InDelta(t, 12, redeemer.claims[1].PayoutUSD, 1e-9)
}

func TestScanSkipsDustPositions(t *testing.T) {
	source := &fakeSource{positions: []polymarket.APIPosition{
		{ConditionID: "0xdust", Slug: "eth-updown-15m-100", Outcome: "Up", Size: 0.05},
	}}
	redeemer := &fakeRedeemer{}
	c := newTestCollector(source, redeemer)

	require.NoError(t, c.ScanOnce(context.Background()))
	assert.Empty(t, redeemer.claims)
}

func TestScanDoesNotResubmitClaimedPositions(t *testing.T) {
	source := &fakeSource{positions: []polymarket.APIPosition{
		{ConditionID: "0xcond1", Slug: "btc-updown-15m-100", Outcome: "Up", Size: 10, CurrentValue: 10},
	}}
	redeemer := &fakeRedeemer{}
	c := newTestCollector(source, redeemer)

	require.NoError(t, c.ScanOnce(context.Background()))
	// The Data API may keep listing the position until the chain catches up.
	require.NoError(t, c.ScanOnce(context.Background()))

	assert.Len(t, redeemer.claims, 1)
}

func TestFailedRedeemRetriesNextScan(t *testing.T) {
	source := &fakeSource{positions: []polymarket.APIPosition{
		{ConditionID: "0xcond1", Slug: "btc-updown-15m-100", Outcome: "Up", Size: 10, CurrentValue: 10},
	}}
	redeemer := &fakeRedeemer{errs: map[string]error{"0xcond1": errors.New("rpc unavailable")}}
	c := newTestCollector(source, redeemer)

	require.NoError(t, c.ScanOnce(context.Background()))
	assert.Empty(t, redeemer.claims)

	delete(redeemer.errs, "0xcond1")
	require.NoError(t, c.ScanOnce(context.Background()))
	assert.Len(t, redeemer.claims, 1)
}
