package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updownbot/internal/domain"
)

func TestCurrentSlugAlignsToWindow(t *testing.T) {
	// 1699999200 is a 900-second boundary.
	at := time.Unix(1699999200, 0)
	assert.Equal(t, "btc-updown-15m-1699999200", CurrentSlug(domain.CoinBTC, at))

	// Any instant inside the window maps to the same slug.
	assert.Equal(t, "btc-updown-15m-1699999200", CurrentSlug(domain.CoinBTC, at.Add(899*time.Second)))
	assert.Equal(t, "btc-updown-15m-1700000100", CurrentSlug(domain.CoinBTC, at.Add(900*time.Second)))
}

func TestWindowBounds(t *testing.T) {
	now := time.Unix(1699999200+437, 0)
	start, end := WindowBounds(now)

	assert.Equal(t, int64(1699999200), start.Unix())
	assert.Equal(t, int64(1700000100), end.Unix())
	assert.Equal(t, 15*time.Minute, end.Sub(start))
	assert.False(t, now.Before(start))
	assert.True(t, now.Before(end))
}

func gammaEventJSON(slug string, closed bool) string {
	return fmt.Sprintf(`[{
		"id": "9001",
		"slug": %q,
		"closed": %t,
		"markets": [{
			"conditionId": "0xcond",
			"slug": %q,
			"closed": %t,
			"outcomes": "[\"Up\",\"Down\"]",
			"clobTokenIds": "[\"111\",\"222\"]",
			"outcomePrices": "[\"0\",\"1\"]",
			"negRisk": "true"
		}]
	}]`, slug, closed, slug, closed)
}

func TestMarketBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "btc-updown-15m-1699999200", r.URL.Query().Get("slug"))
		fmt.Fprint(w, gammaEventJSON("btc-updown-15m-1699999200", false))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	m, err := g.MarketBySlug(context.Background(), "btc-updown-15m-1699999200")
	require.NoError(t, err)

	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, "111", m.UpTokenID)
	assert.Equal(t, "222", m.DownTokenID)
	assert.True(t, m.NegRisk)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
}

func TestMarketBySlugNotListedYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	_, err := g.MarketBySlug(context.Background(), "btc-updown-15m-1699999200")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMarketResolutionWinner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, gammaEventJSON("eth-updown-15m-1699999200", true))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	res, err := g.MarketResolution(context.Background(), "eth-updown-15m-1699999200")
	require.NoError(t, err)

	assert.True(t, res.Resolved)
	assert.Equal(t, domain.OutcomeDown, res.Winner)
}

func TestMarketResolutionStillOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, gammaEventJSON("eth-updown-15m-1699999200", false))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	res, err := g.MarketResolution(context.Background(), "eth-updown-15m-1699999200")
	require.NoError(t, err)
	assert.False(t, res.Resolved)
}

func TestUpDownTokensHonorsOutcomeOrder(t *testing.T) {
	m := &APIMarket{
		Outcomes:     `["Down","Up"]`,
		ClobTokenIDs: `["111","222"]`,
	}
	up, down, err := m.UpDownTokens()
	require.NoError(t, err)
	assert.Equal(t, "222", up)
	assert.Equal(t, "111", down)
}

func TestUpDownTokensRejectsShortTokenList(t *testing.T) {
	m := &APIMarket{ClobTokenIDs: `["111"]`}
	_, _, err := m.UpDownTokens()
	require.Error(t, err)
}
