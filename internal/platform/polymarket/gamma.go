package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
)

var errTooFewTokens = errors.New("market has fewer than two outcome tokens")

// windowSeconds is the length of one up/down contract period.
const windowSeconds = 900

// GammaClient is the REST client for the Polymarket Gamma API, used to
// discover the current 15-minute up/down market for each coin.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CurrentSlug returns the deterministic slug of the up/down market whose
// window contains now. Windows are aligned to 900-second boundaries of Unix
// time, so the slug is computable without a venue round trip.
func CurrentSlug(coin domain.Coin, now time.Time) string {
	slot := now.Unix() / windowSeconds * windowSeconds
	return fmt.Sprintf("%s-updown-15m-%d", coin, slot)
}

// WindowBounds returns the start and end of the window containing now.
func WindowBounds(now time.Time) (start, end time.Time) {
	slot := now.Unix() / windowSeconds * windowSeconds
	return time.Unix(slot, 0), time.Unix(slot+windowSeconds, 0)
}

// CurrentMarket discovers the live up/down market for a coin. Returns
// domain.ErrNotFound when the window's market has not been listed yet
// (markets typically appear a few seconds after the window opens).
func (g *GammaClient) CurrentMarket(ctx context.Context, coin domain.Coin, now time.Time) (domain.Market, error) {
	slug := CurrentSlug(coin, now)

	m, err := g.MarketBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, err
	}

	start, end := WindowBounds(now)
	m.Coin = coin
	m.WindowStart = start
	m.WindowEnd = end
	return m, nil
}

// MarketBySlug fetches an up/down market through the events endpoint, which
// is the only Gamma surface that reliably carries the CLOB token ids.
func (g *GammaClient) MarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	am := events[0].Markets[0]
	up, down, err := am.UpDownTokens()
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: tokens for %s: %w", slug, err)
	}

	status := domain.MarketStatusActive
	if am.Closed || events[0].Closed {
		status = domain.MarketStatusClosed
	}

	return domain.Market{
		Slug:        slug,
		ConditionID: am.ConditionID,
		UpTokenID:   up,
		DownTokenID: down,
		NegRisk:     bool(am.NegRisk),
		Status:      status,
	}, nil
}

// Resolution reports whether a market has resolved and which side won.
type Resolution struct {
	Resolved bool
	Winner   domain.Outcome // meaningful only when Resolved
}

// MarketResolution fetches resolution state for a past window by slug. The
// winner is read from the resolved outcome prices (1 for the winning side).
func (g *GammaClient) MarketResolution(ctx context.Context, slug string) (Resolution, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return Resolution{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return Resolution{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return Resolution{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}

	am := events[0].Markets[0]
	if !am.Closed {
		return Resolution{}, nil
	}

	var prices []string
	var outcomes []string
	if am.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(am.OutcomePrices), &prices); err != nil {
			return Resolution{Resolved: true}, nil
		}
	}
	if am.Outcomes != "" {
		_ = json.Unmarshal([]byte(am.Outcomes), &outcomes)
	}

	res := Resolution{Resolved: true, Winner: domain.OutcomeUp}
	for i, p := range prices {
		if p == "1" && i < len(outcomes) && outcomes[i] == "Down" {
			res.Winner = domain.OutcomeDown
		}
	}
	return res, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", domainNetErr(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
