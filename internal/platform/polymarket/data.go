package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DataClient is the REST client for the Polymarket Data API, which serves
// wallet-level position state. Used for startup reconciliation and for
// finding redeemable positions.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new Data API client.
//
// baseURL is the Data API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string) *DataClient {
	return &DataClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Positions returns the wallet's current positions above sizeThreshold
// contracts.
func (d *DataClient) Positions(ctx context.Context, wallet string, sizeThreshold float64) ([]APIPosition, error) {
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("sizeThreshold", strconv.FormatFloat(sizeThreshold, 'f', -1, 64))
	params.Set("limit", "500")

	return d.fetchPositions(ctx, params)
}

// RedeemablePositions returns the wallet's resolved-and-won positions that
// still hold unclaimed proceeds.
func (d *DataClient) RedeemablePositions(ctx context.Context, wallet string, sizeThreshold float64) ([]APIPosition, error) {
	params := url.Values{}
	params.Set("user", wallet)
	params.Set("redeemable", "true")
	params.Set("sizeThreshold", strconv.FormatFloat(sizeThreshold, 'f', -1, 64))
	params.Set("limit", "500")

	return d.fetchPositions(ctx, params)
}

func (d *DataClient) fetchPositions(ctx context.Context, params url.Values) ([]APIPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/positions?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: http request: %w", domainNetErr(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("polymarket/data: positions: %w", err)
	}

	var positions []APIPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}

	return positions, nil
}
