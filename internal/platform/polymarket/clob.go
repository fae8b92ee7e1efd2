package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/updownlabs/updownbot/internal/crypto"
	"github.com/updownlabs/updownbot/internal/domain"
)

// amountScale converts decimal prices and contract counts to the fixed-point
// integer amounts the Exchange contract expects.
const amountScale = 1e6

const zeroAddress = "0x0000000000000000000000000000000000000000"

// OrderRequest is what the executor hands the CLOB client for submission.
// The client computes maker/taker amounts, signs, and posts.
type OrderRequest struct {
	TokenID   string
	Side      domain.OrderAction
	Price     float64 // limit price in [0.01, 0.99]
	Size      float64 // contracts
	NegRisk   bool
	OrderType string // "FAK" for marketable orders, "GTC" for resting
}

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles order placement, cancellation, and queries.
// A client-side rate limiter keeps request bursts under the venue's
// published limits independently of the engine's own order-rate ceiling.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	limiter    *rate.Limiter

	funder        string // address holding the funds (proxy/Safe), falls back to signer address
	signatureType int
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// funder is the funding address for signature types 1/2; pass "" for EOA.
func NewClobClient(baseURL string, signer *crypto.Signer, funder string, signatureType int, timeout time.Duration) *ClobClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &ClobClient{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		signer:        signer,
		limiter:       rate.NewLimiter(rate.Limit(8), 16),
		funder:        funder,
		signatureType: signatureType,
	}
	if c.funder == "" && signer != nil {
		c.funder = signer.Address().Hex()
		c.signatureType = 0
	}
	return c
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's credentials
// for subsequent L2 requests.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", domainNetErr(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// Credentials returns the derived API credentials, or nil before DeriveAPIKey.
func (c *ClobClient) Credentials() *crypto.HMACAuth {
	return c.hmacAuth
}

// PostOrder signs and submits an order to the CLOB API.
func (c *ClobClient) PostOrder(ctx context.Context, r OrderRequest) (APIOrderResult, error) {
	payload, sig, err := c.buildSignedOrder(r)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: build order: %w", err)
	}

	orderType := r.OrderType
	if orderType == "" {
		orderType = "FAK"
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          jsonNumber(payload.Salt),
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenId":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideString(r.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.ownerKey(),
		"orderType": orderType,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	if !result.Success {
		if result.ShouldRetry {
			return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrVenueTransient, result.ErrorMsg)
		}
		return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrVenueRejected, result.ErrorMsg)
	}

	return result, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}

	return nil
}

// GetOrder retrieves a single order by ID.
func (c *ClobClient) GetOrder(ctx context.Context, orderID string) (APIOrder, error) {
	path := fmt.Sprintf("/data/order/%s", orderID)

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: get order %s: %w", orderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return APIOrder{}, fmt.Errorf("polymarket/clob: decode order: %w", err)
	}

	return order, nil
}

// GetOpenOrders returns all open orders for the authenticated wallet.
func (c *ClobClient) GetOpenOrders(ctx context.Context) ([]APIOrder, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/data/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
	}

	var orders []APIOrder
	if err := json.Unmarshal(respBody, &orders); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
	}

	return orders, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildSignedOrder rounds the request to venue tick sizes, computes the
// fixed-point maker/taker amounts, and signs the EIP-712 payload.
func (c *ClobClient) buildSignedOrder(r OrderRequest) (crypto.OrderPayload, string, error) {
	price := math.Round(r.Price*100) / 100
	size := math.Round(r.Size*100) / 100
	if price <= 0 || price >= 1 {
		return crypto.OrderPayload{}, "", fmt.Errorf("price %v out of range", r.Price)
	}
	if size <= 0 {
		return crypto.OrderPayload{}, "", fmt.Errorf("size %v out of range", r.Size)
	}

	usd := int64(math.Round(price * size * amountScale))
	contracts := int64(math.Round(size * amountScale))

	var makerAmount, takerAmount int64
	var side int
	switch r.Side {
	case domain.OrderActionBuy:
		makerAmount, takerAmount = usd, contracts
		side = 0
	case domain.OrderActionSell:
		makerAmount, takerAmount = contracts, usd
		side = 1
	default:
		return crypto.OrderPayload{}, "", fmt.Errorf("unknown side %q", r.Side)
	}

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int63(), 10),
		Maker:         c.funder,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       r.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.signatureType,
	}

	sig, err := c.signer.SignOrder(payload, r.NegRisk)
	if err != nil {
		return crypto.OrderPayload{}, "", err
	}
	return payload, sig, nil
}

// ownerKey returns the API key used as the "owner" field on order posts.
func (c *ClobClient) ownerKey() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return ""
}

func sideString(a domain.OrderAction) string {
	if a == domain.OrderActionSell {
		return "SELL"
	}
	return "BUY"
}

// jsonNumber converts a decimal string to a json.Number so salts serialize
// without quotes, matching the venue's expected order schema.
func jsonNumber(s string) json.Number {
	return json.Number(s)
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", domainNetErr(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes onto the engine's error taxonomy:
// 5xx and 429 are transient and safe to retry, 4xx are hard rejections.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueTransient, statusCode, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueRejected, statusCode, bodyStr)
	}
}

// domainNetErr wraps transport-level failures as transient venue errors so
// callers can retry them uniformly.
func domainNetErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrVenueTransient, err)
}
