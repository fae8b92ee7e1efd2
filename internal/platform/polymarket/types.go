package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/updownlabs/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "negRisk" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIOrder represents an order as returned by the Polymarket CLOB API.
type APIOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Market        string `json:"market"`
	AssetID       string `json:"asset_id"`
	Side          string `json:"side"` // "BUY" or "SELL"
	OriginalSize  string `json:"original_size"`
	SizeMatched   string `json:"size_matched"`
	Price         string `json:"price"`
	Owner         string `json:"owner"`
	CreatedAt     string `json:"created_at"`
}

// Status mapping from CLOB order state to domain status. "live" orders that
// have partially matched are reported as partially filled.
func (a *APIOrder) DomainStatus() domain.OrderStatus {
	matched, _ := strconv.ParseFloat(a.SizeMatched, 64)
	orig, _ := strconv.ParseFloat(a.OriginalSize, 64)

	switch a.Status {
	case "matched", "filled":
		return domain.OrderStatusFilled
	case "cancelled":
		return domain.OrderStatusCancelled
	case "live", "open", "delayed":
		if matched > 0 && matched < orig {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusAcked
	default:
		return domain.OrderStatusPending
	}
}

// MatchedSize returns the venue-reported cumulative matched size.
func (a *APIOrder) MatchedSize() float64 {
	matched, _ := strconv.ParseFloat(a.SizeMatched, 64)
	return matched
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// A 15-minute up/down event carries exactly one market.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Closed  bool        `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket represents a market inside a Gamma event response. The events
// endpoint sends camelCase keys with JSON-encoded string arrays.
type APIMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	ConditionID  string   `json:"conditionId"`
	Slug         string   `json:"slug"`
	Closed       bool     `json:"closed"`
	Outcomes     string   `json:"outcomes"`      // e.g. "[\"Up\",\"Down\"]"
	ClobTokenIDs string   `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	OutcomePrices string  `json:"outcomePrices"` // e.g. "[\"1\",\"0\"]" once resolved
	NegRisk      flexBool `json:"negRisk"`
	EndDateISO   string   `json:"endDateIso"`
}

// UpDownTokens extracts the Up and Down outcome token IDs from the market's
// JSON-encoded outcome and token arrays. Falls back to positional order
// (index 0 = Up) when the outcome labels are missing.
func (m *APIMarket) UpDownTokens() (up, down string, err error) {
	var outcomes []string
	var tokenIDs []string

	if m.Outcomes != "" {
		if err = json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
			return "", "", err
		}
	}
	if err = json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return "", "", err
	}
	if len(tokenIDs) < 2 {
		return "", "", errTooFewTokens
	}

	upIdx, downIdx := 0, 1
	for i, o := range outcomes {
		switch o {
		case "Up":
			upIdx = i
		case "Down":
			downIdx = i
		}
	}
	return tokenIDs[upIdx], tokenIDs[downIdx], nil
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIPosition represents a position as returned by the Polymarket Data API.
type APIPosition struct {
	Asset        string  `json:"asset"` // outcome token id
	ConditionID  string  `json:"conditionId"`
	Slug         string  `json:"slug"`
	Outcome      string  `json:"outcome"` // "Up" or "Down"
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	Redeemable   bool    `json:"redeemable"`
	NegativeRisk bool    `json:"negativeRisk"`
	Title        string  `json:"title"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSBookMessage is a full orderbook snapshot delivered over the market channel.
type WSBookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSPriceChange is an incremental price-level update on the market channel.
type WSPriceChange struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// WSUserOrder is an order lifecycle message on the user channel.
type WSUserOrder struct {
	EventType   string `json:"event_type"`
	ID          string `json:"id"`
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched string `json:"size_matched"`
	Status      string `json:"status"`
	Type        string `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
	Timestamp   string `json:"timestamp"`
}

// WSUserTrade is a trade (fill) message on the user channel.
type WSUserTrade struct {
	EventType    string `json:"event_type"`
	ID           string `json:"id"`
	TakerOrderID string `json:"taker_order_id"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Status       string `json:"status"`
	MatchTime    string `json:"match_time"`
	Timestamp    string `json:"timestamp"`
}

// WSMarketSubscription is the JSON payload that opens a market-channel
// subscription for a set of asset IDs.
type WSMarketSubscription struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"` // "market"
}

// WSUserSubscription opens a user-channel subscription. Requires L2 auth.
type WSUserSubscription struct {
	Markets []string   `json:"markets"` // condition ids
	Type    string     `json:"type"`    // "user"
	Auth    WSAuthInfo `json:"auth"`
}

// WSAuthInfo carries the API credentials for user-channel subscriptions.
type WSAuthInfo struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// BestLevels returns the best (highest) bid and best (lowest) ask from a
// book message. Zero values mean the side is empty.
func (b *WSBookMessage) BestLevels() (bestBid, bestAsk float64) {
	for _, lvl := range b.Bids {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && p > bestBid {
			bestBid = p
		}
	}
	for _, lvl := range b.Asks {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && (bestAsk == 0 || p < bestAsk) {
			bestAsk = p
		}
	}
	return bestBid, bestAsk
}

