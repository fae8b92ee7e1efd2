package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second
)

// BookHandler is called for every full orderbook snapshot on the market channel.
type BookHandler func(WSBookMessage)

// PriceChangeHandler is called for every incremental price-level update.
type PriceChangeHandler func(WSPriceChange)

// UserOrderHandler is called for order lifecycle messages on the user channel.
type UserOrderHandler func(WSUserOrder)

// UserTradeHandler is called for fill messages on the user channel.
type UserTradeHandler func(WSUserTrade)

// WSClient is a WebSocket client for one channel of the Polymarket CLOB
// real-time feed. It manages the connection lifecycle, keeps the current
// subscription, and dispatches messages to registered handlers. On
// disconnect it reconnects with exponential backoff and re-sends the
// subscription.
type WSClient struct {
	url               string
	maxReconnectDelay time.Duration

	mu       sync.RWMutex
	conn     *websocket.Conn
	closed   bool
	subBytes []byte // current subscription payload, re-sent on reconnect

	handlerMu     sync.RWMutex
	bookHandlers  []BookHandler
	priceHandlers []PriceChangeHandler
	orderHandlers []UserOrderHandler
	tradeHandlers []UserTradeHandler

	done chan struct{}
}

// NewMarketWSClient creates a client for the market (order book) channel.
//
// wsHost is the WebSocket root, e.g. "wss://ws-subscriptions-clob.polymarket.com".
func NewMarketWSClient(wsHost string, maxReconnectDelay time.Duration) *WSClient {
	return newWSClient(wsHost+"/ws/market", maxReconnectDelay)
}

// NewUserWSClient creates a client for the authenticated user channel.
func NewUserWSClient(wsHost string, maxReconnectDelay time.Duration) *WSClient {
	return newWSClient(wsHost+"/ws/user", maxReconnectDelay)
}

func newWSClient(url string, maxReconnectDelay time.Duration) *WSClient {
	if maxReconnectDelay <= 0 {
		maxReconnectDelay = 60 * time.Second
	}
	return &WSClient{
		url:               url,
		maxReconnectDelay: maxReconnectDelay,
		done:              make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. If a subscription has been set it is sent immediately.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)

	if w.subBytes != nil {
		if err := w.send(conn, w.subBytes); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeMarket sets the market-channel subscription to the given asset
// IDs and sends it if connected. The subscription survives reconnects.
func (w *WSClient) SubscribeMarket(assetIDs []string) error {
	payload, err := json.Marshal(WSMarketSubscription{AssetIDs: assetIDs, Type: "market"})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscription: %w", err)
	}
	return w.setSubscription(payload)
}

// SubscribeUser sets the user-channel subscription for the given condition
// IDs, authenticated with the derived API credentials.
func (w *WSClient) SubscribeUser(conditionIDs []string, auth WSAuthInfo) error {
	payload, err := json.Marshal(WSUserSubscription{Markets: conditionIDs, Type: "user", Auth: auth})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscription: %w", err)
	}
	return w.setSubscription(payload)
}

func (w *WSClient) setSubscription(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subBytes = payload
	if w.conn == nil {
		return nil
	}
	return w.send(w.conn, payload)
}

// ForceReconnect drops the current connection. The read loop notices and
// redials with backoff, restoring the subscription. Used by the staleness
// watchdog and at window rollover.
func (w *WSClient) ForceReconnect() {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close shuts down the WebSocket connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnBook registers a handler for full orderbook snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnPriceChange registers a handler for incremental price-level updates.
func (w *WSClient) OnPriceChange(handler PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, handler)
}

// OnUserOrder registers a handler for order lifecycle messages.
func (w *WSClient) OnUserOrder(handler UserOrderHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.orderHandlers = append(w.orderHandlers, handler)
}

// OnUserTrade registers a handler for fill messages.
func (w *WSClient) OnUserTrade(handler UserTradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// send writes a raw payload to the given connection. Caller must hold w.mu.
func (w *WSClient) send(conn *websocket.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. On disconnect it triggers reconnection.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // a fresh readLoop starts from reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it by event type.
// The feed delivers both single objects and arrays of objects.
func (w *WSClient) handleMessage(raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			w.dispatch(item)
		}
		return
	}
	w.dispatch(raw)
}

func (w *WSClient) dispatch(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // silently drop unparseable messages
	}

	switch envelope.EventType {
	case "book":
		var book WSBookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(book)
		}

	case "price_change":
		var pc WSPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(pc)
		}

	case "order":
		var o WSUserOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.orderHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(o)
		}

	case "trade":
		var t WSUserTrade
		if err := json.Unmarshal(raw, &t); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(t)
		}
	}
}

// reconnect re-establishes the WebSocket connection with exponential
// backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > w.maxReconnectDelay {
			delay = w.maxReconnectDelay
		}
	}
}
