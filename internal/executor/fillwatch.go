package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/updownbot/internal/crypto"
	"github.com/updownlabs/updownbot/internal/platform/polymarket"
)

// FillWatcher mirrors the venue's view of the wallet's order activity over
// the authenticated user channel. The executor's polled order state stays
// authoritative; the watcher surfaces venue-side placements, fills and
// cancellations in the log as they happen, so a divergence between the two
// views is visible immediately.
type FillWatcher struct {
	ws     *polymarket.WSClient
	creds  *crypto.HMACAuth
	logger *slog.Logger
}

// NewFillWatcher creates a watcher over the CLOB user channel. creds are the
// derived API credentials of the trading wallet.
func NewFillWatcher(wsHost string, creds *crypto.HMACAuth, reconnectBackoffMax time.Duration, logger *slog.Logger) *FillWatcher {
	return &FillWatcher{
		ws:     polymarket.NewUserWSClient(wsHost, reconnectBackoffMax),
		creds:  creds,
		logger: logger.With(slog.String("component", "fill_watch")),
	}
}

// Run connects, subscribes to all of the wallet's markets, and streams until
// ctx is cancelled.
func (f *FillWatcher) Run(ctx context.Context) error {
	f.ws.OnUserOrder(func(o polymarket.WSUserOrder) {
		f.logger.Debug("venue order update",
			slog.String("venue_id", o.ID),
			slog.String("type", o.Type),
			slog.String("status", o.Status),
			slog.String("side", o.Side),
			slog.String("price", o.Price),
			slog.String("matched", o.SizeMatched),
		)
	})
	f.ws.OnUserTrade(func(t polymarket.WSUserTrade) {
		f.logger.Info("venue fill",
			slog.String("venue_order_id", t.TakerOrderID),
			slog.String("side", t.Side),
			slog.String("price", t.Price),
			slog.String("size", t.Size),
			slog.String("status", t.Status),
		)
	})

	// An empty market list subscribes to all of the wallet's activity.
	if err := f.ws.SubscribeUser(nil, polymarket.WSAuthInfo{
		APIKey:     f.creds.Key,
		Secret:     f.creds.Secret,
		Passphrase: f.creds.Passphrase,
	}); err != nil {
		return fmt.Errorf("executor: user channel subscribe: %w", err)
	}
	if err := f.ws.Connect(ctx); err != nil {
		return fmt.Errorf("executor: user channel connect: %w", err)
	}

	f.logger.Info("fill watcher connected")
	<-ctx.Done()
	_ = f.ws.Close()
	return ctx.Err()
}
