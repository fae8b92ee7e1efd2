package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updownbot/internal/domain"
)

type captureSender struct {
	ch chan string
}

func (c *captureSender) Send(ctx context.Context, title, message string) error {
	c.ch <- title + "|" + message
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func TestPublishFiltersEventTypes(t *testing.T) {
	s := &captureSender{ch: make(chan string, 4)}
	n := NewNotifier([]Sender{s}, []string{"position_opened"}, slog.New(slog.DiscardHandler))

	n.Publish(context.Background(), domain.Event{Type: domain.EventOrderFilled, Coin: domain.CoinBTC})
	n.Publish(context.Background(), domain.Event{
		Type: domain.EventPositionOpened,
		Coin: domain.CoinBTC,
		Slug: "btc-updown-15m-100",
	})

	select {
	case got := <-s.ch:
		assert.Contains(t, got, "BTC: Position opened")
		assert.Contains(t, got, "market: btc-updown-15m-100")
	case <-time.After(time.Second):
		t.Fatal("notification never delivered")
	}

	// The filtered order_filled event must not arrive.
	select {
	case got := <-s.ch:
		t.Fatalf("unexpected notification: %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishEmptyFilterForwardsEverything(t *testing.T) {
	s := &captureSender{ch: make(chan string, 4)}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))

	n.Publish(context.Background(), domain.Event{Type: domain.EventMarketRollover, Coin: domain.CoinETH})

	select {
	case got := <-s.ch:
		assert.Contains(t, got, "ETH: ")
	case <-time.After(time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestFormatSortsDetailKeys(t *testing.T) {
	title, message := format(domain.Event{
		Type: domain.EventPositionClosed,
		Coin: domain.CoinSOL,
		Slug: "sol-updown-15m-100",
		Detail: map[string]string{
			"realized_pnl": "-2.80",
			"exit_reason":  "stop_loss",
		},
	})

	require.Equal(t, "SOL: Position closed", title)
	assert.Equal(t, "market: sol-updown-15m-100\nexit_reason: stop_loss\nrealized_pnl: -2.80", message)
}

func TestFormatEmergencyStop(t *testing.T) {
	title, _ := format(domain.Event{Type: domain.EventEmergencyStop})
	assert.Equal(t, "EMERGENCY STOP", title)
}
