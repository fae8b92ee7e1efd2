package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/updownlabs/updownbot/internal/domain"
)

type recordingSink struct {
	got []domain.Event
}

func (r *recordingSink) Publish(ctx context.Context, ev domain.Event) {
	r.got = append(r.got, ev)
}

func TestBusFansOutToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	bus := NewBus(a, b)

	ev := domain.Event{Type: domain.EventOrderFilled, Coin: domain.CoinBTC}
	bus.Publish(context.Background(), ev)

	assert.Equal(t, []domain.Event{ev}, a.got)
	assert.Equal(t, []domain.Event{ev}, b.got)
}

func TestBusSkipsNilSinks(t *testing.T) {
	a := &recordingSink{}
	bus := NewBus(nil, a, nil)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventMarketRollover})

	assert.Len(t, a.got, 1)
}

func TestEmptyBusPublishIsNoOp(t *testing.T) {
	bus := NewBus()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventEmergencyStop})
}
