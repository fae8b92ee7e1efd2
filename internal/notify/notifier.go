// Package notify delivers engine events to operator channels. Notifications
// are dispatched to all registered senders and filtered by event type so
// operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
)

// sendTimeout bounds a single delivery attempt. Deliveries run detached from
// the publishing goroutine so a slow channel never stalls the trading path.
const sendTimeout = 10 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier formats engine events and dispatches them to its senders. It
// implements the engine's event sink interface; Publish never blocks.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool // allowed; empty means all
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only event
// types named in events are forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish formats and dispatches one event. Delivery happens on a detached
// goroutine with its own timeout.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[ev.Type] {
		return
	}

	title, message := format(ev)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.dispatch(sendCtx, title, message)
	}()
}

// dispatch delivers to every sender; one failing channel does not block the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

// format renders one event as a title and message body.
func format(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventOrderFilled:
		title = "Order filled"
	case domain.EventOrderRejected:
		title = "Order rejected"
	case domain.EventPositionOpened:
		title = "Position opened"
	case domain.EventPositionClosed:
		title = "Position closed"
	case domain.EventSafetyDenied:
		title = "Order denied by safety guard"
	case domain.EventEmergencyStop:
		title = "EMERGENCY STOP"
	case domain.EventRedeemed:
		title = "Winnings redeemed"
	default:
		title = string(ev.Type)
	}
	if ev.Coin != "" {
		title = strings.ToUpper(string(ev.Coin)) + ": " + title
	}

	var b strings.Builder
	if ev.Slug != "" {
		fmt.Fprintf(&b, "market: %s\n", ev.Slug)
	}
	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, ev.Detail[k])
	}
	return title, strings.TrimRight(b.String(), "\n")
}
