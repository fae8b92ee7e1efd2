// Package executor owns the order path between strategy decisions and the
// venue. Every submission passes the safety gate first; orders remain owned
// by the executor until they reach a terminal status.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/platform/polymarket"
	"github.com/updownlabs/updownbot/internal/safety"
)

// VenueClient is the interface through which the executor reaches the CLOB.
type VenueClient interface {
	PostOrder(ctx context.Context, r polymarket.OrderRequest) (polymarket.APIOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (polymarket.APIOrder, error)
}

// AdmissionGate is the safety guard surface the executor depends on.
type AdmissionGate interface {
	CheckAndReserve(marketSlug string, proposedUSD float64, requiresLive bool) safety.Decision
	RecordFill(marketSlug string, reservedUSD, filledUSD float64)
	ReleaseReservation(marketSlug string, reservedUSD float64)
	IsDryRun() bool
}

// EventSink receives engine events. Implementations must not block; the
// executor does not depend on delivery succeeding.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event)
}

// Config tunes submission behaviour.
type Config struct {
	RequestTimeout  time.Duration
	ExitMaxRetries  int           // transient-retry budget for exit orders
	RetryBackoff    time.Duration // base backoff, doubled per attempt
	RetryBackoffMax time.Duration
	NegRisk         bool // default; overridden per market
}

// Executor submits orders through the admission gate to the venue.
type Executor struct {
	venue  VenueClient
	gate   AdmissionGate
	events EventSink
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor. events may be nil.
func New(venue VenueClient, gate AdmissionGate, events EventSink, cfg Config, logger *slog.Logger) *Executor {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ExitMaxRetries < 1 {
		cfg.ExitMaxRetries = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = 30 * time.Second
	}
	return &Executor{
		venue:  venue,
		gate:   gate,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "order_executor")),
	}
}

// Submit runs an intent through admission control and, if admitted, to the
// venue. The returned Order is always terminal: FILLED, PARTIALLY_FILLED
// (exit orders that ran out of retries mid-fill), or REJECTED with a
// reason. Entry orders get a single venue attempt; exit orders retry
// transient failures with capped exponential backoff.
//
// A denied admission returns the order with domain.ErrSafetyDenied so
// callers can distinguish the business outcome from venue errors.
func (e *Executor) Submit(ctx context.Context, intent domain.OrderIntent, negRisk bool) (domain.Order, error) {
	order := domain.Order{
		ClientID:    uuid.New().String(),
		Coin:        intent.Coin,
		Slug:        intent.Slug,
		TokenID:     intent.TokenID,
		Side:        intent.Side,
		Action:      intent.Action,
		Purpose:     intent.Purpose,
		Price:       intent.Price,
		Size:        intent.Size,
		Status:      domain.OrderStatusPending,
		SubmittedAt: time.Now(),
	}

	log := e.logger.With(
		slog.String("client_id", order.ClientID),
		slog.String("market", intent.Slug),
		slog.String("side", string(intent.Side)),
		slog.String("action", string(intent.Action)),
		slog.String("purpose", string(intent.Purpose)),
		slog.Float64("price", intent.Price),
		slog.Float64("size", intent.Size),
	)

	notional := intent.NotionalUSD()
	decision := e.gate.CheckAndReserve(intent.Slug, notional, !intent.DryRunOK)
	if !decision.Allowed {
		e.finish(&order, domain.OrderStatusRejected, domain.RejectReasonSafetyDenied+": "+decision.Reason)
		log.Warn("order denied by safety guard", slog.String("reason", decision.Reason))
		e.publish(ctx, domain.EventSafetyDenied, intent.Coin, intent.Slug, map[string]string{
			"reason": decision.Reason,
			"usd":    fmt.Sprintf("%.2f", notional),
		})
		return order, fmt.Errorf("executor: %w: %s", domain.ErrSafetyDenied, decision.Reason)
	}

	if e.gate.IsDryRun() {
		// No venue call: fabricate a complete fill so the downstream path
		// (tracker, stores, notifications) exercises identically to live.
		order.DryRun = true
		order.VenueID = "dry-" + order.ClientID
		order.FilledSize = intent.Size
		order.AvgFillPrice = intent.Price
		e.finish(&order, domain.OrderStatusFilled, "")
		e.gate.RecordFill(intent.Slug, notional, notional)
		log.Info("dry-run order filled synthetically")
		e.publish(ctx, domain.EventOrderFilled, intent.Coin, intent.Slug, map[string]string{
			"client_id": order.ClientID,
			"dry_run":   "true",
		})
		return order, nil
	}

	e.publish(ctx, domain.EventOrderSubmitted, intent.Coin, intent.Slug, map[string]string{
		"client_id": order.ClientID,
		"usd":       fmt.Sprintf("%.2f", notional),
	})

	maxAttempts := 1
	if intent.Purpose == domain.OrderPurposeExit {
		maxAttempts = e.cfg.ExitMaxRetries
	}

	err := e.submitWithRetries(ctx, &order, intent, negRisk, maxAttempts, log)
	filledUSD := order.FilledSize * order.AvgFillPrice
	if order.FilledSize > 0 {
		e.gate.RecordFill(intent.Slug, notional, filledUSD)
	} else {
		e.gate.ReleaseReservation(intent.Slug, notional)
	}

	switch {
	case err != nil:
		e.publish(ctx, domain.EventOrderRejected, intent.Coin, intent.Slug, map[string]string{
			"client_id": order.ClientID,
			"reason":    order.Reason,
		})
	case order.Status == domain.OrderStatusFilled || order.Status == domain.OrderStatusPartiallyFilled:
		e.publish(ctx, domain.EventOrderFilled, intent.Coin, intent.Slug, map[string]string{
			"client_id":  order.ClientID,
			"venue_id":   order.VenueID,
			"filled":     fmt.Sprintf("%.2f", order.FilledSize),
			"avg_price":  fmt.Sprintf("%.4f", order.AvgFillPrice),
			"filled_usd": fmt.Sprintf("%.2f", filledUSD),
		})
	}

	return order, err
}

// submitWithRetries drives the venue attempts. Hard rejections stop
// immediately; transient failures consume the attempt budget.
func (e *Executor) submitWithRetries(ctx context.Context, order *domain.Order, intent domain.OrderIntent, negRisk bool, maxAttempts int, log *slog.Logger) error {
	backoff := e.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				e.finish(order, domain.OrderStatusRejected, domain.RejectReasonNetworkFailure+": cancelled")
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > e.cfg.RetryBackoffMax {
				backoff = e.cfg.RetryBackoffMax
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		result, err := e.venue.PostOrder(reqCtx, polymarket.OrderRequest{
			TokenID:   intent.TokenID,
			Side:      intent.Action,
			Price:     intent.Price,
			Size:      intent.Size,
			NegRisk:   negRisk,
			OrderType: "FAK",
		})
		cancel()

		if err != nil {
			if errors.Is(err, domain.ErrVenueTransient) {
				lastErr = err
				log.Warn("venue attempt failed, transient",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				continue
			}
			// Hard rejection: bad signature, insufficient balance, invalid price.
			e.finish(order, domain.OrderStatusRejected, domain.RejectReasonVenueRejected+": "+err.Error())
			log.Warn("order rejected by venue", slog.String("error", err.Error()))
			return fmt.Errorf("executor: %w", err)
		}

		order.VenueID = result.OrderID
		order.Status = domain.OrderStatusAcked
		e.resolveFill(ctx, order, result, log)
		return nil
	}

	e.finish(order, domain.OrderStatusRejected, domain.RejectReasonNetworkFailure)
	if lastErr == nil {
		lastErr = domain.ErrVenueTransient
	}
	log.Error("order submission exhausted retries", slog.String("error", lastErr.Error()))
	return fmt.Errorf("executor: %w", lastErr)
}

// resolveFill settles the order's terminal fill state. FAK orders usually
// come back matched in the placement response; otherwise the venue is
// polled briefly for the final matched size.
func (e *Executor) resolveFill(ctx context.Context, order *domain.Order, result polymarket.APIOrderResult, log *slog.Logger) {
	if result.Status == "matched" {
		filled := order.Size
		if taking, err := strconv.ParseFloat(result.TakingAmount, 64); err == nil && taking > 0 && order.Action == domain.OrderActionBuy {
			filled = taking
		}
		if making, err := strconv.ParseFloat(result.MakingAmount, 64); err == nil && making > 0 && order.Action == domain.OrderActionSell {
			filled = making
		}
		order.FilledSize = filled
		order.AvgFillPrice = order.Price
		e.finish(order, domain.OrderStatusFilled, "")
		log.Info("order filled", slog.Float64("filled", filled))
		return
	}

	// FAK orders that did not match instantly are cancelled by the venue;
	// poll once a second for the terminal state.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(e.cfg.RequestTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			e.finish(order, domain.OrderStatusCancelled, "")
			return
		case <-ticker.C:
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		apiOrder, err := e.venue.GetOrder(reqCtx, order.VenueID)
		cancel()
		if err != nil {
			continue
		}

		status := apiOrder.DomainStatus()
		order.FilledSize = apiOrder.MatchedSize()
		if order.FilledSize > 0 {
			order.AvgFillPrice = order.Price
		}
		if status.Terminal() || status == domain.OrderStatusPartiallyFilled {
			e.finish(order, status, "")
			log.Info("order settled", slog.String("status", string(status)), slog.Float64("filled", order.FilledSize))
			return
		}
	}

	// Still not terminal: report what matched so far.
	if order.FilledSize > 0 {
		e.finish(order, domain.OrderStatusPartiallyFilled, "")
	} else {
		e.finish(order, domain.OrderStatusCancelled, "")
	}
}

func (e *Executor) finish(order *domain.Order, status domain.OrderStatus, reason string) {
	order.Status = status
	order.Reason = reason
	now := time.Now()
	order.CompletedAt = &now
}

func (e *Executor) publish(ctx context.Context, typ domain.EventType, coin domain.Coin, slug string, detail map[string]string) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, domain.Event{
		Type:   typ,
		Coin:   coin,
		Slug:   slug,
		At:     time.Now(),
		Detail: detail,
	})
}
