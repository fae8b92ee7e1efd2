package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/platform/polymarket"
)

// PositionSource lists redeemable positions for a wallet.
type PositionSource interface {
	RedeemablePositions(ctx context.Context, wallet string, sizeThreshold float64) ([]polymarket.APIPosition, error)
}

// ChainRedeemer claims one position's collateral on-chain.
type ChainRedeemer interface {
	Redeem(ctx context.Context, claim domain.RedemptionClaim) (txHash string, err error)
}

// PositionMarker is the tracker surface the collector updates after a
// redeem. May be absent in redeem-only mode.
type PositionMarker interface {
	MarkRedeemed(slug string)
}

// EventSink receives redemption events.
type EventSink interface {
	Publish(ctx context.Context, ev domain.Event)
}

// CollectorConfig tunes the redemption scan loop.
type CollectorConfig struct {
	ScanInterval       time.Duration
	MinRedeemContracts float64
}

// Collector periodically scans the wallet's redeemable positions and claims
// each one on-chain. Redemption is idempotent at the venue level, but the
// collector still remembers what it has claimed this run so a slow Data API
// does not trigger duplicate transactions.
type Collector struct {
	source    PositionSource
	redeemer  ChainRedeemer
	wallet    string
	tracker   PositionMarker
	store     domain.TradeStore
	events    EventSink
	cfg       CollectorConfig
	logger    *slog.Logger
	submitted map[string]bool // condition id -> claimed this run
}

// NewCollector wires the redemption loop. tracker, store and events may be
// nil.
func NewCollector(source PositionSource, redeemer ChainRedeemer, wallet string, tracker PositionMarker, store domain.TradeStore, events EventSink, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	return &Collector{
		source:    source,
		redeemer:  redeemer,
		wallet:    wallet,
		tracker:   tracker,
		store:     store,
		events:    events,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "redeem_collector")),
		submitted: make(map[string]bool),
	}
}

// Run scans on the configured interval until ctx is cancelled. The first
// scan happens immediately.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("collector started",
		slog.String("wallet", c.wallet),
		slog.Duration("scan_interval", c.cfg.ScanInterval),
	)

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	if err := c.ScanOnce(ctx); err != nil {
		c.logger.Warn("redeem scan failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.ScanOnce(ctx); err != nil {
				c.logger.Warn("redeem scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ScanOnce fetches redeemable positions and claims every one above the
// minimum size. Individual redeem failures are logged and retried on the
// next scan; they do not abort the batch.
func (c *Collector) ScanOnce(ctx context.Context) error {
	positions, err := c.source.RedeemablePositions(ctx, c.wallet, c.cfg.MinRedeemContracts)
	if err != nil {
		return fmt.Errorf("settlement: list redeemable: %w", err)
	}
	if len(positions) == 0 {
		c.logger.Debug("nothing to redeem")
		return nil
	}

	c.logger.Info("redeemable positions found", slog.Int("count", len(positions)))

	for _, pos := range positions {
		if pos.Size < c.cfg.MinRedeemContracts {
			continue
		}
		if c.submitted[pos.ConditionID] {
			continue
		}

		claim := claimFromPosition(pos)
		if err := c.redeem(ctx, claim); err != nil {
			c.logger.Error("redeem failed",
				slog.String("market", claim.Slug),
				slog.String("condition_id", claim.ConditionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		c.submitted[pos.ConditionID] = true
	}
	return nil
}

func (c *Collector) redeem(ctx context.Context, claim domain.RedemptionClaim) error {
	if c.store != nil {
		if err := c.store.SaveClaim(ctx, &claim); err != nil {
			c.logger.Error("persist claim failed", slog.String("error", err.Error()))
		}
	}

	txHash, err := c.redeemer.Redeem(ctx, claim)
	if err != nil {
		return err
	}

	now := time.Now()
	claim.TxHash = txHash
	claim.RedeemedAt = &now

	if c.store != nil {
		if err := c.store.MarkRedeemed(ctx, claim.ConditionID, txHash, claim.PayoutUSD, now); err != nil {
			c.logger.Error("persist redemption failed", slog.String("error", err.Error()))
		}
	}
	if c.tracker != nil {
		c.tracker.MarkRedeemed(claim.Slug)
	}

	c.logger.Info("position redeemed",
		slog.String("market", claim.Slug),
		slog.Float64("contracts", claim.Contracts),
		slog.Float64("payout_usd", claim.PayoutUSD),
		slog.String("tx", txHash),
	)
	if c.events != nil {
		c.events.Publish(ctx, domain.Event{
			Type: domain.EventRedeemed,
			Coin: claim.Coin,
			Slug: claim.Slug,
			At:   now,
			Detail: map[string]string{
				"contracts":  fmt.Sprintf("%.2f", claim.Contracts),
				"payout_usd": fmt.Sprintf("%.2f", claim.PayoutUSD),
				"tx":         txHash,
			},
		})
	}
	return nil
}

// claimFromPosition converts a Data API position into a redemption claim.
// Winning binary contracts pay out 1 USDC.e each, which is what the Data
// API reports as current value.
func claimFromPosition(pos polymarket.APIPosition) domain.RedemptionClaim {
	side := domain.OutcomeUp
	if strings.EqualFold(pos.Outcome, "Down") {
		side = domain.OutcomeDown
	}

	return domain.RedemptionClaim{
		Coin:        coinFromSlug(pos.Slug),
		Slug:        pos.Slug,
		ConditionID: pos.ConditionID,
		Side:        side,
		Contracts:   pos.Size,
		NegRisk:     pos.NegativeRisk,
		PayoutUSD:   pos.CurrentValue,
		ResolvedAt:  time.Now(),
	}
}

func coinFromSlug(slug string) domain.Coin {
	if i := strings.IndexByte(slug, '-'); i > 0 {
		return domain.Coin(slug[:i])
	}
	return domain.Coin(slug)
}
