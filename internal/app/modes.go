package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updownbot/internal/config"
	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/engine"
	"github.com/updownlabs/updownbot/internal/executor"
	"github.com/updownlabs/updownbot/internal/feed"
	"github.com/updownlabs/updownbot/internal/settlement"
	"github.com/updownlabs/updownbot/internal/tracker"
)

// TradeMode runs the full trading engine: one feed and trader per enabled
// coin, the shared safety guard, and the background redemption collector.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("trade mode starting",
		slog.Any("coins", a.cfg.EnabledCoins()),
		slog.Bool("dry_run", a.cfg.Safety.DryRun),
	)

	if prev, err := deps.Sessions.LatestSession(ctx); err == nil {
		a.logger.Info("previous session",
			slog.String("id", prev.ID),
			slog.String("status", string(prev.Status)),
			slog.Float64("realized_pnl", prev.RealizedPnL),
		)
	}

	a.cancelStaleOrders(ctx, deps)

	if err := a.reconcilePositions(ctx, deps); err != nil {
		return fmt.Errorf("app: startup reconciliation: %w", err)
	}

	var venue executor.VenueClient
	if deps.Clob != nil {
		venue = deps.Clob
	}
	exec := executor.New(venue, deps.Guard, deps.Events, executor.Config{
		RequestTimeout:  a.cfg.Executor.RequestTimeout.Duration,
		ExitMaxRetries:  a.cfg.Executor.ExitMaxRetries,
		RetryBackoff:    a.cfg.Executor.RetryBackoff.Duration,
		RetryBackoffMax: a.cfg.Executor.RetryBackoffMax.Duration,
	}, a.logger)

	sessionID := uuid.New().String()
	stats := engine.NewSessionStats()

	feedCfg := feed.Config{
		StaleAfter:          a.cfg.Feed.StaleAfter.Duration,
		MaxQuoteAge:         a.cfg.Feed.MaxQuoteAge.Duration,
		ReconnectBackoffMax: a.cfg.Feed.ReconnectBackoffMax.Duration,
	}

	lanes := make([]engine.Lane, 0, len(a.cfg.EnabledCoins()))
	for _, name := range a.cfg.EnabledCoins() {
		coin := domain.Coin(name)
		f := feed.New(coin, deps.Gamma, a.cfg.Polymarket.WsHost, feedCfg, a.logger)
		strategy := engine.NewStrategy(strategyParams(a.cfg, name), a.logger.With(slog.String("coin", name)))
		trader := engine.NewTrader(coin, f, strategy, exec, deps.Tracker,
			deps.Trades, deps.Events, deps.Guard, stats, sessionID, a.logger)
		lanes = append(lanes, engine.Lane{Coin: coin, Feed: f, Trader: trader})
	}

	orch := engine.NewOrchestrator(lanes, deps.Guard, deps.Sessions, stats,
		a.cfg.Safety.DryRun, sessionID, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})

	// SIGUSR1 trips the emergency stop: every subsequent order is denied and
	// open positions are left alone for manual intervention.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGUSR1)
	defer signal.Stop(sigc)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sigc:
				orch.EmergencyStop("operator signal")
				deps.Events.Publish(gctx, domain.Event{
					Type:   domain.EventEmergencyStop,
					At:     time.Now(),
					Detail: map[string]string{"reason": "operator signal"},
				})
			}
		}
	})

	// Live trading mirrors venue-side order activity for audit.
	if deps.Clob != nil && !a.cfg.Safety.DryRun {
		watcher := executor.NewFillWatcher(
			a.cfg.Polymarket.WsHost,
			deps.Clob.Credentials(),
			a.cfg.Feed.ReconnectBackoffMax.Duration,
			a.logger,
		)
		g.Go(func() error {
			err := watcher.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	// Live trading also sweeps resolved winnings in the background.
	if deps.Redeemer != nil {
		collector := a.newCollector(deps, deps.Tracker)
		g.Go(func() error {
			err := collector.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	err := g.Wait()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("app: trade mode: %w", err)
	}
	return nil
}

// RedeemMode only sweeps redeemable positions; it never places orders.
func (a *App) RedeemMode(ctx context.Context, deps *Dependencies) error {
	if deps.Redeemer == nil {
		return fmt.Errorf("app: redeem mode requires a wallet private key")
	}
	a.logger.Info("redeem mode starting", slog.String("wallet", deps.WalletAddress))

	if usdc, err := deps.Redeemer.USDCBalance(ctx); err == nil {
		pol, _ := deps.Redeemer.GasBalance(ctx)
		a.logger.Info("wallet balances",
			slog.Float64("usdc", usdc),
			slog.Float64("pol", pol),
		)
	}

	if pending, err := deps.Trades.PendingClaims(ctx); err == nil && len(pending) > 0 {
		a.logger.Info("unconfirmed redemption claims on record", slog.Int("count", len(pending)))
	}

	collector := a.newCollector(deps, nil)
	if err := collector.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("app: redeem mode: %w", err)
	}
	return nil
}

func (a *App) newCollector(deps *Dependencies, marker settlement.PositionMarker) *settlement.Collector {
	return settlement.NewCollector(
		deps.Data,
		deps.Redeemer,
		deps.WalletAddress,
		marker,
		deps.Trades,
		deps.Events,
		settlement.CollectorConfig{
			ScanInterval:       a.cfg.Settlement.ScanInterval.Duration,
			MinRedeemContracts: a.cfg.Settlement.MinRedeemContracts,
		},
		a.logger,
	)
}

// cancelStaleOrders clears open orders left behind by a crashed session so
// they cannot fill against state the engine no longer tracks.
func (a *App) cancelStaleOrders(ctx context.Context, deps *Dependencies) {
	if deps.Clob == nil {
		return
	}
	open, err := deps.Clob.GetOpenOrders(ctx)
	if err != nil {
		a.logger.Warn("open order check failed", slog.String("error", err.Error()))
		return
	}
	for _, o := range open {
		if err := deps.Clob.CancelOrder(ctx, o.ID); err != nil {
			a.logger.Warn("cancel stale order failed",
				slog.String("venue_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.Info("cancelled stale order",
			slog.String("venue_id", o.ID),
			slog.String("market", o.Market),
		)
	}
}

// reconcilePositions seeds the tracker from persisted state, then aligns it
// with the venue's view of the wallet. The venue is ground truth.
func (a *App) reconcilePositions(ctx context.Context, deps *Dependencies) error {
	persisted, err := deps.Trades.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	if len(persisted) > 0 {
		deps.Tracker.Restore(persisted)
		a.logger.Info("positions restored from store", slog.Int("count", len(persisted)))
	}

	if deps.WalletAddress == "" {
		return nil // keyless dry-run has no venue state to reconcile
	}

	venuePositions, err := deps.Data.Positions(ctx, deps.WalletAddress, a.cfg.Settlement.MinRedeemContracts)
	if err != nil {
		return fmt.Errorf("fetch venue positions: %w", err)
	}

	venue := make([]tracker.VenuePosition, 0, len(venuePositions))
	for _, vp := range venuePositions {
		if vp.Redeemable {
			continue // resolved winnings belong to the collector
		}
		side := domain.OutcomeUp
		if strings.EqualFold(vp.Outcome, "Down") {
			side = domain.OutcomeDown
		}
		venue = append(venue, tracker.VenuePosition{
			Slug:        vp.Slug,
			ConditionID: vp.ConditionID,
			Side:        side,
			Contracts:   vp.Size,
			AvgPrice:    vp.AvgPrice,
			Invested:    vp.InitialValue,
		})
	}

	adopted, closed := deps.Tracker.Reconcile(venue)
	a.logger.Info("venue reconciliation complete",
		slog.Int("venue_positions", len(venue)),
		slog.Int("adopted", adopted),
		slog.Int("closed", closed),
	)
	return nil
}

// strategyParams maps configuration to one coin's strategy knobs.
func strategyParams(cfg *config.Config, coin string) engine.StrategyParams {
	return engine.StrategyParams{
		EntryWindowSec:  cfg.Strategy.EntryWindowSec,
		EntryFrequency:  time.Duration(cfg.Strategy.EntryFrequencySec) * time.Second,
		MinConfidence:   cfg.Strategy.MinConfidence,
		PriceMax:        cfg.Strategy.PriceMax,
		MaxSpread:       cfg.Strategy.MaxSpread,
		SizeAbove180:    cfg.Strategy.Sizing.Above180Sec,
		SizeAbove120:    cfg.Strategy.Sizing.Above120Sec,
		SizeBelow120:    cfg.Strategy.Sizing.Below120Sec,
		MaxQuoteAge:     cfg.Feed.MaxQuoteAge.Duration,
		StopLossUSD:     cfg.Exit.StopLossFor(coin),
		FlipStopEnabled: cfg.Exit.FlipStopEnabled,
	}
}
