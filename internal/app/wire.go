package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/updownlabs/updownbot/internal/config"
	"github.com/updownlabs/updownbot/internal/crypto"
	"github.com/updownlabs/updownbot/internal/domain"
	"github.com/updownlabs/updownbot/internal/events"
	"github.com/updownlabs/updownbot/internal/notify"
	"github.com/updownlabs/updownbot/internal/platform/polymarket"
	"github.com/updownlabs/updownbot/internal/safety"
	"github.com/updownlabs/updownbot/internal/settlement"
	"github.com/updownlabs/updownbot/internal/store/postgres"
	"github.com/updownlabs/updownbot/internal/tracker"
)

// Dependencies bundles everything the operating modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Signer *crypto.Signer // nil in keyless dry-run
	Clob   *polymarket.ClobClient
	Gamma  *polymarket.GammaClient
	Data   *polymarket.DataClient

	Guard    *safety.Guard
	Tracker  *tracker.Tracker
	Redeemer *settlement.Redeemer // nil without a wallet key

	Sessions domain.SessionStore
	Trades   domain.TradeStore

	Events *events.Bus

	// WalletAddress is the address whose positions are tracked: the funder
	// proxy when configured, the signing key's address otherwise.
	WalletAddress string
}

// Wire constructs the dependency graph from configuration. The cleanup
// function releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Sessions = postgres.NewSessionStore(pgClient.Pool())
	deps.Trades = postgres.NewTradeStore(pgClient.Pool())

	// --- Event sinks ---
	var sinks []events.Sink
	if cfg.Redis.Addr != "" {
		stream, err := events.NewRedisStream(ctx, events.StreamConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			Stream:     cfg.Redis.Stream,
			MaxLen:     cfg.Redis.StreamMax,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = stream.Close() })
		sinks = append(sinks, stream)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if len(senders) > 0 {
		sinks = append(sinks, notify.NewNotifier(senders, cfg.Notify.Events, logger))
	}
	deps.Events = events.NewBus(sinks...)

	// --- Polymarket clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost)

	if cfg.Wallet.PrivateKey != "" {
		signer, err := crypto.NewSigner(cfg.Wallet.PrivateKey, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer

		deps.Clob = polymarket.NewClobClient(
			cfg.Polymarket.ClobHost,
			signer,
			cfg.Wallet.FunderAddress,
			cfg.Polymarket.SignatureType,
			cfg.Executor.RequestTimeout.Duration,
		)
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}

		deps.Redeemer, err = settlement.NewRedeemer(cfg.Wallet.PrivateKey, settlement.RedeemerConfig{
			RPCURL:         cfg.Settlement.RPCURL,
			ChainID:        cfg.Polymarket.ChainID,
			CTFAddress:     cfg.Settlement.CTFAddress,
			USDCAddress:    cfg.Settlement.USDCAddress,
			NegRiskAdapter: cfg.Settlement.NegRiskAdapter,
			GasLimitBump:   cfg.Settlement.GasLimitBump,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redeemer: %w", err)
		}

		deps.WalletAddress = cfg.Wallet.FunderAddress
		if deps.WalletAddress == "" {
			deps.WalletAddress = signer.Address().Hex()
		}
	}

	// --- Engine state ---
	deps.Guard = safety.NewGuard(safety.Limits{
		DryRun:             cfg.Safety.DryRun,
		MaxOrderSizeUSD:    cfg.Safety.MaxOrderSizeUSD,
		MaxPerMarketUSD:    cfg.Safety.MaxTotalInvestmentUSD,
		MaxOrdersPerMinute: cfg.Safety.MaxOrdersPerMinute,
	}, logger)
	deps.Tracker = tracker.New(logger)

	logger.Info("dependencies wired",
		slog.String("wallet", deps.WalletAddress),
		slog.Bool("redis_events", cfg.Redis.Addr != ""),
		slog.Int("notify_channels", len(senders)),
	)

	return deps, cleanup, nil
}
