package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updownbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// SaveOrder inserts or updates a terminal order record.
func (s *TradeStore) SaveOrder(ctx context.Context, sessionID string, o *domain.Order) error {
	const query = `
		INSERT INTO orders (
			client_id, session_id, venue_id, coin, slug, token_id,
			side, action, purpose, price, size,
			filled_size, avg_fill_price, status, reason, dry_run,
			submitted_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (client_id) DO UPDATE SET
			venue_id       = EXCLUDED.venue_id,
			filled_size    = EXCLUDED.filled_size,
			avg_fill_price = EXCLUDED.avg_fill_price,
			status         = EXCLUDED.status,
			reason         = EXCLUDED.reason,
			completed_at   = EXCLUDED.completed_at`

	_, err := s.pool.Exec(ctx, query,
		o.ClientID, sessionID, o.VenueID, string(o.Coin), o.Slug, o.TokenID,
		string(o.Side), string(o.Action), string(o.Purpose), o.Price, o.Size,
		o.FilledSize, o.AvgFillPrice, string(o.Status), o.Reason, o.DryRun,
		o.SubmittedAt, o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order %s: %w", o.ClientID, err)
	}
	return nil
}

// SavePosition inserts or updates the per-market position snapshot.
func (s *TradeStore) SavePosition(ctx context.Context, sessionID string, p *domain.Position) error {
	const query = `
		INSERT INTO positions (
			session_id, slug, coin, condition_id, side,
			contracts, invested, avg_entry_price, realized_pnl, unrealized_pnl,
			status, close_reason, opened_at, closed_at, redeemed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id, slug) DO UPDATE SET
			condition_id    = EXCLUDED.condition_id,
			contracts       = EXCLUDED.contracts,
			invested        = EXCLUDED.invested,
			avg_entry_price = EXCLUDED.avg_entry_price,
			realized_pnl    = EXCLUDED.realized_pnl,
			unrealized_pnl  = EXCLUDED.unrealized_pnl,
			status          = EXCLUDED.status,
			close_reason    = EXCLUDED.close_reason,
			closed_at       = EXCLUDED.closed_at,
			redeemed        = EXCLUDED.redeemed`

	_, err := s.pool.Exec(ctx, query,
		sessionID, p.Slug, string(p.Coin), p.ConditionID, string(p.Side),
		p.Contracts, p.Invested, p.AvgEntryPrice, p.RealizedPnL, p.UnrealizedPnL,
		string(p.Status), string(p.CloseReason), p.OpenedAt, p.ClosedAt, p.Redeemed,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.Slug, err)
	}
	return nil
}

// OpenPositions returns every persisted position that still holds contracts,
// across all sessions, for startup restore.
func (s *TradeStore) OpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
		SELECT slug, coin, condition_id, side,
		       contracts, invested, avg_entry_price, realized_pnl, unrealized_pnl,
		       status, close_reason, opened_at, closed_at, redeemed
		FROM positions
		WHERE status IN ('open', 'exit_pending')
		ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: open positions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		var p domain.Position
		var coin, side, status, closeReason string
		if err := rows.Scan(
			&p.Slug, &coin, &p.ConditionID, &side,
			&p.Contracts, &p.Invested, &p.AvgEntryPrice, &p.RealizedPnL, &p.UnrealizedPnL,
			&status, &closeReason, &p.OpenedAt, &p.ClosedAt, &p.Redeemed,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Coin = domain.Coin(coin)
		p.Side = domain.Outcome(side)
		p.Status = domain.PositionStatus(status)
		p.CloseReason = domain.ExitReason(closeReason)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

// SaveClaim records a redemption claim, keyed by condition id.
func (s *TradeStore) SaveClaim(ctx context.Context, c *domain.RedemptionClaim) error {
	const query = `
		INSERT INTO redemption_claims (
			condition_id, coin, slug, side, contracts, neg_risk,
			payout_usd, tx_hash, resolved_at, redeemed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (condition_id) DO UPDATE SET
			contracts  = EXCLUDED.contracts,
			payout_usd = EXCLUDED.payout_usd`

	_, err := s.pool.Exec(ctx, query,
		c.ConditionID, string(c.Coin), c.Slug, string(c.Side), c.Contracts, c.NegRisk,
		c.PayoutUSD, c.TxHash, c.ResolvedAt, c.RedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save claim %s: %w", c.ConditionID, err)
	}
	return nil
}

// PendingClaims returns claims without a completed redemption.
func (s *TradeStore) PendingClaims(ctx context.Context) ([]*domain.RedemptionClaim, error) {
	const query = `
		SELECT condition_id, coin, slug, side, contracts, neg_risk,
		       payout_usd, tx_hash, resolved_at, redeemed_at
		FROM redemption_claims
		WHERE redeemed_at IS NULL
		ORDER BY resolved_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending claims: %w", err)
	}
	defer rows.Close()

	var out []*domain.RedemptionClaim
	for rows.Next() {
		var c domain.RedemptionClaim
		var coin, side string
		if err := rows.Scan(
			&c.ConditionID, &coin, &c.Slug, &side, &c.Contracts, &c.NegRisk,
			&c.PayoutUSD, &c.TxHash, &c.ResolvedAt, &c.RedeemedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		c.Coin = domain.Coin(coin)
		c.Side = domain.Outcome(side)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate claims: %w", err)
	}
	return out, nil
}

// MarkRedeemed completes a claim with its transaction hash and payout.
func (s *TradeStore) MarkRedeemed(ctx context.Context, conditionID, txHash string, payout float64, at time.Time) error {
	const query = `
		UPDATE redemption_claims
		SET tx_hash = $1, payout_usd = $2, redeemed_at = $3
		WHERE condition_id = $4`

	_, err := s.pool.Exec(ctx, query, txHash, payout, at, conditionID)
	if err != nil {
		return fmt.Errorf("postgres: mark redeemed %s: %w", conditionID, err)
	}
	return nil
}
