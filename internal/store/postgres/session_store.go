package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updownbot/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// SaveSession inserts or updates the session checkpoint.
func (s *SessionStore) SaveSession(ctx context.Context, sess *domain.TradingSession) error {
	const query = `
		INSERT INTO sessions (
			id, started_at, stopped_at, status, dry_run,
			orders_placed, orders_filled, orders_failed,
			entries_taken, exits_taken,
			invested_usd, realized_pnl, redeemed_usd, last_heartbeat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			stopped_at     = EXCLUDED.stopped_at,
			status         = EXCLUDED.status,
			orders_placed  = EXCLUDED.orders_placed,
			orders_filled  = EXCLUDED.orders_filled,
			orders_failed  = EXCLUDED.orders_failed,
			entries_taken  = EXCLUDED.entries_taken,
			exits_taken    = EXCLUDED.exits_taken,
			invested_usd   = EXCLUDED.invested_usd,
			realized_pnl   = EXCLUDED.realized_pnl,
			redeemed_usd   = EXCLUDED.redeemed_usd,
			last_heartbeat = EXCLUDED.last_heartbeat`

	_, err := s.pool.Exec(ctx, query,
		sess.ID, sess.StartedAt, sess.StoppedAt, string(sess.Status), sess.DryRun,
		sess.OrdersPlaced, sess.OrdersFilled, sess.OrdersFailed,
		sess.EntriesTaken, sess.ExitsTaken,
		sess.InvestedUSD, sess.RealizedPnL, sess.RedeemedUSD, sess.LastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("postgres: save session %s: %w", sess.ID, err)
	}
	return nil
}

// LatestSession returns the most recently started session, or ErrNotFound.
func (s *SessionStore) LatestSession(ctx context.Context) (*domain.TradingSession, error) {
	const query = `
		SELECT id, started_at, stopped_at, status, dry_run,
		       orders_placed, orders_filled, orders_failed,
		       entries_taken, exits_taken,
		       invested_usd, realized_pnl, redeemed_usd, last_heartbeat
		FROM sessions
		ORDER BY started_at DESC
		LIMIT 1`

	var sess domain.TradingSession
	var status string
	err := s.pool.QueryRow(ctx, query).Scan(
		&sess.ID, &sess.StartedAt, &sess.StoppedAt, &status, &sess.DryRun,
		&sess.OrdersPlaced, &sess.OrdersFilled, &sess.OrdersFailed,
		&sess.EntriesTaken, &sess.ExitsTaken,
		&sess.InvestedUSD, &sess.RealizedPnL, &sess.RedeemedUSD, &sess.LastHeartbeat,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	return &sess, nil
}

// CloseSession finalizes a session's status and stop time.
func (s *SessionStore) CloseSession(ctx context.Context, id string, status domain.SessionStatus, at time.Time) error {
	const query = `UPDATE sessions SET status = $1, stopped_at = $2 WHERE id = $3`
	_, err := s.pool.Exec(ctx, query, string(status), at, id)
	if err != nil {
		return fmt.Errorf("postgres: close session %s: %w", id, err)
	}
	return nil
}
