package domain

import (
	"context"
	"time"
)

// SessionStatus is the lifecycle of a trading session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusStopped SessionStatus = "stopped"
	SessionStatusHalted  SessionStatus = "halted" // stopped by the emergency stop
)

// TradingSession aggregates one process run: totals across all markets,
// checkpointed so a restart can resume where the previous run left off.
type TradingSession struct {
	ID            string
	StartedAt     time.Time
	StoppedAt     *time.Time
	Status        SessionStatus
	DryRun        bool
	OrdersPlaced  int
	OrdersFilled  int
	OrdersFailed  int
	EntriesTaken  int
	ExitsTaken    int
	InvestedUSD   float64
	RealizedPnL   float64
	RedeemedUSD   float64
	LastHeartbeat time.Time
}

// RedemptionClaim is one resolved-and-won position waiting for (or having
// completed) an on-chain redeem.
type RedemptionClaim struct {
	Coin        Coin
	Slug        string
	ConditionID string
	Side        Outcome
	Contracts   float64
	NegRisk     bool
	PayoutUSD   float64
	TxHash      string
	ResolvedAt  time.Time
	RedeemedAt  *time.Time
}

// SessionStore checkpoints and restores trading sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, s *TradingSession) error
	LatestSession(ctx context.Context) (*TradingSession, error)
	CloseSession(ctx context.Context, id string, status SessionStatus, at time.Time) error
}

// TradeStore persists orders, positions and redemption claims.
type TradeStore interface {
	SaveOrder(ctx context.Context, sessionID string, o *Order) error
	SavePosition(ctx context.Context, sessionID string, p *Position) error
	OpenPositions(ctx context.Context) ([]*Position, error)
	SaveClaim(ctx context.Context, c *RedemptionClaim) error
	PendingClaims(ctx context.Context) ([]*RedemptionClaim, error)
	MarkRedeemed(ctx context.Context, conditionID, txHash string, payout float64, at time.Time) error
}
