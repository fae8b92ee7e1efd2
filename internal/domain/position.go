package domain

import "time"

// PositionStatus is the lifecycle of a per-market position.
type PositionStatus string

const (
	PositionStatusNone        PositionStatus = "none"
	PositionStatusOpen        PositionStatus = "open"
	PositionStatusExitPending PositionStatus = "exit_pending"
	PositionStatusClosed      PositionStatus = "closed"
)

// Position is the per-market aggregate of filled orders. It is mutated only
// by the position tracker and is the single source of truth for what is
// currently held. At most one non-closed Position exists per market.
type Position struct {
	Coin          Coin
	Slug          string
	ConditionID   string
	Side          Outcome
	Contracts     float64
	Invested      float64 // cumulative USD paid for the held contracts
	AvgEntryPrice float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Status        PositionStatus
	CloseReason   ExitReason // set when Status is closed
	OpenedAt      time.Time
	ClosedAt      *time.Time
	Redeemed      bool
}

// Open reports whether the position still holds contracts the engine must
// track (open or exiting).
func (p Position) Open() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusExitPending
}
