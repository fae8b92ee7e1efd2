package domain

import "time"

// EntryDecision is produced at most once per market window by the strategy.
// Immutable once created.
type EntryDecision struct {
	Coin        Coin
	Slug        string
	Side        Outcome
	Contracts   float64
	Price       float64
	Confidence  float64
	SecondsLeft int
	DecidedAt   time.Time
}

// ExitReason explains why a position left the ENTERED state.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonFlip       ExitReason = "flip_stop"
	ExitReasonResolution ExitReason = "resolution"
	ExitReasonShutdown   ExitReason = "shutdown"
)
