package domain

import "time"

// EventType tags engine events published to the event stream and notifier.
type EventType string

const (
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderFilled    EventType = "order_filled"
	EventOrderRejected  EventType = "order_rejected"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventSafetyDenied   EventType = "safety_denied"
	EventEmergencyStop  EventType = "emergency_stop"
	EventMarketRollover EventType = "market_rollover"
	EventRedeemed       EventType = "redeemed"
)

// Event is a point-in-time engine occurrence. Detail carries event-specific
// fields already flattened to strings for stream publication.
type Event struct {
	Type   EventType
	Coin   Coin
	Slug   string
	At     time.Time
	Detail map[string]string
}
