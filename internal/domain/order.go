package domain

import "time"

// OrderAction indicates whether the order adds to or unwinds a position.
type OrderAction string

const (
	OrderActionBuy  OrderAction = "buy"
	OrderActionSell OrderAction = "sell"
)

// OrderPurpose records why the strategy requested the order.
type OrderPurpose string

const (
	OrderPurposeEntry OrderPurpose = "entry"
	OrderPurposeExit  OrderPurpose = "exit"
)

// OrderStatus tracks the order lifecycle against the venue.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAcked           OrderStatus = "acked"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether the status will not change again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Reject reasons attached to orders that never reached (or were refused by)
// the venue.
const (
	RejectReasonSafetyDenied   = "SAFETY_DENIED"
	RejectReasonNetworkFailure = "NETWORK_FAILURE"
	RejectReasonVenueRejected  = "VENUE_REJECTED"
)

// OrderIntent is what the strategy asks the executor to do. The executor
// assigns the client id and owns the resulting Order until it is terminal.
type OrderIntent struct {
	Coin     Coin
	Slug     string
	TokenID  string
	Side     Outcome
	Action   OrderAction
	Purpose  OrderPurpose
	Price    float64
	Size     float64 // contracts
	DryRunOK bool    // synthetic fill acceptable when dry-run is active
}

// NotionalUSD is the USD value of the intent at its limit price.
func (i OrderIntent) NotionalUSD() float64 {
	return i.Price * i.Size
}

// Order is a submitted (or refused) order and its current venue state.
type Order struct {
	ClientID     string // UUID assigned at submission time
	VenueID      string // assigned by the venue after acceptance
	Coin         Coin
	Slug         string
	TokenID      string
	Side         Outcome
	Action       OrderAction
	Purpose      OrderPurpose
	Price        float64
	Size         float64
	FilledSize   float64
	AvgFillPrice float64
	Status       OrderStatus
	Reason       string // populated for rejected orders
	DryRun       bool
	SubmittedAt  time.Time
	CompletedAt  *time.Time
}

// Fill is a single executed quantity reported by the venue for an order.
// MatchedTotal is the venue's cumulative matched size after this event,
// which makes duplicate deliveries detectable.
type Fill struct {
	VenueOrderID string
	Coin         Coin
	Slug         string
	Side         Outcome
	Action       OrderAction
	Size         float64
	Price        float64
	MatchedTotal float64
	At           time.Time
}
