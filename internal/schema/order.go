package schema

import "time"

// OrderStatus tracks the lifecycle of an order.
//
// New -> Working -> (PartiallyFilled)* -> {Filled | Cancelled | Rejected}
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusNew
	OrderStatusWorking
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "new"
	case OrderStatusWorking:
		return "working"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Open reports whether the order may still trade.
func (s OrderStatus) Open() bool {
	switch s {
	case OrderStatusNew, OrderStatusWorking, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// Order is the broker's view of an order.
type Order struct {
	ClientID        string      `json:"clientId"`
	ExchangeID      string      `json:"exchangeId,omitempty"`
	Side            Side        `json:"side"`
	Price           float64     `json:"price"`
	Size            float64     `json:"size"`
	Filled          float64     `json:"filled"`
	Status          OrderStatus `json:"status"`
	Pong            bool        `json:"pong"`
	CancelRequested bool        `json:"cancelRequested"`
	Reason          string      `json:"reason,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Remaining returns the unfilled size.
func (o Order) Remaining() float64 {
	left := o.Size - o.Filled
	if left < 0 {
		return 0
	}
	return left
}

// OrderRequest asks the gateway to place a new limit order.
type OrderRequest struct {
	ClientID string    `json:"clientId"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Pong     bool      `json:"pong"`
	Time     time.Time `json:"time"`
}

// CancelRequest asks the gateway to cancel an order.
type CancelRequest struct {
	ClientID   string    `json:"clientId"`
	ExchangeID string    `json:"exchangeId,omitempty"`
	Side       Side      `json:"side"`
	Time       time.Time `json:"time"`
}

// OrderUpdate is an acknowledgement, fill, cancel or reject reported by the gateway.
type OrderUpdate struct {
	ClientID       string      `json:"clientId"`
	ExchangeID     string      `json:"exchangeId,omitempty"`
	Status         OrderStatus `json:"status"`
	LastFillPrice  float64     `json:"lastFillPrice,omitempty"`
	LastFillSize   float64     `json:"lastFillSize,omitempty"`
	CancelRejected bool        `json:"cancelRejected,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Time           time.Time   `json:"time"`
}

// Fill is an executed trade of one of our orders.
type Fill struct {
	ClientID string    `json:"clientId"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Pong     bool      `json:"pong"`
	Time     time.Time `json:"time"`
}
