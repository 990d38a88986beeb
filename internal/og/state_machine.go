package og

import (
	"math"
	"time"

	"marketmaker/internal/schema"
	"marketmaker/pkg/exception"
)

const fillEpsilon = 1e-12

// StateMachine updates orders from intent and gateway update events.
// Only gateway updates move an order past New.
type StateMachine struct {
	orders map[string]*schema.Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*schema.Order)}
}

// Order returns a copy of the current order state.
func (m *StateMachine) Order(clientID string) (schema.Order, bool) {
	o, ok := m.orders[clientID]
	if !ok {
		return schema.Order{}, false
	}
	return *o, true
}

// ApplyIntent creates a new order awaiting acknowledgement.
func (m *StateMachine) ApplyIntent(req schema.OrderRequest) (schema.Order, error) {
	if req.ClientID == "" || req.Size <= 0 || req.Price <= 0 {
		return schema.Order{}, exception.ErrOrderInvalidRequest
	}
	if req.Side != schema.SideBid && req.Side != schema.SideAsk {
		return schema.Order{}, exception.ErrOrderInvalidRequest
	}
	if _, ok := m.orders[req.ClientID]; ok {
		return schema.Order{}, exception.ErrOrderDuplicate
	}
	o := &schema.Order{
		ClientID:  req.ClientID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		Status:    schema.OrderStatusNew,
		Pong:      req.Pong,
		CreatedAt: req.Time,
		UpdatedAt: req.Time,
	}
	m.orders[o.ClientID] = o
	return *o, nil
}

// Adopt tracks an order found live on the venue, e.g. left over by a previous run.
func (m *StateMachine) Adopt(o schema.Order) error {
	if o.ClientID == "" {
		return exception.ErrOrderInvalidRequest
	}
	if _, ok := m.orders[o.ClientID]; ok {
		return exception.ErrOrderDuplicate
	}
	cp := o
	m.orders[o.ClientID] = &cp
	return nil
}

// MarkCancelRequested flags an open order as being cancelled.
func (m *StateMachine) MarkCancelRequested(clientID string, at time.Time) (schema.Order, error) {
	o, ok := m.orders[clientID]
	if !ok {
		return schema.Order{}, exception.ErrOrderUnknown
	}
	if o.Status.Terminal() {
		return *o, exception.ErrOrderInvalidTransition
	}
	o.CancelRequested = true
	o.UpdatedAt = at
	return *o, nil
}

// ApplyUpdate applies a gateway update and returns the fill it carried, if any.
// Terminal orders never transition again.
func (m *StateMachine) ApplyUpdate(u schema.OrderUpdate) (schema.Order, *schema.Fill, error) {
	o, ok := m.orders[u.ClientID]
	if !ok {
		return schema.Order{}, nil, exception.ErrOrderUnknown
	}
	if o.Status.Terminal() {
		return *o, nil, exception.ErrOrderInvalidTransition
	}
	if u.ExchangeID != "" {
		o.ExchangeID = u.ExchangeID
	}
	o.UpdatedAt = u.Time

	if u.CancelRejected {
		o.CancelRequested = false
		o.Reason = u.Reason
		return *o, nil, nil
	}

	var fill *schema.Fill
	switch {
	case u.LastFillSize < 0 || math.IsNaN(u.LastFillSize):
		return *o, nil, exception.ErrOrderInvalidFill
	case u.LastFillSize > 0:
		fill = m.fill(o, u.LastFillSize, u.LastFillPrice, u.Time)
	case u.Status == schema.OrderStatusFilled && o.Remaining() > fillEpsilon:
		fill = m.fill(o, o.Remaining(), u.LastFillPrice, u.Time)
	}

	switch u.Status {
	case schema.OrderStatusNew:
	case schema.OrderStatusWorking:
		if o.Status == schema.OrderStatusNew {
			o.Status = schema.OrderStatusWorking
		}
	case schema.OrderStatusPartiallyFilled:
		if o.Status != schema.OrderStatusFilled {
			o.Status = schema.OrderStatusPartiallyFilled
		}
	case schema.OrderStatusFilled:
		o.Status = schema.OrderStatusFilled
	case schema.OrderStatusCancelled, schema.OrderStatusRejected:
		if o.Status != schema.OrderStatusFilled {
			o.Status = u.Status
			o.Reason = u.Reason
		}
	default:
		return *o, fill, exception.ErrOrderInvalidTransition
	}

	return *o, fill, nil
}

func (m *StateMachine) fill(o *schema.Order, size, price float64, at time.Time) *schema.Fill {
	if size > o.Remaining() {
		size = o.Remaining()
	}
	if price <= 0 {
		price = o.Price
	}
	o.Filled += size
	if o.Remaining() <= fillEpsilon {
		o.Status = schema.OrderStatusFilled
	} else {
		o.Status = schema.OrderStatusPartiallyFilled
	}
	return &schema.Fill{
		ClientID: o.ClientID,
		Side:     o.Side,
		Price:    price,
		Size:     size,
		Pong:     o.Pong,
		Time:     at,
	}
}

// Open returns copies of every non-terminal order.
func (m *StateMachine) Open() []schema.Order {
	out := make([]schema.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if o.Status.Open() {
			out = append(out, *o)
		}
	}
	return out
}

// Sweep forgets terminal orders last updated before cutoff.
func (m *StateMachine) Sweep(cutoff time.Time) int {
	n := 0
	for id, o := range m.orders {
		if o.Status.Terminal() && o.UpdatedAt.Before(cutoff) {
			delete(m.orders, id)
			n++
		}
	}
	return n
}
