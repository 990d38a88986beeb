package sender

import (
	"math"

	"marketmaker/internal/schema"
	"marketmaker/pkg/tick"
)

type ActionKind uint8

const (
	ActionCancel ActionKind = iota + 1
	ActionReplace
	ActionPlace
)

func (k ActionKind) String() string {
	switch k {
	case ActionCancel:
		return "cancel"
	case ActionReplace:
		return "replace"
	case ActionPlace:
		return "place"
	default:
		return "unknown"
	}
}

// Action is one order operation needed to move the book toward the desired quote.
type Action struct {
	Kind     ActionKind
	Side     schema.Side
	ClientID string
	Price    float64
	Size     float64
	Pong     bool
}

// Plan diffs the desired quote against our open orders. Orders already being
// cancelled are ignored. The result lists cancels, then replaces, then places.
func Plan(desired schema.QuoteState, open []schema.Order, minTick, sizeTol float64, replace bool) []Action {
	var cancels, replaces, places []Action
	for _, side := range []schema.Side{schema.SideBid, schema.SideAsk} {
		c, r, p := planSide(side, desired.Side(side), open, minTick, sizeTol, replace)
		cancels = append(cancels, c...)
		replaces = append(replaces, r...)
		places = append(places, p...)
	}

	out := make([]Action, 0, len(cancels)+len(replaces)+len(places))
	out = append(out, cancels...)
	out = append(out, replaces...)
	return append(out, places...)
}

func planSide(side schema.Side, want *schema.Quote, open []schema.Order, minTick, sizeTol float64, replace bool) (cancels, replaces, places []Action) {
	live := make([]schema.Order, 0, 2)
	for _, o := range open {
		if o.Side == side && o.Status.Open() && !o.CancelRequested {
			live = append(live, o)
		}
	}

	if want == nil {
		for _, o := range live {
			cancels = append(cancels, cancelOf(o))
		}
		return cancels, nil, nil
	}

	keep := -1
	for i, o := range live {
		if Matches(o, *want, minTick, sizeTol) {
			keep = i
			break
		}
	}

	if keep < 0 && replace {
		for i, o := range live {
			if o.ExchangeID != "" && o.Status != schema.OrderStatusNew {
				keep = i
				replaces = append(replaces, Action{
					Kind:     ActionReplace,
					Side:     side,
					ClientID: o.ClientID,
					Price:    want.Price,
					Size:     want.Size,
					Pong:     want.Pong,
				})
				break
			}
		}
	}

	for i, o := range live {
		if i != keep {
			cancels = append(cancels, cancelOf(o))
		}
	}

	if keep < 0 {
		places = append(places, Action{Kind: ActionPlace, Side: side, Price: want.Price, Size: want.Size, Pong: want.Pong})
	}
	return cancels, replaces, places
}

// Matches reports whether o already expresses q: same tick and the unfilled
// size within tolerance.
func Matches(o schema.Order, q schema.Quote, minTick, sizeTol float64) bool {
	if !tick.Equal(o.Price, q.Price, minTick) {
		return false
	}
	tol := sizeTol * q.Size
	if tol < 1e-8 {
		tol = 1e-8
	}
	return math.Abs(o.Remaining()-q.Size) <= tol
}

func cancelOf(o schema.Order) Action {
	return Action{Kind: ActionCancel, Side: o.Side, ClientID: o.ClientID, Price: o.Price, Size: o.Remaining()}
}
