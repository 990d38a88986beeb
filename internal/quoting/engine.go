package quoting

import (
	"math"
	"time"

	"github.com/yanun0323/logs"

	"marketmaker/internal/params"
	"marketmaker/internal/schema"
	"marketmaker/internal/stats"
	"marketmaker/pkg/tick"
)

const sizeStep = 1e-8

// Inputs is everything one recomputation depends on.
type Inputs struct {
	FairValue    schema.FairValue
	HasFairValue bool
	Protection   stats.Protection
	EWMA         float64
	HasEWMA      bool
	Position     schema.Position
	HasPosition  bool
	Target       schema.TargetPosition
	Safety       schema.SafetyLimit
	Params       params.QuotingParameters
	Active       bool
	Time         time.Time
}

// Engine is the single writer of QuoteState.
type Engine struct {
	minTick float64
	latest  schema.QuoteState
	emitted bool
	clamps  uint64
}

func New(minTick float64) *Engine {
	return &Engine{minTick: minTick}
}

// Recompute evaluates in and reports whether the resulting state differs from
// the previously emitted one by at least one tick or size step.
func (e *Engine) Recompute(in Inputs) (schema.QuoteState, bool) {
	next, clamped := Compute(in, e.minTick)
	e.clamps += uint64(clamped)

	if e.emitted && same(e.latest, next, e.minTick) {
		return e.latest, false
	}

	next.Version = e.latest.Version + 1
	e.latest, e.emitted = next, true
	return next, true
}

// Latest returns the last emitted state.
func (e *Engine) Latest() schema.QuoteState {
	return e.latest
}

// Clamps returns how many sides were corrected by a safety check so far.
func (e *Engine) Clamps() uint64 {
	return e.clamps
}

// Compute builds the quote for in. The second result counts the sides that
// were suppressed or reduced by a safety check.
func Compute(in Inputs, minTick float64) (schema.QuoteState, int) {
	p := in.Params
	state := schema.QuoteState{Mode: p.Mode.String(), Time: in.Time}

	switch {
	case !in.HasFairValue || in.FairValue.Price <= 0:
		state.Reason = schema.QuoteReasonNoFairValue
	case p.KillSwitch:
		state.Reason = schema.QuoteReasonKillSwitch
	case !in.Active:
		state.Reason = schema.QuoteReasonInactive
	case !in.HasPosition:
		state.Reason = schema.QuoteReasonNoPosition
	case in.Safety.Zero():
		state.Reason = schema.QuoteReasonSafetyZero
	case in.Protection.Suspend:
		state.Reason = schema.QuoteReasonVolatility
	default:
		state.Reason = schema.QuoteReasonLive
	}
	if state.Reason != schema.QuoteReasonLive {
		return state, 0
	}

	fv := in.FairValue.Price
	mult := in.Protection.Multiplier
	if mult < 1 {
		mult = 1
	}
	width := p.PingWidth(fv) * mult

	bid, ask := basePrices(in, width, minTick)
	if p.Mode == params.ModePingPong {
		applyPingPong(in, &bid, &ask, p.PongWidth(fv)*mult)
	}

	if in.HasEWMA && in.EWMA > 0 {
		bid.price = math.Min(bid.price, in.EWMA)
		ask.price = math.Max(ask.price, in.EWMA)
	}

	applyRebalance(in, &bid, &ask)

	clamped := clampSide(in, schema.SideBid, &bid) + clampSide(in, schema.SideAsk, &ask)

	if bid.ok {
		bid.price = tick.Down(bid.price, minTick)
		bid.ok = bid.price > 0
	}
	if ask.ok {
		ask.price = tick.Up(ask.price, minTick)
	}

	if bid.ok && ask.ok && bid.price >= ask.price {
		clamped++
		logs.Infof("quoting: crossed quote suppressed, bid: %v, ask: %v, fv: %v", bid.price, ask.price, fv)
		uncross(fv, in.Target.Divergence, &bid, &ask)
	}

	if bid.ok {
		state.Bid = &schema.Quote{Price: bid.price, Size: bid.size, Pong: bid.pong}
	}
	if ask.ok {
		state.Ask = &schema.Quote{Price: ask.price, Size: ask.size, Pong: ask.pong}
	}
	return state, clamped
}

// uncross drops the side further from fair value. On a tie it keeps the side
// that moves the position toward its target, the ask when base is in excess.
func uncross(fv, divergence float64, bid, ask *level) {
	dBid, dAsk := math.Abs(fv-bid.price), math.Abs(ask.price-fv)
	switch {
	case dBid > dAsk:
		bid.ok = false
	case dAsk > dBid:
		ask.ok = false
	case divergence < 0:
		ask.ok = false
	default:
		bid.ok = false
	}
}

// clampSide bounds the size by safety, configured bounds and balance, and
// suppresses the side when nothing tradable is left. It returns 1 when a
// safety or balance bound changed the side.
func clampSide(in Inputs, side schema.Side, lv *level) int {
	if !lv.ok {
		return 0
	}
	p := in.Params
	want := lv.size

	size := in.Safety.Allowed(side, want)
	if p.MaxSize > 0 {
		size = math.Min(size, p.MaxSize)
	}
	switch side {
	case schema.SideBid:
		if lv.price > 0 {
			size = math.Min(size, in.Position.TotalQuote()/lv.price)
		}
	case schema.SideAsk:
		size = math.Min(size, in.Position.TotalBase())
	}
	size = tick.Down(size, sizeStep)

	changed := 0
	if size < want-sizeStep {
		changed = 1
	}
	if size <= 0 || size < p.MinSize || lv.price <= 0 {
		lv.ok = false
		return changed
	}
	lv.size = size
	return changed
}

func same(a, b schema.QuoteState, minTick float64) bool {
	if a.Reason != b.Reason || a.Mode != b.Mode {
		return false
	}
	return sameQuote(a.Bid, b.Bid, minTick) && sameQuote(a.Ask, b.Ask, minTick)
}

func sameQuote(a, b *schema.Quote, minTick float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Pong == b.Pong &&
		tick.Equal(a.Price, b.Price, minTick) &&
		math.Abs(a.Size-b.Size) < sizeStep
}
