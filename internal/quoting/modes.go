package quoting

import (
	"math"

	"marketmaker/internal/params"
	"marketmaker/internal/schema"
)

// level is one side of a quote under construction.
type level struct {
	price float64
	size  float64
	pong  bool
	ok    bool
}

// basePrices derives the ping prices around fair value for the active mode.
// width is the full ping spread after volatility widening.
func basePrices(in Inputs, width, tickSize float64) (bid, ask level) {
	fv := in.FairValue.Price
	book := in.FairValue.Quote
	half := width / 2

	gap := in.Target.Divergence * in.Target.ValueBase
	bid = level{size: in.Params.BidSize(in.Position.ValueBase, -gap), ok: true}
	ask = level{size: in.Params.AskSize(in.Position.ValueBase, gap), ok: true}

	switch in.Params.Mode {
	case params.ModeMid, params.ModePingPong:
		bid.price = fv - half
		ask.price = fv + half
		if in.Params.BestWidth {
			widenToBest(book, tickSize, &bid, &ask)
		}
	case params.ModeTop:
		bid.price = math.Min(book.Bid.Price+tickSize, fv-half)
		ask.price = math.Max(book.Ask.Price-tickSize, fv+half)
	case params.ModeJoin:
		bid.price = math.Min(book.Bid.Price, fv-half)
		ask.price = math.Max(book.Ask.Price, fv+half)
	case params.ModeDepth:
		bid.price = book.Bid.Price - width
		ask.price = book.Ask.Price + width
	default:
		bid.ok, ask.ok = false, false
	}
	return bid, ask
}

// widenToBest moves a ping that sits inside the spread out to one tick ahead
// of the best level on its side, so it stays first in line at the widest price.
func widenToBest(book schema.MarketQuote, tickSize float64, bid, ask *level) {
	if book.Bid.Price > 0 {
		bid.price = math.Min(bid.price, book.Bid.Price+tickSize)
	}
	if book.Ask.Price > 0 {
		ask.price = math.Max(ask.price, book.Ask.Price-tickSize)
	}
}

// applyPingPong gates new pings by PingAt and prices pongs against the open
// ping selected by the safety calculator. A bought ping is answered by an ask
// pongWidth above it, a sold ping by a bid pongWidth below it. Fair pongs never
// quote inside the ping price; aggressive pongs only stop at fair value.
func applyPingPong(in Inputs, bid, ask *level, pongWidth float64) {
	p := in.Params
	fv := in.FairValue.Price
	div := in.Target.Divergence

	bidPing, askPing := true, true
	switch p.PingAt {
	case params.PingAtBothSides:
	case params.PingAtBidSide:
		askPing = false
	case params.PingAtAskSide:
		bidPing = false
	case params.PingAtDepletedSides:
		bidPing = div <= 0
		askPing = div >= 0
	case params.PingAtStopPings:
		bidPing, askPing = false, false
	}
	bid.ok = bid.ok && bidPing
	ask.ok = ask.ok && askPing

	aggressive := p.PongAt.Aggressive()
	if in.Safety.BuyPing > 0 && in.Safety.BuyPingSz > 0 {
		target := in.Safety.BuyPing + pongWidth
		if aggressive {
			ask.price = math.Max(target, fv)
		} else {
			ask.price = math.Max(ask.price, target)
		}
		ask.size = math.Min(in.Safety.BuyPingSz, p.AskSize(in.Position.ValueBase, 0))
		ask.pong, ask.ok = true, true
	}
	if in.Safety.SellPing > 0 && in.Safety.SellPingSz > 0 {
		target := in.Safety.SellPing - pongWidth
		if aggressive {
			bid.price = math.Min(target, fv)
		} else {
			bid.price = math.Min(bid.price, target)
		}
		bid.size = math.Min(in.Safety.SellPingSz, p.BidSize(in.Position.ValueBase, 0))
		bid.pong, bid.ok = true, true
	}
}

// applyRebalance biases sizes, and with APR SizeWidth prices, toward the target position.
func applyRebalance(in Inputs, bid, ask *level) {
	t := in.Target
	if !t.Exceeded() || t.Tolerance <= 0 {
		return
	}

	excess := math.Abs(t.Divergence)
	favored, worsening := ask, bid
	if t.Divergence < 0 {
		favored, worsening = bid, ask
	}

	worsening.size *= t.Tolerance / excess

	p := in.Params
	if p.AggressivePositionRebalance == params.APROff {
		return
	}

	scale := math.Min(p.APRMultiplier, excess/t.Tolerance)
	if scale < 1 {
		scale = 1
	}
	needed := excess * t.ValueBase
	favored.size = math.Min(favored.size*scale, math.Max(needed, favored.size))

	if p.AggressivePositionRebalance == params.APRSizeWidth {
		fv := in.FairValue.Price
		favored.price = fv + (favored.price-fv)/scale
	}
}
