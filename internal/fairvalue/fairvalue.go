package fairvalue

import (
	"marketmaker/internal/params"
	"marketmaker/internal/schema"
	"marketmaker/pkg/tick"
)

// Compute derives the fair value of quote under model, rounded to the nearest tick.
func Compute(quote schema.MarketQuote, model params.FairValueModel, minTick float64) schema.FairValue {
	var px float64
	switch model {
	case params.FairValueBBO:
		px = quote.Mid()
	case params.FairValueWBBO:
		total := quote.Bid.Size + quote.Ask.Size
		if total <= 0 {
			px = quote.Mid()
			break
		}
		px = (quote.Ask.Price*quote.Bid.Size + quote.Bid.Price*quote.Ask.Size) / total
	default:
		px = quote.Mid()
	}

	return schema.FairValue{
		Price: tick.Nearest(px, minTick),
		Time:  quote.Time,
		Quote: quote,
	}
}

// Engine keeps the latest fair value. Until the first quote arrives there is
// no fair value and downstream consumers must not quote.
type Engine struct {
	minTick float64
	latest  schema.FairValue
	ok      bool
}

func New(minTick float64) *Engine {
	return &Engine{minTick: minTick}
}

// Update recomputes from quote and reports whether the price moved.
func (e *Engine) Update(quote schema.MarketQuote, model params.FairValueModel) (schema.FairValue, bool) {
	fv := Compute(quote, model, e.minTick)
	changed := !e.ok || !tick.Equal(fv.Price, e.latest.Price, e.minTick)
	e.latest, e.ok = fv, true
	return fv, changed
}

// Latest returns the current fair value, false if none was computed yet.
func (e *Engine) Latest() (schema.FairValue, bool) {
	return e.latest, e.ok
}
