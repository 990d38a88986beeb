package risk

import (
	"math"

	"marketmaker/internal/params"
	"marketmaker/internal/schema"
)

// Reason names the check that denied an order.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonInvalid
	ReasonMaxSize
	ReasonPriceBand
	ReasonBalance
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonInvalid:
		return "invalid"
	case ReasonMaxSize:
		return "max_size"
	case ReasonPriceBand:
		return "price_band"
	case ReasonBalance:
		return "balance"
	default:
		return "unknown"
	}
}

// Config defines the pre-trade limits.
type Config struct {
	KillSwitch           bool    `json:"killSwitch"`
	MaxOrderSize         float64 `json:"maxOrderSize"`
	MaxPriceDeviationBps float64 `json:"maxPriceDeviationBps"`
}

// ConfigFrom derives guard limits from the quoting parameters.
func ConfigFrom(p params.QuotingParameters) Config {
	return Config{
		KillSwitch:           p.KillSwitch,
		MaxOrderSize:         p.MaxSize,
		MaxPriceDeviationBps: p.MaxPriceDeviationBp,
	}
}

// StateView provides the reference price and free balances.
type StateView struct {
	FairValue  float64
	BaseFree   float64
	QuoteFree  float64
	HasBalance bool
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Guard evaluates every order the quote sender wants to place.
type Guard struct {
	cfg Config
}

// NewGuard creates a guard with static limits.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Update swaps the limits.
func (g *Guard) Update(cfg Config) {
	g.cfg = cfg
}

// Evaluate applies the checks to a place request.
func (g *Guard) Evaluate(req schema.OrderRequest, state StateView) Decision {
	if g.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if req.Price <= 0 || req.Size <= 0 || math.IsNaN(req.Price) || math.IsNaN(req.Size) {
		return deny(ReasonInvalid)
	}

	if g.cfg.MaxOrderSize > 0 && req.Size > g.cfg.MaxOrderSize {
		return deny(ReasonMaxSize)
	}

	if g.cfg.MaxPriceDeviationBps > 0 && state.FairValue > 0 {
		if exceedsDeviation(math.Abs(req.Price-state.FairValue), state.FairValue, g.cfg.MaxPriceDeviationBps) {
			return deny(ReasonPriceBand)
		}
	}

	if state.HasBalance {
		switch req.Side {
		case schema.SideBid:
			if req.Price*req.Size > state.QuoteFree+1e-9 {
				return deny(ReasonBalance)
			}
		case schema.SideAsk:
			if req.Size > state.BaseFree+1e-9 {
				return deny(ReasonBalance)
			}
		}
	}

	return Decision{Allow: true, Reason: ReasonNone}
}

func deny(r Reason) Decision {
	return Decision{Allow: false, Reason: r}
}

func exceedsDeviation(diff, ref, bps float64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	return diff*10000 > ref*bps
}
