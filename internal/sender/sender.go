// Package sender turns the desired quote into order actions against the broker.
package sender

import (
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"marketmaker/internal/params"
	"marketmaker/internal/risk"
	"marketmaker/internal/schema"
)

// Broker is the order ledger the sender acts on.
type Broker interface {
	Open() []schema.Order
	Place(req schema.OrderRequest) (schema.Order, error)
	Cancel(clientID string) error
	Replace(clientID string, price, size float64) (schema.Order, error)
	SupportsReplace() bool
}

// Result summarizes one Sync.
type Result struct {
	Issued   int
	Denied   int
	Failed   int
	Deferred int
}

// Sender issues the minimal set of actions, within an action budget. Actions
// over budget are dropped and recomputed from the newest quote on the next Sync.
type Sender struct {
	broker  Broker
	guard   *risk.Guard
	limiter *rate.Limiter
	budget  int
	window  time.Duration
	minTick float64
	sizeTol float64
	backlog bool
}

func New(broker Broker, guard *risk.Guard, minTick float64, p params.QuotingParameters) *Sender {
	s := &Sender{
		broker:  broker,
		guard:   guard,
		minTick: minTick,
	}
	s.Configure(p)
	return s
}

// Configure applies the action budget, size tolerance and guard limits of p.
func (s *Sender) Configure(p params.QuotingParameters) {
	s.sizeTol = p.SizeTolerance
	s.guard.Update(risk.ConfigFrom(p))

	n, window := p.MaxActionsPerWindow, p.ActionWindow()
	if s.limiter != nil && n == s.budget && window == s.window {
		return
	}
	s.budget, s.window = n, window
	if n <= 0 || window <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	s.limiter = rate.NewLimiter(rate.Every(window/time.Duration(n)), n)
}

// Backlog reports whether the last Sync left actions undone.
func (s *Sender) Backlog() bool {
	return s.backlog
}

// RetryIn is how long the budget takes to admit one more action.
func (s *Sender) RetryIn() time.Duration {
	l := s.limiter.Limit()
	if l == rate.Inf || l <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l))
}

// Sync diffs desired against the broker's open orders and issues what the
// budget allows.
func (s *Sender) Sync(now time.Time, desired schema.QuoteState, view risk.StateView) Result {
	open := s.broker.Open()
	actions := Plan(desired, open, s.minTick, s.sizeTol, s.broker.SupportsReplace())

	var res Result
	for i, a := range actions {
		if !s.limiter.AllowN(now, 1) {
			res.Deferred = len(actions) - i
			break
		}

		switch a.Kind {
		case ActionCancel:
			if err := s.broker.Cancel(a.ClientID); err != nil {
				logs.Errorf("cancel order %s, err: %+v", a.ClientID, err)
				res.Failed++
				continue
			}
		case ActionReplace:
			if !s.allowed(a, withHeld(view, open, a.ClientID), now) {
				res.Denied++
				continue
			}
			if _, err := s.broker.Replace(a.ClientID, a.Price, a.Size); err != nil {
				logs.Errorf("replace order %s, err: %+v", a.ClientID, err)
				res.Failed++
				continue
			}
		case ActionPlace:
			if !s.allowed(a, view, now) {
				res.Denied++
				continue
			}
			req := schema.OrderRequest{Side: a.Side, Price: a.Price, Size: a.Size, Pong: a.Pong, Time: now}
			if _, err := s.broker.Place(req); err != nil {
				logs.Errorf("place %s order, err: %+v", a.Side, err)
				res.Failed++
				continue
			}
		}
		res.Issued++
	}

	s.backlog = res.Deferred > 0
	return res
}

func (s *Sender) allowed(a Action, view risk.StateView, now time.Time) bool {
	req := schema.OrderRequest{Side: a.Side, Price: a.Price, Size: a.Size, Pong: a.Pong, Time: now}
	d := s.guard.Evaluate(req, view)
	if !d.Allow {
		logs.Infof("guard denied %s %s %.8f@%.8f, reason: %s", a.Kind, a.Side, a.Size, a.Price, d.Reason)
	}
	return d.Allow
}

// withHeld returns view with the funds held by the replaced order released.
func withHeld(view risk.StateView, open []schema.Order, clientID string) risk.StateView {
	for _, o := range open {
		if o.ClientID != clientID {
			continue
		}
		switch o.Side {
		case schema.SideBid:
			view.QuoteFree += o.Remaining() * o.Price
		case schema.SideAsk:
			view.BaseFree += o.Remaining()
		}
	}
	return view
}
