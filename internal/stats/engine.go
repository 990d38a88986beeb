package stats

import (
	"time"

	"marketmaker/internal/params"
	"marketmaker/internal/schema"
)

// Protection is the volatility guard derived from the fair-value deviation.
type Protection struct {
	Current    float64 `json:"current"`
	Baseline   float64 `json:"baseline"`
	Multiplier float64 `json:"multiplier"`
	Active     bool    `json:"active"`
	Suspend    bool    `json:"suspend"`
}

// Trend is the input of the automatic target position modes.
type Trend struct {
	Short    float64 `json:"short"`
	Medium   float64 `json:"medium"`
	Long     float64 `json:"long"`
	HasEWMA  bool    `json:"hasEwma"`
	Slope    float64 `json:"slope"`
	Mean     float64 `json:"mean"`
	Periods  int     `json:"periods"`
	HasSlope bool    `json:"hasSlope"`
}

// Snapshot is the persisted state of the engine.
type Snapshot struct {
	Short      schema.StatisticValue `json:"short"`
	Medium     schema.StatisticValue `json:"medium"`
	Long       schema.StatisticValue `json:"long"`
	Protection schema.StatisticValue `json:"protection"`
	Baseline   schema.StatisticValue `json:"baseline"`
	Stdev      schema.StatisticValue `json:"stdev"`
	Samples    []float64             `json:"samples"`
	Trend      []float64             `json:"trend"`
	Time       time.Time             `json:"time"`
}

// Engine owns every fair-value estimator. It samples once per accepted
// fair-value change and is only touched from the decision loop.
type Engine struct {
	short      *EWMA
	medium     *EWMA
	long       *EWMA
	protection *EWMA
	stdev      *Stdev
	baseline   *EWMA
	regression *Regression
	updatedAt  time.Time
}

func NewEngine(p params.QuotingParameters) *Engine {
	return &Engine{
		short:      NewEWMA(p.ShortEwmaPeriods),
		medium:     NewEWMA(p.MediumEwmaPeriods),
		long:       NewEWMA(p.LongEwmaPeriods),
		protection: NewEWMA(p.QuotingEwmaProtectionPeriods),
		stdev:      NewStdev(p.QuotingStdevProtectionPeriod),
		baseline:   NewEWMA(p.QuotingStdevProtectionPeriod),
		regression: NewRegression(p.RegressionPeriods),
	}
}

// Reconfigure applies new period counts, keeping accumulated state.
func (e *Engine) Reconfigure(p params.QuotingParameters) {
	e.short.SetPeriods(p.ShortEwmaPeriods)
	e.medium.SetPeriods(p.MediumEwmaPeriods)
	e.long.SetPeriods(p.LongEwmaPeriods)
	e.protection.SetPeriods(p.QuotingEwmaProtectionPeriods)
	e.stdev.SetPeriods(p.QuotingStdevProtectionPeriod)
	e.baseline.SetPeriods(p.QuotingStdevProtectionPeriod)
	if e.regression.Periods() != p.RegressionPeriods {
		e.regression.Load(e.regression.Samples(), p.RegressionPeriods)
	}
}

// Add samples a new fair value.
func (e *Engine) Add(fv schema.FairValue) {
	x, at := fv.Price, fv.Time
	e.short.Add(x, at)
	e.medium.Add(x, at)
	e.long.Add(x, at)
	e.protection.Add(x, at)
	e.regression.Add(x)

	e.stdev.Add(x, at)
	if sd, ok := e.stdev.Value(); ok {
		e.baseline.Add(sd, at)
	}
	e.updatedAt = at
}

// Protection evaluates the volatility guard for the active parameters.
func (e *Engine) Protection(p params.QuotingParameters) Protection {
	out := Protection{Multiplier: 1}
	cur, ok := e.stdev.Value()
	if !ok {
		return out
	}
	base, _ := e.baseline.Value()
	out.Current, out.Baseline = cur, base

	if p.QuotingStdevProtection == params.StdevOff || base <= 0 {
		return out
	}
	if cur <= p.QuotingStdevProtectionFactor*base {
		return out
	}

	out.Active = true
	switch p.QuotingStdevProtection {
	case params.StdevWiden:
		if m := cur / base; m > 1 {
			out.Multiplier = m
		}
	case params.StdevSuspend:
		out.Suspend = true
	}
	return out
}

// EWMAProtection returns the protective moving average, if enabled and seeded.
func (e *Engine) EWMAProtection(p params.QuotingParameters) (float64, bool) {
	if !p.QuotingEwmaProtection {
		return 0, false
	}
	return e.protection.Value()
}

// Trend returns the moving averages and regression fit.
func (e *Engine) Trend() Trend {
	var t Trend
	var okS, okM, okL bool
	t.Short, okS = e.short.Value()
	t.Medium, okM = e.medium.Value()
	t.Long, okL = e.long.Value()
	t.HasEWMA = okS && okM && okL
	t.Slope, t.Mean, t.HasSlope = e.regression.Slope()
	t.Periods = e.regression.Periods()
	return t
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Short:      e.short.State(),
		Medium:     e.medium.State(),
		Long:       e.long.State(),
		Protection: e.protection.State(),
		Baseline:   e.baseline.State(),
		Stdev:      e.stdev.State(),
		Samples:    e.stdev.Samples(),
		Trend:      e.regression.Samples(),
		Time:       e.updatedAt,
	}
}

// Restore resumes from a persisted snapshot.
func (e *Engine) Restore(s Snapshot) {
	e.short.Restore(s.Short)
	e.medium.Restore(s.Medium)
	e.long.Restore(s.Long)
	e.protection.Restore(s.Protection)
	e.baseline.Restore(s.Baseline)
	e.stdev.updatedAt = s.Time
	e.stdev.Load(s.Samples, e.stdev.win.capacity())
	e.regression.Load(s.Trend, e.regression.Periods())
	e.updatedAt = s.Time
}
