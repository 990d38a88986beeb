package stats

import (
	"time"

	"marketmaker/internal/schema"
)

// EWMA is an exponentially weighted moving average with α = 2/(N+1).
// The first sample seeds the value.
type EWMA struct {
	periods   int
	alpha     float64
	value     float64
	count     int
	updatedAt time.Time
}

func NewEWMA(periods int) *EWMA {
	e := &EWMA{}
	e.SetPeriods(periods)
	return e
}

// SetPeriods changes N without discarding the current value.
func (e *EWMA) SetPeriods(periods int) {
	if periods <= 0 {
		periods = 1
	}
	e.periods = periods
	e.alpha = 2 / (float64(periods) + 1)
}

// Add folds sample into the average and returns the new value.
func (e *EWMA) Add(sample float64, at time.Time) float64 {
	if e.count == 0 {
		e.value = sample
	} else {
		e.value = e.alpha*sample + (1-e.alpha)*e.value
	}
	e.count++
	e.updatedAt = at
	return e.value
}

// Value returns the current average; false until the first sample.
func (e *EWMA) Value() (float64, bool) {
	return e.value, e.count > 0
}

func (e *EWMA) Count() int {
	return e.count
}

// State exports the estimator for persistence.
func (e *EWMA) State() schema.StatisticValue {
	return schema.StatisticValue{
		Value:     e.value,
		UpdatedAt: e.updatedAt,
		Periods:   e.periods,
		Count:     e.count,
	}
}

// Restore resumes from a persisted state, keeping the configured period count.
func (e *EWMA) Restore(v schema.StatisticValue) {
	if v.Count <= 0 {
		return
	}
	e.value = v.Value
	e.count = v.Count
	e.updatedAt = v.UpdatedAt
}
