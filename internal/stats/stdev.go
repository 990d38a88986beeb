package stats

import (
	"math"
	"time"

	"marketmaker/internal/schema"
)

// Stdev is a population standard deviation over the last N samples,
// maintained incrementally with Welford's update and a sliding window.
type Stdev struct {
	win       *window
	mean      float64
	m2        float64
	updatedAt time.Time
}

func NewStdev(periods int) *Stdev {
	return &Stdev{win: newWindow(periods)}
}

// Add pushes x into the window, evicting the oldest sample when full.
func (s *Stdev) Add(x float64, at time.Time) {
	y, full := s.win.push(x)
	s.updatedAt = at

	n := float64(s.win.size())
	if !full {
		delta := x - s.mean
		s.mean += delta / n
		s.m2 += delta * (x - s.mean)
		return
	}

	oldMean := s.mean
	s.mean += (x - y) / n
	s.m2 += (x - y) * (x - s.mean + y - oldMean)
	if s.m2 < 0 {
		s.m2 = 0
	}
}

// Value returns the deviation; false until two samples were seen.
func (s *Stdev) Value() (float64, bool) {
	n := s.win.size()
	if n < 2 {
		return 0, false
	}
	return math.Sqrt(s.m2 / float64(n)), true
}

// SetPeriods resizes the window, keeping the newest samples.
func (s *Stdev) SetPeriods(periods int) {
	if periods == s.win.capacity() {
		return
	}
	s.Load(s.Samples(), periods)
}

// Samples returns the window oldest first.
func (s *Stdev) Samples() []float64 {
	return s.win.values()
}

// Load rebuilds the estimator from samples, oldest first.
func (s *Stdev) Load(samples []float64, periods int) {
	at := s.updatedAt
	*s = Stdev{win: newWindow(periods)}
	if len(samples) > s.win.capacity() {
		samples = samples[len(samples)-s.win.capacity():]
	}
	for _, x := range samples {
		s.Add(x, at)
	}
}

// State exports the scalar view of the estimator.
func (s *Stdev) State() schema.StatisticValue {
	v, _ := s.Value()
	return schema.StatisticValue{
		Value:     v,
		UpdatedAt: s.updatedAt,
		Periods:   s.win.capacity(),
		Count:     s.win.size(),
	}
}
