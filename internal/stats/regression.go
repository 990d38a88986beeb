package stats

// Regression fits a least-squares line through the last N samples,
// using the sample index as x.
type Regression struct {
	win *window
}

func NewRegression(periods int) *Regression {
	return &Regression{win: newWindow(periods)}
}

func (r *Regression) Add(x float64) {
	r.win.push(x)
}

// Slope returns the fitted change per sample and the window mean.
// It reports false with fewer than two samples.
func (r *Regression) Slope() (slope, mean float64, ok bool) {
	ys := r.win.values()
	n := float64(len(ys))
	if len(ys) < 2 {
		return 0, 0, false
	}

	xMean := (n - 1) / 2
	for _, y := range ys {
		mean += y
	}
	mean /= n

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - xMean
		num += dx * (y - mean)
		den += dx * dx
	}
	return num / den, mean, true
}

func (r *Regression) Samples() []float64 {
	return r.win.values()
}

func (r *Regression) Periods() int {
	return r.win.capacity()
}

// Load rebuilds the window from samples, oldest first.
func (r *Regression) Load(samples []float64, periods int) {
	r.win = newWindow(periods)
	if len(samples) > periods && periods > 0 {
		samples = samples[len(samples)-periods:]
	}
	for _, x := range samples {
		r.win.push(x)
	}
}
