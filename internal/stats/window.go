package stats

// window is a fixed-capacity ring of the most recent samples.
type window struct {
	buf  []float64
	next int
	n    int
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 1
	}
	return &window{buf: make([]float64, capacity)}
}

// push stores x and returns the evicted sample, if any.
func (w *window) push(x float64) (evicted float64, full bool) {
	if w.n == len(w.buf) {
		evicted, full = w.buf[w.next], true
	} else {
		w.n++
	}
	w.buf[w.next] = x
	w.next = (w.next + 1) % len(w.buf)
	return evicted, full
}

// values returns the samples oldest first.
func (w *window) values() []float64 {
	out := make([]float64, 0, w.n)
	start := w.next - w.n
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.n; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

func (w *window) size() int {
	return w.n
}

func (w *window) capacity() int {
	return len(w.buf)
}
