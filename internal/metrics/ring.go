package metrics

import "github.com/opensource-finance/kestrel/internal/domain"

// ring is a fixed-capacity buffer that overwrites its oldest sample.
type ring struct {
	buf   []domain.MetricSample
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]domain.MetricSample, capacity)}
}

func (r *ring) push(s domain.MetricSample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns the samples oldest first.
func (r *ring) snapshot() []domain.MetricSample {
	out := make([]domain.MetricSample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// last returns the newest sample.
func (r *ring) last() (domain.MetricSample, bool) {
	if r.size == 0 {
		return domain.MetricSample{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)], true
}

// values returns the newest n sample values, oldest first.
func (r *ring) values(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+r.size-n+i)%len(r.buf)].Value
	}
	return out
}
