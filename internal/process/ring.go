package process

import (
	"strings"
	"sync"
)

// lineRing keeps the most recent lines written to it; the oldest is
// overwritten once capacity is reached.
type lineRing struct {
	mu    sync.Mutex
	ring  []string
	start int
	size  int
}

func newLineRing(capacity int) *lineRing {
	if capacity <= 0 {
		capacity = DefaultStderrCapacity
	}
	return &lineRing{ring: make([]string, capacity)}
}

func (r *lineRing) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.ring)
	if r.size < capacity {
		r.ring[(r.start+r.size)%capacity] = line
		r.size++
		return
	}

	// Overwrite oldest.
	r.ring[r.start] = line
	r.start = (r.start + 1) % capacity
}

// tail returns up to n of the newest lines, oldest-first.
func (r *lineRing) tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]string, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.ring[(r.start+i)%len(r.ring)])
	}
	return out
}

func (r *lineRing) joined(n int) string {
	return strings.Join(r.tail(n), "\n")
}

func (r *lineRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
