package logstream

// ring is a fixed-capacity line buffer with drop-oldest eviction.
type ring struct {
	buf     []string
	start   int
	size    int
	dropped int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]string, capacity)}
}

// push appends a line, evicting the oldest one when full.
func (r *ring) push(line string) {
	if len(r.buf) == 0 {
		r.dropped++
		return
	}
	if r.size == len(r.buf) {
		r.buf[r.start] = line
		r.start = (r.start + 1) % len(r.buf)
		r.dropped++
		return
	}
	r.buf[(r.start+r.size)%len(r.buf)] = line
	r.size++
}

// drain removes and returns all buffered lines in insertion order.
func (r *ring) drain() []string {
	if r.size == 0 {
		return nil
	}
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	r.start = 0
	r.size = 0
	return out
}

func (r *ring) len() int { return r.size }
