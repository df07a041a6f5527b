package alert

import (
	"sync"
	"time"
)

// History is a bounded ring buffer of dispatched alerts. Entries older than
// maxAge are dropped lazily on read and write.
type History struct {
	mu     sync.Mutex
	buf    []Alert
	start  int
	n      int
	maxAge time.Duration
}

func NewHistory(size int, maxAge time.Duration) *History {
	return &History{
		buf:    make([]Alert, max(size, 1)),
		maxAge: maxAge,
	}
}

// Add appends a, overwriting the oldest entry when full.
func (h *History) Add(a Alert, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.expireLocked(now)
	idx := (h.start + h.n) % len(h.buf)
	h.buf[idx] = a
	if h.n < len(h.buf) {
		h.n++
	} else {
		h.start = (h.start + 1) % len(h.buf)
	}
}

// Entries returns the retained alerts, oldest first.
func (h *History) Entries(now time.Time) []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.expireLocked(now)
	out := make([]Alert, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buf)
	h.start, h.n = 0, 0
}

func (h *History) expireLocked(now time.Time) {
	if h.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-h.maxAge).UnixMilli()
	for h.n > 0 && h.buf[h.start].Timestamp < cutoff {
		h.buf[h.start] = Alert{}
		h.start = (h.start + 1) % len(h.buf)
		h.n--
	}
}
