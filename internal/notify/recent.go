package notify

import "sync"

// DefaultRecentCapacity is the number of notifications kept for display.
const DefaultRecentCapacity = 50

// Recent keeps the last N notifications. The oldest is evicted first.
type Recent struct {
	mu    sync.RWMutex
	buf   []Notification
	start int
	size  int
}

// NewRecent creates a buffer holding up to capacity notifications.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Recent{buf: make([]Notification, capacity)}
}

// Add appends n, evicting the oldest entry when full.
func (r *Recent) Add(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = n
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

// Last returns up to limit most recent notifications, oldest first.
// A non-positive limit returns everything retained.
func (r *Recent) Last(limit int) []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]Notification, 0, limit)
	for i := r.size - limit; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)].clone())
	}
	return out
}

// Len returns the number of retained notifications.
func (r *Recent) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
