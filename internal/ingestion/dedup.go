package ingestion

import (
	"sync"

	"leverage-sync/internal/domain"
)

// DefaultDedupCapacity is the number of identity keys remembered.
const DefaultDedupCapacity = 500

// Deduplicator remembers the most recent identity keys and suppresses
// repeats. When full, the oldest inserted key is forgotten first.
type Deduplicator struct {
	mu   sync.Mutex
	ring []domain.EventKey
	next int // ring slot the next key is written to
	size int
	seen map[domain.EventKey]struct{}
}

// NewDeduplicator creates a deduplicator holding up to capacity keys.
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Deduplicator{
		ring: make([]domain.EventKey, capacity),
		seen: make(map[domain.EventKey]struct{}, capacity),
	}
}

// Admit returns true and records the key the first time it is seen
// within the retention window, false otherwise.
func (d *Deduplicator) Admit(key domain.EventKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[key]; dup {
		return false
	}

	if d.size == len(d.ring) {
		delete(d.seen, d.ring[d.next])
	} else {
		d.size++
	}
	d.ring[d.next] = key
	d.next = (d.next + 1) % len(d.ring)
	d.seen[key] = struct{}{}
	return true
}

// Len returns the number of keys currently retained.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Capacity returns the retention window size.
func (d *Deduplicator) Capacity() int {
	return len(d.ring)
}
