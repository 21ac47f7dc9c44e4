package notify

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"leverage-sync/internal/observability"
)

var (
	// ErrBusClosed is returned when subscribing to a closed bus.
	ErrBusClosed = errors.New("notification bus closed")
	// ErrDuplicateSubscriber is returned when a subscriber name is reused.
	ErrDuplicateSubscriber = errors.New("duplicate subscriber")
)

// Bus delivers notifications to named subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the notification and the miss
// is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	recent  *Recent
	log     zerolog.Logger
	metrics *observability.Metrics
}

type subscriber struct {
	name    string
	ch      chan Notification
	dropped atomic.Uint64
}

// NewBus creates a bus retaining recentCapacity notifications for display.
func NewBus(recentCapacity int, log zerolog.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		recent:  NewRecent(recentCapacity),
		log:     log,
		metrics: metrics,
	}
}

// Subscribe registers a subscriber with the given buffer size.
// The channel is closed when the bus closes.
func (b *Bus) Subscribe(name string, buffer int) (<-chan Notification, error) {
	if buffer < 0 {
		buffer = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	for _, s := range b.subs {
		if s.name == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, name)
		}
	}
	s := &subscriber{name: name, ch: make(chan Notification, buffer)}
	b.subs = append(b.subs, s)
	return s.ch, nil
}

// Publish stamps n with an id and time if unset and delivers a copy to
// every subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(n Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.recent.Add(n.clone())
	b.metrics.RecordPublished(string(n.Kind))

	for _, s := range b.subs {
		select {
		case s.ch <- n.clone():
		default:
			if s.dropped.Add(1) == 1 {
				b.log.Warn().Str("subscriber", s.name).Msg("subscriber buffer full, dropping notifications")
			}
			b.metrics.RecordNotificationDropped(s.name)
		}
	}
}

// Dropped returns how many notifications the named subscriber missed.
func (b *Bus) Dropped(name string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.name == name {
			return s.dropped.Load()
		}
	}
	return 0
}

// Recent returns up to limit recent notifications, oldest first.
func (b *Bus) Recent(limit int) []Notification {
	return b.recent.Last(limit)
}

// Close closes every subscriber channel. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
}
