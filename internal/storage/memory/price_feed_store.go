package memory

import (
	"sort"
	"sync"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/storage"
)

// DefaultHistoryCapacity is the rolling history length per feed.
const DefaultHistoryCapacity = 50

// PriceFeedStore holds the latest tick and a bounded history per feed.
type PriceFeedStore struct {
	mu       sync.RWMutex
	capacity int
	feeds    map[string]*feedSeries
}

type feedSeries struct {
	latest  domain.PriceTick
	history []domain.PriceTick // oldest first, len <= capacity
}

// NewPriceFeedStore creates a store keeping at most capacity ticks of history per feed.
func NewPriceFeedStore(capacity int) *PriceFeedStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &PriceFeedStore{
		capacity: capacity,
		feeds:    make(map[string]*feedSeries),
	}
}

// Update offers a tick. Strictly older ticks are rejected and never edit
// history; an exact repeat of the latest tick is reported as a duplicate.
func (s *PriceFeedStore) Update(tick domain.PriceTick) storage.UpdateResult {
	if tick.Feed == "" || tick.Price == nil || tick.Price.Sign() <= 0 {
		return storage.UpdateInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.feeds[tick.Feed]
	if !ok {
		series = &feedSeries{history: make([]domain.PriceTick, 0, s.capacity)}
		s.feeds[tick.Feed] = series
	} else {
		if tick.Timestamp < series.latest.Timestamp {
			return storage.UpdateStale
		}
		if tick.Timestamp == series.latest.Timestamp && tick.Price.Cmp(series.latest.Price) == 0 {
			return storage.UpdateDuplicate
		}
	}

	stored := tick.Clone()
	series.latest = stored
	if len(series.history) == s.capacity {
		copy(series.history, series.history[1:])
		series.history = series.history[:s.capacity-1]
	}
	series.history = append(series.history, stored)
	return storage.UpdateAccepted
}

// Latest returns the latest tick for a feed.
func (s *PriceFeedStore) Latest(feed string) (domain.PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.feeds[feed]
	if !ok {
		return domain.PriceTick{}, false
	}
	return series.latest.Clone(), true
}

// History returns a snapshot of the feed's history, oldest first.
func (s *PriceFeedStore) History(feed string) []domain.PriceTick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.feeds[feed]
	if !ok {
		return nil
	}
	out := make([]domain.PriceTick, len(series.history))
	for i, t := range series.history {
		out[i] = t.Clone()
	}
	return out
}

// Feeds returns the names of all feeds with at least one tick, sorted.
func (s *PriceFeedStore) Feeds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.feeds))
	for feed := range s.feeds {
		out = append(out, feed)
	}
	sort.Strings(out)
	return out
}

// Capacity returns the configured history capacity.
func (s *PriceFeedStore) Capacity() int {
	return s.capacity
}
