package memory

import (
	"context"
	"sort"
	"sync"

	"leverage-sync/internal/storage"
)

// TickArchive is an in-memory implementation of storage.TickArchive.
// Ticks with an id already archived are skipped, mirroring the
// ReplacingMergeTree table behind the ClickHouse implementation.
type TickArchive struct {
	mu   sync.RWMutex
	data map[string]*storage.ArchivedTick
}

// NewTickArchive creates a new in-memory tick archive.
func NewTickArchive() *TickArchive {
	return &TickArchive{
		data: make(map[string]*storage.ArchivedTick),
	}
}

// InsertBulk adds multiple ticks.
func (a *TickArchive) InsertBulk(_ context.Context, ticks []*storage.ArchivedTick) error {
	if len(ticks) == 0 {
		return nil
	}
	for _, t := range ticks {
		if t == nil || t.ID == "" || t.Feed == "" {
			return storage.ErrInvalidInput
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range ticks {
		if _, exists := a.data[t.ID]; exists {
			continue
		}
		c := *t
		a.data[t.ID] = &c
	}
	return nil
}

// GetByTimeRange retrieves ticks for a feed within [start, end] (inclusive).
func (a *TickArchive) GetByTimeRange(_ context.Context, feed string, start, end int64) ([]*storage.ArchivedTick, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []*storage.ArchivedTick
	for _, t := range a.data {
		if t.Feed == feed && t.Timestamp >= start && t.Timestamp <= end {
			c := *t
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp == result[j].Timestamp {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}

var _ storage.TickArchive = (*TickArchive)(nil)
