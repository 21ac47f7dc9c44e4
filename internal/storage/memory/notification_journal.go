package memory

import (
	"context"
	"sort"
	"sync"

	"leverage-sync/internal/storage"
)

// NotificationJournal is an in-memory implementation of storage.NotificationJournal.
type NotificationJournal struct {
	mu   sync.RWMutex
	data map[string]*storage.JournalEntry
}

// NewNotificationJournal creates a new in-memory journal.
func NewNotificationJournal() *NotificationJournal {
	return &NotificationJournal{
		data: make(map[string]*storage.JournalEntry),
	}
}

// Insert adds an entry. Returns ErrDuplicateKey if the id exists.
func (j *NotificationJournal) Insert(_ context.Context, e *storage.JournalEntry) error {
	if e == nil || e.ID == "" || e.Kind == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.data[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	j.data[e.ID] = copyEntry(e)
	return nil
}

// GetByID retrieves an entry by id.
func (j *NotificationJournal) GetByID(_ context.Context, id string) (*storage.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEntry(e), nil
}

// GetByTrader retrieves all entries for a trader, ordered by created_at ASC.
func (j *NotificationJournal) GetByTrader(_ context.Context, trader string) ([]*storage.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*storage.JournalEntry
	for _, e := range j.data {
		if e.Trader == trader {
			result = append(result, copyEntry(e))
		}
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].CreatedAt.Equal(result[b].CreatedAt) {
			return result[a].ID < result[b].ID
		}
		return result[a].CreatedAt.Before(result[b].CreatedAt)
	})
	return result, nil
}

func copyEntry(e *storage.JournalEntry) *storage.JournalEntry {
	c := *e
	if e.PositionID != nil {
		id := *e.PositionID
		c.PositionID = &id
	}
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

var _ storage.NotificationJournal = (*NotificationJournal)(nil)
