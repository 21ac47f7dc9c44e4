package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-sync/internal/storage"
)

func TestNotificationJournal_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewNotificationJournal(pool)
	ctx := context.Background()

	positionID := uint64(1)
	entry := &storage.JournalEntry{
		ID:         "evt-001",
		Kind:       "PositionOpened",
		Trader:     "0x000000000000000000000000000000000000000a",
		PositionID: &positionID,
		Feed:       "BTCUSD",
		Payload:    []byte(`{"amount":"100000000"}`),
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}

	require.NoError(t, journal.Insert(ctx, entry))

	got, err := journal.GetByID(ctx, "evt-001")
	require.NoError(t, err)

	assert.Equal(t, entry.Kind, got.Kind)
	assert.Equal(t, entry.Trader, got.Trader)
	require.NotNil(t, got.PositionID)
	assert.Equal(t, positionID, *got.PositionID)
	assert.Equal(t, entry.Feed, got.Feed)
	assert.JSONEq(t, string(entry.Payload), string(got.Payload))
	assert.True(t, entry.CreatedAt.Equal(got.CreatedAt))
}

func TestNotificationJournal_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewNotificationJournal(pool)
	ctx := context.Background()

	entry := &storage.JournalEntry{
		ID:        "evt-dup",
		Kind:      "PriceUpdated",
		Feed:      "ETHUSD",
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, journal.Insert(ctx, entry))

	err := journal.Insert(ctx, entry)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestNotificationJournal_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewNotificationJournal(pool)

	_, err := journal.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNotificationJournal_GetByTrader(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	journal := NewNotificationJournal(pool)
	ctx := context.Background()

	trader := "0x000000000000000000000000000000000000000b"
	base := time.Unix(1700000000, 0).UTC()
	for i, kind := range []string{"PositionClosed", "PositionOpened"} {
		require.NoError(t, journal.Insert(ctx, &storage.JournalEntry{
			ID:        kind,
			Kind:      kind,
			Trader:    trader,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, journal.Insert(ctx, &storage.JournalEntry{
		ID:        "other",
		Kind:      "PositionOpened",
		Trader:    "0x000000000000000000000000000000000000000c",
		CreatedAt: base,
	}))

	entries, err := journal.GetByTrader(ctx, trader)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "PositionOpened", entries[0].Kind)
	assert.Equal(t, "PositionClosed", entries[1].Kind)
	assert.Nil(t, entries[0].PositionID)
}
