package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"leverage-sync/internal/storage"
)

// NotificationJournal implements storage.NotificationJournal using PostgreSQL.
type NotificationJournal struct {
	pool *Pool
}

// NewNotificationJournal creates a new NotificationJournal.
func NewNotificationJournal(pool *Pool) *NotificationJournal {
	return &NotificationJournal{pool: pool}
}

// Compile-time interface check.
var _ storage.NotificationJournal = (*NotificationJournal)(nil)

// Insert adds an entry. Returns ErrDuplicateKey if notification_id exists.
func (j *NotificationJournal) Insert(ctx context.Context, e *storage.JournalEntry) error {
	if e == nil || e.ID == "" || e.Kind == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO notifications (
			notification_id, kind, trader, position_id, feed, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var positionID *int64
	if e.PositionID != nil {
		id := int64(*e.PositionID)
		positionID = &id
	}

	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := j.pool.Exec(ctx, query,
		e.ID,
		e.Kind,
		e.Trader,
		positionID,
		e.Feed,
		payload,
		e.CreatedAt,
	)
	return mapError("insert notification", err)
}

// GetByID retrieves an entry by its id. Returns ErrNotFound if not exists.
func (j *NotificationJournal) GetByID(ctx context.Context, id string) (*storage.JournalEntry, error) {
	query := `
		SELECT notification_id, kind, trader, position_id, feed, payload, created_at
		FROM notifications
		WHERE notification_id = $1
	`

	e, err := scanEntry(j.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get notification by id", err)
	}
	return e, nil
}

// GetByTrader retrieves all entries for a trader, ordered by created_at ASC.
func (j *NotificationJournal) GetByTrader(ctx context.Context, trader string) ([]*storage.JournalEntry, error) {
	query := `
		SELECT notification_id, kind, trader, position_id, feed, payload, created_at
		FROM notifications
		WHERE trader = $1
		ORDER BY created_at ASC, notification_id ASC
	`

	rows, err := j.pool.Query(ctx, query, trader)
	if err != nil {
		return nil, fmt.Errorf("get notifications by trader: %w", err)
	}
	defer rows.Close()

	var entries []*storage.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*storage.JournalEntry, error) {
	var e storage.JournalEntry
	var positionID *int64

	err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.Trader,
		&positionID,
		&e.Feed,
		&e.Payload,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if positionID != nil {
		id := uint64(*positionID)
		e.PositionID = &id
	}
	return &e, nil
}
