package clickhouse

import (
	"context"
	"fmt"

	"leverage-sync/internal/storage"
)

// TickArchive implements storage.TickArchive using ClickHouse.
// The table is a ReplacingMergeTree keyed by tick_id, so archiving the
// same tick twice is harmless.
type TickArchive struct {
	conn *Conn
}

// NewTickArchive creates a new TickArchive.
func NewTickArchive(conn *Conn) *TickArchive {
	return &TickArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.TickArchive = (*TickArchive)(nil)

// InsertBulk adds multiple ticks in one batch.
func (a *TickArchive) InsertBulk(ctx context.Context, ticks []*storage.ArchivedTick) error {
	if len(ticks) == 0 {
		return nil
	}
	for _, t := range ticks {
		if t == nil || t.ID == "" || t.Feed == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (
			tick_id, feed, price_raw, price, timestamp, block_number, tx_hash
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range ticks {
		err = batch.Append(
			t.ID, t.Feed, t.PriceRaw, t.Price,
			t.Timestamp, t.Block, t.TxHash,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves ticks for a feed within [start, end] (inclusive).
func (a *TickArchive) GetByTimeRange(ctx context.Context, feed string, start, end int64) ([]*storage.ArchivedTick, error) {
	rows, err := a.conn.Query(ctx, `
		SELECT tick_id, feed, price_raw, price, timestamp, block_number, tx_hash
		FROM price_ticks FINAL
		WHERE feed = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, tick_id ASC
	`, feed, start, end)
	if err != nil {
		return nil, fmt.Errorf("query price ticks: %w", err)
	}
	defer rows.Close()

	var result []*storage.ArchivedTick
	for rows.Next() {
		var t storage.ArchivedTick
		if err := rows.Scan(&t.ID, &t.Feed, &t.PriceRaw, &t.Price, &t.Timestamp, &t.Block, &t.TxHash); err != nil {
			return nil, fmt.Errorf("scan price tick: %w", err)
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price ticks: %w", err)
	}

	return result, nil
}
