package storage

import (
	"context"
	"math/big"
	"time"

	"leverage-sync/internal/domain"
)

// UpdateResult is the outcome of offering a tick to a price feed store.
type UpdateResult int

const (
	// UpdateAccepted means the tick became the feed's latest price.
	UpdateAccepted UpdateResult = iota
	// UpdateDuplicate means the tick repeats the latest price and timestamp.
	UpdateDuplicate
	// UpdateStale means the tick is strictly older than the latest.
	UpdateStale
	// UpdateInvalid means the tick has no feed or a non-positive price.
	UpdateInvalid
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateAccepted:
		return "accepted"
	case UpdateDuplicate:
		return "duplicate"
	case UpdateStale:
		return "stale"
	case UpdateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Valuator returns the current PnL for a position, or nil when no price
// is known for its feed.
type Valuator func(pos domain.Position) *big.Int

// ReconcileResult lists the changes one reconciliation made for a trader.
// All slices are ordered by position id.
type ReconcileResult struct {
	// Inserted were present authoritatively but missing locally.
	Inserted []domain.Position
	// Removed were present locally but absent authoritatively.
	Removed []domain.Position
	// Replaced had the same id but different terms; the authoritative copy won.
	Replaced []domain.Position
	// Rejected were authoritative positions failing validation.
	Rejected []domain.Position
}

// Divergent reports whether local state disagreed with the authoritative set.
func (r ReconcileResult) Divergent() bool {
	return len(r.Inserted)+len(r.Removed)+len(r.Replaced) > 0
}

// JournalEntry is one outbound notification persisted for audit.
type JournalEntry struct {
	ID         string // deterministic event or reconciliation id
	Kind       string
	Trader     string // hex address, empty for price notifications
	PositionID *uint64
	Feed       string
	Payload    []byte // JSON body as published
	CreatedAt  time.Time
}

// NotificationJournal stores outbound notifications. Append-only.
type NotificationJournal interface {
	// Insert adds an entry. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, e *JournalEntry) error

	// GetByID retrieves an entry. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*JournalEntry, error)

	// GetByTrader retrieves all entries for a trader, ordered by created_at ASC.
	GetByTrader(ctx context.Context, trader string) ([]*JournalEntry, error)
}

// ArchivedTick is a price observation kept for long-range charting.
type ArchivedTick struct {
	ID        string // idhash.ComputeTickID
	Feed      string
	PriceRaw  string  // 18-decimal fixed-point integer
	Price     float64 // for charting only
	Timestamp int64   // unix seconds
	Block     uint64
	TxHash    string
}

// TickArchive stores price ticks outside the bounded in-memory history.
type TickArchive interface {
	// InsertBulk adds multiple ticks.
	InsertBulk(ctx context.Context, ticks []*ArchivedTick) error

	// GetByTimeRange retrieves ticks for a feed within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, feed string, start, end int64) ([]*ArchivedTick, error)
}
