package ingestion

import (
	"context"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
)

// LogFetcher provides historical logs for gap backfill.
// Implemented by chain.HTTPClient.
type LogFetcher interface {
	// BlockNumber returns the current head block.
	BlockNumber(ctx context.Context) (uint64, error)

	// GetLogs returns logs in [q.FromBlock, q.ToBlock] for q.Addresses.
	GetLogs(ctx context.Context, q chain.LogQuery) ([]domain.LogRecord, error)
}

// Decoder turns raw logs into domain events. Implemented by codec.Codec.
// A nil event with a nil error means the log is not of interest.
type Decoder interface {
	Decode(rec domain.LogRecord) (domain.Event, error)
}
