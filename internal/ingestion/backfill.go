package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
)

// ErrBackfillDisabled is returned when no LogFetcher is configured.
var ErrBackfillDisabled = errors.New("backfill disabled: no log fetcher")

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	FromBlock uint64
	ToBlock   uint64
	Fetched   int
	Clamped   bool // range was cut to the configured maximum span
	Events    []domain.Event
	Duration  time.Duration
}

// Backfill fetches logs from the resume point up to the current head and
// returns the events that pass decode and dedup, in chain order. The
// resume point is the highest block seen when the connection was lost, or
// the highest block seen so far when no loss was observed. Logs already
// delivered by the push stream are suppressed by dedup.
func (s *LogSource) Backfill(ctx context.Context) (*BackfillResult, error) {
	if s.fetcher == nil {
		return nil, ErrBackfillDisabled
	}
	start := time.Now()

	head, err := s.fetcher.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("get head block: %w", err)
	}

	from, frozen := s.resumePoint()
	if from == 0 {
		from = head
	}
	result := &BackfillResult{FromBlock: from, ToBlock: head}
	if from > head {
		if frozen {
			s.closeGap()
		}
		result.Duration = time.Since(start)
		return result, nil
	}
	if head-from+1 > s.maxSpan {
		result.FromBlock = head - s.maxSpan + 1
		result.Clamped = true
		s.log.Warn().
			Uint64("from", from).
			Uint64("head", head).
			Uint64("max_span", s.maxSpan).
			Msg("backfill range clamped, older gap left to reconciliation")
	}

	var logs []domain.LogRecord
	for lo := result.FromBlock; lo <= head; lo += s.chunkSize {
		hi := lo + s.chunkSize - 1
		if hi > head {
			hi = head
		}
		chunk, err := s.fetcher.GetLogs(ctx, chain.LogQuery{
			Addresses: s.addresses,
			FromBlock: lo,
			ToBlock:   hi,
		})
		if err != nil {
			return nil, fmt.Errorf("get logs [%d, %d]: %w", lo, hi, err)
		}
		logs = append(logs, chunk...)
	}
	result.Fetched = len(logs)

	SortLogs(logs)
	if err := ValidateLogOrdering(logs); err != nil {
		// Repeated records; dedup admits each identity once.
		s.log.Warn().Err(err).Int("fetched", len(logs)).Msg("backfill returned duplicate logs")
	}
	for _, rec := range logs {
		if ev, ok := s.Process(rec); ok {
			result.Events = append(result.Events, ev)
		}
	}
	// Never move the cursor backwards even if the node returned nothing.
	s.observeBlock(head)
	if frozen {
		s.closeGap()
	}

	result.Duration = time.Since(start)
	s.metrics.RecordBackfill(len(result.Events))
	s.log.Info().
		Uint64("from", result.FromBlock).
		Uint64("to", result.ToBlock).
		Int("fetched", result.Fetched).
		Int("admitted", len(result.Events)).
		Bool("resumed", frozen).
		Dur("duration", result.Duration).
		Msg("backfill complete")

	return result, nil
}
