package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/codec"
	"leverage-sync/internal/domain"
	"leverage-sync/internal/observability"
)

// Drop reasons reported to metrics.
const (
	DropDecodeError = "decode_error"
	DropUnknownFeed = "unknown_feed"
)

// LogSource turns the raw push stream into admitted domain events:
// decode, then deduplicate. Records the codec ignores are not counted
// as drops.
type LogSource struct {
	ws        chain.WSClient
	fetcher   LogFetcher
	decoder   Decoder
	dedup     *Deduplicator
	addresses []common.Address
	buffer    int
	maxSpan   uint64
	chunkSize uint64
	log       zerolog.Logger
	metrics   *observability.Metrics

	highestBlock atomic.Uint64

	// resumeFrom is the highest block seen when the connection was last
	// lost. It stays frozen until a backfill from it succeeds.
	gapMu      sync.Mutex
	resumeFrom uint64
	gapOpen    bool

	resyncs chan struct{}
}

// SourceOptions contains configuration for creating a LogSource.
type SourceOptions struct {
	WS        chain.WSClient
	Fetcher   LogFetcher // optional; nil disables backfill
	Decoder   Decoder
	Dedup     *Deduplicator
	Addresses []common.Address
	Buffer    int    // Default: 1000
	MaxSpan   uint64 // Default: 5000 blocks per backfill
	ChunkSize uint64 // Default: 1000 blocks per eth_getLogs call
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

// NewLogSource creates a new log source.
func NewLogSource(opts SourceOptions) *LogSource {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1000
	}
	maxSpan := opts.MaxSpan
	if maxSpan == 0 {
		maxSpan = 5000
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = 1000
	}
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewDeduplicator(DefaultDedupCapacity)
	}

	return &LogSource{
		ws:        opts.WS,
		fetcher:   opts.Fetcher,
		decoder:   opts.Decoder,
		dedup:     dedup,
		addresses: opts.Addresses,
		buffer:    buffer,
		maxSpan:   maxSpan,
		chunkSize: chunkSize,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		resyncs:   make(chan struct{}, 1),
	}
}

// Subscribe opens the push subscription and returns a channel of admitted
// events. The channel is closed when the subscription stream ends (client
// closed) or ctx is cancelled.
func (s *LogSource) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	if s.fetcher != nil && s.highestBlock.Load() == 0 {
		// Anchor the first backfill at the subscription head.
		if head, err := s.fetcher.BlockNumber(ctx); err == nil {
			s.observeBlock(head)
		} else {
			s.log.Warn().Err(err).Msg("could not read head block, first backfill starts at first received log")
		}
	}

	records, err := s.ws.SubscribeLogs(ctx, chain.LogsFilter{Addresses: s.addresses})
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
	s.log.Info().Int("addresses", len(s.addresses)).Msg("subscribed to contract logs")

	out := make(chan domain.Event, s.buffer)
	go s.stream(ctx, records, out)

	return out, nil
}

// stream forwards admitted events until the records channel closes or ctx
// is cancelled. Between a disconnect and the following reconnect, live
// records are held back; on reconnect the gap is backfilled and emitted
// first, then the held records, so events leave in chain order.
func (s *LogSource) stream(ctx context.Context, records <-chan domain.LogRecord, out chan<- domain.Event) {
	defer close(out)

	disconnects := s.ws.Disconnects()
	reconnects := s.ws.Reconnects()
	var (
		held    []domain.LogRecord
		holding bool
	)

	for {
		// A pending disconnect wins over queued records so no log of the
		// next connection moves the resume point.
		select {
		case _, ok := <-disconnects:
			if !ok {
				disconnects = nil
				continue
			}
			s.markDisconnected()
			holding = true
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-disconnects:
			if !ok {
				disconnects = nil
				continue
			}
			s.markDisconnected()
			holding = true
		case _, ok := <-reconnects:
			if !ok {
				reconnects = nil
				continue
			}
			if !s.resync(ctx, out, held) {
				return
			}
			held, holding = nil, false
		case rec, ok := <-records:
			if !ok {
				s.log.Debug().Msg("log stream closed")
				return
			}
			// Both were ready; the record may already be from the next
			// connection.
			if !holding && disconnects != nil {
				select {
				case _, ok := <-disconnects:
					if ok {
						s.markDisconnected()
						holding = true
					} else {
						disconnects = nil
					}
				default:
				}
			}
			if holding {
				held = append(held, rec)
				if len(held) < s.buffer {
					continue
				}
				// The reconnect signal is late; records are flowing, so
				// the new subscription is live.
				s.log.Warn().Int("held", len(held)).Msg("resyncing before reconnect signal")
				if !s.resync(ctx, out, held) {
					return
				}
				held, holding = nil, false
				continue
			}
			if !s.forward(ctx, out, rec) {
				return
			}
		}
	}
}

// resync backfills the outage gap, emits the recovered events, then the
// held live records. It returns false when ctx is cancelled.
func (s *LogSource) resync(ctx context.Context, out chan<- domain.Event, held []domain.LogRecord) bool {
	res, err := s.Backfill(ctx)
	switch {
	case errors.Is(err, ErrBackfillDisabled):
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		s.log.Warn().Err(err).Msg("backfill failed, gap left to reconciliation")
	default:
		for _, ev := range res.Events {
			if !send(ctx, out, ev) {
				return false
			}
		}
	}

	for _, rec := range held {
		if !s.forward(ctx, out, rec) {
			return false
		}
	}

	select {
	case s.resyncs <- struct{}{}:
	default:
	}
	return true
}

func (s *LogSource) forward(ctx context.Context, out chan<- domain.Event, rec domain.LogRecord) bool {
	ev, admitted := s.Process(rec)
	if !admitted {
		return true
	}
	return send(ctx, out, ev)
}

func send(ctx context.Context, out chan<- domain.Event, ev domain.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Resyncs signals after every reconnect once the gap has been handled and
// the recovered events queued. Signals coalesce.
func (s *LogSource) Resyncs() <-chan struct{} {
	return s.resyncs
}

// markDisconnected freezes the resume point. Repeated losses before a
// successful backfill keep the earliest point.
func (s *LogSource) markDisconnected() {
	s.gapMu.Lock()
	defer s.gapMu.Unlock()
	if s.gapOpen {
		return
	}
	s.resumeFrom = s.highestBlock.Load()
	s.gapOpen = true
	s.log.Info().Uint64("resume_from", s.resumeFrom).Msg("push stream lost, resume point frozen")
}

// resumePoint returns the block a backfill starts from and whether it was
// frozen by a disconnect.
func (s *LogSource) resumePoint() (uint64, bool) {
	s.gapMu.Lock()
	defer s.gapMu.Unlock()
	if s.gapOpen {
		return s.resumeFrom, true
	}
	return s.highestBlock.Load(), false
}

func (s *LogSource) closeGap() {
	s.gapMu.Lock()
	s.gapOpen = false
	s.resumeFrom = 0
	s.gapMu.Unlock()
}

// Process decodes and deduplicates one raw log. It returns the event and
// true only the first time the event's identity is seen.
func (s *LogSource) Process(rec domain.LogRecord) (domain.Event, bool) {
	s.metrics.RecordLogReceived()
	s.observeBlock(rec.BlockNumber)

	ev, err := s.decoder.Decode(rec)
	if err != nil {
		reason := DropDecodeError
		if errors.Is(err, codec.ErrUnknownFeedIdentifier) {
			reason = DropUnknownFeed
		}
		s.metrics.RecordDropped(reason)
		s.log.Warn().
			Err(err).
			Str("reason", reason).
			Str("address", rec.Address.Hex()).
			Str("tx", rec.TxHash.Hex()).
			Uint("log_index", rec.LogIndex).
			Msg("dropping log")
		return nil, false
	}
	if ev == nil {
		return nil, false
	}
	s.metrics.RecordDecoded(string(ev.Kind()))

	if !s.dedup.Admit(ev.Key()) {
		s.metrics.RecordDuplicate()
		s.log.Debug().Str("key", ev.Key().String()).Msg("duplicate event suppressed")
		return nil, false
	}
	return ev, true
}

// HighestBlock returns the highest block number observed so far.
func (s *LogSource) HighestBlock() uint64 {
	return s.highestBlock.Load()
}

func (s *LogSource) observeBlock(block uint64) {
	for {
		cur := s.highestBlock.Load()
		if block <= cur {
			return
		}
		if s.highestBlock.CompareAndSwap(cur, block) {
			s.metrics.UpdateHighestBlock(block)
			return
		}
	}
}
