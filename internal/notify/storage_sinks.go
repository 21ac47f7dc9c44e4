package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/idhash"
	"leverage-sync/internal/observability"
	"leverage-sync/internal/storage"
)

// JournalSink appends every notification to a NotificationJournal.
// Redelivered notifications share an event id and are skipped.
type JournalSink struct {
	journal storage.NotificationJournal
	timeout time.Duration
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewJournalSink creates a journal sink.
func NewJournalSink(journal storage.NotificationJournal, log zerolog.Logger, metrics *observability.Metrics) *JournalSink {
	return &JournalSink{journal: journal, timeout: 5 * time.Second, log: log, metrics: metrics}
}

// Name implements Sink.
func (s *JournalSink) Name() string { return "journal" }

// Run implements Sink.
func (s *JournalSink) Run(ctx context.Context, in <-chan Notification) error {
	for n := range in {
		if err := s.write(ctx, n); err != nil {
			s.metrics.RecordSinkError(s.Name())
			s.log.Warn().Err(err).Str("kind", string(n.Kind)).Msg("journal write failed")
		}
	}
	return nil
}

func (s *JournalSink) write(ctx context.Context, n Notification) error {
	entry, err := JournalEntry(n)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.journal.Insert(wctx, entry)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}

// JournalEntry converts a notification to its journal record.
func JournalEntry(n Notification) (*storage.JournalEntry, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	id := n.EventID
	if id == "" {
		id = n.ID.String()
	}
	// PnL recomputations fan out from one tick, so the tick's event id is
	// shared; qualify it by position.
	if n.Kind == KindPnLRecomputed {
		id = fmt.Sprintf("%s:%d", id, n.PositionID)
	}

	entry := &storage.JournalEntry{
		ID:        id,
		Kind:      string(n.Kind),
		Feed:      n.Feed(),
		Payload:   payload,
		CreatedAt: n.At,
	}
	if n.Kind != KindPriceUpdated {
		entry.Trader = strings.ToLower(n.Trader.Hex())
		pid := n.PositionID
		entry.PositionID = &pid
	}
	return entry, nil
}

// ArchiveSink batches price notifications into a TickArchive.
type ArchiveSink struct {
	archive    storage.TickArchive
	batchSize  int
	flushEvery time.Duration
	log        zerolog.Logger
	metrics    *observability.Metrics
}

// NewArchiveSink creates an archive sink flushing every flushEvery or
// once batchSize ticks are pending.
func NewArchiveSink(archive storage.TickArchive, batchSize int, flushEvery time.Duration, log zerolog.Logger, metrics *observability.Metrics) *ArchiveSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	return &ArchiveSink{
		archive:    archive,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		log:        log,
		metrics:    metrics,
	}
}

// Name implements Sink.
func (s *ArchiveSink) Name() string { return "archive" }

// Run implements Sink. Pending ticks are flushed when the channel closes.
func (s *ArchiveSink) Run(ctx context.Context, in <-chan Notification) error {
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	var pending []*storage.ArchivedTick
	flush := func() {
		if len(pending) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.archive.InsertBulk(fctx, pending); err != nil {
			s.metrics.RecordSinkError(s.Name())
			s.log.Warn().Err(err).Int("ticks", len(pending)).Msg("archive flush failed")
		}
		pending = nil
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case n, ok := <-in:
			if !ok {
				flush()
				return nil
			}
			if n.Kind != KindPriceUpdated || n.Tick == nil {
				continue
			}
			pending = append(pending, ArchivedTick(n))
			if len(pending) >= s.batchSize {
				flush()
			}
		}
	}
}

// ArchivedTick converts a price notification to its archive record.
func ArchivedTick(n Notification) *storage.ArchivedTick {
	t := n.Tick
	price, _ := decimal.NewFromBigInt(t.Price, -domain.PriceDecimals).Float64()
	rec := &storage.ArchivedTick{
		ID:        idhash.ComputeTickID(*t),
		Feed:      t.Feed,
		PriceRaw:  t.Price.String(),
		Price:     price,
		Timestamp: t.Timestamp,
		Block:     n.Block,
	}
	if n.Key != nil {
		rec.TxHash = n.Key.TxHash.Hex()
	}
	return rec
}
