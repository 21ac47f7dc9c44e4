// Package engine wires ingestion, the in-memory stores, PnL derivation,
// reconciliation and outbound notifications into one running system.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
	"leverage-sync/internal/ingestion"
	"leverage-sync/internal/notify"
	"leverage-sync/internal/observability"
	"leverage-sync/internal/pnl"
	"leverage-sync/internal/reconcile"
	"leverage-sync/internal/storage/memory"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrClosed is returned when Start is called after Close.
	ErrClosed = errors.New("engine closed")
)

// Options contains configuration for creating an Engine.
type Options struct {
	WS        chain.WSClient
	Fetcher   ingestion.LogFetcher // optional; nil disables gap backfill
	Reader    chain.LedgerReader
	Decoder   ingestion.Decoder
	Addresses []common.Address // contracts to subscribe to
	Feeds     []string         // feeds read during reconciliation

	Traders   []common.Address // always tracked
	AutoTrack bool             // track every trader seen opening a position

	DedupCapacity       int           // Default: 500
	HistoryCapacity     int           // Default: 50
	RecentEvents        int           // Default: 50
	ReconcileInterval   time.Duration // Default: 10s
	DivergenceThreshold int           // Default: 3
	ReadBackoff         chain.Backoff // retry backoff for authoritative reads

	Health  *observability.HealthChecker
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Engine keeps a local mirror of prices and positions in sync with the
// chain. Every state transition, from the push stream or from
// reconciliation, runs under applyMu.
type Engine struct {
	ws        chain.WSClient
	source    *ingestion.LogSource
	positions *memory.PositionStore
	prices    *memory.PriceFeedStore
	pnl       *pnl.Engine
	loop      *reconcile.Loop
	bus       *notify.Bus
	autoTrack bool
	log       zerolog.Logger
	metrics   *observability.Metrics

	applyMu sync.Mutex
	// touched maps position ids to the last block a push event changed
	// them at. Only kept when reconciliation reads are pinned.
	touched map[uint64]uint64

	trackMu sync.RWMutex
	tracked map[common.Address]struct{}

	started   atomic.Bool
	closed    atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates an engine. Nothing runs until Start.
func New(opts Options) *Engine {
	historyCap := opts.HistoryCapacity
	if historyCap <= 0 {
		historyCap = memory.DefaultHistoryCapacity
	}
	dedupCap := opts.DedupCapacity
	if dedupCap <= 0 {
		dedupCap = ingestion.DefaultDedupCapacity
	}
	recentCap := opts.RecentEvents
	if recentCap <= 0 {
		recentCap = notify.DefaultRecentCapacity
	}

	e := &Engine{
		ws:        opts.WS,
		positions: memory.NewPositionStore(),
		prices:    memory.NewPriceFeedStore(historyCap),
		autoTrack: opts.AutoTrack,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		tracked:   make(map[common.Address]struct{}, len(opts.Traders)),
	}
	if opts.Fetcher != nil {
		e.touched = make(map[uint64]uint64)
	}
	for _, t := range opts.Traders {
		e.tracked[t] = struct{}{}
	}

	e.bus = notify.NewBus(recentCap, opts.Logger.With().Str("module", "bus").Logger(), opts.Metrics)
	e.pnl = pnl.NewEngine(e.positions, e.prices, opts.Logger.With().Str("module", "pnl").Logger(), opts.Metrics)
	e.source = ingestion.NewLogSource(ingestion.SourceOptions{
		WS:        opts.WS,
		Fetcher:   opts.Fetcher,
		Decoder:   opts.Decoder,
		Dedup:     ingestion.NewDeduplicator(dedupCap),
		Addresses: opts.Addresses,
		Logger:    opts.Logger.With().Str("module", "ingestion").Logger(),
		Metrics:   opts.Metrics,
	})
	e.loop = reconcile.New(reconcile.Options{
		Reader:              opts.Reader,
		Head:                opts.Fetcher,
		Applier:             e,
		Traders:             e.Tracked,
		Feeds:               opts.Feeds,
		Interval:            opts.ReconcileInterval,
		DivergenceThreshold: opts.DivergenceThreshold,
		RetryBackoff:        opts.ReadBackoff,
		Health:              opts.Health,
		Logger:              opts.Logger.With().Str("module", "reconcile").Logger(),
		Metrics:             opts.Metrics,
	})
	return e
}

// Start subscribes to the push stream and launches the event consumer,
// the reconciliation loop and the reconnect watcher. It returns once the
// subscription is established.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, err := e.source.Subscribe(runCtx)
	if err != nil {
		cancel()
		e.started.Store(false)
		return fmt.Errorf("start engine: %w", err)
	}
	e.cancel = cancel

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.consume(events)
	}()
	go func() {
		defer e.wg.Done()
		_ = e.loop.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.watchReconnects(runCtx)
	}()

	e.log.Info().
		Int("tracked_traders", len(e.Tracked())).
		Bool("auto_track", e.autoTrack).
		Msg("engine started")
	return nil
}

func (e *Engine) consume(events <-chan domain.Event) {
	for ev := range events {
		e.Apply(ev)
	}
	e.log.Debug().Msg("event stream ended")
}

// watchReconnects triggers a reconciliation once the log source has
// backfilled the outage gap after a reconnect.
func (e *Engine) watchReconnects(ctx context.Context) {
	resyncs := e.source.Resyncs()
	for {
		select {
		case <-ctx.Done():
			return
		case <-resyncs:
			e.log.Info().Msg("push stream resynced, triggering reconciliation")
			e.loop.Trigger()
		}
	}
}

// Close stops the engine: the push subscription first, then the
// reconciliation loop. It returns after in-flight state transitions
// finish and the notification bus is closed. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.ws != nil {
			e.closeErr = e.ws.Close()
		}
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()

		e.applyMu.Lock()
		e.bus.Close()
		e.applyMu.Unlock()

		e.log.Info().Msg("engine stopped")
	})
	return e.closeErr
}

// Subscribe returns a read-only notification stream. A subscriber that
// falls more than buffer notifications behind misses the overflow.
func (e *Engine) Subscribe(name string, buffer int) (<-chan notify.Notification, error) {
	return e.bus.Subscribe(name, buffer)
}

// Bus exposes the notification bus for sink wiring.
func (e *Engine) Bus() *notify.Bus { return e.bus }

// Recent returns up to limit recent notifications, oldest first.
func (e *Engine) Recent(limit int) []notify.Notification {
	return e.bus.Recent(limit)
}

// Track adds a trader to the reconciliation set.
func (e *Engine) Track(trader common.Address) {
	e.trackMu.Lock()
	defer e.trackMu.Unlock()
	if _, ok := e.tracked[trader]; ok {
		return
	}
	e.tracked[trader] = struct{}{}
	e.log.Debug().Str("trader", trader.Hex()).Msg("tracking trader")
}

// Tracked returns the tracked traders in address order.
func (e *Engine) Tracked() []common.Address {
	e.trackMu.RLock()
	out := make([]common.Address, 0, len(e.tracked))
	for t := range e.tracked {
		out = append(out, t)
	}
	e.trackMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Positions returns the trader's open positions ordered by id.
func (e *Engine) Positions(trader common.Address) []domain.Position {
	return e.positions.SnapshotForTrader(trader)
}

// LatestPrice returns the latest accepted tick for feed.
func (e *Engine) LatestPrice(feed string) (domain.PriceTick, bool) {
	return e.prices.Latest(feed)
}

// PriceHistory returns the retained ticks for feed, oldest first.
func (e *Engine) PriceHistory(feed string) []domain.PriceTick {
	return e.prices.History(feed)
}

// Reconcile runs one reconciliation cycle now and waits for it.
func (e *Engine) Reconcile(ctx context.Context) reconcile.CycleReport {
	return e.loop.RunCycle(ctx)
}

// ConnState reports the push connection state.
func (e *Engine) ConnState() chain.ConnState {
	return e.ws.State()
}
