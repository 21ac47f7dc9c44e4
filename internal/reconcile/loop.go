// Package reconcile periodically merges authoritative ledger reads into
// the push-derived state.
package reconcile

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
	"leverage-sync/internal/observability"
	"leverage-sync/internal/storage"
)

// Default configuration values.
const (
	DefaultInterval            = 10 * time.Second
	DefaultDivergenceThreshold = 3
	DefaultMaxAttempts         = 3
)

// Applier writes authoritative data into engine state. Implementations
// serialize these writes with the push path.
type Applier interface {
	// ApplyAuthoritativePrices offers ticks to the price store and returns
	// how many became the latest price.
	ApplyAuthoritativePrices(ticks []domain.PriceTick, cycle uint64) int

	// ApplyAuthoritativePositions reconciles one trader against positions
	// read as of block asOf. asOf is chain.Latest when the read was not
	// pinned.
	ApplyAuthoritativePositions(trader common.Address, positions []domain.Position, asOf, cycle uint64) storage.ReconcileResult
}

// HeadReader reports the current head block.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// TraderSource returns the traders to reconcile this cycle.
type TraderSource func() []common.Address

// Options contains configuration for creating a Loop.
type Options struct {
	Reader              chain.LedgerReader
	Head                HeadReader // optional; nil reads positions at latest
	Applier             Applier
	Traders             TraderSource
	Feeds               []string
	Interval            time.Duration // Default: 10s
	DivergenceThreshold int           // Default: 3 consecutive cycles
	MaxAttempts         int           // Default: 3 attempts per read
	RetryBackoff        chain.Backoff // Default: 250ms base, 2s cap
	Health              *observability.HealthChecker
	Logger              zerolog.Logger
	Metrics             *observability.Metrics
}

// TraderReport is the outcome of reconciling one trader.
type TraderReport struct {
	Trader common.Address
	Result storage.ReconcileResult
	Err    error
	// Consecutive is the number of consecutive divergent cycles so far.
	Consecutive int
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	Cycle uint64
	// AsOf is the block every position read of the cycle was pinned to,
	// or chain.Latest.
	AsOf          uint64
	PricesApplied int
	PriceErr      error
	Traders       []TraderReport
	Escalated     []*DivergenceError
	Duration      time.Duration
}

// Err joins every read failure of the cycle.
func (r CycleReport) Err() error {
	errs := []error{r.PriceErr}
	for _, t := range r.Traders {
		if t.Err != nil {
			errs = append(errs, fmt.Errorf("trader %s: %w", t.Trader.Hex(), t.Err))
		}
	}
	return errors.Join(errs...)
}

// Divergent returns the number of traders whose state was corrected.
func (r CycleReport) Divergent() int {
	n := 0
	for _, t := range r.Traders {
		if t.Err == nil && t.Result.Divergent() {
			n++
		}
	}
	return n
}

// Loop runs reconciliation cycles on an interval and on demand.
type Loop struct {
	reader      chain.LedgerReader
	head        HeadReader
	applier     Applier
	traders     TraderSource
	feeds       []string
	interval    time.Duration
	threshold   int
	maxAttempts int
	backoff     chain.Backoff
	health      *observability.HealthChecker
	log         zerolog.Logger
	metrics     *observability.Metrics

	trigger chan struct{}
	cycle   atomic.Uint64

	runMu      sync.Mutex // one cycle at a time
	divergence map[common.Address]int
}

// New creates a reconciliation loop.
func New(opts Options) *Loop {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	threshold := opts.DivergenceThreshold
	if threshold <= 0 {
		threshold = DefaultDivergenceThreshold
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := opts.RetryBackoff
	if backoff.Base == 0 {
		backoff = chain.NewBackoff(250*time.Millisecond, 2*time.Second)
	}
	traders := opts.Traders
	if traders == nil {
		traders = func() []common.Address { return nil }
	}

	return &Loop{
		reader:      opts.Reader,
		head:        opts.Head,
		applier:     opts.Applier,
		traders:     traders,
		feeds:       opts.Feeds,
		interval:    interval,
		threshold:   threshold,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		health:      opts.Health,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		trigger:     make(chan struct{}, 1),
		divergence:  make(map[common.Address]int),
	}
}

// Run executes a cycle immediately and then on every interval tick or
// Trigger call. It blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("interval", l.interval).Msg("reconciliation loop started")

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			l.log.Info().Msg("reconciliation loop stopped")
			return nil
		}
		l.RunCycle(ctx)

		select {
		case <-ctx.Done():
			l.log.Info().Msg("reconciliation loop stopped")
			return nil
		case <-ticker.C:
		case <-l.trigger:
		}
	}
}

// Trigger requests an immediate cycle. Requests made while one is
// already pending are coalesced.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// RunCycle performs one reconciliation: prices first, so positions
// inserted afterwards are valued at the healed prices, then every tracked
// trader. Read failures are retried when transient and otherwise leave
// the affected state untouched until the next cycle.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	start := time.Now()
	report := CycleReport{Cycle: l.cycle.Add(1)}

	if len(l.feeds) > 0 {
		var ticks map[string]domain.PriceTick
		report.PriceErr = l.withRetry(ctx, "read prices", func(ctx context.Context) error {
			var err error
			ticks, err = l.reader.ReadLatestPrices(ctx, l.feeds)
			return err
		})
		if report.PriceErr == nil {
			report.PricesApplied = l.applier.ApplyAuthoritativePrices(sortedTicks(ticks), report.Cycle)
		} else {
			l.log.Warn().Err(report.PriceErr).Uint64("cycle", report.Cycle).Msg("price read failed")
		}
	}

	report.AsOf = l.pinBlock(ctx, report.Cycle)

	traders := l.traders()
	active := make(map[common.Address]struct{}, len(traders))
	for _, trader := range traders {
		if ctx.Err() != nil {
			break
		}
		active[trader] = struct{}{}
		report.Traders = append(report.Traders, l.reconcileTrader(ctx, trader, report.Cycle, &report))
	}
	l.forgetInactive(active)

	report.Duration = time.Since(start)
	l.finish(report)
	return report
}

// pinBlock reads the head block all position reads of the cycle are taken
// at. On failure the reads fall back to latest.
func (l *Loop) pinBlock(ctx context.Context, cycle uint64) uint64 {
	if l.head == nil {
		return chain.Latest
	}
	var head uint64
	err := l.withRetry(ctx, "read head", func(ctx context.Context) error {
		var err error
		head, err = l.head.BlockNumber(ctx)
		return err
	})
	if err != nil {
		l.log.Warn().Err(err).Uint64("cycle", cycle).Msg("head read failed, reading positions at latest")
		return chain.Latest
	}
	return head
}

func (l *Loop) reconcileTrader(ctx context.Context, trader common.Address, cycle uint64, report *CycleReport) TraderReport {
	tr := TraderReport{Trader: trader}

	var positions []domain.Position
	tr.Err = l.withRetry(ctx, "read positions", func(ctx context.Context) error {
		var err error
		positions, err = l.reader.ReadOpenPositions(ctx, trader, report.AsOf)
		return err
	})
	if tr.Err != nil {
		l.log.Warn().Err(tr.Err).Str("trader", trader.Hex()).Msg("position read failed")
		tr.Consecutive = l.divergence[trader]
		return tr
	}

	tr.Result = l.applier.ApplyAuthoritativePositions(trader, positions, report.AsOf, cycle)
	for _, rejected := range tr.Result.Rejected {
		l.log.Error().
			Str("trader", trader.Hex()).
			Uint64("position_id", rejected.ID).
			Msg("authoritative position failed validation")
	}

	if !tr.Result.Divergent() {
		if l.divergence[trader] >= l.threshold {
			l.log.Info().Str("trader", trader.Hex()).Msg("divergence resolved")
		}
		delete(l.divergence, trader)
		l.clearHealth(trader)
		return tr
	}

	l.divergence[trader]++
	tr.Consecutive = l.divergence[trader]
	l.log.Info().
		Str("trader", trader.Hex()).
		Int("inserted", len(tr.Result.Inserted)).
		Int("removed", len(tr.Result.Removed)).
		Int("replaced", len(tr.Result.Replaced)).
		Int("consecutive", tr.Consecutive).
		Msg("reconciliation divergence")

	if tr.Consecutive >= l.threshold {
		derr := &DivergenceError{
			Trader:   trader,
			Cycles:   tr.Consecutive,
			Inserted: len(tr.Result.Inserted),
			Removed:  len(tr.Result.Removed),
			Replaced: len(tr.Result.Replaced),
		}
		report.Escalated = append(report.Escalated, derr)
		if tr.Consecutive == l.threshold {
			l.log.Warn().Err(derr).Msg("divergence persists, push stream may be stuck")
		}
		if l.health != nil {
			l.health.SetDegraded(healthKey(trader), derr.Error())
		}
	}
	return tr
}

// forgetInactive drops counters for traders no longer tracked.
func (l *Loop) forgetInactive(active map[common.Address]struct{}) {
	for trader := range l.divergence {
		if _, ok := active[trader]; !ok {
			delete(l.divergence, trader)
			l.clearHealth(trader)
		}
	}
}

func (l *Loop) clearHealth(trader common.Address) {
	if l.health != nil {
		l.health.ClearDegraded(healthKey(trader))
	}
}

func (l *Loop) finish(report CycleReport) {
	inserted, removed := 0, 0
	for _, t := range report.Traders {
		inserted += len(t.Result.Inserted) + len(t.Result.Replaced)
		removed += len(t.Result.Removed) + len(t.Result.Replaced)
	}

	err := report.Err()
	status := "ok"
	switch {
	case err == nil:
	case (report.PriceErr != nil || len(l.feeds) == 0) && allFailed(report.Traders):
		status = "failed"
	default:
		status = "partial"
	}

	l.metrics.RecordReconcileCycle(status, report.Duration.Seconds(), inserted, removed)
	l.metrics.SetDivergentTraders(len(report.Escalated))

	if err == nil {
		l.metrics.MarkReconcileSuccess(time.Now().Unix())
		if l.health != nil && !l.health.IsReady() {
			l.health.SetReady(true)
			l.log.Info().Uint64("cycle", report.Cycle).Msg("first reconciliation complete, ready")
		}
	}

	l.log.Debug().
		Uint64("cycle", report.Cycle).
		Str("status", status).
		Int("traders", len(report.Traders)).
		Int("divergent", report.Divergent()).
		Int("prices_applied", report.PricesApplied).
		Dur("duration", report.Duration).
		Msg("reconciliation cycle")
}

// withRetry runs fn, retrying transient failures with jittered backoff.
func (l *Loop) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !chain.IsTransient(err) || attempt+1 >= l.maxAttempts {
			return err
		}

		delay := l.backoff.Delay(attempt)
		l.log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying read")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func allFailed(traders []TraderReport) bool {
	for _, t := range traders {
		if t.Err == nil {
			return false
		}
	}
	return true
}

func sortedTicks(ticks map[string]domain.PriceTick) []domain.PriceTick {
	out := make([]domain.PriceTick, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feed < out[j].Feed })
	return out
}
