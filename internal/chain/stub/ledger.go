// Package stub provides in-memory implementations of the chain interfaces
// for tests.
package stub

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
)

// Ledger implements chain.LedgerReader over in-memory maps.
type Ledger struct {
	mu        sync.Mutex
	positions map[common.Address]map[uint64]domain.Position
	prices    map[string]domain.PriceTick

	failures int
	failErr  error

	positionReads int
	priceReads    int
	blocks        []uint64
}

var _ chain.LedgerReader = (*Ledger)(nil)

// NewLedger creates an empty stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[common.Address]map[uint64]domain.Position),
		prices:    make(map[string]domain.PriceTick),
	}
}

// SetPosition adds or replaces an open position.
func (l *Ledger) SetPosition(pos domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byID, ok := l.positions[pos.Trader]
	if !ok {
		byID = make(map[uint64]domain.Position)
		l.positions[pos.Trader] = byID
	}
	byID[pos.ID] = pos.Clone()
}

// RemovePosition closes a position.
func (l *Ledger) RemovePosition(trader common.Address, id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions[trader], id)
}

// SetPrice sets the latest tick for a feed.
func (l *Ledger) SetPrice(tick domain.PriceTick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[tick.Feed] = tick.Clone()
}

// FailNext makes the next n reads fail with err.
func (l *Ledger) FailNext(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
	l.failErr = err
}

// Reads returns the number of position and price reads served so far.
func (l *Ledger) Reads() (positions, prices int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionReads, l.priceReads
}

func (l *Ledger) fail() error {
	if l.failures > 0 {
		l.failures--
		return l.failErr
	}
	return nil
}

// ReadBlocks returns the block each position read was pinned to.
func (l *Ledger) ReadBlocks() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// ReadOpenPositions returns the trader's positions ordered by id. The stub
// holds one state, so block is recorded but not used.
func (l *Ledger) ReadOpenPositions(_ context.Context, trader common.Address, block uint64) ([]domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positionReads++
	l.blocks = append(l.blocks, block)
	if err := l.fail(); err != nil {
		return nil, err
	}

	out := make([]domain.Position, 0, len(l.positions[trader]))
	for _, p := range l.positions[trader] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadLatestPrices returns the known ticks for feeds.
func (l *Ledger) ReadLatestPrices(_ context.Context, feeds []string) (map[string]domain.PriceTick, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.priceReads++
	if err := l.fail(); err != nil {
		return nil, err
	}

	out := make(map[string]domain.PriceTick, len(feeds))
	for _, f := range feeds {
		if t, ok := l.prices[f]; ok {
			out[f] = t.Clone()
		}
	}
	return out, nil
}
