package memory

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/storage"
)

// PositionStore holds open positions indexed by id, trader and feed.
// Position terms are never overwritten by lifecycle events; only
// reconciliation may replace them and only SetPnL touches CurrentPnL.
type PositionStore struct {
	mu       sync.RWMutex
	byID     map[uint64]*domain.Position
	byTrader map[common.Address]map[uint64]struct{}
	byFeed   map[string]map[uint64]struct{}
}

// NewPositionStore creates an empty position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		byID:     make(map[uint64]*domain.Position),
		byTrader: make(map[common.Address]map[uint64]struct{}),
		byFeed:   make(map[string]map[uint64]struct{}),
	}
}

// ApplyOpened inserts the position if its id is absent.
// Returns false when the id already exists; the stored copy is left untouched.
func (s *PositionStore) ApplyOpened(pos domain.Position) (bool, error) {
	if err := pos.Validate(); err != nil {
		return false, fmt.Errorf("%w: position %d: %v", storage.ErrInvalidPosition, pos.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[pos.ID]; exists {
		return false, nil
	}
	s.insertLocked(pos.Clone())
	return true, nil
}

// ApplyClosed removes the position. An absent id is not an error.
func (s *PositionStore) ApplyClosed(id uint64) (domain.Position, bool) {
	return s.remove(id)
}

// ApplyLiquidated removes the position. An absent id is not an error.
func (s *PositionStore) ApplyLiquidated(id uint64) (domain.Position, bool) {
	return s.remove(id)
}

func (s *PositionStore) remove(id uint64) (domain.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, false
	}
	s.deleteLocked(pos)
	return *pos, true
}

// Get returns a copy of the position.
func (s *PositionStore) Get(id uint64) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, false
	}
	return pos.Clone(), true
}

// SetPnL replaces the derived PnL of a position. Returns false if absent.
func (s *PositionStore) SetPnL(id uint64, pnl *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok {
		return false
	}
	if pnl == nil {
		pos.CurrentPnL = nil
	} else {
		pos.CurrentPnL = new(big.Int).Set(pnl)
	}
	return true
}

// SnapshotForTrader returns copies of the trader's positions ordered by id.
func (s *PositionStore) SnapshotForTrader(trader common.Address) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectLocked(s.byTrader[trader])
}

// PositionsOnFeed returns copies of all positions on a feed ordered by id.
func (s *PositionStore) PositionsOnFeed(feed string) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectLocked(s.byFeed[feed])
}

// All returns copies of every open position ordered by id.
func (s *PositionStore) All() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Position, 0, len(s.byID))
	for _, pos := range s.byID {
		out = append(out, pos.Clone())
	}
	sortByID(out)
	return out
}

// Traders returns every trader with at least one open position.
func (s *PositionStore) Traders() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Address, 0, len(s.byTrader))
	for trader := range s.byTrader {
		out = append(out, trader)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Len returns the number of open positions.
func (s *PositionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Reconcile makes the trader's local positions match the authoritative set.
// Missing positions are inserted with PnL from valuate, extra positions are
// removed, and positions whose terms differ are replaced. Ids for which skip
// reports true are left as they are on both sides. Reconciling against a set
// equal to the current snapshot changes nothing.
func (s *PositionStore) Reconcile(trader common.Address, authoritative []domain.Position, valuate storage.Valuator, skip func(id uint64) bool) storage.ReconcileResult {
	if skip == nil {
		skip = func(uint64) bool { return false }
	}

	var res storage.ReconcileResult

	want := make(map[uint64]domain.Position, len(authoritative))
	for _, pos := range authoritative {
		if err := pos.Validate(); err != nil {
			res.Rejected = append(res.Rejected, pos.Clone())
			continue
		}
		want[pos.ID] = pos
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.byTrader[trader] {
		if _, ok := want[id]; ok || skip(id) {
			continue
		}
		pos := s.byID[id]
		s.deleteLocked(pos)
		res.Removed = append(res.Removed, *pos)
	}

	for id, auth := range want {
		if skip(id) {
			continue
		}
		local, exists := s.byID[id]
		if exists && local.SameTerms(auth) {
			continue
		}

		fresh := auth.Clone()
		fresh.CurrentPnL = nil
		if valuate != nil {
			fresh.CurrentPnL = valuate(fresh)
		}

		if exists {
			s.deleteLocked(local)
			s.insertLocked(fresh)
			res.Replaced = append(res.Replaced, fresh.Clone())
			continue
		}
		s.insertLocked(fresh)
		res.Inserted = append(res.Inserted, fresh.Clone())
	}

	sortByID(res.Inserted)
	sortByID(res.Removed)
	sortByID(res.Replaced)
	sortByID(res.Rejected)
	return res
}

func (s *PositionStore) insertLocked(pos domain.Position) {
	p := &pos
	s.byID[p.ID] = p
	addIndex(s.byTrader, p.Trader, p.ID)
	addIndex(s.byFeed, p.Feed, p.ID)
}

func (s *PositionStore) deleteLocked(p *domain.Position) {
	delete(s.byID, p.ID)
	removeIndex(s.byTrader, p.Trader, p.ID)
	removeIndex(s.byFeed, p.Feed, p.ID)
}

func (s *PositionStore) collectLocked(ids map[uint64]struct{}) []domain.Position {
	out := make([]domain.Position, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	sortByID(out)
	return out
}

func addIndex[K comparable](idx map[K]map[uint64]struct{}, key K, id uint64) {
	set, ok := idx[key]
	if !ok {
		set = make(map[uint64]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex[K comparable](idx map[K]map[uint64]struct{}, key K, id uint64) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortByID(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
