package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
	"leverage-sync/internal/idhash"
	"leverage-sync/internal/notify"
	"leverage-sync/internal/pnl"
	"leverage-sync/internal/reconcile"
	"leverage-sync/internal/storage"
)

var _ reconcile.Applier = (*Engine)(nil)

// Apply applies one admitted event to the stores and publishes the
// resulting notifications. Events must already be deduplicated.
func (e *Engine) Apply(ev domain.Event) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	switch ev := ev.(type) {
	case *domain.PriceUpdated:
		e.applyPrice(ev)
	case *domain.PositionOpened:
		e.touch(ev.Position.ID, ev.BlockNumber)
		e.applyOpened(ev)
	case *domain.PositionClosed:
		e.touch(ev.PositionID, ev.BlockNumber)
		e.applyRemoved(ev.Key(), ev.BlockNumber, ev.PositionID, ev.PnL, ev.ExitPrice)
	case *domain.PositionLiquidated:
		e.touch(ev.PositionID, ev.BlockNumber)
		e.applyRemoved(ev.Key(), ev.BlockNumber, ev.PositionID, nil, ev.ExitPrice)
	default:
		e.log.Warn().Str("kind", string(ev.Kind())).Msg("unhandled event kind")
	}
}

func (e *Engine) touch(id, block uint64) {
	if e.touched == nil {
		return
	}
	if block > e.touched[id] {
		e.touched[id] = block
	}
}

func (e *Engine) applyPrice(ev *domain.PriceUpdated) {
	key := ev.Key()
	if !e.updatePrice(ev.Tick) {
		return
	}

	eventID := idhash.ComputeEventID(key)
	tick := ev.Tick
	e.bus.Publish(notify.Notification{
		EventID: eventID,
		Kind:    notify.KindPriceUpdated,
		Origin:  notify.OriginStream,
		Key:     &key,
		Block:   ev.BlockNumber,
		Tick:    &tick,
	})
	e.recompute(tick.Feed, notify.OriginStream, eventID, 0)
}

// updatePrice offers a tick to the store and reports whether it became
// the latest price.
func (e *Engine) updatePrice(tick domain.PriceTick) bool {
	res := e.prices.Update(tick)

	price := 0.0
	if tick.Price != nil {
		price, _ = decimal.NewFromBigInt(tick.Price, -domain.PriceDecimals).Float64()
	}
	e.metrics.RecordPriceUpdate(tick.Feed, res.String(), price)

	switch res {
	case storage.UpdateAccepted:
		return true
	case storage.UpdateInvalid:
		e.log.Warn().Str("feed", tick.Feed).Int64("timestamp", tick.Timestamp).Msg("invalid price tick ignored")
	default:
		e.log.Debug().
			Str("feed", tick.Feed).
			Int64("timestamp", tick.Timestamp).
			Str("result", res.String()).
			Msg("price tick not applied")
	}
	return false
}

// recompute refreshes PnL on feed and publishes one notification per
// revalued position.
func (e *Engine) recompute(feed string, origin notify.Origin, eventID string, cycle uint64) {
	for _, r := range e.pnl.Recompute(feed) {
		if r.Err != nil {
			continue
		}
		pos := r.Position
		e.bus.Publish(notify.Notification{
			EventID:    eventID,
			Kind:       notify.KindPnLRecomputed,
			Origin:     origin,
			Cycle:      cycle,
			Trader:     pos.Trader,
			PositionID: pos.ID,
			Position:   &pos,
			PnL:        pos.CurrentPnL,
		})
	}
}

func (e *Engine) applyOpened(ev *domain.PositionOpened) {
	pos := ev.Position
	inserted, err := e.positions.ApplyOpened(pos)
	if err != nil {
		e.metrics.RecordInvalidPosition()
		e.log.Error().
			Err(err).
			Uint64("position_id", pos.ID).
			Str("trader", pos.Trader.Hex()).
			Msg("rejecting opened position")
		return
	}
	if !inserted {
		e.log.Debug().Uint64("position_id", pos.ID).Msg("position already open, open event ignored")
		return
	}
	if e.autoTrack {
		e.Track(pos.Trader)
	}

	if v := e.pnl.Valuate(pos); v != nil {
		e.positions.SetPnL(pos.ID, v)
	}
	stored, _ := e.positions.Get(pos.ID)

	key := ev.Key()
	e.bus.Publish(notify.Notification{
		EventID:    idhash.ComputeEventID(key),
		Kind:       notify.KindPositionOpened,
		Origin:     notify.OriginStream,
		Key:        &key,
		Block:      ev.BlockNumber,
		Trader:     stored.Trader,
		PositionID: stored.ID,
		Position:   &stored,
		PnL:        stored.CurrentPnL,
	})
	e.metrics.SetPositionsOpen(e.positions.Len())
}

// applyRemoved handles both close variants. A close for a position the
// store never saw is expected during cold start and ignored.
func (e *Engine) applyRemoved(key domain.EventKey, block, id uint64, realized, exit *big.Int) {
	var (
		pos domain.Position
		ok  bool
	)
	if key.Kind == domain.KindPositionLiquidated {
		pos, ok = e.positions.ApplyLiquidated(id)
	} else {
		pos, ok = e.positions.ApplyClosed(id)
	}
	if !ok {
		e.log.Debug().Uint64("position_id", id).Str("kind", string(key.Kind)).Msg("close for unknown position ignored")
		return
	}

	// Liquidations carry no realized PnL; value the position at the exit price.
	if realized == nil && exit != nil {
		if v, err := pnl.Compute(pos, exit); err == nil {
			realized = v
		}
	}
	if realized == nil {
		realized = pos.CurrentPnL
	}

	e.bus.Publish(notify.Notification{
		EventID:    idhash.ComputeEventID(key),
		Kind:       notify.Kind(key.Kind),
		Origin:     notify.OriginStream,
		Key:        &key,
		Block:      block,
		Trader:     pos.Trader,
		PositionID: pos.ID,
		Position:   &pos,
		PnL:        realized,
		ExitPrice:  exit,
	})
	e.metrics.SetPositionsOpen(e.positions.Len())
}

// ApplyAuthoritativePrices implements reconcile.Applier.
func (e *Engine) ApplyAuthoritativePrices(ticks []domain.PriceTick, cycle uint64) int {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	applied := 0
	for _, tick := range ticks {
		if !e.updatePrice(tick) {
			continue
		}
		applied++

		eventID := idhash.ComputeReconcileID(string(notify.KindPriceUpdated)+":"+tick.Feed, 0, cycle)
		t := tick.Clone()
		e.bus.Publish(notify.Notification{
			EventID: eventID,
			Kind:    notify.KindPriceUpdated,
			Origin:  notify.OriginReconcile,
			Cycle:   cycle,
			Tick:    &t,
		})
		e.recompute(tick.Feed, notify.OriginReconcile, eventID, cycle)
	}
	return applied
}

// ApplyAuthoritativePositions implements reconcile.Applier. Inserted and
// replaced positions are announced as opened, removed ones as closed.
// Positions the push stream changed after asOf are newer than the read and
// are left alone.
func (e *Engine) ApplyAuthoritativePositions(trader common.Address, positions []domain.Position, asOf, cycle uint64) storage.ReconcileResult {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	var skip func(id uint64) bool
	if asOf != chain.Latest && e.touched != nil {
		skip = func(id uint64) bool { return e.touched[id] > asOf }
	}
	res := e.positions.Reconcile(trader, positions, e.pnl.Valuate, skip)
	if skip != nil {
		for id, block := range e.touched {
			if block <= asOf {
				delete(e.touched, id)
			}
		}
	}

	for _, pos := range res.Rejected {
		e.metrics.RecordInvalidPosition()
		e.log.Error().
			Uint64("position_id", pos.ID).
			Str("trader", trader.Hex()).
			Msg("authoritative position invalid, skipped")
	}
	for _, pos := range res.Removed {
		e.publishReconciled(notify.KindPositionClosed, pos, cycle)
	}
	for _, pos := range res.Inserted {
		e.publishReconciled(notify.KindPositionOpened, pos, cycle)
	}
	for _, pos := range res.Replaced {
		e.publishReconciled(notify.KindPositionOpened, pos, cycle)
	}

	if res.Divergent() {
		e.metrics.SetPositionsOpen(e.positions.Len())
	}
	return res
}

func (e *Engine) publishReconciled(kind notify.Kind, pos domain.Position, cycle uint64) {
	p := pos
	e.bus.Publish(notify.Notification{
		EventID:    idhash.ComputeReconcileID(string(kind), pos.ID, cycle),
		Kind:       kind,
		Origin:     notify.OriginReconcile,
		Cycle:      cycle,
		Trader:     pos.Trader,
		PositionID: pos.ID,
		Position:   &p,
		PnL:        pos.CurrentPnL,
	})
}
