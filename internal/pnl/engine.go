package pnl

import (
	"errors"
	"math/big"

	"github.com/rs/zerolog"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/observability"
)

// PositionSource exposes the positions PnL is derived for.
// Implemented by memory.PositionStore.
type PositionSource interface {
	PositionsOnFeed(feed string) []domain.Position
	SetPnL(id uint64, pnl *big.Int) bool
}

// PriceSource exposes the latest price per feed.
// Implemented by memory.PriceFeedStore.
type PriceSource interface {
	Latest(feed string) (domain.PriceTick, bool)
}

// Result is the outcome of recomputing one position.
type Result struct {
	Position domain.Position // CurrentPnL holds the new value on success
	Err      error
}

// Engine recomputes PnL from scratch for every position on a feed.
type Engine struct {
	positions PositionSource
	prices    PriceSource
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// NewEngine creates a PnL engine over the given stores.
func NewEngine(positions PositionSource, prices PriceSource, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		positions: positions,
		prices:    prices,
		log:       log,
		metrics:   metrics,
	}
}

// Recompute derives PnL for every open position on feed at the feed's
// latest price and writes it back. Invalid positions are excluded and
// reported in the result; they never stop the remaining positions.
func (e *Engine) Recompute(feed string) []Result {
	tick, ok := e.prices.Latest(feed)
	if !ok {
		return nil
	}

	positions := e.positions.PositionsOnFeed(feed)
	results := make([]Result, 0, len(positions))
	invalid := 0

	for _, pos := range positions {
		pnl, err := Compute(pos, tick.Price)
		if err != nil {
			invalid++
			e.log.Error().
				Err(err).
				Uint64("position_id", pos.ID).
				Str("trader", pos.Trader.Hex()).
				Str("feed", feed).
				Msg("excluding position from pnl recomputation")
			results = append(results, Result{Position: pos, Err: err})
			continue
		}
		if !e.positions.SetPnL(pos.ID, pnl) {
			// Removed between snapshot and write.
			continue
		}
		pos.CurrentPnL = pnl
		results = append(results, Result{Position: pos})
	}

	e.metrics.RecordPnL(len(results)-invalid, invalid)
	e.log.Debug().
		Str("feed", feed).
		Int("positions", len(positions)).
		Int("invalid", invalid).
		Msg("pnl recomputed")
	return results
}

// Valuate returns the PnL of pos at its feed's latest price, or nil when
// no price is known or the position is invalid. Used when reconciliation
// inserts positions.
func (e *Engine) Valuate(pos domain.Position) *big.Int {
	tick, ok := e.prices.Latest(pos.Feed)
	if !ok {
		return nil
	}
	pnl, err := Compute(pos, tick.Price)
	if err != nil {
		if errors.Is(err, ErrInvalidPosition) {
			e.metrics.RecordInvalidPosition()
			e.log.Error().Err(err).Uint64("position_id", pos.ID).Msg("cannot value position")
		}
		return nil
	}
	return pnl
}
