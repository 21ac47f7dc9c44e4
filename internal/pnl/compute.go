// Package pnl derives unrealized profit and loss for open positions.
package pnl

import (
	"errors"
	"fmt"
	"math/big"

	"leverage-sync/internal/domain"
)

var (
	// ErrInvalidPosition is returned for positions whose terms make PnL
	// undefined (non-positive amount, entry price or leverage).
	ErrInvalidPosition = errors.New("invalid position")

	// ErrInvalidPrice is returned for a nil or non-positive current price.
	ErrInvalidPrice = errors.New("invalid price")
)

var leveragePrecision = big.NewInt(domain.LeveragePrecision)

// Compute returns the position's unrealized PnL at price, in the amount's
// 6-decimal scale:
//
//	amount * (price - entry) * leverage / (entry * 10000)   for longs
//	amount * (entry - price) * leverage / (entry * 10000)   for shorts
//
// The quotient is rounded away from zero so any price move produces a
// non-zero PnL whose sign matches the move.
func Compute(pos domain.Position, price *big.Int) (*big.Int, error) {
	if pos.EntryPrice == nil || pos.EntryPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: position %d: entry price must be positive", ErrInvalidPosition, pos.ID)
	}
	if pos.Amount == nil || pos.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: position %d: amount must be positive", ErrInvalidPosition, pos.ID)
	}
	if pos.Leverage == 0 {
		return nil, fmt.Errorf("%w: position %d: leverage must be positive", ErrInvalidPosition, pos.ID)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}

	delta := new(big.Int)
	switch pos.Direction {
	case domain.Long:
		delta.Sub(price, pos.EntryPrice)
	case domain.Short:
		delta.Sub(pos.EntryPrice, price)
	default:
		return nil, fmt.Errorf("%w: position %d: unknown direction %q", ErrInvalidPosition, pos.ID, pos.Direction)
	}

	num := new(big.Int).Mul(pos.Amount, delta)
	num.Mul(num, new(big.Int).SetUint64(pos.Leverage))
	den := new(big.Int).Mul(pos.EntryPrice, leveragePrecision)

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		if num.Sign() > 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}
	return q, nil
}
