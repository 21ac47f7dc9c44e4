package domain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side of a leveraged position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// DirectionFromIsLong maps the on-chain isLong flag.
func DirectionFromIsLong(isLong bool) Direction {
	if isLong {
		return Long
	}
	return Short
}

// Position is an open leveraged position.
// Terms are immutable after creation; only CurrentPnL is ever replaced.
type Position struct {
	ID            uint64
	Trader        common.Address
	Amount        *big.Int // collateral, 6 decimals
	EntryPrice    *big.Int // 18 decimals
	Leverage      uint64   // multiplier * 10000
	Direction     Direction
	Feed          string
	OpenTimestamp int64    // unix seconds
	CurrentPnL    *big.Int // derived, 6 decimals; nil until a price is known
}

var (
	errNonPositiveAmount   = errors.New("amount must be positive")
	errNonPositiveEntry    = errors.New("entry price must be positive")
	errNonPositiveLeverage = errors.New("leverage must be positive")
	errUnknownDirection    = errors.New("unknown direction")
	errEmptyFeed           = errors.New("feed is empty")
)

// Validate checks the position invariants: amount, entry price and leverage
// are strictly positive.
func (p Position) Validate() error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return errNonPositiveAmount
	}
	if p.EntryPrice == nil || p.EntryPrice.Sign() <= 0 {
		return errNonPositiveEntry
	}
	if p.Leverage == 0 {
		return errNonPositiveLeverage
	}
	if p.Direction != Long && p.Direction != Short {
		return errUnknownDirection
	}
	if p.Feed == "" {
		return errEmptyFeed
	}
	return nil
}

// SameTerms reports whether two positions describe the same on-chain terms,
// ignoring the derived PnL.
func (p Position) SameTerms(o Position) bool {
	return p.ID == o.ID &&
		p.Trader == o.Trader &&
		cmpBig(p.Amount, o.Amount) &&
		cmpBig(p.EntryPrice, o.EntryPrice) &&
		p.Leverage == o.Leverage &&
		p.Direction == o.Direction &&
		p.Feed == o.Feed
}

// Clone returns a deep copy so callers cannot alias store-owned big.Ints.
func (p Position) Clone() Position {
	c := p
	c.Amount = copyBig(p.Amount)
	c.EntryPrice = copyBig(p.EntryPrice)
	c.CurrentPnL = copyBig(p.CurrentPnL)
	return c
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cmpBig(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
