package domain

import "math/big"

// PriceTick is one oracle observation for a feed. Immutable.
type PriceTick struct {
	Feed      string
	Price     *big.Int // 18 decimals
	Timestamp int64    // unix seconds
}

// Clone returns a copy with its own Price.
func (t PriceTick) Clone() PriceTick {
	t.Price = copyBig(t.Price)
	return t
}
