package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Fixed-point scales used on-chain.
const (
	PriceDecimals     = 18
	AmountDecimals    = 6
	LeveragePrecision = 10000
)

// FormatFixed renders a fixed-point integer with the given number of
// fractional digits, trimming trailing zeros. Nil renders as "-".
func FormatFixed(v *big.Int, decimals int32) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// FormatFixedRound renders v rounded to places fractional digits.
func FormatFixedRound(v *big.Int, decimals, places int32) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(places)
}

// FormatLeverage renders a scaled leverage as a multiplier, e.g. 50000 -> "5x".
func FormatLeverage(lev uint64) string {
	return decimal.NewFromInt(int64(lev)).Div(decimal.NewFromInt(LeveragePrecision)).String() + "x"
}
