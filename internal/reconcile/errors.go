package reconcile

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DivergenceError describes a trader whose local state kept disagreeing
// with the authoritative read for Cycles consecutive cycles.
type DivergenceError struct {
	Trader   common.Address
	Cycles   int
	Inserted int
	Removed  int
	Replaced int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("persistent divergence for trader %s over %d cycles (last cycle: inserted=%d removed=%d replaced=%d)",
		e.Trader.Hex(), e.Cycles, e.Inserted, e.Removed, e.Replaced)
}

// healthKey is the degradation key for a trader.
func healthKey(trader common.Address) string {
	return "divergence:" + trader.Hex()
}
