package domain

import "github.com/ethereum/go-ethereum/common"

// LogRecord is a raw EVM log as delivered by the push or pull transport.
// Immutable once received.
type LogRecord struct {
	Address        common.Address // emitting contract
	Topics         []common.Hash  // topics[0] is the event signature
	Data           []byte         // ABI-encoded non-indexed arguments
	TxHash         common.Hash    // originating transaction
	LogIndex       uint           // index of the log within the block
	BlockNumber    uint64
	BlockTimestamp int64 // unix seconds, 0 when the node does not report it
	Removed        bool  // true when the log was reverted by a reorg
}

// Signature returns topics[0], or the zero hash for anonymous logs.
func (r LogRecord) Signature() common.Hash {
	if len(r.Topics) == 0 {
		return common.Hash{}
	}
	return r.Topics[0]
}
