package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"leverage-sync/internal/domain"
)

// LogQuery selects historical logs for eth_getLogs.
type LogQuery struct {
	Addresses []common.Address
	FromBlock uint64
	ToBlock   uint64
}

// rpcLog is the JSON shape of a log in eth_subscription and eth_getLogs.
type rpcLog struct {
	Address        common.Address  `json:"address"`
	Topics         []common.Hash   `json:"topics"`
	Data           hexutil.Bytes   `json:"data"`
	BlockNumber    hexutil.Uint64  `json:"blockNumber"`
	TxHash         common.Hash     `json:"transactionHash"`
	LogIndex       hexutil.Uint    `json:"logIndex"`
	BlockTimestamp *hexutil.Uint64 `json:"blockTimestamp,omitempty"`
	Removed        bool            `json:"removed"`
}

func (l rpcLog) toRecord() domain.LogRecord {
	rec := domain.LogRecord{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		TxHash:      l.TxHash,
		LogIndex:    uint(l.LogIndex),
		BlockNumber: uint64(l.BlockNumber),
		Removed:     l.Removed,
	}
	if l.BlockTimestamp != nil {
		rec.BlockTimestamp = int64(*l.BlockTimestamp)
	}
	return rec
}

// logFilterParam is the filter object shared by eth_subscribe and eth_getLogs.
type logFilterParam struct {
	Address   []common.Address `json:"address,omitempty"`
	FromBlock string           `json:"fromBlock,omitempty"`
	ToBlock   string           `json:"toBlock,omitempty"`
}

func blockParam(n uint64) string {
	return hexutil.EncodeUint64(n)
}
