package codec

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const oracleABIJSON = `[
	{"type":"event","name":"PriceUpdated","anonymous":false,"inputs":[
		{"name":"feedId","type":"string","indexed":true},
		{"name":"price","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}
	]}
]`

const tradingABIJSON = `[
	{"type":"event","name":"PositionOpened","anonymous":false,"inputs":[
		{"name":"positionId","type":"uint256","indexed":true},
		{"name":"trader","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"entryPrice","type":"uint256","indexed":false},
		{"name":"leverage","type":"uint256","indexed":false},
		{"name":"isLong","type":"bool","indexed":false},
		{"name":"feedId","type":"string","indexed":false}
	]},
	{"type":"event","name":"PositionClosed","anonymous":false,"inputs":[
		{"name":"positionId","type":"uint256","indexed":true},
		{"name":"trader","type":"address","indexed":true},
		{"name":"pnl","type":"int256","indexed":false},
		{"name":"exitPrice","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"PositionLiquidated","anonymous":false,"inputs":[
		{"name":"positionId","type":"uint256","indexed":true},
		{"name":"trader","type":"address","indexed":true},
		{"name":"exitPrice","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"getUserPositions","stateMutability":"view",
		"inputs":[{"name":"user","type":"address"}],
		"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"positions","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"}],
		"outputs":[
			{"name":"trader","type":"address"},
			{"name":"amount","type":"uint256"},
			{"name":"entryPrice","type":"uint256"},
			{"name":"leverage","type":"uint256"},
			{"name":"isLong","type":"bool"},
			{"name":"openTimestamp","type":"uint256"},
			{"name":"feedId","type":"string"}
		]},
	{"type":"function","name":"getOraclePrices","stateMutability":"view",
		"inputs":[{"name":"feedIds","type":"string[]"}],
		"outputs":[
			{"name":"prices","type":"uint256[]"},
			{"name":"timestamps","type":"uint256[]"}
		]}
]`

// Method names on the trading contract.
const (
	MethodGetUserPositions = "getUserPositions"
	MethodPositions        = "positions"
	MethodGetOraclePrices  = "getOraclePrices"
)

var (
	oracleABI  abi.ABI
	tradingABI abi.ABI
)

func init() {
	var err error
	oracleABI, err = abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		panic("codec: parse oracle ABI: " + err.Error())
	}
	tradingABI, err = abi.JSON(strings.NewReader(tradingABIJSON))
	if err != nil {
		panic("codec: parse trading ABI: " + err.Error())
	}
}

// OracleABI returns the parsed price oracle ABI.
func OracleABI() abi.ABI { return oracleABI }

// TradingABI returns the parsed leverage trading ABI, events and view methods.
func TradingABI() abi.ABI { return tradingABI }
