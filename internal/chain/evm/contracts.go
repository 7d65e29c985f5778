package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// Contracts holds the deployed protocol addresses for one network.
type Contracts struct {
	Trading  common.Address
	Storage  common.Address
	PriceOra common.Address
	USDC     common.Address
	Faucet   common.Address
}

// ArbitrumSepolia returns the testnet deployment.
func ArbitrumSepolia() Contracts {
	return Contracts{
		Trading:  common.HexToAddress("0x6D0bA1f9996DBD8885827e1b2e8f6593e7702411"),
		Storage:  common.HexToAddress("0xcCd5891083A8acD2074690F65d3024E7D13d66E7"),
		PriceOra: common.HexToAddress("0x5b1fD1d153A7D27D2355f87F7E3c21B8b482E54A"),
		USDC:     common.HexToAddress("0xe6f6232aB14E2C594Ce4B1B2a047e245EeD0F2A0"),
		Faucet:   common.HexToAddress("0x0EB58F33BDb0aBcCb958288cb4cB7A5F6cc72Ff0"),
	}
}

// tradingABI covers the mutating entry points of the trading contract. The
// trade struct mirrors the protocol layout: fixed-point USDC units (1e6),
// price ticks (1e6) and leverage scaled by 100.
const tradingABI = `[
	{
		"inputs": [
			{"components": [
				{"name": "trader", "type": "address"},
				{"name": "pairIndex", "type": "uint16"},
				{"name": "index", "type": "uint8"},
				{"name": "collateral", "type": "uint256"},
				{"name": "openPrice", "type": "uint256"},
				{"name": "buy", "type": "bool"},
				{"name": "leverage", "type": "uint32"},
				{"name": "tp", "type": "uint256"},
				{"name": "sl", "type": "uint256"}
			], "name": "t", "type": "tuple"},
			{"name": "orderType", "type": "uint8"},
			{"name": "slippageP", "type": "uint256"}
		],
		"name": "openTrade",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pairIndex", "type": "uint16"},
			{"name": "index", "type": "uint8"},
			{"name": "closePercentage", "type": "uint16"}
		],
		"name": "closeTradeMarket",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pairIndex", "type": "uint16"},
			{"name": "index", "type": "uint8"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "topUpCollateral",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pairIndex", "type": "uint16"},
			{"name": "index", "type": "uint8"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "removeCollateral",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pairIndex", "type": "uint16"},
			{"name": "index", "type": "uint8"},
			{"name": "newSl", "type": "uint256"}
		],
		"name": "updateSl",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pairIndex", "type": "uint16"},
			{"name": "index", "type": "uint8"},
			{"name": "newTp", "type": "uint256"}
		],
		"name": "updateTp",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// storageABI covers the read-only views used for reconciliation and history.
const storageABI = `[
	{
		"inputs": [{"name": "trader", "type": "address"}],
		"name": "getOpenTrades",
		"outputs": [{"components": [
			{"name": "trader", "type": "address"},
			{"name": "pairIndex", "type": "uint16"},
			{"name": "index", "type": "uint8"},
			{"name": "tradeId", "type": "uint256"},
			{"name": "collateral", "type": "uint256"},
			{"name": "openPrice", "type": "uint256"},
			{"name": "buy", "type": "bool"},
			{"name": "leverage", "type": "uint32"},
			{"name": "tp", "type": "uint256"},
			{"name": "sl", "type": "uint256"}
		], "name": "", "type": "tuple[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "trader", "type": "address"},
			{"name": "count", "type": "uint256"}
		],
		"name": "getRecentOrders",
		"outputs": [{"components": [
			{"name": "orderId", "type": "uint256"},
			{"name": "tradeId", "type": "uint256"},
			{"name": "pairIndex", "type": "uint16"},
			{"name": "buy", "type": "bool"},
			{"name": "collateral", "type": "uint256"},
			{"name": "leverage", "type": "uint32"},
			{"name": "openPrice", "type": "uint256"},
			{"name": "closePrice", "type": "uint256"},
			{"name": "profitP", "type": "int256"},
			{"name": "amountSent", "type": "uint256"},
			{"name": "pending", "type": "bool"},
			{"name": "cancelled", "type": "bool"},
			{"name": "cancelReason", "type": "uint8"},
			{"name": "executedAt", "type": "uint256"}
		], "name": "", "type": "tuple[]"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// priceOracleABI reads the latest price for a pair along with market state.
const priceOracleABI = `[
	{
		"inputs": [{"name": "pairIndex", "type": "uint16"}],
		"name": "getPrice",
		"outputs": [
			{"name": "price", "type": "uint256"},
			{"name": "isOpen", "type": "bool"},
			{"name": "updatedAt", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// erc20ABI is the minimal surface needed for collateral balance reads.
const erc20ABI = `[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// faucetABI dispenses testnet collateral.
const faucetABI = `[
	{
		"inputs": [],
		"name": "requestTokens",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// cancelReasons maps the protocol's cancel reason codes to readable labels.
var cancelReasons = []string{
	"",
	"market_closed",
	"slippage_exceeded",
	"tp_reached",
	"sl_reached",
	"exposure_limits",
	"price_impact",
	"max_leverage",
	"no_trade",
	"not_hit",
}

func cancelReason(code uint8) string {
	if int(code) < len(cancelReasons) {
		return cancelReasons[code]
	}
	return fmt.Sprintf("code_%d", code)
}

// pairRegistry is the static list of tradable pairs on the testnet
// deployment, indexed by protocol pair index.
var pairRegistry = []domain.PairInfo{
	{Index: 0, From: "BTC", To: "USD", MinLeverage: 200, MaxLeverage: 20000},
	{Index: 1, From: "ETH", To: "USD", MinLeverage: 200, MaxLeverage: 20000},
	{Index: 2, From: "EUR", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 3, From: "GBP", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 4, From: "JPY", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 5, From: "XAU", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 6, From: "HG", To: "USD", MinLeverage: 200, MaxLeverage: 5000},
	{Index: 7, From: "CL", To: "USD", MinLeverage: 200, MaxLeverage: 5000},
	{Index: 8, From: "XAG", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 9, From: "SOL", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 10, From: "SPX", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 11, From: "DJI", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 12, From: "NDX", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 13, From: "NIK", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 14, From: "FTSE", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
	{Index: 15, From: "DAX", To: "USD", MinLeverage: 200, MaxLeverage: 10000},
}

// PairByIndex looks up a pair in the static registry.
func PairByIndex(index uint16) (domain.PairInfo, bool) {
	for _, p := range pairRegistry {
		if p.Index == index {
			return p, true
		}
	}
	return domain.PairInfo{}, false
}

// PairBySymbols looks up a pair by its from/to symbols.
func PairBySymbols(from, to string) (domain.PairInfo, bool) {
	for _, p := range pairRegistry {
		if p.From == from && p.To == to {
			return p, true
		}
	}
	return domain.PairInfo{}, false
}
