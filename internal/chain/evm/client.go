// Package evm implements the chain client against an Ethereum-compatible
// node using go-ethereum. It signs and submits trading calls, polls
// receipts, and reads authoritative protocol state for reconciliation.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// Config carries the connection parameters for one network.
type Config struct {
	RPCURL    string
	ChainID   int64
	Contracts Contracts
}

// Client talks to the trading protocol over JSON-RPC.
type Client struct {
	eth       *ethclient.Client
	chainID   *big.Int
	contracts Contracts

	trading abi.ABI
	storage abi.ABI
	oracle  abi.ABI
	erc20   abi.ABI
	faucet  abi.ABI

	logger *slog.Logger
}

// New dials the RPC endpoint and parses the protocol ABIs.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dialing %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		eth:       eth,
		chainID:   big.NewInt(cfg.ChainID),
		contracts: cfg.Contracts,
		logger:    logger.With(slog.String("component", "evm")),
	}

	for _, p := range []struct {
		name string
		raw  string
		dst  *abi.ABI
	}{
		{"trading", tradingABI, &c.trading},
		{"storage", storageABI, &c.storage},
		{"oracle", priceOracleABI, &c.oracle},
		{"erc20", erc20ABI, &c.erc20},
		{"faucet", faucetABI, &c.faucet},
	} {
		parsed, err := abi.JSON(strings.NewReader(p.raw))
		if err != nil {
			return nil, fmt.Errorf("evm: parsing %s ABI: %w", p.name, err)
		}
		*p.dst = parsed
	}

	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// openTradeParams mirrors the openTrade tuple layout.
type openTradeParams struct {
	Trader     common.Address
	PairIndex  uint16
	Index      uint8
	Collateral *big.Int
	OpenPrice  *big.Int
	Buy        bool
	Leverage   uint32
	Tp         *big.Int
	Sl         *big.Int
}

// SubmitTrade packs, signs and broadcasts the call. It returns the
// transaction hash on acceptance into the mempool; inclusion is observed
// separately through Receipt.
func (c *Client) SubmitTrade(ctx context.Context, cred domain.Credential, call domain.TradeCall) (common.Hash, error) {
	data, to, err := c.packCall(call)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, cred.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: fetching nonce: %w", classify(err))
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: fetching gas price: %w", classify(err))
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  cred.Address,
		To:    &to,
		Data:  data,
		Value: big.NewInt(0),
	})
	if err != nil {
		// Estimation replays the call, so a protocol rejection surfaces
		// here before anything is broadcast.
		return common.Hash{}, fmt.Errorf("evm: estimating gas: %w", classify(err))
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), cred.PrivateKey())
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: signing transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("evm: broadcasting transaction: %w", classify(err))
	}

	c.logger.InfoContext(ctx, "transaction broadcast",
		slog.String("kind", string(call.Kind)),
		slog.String("hash", signedTx.Hash().Hex()),
		slog.Uint64("nonce", nonce))

	return signedTx.Hash(), nil
}

func (c *Client) packCall(call domain.TradeCall) ([]byte, common.Address, error) {
	switch call.Kind {
	case domain.IntentOpen:
		orderType := uint8(0)
		if call.OrderType == "LIMIT" {
			orderType = 1
		}
		slippage := new(big.Int).SetInt64(int64(call.SlippagePct * 1e4))
		params := openTradeParams{
			Trader:     call.Trader,
			PairIndex:  call.PairIndex,
			Index:      call.TradeIndex,
			Collateral: big.NewInt(call.CollateralUnits),
			OpenPrice:  big.NewInt(call.PriceTicks),
			Buy:        call.Long,
			Leverage:   uint32(call.Leverage),
			Tp:         big.NewInt(call.TakeProfitTicks),
			Sl:         big.NewInt(call.StopLossTicks),
		}
		data, err := c.trading.Pack("openTrade", params, orderType, slippage)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing openTrade: %w", err)
		}
		return data, c.contracts.Trading, nil

	case domain.IntentClose:
		data, err := c.trading.Pack("closeTradeMarket", call.PairIndex, call.TradeIndex, call.ClosePercent)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing closeTradeMarket: %w", err)
		}
		return data, c.contracts.Trading, nil

	case domain.IntentAddCollateral:
		data, err := c.trading.Pack("topUpCollateral", call.PairIndex, call.TradeIndex, big.NewInt(call.AmountUnits))
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing topUpCollateral: %w", err)
		}
		return data, c.contracts.Trading, nil

	case domain.IntentRemoveCollateral:
		data, err := c.trading.Pack("removeCollateral", call.PairIndex, call.TradeIndex, big.NewInt(call.AmountUnits))
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing removeCollateral: %w", err)
		}
		return data, c.contracts.Trading, nil

	case domain.IntentUpdateStopLoss:
		data, err := c.trading.Pack("updateSl", call.PairIndex, call.TradeIndex, big.NewInt(call.StopLossTicks))
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing updateSl: %w", err)
		}
		return data, c.contracts.Trading, nil

	case domain.IntentUpdateTakeProfit:
		data, err := c.trading.Pack("updateTp", call.PairIndex, call.TradeIndex, big.NewInt(call.TakeProfitTicks))
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing updateTp: %w", err)
		}
		return data, c.contracts.Trading, nil

	case domain.IntentFaucet:
		data, err := c.faucet.Pack("requestTokens")
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("evm: packing requestTokens: %w", err)
		}
		return data, c.contracts.Faucet, nil

	default:
		return nil, common.Address{}, domain.Invalid("unsupported intent kind %q", call.Kind)
	}
}

// Receipt fetches the inclusion result for a broadcast transaction. While
// the transaction is still in the mempool it returns domain.ErrReceiptPending.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*domain.Receipt, error) {
	rcpt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, domain.ErrReceiptPending
		}
		return nil, fmt.Errorf("evm: fetching receipt %s: %w", hash.Hex(), classify(err))
	}

	out := &domain.Receipt{
		TxHash:      hash,
		BlockNumber: rcpt.BlockNumber.Uint64(),
		Succeeded:   rcpt.Status == ethtypes.ReceiptStatusSuccessful,
	}
	if !out.Succeeded {
		out.RevertReason = c.revertReason(ctx, hash, rcpt)
	}
	return out, nil
}

// revertReason replays the transaction at its inclusion block to recover the
// revert string. Best effort: an empty string means the node would not say.
func (c *Client) revertReason(ctx context.Context, hash common.Hash, rcpt *ethtypes.Receipt) string {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}
	from, err := ethtypes.Sender(ethtypes.NewEIP155Signer(c.chainID), tx)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err = c.eth.CallContract(ctx, msg, rcpt.BlockNumber)
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "execution reverted: ")
}

// storageTrade mirrors the getOpenTrades tuple layout.
type storageTrade struct {
	Trader     common.Address
	PairIndex  uint16
	Index      uint8
	TradeId    *big.Int
	Collateral *big.Int
	OpenPrice  *big.Int
	Buy        bool
	Leverage   uint32
	Tp         *big.Int
	Sl         *big.Int
}

// OpenTrades reads the trader's open positions from the storage contract.
func (c *Client) OpenTrades(ctx context.Context, trader common.Address) ([]domain.ChainTrade, error) {
	data, err := c.storage.Pack("getOpenTrades", trader)
	if err != nil {
		return nil, fmt.Errorf("evm: packing getOpenTrades: %w", err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contracts.Storage, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: calling getOpenTrades: %w", classify(err))
	}

	var raw []storageTrade
	if err := c.storage.UnpackIntoInterface(&raw, "getOpenTrades", result); err != nil {
		return nil, fmt.Errorf("evm: unpacking getOpenTrades: %w", err)
	}

	trades := make([]domain.ChainTrade, 0, len(raw))
	for _, t := range raw {
		pair, _ := PairByIndex(t.PairIndex)
		trades = append(trades, domain.ChainTrade{
			Trader:          t.Trader,
			PairIndex:       t.PairIndex,
			TradeIndex:      t.Index,
			PairFrom:        pair.From,
			PairTo:          pair.To,
			TradeID:         t.TradeId.String(),
			CollateralUnits: t.Collateral.Int64(),
			Leverage:        int64(t.Leverage),
			Long:            t.Buy,
			OpenPriceTicks:  t.OpenPrice.Int64(),
			StopLossTicks:   t.Sl.Int64(),
			TakeProfitTicks: t.Tp.Int64(),
		})
	}
	return trades, nil
}

// storageOrder mirrors the getRecentOrders tuple layout.
type storageOrder struct {
	OrderId      *big.Int
	TradeId      *big.Int
	PairIndex    uint16
	Buy          bool
	Collateral   *big.Int
	Leverage     uint32
	OpenPrice    *big.Int
	ClosePrice   *big.Int
	ProfitP      *big.Int
	AmountSent   *big.Int
	Pending      bool
	Cancelled    bool
	CancelReason uint8
	ExecutedAt   *big.Int
}

// RecentOrders reads the trader's most recent protocol orders, newest first.
func (c *Client) RecentOrders(ctx context.Context, trader common.Address, limit int) ([]domain.ChainOrder, error) {
	data, err := c.storage.Pack("getRecentOrders", trader, big.NewInt(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("evm: packing getRecentOrders: %w", err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contracts.Storage, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: calling getRecentOrders: %w", classify(err))
	}

	var raw []storageOrder
	if err := c.storage.UnpackIntoInterface(&raw, "getRecentOrders", result); err != nil {
		return nil, fmt.Errorf("evm: unpacking getRecentOrders: %w", err)
	}

	orders := make([]domain.ChainOrder, 0, len(raw))
	for _, o := range raw {
		pair, _ := PairByIndex(o.PairIndex)
		// profitP is scaled by 1e4 on chain.
		profit := float64(o.ProfitP.Int64()) / 1e4
		orders = append(orders, domain.ChainOrder{
			OrderID:         o.OrderId.String(),
			TradeID:         o.TradeId.String(),
			PairFrom:        pair.From,
			PairTo:          pair.To,
			Long:            o.Buy,
			CollateralUnits: o.Collateral.Int64(),
			Leverage:        int64(o.Leverage),
			OpenPriceTicks:  o.OpenPrice.Int64(),
			ClosePriceTicks: o.ClosePrice.Int64(),
			ProfitPercent:   profit,
			AmountSentUnits: o.AmountSent.Int64(),
			Pending:         o.Pending,
			Cancelled:       o.Cancelled,
			CancelReason:    cancelReason(o.CancelReason),
			ExecutedAt:      time.Unix(o.ExecutedAt.Int64(), 0).UTC(),
		})
	}
	return orders, nil
}

// Balances reads the native and collateral token balances for an address.
func (c *Client) Balances(ctx context.Context, addr common.Address) (domain.Balances, error) {
	ethWei, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("evm: fetching ETH balance: %w", classify(err))
	}

	data, err := c.erc20.Pack("balanceOf", addr)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("evm: packing balanceOf: %w", err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contracts.USDC, Data: data}, nil)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("evm: calling balanceOf: %w", classify(err))
	}
	var usdc *big.Int
	if err := c.erc20.UnpackIntoInterface(&usdc, "balanceOf", result); err != nil {
		return domain.Balances{}, fmt.Errorf("evm: unpacking balanceOf: %w", err)
	}

	return domain.Balances{
		ETHWei:    ethWei,
		USDCUnits: usdc.Int64(),
		ReadAt:    time.Now().UTC(),
	}, nil
}

// Price reads the oracle price for a pair.
func (c *Client) Price(ctx context.Context, from, to string) (domain.PairPrice, error) {
	pair, ok := PairBySymbols(from, to)
	if !ok {
		return domain.PairPrice{}, domain.Invalid("unknown pair %s/%s", from, to)
	}

	data, err := c.oracle.Pack("getPrice", pair.Index)
	if err != nil {
		return domain.PairPrice{}, fmt.Errorf("evm: packing getPrice: %w", err)
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contracts.PriceOra, Data: data}, nil)
	if err != nil {
		return domain.PairPrice{}, fmt.Errorf("evm: calling getPrice: %w", classify(err))
	}

	out, err := c.oracle.Unpack("getPrice", result)
	if err != nil {
		return domain.PairPrice{}, fmt.Errorf("evm: unpacking getPrice: %w", err)
	}
	price := out[0].(*big.Int)
	isOpen := out[1].(bool)
	updatedAt := out[2].(*big.Int)

	return domain.PairPrice{
		PriceTicks: price.Int64(),
		MarketOpen: isOpen,
		At:         time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}

// Pairs returns the tradable pair registry.
func (c *Client) Pairs(ctx context.Context) ([]domain.PairInfo, error) {
	out := make([]domain.PairInfo, len(pairRegistry))
	copy(out, pairRegistry)
	return out, nil
}

// BlockNumber reads the node's latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm: fetching block number: %w", classify(err))
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.ChainClient = (*Client)(nil)
