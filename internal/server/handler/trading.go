package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/gateway"
	"github.com/ambjn/ostium-whop/internal/ledger"
)

// TradingService defines the methods the trading handler requires from the
// gateway facade.
type TradingService interface {
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (gateway.OrderAck, error)
	CloseTrade(ctx context.Context, intent domain.OrderIntent) (gateway.OrderAck, error)
	AddCollateral(ctx context.Context, intent domain.OrderIntent) (gateway.OrderAck, error)
	RemoveCollateral(ctx context.Context, intent domain.OrderIntent) (gateway.OrderAck, error)
	UpdateStopLoss(ctx context.Context, intent domain.OrderIntent) (gateway.OrderAck, error)
	UpdateTakeProfit(ctx context.Context, intent domain.OrderIntent) (gateway.OrderAck, error)
	Faucet(ctx context.Context) (gateway.OrderAck, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	History(ctx context.Context, limit int) ([]domain.TradeRecord, error)
	TrackOrder(ctx context.Context, orderID string) (domain.PendingTransaction, error)
	Balances(ctx context.Context, refresh bool) (domain.Balances, error)
	SetSlippage(pct float64) error
	Slippage() float64
}

// TradingHandler serves the trading endpoints.
type TradingHandler struct {
	svc    TradingService
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(svc TradingService, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{svc: svc, logger: logger}
}

// Monetary fields cross the API as floats and are converted to the
// fixed-point units the chain protocol uses at this boundary only.

func usdcToUnits(v float64) int64  { return int64(v * 1e6) }
func priceToTicks(v float64) int64 { return int64(v * 1e6) }
func levToScaled(v float64) int64  { return int64(v * 100) }
func unitsToUSDC(v int64) float64  { return float64(v) / 1e6 }
func ticksToPrice(v int64) float64 { return float64(v) / 1e6 }
func scaledToLev(v int64) float64  { return float64(v) / 100 }

type placeOrderRequest struct {
	PairFrom       string  `json:"pair_from"`
	PairTo         string  `json:"pair_to"`
	Collateral     float64 `json:"collateral"`
	Leverage       float64 `json:"leverage"`
	Long           bool    `json:"long"`
	OrderType      string  `json:"order_type"` // "MARKET" or "LIMIT"
	LimitPrice     float64 `json:"limit_price,omitempty"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	TakeProfit     float64 `json:"take_profit,omitempty"`
	TraderAddress  string  `json:"trader_address,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// clientKey resolves the caller's idempotency token: the request body field
// wins, then the Idempotency-Key header, then empty (no replay protection).
func clientKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("Idempotency-Key")
}

type orderResponse struct {
	OrderID     string  `json:"order_id"`
	TxHash      string  `json:"tx_hash"`
	Status      string  `json:"status"`
	Price       float64 `json:"price,omitempty"`
	Entry       float64 `json:"entry,omitempty"`
	Size        float64 `json:"size,omitempty"`
	Liquidation float64 `json:"liquidation,omitempty"`
}

func orderResponseFrom(ack gateway.OrderAck) orderResponse {
	return orderResponse{
		OrderID:     ack.OrderID,
		TxHash:      ack.TxHash.Hex(),
		Status:      string(ack.Status),
		Price:       ticksToPrice(ack.PriceTicks),
		Entry:       ack.Entry,
		Size:        ack.Size,
		Liquidation: ack.Liquidation,
	}
}

// PlaceOrder opens a new leveraged position.
// POST /trading/place-order
func (h *TradingHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid request body: "+err.Error())
		return
	}
	if req.PairFrom == "" || req.PairTo == "" {
		writeInvalid(w, "pair_from and pair_to are required")
		return
	}

	var variant domain.OrderVariant
	switch req.OrderType {
	case "", "MARKET":
		variant = domain.MarketOrder{}
	case "LIMIT":
		if req.LimitPrice <= 0 {
			writeInvalid(w, "limit_price is required for LIMIT orders")
			return
		}
		variant = domain.LimitOrder{PriceTicks: priceToTicks(req.LimitPrice)}
	default:
		writeInvalid(w, "order_type must be MARKET or LIMIT")
		return
	}

	trader, ok := parseOptionalAddress(req.TraderAddress)
	if !ok {
		writeInvalid(w, "trader_address is not a valid address")
		return
	}

	intent := domain.OrderIntent{
		PairFrom:        req.PairFrom,
		PairTo:          req.PairTo,
		CollateralUnits: usdcToUnits(req.Collateral),
		Leverage:        levToScaled(req.Leverage),
		Long:            req.Long,
		Order:           variant,
		StopLossTicks:   priceToTicks(req.StopLoss),
		TakeProfitTicks: priceToTicks(req.TakeProfit),
		Trader:          trader,
		ClientKey:       clientKey(r, req.IdempotencyKey),
	}

	ack, err := h.svc.PlaceOrder(r.Context(), intent)
	if err != nil {
		h.logFailure(r, "place_order", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponseFrom(ack))
}

type closeTradeRequest struct {
	PairFrom        string `json:"pair_from"`
	PairTo          string `json:"pair_to"`
	TradeIndex      int    `json:"trade_index"`
	ClosePercentage int    `json:"close_percentage"`
	TraderAddress   string `json:"trader_address,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

// CloseTrade closes all or part of an open position.
// POST /trading/close-trade
func (h *TradingHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	var req closeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid request body: "+err.Error())
		return
	}
	if req.ClosePercentage == 0 {
		req.ClosePercentage = 100
	}
	trader, ok := parseOptionalAddress(req.TraderAddress)
	if !ok {
		writeInvalid(w, "trader_address is not a valid address")
		return
	}

	ack, err := h.svc.CloseTrade(r.Context(), domain.OrderIntent{
		PairFrom:     req.PairFrom,
		PairTo:       req.PairTo,
		TradeIndex:   clampTradeIndex(req.TradeIndex),
		ClosePercent: req.ClosePercentage,
		Trader:       trader,
		ClientKey:    clientKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.logFailure(r, "close_trade", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponseFrom(ack))
}

type collateralRequest struct {
	PairFrom       string  `json:"pair_from"`
	PairTo         string  `json:"pair_to"`
	TradeIndex     int     `json:"trade_index"`
	Amount         float64 `json:"amount"`
	TraderAddress  string  `json:"trader_address,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// AddCollateral tops up a position's collateral.
// POST /trading/add-collateral
func (h *TradingHandler) AddCollateral(w http.ResponseWriter, r *http.Request) {
	h.adjustCollateral(w, r, h.svc.AddCollateral, "add_collateral")
}

// RemoveCollateral withdraws collateral from a position.
// POST /trading/remove-collateral
func (h *TradingHandler) RemoveCollateral(w http.ResponseWriter, r *http.Request) {
	h.adjustCollateral(w, r, h.svc.RemoveCollateral, "remove_collateral")
}

func (h *TradingHandler) adjustCollateral(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.OrderIntent) (gateway.OrderAck, error), name string) {
	var req collateralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid request body: "+err.Error())
		return
	}
	trader, ok := parseOptionalAddress(req.TraderAddress)
	if !ok {
		writeInvalid(w, "trader_address is not a valid address")
		return
	}

	ack, err := op(r.Context(), domain.OrderIntent{
		PairFrom:    req.PairFrom,
		PairTo:      req.PairTo,
		TradeIndex:  clampTradeIndex(req.TradeIndex),
		AmountUnits: usdcToUnits(req.Amount),
		Trader:      trader,
		ClientKey:   clientKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.logFailure(r, name, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponseFrom(ack))
}

type riskUpdateRequest struct {
	PairFrom       string  `json:"pair_from"`
	PairTo         string  `json:"pair_to"`
	TradeIndex     int     `json:"trade_index"`
	StopLoss       float64 `json:"stop_loss,omitempty"`
	TakeProfit     float64 `json:"take_profit,omitempty"`
	TraderAddress  string  `json:"trader_address,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// UpdateStopLoss sets or clears a position's stop loss (0 clears).
// POST /trading/update-stop-loss
func (h *TradingHandler) UpdateStopLoss(w http.ResponseWriter, r *http.Request) {
	var req riskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid request body: "+err.Error())
		return
	}
	trader, ok := parseOptionalAddress(req.TraderAddress)
	if !ok {
		writeInvalid(w, "trader_address is not a valid address")
		return
	}

	ack, err := h.svc.UpdateStopLoss(r.Context(), domain.OrderIntent{
		PairFrom:      req.PairFrom,
		PairTo:        req.PairTo,
		TradeIndex:    clampTradeIndex(req.TradeIndex),
		StopLossTicks: priceToTicks(req.StopLoss),
		Trader:        trader,
		ClientKey:     clientKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.logFailure(r, "update_stop_loss", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponseFrom(ack))
}

// UpdateTakeProfit sets or clears a position's take profit (0 clears).
// POST /trading/update-take-profit
func (h *TradingHandler) UpdateTakeProfit(w http.ResponseWriter, r *http.Request) {
	var req riskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid request body: "+err.Error())
		return
	}
	trader, ok := parseOptionalAddress(req.TraderAddress)
	if !ok {
		writeInvalid(w, "trader_address is not a valid address")
		return
	}

	ack, err := h.svc.UpdateTakeProfit(r.Context(), domain.OrderIntent{
		PairFrom:        req.PairFrom,
		PairTo:          req.PairTo,
		TradeIndex:      clampTradeIndex(req.TradeIndex),
		TakeProfitTicks: priceToTicks(req.TakeProfit),
		Trader:          trader,
		ClientKey:       clientKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.logFailure(r, "update_take_profit", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponseFrom(ack))
}

type positionDTO struct {
	Pair        string  `json:"pair"`
	TradeIndex  int     `json:"trade_index"`
	Status      string  `json:"status"`
	Long        bool    `json:"long"`
	Collateral  float64 `json:"collateral"`
	Leverage    float64 `json:"leverage"`
	OpenPrice   float64 `json:"open_price"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TakeProfit  float64 `json:"take_profit,omitempty"`
	Liquidation float64 `json:"liquidation"`
}

// Positions lists the trader's open positions.
// GET /trading/positions
func (h *TradingHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.Positions(r.Context())
	if err != nil {
		h.logFailure(r, "positions", err)
		writeError(w, err)
		return
	}

	out := make([]positionDTO, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionDTO{
			Pair:        p.Pair(),
			TradeIndex:  int(p.Key.Index),
			Status:      string(p.Status),
			Long:        p.Long,
			Collateral:  unitsToUSDC(p.CollateralUnits),
			Leverage:    scaledToLev(p.Leverage),
			OpenPrice:   ticksToPrice(p.OpenPriceTicks),
			StopLoss:    ticksToPrice(p.StopLossTicks),
			TakeProfit:  ticksToPrice(p.TakeProfitTicks),
			Liquidation: ticksToPrice(ledger.LiquidationTicks(p.OpenPriceTicks, p.Leverage, p.Long)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

type historyDTO struct {
	OrderID       string    `json:"order_id"`
	Pair          string    `json:"pair"`
	Long          bool      `json:"long"`
	Collateral    float64   `json:"collateral"`
	Leverage      float64   `json:"leverage"`
	OpenPrice     float64   `json:"open_price"`
	ClosePrice    float64   `json:"close_price"`
	ProfitPercent float64   `json:"profit_percent"`
	AmountSent    float64   `json:"amount_sent"`
	Cancelled     bool      `json:"cancelled"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// History lists the trader's settled trades.
// GET /trading/history?limit=
func (h *TradingHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.logFailure(r, "history", err)
		writeError(w, err)
		return
	}

	out := make([]historyDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, historyDTO{
			OrderID:       rec.OrderID,
			Pair:          rec.PairFrom + "/" + rec.PairTo,
			Long:          rec.Long,
			Collateral:    unitsToUSDC(rec.CollateralUnits),
			Leverage:      scaledToLev(rec.Leverage),
			OpenPrice:     ticksToPrice(rec.OpenPriceTicks),
			ClosePrice:    ticksToPrice(rec.ClosePriceTicks),
			ProfitPercent: rec.ProfitPercent,
			AmountSent:    unitsToUSDC(rec.AmountSentUnits),
			Cancelled:     rec.Cancelled,
			CancelReason:  rec.CancelReason,
			ExecutedAt:    rec.ExecutedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

type trackOrderResponse struct {
	OrderID      string    `json:"order_id"`
	TxHash       string    `json:"tx_hash"`
	Status       string    `json:"status"`
	Retries      int       `json:"retries"`
	SubmittedAt  time.Time `json:"submitted_at"`
	BlockNumber  uint64    `json:"block_number,omitempty"`
	RevertReason string    `json:"revert_reason,omitempty"`
}

// TrackOrder reports the recorded state of a submitted order.
// GET /trading/track-order/{id}
func (h *TradingHandler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeInvalid(w, "missing order id")
		return
	}

	tx, err := h.svc.TrackOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trackOrderResponse{
		OrderID:      tx.OrderID,
		TxHash:       tx.Hash.Hex(),
		Status:       string(tx.Status),
		Retries:      tx.Retries,
		SubmittedAt:  tx.SubmittedAt,
		BlockNumber:  tx.BlockNumber,
		RevertReason: tx.RevertReason,
	})
}

type balancesResponse struct {
	Address string  `json:"address,omitempty"`
	ETH     float64 `json:"eth"`
	USDC    float64 `json:"usdc"`
}

// Balances returns the trader's native and collateral balances.
// GET /trading/balances?refresh=
func (h *TradingHandler) Balances(w http.ResponseWriter, r *http.Request) {
	refresh := queryBool(r, "refresh", false)
	bal, err := h.svc.Balances(r.Context(), refresh)
	if err != nil {
		h.logFailure(r, "balances", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{ETH: bal.ETH(), USDC: bal.USDC()})
}

// Faucet requests testnet collateral.
// POST /trading/faucet
func (h *TradingHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	ack, err := h.svc.Faucet(r.Context())
	if err != nil {
		h.logFailure(r, "faucet", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponseFrom(ack))
}

// SetSlippage updates the session slippage percentage.
// PUT /trading/slippage/{pct}
func (h *TradingHandler) SetSlippage(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "pct")
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeInvalid(w, "slippage must be a number")
		return
	}
	if err := h.svc.SetSlippage(pct); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slippage": h.svc.Slippage()})
}

func (h *TradingHandler) logFailure(r *http.Request, name string, err error) {
	if domain.Kind(err) == domain.KindInternal || domain.Kind(err) == domain.KindChainTransient {
		logHandler(h.logger, name).ErrorContext(r.Context(), "operation failed",
			slog.String("error", err.Error()))
	}
}

func parseOptionalAddress(s string) (common.Address, bool) {
	if s == "" {
		return common.Address{}, true
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func clampTradeIndex(i int) uint8 {
	if i < 0 {
		return 0
	}
	if i > 255 {
		return 255
	}
	return uint8(i)
}
