package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// MarketService defines the read-only market data methods the market
// handler requires.
type MarketService interface {
	Price(ctx context.Context, from, to string) (domain.PairPrice, error)
	Pairs(ctx context.Context) ([]domain.PairInfo, error)
}

// MarketHandler serves read-only market data endpoints.
type MarketHandler struct {
	svc    MarketService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger}
}

type priceResponse struct {
	Pair       string    `json:"pair"`
	Price      float64   `json:"price"`
	MarketOpen bool      `json:"market_open"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Price returns the index price for one pair.
// GET /market/price/{from}/{to}
func (h *MarketHandler) Price(w http.ResponseWriter, r *http.Request) {
	from := pathParam(r, "from")
	to := pathParam(r, "to")

	price, err := h.svc.Price(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		Pair:       from + "/" + to,
		Price:      price.Price(),
		MarketOpen: price.MarketOpen,
		UpdatedAt:  price.At,
	})
}

type pairDTO struct {
	Index       uint16  `json:"index"`
	Pair        string  `json:"pair"`
	MinLeverage float64 `json:"min_leverage"`
	MaxLeverage float64 `json:"max_leverage"`
}

// Pairs lists the tradable pairs.
// GET /market/pairs
func (h *MarketHandler) Pairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.svc.Pairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]pairDTO, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, pairDTO{
			Index:       p.Index,
			Pair:        p.From + "/" + p.To,
			MinLeverage: float64(p.MinLeverage) / 100,
			MaxLeverage: float64(p.MaxLeverage) / 100,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": out})
}

// Status reports open/closed state per market.
// GET /market/status
func (h *MarketHandler) Status(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.svc.Pairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	status := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		price, err := h.svc.Price(r.Context(), p.From, p.To)
		if err != nil {
			h.logger.WarnContext(r.Context(), "market status read failed",
				slog.String("pair", p.From+"/"+p.To),
				slog.String("error", err.Error()))
			continue
		}
		status[p.From+"/"+p.To] = price.MarketOpen
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": status})
}
