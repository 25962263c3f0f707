package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/service"
)

// PriceReader looks up the latest price of an instrument.
type PriceReader interface {
	Price(ctx context.Context, key domain.SymbolKey) (service.PriceUpdate, error)
}

// MarketHandler serves the instrument catalogue, prices and bars.
type MarketHandler struct {
	pairs   []domain.Pair
	prices  PriceReader
	candles domain.CandleSource
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(pairs []domain.Pair, prices PriceReader, candles domain.CandleSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		pairs:   pairs,
		prices:  prices,
		candles: candles,
		logger:  logHandler(logger, "market"),
	}
}

// ListPairs returns the instrument catalogue.
// GET /api/pairs
func (h *MarketHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pairs": h.pairs})
}

// GetPrice returns the latest price of key.
// GET /api/price?key=BINANCE:BTCUSDT
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	key, ok := requireKey(w, r)
	if !ok {
		return
	}
	p, err := h.prices.Price(r.Context(), key)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetCandles returns historical bars for key, oldest first.
// GET /api/candles?key=BINANCE:BTCUSDT&limit=500
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	key, ok := requireKey(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	candles, err := h.candles.Candles(r.Context(), key, limit)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "candles": candles})
}

func requireKey(w http.ResponseWriter, r *http.Request) (domain.SymbolKey, bool) {
	key := domain.NormalizeKey(r.URL.Query().Get("key"))
	if _, _, err := domain.ParseSymbolKey(key); err != nil {
		writeError(w, http.StatusBadRequest, "key must look like PROVIDER:TICKER")
		return "", false
	}
	return key, true
}
