package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/pkg/logger"
)

const maxKlineWeeks = 520

// MarketSource is the market data the single-stock tools read
type MarketSource interface {
	GetWeeklyBars(ctx context.Context, code string, weeks int) (contracts.Bars, error)
	GetQuote(ctx context.Context, code string) (*contracts.Quote, error)
	GetProfile(ctx context.Context, code string) (*contracts.Profile, error)
}

// ToolsHandler serves the single-stock analysis tools
type ToolsHandler struct {
	driver *scan.Driver
	market MarketSource
	logger *logger.Logger
}

// NewToolsHandler creates a new tools handler
func NewToolsHandler(driver *scan.Driver, market MarketSource, log *logger.Logger) *ToolsHandler {
	return &ToolsHandler{driver: driver, market: market, logger: log}
}

// BuyPoints searches a stock's history for weeks that matched the template
// POST /api/buy_points/{code}
func (h *ToolsHandler) BuyPoints(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req struct {
		Threshold float64 `json:"threshold"`
		Years     int     `json:"years"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		respondError(w, http.StatusBadRequest, "threshold must be within [0,1]")
		return
	}

	report, err := h.driver.FindBuyPoints(r.Context(), code, req.Threshold, req.Years)
	if err != nil {
		h.toolError(w, code, err)
		return
	}
	respondOK(w, map[string]interface{}{"report": report})
}

// SellPoints reports exits after a given buy
// POST /api/sell_points
func (h *ToolsHandler) SellPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string  `json:"code"`
		BuyDate  string  `json:"buy_date"`
		BuyPrice float64 `json:"buy_price"`
		Weeks    int     `json:"weeks"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" || req.BuyPrice <= 0 {
		respondError(w, http.StatusBadRequest, "code and a positive buy_price are required")
		return
	}
	buyDate, err := contracts.ParseDate(req.BuyDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "buy_date must be YYYY-MM-DD")
		return
	}

	sp, err := h.driver.FindSellPoints(r.Context(), req.Code, buyDate, req.BuyPrice, req.Weeks)
	if err != nil {
		h.toolError(w, req.Code, err)
		return
	}
	respondOK(w, map[string]interface{}{"sell_points": sp})
}

// WeeklyKline returns weekly bars for charting
// GET /api/kline/{code}/weekly?weeks=104
func (h *ToolsHandler) WeeklyKline(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	weeks := 104
	if s := r.URL.Query().Get("weeks"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "weeks must be a positive integer")
			return
		}
		weeks = n
	}
	if weeks > maxKlineWeeks {
		weeks = maxKlineWeeks
	}

	bars, err := h.market.GetWeeklyBars(r.Context(), code, weeks)
	if err != nil {
		h.toolError(w, code, err)
		return
	}
	respondOK(w, map[string]interface{}{
		"code":  code,
		"count": len(bars),
		"bars":  bars,
	})
}

// Stock returns the live quote and profile of one stock
// GET /api/stock/{code}
func (h *ToolsHandler) Stock(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	quote, err := h.market.GetQuote(r.Context(), code)
	if err != nil {
		h.toolError(w, code, err)
		return
	}

	// profile is best effort
	profile, err := h.market.GetProfile(r.Context(), code)
	if err != nil {
		h.logger.WithStock(code).WithError(err).Debug("Profile unavailable")
		profile = nil
	}

	respondOK(w, map[string]interface{}{
		"quote":   quote,
		"profile": profile,
	})
}

func (h *ToolsHandler) toolError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, scan.ErrNoModel):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, contracts.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contracts.ErrInsufficientData):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(err.Error(), "timeout"):
		respondError(w, http.StatusGatewayTimeout, "upstream timed out")
	default:
		h.logger.WithStock(code).WithError(err).Error("Stock tool failed")
		respondError(w, http.StatusBadGateway, "market data unavailable")
	}
}
