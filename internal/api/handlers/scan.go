package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/export"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/pkg/config"
	"github.com/wonny/bullscan/pkg/logger"
)

// ScanHandler starts, continues and reports scans
type ScanHandler struct {
	driver   *scan.Driver
	limits   *scan.Limits
	defaults config.ScanConfig
	logger   *logger.Logger
}

// NewScanHandler creates a new scan handler
func NewScanHandler(driver *scan.Driver, limits *scan.Limits, defaults config.ScanConfig, log *logger.Logger) *ScanHandler {
	return &ScanHandler{driver: driver, limits: limits, defaults: defaults, logger: log}
}

// scanRequest is the body of POST /api/scan. Zero values take the configured defaults.
type scanRequest struct {
	MinScore     *float64 `json:"min_score"`
	MaxCap       *float64 `json:"max_market_cap"`
	Limit        int      `json:"limit"`
	ScanDate     string   `json:"scan_date"`
	Session      string   `json:"scan_session"`
	SkipTrend    bool     `json:"skip_trend_filter"`
	SkipBearish  bool     `json:"skip_bearish_filter"`
	Batch        bool     `json:"batch"`
	BatchSize    int      `json:"batch_size"`
	StockTimeout int      `json:"stock_timeout_seconds"`
}

func (h *ScanHandler) params(req scanRequest, username string) (contracts.ScanParams, error) {
	p := contracts.ScanParams{
		MinMatchScore:     h.defaults.MinMatchScore,
		MaxMarketCap:      h.defaults.MaxMarketCap,
		Limit:             req.Limit,
		ScanSession:       req.Session,
		Workers:           h.defaults.Workers,
		BatchSize:         h.defaults.BatchSize,
		StockTimeout:      h.defaults.StockTimeout,
		CapTimeout:        h.defaults.CapTimeout,
		SkipTrendFilter:   req.SkipTrend,
		SkipBearishFilter: req.SkipBearish,
		Username:          username,
	}
	if req.MinScore != nil {
		if *req.MinScore < 0 || *req.MinScore > 1 {
			return p, fmt.Errorf("min_score must be within [0,1]")
		}
		p.MinMatchScore = *req.MinScore
	}
	if req.MaxCap != nil {
		p.MaxMarketCap = *req.MaxCap
	}
	if req.BatchSize > 0 {
		p.BatchSize = req.BatchSize
	}
	if req.StockTimeout > 0 {
		p.StockTimeout = time.Duration(req.StockTimeout) * time.Second
	}
	if req.ScanDate != "" {
		d, err := contracts.ParseDate(req.ScanDate)
		if err != nil {
			return p, fmt.Errorf("scan_date must be YYYY-MM-DD")
		}
		p.ScanDate = d
	}
	return p, nil
}

// Start begins a scan. Batch scans run their first batch synchronously.
// POST /api/scan
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	username, tier := caller(r)

	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := h.params(req, username)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.limits.Acquire(r.Context(), username, tier); err != nil {
		switch {
		case errors.Is(err, scan.ErrOutsideScanHours):
			respondError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, scan.ErrDailyScanLimit):
			respondError(w, http.StatusTooManyRequests, err.Error())
		default:
			h.logger.WithError(err).Error("Scan quota check failed")
			respondError(w, http.StatusInternalServerError, "failed to check scan quota")
		}
		return
	}

	if req.Batch {
		res, err := h.driver.RunBatch(r.Context(), "", 1, params)
		if err != nil {
			h.release(r, username, tier)
			h.scanError(w, err)
			return
		}
		respondOK(w, map[string]interface{}{"batch": res})
		return
	}

	id, err := h.driver.Start(r.Context(), params)
	if err != nil {
		h.release(r, username, tier)
		h.scanError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"scan_id": id,
	})
}

// release gives back the quota of a scan that failed to start
func (h *ScanHandler) release(r *http.Request, username string, tier contracts.Tier) {
	if err := h.limits.Release(context.WithoutCancel(r.Context()), username, tier); err != nil {
		h.logger.WithError(err).WithField("username", username).Warn("Failed to release scan quota")
	}
}

// owns reports whether the caller started scan id. Super users own every scan.
func (h *ScanHandler) owns(w http.ResponseWriter, r *http.Request, id string) bool {
	username, tier := caller(r)
	if tier == contracts.TierSuper {
		return true
	}
	prog, err := h.driver.Progress(r.Context(), id)
	if err != nil {
		h.scanError(w, err)
		return false
	}
	if prog.Params.Username != username {
		respondError(w, http.StatusForbidden, "scan belongs to another user")
		return false
	}
	return true
}

// Continue runs the next batch of a batch scan
// POST /api/scan/continue
func (h *ScanHandler) Continue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScanID string `json:"scan_id"`
		Batch  int    `json:"batch"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScanID == "" || req.Batch < 2 {
		respondError(w, http.StatusBadRequest, "scan_id and batch >= 2 are required")
		return
	}

	if !h.owns(w, r, req.ScanID) {
		return
	}

	res, err := h.driver.RunBatch(r.Context(), req.ScanID, req.Batch, contracts.ScanParams{})
	if err != nil {
		h.scanError(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"batch": res})
}

// Stop asks a scan to end
// POST /api/scan/stop
func (h *ScanHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScanID string `json:"scan_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, ok := h.resolveID(w, r, req.ScanID)
	if !ok || !h.owns(w, r, id) {
		return
	}
	if err := h.driver.Stop(r.Context(), id); err != nil {
		h.scanError(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"scan_id": id})
}

// Progress returns the polled state of a scan
// GET /api/scan/progress?scan_id=
func (h *ScanHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.resolveID(w, r, r.URL.Query().Get("scan_id"))
	if !ok {
		return
	}
	prog, err := h.driver.Progress(r.Context(), id)
	if err != nil {
		h.scanError(w, err)
		return
	}
	prog.Candidates = nil
	respondOK(w, map[string]interface{}{"progress": prog})
}

// Results returns the candidates of a scan, subject to the tier's view hours
// GET /api/scan/results?scan_id=
func (h *ScanHandler) Results(w http.ResponseWriter, r *http.Request) {
	cands, id, ok := h.results(w, r)
	if !ok {
		return
	}
	respondOK(w, map[string]interface{}{
		"scan_id":    id,
		"count":      len(cands),
		"candidates": cands,
	})
}

// Export downloads the candidates of a scan as csv, json or xlsx
// GET /api/scan/export?scan_id=&format=xlsx
func (h *ScanHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cands, id, ok := h.results(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.FileName(id)))
	if err := export.Write(w, format, cands); err != nil {
		h.logger.WithError(err).WithField("scan_id", id).Error("Export failed")
	}
}

func (h *ScanHandler) results(w http.ResponseWriter, r *http.Request) ([]contracts.Candidate, string, bool) {
	_, tier := caller(r)
	if err := h.limits.CanViewResults(tier); err != nil {
		respondError(w, http.StatusForbidden, err.Error())
		return nil, "", false
	}
	id, ok := h.resolveID(w, r, r.URL.Query().Get("scan_id"))
	if !ok {
		return nil, "", false
	}
	cands, err := h.driver.Results(r.Context(), id)
	if err != nil {
		h.scanError(w, err)
		return nil, "", false
	}
	if cands == nil {
		cands = []contracts.Candidate{}
	}
	return cands, id, true
}

// resolveID falls back to the caller's latest scan
func (h *ScanHandler) resolveID(w http.ResponseWriter, r *http.Request, id string) (string, bool) {
	if id != "" {
		return id, true
	}
	username, _ := caller(r)
	latest, err := h.driver.Latest(r.Context(), username)
	if err != nil {
		respondError(w, http.StatusNotFound, "no scan found")
		return "", false
	}
	return latest, true
}

func (h *ScanHandler) scanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrScanNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scan.ErrScanRunning), errors.Is(err, scan.ErrScanFinished):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scan.ErrNoModel):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, contracts.ErrInsufficientData):
		respondError(w, http.StatusBadGateway, "stock universe unavailable")
	default:
		h.logger.WithError(err).Error("Scan request failed")
		respondError(w, http.StatusInternalServerError, "scan failed")
	}
}
