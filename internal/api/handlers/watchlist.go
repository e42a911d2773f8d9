package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/bullscan/internal/watchlist"
	"github.com/wonny/bullscan/pkg/logger"
)

// WatchlistHandler serves per-user watchlists and price alerts
type WatchlistHandler struct {
	watchlist *watchlist.Service
	logger    *logger.Logger
}

// NewWatchlistHandler creates a new watchlist handler
func NewWatchlistHandler(svc *watchlist.Service, log *logger.Logger) *WatchlistHandler {
	return &WatchlistHandler{watchlist: svc, logger: log}
}

// List returns the caller's watchlist
// GET /api/watchlist
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	entries, err := h.watchlist.List(r.Context(), username)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"count": len(entries), "stocks": entries})
}

// Add watches a stock
// POST /api/watchlist
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	var e watchlist.Entry
	if err := decodeJSON(w, r, &e); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := h.watchlist.Add(r.Context(), username, e)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "stock": added})
}

// Remove unwatches a stock
// DELETE /api/watchlist/{code}
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	code := mux.Vars(r)["code"]
	if err := h.watchlist.Remove(r.Context(), username, code); err != nil {
		h.fail(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"code": code})
}

// Alerts returns the caller's price alerts
// GET /api/alerts
func (h *WatchlistHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	alerts, err := h.watchlist.Alerts(r.Context(), username)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"count": len(alerts), "alerts": alerts})
}

// AddAlert creates a price alert
// POST /api/alerts
func (h *WatchlistHandler) AddAlert(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	var a watchlist.Alert
	if err := decodeJSON(w, r, &a); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.watchlist.AddAlert(r.Context(), username, a)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "alert": created})
}

// RemoveAlert deletes a price alert
// DELETE /api/alerts/{id}
func (h *WatchlistHandler) RemoveAlert(w http.ResponseWriter, r *http.Request) {
	username, _ := caller(r)
	id := mux.Vars(r)["id"]
	if err := h.watchlist.RemoveAlert(r.Context(), username, id); err != nil {
		h.fail(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"id": id})
}

func (h *WatchlistHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, watchlist.ErrInvalidCode), errors.Is(err, watchlist.ErrInvalidAlert):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, watchlist.ErrAlreadyWatched):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, watchlist.ErrWatchlistFull):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, watchlist.ErrNotWatched), errors.Is(err, watchlist.ErrAlertNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.WithError(err).Error("Watchlist request failed")
		respondError(w, http.StatusInternalServerError, "watchlist unavailable")
	}
}
