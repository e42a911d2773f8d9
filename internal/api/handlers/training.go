package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/pkg/logger"
)

const trainTimeout = 30 * time.Minute

// TrainingHandler serves the roster, analysis and model endpoints
type TrainingHandler struct {
	roster    *training.RosterStore
	trainer   *training.Trainer
	driver    *scan.Driver
	modelPath string
	logger    *logger.Logger

	mu  sync.Mutex
	job context.CancelFunc
}

// NewTrainingHandler creates a new training handler
func NewTrainingHandler(roster *training.RosterStore, trainer *training.Trainer, driver *scan.Driver, modelPath string, log *logger.Logger) *TrainingHandler {
	return &TrainingHandler{
		roster:    roster,
		trainer:   trainer,
		driver:    driver,
		modelPath: modelPath,
		logger:    log,
	}
}

// ListStocks returns the bull-stock roster
// GET /api/stocks
func (h *TrainingHandler) ListStocks(w http.ResponseWriter, r *http.Request) {
	roster := h.roster.Snapshot()
	stocks := roster.Stocks
	if stocks == nil {
		stocks = []training.RosterEntry{}
	}
	respondOK(w, map[string]interface{}{
		"stocks":  stocks,
		"count":   len(stocks),
		"trainer": roster.Trainer,
	})
}

// AddStock inserts or replaces a roster entry
// POST /api/stocks
func (h *TrainingHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	var e training.RosterEntry
	if err := decodeJSON(w, r, &e); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	e.Code = strings.TrimSpace(e.Code)

	if err := h.roster.Add(e); err != nil {
		if errors.Is(err, training.ErrInvalidEntry) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to save roster")
		respondError(w, http.StatusInternalServerError, "failed to save roster")
		return
	}
	h.trainer.Forget(e.Code)
	respondOK(w, map[string]interface{}{"stock": e})
}

// RemoveStock deletes a roster entry
// DELETE /api/stocks?code=600000
func (h *TrainingHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		var body struct {
			Code string `json:"code"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		code = body.Code
	}
	if code == "" {
		respondError(w, http.StatusBadRequest, "stock code is required")
		return
	}

	found, err := h.roster.Remove(code)
	if err != nil {
		h.logger.WithError(err).Error("Failed to save roster")
		respondError(w, http.StatusInternalServerError, "failed to save roster")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "stock not in roster")
		return
	}
	h.trainer.Forget(code)
	respondOK(w, map[string]interface{}{"code": code})
}

// ClearStocks empties the roster
// POST /api/stocks/clear
func (h *TrainingHandler) ClearStocks(w http.ResponseWriter, r *http.Request) {
	var codes []string
	for _, e := range h.roster.Snapshot().Stocks {
		codes = append(codes, e.Code)
	}
	if err := h.roster.Clear(); err != nil {
		h.logger.WithError(err).Error("Failed to clear roster")
		respondError(w, http.StatusInternalServerError, "failed to clear roster")
		return
	}
	h.trainer.Forget(codes...)
	respondOK(w, map[string]interface{}{"removed": len(codes)})
}

// Analyze locates the buy and surge points of one stock
// POST /api/analyze/{code}
func (h *TrainingHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	roster := h.roster.Snapshot()

	entry := training.RosterEntry{Code: code}
	for _, e := range roster.Stocks {
		if e.Code == code {
			entry = e
			break
		}
	}
	var body struct {
		BuyDate string `json:"buy_date"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.BuyDate != "" {
		entry.BuyDate = body.BuyDate
	}

	s, err := h.trainer.Analyze(r.Context(), entry, roster.Trainer.LookbackWeeks)
	if err != nil {
		h.logger.WithError(err).WithStock(code).Warn("Analysis failed")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondOK(w, map[string]interface{}{"sample": s})
}

// AnalyzeAll analyzes the whole roster in the background
// POST /api/analyze_all
func (h *TrainingHandler) AnalyzeAll(w http.ResponseWriter, r *http.Request) {
	roster := h.roster.Snapshot()
	if len(roster.Stocks) == 0 {
		respondError(w, http.StatusBadRequest, "roster is empty")
		return
	}
	ok := h.background(func(ctx context.Context) {
		if _, err := h.trainer.AnalyzeAll(ctx, roster, nil); err != nil {
			h.logger.WithError(err).Warn("Roster analysis interrupted")
		}
	})
	if !ok {
		respondError(w, http.StatusConflict, "analysis or training already running")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "total": len(roster.Stocks)})
}

// Analysis returns the cached analysis of one stock
// GET /api/analysis/{code}
func (h *TrainingHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	s, ok := h.trainer.Sample(code)
	if !ok {
		respondError(w, http.StatusNotFound, "stock has not been analyzed")
		return
	}
	respondOK(w, map[string]interface{}{"sample": s})
}

// Train builds a new model from the roster in the background. The driver
// switches to it when training succeeds.
// POST /api/train
func (h *TrainingHandler) Train(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Calibrate bool `json:"calibrate"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	roster := h.roster.Snapshot()
	if len(roster.Stocks) == 0 {
		respondError(w, http.StatusBadRequest, "roster is empty")
		return
	}

	ok := h.background(func(ctx context.Context) {
		model, err := h.trainer.Train(ctx, roster, nil)
		if err != nil {
			h.logger.WithError(err).Error("Training failed")
			return
		}
		if body.Calibrate {
			model.Calibrate(h.trainer.SamplesFor(model), roster.Trainer)
		}
		h.driver.SetModel(model)
	})
	if !ok {
		respondError(w, http.StatusConflict, "analysis or training already running")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "total": len(roster.Stocks)})
}

// background runs fn unless another job is running
func (h *TrainingHandler) background(fn func(ctx context.Context)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.job != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), trainTimeout)
	h.job = cancel
	go func() {
		defer func() {
			cancel()
			h.mu.Lock()
			h.job = nil
			h.mu.Unlock()
		}()
		fn(ctx)
	}()
	return true
}

// Progress reports the analysis or training state
// GET /api/progress
func (h *TrainingHandler) Progress(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]interface{}{"progress": h.trainer.Progress()})
}

// SaveModel writes the active model to MODEL_PATH
// POST /api/model/save
func (h *TrainingHandler) SaveModel(w http.ResponseWriter, r *http.Request) {
	model := h.driver.Model()
	if model == nil || len(model.Template()) == 0 {
		respondError(w, http.StatusConflict, "no trained model to save")
		return
	}
	if err := model.Save(h.modelPath); err != nil {
		h.logger.WithError(err).Error("Failed to save model")
		respondError(w, http.StatusInternalServerError, "failed to save model")
		return
	}
	h.logger.WithField("path", h.modelPath).Info("Model saved")
	respondOK(w, map[string]interface{}{"path": h.modelPath, "samples": model.SampleCount})
}

// ModelFeatures returns the template of the active model
// GET /api/model/features
func (h *TrainingHandler) ModelFeatures(w http.ResponseWriter, r *http.Request) {
	model := h.driver.Model()
	if model == nil || len(model.Template()) == 0 {
		respondError(w, http.StatusNotFound, "no trained model loaded")
		return
	}
	respondOK(w, map[string]interface{}{
		"trained_at":    model.TrainedAt,
		"sample_count":  model.SampleCount,
		"sample_stocks": model.SampleStocks,
		"calibration":   model.Calibration,
		"features":      model.Template(),
		"feature_count": len(model.Template()),
	})
}
