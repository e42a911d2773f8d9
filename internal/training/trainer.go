package training

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
	"github.com/wonny/bullscan/pkg/logger"
)

const (
	analysisWeeks   = 520
	gainSearchWeeks = 10
	minGainPct      = 100.0
	minSurgeIdx     = 20
	dailyHistory    = 150 // calendar days of daily bars before the surge bar
)

// Source provides the bars the trainer needs
type Source interface {
	GetWeeklyBars(ctx context.Context, code string, weeks int) (contracts.Bars, error)
	GetDailyBars(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error)
}

// Sample is one analyzed bull stock
type Sample struct {
	Code     string                  `json:"code"`
	Name     string                  `json:"name"`
	Analysis *Analysis               `json:"analysis"`
	Features contracts.FeatureVector `json:"features"`
}

// Progress reports training state to the API
type Progress struct {
	Running bool      `json:"running"`
	Stage   string    `json:"stage"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Code    string    `json:"code,omitempty"`
	Failed  []string  `json:"failed,omitempty"`
	Updated time.Time `json:"updated_at"`
	Message string    `json:"message,omitempty"`
}

// ProgressFunc is called after each roster entry is processed
type ProgressFunc func(current, total int, code string)

// Trainer analyzes bull stocks and builds the buy-point template
type Trainer struct {
	source Source
	logger *logger.Logger

	mu       sync.RWMutex
	samples  map[string]*Sample
	progress Progress
}

// NewTrainer creates a trainer
func NewTrainer(source Source, log *logger.Logger) *Trainer {
	return &Trainer{
		source:  source,
		logger:  log.WithComponent("trainer"),
		samples: make(map[string]*Sample),
	}
}

// Analyze locates the buy point and surge point of one roster entry and
// extracts features at the surge point.
func (t *Trainer) Analyze(ctx context.Context, entry RosterEntry, lookback int) (*Sample, error) {
	log := t.logger.WithStock(entry.Code)

	weekly, err := t.source.GetWeeklyBars(ctx, entry.Code, analysisWeeks)
	if err != nil {
		return nil, fmt.Errorf("weekly bars %s: %w", entry.Code, err)
	}
	if len(weekly) < minSurgeIdx+1 {
		return nil, fmt.Errorf("%s has %d weekly bars: %w", entry.Code, len(weekly), contracts.ErrInsufficientData)
	}

	buyTime, err := entry.BuyTime()
	if err != nil {
		return nil, err
	}

	a := &Analysis{BuyIdx: -1}
	if buyTime.IsZero() {
		interval, err := features.FindMaxGainInterval(weekly, gainSearchWeeks, minGainPct)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Code, err)
		}
		a.Interval = interval
		a.BuyIdx = interval.StartIdx
	} else {
		a.BuyIdx = weekly.IndexOf(buyTime)
		if a.BuyIdx < 0 {
			a.BuyIdx = weekly.IndexOnOrAfter(buyTime)
		}
		if a.BuyIdx < 0 {
			return nil, fmt.Errorf("%s buy date %s outside data: %w", entry.Code, entry.BuyDate, contracts.ErrNotFound)
		}
	}
	a.BuyDate = weekly[a.BuyIdx].Date

	a.SurgeIdx = features.FindVolumeSurgePoint(weekly, a.BuyIdx, 0, 0)
	if a.SurgeIdx < minSurgeIdx {
		return nil, fmt.Errorf("%s surge index %d < %d: %w", entry.Code, a.SurgeIdx, minSurgeIdx, contracts.ErrInsufficientData)
	}
	a.SurgeDate = weekly[a.SurgeIdx].Date

	daily, err := t.source.GetDailyBars(ctx, entry.Code, a.SurgeDate.AddDate(0, 0, -dailyHistory), a.SurgeDate)
	if err != nil {
		log.WithError(err).Warn("daily bars unavailable, skipping daily features")
		daily = nil
	}

	fv, err := features.Extract(weekly, a.SurgeIdx, lookback, daily)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", entry.Code, err)
	}

	sample := &Sample{Code: entry.Code, Name: entry.Name, Analysis: a, Features: fv}

	t.mu.Lock()
	t.samples[entry.Code] = sample
	t.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"buy_date":   a.BuyDate.Format("2006-01-02"),
		"surge_date": a.SurgeDate.Format("2006-01-02"),
		"features":   len(fv),
	}).Info("Stock analyzed")

	return sample, nil
}

// Sample returns the last analysis of code
func (t *Trainer) Sample(code string) (*Sample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.samples[code]
	return s, ok
}

// SamplesFor returns the cached samples behind the model's sample stocks
func (t *Trainer) SamplesFor(m *Model) []*Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Sample, 0, len(m.SampleStocks))
	for _, ss := range m.SampleStocks {
		if s, ok := t.samples[ss.Code]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Forget drops cached analyses of codes no longer on the roster
func (t *Trainer) Forget(codes ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(codes) == 0 {
		t.samples = make(map[string]*Sample)
		return
	}
	for _, c := range codes {
		delete(t.samples, c)
	}
}

// Progress returns a snapshot of the current training state
func (t *Trainer) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.progress
	p.Failed = append([]string(nil), t.progress.Failed...)
	return p
}

func (t *Trainer) setProgress(fn func(p *Progress)) {
	t.mu.Lock()
	fn(&t.progress)
	t.progress.Updated = time.Now()
	t.mu.Unlock()
}

// AnalyzeAll analyzes every roster entry. Failures are logged and skipped.
func (t *Trainer) AnalyzeAll(ctx context.Context, roster *Roster, onProgress ProgressFunc) ([]*Sample, error) {
	total := len(roster.Stocks)
	t.setProgress(func(p *Progress) {
		*p = Progress{Running: true, Stage: "analyze", Total: total}
	})

	samples := make([]*Sample, 0, total)
	var failed []string
	for i, entry := range roster.Stocks {
		if err := ctx.Err(); err != nil {
			t.setProgress(func(p *Progress) { p.Running = false; p.Message = err.Error() })
			return samples, err
		}

		s, err := t.Analyze(ctx, entry, roster.Trainer.LookbackWeeks)
		if err != nil {
			failed = append(failed, entry.Code)
			t.logger.WithFields(map[string]interface{}{
				"code":  entry.Code,
				"error": err.Error(),
			}).Warn("Skipping roster entry")
		} else {
			samples = append(samples, s)
		}

		t.setProgress(func(p *Progress) {
			p.Current = i + 1
			p.Code = entry.Code
			p.Failed = failed
		})
		if onProgress != nil {
			onProgress(i+1, total, entry.Code)
		}
	}
	return samples, nil
}

// Train analyzes the roster and builds a model from every sample that produced features
func (t *Trainer) Train(ctx context.Context, roster *Roster, onProgress ProgressFunc) (*Model, error) {
	start := time.Now()
	roster.Trainer.applyDefaults()

	samples, err := t.AnalyzeAll(ctx, roster, onProgress)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		t.setProgress(func(p *Progress) { p.Running = false; p.Message = ErrNoSamples.Error() })
		return nil, ErrNoSamples
	}

	t.setProgress(func(p *Progress) { p.Stage = "template" })
	model := NewModel(samples, roster.Hash())

	t.setProgress(func(p *Progress) { p.Running = false; p.Stage = "done" })
	t.logger.WithFields(map[string]interface{}{
		"samples":  len(samples),
		"features": len(model.Template()),
		"failed":   len(roster.Stocks) - len(samples),
		"duration": time.Since(start).String(),
	}).Info("Training completed")

	return model, nil
}

// NewModel builds a model from analyzed samples
func NewModel(samples []*Sample, rosterHash string) *Model {
	m := &Model{
		SchemaVersion: SchemaVersion,
		TrainedAt:     time.Now(),
		RosterHash:    rosterHash,
		SampleCount:   len(samples),
		Analysis:      make(map[string]*Analysis, len(samples)),
	}
	vectors := make([]contracts.FeatureVector, 0, len(samples))
	for _, s := range samples {
		vectors = append(vectors, s.Features)
		m.SampleStocks = append(m.SampleStocks, SampleStock{
			Code:      s.Code,
			Name:      s.Name,
			BuyDate:   s.Analysis.BuyDate.Format("2006-01-02"),
			SurgeDate: s.Analysis.SurgeDate.Format("2006-01-02"),
		})
		m.Analysis[s.Code] = s.Analysis
	}
	m.BuyFeatures.CommonFeatures = BuildTemplate(vectors)
	return m
}
