package training

import (
	"context"
	"math"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/matching"
)

// Widen scales every std by multiplier and pads [min, max] by buffer times its range
func Widen(tpl contracts.Template, multiplier, buffer float64) contracts.Template {
	out := tpl.Clone()
	for name, st := range out {
		st.Std = contracts.Round(st.Std*multiplier, 3)
		span := st.Max - st.Min
		if span == 0 {
			span = math.Abs(st.Median) * 0.2
		}
		if span == 0 {
			span = 1
		}
		if buffer > 0 {
			st.Min = contracts.Round(st.Min-buffer*span, 3)
			st.Max = contracts.Round(st.Max+buffer*span, 3)
		}
		out[name] = st
	}
	return out
}

// Calibrate searches the widening grid for the first point where every sample
// self-matches at or above the target. Without one it keeps the point with the
// highest minimum self-match.
func Calibrate(samples []*Sample, tpl contracts.Template, cfg TrainerConfig) (contracts.Template, *Calibration) {
	cfg.applyDefaults()

	var (
		bestTpl contracts.Template
		best    *Calibration
		tried   int
	)
	for _, m := range cfg.StdMultipliers {
		for _, b := range cfg.RangeBuffers {
			tried++
			cand := Widen(tpl, m, b)
			minScore, meanScore := selfMatch(samples, cand)

			cal := &Calibration{
				StdMultiplier: m,
				RangeBuffer:   b,
				TargetScore:   cfg.TargetScore,
				MinSelfMatch:  minScore,
				MeanSelfMatch: meanScore,
			}
			if minScore >= cfg.TargetScore {
				cal.TargetReached = true
				cal.GridPointsTried = tried
				return cand, cal
			}
			if best == nil || minScore > best.MinSelfMatch {
				best, bestTpl = cal, cand
			}
		}
	}

	if best == nil {
		return tpl.Clone(), &Calibration{StdMultiplier: 1, TargetScore: cfg.TargetScore}
	}
	best.GridPointsTried = tried
	return bestTpl, best
}

// Calibrate applies the calibration grid to the model in place
func (m *Model) Calibrate(samples []*Sample, cfg TrainerConfig) {
	tpl, cal := Calibrate(samples, m.Template(), cfg)
	m.BuyFeatures.CommonFeatures = tpl
	m.Calibration = cal
}

func selfMatch(samples []*Sample, tpl contracts.Template) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	minScore, sum := math.Inf(1), 0.0
	for _, s := range samples {
		score := matching.Score(s.Features, tpl, matching.Options{}).Total
		sum += score
		if score < minScore {
			minScore = score
		}
	}
	return contracts.Round(minScore, 3), contracts.Round(sum/float64(len(samples)), 3)
}

// SelfMatchResult is one sample scored against the model it trained
type SelfMatchResult struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	SurgeDate  string  `json:"surge_date"`
	Score      float64 `json:"score"`
	Matched    int     `json:"matched"`
	AboveFloor bool    `json:"above_floor"`
}

// SelfMatch re-analyzes every model sample and scores it against the model
func (t *Trainer) SelfMatch(ctx context.Context, model *Model, roster *Roster, floor float64) ([]SelfMatchResult, error) {
	if model == nil || len(model.Template()) == 0 {
		return nil, ErrNoSamples
	}

	entries := make(map[string]RosterEntry, len(roster.Stocks))
	for _, e := range roster.Stocks {
		entries[e.Code] = e
	}

	results := make([]SelfMatchResult, 0, len(model.SampleStocks))
	for _, ss := range model.SampleStocks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		entry, ok := entries[ss.Code]
		if !ok {
			entry = RosterEntry{Code: ss.Code, Name: ss.Name, BuyDate: ss.BuyDate}
		}

		s, found := t.Sample(ss.Code)
		if !found {
			var err error
			s, err = t.Analyze(ctx, entry, roster.Trainer.LookbackWeeks)
			if err != nil {
				t.logger.WithFields(map[string]interface{}{
					"code":  ss.Code,
					"error": err.Error(),
				}).Warn("Self-match analysis failed")
				continue
			}
		}

		res := matching.Score(s.Features, model.Template(), matching.Options{})
		results = append(results, SelfMatchResult{
			Code:       ss.Code,
			Name:       ss.Name,
			SurgeDate:  s.Analysis.SurgeDate.Format("2006-01-02"),
			Score:      res.Total,
			Matched:    res.Matched,
			AboveFloor: res.Total >= floor,
		})
	}
	return results, nil
}
