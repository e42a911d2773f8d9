package scan

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/pkg/logger"
)

var firstFriday = time.Date(2023, 1, 6, 0, 0, 0, 0, time.UTC)

// wave is 80 weekly Friday bars ending 2024-07-12
func wave(scale float64) contracts.Bars {
	bars := make(contracts.Bars, 80)
	for i := range bars {
		c := (10 + 2*math.Sin(float64(i)/3) + 0.05*float64(i)) * scale
		bars[i] = contracts.Bar{
			Date:   firstFriday.AddDate(0, 0, 7*i),
			Open:   c * 0.98,
			High:   c * 1.04,
			Low:    c * 0.95,
			Close:  c,
			Volume: (1000 + 200*float64(i%5)) * scale,
		}
	}
	return bars
}

func templateOf(fv contracts.FeatureVector) contracts.Template {
	tpl := make(contracts.Template, len(fv))
	for k, v := range fv {
		tpl[k] = contracts.FeatureStat{Mean: v, Median: v, Min: v, Max: v, Count: 1}
	}
	return tpl
}

func modelFor(weekly contracts.Bars, idx int) *training.Model {
	fv, err := features.Extract(weekly, idx, features.DefaultLookback, nil)
	if err != nil {
		panic(err)
	}
	return &training.Model{BuyFeatures: training.BuyFeatures{CommonFeatures: templateOf(fv)}}
}

type fakeFetcher struct {
	mu       sync.Mutex
	universe []contracts.StockInfo
	listErr  error
	weekly   map[string]contracts.Bars
	daily    map[string]contracts.Bars
	caps     map[string]float64
	gate     chan struct{}
	calls    int
	lists    int
}

func (f *fakeFetcher) GetAllStocks(context.Context) ([]contracts.StockInfo, error) {
	f.mu.Lock()
	f.lists++
	f.mu.Unlock()
	return f.universe, f.listErr
}

func (f *fakeFetcher) GetWeeklyBars(ctx context.Context, code string, _ int) (contracts.Bars, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	bars, ok := f.weekly[code]
	if !ok {
		return nil, errors.New("upstream error")
	}
	return bars, nil
}

func (f *fakeFetcher) GetDailyBars(_ context.Context, code string, _, _ time.Time) (contracts.Bars, error) {
	bars, ok := f.daily[code]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	return bars, nil
}

func (f *fakeFetcher) GetMarketCap(_ context.Context, code string) (float64, error) {
	mc, ok := f.caps[code]
	if !ok {
		return 0, contracts.ErrNotFound
	}
	return mc, nil
}

// scanDate lies twelve days after the last wave bar, outside its following week
var scanDate = time.Date(2024, 7, 24, 0, 0, 0, 0, time.UTC)

func newFixture() *fakeFetcher {
	match := wave(1)
	return &fakeFetcher{
		universe: []contracts.StockInfo{
			{Code: "600001", Name: "甲"},
			{Code: "600002", Name: "乙"},
			{Code: "000003", Name: "丙"},
			{Code: "000004", Name: "丁"},
			{Code: "300005", Name: "戊"},
			{Code: "600006", Name: "己"},
			{Code: "600007", Name: "庚"},
		},
		weekly: map[string]contracts.Bars{
			"600001": match,
			"600002": match,
			"000003": wave(100),
			"000004": match,
			"300005": match[:10],
			"600006": match,
		},
		daily: map[string]contracts.Bars{},
		caps: map[string]float64{
			"600001": 50,
			"600002": 500,
			"600006": 20,
		},
	}
}

func newTestDriver(f *fakeFetcher) *Driver {
	return NewDriver(f, NewMemoryProgressStore(), modelFor(wave(1), 79), logger.Nop())
}

func testParams() contracts.ScanParams {
	return contracts.ScanParams{
		MinMatchScore: 0.99,
		MaxMarketCap:  100,
		ScanDate:      scanDate,
		Workers:       3,
		BatchSize:     2,
		StockTimeout:  time.Second,
		CapTimeout:    time.Second,
	}
}

func codes(cands []contracts.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Code
	}
	return out
}

type recordingRepo struct {
	mu    sync.Mutex
	saved []string
}

func (r *recordingRepo) SaveRun(_ context.Context, p *contracts.Progress, _ []contracts.Candidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, p.ScanID+":"+string(p.Status))
	return nil
}

func (r *recordingRepo) RecordScan(ctx context.Context, p *contracts.Progress, c []contracts.Candidate) error {
	return r.SaveRun(ctx, p, c)
}
