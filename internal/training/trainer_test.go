package training

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
)

type fakeSource struct {
	weekly map[string]contracts.Bars
	err    error
}

func (f *fakeSource) GetWeeklyBars(_ context.Context, code string, _ int) (contracts.Bars, error) {
	if f.err != nil {
		return nil, f.err
	}
	bars, ok := f.weekly[code]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	return bars, nil
}

func (f *fakeSource) GetDailyBars(context.Context, string, time.Time, time.Time) (contracts.Bars, error) {
	return nil, errors.New("daily unavailable")
}

// bullRun is 60 weekly bars: a quiet base with a volume surge at 45 and a
// run-up from 50 that more than doubles the week-49 close.
func bullRun() contracts.Bars {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make(contracts.Bars, 60)
	for i := range bars {
		c := 10 + float64(i%4)*0.1
		if i >= 50 {
			c = 10 + 1.5*float64(i-49)
		}
		if i == 49 {
			c = 10
		}
		vol := 100.0
		if i >= 45 {
			vol = 400
		}
		bars[i] = contracts.Bar{
			Date:   start.AddDate(0, 0, 7*i),
			Open:   c,
			High:   c,
			Low:    c - 0.2,
			Close:  c,
			Volume: vol,
		}
	}
	return bars
}

func newTestTrainer(src Source) *Trainer {
	return NewTrainer(src, logger.Nop())
}

func TestAnalyze_MaxGainSearch(t *testing.T) {
	tr := newTestTrainer(&fakeSource{weekly: map[string]contracts.Bars{"300436": bullRun()}})

	s, err := tr.Analyze(context.Background(), RosterEntry{Code: "300436", Name: "广生堂"}, 40)
	require.NoError(t, err)

	require.NotNil(t, s.Analysis.Interval)
	assert.Equal(t, 49, s.Analysis.BuyIdx)
	assert.Equal(t, 45, s.Analysis.SurgeIdx)
	assert.NotEmpty(t, s.Features)

	cached, ok := tr.Sample("300436")
	require.True(t, ok)
	assert.Same(t, s, cached)
}

func TestAnalyze_BuyDate(t *testing.T) {
	bars := bullRun()
	tr := newTestTrainer(&fakeSource{weekly: map[string]contracts.Bars{"300436": bars}})

	entry := RosterEntry{Code: "300436", BuyDate: bars[50].Date.Format("2006-01-02")}
	s, err := tr.Analyze(context.Background(), entry, 40)
	require.NoError(t, err)
	assert.Nil(t, s.Analysis.Interval)
	assert.Equal(t, 50, s.Analysis.BuyIdx)
	assert.Equal(t, 45, s.Analysis.SurgeIdx)

	// a mid-week date snaps to the next bar
	entry.BuyDate = bars[50].Date.AddDate(0, 0, -2).Format("2006-01-02")
	s, err = tr.Analyze(context.Background(), entry, 40)
	require.NoError(t, err)
	assert.Equal(t, 50, s.Analysis.BuyIdx)
}

func TestAnalyze_Errors(t *testing.T) {
	bars := bullRun()
	tests := []struct {
		name  string
		entry RosterEntry
		bars  contracts.Bars
		want  error
	}{
		{"too few bars", RosterEntry{Code: "000001"}, bars[:15], contracts.ErrInsufficientData},
		{"buy date after data", RosterEntry{Code: "000001", BuyDate: "2030-01-01"}, bars, contracts.ErrNotFound},
		{"surge too early", RosterEntry{Code: "000001", BuyDate: bars[25].Date.Format("2006-01-02")}, bars, contracts.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTrainer(&fakeSource{weekly: map[string]contracts.Bars{"000001": tt.bars}})
			_, err := tr.Analyze(context.Background(), tt.entry, 40)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTrain(t *testing.T) {
	src := &fakeSource{weekly: map[string]contracts.Bars{
		"300436": bullRun(),
		"002788": bullRun(),
	}}
	tr := newTestTrainer(src)
	roster := &Roster{Stocks: []RosterEntry{
		{Code: "300436"},
		{Code: "002788"},
		{Code: "600000"},
	}}

	var calls []string
	model, err := tr.Train(context.Background(), roster, func(cur, total int, code string) {
		assert.Equal(t, 3, total)
		calls = append(calls, code)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"300436", "002788", "600000"}, calls)
	assert.Equal(t, 2, model.SampleCount)
	assert.Equal(t, roster.Hash(), model.RosterHash)
	assert.NotEmpty(t, model.Template())
	for name, st := range model.Template() {
		assert.Equal(t, 2, st.Count, name)
		assert.Equal(t, 0.0, st.Std, name)
	}

	p := tr.Progress()
	assert.False(t, p.Running)
	assert.Equal(t, 3, p.Current)
	assert.Equal(t, []string{"600000"}, p.Failed)
}

func TestTrain_NoSamples(t *testing.T) {
	tr := newTestTrainer(&fakeSource{err: errors.New("offline")})
	_, err := tr.Train(context.Background(), &Roster{Stocks: []RosterEntry{{Code: "300436"}}}, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestTrain_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTestTrainer(&fakeSource{weekly: map[string]contracts.Bars{"300436": bullRun()}})
	_, err := tr.Train(ctx, &Roster{Stocks: []RosterEntry{{Code: "300436"}}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelfMatch(t *testing.T) {
	src := &fakeSource{weekly: map[string]contracts.Bars{"300436": bullRun()}}
	roster := &Roster{Stocks: []RosterEntry{{Code: "300436", Name: "广生堂"}}}

	model, err := newTestTrainer(src).Train(context.Background(), roster, nil)
	require.NoError(t, err)

	results, err := newTestTrainer(src).SelfMatch(context.Background(), model, roster, 0.9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)
	assert.True(t, results[0].AboveFloor)

	_, err = newTestTrainer(src).SelfMatch(context.Background(), &Model{}, roster, 0.9)
	assert.ErrorIs(t, err, ErrNoSamples)
}
