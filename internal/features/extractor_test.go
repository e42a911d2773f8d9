package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
)

var base = time.Date(2022, 1, 7, 0, 0, 0, 0, time.UTC)

// zigzag builds n weekly bars oscillating around 10 with a mild uptrend
func zigzag(n int) contracts.Bars {
	bars := make(contracts.Bars, n)
	for i := range bars {
		c := 10 + 0.05*float64(i) + 0.4*math.Sin(float64(i)/2)
		bars[i] = contracts.Bar{
			Date:   base.AddDate(0, 0, 7*i),
			Open:   c - 0.1,
			Close:  c,
			High:   c + 0.3,
			Low:    c - 0.3,
			Volume: 1000 + 100*float64(i%5),
		}
	}
	return bars
}

func dailyFrom(weekly contracts.Bars) contracts.Bars {
	var out contracts.Bars
	for _, w := range weekly {
		for d := 4; d >= 0; d-- {
			out = append(out, contracts.Bar{Date: w.Date.AddDate(0, 0, -d), Close: w.Close})
		}
	}
	return out
}

func TestExtract_InsufficientData(t *testing.T) {
	bars := zigzag(60)

	tests := []struct {
		name string
		idx  int
	}{
		{"index past end", 60},
		{"negative index", -1},
		{"window under 20", 19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv, err := Extract(bars, tt.idx, DefaultLookback, nil)
			assert.ErrorIs(t, err, contracts.ErrInsufficientData)
			assert.Nil(t, fv)
		})
	}
}

func TestExtract_ShrinksLookback(t *testing.T) {
	bars := zigzag(60)

	fv, err := Extract(bars, 30, DefaultLookback, nil)
	require.NoError(t, err)

	assert.Contains(t, fv, MACDDIF)
	assert.Contains(t, fv, PricePosition)
	assert.NotContains(t, fv, AvgVolume40W)
	assert.NotContains(t, fv, BreakHigh40W)
}

func TestExtract_FullWindow(t *testing.T) {
	bars := zigzag(80)
	idx := 60

	fv, err := Extract(bars, idx, DefaultLookback, dailyFrom(bars))
	require.NoError(t, err)

	for _, name := range CoreFeatures {
		assert.Contains(t, fv, name, "core feature %s", name)
	}
	assert.Equal(t, contracts.Round(bars[idx].Close, 2), fv[StartPrice])

	win := bars[idx-40 : idx]
	assert.Equal(t, contracts.Round(mean(tail(win.Volumes(), 10)), 0), fv[AvgVolume10W])
	assert.Equal(t, contracts.Round(mean(tail(win.Closes(), 20)), 2), fv[MA20])

	for k, v := range fv {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), k)
	}
	for _, b := range []string{BrokeMaxVolumeLow, MACDAboveZero, MABullishAlignment, LimitUpPrior2M} {
		assert.Contains(t, []float64{0, 1}, fv[b], b)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	bars := zigzag(80)
	a, err := Extract(bars, 70, 40, nil)
	require.NoError(t, err)
	b, err := Extract(bars, 70, 40, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtract_StartBarExcludedFromWindow(t *testing.T) {
	bars := zigzag(61)
	bars[60].Volume = 1e9
	bars[60].High = 1e3

	fv, err := Extract(bars, 60, 40, nil)
	require.NoError(t, err)
	assert.Less(t, fv[MaxVolume40W], 1e9)
	assert.Less(t, fv[High40W], 1e3)
	assert.Greater(t, fv[StartVolumeRatio], 1000.0)
}

func TestExtract_MaxVolumeLowBroken(t *testing.T) {
	bars := zigzag(61)
	bars[45].Volume = 50000
	bars[45].Low = 20

	fv, err := Extract(bars, 60, 40, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fv[BrokeMaxVolumeLow])
	assert.Equal(t, 20.0, fv[MaxVolumeLow])
	assert.Greater(t, fv[DropBelowMaxVolumeLow], 0.0)
}

func TestExtract_FlatWindowPricePosition(t *testing.T) {
	bars := make(contracts.Bars, 41)
	for i := range bars {
		bars[i] = contracts.Bar{Date: base.AddDate(0, 0, 7*i), Open: 5, Close: 5, High: 5, Low: 5, Volume: 100}
	}

	fv, err := Extract(bars, 40, 40, nil)
	require.NoError(t, err)
	assert.Equal(t, 50.0, fv[PricePosition])
	assert.Equal(t, 0.0, fv[BollWidth])
	assert.Equal(t, 20.0, fv[SidewaysWeeks])
	assert.NotContains(t, fv, PriceVolumeCorr20W)
}

func TestLimitUpPrior(t *testing.T) {
	mk := func(closes ...float64) contracts.Bars {
		out := make(contracts.Bars, len(closes))
		for i, c := range closes {
			out[i] = contracts.Bar{Date: base.AddDate(0, 0, i), Close: c}
		}
		return out
	}

	tests := []struct {
		name  string
		daily contracts.Bars
		want  float64
	}{
		{"nil", nil, 0},
		{"single bar", mk(10), 0},
		{"no limit up", mk(10, 10.5, 10.9, 11.2), 0},
		{"limit up", mk(10, 11, 11.1), 1},
		{"just under", mk(10, 10.94), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, limitUpPrior(tt.daily))
		})
	}
}

func TestLimitUpPrior_OnlyLast44(t *testing.T) {
	closes := make(contracts.Bars, 60)
	for i := range closes {
		closes[i] = contracts.Bar{Date: base.AddDate(0, 0, i), Close: 10}
	}
	closes[5].Close = 11
	assert.Equal(t, 0.0, limitUpPrior(closes))

	closes[40].Close = 11
	assert.Equal(t, 1.0, limitUpPrior(closes))
}

func TestMASmoothness(t *testing.T) {
	trend := make(contracts.Bars, 80)
	for i := range trend {
		trend[i] = contracts.Bar{Date: base.AddDate(0, 0, i), Close: 10 + float64(i)}
	}
	v, ok := maSmoothness(trend)
	require.True(t, ok)
	assert.Equal(t, 25.0, v)

	choppy := make(contracts.Bars, 80)
	for i := range choppy {
		c := 10.0
		if i%3 == 0 {
			c = 12
		}
		choppy[i] = contracts.Bar{Date: base.AddDate(0, 0, i), Close: c}
	}
	v, ok = maSmoothness(choppy)
	require.True(t, ok)
	assert.Less(t, v, 25.0)

	_, ok = maSmoothness(trend[:64])
	assert.False(t, ok)
}

func TestIndicators(t *testing.T) {
	assert.Equal(t, []float64{1, 2}, ema([]float64{1, 2}, 1))
	assert.InDelta(t, 1.0, pearson([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.True(t, math.IsNaN(pearson([]float64{1, 1, 1}, []float64{1, 2, 3})))
	assert.InDelta(t, 1.5811, sampleStd([]float64{1, 2, 3, 4, 5}), 1e-4)
	assert.Equal(t, 2, argmax([]float64{1, 3, 5, 5}))
}
