package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
)

func day(s string) time.Time {
	t, err := contracts.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWithPartialWeek(t *testing.T) {
	// weeks ending Fri 2024-07-05 and Wed 2024-07-10 (holiday-shortened)
	weekly := contracts.Bars{
		{Date: day("2024-07-05"), Open: 9, High: 10, Low: 8.5, Close: 10, Volume: 500},
		{Date: day("2024-07-10"), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 300},
	}
	daily := contracts.Bars{
		{Date: day("2024-07-08"), Open: 10, High: 10.3, Low: 9.9, Close: 10.1, Volume: 100},
		{Date: day("2024-07-09"), Open: 10.1, High: 10.5, Low: 9.8, Close: 10.4, Volume: 100},
		{Date: day("2024-07-10"), Open: 10.4, High: 10.4, Low: 10, Close: 10.2, Volume: 100},
		{Date: day("2024-07-15"), Open: 10.2, High: 11, Low: 10.1, Close: 10.9, Volume: 200},
		{Date: day("2024-07-16"), Open: 10.9, High: 11.5, Low: 10.8, Close: 11.2, Volume: 250},
	}

	t.Run("scan date inside last week rebuilds it", func(t *testing.T) {
		out, ok := withPartialWeek(weekly, daily[:2], day("2024-07-09"))
		require.True(t, ok)
		require.Len(t, out, 2)
		assert.Equal(t, day("2024-07-10"), out[1].Date)
		assert.Equal(t, 10.0, out[1].Open)
		assert.Equal(t, 10.4, out[1].Close)
		assert.Equal(t, 200.0, out[1].Volume)
		assert.Equal(t, 10.2, weekly[1].Close, "input is not modified")
	})

	t.Run("scan date in following week appends", func(t *testing.T) {
		out, ok := withPartialWeek(weekly, daily, day("2024-07-16"))
		require.True(t, ok)
		require.Len(t, out, 3)
		last := out[2]
		assert.Equal(t, day("2024-07-19"), last.Date)
		assert.Equal(t, 10.2, last.Open)
		assert.Equal(t, 11.2, last.Close)
		assert.Equal(t, 11.5, last.High)
		assert.Equal(t, 450.0, last.Volume)
		assert.InDelta(t, 9.8, last.PctChange, 0.01)
	})

	t.Run("weekend after the last bar's week", func(t *testing.T) {
		out, ok := withPartialWeek(weekly, daily, day("2024-07-20"))
		assert.False(t, ok)
		assert.Len(t, out, 2)
	})

	t.Run("two weeks later", func(t *testing.T) {
		_, ok := withPartialWeek(weekly, daily, day("2024-07-24"))
		assert.False(t, ok)
	})

	t.Run("no daily bars", func(t *testing.T) {
		_, ok := withPartialWeek(weekly, nil, day("2024-07-16"))
		assert.False(t, ok)
	})
}

func series(n int, f func(i int) float64) contracts.Bars {
	bars := make(contracts.Bars, n)
	for i := range bars {
		bars[i] = contracts.Bar{Date: day("2022-01-03").AddDate(0, 0, i), Close: f(i)}
	}
	return bars
}

func TestTrendDown(t *testing.T) {
	tests := []struct {
		name string
		bars contracts.Bars
		want bool
	}{
		{"falling", series(300, func(i int) float64 { return 100 - 0.1*float64(i) }), true},
		{"rising", series(300, func(i int) float64 { return 50 + 0.1*float64(i) }), false},
		{"recent rebound lifts ma120", series(300, func(i int) float64 {
			if i > 240 {
				return 100
			}
			return 100 - 0.2*float64(i)
		}), false},
		{"too short", series(260, func(i int) float64 { return 100 - 0.1*float64(i) }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trendDown(tt.bars))
		})
	}
}

func TestBigBearishOn(t *testing.T) {
	daily := contracts.Bars{
		{Date: day("2024-07-22"), Open: 10, Close: 9.7},
		{Date: day("2024-07-23"), Open: 10, Close: 9.71},
		{Date: day("2024-07-24"), Open: 10, Close: 10.5},
	}
	assert.True(t, bigBearishOn(daily, day("2024-07-22")))
	assert.False(t, bigBearishOn(daily, day("2024-07-23")))
	assert.False(t, bigBearishOn(daily, day("2024-07-24")))
	assert.False(t, bigBearishOn(daily, day("2024-07-25")))
	assert.False(t, bigBearishOn(nil, day("2024-07-22")))
}

func TestProject(t *testing.T) {
	future := make(contracts.Bars, 20)
	for i := range future {
		c := 10 + float64(i+1)
		future[i] = contracts.Bar{Date: day("2024-01-05").AddDate(0, 0, 7*(i+1)), Close: c, High: c + 1}
	}
	future[12].High = 50

	p := project(10, future, 9.8)
	require.NotNil(t, p.Gain4W)
	assert.Equal(t, 40.0, *p.Gain4W)
	assert.Equal(t, 100.0, *p.Gain10W)
	assert.Equal(t, 110.0, *p.MaxGain10W)
	assert.Equal(t, 200.0, *p.Gain20W)
	assert.Equal(t, 50.0, *p.BestSellPrice)
	assert.Equal(t, future[12].Date, *p.BestSellDate)
	assert.Equal(t, 9.5, p.StopLoss)

	short := project(10, future[:3], 0)
	assert.Nil(t, short.Gain4W)
	assert.Nil(t, short.MaxGain10W)
	require.NotNil(t, short.BestSellPrice)
	assert.Equal(t, 9.0, short.StopLoss)

	none := project(10, nil, 0)
	assert.Nil(t, none.BestSellPrice)
}

func TestStopLoss(t *testing.T) {
	assert.Equal(t, 9.5, stopLoss(10, 10))
	assert.Equal(t, 9.5, stopLoss(10, 9.6))
	assert.Equal(t, 9.0, stopLoss(10, 9))
	assert.Equal(t, 9.0, stopLoss(10, 0))
}

func TestFutureOf(t *testing.T) {
	weekly := wave(1)
	assert.Equal(t, weekly[11:], futureOf(weekly, weekly[10].Date))
	assert.Equal(t, weekly[11:], futureOf(weekly, weekly[10].Date.AddDate(0, 0, -3)))
	assert.Nil(t, futureOf(weekly, weekly[79].Date))
}

func TestSellPoints(t *testing.T) {
	closes := []float64{10, 10.5, 11, 12, 13, 12.5, 11.8, 11.5, 8.9}
	weekly := make(contracts.Bars, len(closes))
	for i, c := range closes {
		weekly[i] = contracts.Bar{Date: day("2024-01-05").AddDate(0, 0, 7*i), Close: c, High: c + 0.5, Low: c - 0.3}
	}

	sp, err := sellPoints("600001", weekly, day("2024-01-05"), 10, 20)
	require.NoError(t, err)

	assert.Equal(t, 8, sp.WeeksChecked)
	assert.Equal(t, 13.5, *sp.BestSellPrice)
	assert.Equal(t, weekly[4].Date, *sp.BestSellDate)
	assert.Equal(t, 35.0, *sp.MaxGainPct)
	assert.Equal(t, 9.0, sp.StopLossPrice)
	assert.Equal(t, weekly[8].Date, *sp.StopLossDate)
	require.NotNil(t, sp.TrailingDate)
	assert.Equal(t, weekly[6].Date, *sp.TrailingDate)
	assert.Equal(t, 11.8, *sp.TrailingPrice)

	_, err = sellPoints("600001", weekly, day("2025-01-01"), 10, 20)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	sp, err = sellPoints("600001", weekly, day("2024-01-05"), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 10.0, sp.BuyPrice)
	assert.Equal(t, 2, sp.WeeksChecked)
	assert.Nil(t, sp.TrailingDate)
}
