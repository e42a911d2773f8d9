package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func sampleBars() Bars {
	return Bars{
		{Date: day("2024-01-05"), Close: 10, High: 11, Low: 9, Volume: 100},
		{Date: day("2024-01-12"), Close: 11, High: 12, Low: 10, Volume: 200},
		{Date: day("2024-01-19"), Close: 12, High: 13, Low: 11, Volume: 300},
	}
}

func TestBars_Columns(t *testing.T) {
	b := sampleBars()
	assert.Equal(t, []float64{10, 11, 12}, b.Closes())
	assert.Equal(t, []float64{11, 12, 13}, b.Highs())
	assert.Equal(t, []float64{9, 10, 11}, b.Lows())
	assert.Equal(t, []float64{100, 200, 300}, b.Volumes())
	assert.Equal(t, 12.0, b.Last().Close)
}

func TestBars_DateSlicing(t *testing.T) {
	b := sampleBars()

	tests := []struct {
		name      string
		date      time.Time
		until     int
		before    int
		indexOf   int
		onOrAfter int
	}{
		{"before all", day("2024-01-01"), 0, 0, -1, 0},
		{"exact middle", day("2024-01-12"), 2, 1, 1, 1},
		{"between", day("2024-01-15"), 2, 2, -1, 2},
		{"after all", day("2024-02-01"), 3, 3, -1, -1},
		{"intraday timestamp", day("2024-01-19").Add(15 * time.Hour), 3, 2, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, b.Until(tt.date), tt.until)
			assert.Len(t, b.Before(tt.date), tt.before)
			assert.Equal(t, tt.indexOf, b.IndexOf(tt.date))
			assert.Equal(t, tt.onOrAfter, b.IndexOnOrAfter(tt.date))
		})
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.135, Round(0.135335, 3))
	assert.Equal(t, 1.24, Round(1.2351, 2))
	assert.Equal(t, 5.0, Round(4.6, 0))
}

func TestTemplate_Clone(t *testing.T) {
	tpl := Template{"rsi": {Mean: 50}}
	c := tpl.Clone()
	c["rsi"] = FeatureStat{Mean: 60}
	assert.Equal(t, 50.0, tpl["rsi"].Mean)
}
