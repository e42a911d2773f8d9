package contracts

import (
	"math"
	"time"
)

// Bar is one OHLCV bar. Daily and weekly bars share the type.
// Weekly bars are dated by the last trading day of the week.
type Bar struct {
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
	PctChange float64   `json:"pct_change"`
}

// Bars is a date-ascending bar series
type Bars []Bar

// Closes returns the close column
func (b Bars) Closes() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.Close
	}
	return out
}

// Highs returns the high column
func (b Bars) Highs() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.High
	}
	return out
}

// Lows returns the low column
func (b Bars) Lows() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.Low
	}
	return out
}

// Volumes returns the volume column
func (b Bars) Volumes() []float64 {
	out := make([]float64, len(b))
	for i, bar := range b {
		out[i] = bar.Volume
	}
	return out
}

// Until returns the prefix of bars dated on or before date
func (b Bars) Until(date time.Time) Bars {
	day := DayOf(date)
	n := len(b)
	for n > 0 && DayOf(b[n-1].Date).After(day) {
		n--
	}
	return b[:n]
}

// Before returns the prefix of bars dated strictly before date
func (b Bars) Before(date time.Time) Bars {
	day := DayOf(date)
	n := len(b)
	for n > 0 && !DayOf(b[n-1].Date).Before(day) {
		n--
	}
	return b[:n]
}

// IndexOf returns the index of the bar dated on date, or -1
func (b Bars) IndexOf(date time.Time) int {
	day := DayOf(date)
	for i := range b {
		if DayOf(b[i].Date).Equal(day) {
			return i
		}
	}
	return -1
}

// IndexOnOrAfter returns the first bar dated on or after date, or -1
func (b Bars) IndexOnOrAfter(date time.Time) int {
	day := DayOf(date)
	for i := range b {
		if !DayOf(b[i].Date).Before(day) {
			return i
		}
	}
	return -1
}

// Last returns the final bar. It panics on an empty series.
func (b Bars) Last() Bar {
	return b[len(b)-1]
}

// DayOf returns the calendar day of t, in t's location, as UTC midnight.
// Bar dates and scan dates are all compared in this form.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar day
func ParseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// Round rounds x to n decimal places
func Round(x float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.Round(x*p) / p
}
