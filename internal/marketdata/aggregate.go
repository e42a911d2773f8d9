package marketdata

import (
	"time"

	"github.com/wonny/bullscan/internal/contracts"
)

// WeekStart returns the Monday of t's ISO week
func WeekStart(t time.Time) time.Time {
	d := contracts.DayOf(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// AggregateWeek folds daily bars into one bar dated by the last day:
// first open, last close, max high, min low, summed volume and amount.
func AggregateWeek(daily contracts.Bars) (contracts.Bar, bool) {
	if len(daily) == 0 {
		return contracts.Bar{}, false
	}

	out := contracts.Bar{
		Date:  daily.Last().Date,
		Open:  daily[0].Open,
		Close: daily.Last().Close,
		High:  daily[0].High,
		Low:   daily[0].Low,
	}
	for _, b := range daily {
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Volume += b.Volume
		out.Amount += b.Amount
	}
	return out, true
}

// AggregateWeekly groups daily bars by ISO week
func AggregateWeekly(daily contracts.Bars) contracts.Bars {
	var out contracts.Bars
	start := 0
	for i := 1; i <= len(daily); i++ {
		if i < len(daily) && WeekStart(daily[i].Date).Equal(WeekStart(daily[start].Date)) {
			continue
		}
		bar, _ := AggregateWeek(daily[start:i])
		if n := len(out); n > 0 && out[n-1].Close > 0 {
			bar.PctChange = contracts.Round((bar.Close-out[n-1].Close)/out[n-1].Close*100, 2)
		}
		out = append(out, bar)
		start = i
	}
	return out
}
