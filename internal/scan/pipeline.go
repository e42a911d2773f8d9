package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
	"github.com/wonny/bullscan/internal/marketdata"
	"github.com/wonny/bullscan/internal/matching"
)

const (
	minWeeklyBars     = 40
	dailyHistoryDays  = 420 // covers MA250 twenty sessions back
	trendSlopeDays    = 20
	bearishDropPct    = 3.0
	outdatedAfterDays = 7
)

// processStock runs one stock through extraction, scoring and the filters.
// A nil candidate with a nil error means the stock was filtered out.
func (d *Driver) processStock(ctx context.Context, stock contracts.StockInfo, tpl contracts.Template, params contracts.ScanParams) (*contracts.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, params.StockTimeout)
	defer cancel()

	full, err := d.fetcher.GetWeeklyBars(ctx, stock.Code, scanWeeks)
	if err != nil {
		return nil, fmt.Errorf("weekly bars: %w", err)
	}
	if len(full) < minWeeklyBars {
		return nil, contracts.ErrInsufficientData
	}

	asOf := params.ScanDate
	if asOf.IsZero() {
		asOf = contracts.DayOf(d.now())
	}

	weekly := full
	if !params.ScanDate.IsZero() {
		weekly = full.Until(asOf)
		if len(weekly) < minWeeklyBars {
			return nil, contracts.ErrInsufficientData
		}
	}
	latest := weekly.Last().Date

	daily, err := d.fetcher.GetDailyBars(ctx, stock.Code, asOf.AddDate(0, 0, -dailyHistoryDays), asOf)
	if err != nil {
		daily = nil
	} else {
		daily = daily.Until(asOf)
	}
	if n := len(daily); n > 0 && daily[n-1].Date.After(latest) {
		latest = daily[n-1].Date
	}

	weekly, aggregated := withPartialWeek(weekly, daily, asOf)
	idx := len(weekly) - 1

	fv, err := features.Extract(weekly, idx, features.DefaultLookback, daily)
	if err != nil {
		return nil, err
	}

	score := matching.Score(fv, tpl, d.scoring)
	if score.Total < params.MinMatchScore {
		return nil, nil
	}

	if !params.SkipTrendFilter && trendDown(daily) {
		return nil, nil
	}

	var marketCap *float64
	if params.MaxMarketCap > 0 {
		capCtx, capCancel := context.WithTimeout(ctx, params.CapTimeout)
		mc, err := d.fetcher.GetMarketCap(capCtx, stock.Code)
		capCancel()
		if err == nil && mc > 0 {
			if mc > params.MaxMarketCap {
				return nil, nil
			}
			marketCap = &mc
		}
	}

	if !params.SkipBearishFilter && bigBearishOn(daily, asOf) {
		return nil, nil
	}

	buy := weekly[idx]
	cand := &contracts.Candidate{
		Code:           stock.Code,
		Name:           stock.Name,
		Score:          score.Total,
		BuyDate:        buy.Date,
		BuyPrice:       contracts.Round(buy.Close, 2),
		CurrentPrice:   contracts.Round(full.Last().Close, 2),
		MarketCap:      marketCap,
		ScanDate:       asOf,
		ScanSession:    params.ScanSession,
		CoreMatches:    score.Core,
		Features:       fv,
		LatestDataDate: latest,
		DataOutdated:   asOf.Sub(contracts.DayOf(latest)) > outdatedAfterDays*24*time.Hour,
	}
	if aggregated && !params.ScanDate.IsZero() {
		cand.BuyDate = asOf
	}

	p := project(buy.Close, futureOf(full, buy.Date), ma20At(weekly, idx))
	p.apply(cand)

	return cand, nil
}

// withPartialWeek folds the daily bars of an unfinished week into the weekly
// series. If asOf lies in the last bar's week that bar is rebuilt; if it lies
// in the following Monday to Friday a new bar is appended.
func withPartialWeek(weekly, daily contracts.Bars, asOf time.Time) (contracts.Bars, bool) {
	if len(weekly) == 0 || len(daily) == 0 {
		return weekly, false
	}
	last := weekly.Last()
	lastDay := contracts.DayOf(last.Date)
	monday := marketdata.WeekStart(last.Date)

	var (
		from, weekEnd time.Time
		appendBar     bool
	)
	switch {
	case !asOf.Before(monday) && !asOf.After(lastDay):
		from, weekEnd = monday, last.Date
	case asOf.After(lastDay):
		next := monday.AddDate(0, 0, 7)
		friday := next.AddDate(0, 0, 4)
		if asOf.Before(next) || asOf.After(friday) {
			return weekly, false
		}
		from, weekEnd, appendBar = next, friday, true
	default:
		return weekly, false
	}

	var days contracts.Bars
	for _, b := range daily {
		day := contracts.DayOf(b.Date)
		if !day.Before(from) && !day.After(asOf) {
			days = append(days, b)
		}
	}
	bar, ok := marketdata.AggregateWeek(days)
	if !ok {
		return weekly, false
	}
	bar.Date = weekEnd

	out := make(contracts.Bars, len(weekly), len(weekly)+1)
	copy(out, weekly)
	if appendBar {
		if last.Close > 0 {
			bar.PctChange = contracts.Round((bar.Close-last.Close)/last.Close*100, 2)
		}
		return append(out, bar), true
	}
	if n := len(out); n > 1 && out[n-2].Close > 0 {
		bar.PctChange = contracts.Round((bar.Close-out[n-2].Close)/out[n-2].Close*100, 2)
	}
	out[len(out)-1] = bar
	return out, true
}

func meanClose(bars contracts.Bars) float64 {
	if len(bars) == 0 {
		return 0
	}
	var s float64
	for _, b := range bars {
		s += b.Close
	}
	return s / float64(len(bars))
}

// trendDown reports both MA120 and MA250 falling over the last 20 sessions
func trendDown(daily contracts.Bars) bool {
	n := len(daily)
	if n < 250+trendSlopeDays {
		return false
	}
	slope := func(period int) float64 {
		now := meanClose(daily[n-period:])
		then := meanClose(daily[n-period-trendSlopeDays : n-trendSlopeDays])
		if then <= 0 {
			return 0
		}
		return (now - then) / then
	}
	return slope(120) < 0 && slope(250) < 0
}

// bigBearishOn reports a bearish session on date that fell at least 3% from its open
func bigBearishOn(daily contracts.Bars, date time.Time) bool {
	i := daily.IndexOf(date)
	if i < 0 {
		return false
	}
	b := daily[i]
	if b.Open <= 0 || b.Close >= b.Open {
		return false
	}
	return (b.Open-b.Close)/b.Open*100 >= bearishDropPct
}

func ma20At(weekly contracts.Bars, idx int) float64 {
	if idx < 19 {
		return 0
	}
	return meanClose(weekly[idx-19 : idx+1])
}

// futureOf returns the bars of the weeks after the week containing date
func futureOf(bars contracts.Bars, date time.Time) contracts.Bars {
	week := marketdata.WeekStart(date)
	for i, b := range bars {
		if marketdata.WeekStart(b.Date).After(week) {
			return bars[i:]
		}
	}
	return nil
}
