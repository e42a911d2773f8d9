package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
	"github.com/wonny/bullscan/internal/matching"
)

const (
	DefaultBuyPointThreshold = 0.95
	DefaultSellWeeks         = 20

	surgeMinRatio  = 3.0
	surgeLookback  = 52
	minSurgeIdx    = 20
	trailingGain   = 20.0
	sellStopLossPc = 0.10
)

// BuyPoint is a historical week whose surge-point features matched the template
type BuyPoint struct {
	Date          time.Time          `json:"date"`
	Price         float64            `json:"price"`
	Score         float64            `json:"score"`
	SurgeDate     time.Time          `json:"surge_date"`
	CoreMatches   map[string]float64 `json:"core_matches,omitempty"`
	Gain4W        *float64           `json:"gain_4w,omitempty"`
	Gain10W       *float64           `json:"gain_10w,omitempty"`
	Gain20W       *float64           `json:"gain_20w,omitempty"`
	MaxGain10W    *float64           `json:"max_gain_10w,omitempty"`
	StopLossPrice float64            `json:"stop_loss_price"`
	BestSellPrice *float64           `json:"best_sell_price,omitempty"`
	BestSellDate  *time.Time         `json:"best_sell_date,omitempty"`
}

// BuyPointReport summarizes FindBuyPoints
type BuyPointReport struct {
	Code          string     `json:"code"`
	Threshold     float64    `json:"threshold"`
	WeeksScanned  int        `json:"weeks_scanned"`
	MaxScore      float64    `json:"max_score"`
	Points        []BuyPoint `json:"points"`
	Profitable4W  int        `json:"profitable_4w"`
	Profitable10W int        `json:"profitable_10w"`
}

// FindBuyPoints walks every weekly bar from index 40 and reports those whose
// volume-surge anchor scores at least threshold against the template.
func (d *Driver) FindBuyPoints(ctx context.Context, code string, threshold float64, years int) (*BuyPointReport, error) {
	tpl, err := d.template()
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = DefaultBuyPointThreshold
	}
	if years <= 0 {
		years = 5
	}

	weekly, err := d.fetcher.GetWeeklyBars(ctx, code, years*52+minWeeklyBars)
	if err != nil {
		return nil, fmt.Errorf("weekly bars %s: %w", code, err)
	}
	if len(weekly) <= minWeeklyBars {
		return nil, fmt.Errorf("%s has %d weekly bars: %w", code, len(weekly), contracts.ErrInsufficientData)
	}

	daily, err := d.fetcher.GetDailyBars(ctx, code, weekly[0].Date.AddDate(0, 0, -7), weekly.Last().Date)
	if err != nil {
		d.logger.WithError(err).WithField("code", code).Warn("Daily bars unavailable for buy points")
		daily = nil
	}

	report := &BuyPointReport{Code: code, Threshold: threshold}
	scored := make(map[int]matching.Result)

	for i := minWeeklyBars; i < len(weekly); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.WeeksScanned++

		surge := features.FindVolumeSurgePoint(weekly, i, surgeMinRatio, surgeLookback)
		if surge < minSurgeIdx {
			continue
		}

		res, ok := scored[surge]
		if !ok {
			fv, err := features.Extract(weekly, surge, features.DefaultLookback, daily)
			if err != nil {
				continue
			}
			res = matching.Score(fv, tpl, d.scoring)
			scored[surge] = res
		}

		if res.Total > report.MaxScore {
			report.MaxScore = res.Total
		}
		if res.Total < threshold {
			continue
		}
		if bigBearishOn(daily, weekly[i].Date) {
			continue
		}

		buy := weekly[i]
		p := project(buy.Close, weekly[i+1:], ma20At(weekly, i))
		bp := BuyPoint{
			Date:          buy.Date,
			Price:         contracts.Round(buy.Close, 2),
			Score:         res.Total,
			SurgeDate:     weekly[surge].Date,
			CoreMatches:   res.Core,
			Gain4W:        p.Gain4W,
			Gain10W:       p.Gain10W,
			Gain20W:       p.Gain20W,
			MaxGain10W:    p.MaxGain10W,
			StopLossPrice: p.StopLoss,
			BestSellPrice: p.BestSellPrice,
			BestSellDate:  p.BestSellDate,
		}
		if bp.Gain4W != nil && *bp.Gain4W > 0 {
			report.Profitable4W++
		}
		if bp.Gain10W != nil && *bp.Gain10W > 0 {
			report.Profitable10W++
		}
		report.Points = append(report.Points, bp)
	}

	d.logger.WithFields(map[string]interface{}{
		"code":      code,
		"weeks":     report.WeeksScanned,
		"points":    len(report.Points),
		"max_score": report.MaxScore,
	}).Info("Buy points searched")

	return report, nil
}

// SellPoints describes exits after a buy
type SellPoints struct {
	Code          string     `json:"code"`
	BuyDate       time.Time  `json:"buy_date"`
	BuyPrice      float64    `json:"buy_price"`
	WeeksChecked  int        `json:"weeks_checked"`
	BestSellPrice *float64   `json:"best_sell_price,omitempty"`
	BestSellDate  *time.Time `json:"best_sell_date,omitempty"`
	MaxGainPct    *float64   `json:"max_gain_pct,omitempty"`
	StopLossPrice float64    `json:"stop_loss_price"`
	StopLossDate  *time.Time `json:"stop_loss_date,omitempty"`
	TrailingPrice *float64   `json:"trailing_exit_price,omitempty"`
	TrailingDate  *time.Time `json:"trailing_exit_date,omitempty"`
}

// FindSellPoints looks at the weeks after buyDate for the highest high, the
// first touch of a 10% stop loss, and the first weekly close below MA5 once
// the running gain has reached 20%.
func (d *Driver) FindSellPoints(ctx context.Context, code string, buyDate time.Time, buyPrice float64, weeks int) (*SellPoints, error) {
	if weeks <= 0 {
		weeks = DefaultSellWeeks
	}
	buyDate = contracts.DayOf(buyDate)

	since := int(d.now().Sub(buyDate).Hours()/(24*7)) + weeks + 10
	weekly, err := d.fetcher.GetWeeklyBars(ctx, code, since)
	if err != nil {
		return nil, fmt.Errorf("weekly bars %s: %w", code, err)
	}
	return sellPoints(code, weekly, buyDate, buyPrice, weeks)
}

func sellPoints(code string, weekly contracts.Bars, buyDate time.Time, buyPrice float64, weeks int) (*SellPoints, error) {
	start := weekly.IndexOnOrAfter(buyDate)
	if start < 0 {
		return nil, fmt.Errorf("%s has no bar on or after %s: %w", code, buyDate.Format("2006-01-02"), contracts.ErrNotFound)
	}
	if buyPrice <= 0 {
		buyPrice = weekly[start].Close
	}

	sp := &SellPoints{
		Code:          code,
		BuyDate:       weekly[start].Date,
		BuyPrice:      contracts.Round(buyPrice, 2),
		StopLossPrice: contracts.Round(buyPrice*(1-sellStopLossPc), 2),
	}

	end := start + 1 + weeks
	if end > len(weekly) {
		end = len(weekly)
	}
	closes := weekly.Closes()
	peakGain := 0.0

	for i := start + 1; i < end; i++ {
		b := weekly[i]
		sp.WeeksChecked++

		if sp.BestSellPrice == nil || b.High > *sp.BestSellPrice {
			price, date := contracts.Round(b.High, 2), b.Date
			sp.BestSellPrice, sp.BestSellDate = &price, &date
			sp.MaxGainPct = pct(buyPrice, b.High)
		}

		if sp.StopLossDate == nil && b.Low <= sp.StopLossPrice {
			date := b.Date
			sp.StopLossDate = &date
		}

		if g := (b.High - buyPrice) / buyPrice * 100; g > peakGain {
			peakGain = g
		}
		if sp.TrailingDate == nil && peakGain >= trailingGain && i >= 4 {
			ma5 := 0.0
			for _, c := range closes[i-4 : i+1] {
				ma5 += c
			}
			ma5 /= 5
			if b.Close < ma5 {
				price, date := contracts.Round(b.Close, 2), b.Date
				sp.TrailingPrice, sp.TrailingDate = &price, &date
			}
		}
	}
	return sp, nil
}
