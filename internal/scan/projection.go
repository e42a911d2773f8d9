package scan

import (
	"time"

	"github.com/wonny/bullscan/internal/contracts"
)

// projection is what happened after a buy point, where history exists
type projection struct {
	Gain4W        *float64
	Gain10W       *float64
	Gain20W       *float64
	MaxGain10W    *float64
	StopLoss      float64
	BestSellPrice *float64
	BestSellDate  *time.Time
}

func pct(from, to float64) *float64 {
	v := contracts.Round((to-from)/from*100, 2)
	return &v
}

// project measures future weekly bars against buyPrice. ma20 is the weekly
// MA20 at the buy bar, 0 when unknown.
func project(buyPrice float64, future contracts.Bars, ma20 float64) projection {
	p := projection{StopLoss: stopLoss(buyPrice, ma20)}
	if buyPrice <= 0 {
		return p
	}

	if len(future) >= 4 {
		p.Gain4W = pct(buyPrice, future[3].Close)
	}
	if len(future) >= 10 {
		p.Gain10W = pct(buyPrice, future[9].Close)
		hi := future[0].High
		for _, b := range future[1:10] {
			if b.High > hi {
				hi = b.High
			}
		}
		p.MaxGain10W = pct(buyPrice, hi)
	}
	if len(future) >= 20 {
		p.Gain20W = pct(buyPrice, future[19].Close)
	}

	if len(future) > 0 {
		best := 0
		for i := range future {
			if future[i].High > future[best].High {
				best = i
			}
		}
		price := contracts.Round(future[best].High, 2)
		date := future[best].Date
		p.BestSellPrice = &price
		p.BestSellDate = &date
	}
	return p
}

// stopLoss is 5% under the buy price near the MA20 and 10% under it otherwise
func stopLoss(buyPrice, ma20 float64) float64 {
	if ma20 > 0 && buyPrice/ma20 <= 1.05 {
		return contracts.Round(buyPrice*0.95, 2)
	}
	return contracts.Round(buyPrice*0.90, 2)
}

func (p projection) apply(c *contracts.Candidate) {
	c.Gain4W = p.Gain4W
	c.Gain10W = p.Gain10W
	c.Gain20W = p.Gain20W
	c.MaxGain10W = p.MaxGain10W
	c.StopLossPrice = p.StopLoss
	c.BestSellPrice = p.BestSellPrice
	c.BestSellDate = p.BestSellDate
}
