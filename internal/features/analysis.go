package features

import (
	"errors"
	"fmt"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
)

// ErrGainTooSmall is returned when no interval reaches the minimum gain
var ErrGainTooSmall = errors.New("max gain below threshold")

// GainInterval is the strongest run-up found in a weekly series
type GainInterval struct {
	StartIdx   int       `json:"start_idx"`
	EndIdx     int       `json:"end_idx"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	StartPrice float64   `json:"start_price"`
	EndPrice   float64   `json:"end_price"`
	GainPct    float64   `json:"gain_pct"`
	Weeks      int       `json:"weeks"`
}

// FindMaxGainInterval scans every start bar and measures the highest high
// within the next searchWeeks bars (start bar included) against its close.
func FindMaxGainInterval(weekly contracts.Bars, searchWeeks int, minGain float64) (*GainInterval, error) {
	if searchWeeks <= 0 {
		searchWeeks = 10
	}
	if len(weekly) < searchWeeks {
		return nil, fmt.Errorf("need %d weeks, have %d: %w", searchWeeks, len(weekly), contracts.ErrInsufficientData)
	}

	var best *GainInterval
	for s := 0; s <= len(weekly)-searchWeeks; s++ {
		startPrice := weekly[s].Close
		if startPrice <= 0 {
			continue
		}
		end := s
		for i := s + 1; i < s+searchWeeks; i++ {
			if weekly[i].High > weekly[end].High {
				end = i
			}
		}
		gain := (weekly[end].High - startPrice) / startPrice * 100
		if best == nil || gain > best.GainPct {
			best = &GainInterval{
				StartIdx:   s,
				EndIdx:     end,
				StartDate:  weekly[s].Date,
				EndDate:    weekly[end].Date,
				StartPrice: startPrice,
				EndPrice:   weekly[end].High,
				GainPct:    gain,
				Weeks:      end - s + 1,
			}
		}
	}

	if best == nil || best.GainPct < minGain {
		got := 0.0
		if best != nil {
			got = best.GainPct
		}
		return nil, fmt.Errorf("%.2f%% < %.2f%%: %w", got, minGain, ErrGainTooSmall)
	}

	best.GainPct = contracts.Round(best.GainPct, 2)
	best.StartPrice = contracts.Round(best.StartPrice, 2)
	best.EndPrice = contracts.Round(best.EndPrice, 2)
	return best, nil
}

// FindVolumeSurgePoint returns the earliest bar in [max(1, start-lookback), start)
// whose volume is at least minRatio times the previous bar. Without one it
// falls back to max(0, start-20).
func FindVolumeSurgePoint(weekly contracts.Bars, start int, minRatio float64, lookback int) int {
	if minRatio <= 0 {
		minRatio = 3.0
	}
	if lookback <= 0 {
		lookback = 52
	}
	if start > len(weekly) {
		start = len(weekly)
	}

	from := start - lookback
	if from < 1 {
		from = 1
	}
	for i := from; i < start; i++ {
		prev := weekly[i-1].Volume
		if prev <= 0 {
			continue
		}
		if weekly[i].Volume/prev >= minRatio {
			return i
		}
	}

	if start-20 < 0 {
		return 0
	}
	return start - 20
}
