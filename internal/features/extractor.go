package features

import (
	"math"

	"github.com/wonny/bullscan/internal/contracts"
)

const (
	// DefaultLookback is the weekly window before the start bar
	DefaultLookback = 40
	// MinLookback is the shortest window worth extracting
	MinLookback = 20

	smoothnessDailyBars = 65
	limitUpDailyBars    = 44
	limitUpPct          = 9.5
)

// Extract computes the feature vector for weekly[idx] as the start bar.
// The window is weekly[idx-lookback : idx]; the start bar itself is excluded.
// daily is optional and only feeds the smoothness and limit-up features.
func Extract(weekly contracts.Bars, idx, lookback int, daily contracts.Bars) (contracts.FeatureVector, error) {
	if idx < 0 || idx >= len(weekly) {
		return nil, contracts.ErrInsufficientData
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if idx < lookback {
		lookback = idx
	}
	if lookback < MinLookback {
		return nil, contracts.ErrInsufficientData
	}

	w := window{
		bars:   weekly[idx-lookback : idx],
		start:  weekly[idx],
		prev:   weekly[idx-1],
		fv:     make(contracts.FeatureVector, 64),
		closes: weekly[idx-lookback : idx].Closes(),
		highs:  weekly[idx-lookback : idx].Highs(),
		lows:   weekly[idx-lookback : idx].Lows(),
		vols:   weekly[idx-lookback : idx].Volumes(),
	}

	w.volume()
	w.price()
	w.movingAverages()
	w.priceVolume()
	w.volatility()
	w.fv[StartPrice] = contracts.Round(w.start.Close, 2)
	w.macd()
	w.rsi()
	w.kdj()
	w.obv()
	w.convergence()
	w.bollinger()
	w.chips()
	w.breakouts()
	w.sideways()

	if daily != nil {
		if v, ok := maSmoothness(daily.Until(w.start.Date)); ok {
			w.fv[MASmoothness] = v
		}
	}
	w.fv[LimitUpPrior2M] = limitUpPrior(daily.Before(w.start.Date))

	for k, v := range w.fv {
		if !finite(v) {
			delete(w.fv, k)
		}
	}
	return w.fv, nil
}

type window struct {
	bars   contracts.Bars
	start  contracts.Bar
	prev   contracts.Bar
	fv     contracts.FeatureVector
	closes []float64
	highs  []float64
	lows   []float64
	vols   []float64
}

func (w *window) n() int { return len(w.bars) }

func (w *window) set(name string, v float64, places int) {
	w.fv[name] = contracts.Round(v, places)
}

func (w *window) volume() {
	sv := w.start.Volume

	if w.n() >= 10 {
		avg10 := mean(tail(w.vols, 10))
		if avg10 > 0 {
			w.set(StartVolumeRatio, sv/avg10, 2)
		} else {
			w.fv[StartVolumeRatio] = 1
		}
		w.set(AvgVolume10W, avg10, 0)
	}
	if w.n() >= 20 {
		vol10 := mean(tail(w.vols, 10))
		vol20 := mean(tail(w.vols, 20))
		w.set(AvgVolume20W, vol20, 0)
		if vol20 > 0 {
			w.set(VolumeShrink, vol10/vol20, 2)
		} else {
			w.fv[VolumeShrink] = 1
		}
	}
	if w.n() >= 40 {
		w.set(AvgVolume40W, mean(tail(w.vols, 40)), 0)
	}

	vols, lows := tail(w.vols, 40), tail(w.lows, 40)
	i := argmax(vols)
	maxVol, maxLow := vols[i], lows[i]
	w.set(MaxVolume40W, maxVol, 0)
	w.set(MaxVolumeLow, maxLow, 2)
	if maxLow > 0 && w.start.Close < maxLow {
		w.fv[BrokeMaxVolumeLow] = 1
		w.set(DropBelowMaxVolumeLow, (maxLow-w.start.Close)/maxLow*100, 2)
	} else {
		w.fv[BrokeMaxVolumeLow] = 0
		w.fv[DropBelowMaxVolumeLow] = 0
	}
	if m := contracts.Round(maxVol, 0); m > 0 {
		w.set(StartVolumeVsMax, sv/m, 2)
	}
}

func (w *window) price() {
	if w.n() >= 20 {
		high20 := maxOf(tail(w.highs, 20))
		low20 := minOf(tail(w.lows, 20))
		if high20 > low20 {
			w.set(PricePosition, (w.start.Close-low20)/(high20-low20)*100, 2)
			w.set(DropFromHigh20W, (high20-w.start.Close)/high20*100, 2)
		} else {
			w.fv[PricePosition] = 50
			w.fv[DropFromHigh20W] = 0
		}
		w.set(High20W, high20, 2)
		w.set(Low20W, low20, 2)
		if low20 > 0 {
			w.set(Amplitude20W, (high20-low20)/low20*100, 2)
		}
	}
	if w.n() >= 40 {
		w.set(High40W, maxOf(tail(w.highs, 40)), 2)
		w.set(Low40W, minOf(tail(w.lows, 40)), 2)
	}
}

func (w *window) movingAverages() {
	sp := w.start.Close
	for _, ma := range []struct {
		period     int
		value, rel string
	}{
		{5, MA5, PriceVsMA5},
		{10, MA10, PriceVsMA10},
		{20, MA20, PriceVsMA20},
		{40, MA40, PriceVsMA40},
	} {
		if w.n() < ma.period {
			continue
		}
		v := mean(tail(w.closes, ma.period))
		if v > 0 {
			w.set(ma.rel, (sp-v)/v*100, 2)
			w.set(ma.value, v, 2)
		}
	}

	if w.n() >= 20 {
		recent := mean(tail(w.closes, 5))
		earlier := mean(w.closes[w.n()-20 : w.n()-15])
		if earlier > 0 {
			w.set(MA20Slope, (recent-earlier)/earlier*100, 2)
		}
	}
}

func (w *window) priceVolume() {
	if w.n() >= 20 {
		pc := pctChange(tail(w.closes, 20))
		vc := pctChange(tail(w.vols, 20))
		if len(pc) > 5 {
			if corr := pearson(pc, vc); finite(corr) {
				w.set(PriceVolumeCorr20W, corr, 3)
			}
		}
	}

	up := w.start.Close > w.prev.Close
	volUp := w.start.Volume > w.prev.Volume
	w.fv[StartPriceUp] = boolf(up)
	w.fv[StartVolumeUp] = boolf(volUp)
	w.fv[StartPriceVolumeUp] = boolf(up && volUp)
}

func (w *window) volatility() {
	for _, v := range []struct {
		n    int
		name string
	}{{10, Volatility10W}, {20, Volatility20W}} {
		if w.n() < v.n {
			continue
		}
		c := tail(w.closes, v.n)
		lo := minOf(c)
		if lo > 0 {
			w.set(v.name, (maxOf(c)-lo)/lo*100, 2)
		}
	}
}

func (w *window) macd() {
	if w.n() < 26 {
		return
	}
	ema12 := ema(w.closes, 12)
	ema26 := ema(w.closes, 26)
	dif := make([]float64, w.n())
	for i := range dif {
		dif[i] = ema12[i] - ema26[i]
	}
	dea := ema(dif, 9)

	last := w.n() - 1
	w.set(MACDDIF, dif[last], 4)
	w.set(MACDDEA, dea[last], 4)
	w.set(MACDHist, (dif[last]-dea[last])*2, 4)

	prevDiff := dif[last-1] - dea[last-1]
	currDiff := dif[last] - dea[last]
	w.fv[MACDGoldenCross] = boolf(prevDiff < 0 && currDiff >= 0)
	w.fv[MACDAboveZero] = boolf(dif[last] > 0)
}

func (w *window) rsi() {
	const period = 14
	if w.n() < period {
		return
	}
	// the first delta is undefined and counts as a flat week
	var gain, loss float64
	for i := w.n() - period; i < w.n(); i++ {
		if i == 0 {
			continue
		}
		d := w.closes[i] - w.closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= period
	loss /= period

	rs := gain / (loss + 0.0001)
	rsi := 100 - 100/(1+rs)
	w.set(RSI, rsi, 2)
	w.fv[RSIOversold] = boolf(rsi < 30)
	w.fv[RSIStrong] = boolf(rsi > 50 && rsi < 70)
}

func (w *window) kdj() {
	const period = 9
	if w.n() < period {
		return
	}
	k, d := 50.0, 50.0
	for i := period - 1; i < w.n(); i++ {
		h := maxOf(w.highs[i+1-period : i+1])
		l := minOf(w.lows[i+1-period : i+1])
		rsv := (w.closes[i] - l) / (h - l + 0.0001) * 100
		k = 2.0/3.0*k + 1.0/3.0*rsv
		d = 2.0/3.0*d + 1.0/3.0*k
	}
	w.set(KDJK, k, 2)
	w.set(KDJD, d, 2)
	w.set(KDJJ, 3*k-2*d, 2)
	w.fv[KDJOversold] = boolf(k < 20 && d < 20)
}

func (w *window) obv() {
	if w.n() < 10 {
		return
	}
	obv := make([]float64, w.n())
	for i := 1; i < w.n(); i++ {
		switch {
		case w.closes[i] > w.closes[i-1]:
			obv[i] = obv[i-1] + w.vols[i]
		case w.closes[i] < w.closes[i-1]:
			obv[i] = obv[i-1] - w.vols[i]
		default:
			obv[i] = obv[i-1]
		}
	}

	recent := tail(obv, 10)
	first, last := recent[0], recent[len(recent)-1]
	w.set(OBVTrend, (last-first)/(math.Abs(first)+1)*100, 2)

	if w.n() >= 20 {
		w.fv[OBVNewHigh] = boolf(last >= maxOf(tail(obv, 20))*0.95)
	}
}

func (w *window) convergence() {
	if w.n() < 20 {
		return
	}
	ma5 := mean(tail(w.closes, 5))
	ma10 := mean(tail(w.closes, 10))
	ma20 := mean(tail(w.closes, 20))
	avg := (ma5 + ma10 + ma20) / 3
	if avg > 0 {
		disp := (math.Abs(ma5-avg) + math.Abs(ma10-avg) + math.Abs(ma20-avg)) / avg * 100
		w.set(MAConvergence, disp, 2)
	}
	w.fv[MABullishAlignment] = boolf(ma5 > ma10 && ma10 > ma20)
}

func (w *window) bollinger() {
	const period = 20
	if w.n() < period {
		return
	}
	width := func(end int) (float64, float64, float64, bool) {
		seg := w.closes[end+1-period : end+1]
		mid := mean(seg)
		sd := sampleStd(seg)
		if mid <= 0 {
			return 0, mid - 2*sd, mid + 2*sd, false
		}
		return 4 * sd / mid * 100, mid - 2*sd, mid + 2*sd, true
	}

	last := w.n() - 1
	bw, lower, upper, ok := width(last)
	if !ok {
		bw = 0
	}
	w.set(BollWidth, bw, 2)
	w.set(BollPosition, (w.start.Close-lower)/(upper-lower+0.01)*100, 2)

	// width ten bars back needs a full window of its own
	if back := w.n() - 10; back >= period-1 {
		if bw10, _, _, ok := width(back); ok {
			w.fv[BollSqueeze] = boolf(bw < bw10*0.8)
		}
	}
}

func (w *window) chips() {
	if w.n() < 20 {
		return
	}
	c, v := tail(w.closes, 20), tail(w.vols, 20)
	var totalVol, weighted float64
	for i := range c {
		totalVol += v[i]
		weighted += c[i] * v[i]
	}
	if totalVol <= 0 {
		return
	}
	vwap := weighted / totalVol
	w.set(CostDeviation, (w.start.Close-vwap)/vwap*100, 2)

	var ss float64
	for i := range c {
		ss += (c[i] - vwap) * (c[i] - vwap) * v[i]
	}
	if vwap > 0 {
		w.set(ChipConcentration, math.Sqrt(ss/totalVol)/vwap*100, 2)
	}
}

func (w *window) breakouts() {
	if w.n() >= 20 {
		high20 := maxOf(tail(w.highs, 20))
		w.fv[BreakHigh20W] = boolf(w.start.Close > high20)
		w.fv[NearHigh20W] = boolf(w.start.Close > high20*0.95)
	}
	if w.n() >= 40 {
		w.fv[BreakHigh40W] = boolf(w.start.Close > maxOf(tail(w.highs, 40)))
	}
}

func (w *window) sideways() {
	if w.n() < 20 {
		return
	}
	count := 0
	for _, b := range w.bars[w.n()-20:] {
		if b.Low > 0 && (b.High-b.Low)/b.Low*100 < 10 {
			count++
		}
	}
	w.fv[SidewaysWeeks] = float64(count)
}

// maSmoothness counts direction flips of the daily MA5 over its last 60 changes.
// Fewer flips score higher, capped at 25.
func maSmoothness(daily contracts.Bars) (float64, bool) {
	if len(daily) < smoothnessDailyBars {
		return 0, false
	}
	ma5 := rollingMean(daily.Closes(), 5)[4:]
	chg := tail(pctChange(ma5), 60)

	flips := 0
	for i := 1; i < len(chg); i++ {
		if sign(chg[i]) != sign(chg[i-1]) {
			flips++
		}
	}
	if flips > 25 {
		flips = 25
	}
	return float64(25 - flips), true
}

// limitUpPrior reports a close-to-close gain of at least 9.5% in the last 44 sessions
func limitUpPrior(before contracts.Bars) float64 {
	if len(before) < 2 {
		return 0
	}
	closes := tail(before.Closes(), limitUpDailyBars)
	for _, p := range pctChange(closes) {
		if p*100 >= limitUpPct {
			return 1
		}
	}
	return 0
}
