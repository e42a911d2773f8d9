package matching

import (
	"math"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
)

const (
	// CoreWeight applies to every name in features.CoreFeatures
	CoreWeight = 3.0
	// DefaultWeight applies to every other feature
	DefaultWeight = 1.0

	maxConvergenceBonus = 0.02
)

// Options tunes Score
type Options struct {
	// Weights overrides the per-feature weight
	Weights map[string]float64
	// ConvergenceBonus rewards MA convergence tighter than the template median
	ConvergenceBonus bool
}

// Result is the outcome of scoring one feature vector
type Result struct {
	Total      float64            `json:"total"`
	Matched    int                `json:"matched"`
	PerFeature map[string]float64 `json:"per_feature"`
	Core       map[string]float64 `json:"core"`
}

// FeatureScore is the similarity of x to one template entry, in [0, 1].
// With spread it is a Gaussian falloff on the z-score; without spread it is a
// hard range check that decays linearly outside [min, max].
//
// The Gaussian underflows float64 past |z| of about 38.6; beyond that every
// value scores math.SmallestNonzeroFloat64, so the score stays positive but
// only falls strictly while |z| is below the cutoff.
func FeatureScore(x float64, st contracts.FeatureStat) float64 {
	if st.Std > 0 {
		z := math.Abs(x-st.Mean) / st.Std
		s := math.Exp(-0.5 * z * z)
		if s <= 0 {
			return math.SmallestNonzeroFloat64
		}
		return s
	}

	if x >= st.Min && x <= st.Max {
		return 1
	}
	dist := st.Min - x
	if x > st.Max {
		dist = x - st.Max
	}
	span := st.Max - st.Min
	if span == 0 {
		span = math.Abs(st.Median) * 0.2
	}
	if span == 0 {
		span = 1
	}
	return math.Max(0, 1-dist/span)
}

// Weight returns the aggregation weight of name under opts
func (o Options) Weight(name string) float64 {
	if w, ok := o.Weights[name]; ok {
		return w
	}
	if features.IsCore(name) {
		return CoreWeight
	}
	return DefaultWeight
}

// Score compares fv against tpl. Features missing on either side and
// non-finite candidate values are skipped. No overlap scores 0.
func Score(fv contracts.FeatureVector, tpl contracts.Template, opts Options) Result {
	res := Result{
		PerFeature: make(map[string]float64),
		Core:       make(map[string]float64),
	}

	var weighted, weights float64
	for name, x := range fv {
		st, ok := tpl[name]
		if !ok || math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		w := opts.Weight(name)
		if w <= 0 {
			continue
		}

		s := FeatureScore(x, st)
		weighted += w * s
		weights += w
		res.Matched++

		res.PerFeature[name] = contracts.Round(s, 3)
		if features.IsCore(name) {
			res.Core[name] = contracts.Round(s, 3)
		}
	}

	if weights == 0 {
		return res
	}

	total := weighted / weights
	if opts.ConvergenceBonus {
		total += convergenceBonus(fv, tpl)
	}
	res.Total = contracts.Round(math.Min(1, math.Max(0, total)), 3)
	return res
}

func convergenceBonus(fv contracts.FeatureVector, tpl contracts.Template) float64 {
	x, ok := fv[features.MAConvergence]
	st, tok := tpl[features.MAConvergence]
	if !ok || !tok || st.Median <= 0 || x >= st.Median || x < 0 {
		return 0
	}
	return maxConvergenceBonus * (st.Median - x) / st.Median
}
