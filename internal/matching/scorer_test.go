package matching

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
)

func TestFeatureScore_Gaussian(t *testing.T) {
	st := contracts.FeatureStat{Mean: 10, Std: 2}

	assert.Equal(t, 1.0, FeatureScore(10, st))
	assert.InDelta(t, 0.135, FeatureScore(14, st), 0.0005)
	assert.InDelta(t, FeatureScore(14, st), FeatureScore(6, st), 1e-12)

	prev := 1.0
	for z := 0.25; z <= 40; z += 0.25 {
		s := FeatureScore(10+z*2, st)
		assert.Greater(t, s, 0.0, "z=%v", z)
		assert.LessOrEqual(t, s, 1.0)
		if z < 8 {
			assert.Less(t, s, prev, "strictly decreasing at z=%v", z)
		}
		prev = s
	}
}

func TestFeatureScore_FarTail(t *testing.T) {
	st := contracts.FeatureStat{Mean: 0, Std: 1}

	prev := FeatureScore(0, st)
	for z := 1.0; z <= 38; z++ {
		s := FeatureScore(z, st)
		require.Less(t, s, prev, "z=%v", z)
		require.Positive(t, s, "z=%v", z)
		prev = s
	}

	for _, z := range []float64{40, 50, 1e6} {
		assert.Equal(t, math.SmallestNonzeroFloat64, FeatureScore(z, st), "z=%v", z)
	}
}

func TestFeatureScore_Range(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		st   contracts.FeatureStat
		want float64
	}{
		{"inside", 3, contracts.FeatureStat{Min: 0, Max: 5}, 1},
		{"on lower bound", 0, contracts.FeatureStat{Min: 0, Max: 5}, 1},
		{"on upper bound", 5, contracts.FeatureStat{Min: 0, Max: 5}, 1},
		{"above by one", 6, contracts.FeatureStat{Min: 0, Max: 5}, 0.8},
		{"below by two", -2, contracts.FeatureStat{Min: 0, Max: 5}, 0.6},
		{"far outside", 20, contracts.FeatureStat{Min: 0, Max: 5}, 0},
		{"point with median", 11, contracts.FeatureStat{Min: 10, Max: 10, Median: 10}, 0.5},
		{"point at zero", 0.5, contracts.FeatureStat{}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FeatureScore(tt.x, tt.st), 1e-9)
		})
	}
}

func TestFeatureScore_RangeDecreasesWithDistance(t *testing.T) {
	st := contracts.FeatureStat{Min: 0, Max: 5}
	prev := 1.0
	for x := 5.5; x < 10; x += 0.5 {
		s := FeatureScore(x, st)
		assert.Less(t, s, prev)
		assert.GreaterOrEqual(t, s, 0.0)
		prev = s
	}
}

func TestScore_EmptyOverlap(t *testing.T) {
	res := Score(contracts.FeatureVector{"a": 1}, contracts.Template{"b": {Mean: 1, Std: 1}}, Options{})
	assert.Equal(t, 0.0, res.Total)
	assert.Equal(t, 0, res.Matched)

	res = Score(nil, nil, Options{})
	assert.Equal(t, 0.0, res.Total)
}

func TestScore_WeightedMean(t *testing.T) {
	tpl := contracts.Template{
		features.RSI:  {Mean: 50, Std: 10},
		features.KDJK: {Mean: 50, Std: 10},
	}
	fv := contracts.FeatureVector{
		features.RSI:  50,
		features.KDJK: 70,
		"unmatched":   1,
	}

	res := Score(fv, tpl, Options{})
	require.Equal(t, 2, res.Matched)

	kdj := math.Exp(-0.5 * 4)
	want := (CoreWeight*1 + DefaultWeight*kdj) / (CoreWeight + DefaultWeight)
	assert.InDelta(t, want, res.Total, 0.0005)
	assert.Equal(t, 1.0, res.Core[features.RSI])
	assert.NotContains(t, res.Core, features.KDJK)
	assert.Contains(t, res.PerFeature, features.KDJK)
}

func TestScore_WeightOverride(t *testing.T) {
	tpl := contracts.Template{
		features.RSI:  {Mean: 50, Std: 10},
		features.KDJK: {Mean: 50, Std: 10},
	}
	fv := contracts.FeatureVector{features.RSI: 50, features.KDJK: 70}

	res := Score(fv, tpl, Options{Weights: map[string]float64{features.KDJK: 0}})
	assert.Equal(t, 1.0, res.Total)
	assert.Equal(t, 1, res.Matched)
}

func TestScore_SkipsNonFinite(t *testing.T) {
	tpl := contracts.Template{"a": {Mean: 1, Std: 1}, "b": {Mean: 1, Std: 1}}
	fv := contracts.FeatureVector{"a": 1, "b": math.NaN()}

	res := Score(fv, tpl, Options{})
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1.0, res.Total)

	res = Score(contracts.FeatureVector{"a": math.Inf(1)}, tpl, Options{})
	assert.Equal(t, 0, res.Matched)
	assert.Equal(t, 0.0, res.Total)
}

func TestScore_Bounded(t *testing.T) {
	tpl := contracts.Template{
		"a": {Mean: 0, Std: 1},
		"b": {Min: 0, Max: 1},
		"c": {Mean: 100, Std: 0.001},
	}
	for _, fv := range []contracts.FeatureVector{
		{"a": 0, "b": 0.5, "c": 100},
		{"a": 1e6, "b": -1e6, "c": -1e6},
		{"a": 3, "b": 2, "c": 100.002},
	} {
		res := Score(fv, tpl, Options{ConvergenceBonus: true})
		assert.GreaterOrEqual(t, res.Total, 0.0)
		assert.LessOrEqual(t, res.Total, 1.0)
	}
}

func TestScore_ConvergenceBonus(t *testing.T) {
	tpl := contracts.Template{
		features.MAConvergence: {Mean: 4, Median: 4, Std: 2},
		features.RSI:           {Mean: 50, Std: 10},
	}
	fv := contracts.FeatureVector{features.MAConvergence: 2, features.RSI: 60}

	plain := Score(fv, tpl, Options{})
	bonus := Score(fv, tpl, Options{ConvergenceBonus: true})
	assert.InDelta(t, plain.Total+0.01, bonus.Total, 0.0015)

	fv[features.MAConvergence] = 6
	assert.Equal(t, Score(fv, tpl, Options{}).Total, Score(fv, tpl, Options{ConvergenceBonus: true}).Total)
}

func TestScore_Idempotent(t *testing.T) {
	tpl := contracts.Template{"a": {Mean: 1, Std: 0.5}, "b": {Min: 1, Max: 2}}
	fv := contracts.FeatureVector{"a": 1.3, "b": 2.4}
	assert.Equal(t, Score(fv, tpl, Options{}), Score(fv, tpl, Options{}))
}
