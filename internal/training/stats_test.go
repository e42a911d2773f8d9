package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
)

func TestBuildTemplate(t *testing.T) {
	tpl := BuildTemplate([]contracts.FeatureVector{
		{"a": 1, "b": 5},
		{"a": 2, "b": math.NaN()},
		{"a": 3},
		{"a": 10, "c": 7},
	})

	assert.Equal(t, contracts.FeatureStat{Mean: 4, Median: 2.5, Std: 3.536, Min: 1, Max: 10, Count: 4}, tpl["a"])
	assert.Equal(t, contracts.FeatureStat{Mean: 5, Median: 5, Std: 0, Min: 5, Max: 5, Count: 1}, tpl["b"])
	assert.Equal(t, 1, tpl["c"].Count)
	assert.Empty(t, BuildTemplate(nil))
}

func calibrationSamples() []*Sample {
	return []*Sample{
		{Code: "1", Features: contracts.FeatureVector{"a": 1}},
		{Code: "2", Features: contracts.FeatureVector{"a": 2}},
		{Code: "3", Features: contracts.FeatureVector{"a": 3}},
	}
}

func TestCalibrate_ReachesTarget(t *testing.T) {
	samples := calibrationSamples()
	tpl := BuildTemplate([]contracts.FeatureVector{samples[0].Features, samples[1].Features, samples[2].Features})
	require.Equal(t, 0.816, tpl["a"].Std)

	out, cal := Calibrate(samples, tpl, TrainerConfig{TargetScore: 0.9})
	require.True(t, cal.TargetReached)
	assert.Equal(t, 3.0, cal.StdMultiplier)
	assert.Equal(t, 0.0, cal.RangeBuffer)
	assert.Equal(t, 17, cal.GridPointsTried)
	assert.GreaterOrEqual(t, cal.MinSelfMatch, 0.9)
	assert.Equal(t, 2.448, out["a"].Std)
	assert.Equal(t, 0.816, tpl["a"].Std, "input template is untouched")
}

func TestCalibrate_BestEffort(t *testing.T) {
	samples := calibrationSamples()
	tpl := BuildTemplate([]contracts.FeatureVector{samples[0].Features, samples[1].Features, samples[2].Features})

	_, cal := Calibrate(samples, tpl, TrainerConfig{TargetScore: 1})
	assert.False(t, cal.TargetReached)
	assert.Equal(t, 3.0, cal.StdMultiplier)
	assert.Equal(t, 20, cal.GridPointsTried)
	assert.Less(t, cal.MinSelfMatch, 1.0)
}

func TestWiden(t *testing.T) {
	tpl := contracts.Template{
		"a": {Std: 2, Min: 0, Max: 10},
		"b": {Min: 4, Max: 4, Median: 4},
	}
	out := Widen(tpl, 1.5, 0.1)
	assert.Equal(t, 3.0, out["a"].Std)
	assert.Equal(t, -1.0, out["a"].Min)
	assert.Equal(t, 11.0, out["a"].Max)
	assert.Equal(t, 3.92, out["b"].Min)
	assert.Equal(t, 4.08, out["b"].Max)
}

func TestModelCalibrate(t *testing.T) {
	samples := calibrationSamples()
	m := NewModel(nil, "")
	m.BuyFeatures.CommonFeatures = BuildTemplate([]contracts.FeatureVector{samples[0].Features, samples[1].Features, samples[2].Features})

	m.Calibrate(samples, TrainerConfig{TargetScore: 0.9})
	require.NotNil(t, m.Calibration)
	assert.Equal(t, 2.448, m.Template()["a"].Std)
}
