package training

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/features"
)

func TestModelSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "trained_model.json")
	m := &Model{
		TrainedAt:    time.Date(2025, 1, 10, 15, 30, 0, 0, time.UTC),
		RosterHash:   "abc",
		SampleCount:  1,
		SampleStocks: []SampleStock{{Code: "300436", Name: "广生堂"}},
		BuyFeatures: BuyFeatures{CommonFeatures: contracts.Template{
			features.RSI: {Mean: 45.2, Median: 44, Std: 6.1, Min: 35, Max: 55, Count: 1},
		}},
		Calibration: &Calibration{StdMultiplier: 1.5, TargetScore: 0.9, TargetReached: true},
	}
	require.NoError(t, m.Save(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, loaded.SchemaVersion)
	assert.Equal(t, m.Template(), loaded.Template())
	assert.Equal(t, 1.5, loaded.Calibration.StdMultiplier)
	assert.True(t, m.TrainedAt.Equal(loaded.TrainedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestParseModel_Version(t *testing.T) {
	_, err := ParseModel([]byte(`{"schema_version": 3, "buy_features": {"common_features": {}}}`))
	assert.ErrorIs(t, err, ErrModelVersion)

	_, err = ParseModel([]byte(`{"schema_version": 2, "buy_features": {"common_features": {}}}`))
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = ParseModel([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseModel_Legacy(t *testing.T) {
	data := []byte(`{
		"trained_at": "2025-01-20T10:11:12.123456",
		"buy_features": {
			"sample_count": 2,
			"sample_stocks": ["300436", "002788"],
			"common_features": {
				"起点当周量比": {"均值": 3.2, "中位数": 3.0, "标准差": 0.8, "最小值": 2.1, "最大值": 4.4, "样本数": 2},
				"rsi": {"平均值": 52.0, "最小值": 40, "最大值": 60},
				"ignored": "not a stat"
			}
		}
	}`)

	m, err := ParseModel(data)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, m.SchemaVersion)
	assert.Equal(t, 2, m.SampleCount)
	require.Len(t, m.SampleStocks, 2)
	assert.Equal(t, "002788", m.SampleStocks[1].Code)
	assert.Equal(t, 2025, m.TrainedAt.Year())

	tpl := m.Template()
	require.Contains(t, tpl, features.StartVolumeRatio)
	assert.Equal(t, contracts.FeatureStat{Mean: 3.2, Median: 3.0, Std: 0.8, Min: 2.1, Max: 4.4, Count: 2}, tpl[features.StartVolumeRatio])

	require.Contains(t, tpl, features.RSI)
	assert.Equal(t, 52.0, tpl[features.RSI].Median, "median falls back to mean")
	assert.NotContains(t, tpl, "ignored")
}

func TestParseModel_LegacyWithoutFeatures(t *testing.T) {
	_, err := ParseModel([]byte(`{"trained_at": "x"}`))
	assert.ErrorIs(t, err, ErrModelVersion)
}
