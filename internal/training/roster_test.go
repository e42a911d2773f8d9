package training

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRoster = `
stocks:
  - code: "300436"
    name: 广生堂
    buy_date: "2024-09-27"
  - code: "002788"
    name: 鹭燕医药
trainer:
  target_score: 0.95
  std_multipliers: [1, 2]
`

func TestParseRoster(t *testing.T) {
	r, err := ParseRoster(strings.NewReader(sampleRoster))
	require.NoError(t, err)

	require.Len(t, r.Stocks, 2)
	assert.Equal(t, "300436", r.Stocks[0].Code)
	assert.Equal(t, "2024-09-27", r.Stocks[0].BuyDate)
	assert.Empty(t, r.Stocks[1].BuyDate)

	assert.Equal(t, 0.95, r.Trainer.TargetScore)
	assert.Equal(t, []float64{1, 2}, r.Trainer.StdMultipliers)
	assert.Equal(t, DefaultTrainerConfig().RangeBuffers, r.Trainer.RangeBuffers)
	assert.Equal(t, 40, r.Trainer.LookbackWeeks)
}

func TestParseRoster_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "stocks:\n  - code: \"000001\"\n    nmae: x\n", "nmae"},
		{"bad code", "stocks:\n  - code: \"1234\"\n", "invalid code"},
		{"duplicate", "stocks:\n  - code: \"000001\"\n  - code: \"000001\"\n", "duplicate"},
		{"bad date", "stocks:\n  - code: \"000001\"\n    buy_date: 2024/01/01\n", "buy_date"},
		{"target above one", "trainer:\n  target_score: 1.5\n", "target_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoster(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseRoster_Empty(t *testing.T) {
	r, err := ParseRoster(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, r.Stocks)
	assert.Equal(t, 0.9, r.Trainer.TargetScore)
}

func TestRosterHash(t *testing.T) {
	a, err := ParseRoster(strings.NewReader(sampleRoster))
	require.NoError(t, err)
	b, err := ParseRoster(strings.NewReader(sampleRoster))
	require.NoError(t, err)

	assert.Len(t, a.Hash(), 64)
	assert.Equal(t, a.Hash(), b.Hash())

	b.Stocks[1].BuyDate = "2024-01-05"
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestRosterStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bull_stocks.yaml")

	store, err := NewRosterStore(path)
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot().Stocks)

	require.NoError(t, store.Add(RosterEntry{Code: "300436", Name: "广生堂"}))
	require.NoError(t, store.Add(RosterEntry{Code: "002788", Name: "鹭燕医药"}))
	require.NoError(t, store.Add(RosterEntry{Code: "300436", Name: "广生堂", BuyDate: "2024-09-27"}))
	assert.Error(t, store.Add(RosterEntry{Code: "abc"}))

	reloaded, err := LoadRoster(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Stocks, 2)
	assert.Equal(t, "2024-09-27", reloaded.Stocks[0].BuyDate)

	removed, err := store.Remove("002788")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Remove("002788")
	require.NoError(t, err)
	assert.False(t, removed)

	snap := store.Snapshot()
	snap.Stocks[0].Name = "changed"
	assert.Equal(t, "广生堂", store.Snapshot().Stocks[0].Name)

	require.NoError(t, store.Clear())
	reloaded, err = LoadRoster(path)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Stocks)
}
