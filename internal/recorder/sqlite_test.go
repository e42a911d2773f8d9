package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "scans.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func progress(id string) *contracts.Progress {
	return &contracts.Progress{
		ScanID:    id,
		Status:    contracts.StatusComplete,
		Total:     120,
		Errors:    2,
		StartedAt: time.Date(2024, 7, 24, 7, 0, 0, 0, time.UTC),
		Params: contracts.ScanParams{
			MinMatchScore: 0.93,
			MaxMarketCap:  100,
			ScanDate:      time.Date(2024, 7, 24, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestSQLiteRecorder_RecordScan(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)

	mc := 42.5
	cands := []contracts.Candidate{
		{Code: "600001", Name: "甲", Score: 0.97, BuyPrice: 10.2, MarketCap: &mc, Features: contracts.FeatureVector{"rsi": 55}},
		{Code: "000004", Name: "丁", Score: 0.95, BuyPrice: 7.1},
	}
	require.NoError(t, r.RecordScan(ctx, progress("scan_1"), cands))

	runs, err := r.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "scan_1", runs[0].ScanID)
	assert.Equal(t, contracts.StatusComplete, runs[0].Status)
	assert.Equal(t, "2024-07-24", runs[0].ScanDate)
	assert.Equal(t, 120, runs[0].Total)
	assert.Equal(t, 2, runs[0].Found)
	assert.Equal(t, 2, runs[0].Errors)

	hits, err := r.Hits(ctx, "600001")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0.97, hits[0].Score)
	assert.Equal(t, "甲", hits[0].Name)
}

func TestSQLiteRecorder_ReplacesSameScan(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)

	require.NoError(t, r.RecordScan(ctx, progress("scan_1"), []contracts.Candidate{{Code: "600001"}, {Code: "600002"}}))
	require.NoError(t, r.RecordScan(ctx, progress("scan_1"), []contracts.Candidate{{Code: "600002"}}))
	require.NoError(t, r.RecordScan(ctx, progress("scan_2"), []contracts.Candidate{{Code: "600002"}}))

	runs, err := r.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	hits, err := r.Hits(ctx, "600001")
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = r.Hits(ctx, "600002")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordScan(context.Background(), progress("scan_1"), nil))
	runs, err := r.Runs(context.Background(), 5)
	assert.NoError(t, err)
	assert.Nil(t, runs)
	assert.NoError(t, r.Close())
}
