package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
)

func TestMemoryProgressStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryProgressStore()

	_, err := s.LoadProgress(ctx, "scan_1")
	assert.ErrorIs(t, err, ErrScanNotFound)

	p := &contracts.Progress{ScanID: "scan_1", Status: contracts.StatusRunning}
	p.SetCounts(3, 10)
	require.NoError(t, s.SaveProgress(ctx, p))
	assert.False(t, p.UpdatedAt.IsZero())

	got, err := s.LoadProgress(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRunning, got.Status)
	assert.Equal(t, 30.0, got.Percentage)

	cands, err := s.LoadResults(ctx, "scan_1")
	require.NoError(t, err)
	assert.Nil(t, cands)

	require.NoError(t, s.SaveResults(ctx, "scan_1", nil))
	cands, err = s.LoadResults(ctx, "scan_1")
	require.NoError(t, err)
	assert.NotNil(t, cands)
	assert.Empty(t, cands)

	require.NoError(t, s.SaveResults(ctx, "scan_1", []contracts.Candidate{{Code: "600001", Score: 0.97}}))
	cands, err = s.LoadResults(ctx, "scan_1")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 0.97, cands[0].Score)

	_, err = s.LoadUniverse(ctx, "scan_1")
	assert.ErrorIs(t, err, ErrScanNotFound)
	require.NoError(t, s.SaveUniverse(ctx, "scan_1", []contracts.StockInfo{{Code: "600001", Name: "甲"}}))
	stocks, err := s.LoadUniverse(ctx, "scan_1")
	require.NoError(t, err)
	assert.Equal(t, "甲", stocks[0].Name)

	_, err = s.Latest(ctx, "alice")
	assert.ErrorIs(t, err, ErrScanNotFound)
	require.NoError(t, s.SetLatest(ctx, "alice", "scan_1"))
	require.NoError(t, s.SetLatest(ctx, "", "scan_anon"))
	id, err := s.Latest(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "scan_1", id)
	id, err = s.Latest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "scan_anon", id)
}
