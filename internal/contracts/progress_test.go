package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPreparing, StatusRunning, true},
		{StatusPreparing, StatusFailed, true},
		{StatusPreparing, StatusComplete, false},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusStopped, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPreparing, false},
		{StatusComplete, StatusRunning, false},
		{StatusStopped, StatusComplete, false},
		{StatusFailed, StatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestProgress_SetCounts(t *testing.T) {
	var p Progress
	p.SetCounts(1, 3)
	assert.Equal(t, 33.3, p.Percentage)

	p.SetCounts(0, 0)
	assert.Equal(t, 0.0, p.Percentage)
}

func TestTier_Valid(t *testing.T) {
	assert.True(t, TierFree.Valid())
	assert.True(t, TierSuper.Valid())
	assert.False(t, Tier("gold").Valid())
}
