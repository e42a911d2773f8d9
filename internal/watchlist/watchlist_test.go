package watchlist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

type fakeQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  map[string]int
}

func (f *fakeQuotes) GetQuote(_ context.Context, code string) (*contracts.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[code]++
	p, ok := f.prices[code]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &contracts.Quote{Code: code, Name: "N" + code, Price: p}, nil
}

func newTestService(prices map[string]float64) (*Service, *fakeQuotes) {
	q := &fakeQuotes{prices: prices}
	return NewService(redis.NewKV(redis.Disabled()), q, logger.Nop()), q
}

func TestService_Watchlist(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(map[string]float64{"600001": 10.5})

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	e, err := s.Add(ctx, "alice", Entry{Code: "600001"})
	require.NoError(t, err)
	assert.Equal(t, "N600001", e.Name)
	assert.Equal(t, 10.5, e.AddPrice)

	_, err = s.Add(ctx, "alice", Entry{Code: "600001"})
	assert.ErrorIs(t, err, ErrAlreadyWatched)

	_, err = s.Add(ctx, "alice", Entry{Code: "60001"})
	assert.ErrorIs(t, err, ErrInvalidCode)

	e, err = s.Add(ctx, "alice", Entry{Code: "000004", Name: "丁", Note: "breakout"})
	require.NoError(t, err)
	assert.Zero(t, e.AddPrice)

	list, err = s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "600001", list[0].Code)

	other, err := s.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.Remove(ctx, "alice", "600001"))
	assert.ErrorIs(t, s.Remove(ctx, "alice", "600001"), ErrNotWatched)
	list, _ = s.List(ctx, "alice")
	assert.Len(t, list, 1)
}

func TestService_WatchlistFull(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(nil)
	for i := 0; i < MaxEntries; i++ {
		_, err := s.Add(ctx, "alice", Entry{Code: fmt.Sprintf("600%03d", i), Name: "x"})
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, "alice", Entry{Code: "300001", Name: "x"})
	assert.ErrorIs(t, err, ErrWatchlistFull)
}

func TestService_AddAlertValidation(t *testing.T) {
	s, _ := newTestService(nil)
	tests := []struct {
		name  string
		alert Alert
		err   error
	}{
		{"bad code", Alert{Code: "abc", TargetPrice: 1, Direction: Above}, ErrInvalidCode},
		{"zero price", Alert{Code: "600001", Direction: Above}, ErrInvalidAlert},
		{"bad direction", Alert{Code: "600001", TargetPrice: 1, Direction: "sideways"}, ErrInvalidAlert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddAlert(context.Background(), "alice", tt.alert)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestService_CheckAlerts(t *testing.T) {
	ctx := context.Background()
	s, q := newTestService(map[string]float64{"600001": 12, "000004": 5})

	up, err := s.AddAlert(ctx, "alice", Alert{Code: "600001", TargetPrice: 11.5, Direction: Above})
	require.NoError(t, err)
	_, err = s.AddAlert(ctx, "alice", Alert{Code: "000004", TargetPrice: 4, Direction: Below})
	require.NoError(t, err)
	_, err = s.AddAlert(ctx, "bob", Alert{Code: "600001", TargetPrice: 13, Direction: Below})
	require.NoError(t, err)
	_, err = s.AddAlert(ctx, "bob", Alert{Code: "300009", TargetPrice: 1, Direction: Above})
	require.NoError(t, err)

	hits, err := s.CheckAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alice", hits[0].Username)
	assert.Equal(t, up.ID, hits[0].Alert.ID)
	assert.Equal(t, 12.0, hits[0].Alert.TriggerPrice)
	assert.Equal(t, "bob", hits[1].Username)
	assert.Equal(t, 1, q.calls["600001"], "one quote per code per check")

	alerts, err := s.Alerts(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alerts[0].Triggered)
	assert.NotNil(t, alerts[0].TriggeredAt)
	assert.False(t, alerts[1].Triggered)

	hits, err = s.CheckAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, hits, "triggered alerts fire once")

	require.NoError(t, s.RemoveAlert(ctx, "alice", up.ID))
	assert.ErrorIs(t, s.RemoveAlert(ctx, "alice", up.ID), ErrAlertNotFound)
}

func TestCrossed(t *testing.T) {
	assert.True(t, crossed(Alert{TargetPrice: 10, Direction: Above}, 10))
	assert.False(t, crossed(Alert{TargetPrice: 10, Direction: Above}, 9.99))
	assert.True(t, crossed(Alert{TargetPrice: 10, Direction: Below}, 9))
	assert.False(t, crossed(Alert{TargetPrice: 10, Direction: Below}, 0))
}
