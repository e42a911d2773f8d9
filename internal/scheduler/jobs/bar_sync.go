package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/pkg/logger"
)

const barSyncDays = 10

// RosterSource exposes the current bull-stock roster. *training.RosterStore implements it.
type RosterSource interface {
	Snapshot() *training.Roster
}

// DailySource fetches daily bars, persisting them when a bar store is attached
type DailySource interface {
	GetDailyBars(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error)
}

// BarSyncJob pulls the latest daily bars of every roster stock so analysis
// can fall back to stored history when the quote API is down
type BarSyncJob struct {
	roster RosterSource
	source DailySource
	logger *logger.Logger
	now    func() time.Time
}

// NewBarSyncJob creates a new bar sync job
func NewBarSyncJob(roster RosterSource, source DailySource, log *logger.Logger) *BarSyncJob {
	return &BarSyncJob{roster: roster, source: source, logger: log, now: time.Now}
}

// Name returns the job name
func (j *BarSyncJob) Name() string {
	return "roster_bar_sync"
}

// Schedule returns the cron schedule (16:00 Beijing, Monday to Friday)
func (j *BarSyncJob) Schedule() string {
	return "0 0 16 * * 1-5"
}

// Run executes the sync. It fails only when every stock failed.
func (j *BarSyncJob) Run(ctx context.Context) error {
	stocks := j.roster.Snapshot().Stocks
	if len(stocks) == 0 {
		return nil
	}

	to := contracts.DayOf(j.now())
	from := to.AddDate(0, 0, -barSyncDays)

	var synced, failed int
	var lastErr error
	for _, s := range stocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := j.source.GetDailyBars(ctx, s.Code, from, to); err != nil {
			failed++
			lastErr = err
			j.logger.WithStock(s.Code).WithError(err).Warn("Bar sync failed")
			continue
		}
		synced++
	}

	j.logger.WithFields(map[string]interface{}{
		"synced": synced,
		"failed": failed,
	}).Info("Roster bars synced")

	if synced == 0 {
		return fmt.Errorf("no roster stock synced: %w", lastErr)
	}
	return nil
}
