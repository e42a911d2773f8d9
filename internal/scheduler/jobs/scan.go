package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/pkg/config"
	"github.com/wonny/bullscan/pkg/logger"
)

// SchedulerUser owns scans started by the scheduler
const SchedulerUser = "scheduler"

// Scanner runs a full scan synchronously. *scan.Driver implements it.
type Scanner interface {
	Run(ctx context.Context, params contracts.ScanParams) (*scan.Result, error)
}

// DailyScanJob scans the market after the close on trading days
type DailyScanJob struct {
	scanner Scanner
	cfg     config.ScanConfig
	logger  *logger.Logger
}

// NewDailyScanJob creates a new daily scan job
func NewDailyScanJob(scanner Scanner, cfg config.ScanConfig, log *logger.Logger) *DailyScanJob {
	return &DailyScanJob{scanner: scanner, cfg: cfg, logger: log}
}

// Name returns the job name
func (j *DailyScanJob) Name() string {
	return "daily_scan"
}

// Schedule returns the cron schedule (15:30 Beijing, Monday to Friday)
func (j *DailyScanJob) Schedule() string {
	return "0 30 15 * * 1-5"
}

// Run executes the scan
func (j *DailyScanJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled market scan")

	res, err := j.scanner.Run(ctx, contracts.ScanParams{
		MinMatchScore: j.cfg.MinMatchScore,
		MaxMarketCap:  j.cfg.MaxMarketCap,
		ScanSession:   "close",
		Workers:       j.cfg.Workers,
		BatchSize:     j.cfg.BatchSize,
		StockTimeout:  j.cfg.StockTimeout,
		CapTimeout:    j.cfg.CapTimeout,
		Username:      SchedulerUser,
	})
	if err != nil {
		return fmt.Errorf("scheduled scan: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"scan_id": res.Progress.ScanID,
		"status":  string(res.Progress.Status),
		"total":   res.Progress.Total,
		"found":   len(res.Candidates),
		"errors":  res.Progress.Errors,
	}).Info("Scheduled scan finished")
	return nil
}
