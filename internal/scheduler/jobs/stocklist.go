package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/bullscan/pkg/logger"
)

// StockRefresher reloads the stock universe. *marketdata.Fetcher implements it.
type StockRefresher interface {
	RefreshStocks(ctx context.Context) (int, error)
}

// StockListJob refreshes the cached stock list before the open
type StockListJob struct {
	refresher StockRefresher
	logger    *logger.Logger
}

// NewStockListJob creates a new stock list job
func NewStockListJob(r StockRefresher, log *logger.Logger) *StockListJob {
	return &StockListJob{refresher: r, logger: log}
}

// Name returns the job name
func (j *StockListJob) Name() string {
	return "stock_list_refresh"
}

// Schedule returns the cron schedule (09:00 Beijing, Monday to Friday)
func (j *StockListJob) Schedule() string {
	return "0 0 9 * * 1-5"
}

// Run executes the refresh
func (j *StockListJob) Run(ctx context.Context) error {
	n, err := j.refresher.RefreshStocks(ctx)
	if err != nil {
		return fmt.Errorf("refresh stock list: %w", err)
	}
	j.logger.WithField("stocks", n).Info("Stock list refreshed")
	return nil
}
