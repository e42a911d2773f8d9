package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/bullscan/internal/watchlist"
	"github.com/wonny/bullscan/pkg/logger"
)

// AlertChecker evaluates every active price alert. *watchlist.Service implements it.
type AlertChecker interface {
	CheckAlerts(ctx context.Context) ([]watchlist.Hit, error)
}

// AlertCheckJob checks price alerts during trading hours
type AlertCheckJob struct {
	checker AlertChecker
	logger  *logger.Logger
}

// NewAlertCheckJob creates a new alert check job
func NewAlertCheckJob(checker AlertChecker, log *logger.Logger) *AlertCheckJob {
	return &AlertCheckJob{checker: checker, logger: log}
}

// Name returns the job name
func (j *AlertCheckJob) Name() string {
	return "alert_check"
}

// Schedule returns the cron schedule (every 5 minutes, 09:00-15:55 Beijing, Monday to Friday)
func (j *AlertCheckJob) Schedule() string {
	return "0 */5 9-15 * * 1-5"
}

// Run executes the check
func (j *AlertCheckJob) Run(ctx context.Context) error {
	hits, err := j.checker.CheckAlerts(ctx)
	if err != nil {
		return fmt.Errorf("check alerts: %w", err)
	}
	for _, h := range hits {
		j.logger.WithFields(map[string]interface{}{
			"username":  h.Username,
			"stock":     h.Alert.Code,
			"direction": string(h.Alert.Direction),
			"target":    h.Alert.TargetPrice,
			"price":     h.Alert.TriggerPrice,
		}).Info("Price alert triggered")
	}
	return nil
}
