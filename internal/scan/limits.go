package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/redis"
)

var (
	// ErrOutsideScanHours is returned when a free user scans before the start hour
	ErrOutsideScanHours = errors.New("free tier scans open after market close")
	// ErrDailyScanLimit is returned when a free user already scanned today
	ErrDailyScanLimit = errors.New("free tier allows one scan per day")
	// ErrResultsNotYetVisible is returned when results are requested before the tier's view hour
	ErrResultsNotYetVisible = errors.New("results are not visible yet for this tier")
)

const (
	freeScansPerDay    = 1
	scanCountTTL       = 48 * time.Hour
	premiumViewHour    = 12
	defaultFreeStartHr = 15
)

var beijing = time.FixedZone("CST", 8*60*60)

// Limits enforces the per-tier scan quota
type Limits struct {
	kv        *redis.KV
	startHour int
	now       func() time.Time
}

// NewLimits creates tier limits. startHour is the Beijing hour free scans open.
func NewLimits(kv *redis.KV, startHour int) *Limits {
	if startHour <= 0 || startHour > 23 {
		startHour = defaultFreeStartHr
	}
	return &Limits{kv: kv, startHour: startHour, now: time.Now}
}

// WithClock replaces the clock used for Beijing-day and hour checks
func (l *Limits) WithClock(now func() time.Time) *Limits {
	l.now = now
	return l
}

func scanCountKey(username string, day time.Time) string {
	return fmt.Sprintf("scan_count:%s:%s", username, day.Format("2006-01-02"))
}

// Acquire checks the quota of username and consumes one scan on success.
// Premium and super tiers are unlimited.
func (l *Limits) Acquire(ctx context.Context, username string, tier contracts.Tier) error {
	if tier != contracts.TierFree {
		return nil
	}
	bj := l.now().In(beijing)
	if bj.Hour() < l.startHour {
		return fmt.Errorf("opens at %02d:00 Beijing, now %s: %w", l.startHour, bj.Format("15:04"), ErrOutsideScanHours)
	}

	n, err := l.kv.Incr(ctx, scanCountKey(username, bj), scanCountTTL)
	if err != nil {
		return fmt.Errorf("count scans: %w", err)
	}
	if n > freeScansPerDay {
		return fmt.Errorf("%d scans today: %w", n-1, ErrDailyScanLimit)
	}
	return nil
}

// Release returns a scan consumed by Acquire when the scan never started
func (l *Limits) Release(ctx context.Context, username string, tier contracts.Tier) error {
	if tier != contracts.TierFree {
		return nil
	}
	key := scanCountKey(username, l.now().In(beijing))
	n, err := l.kv.GetInt(ctx, key)
	if err != nil || n <= 0 {
		return err
	}
	if _, err := l.kv.IncrBy(ctx, key, -1, scanCountTTL); err != nil {
		return fmt.Errorf("release scan: %w", err)
	}
	return nil
}

// Used returns how many scans username ran today, Beijing time
func (l *Limits) Used(ctx context.Context, username string) (int64, error) {
	return l.kv.GetInt(ctx, scanCountKey(username, l.now().In(beijing)))
}

// CanViewResults reports whether tier may read scan results now
func (l *Limits) CanViewResults(tier contracts.Tier) error {
	hour := l.now().In(beijing).Hour()
	switch tier {
	case contracts.TierSuper:
		return nil
	case contracts.TierPremium:
		if hour < premiumViewHour {
			return fmt.Errorf("premium results open at %02d:00 Beijing: %w", premiumViewHour, ErrResultsNotYetVisible)
		}
	default:
		if hour < l.startHour {
			return fmt.Errorf("free results open at %02d:00 Beijing: %w", l.startHour, ErrResultsNotYetVisible)
		}
	}
	return nil
}

// BeijingToday is the current calendar day in Beijing
func BeijingToday(now time.Time) time.Time {
	return contracts.DayOf(now.In(beijing))
}
