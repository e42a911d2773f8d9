package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/external/eastmoney"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

// Source is the raw quote API. *eastmoney.Client implements it.
type Source interface {
	Klines(ctx context.Context, code string, period eastmoney.Period, from, to time.Time) (contracts.Bars, error)
	RecentKlines(ctx context.Context, code string, period eastmoney.Period, limit int) (contracts.Bars, error)
	StockList(ctx context.Context) ([]contracts.StockInfo, error)
	Quote(ctx context.Context, code string) (*contracts.Quote, error)
}

// ProfileSource resolves company profiles. *sina.Client implements it.
type ProfileSource interface {
	Profile(ctx context.Context, code string) (*contracts.Profile, error)
}

// BarStore persists daily bars. *BarRepository implements it.
type BarStore interface {
	SaveDaily(ctx context.Context, code string, bars contracts.Bars) error
	DailyRange(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error)
}

const marketCapTTL = time.Hour

type capEntry struct {
	value     float64
	fetchedAt time.Time
}

// Fetcher is the single entry point for market data.
// Bars are read through the Redis cache; market caps are memoized in process.
type Fetcher struct {
	source   Source
	profiles ProfileSource
	store    BarStore
	cache    *redis.Cache
	logger   *logger.Logger

	capMu sync.RWMutex
	caps  map[string]capEntry

	now func() time.Time
}

// NewFetcher creates a Fetcher. cache may wrap a disabled client.
func NewFetcher(source Source, cache *redis.Cache, log *logger.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		cache:  cache,
		logger: log.WithComponent("marketdata"),
		caps:   make(map[string]capEntry),
		now:    time.Now,
	}
}

// WithProfiles enables GetProfile
func (f *Fetcher) WithProfiles(p ProfileSource) *Fetcher {
	f.profiles = p
	return f
}

// WithBarStore persists fetched daily bars and serves them when the API fails
func (f *Fetcher) WithBarStore(store BarStore) *Fetcher {
	f.store = store
	return f
}

// GetAllStocks returns the tradable A-share universe
func (f *Fetcher) GetAllStocks(ctx context.Context) ([]contracts.StockInfo, error) {
	all, err := redis.GetOrSet(ctx, f.cache, redis.StockListKey(), redis.TTLDaily, func() ([]contracts.StockInfo, error) {
		return f.source.StockList(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("get stock list: %w", err)
	}

	out := make([]contracts.StockInfo, 0, len(all))
	for _, s := range all {
		if IsTradable(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// RefreshStocks drops the cached stock list and loads it again
func (f *Fetcher) RefreshStocks(ctx context.Context) (int, error) {
	if err := f.cache.Delete(ctx, redis.StockListKey()); err != nil {
		f.logger.WithError(err).Warn("Failed to drop cached stock list")
	}
	stocks, err := f.GetAllStocks(ctx)
	if err != nil {
		return 0, err
	}
	return len(stocks), nil
}

// GetDailyBars returns forward-adjusted daily bars in [from, to]
func (f *Fetcher) GetDailyBars(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error) {
	key := redis.KlineKey(code, eastmoney.Daily.String(), dateKey(from), dateKey(to))

	bars, err := redis.GetOrSet(ctx, f.cache, key, redis.TTLLong, func() (contracts.Bars, error) {
		return f.source.Klines(ctx, code, eastmoney.Daily, from, to)
	})
	if err != nil {
		if f.store == nil {
			return nil, fmt.Errorf("daily bars %s: %w", code, err)
		}
		stored, serr := f.store.DailyRange(ctx, code, from, to)
		if serr != nil || len(stored) == 0 {
			return nil, fmt.Errorf("daily bars %s: %w", code, err)
		}
		f.logger.WithStock(code).WithError(err).Warn("Quote API failed, serving stored daily bars")
		return stored, nil
	}

	if f.store != nil {
		if err := f.store.SaveDaily(ctx, code, bars); err != nil {
			f.logger.WithStock(code).WithError(err).Warn("Failed to persist daily bars")
		}
	}
	return bars, nil
}

// GetRecentDailyBars returns the last n daily bars
func (f *Fetcher) GetRecentDailyBars(ctx context.Context, code string, n int) (contracts.Bars, error) {
	key := redis.KlineKey(code, eastmoney.Daily.String(), "last", strconv.Itoa(n))
	bars, err := redis.GetOrSet(ctx, f.cache, key, redis.TTLLong, func() (contracts.Bars, error) {
		return f.source.RecentKlines(ctx, code, eastmoney.Daily, n)
	})
	if err != nil {
		return nil, fmt.Errorf("recent daily bars %s: %w", code, err)
	}
	return bars, nil
}

// GetWeeklyBars returns the last weeks weekly bars.
// When the weekly endpoint fails it aggregates daily bars instead.
func (f *Fetcher) GetWeeklyBars(ctx context.Context, code string, weeks int) (contracts.Bars, error) {
	key := redis.KlineKey(code, eastmoney.Weekly.String(), "last", strconv.Itoa(weeks))

	bars, err := redis.GetOrSet(ctx, f.cache, key, redis.TTLLong, func() (contracts.Bars, error) {
		return f.source.RecentKlines(ctx, code, eastmoney.Weekly, weeks)
	})
	if err == nil && len(bars) > 0 {
		return bars, nil
	}

	f.logger.WithStock(code).Debug("Weekly klines unavailable, aggregating daily bars")
	to := f.now()
	from := to.AddDate(0, 0, -7*(weeks+1))
	daily, derr := f.GetDailyBars(ctx, code, from, to)
	if derr != nil {
		if err == nil {
			err = derr
		}
		return nil, fmt.Errorf("weekly bars %s: %w", code, err)
	}

	weekly := AggregateWeekly(daily)
	if len(weekly) > weeks {
		weekly = weekly[len(weekly)-weeks:]
	}
	return weekly, nil
}

// GetWeeklyBarsRange returns weekly bars in [from, to]
func (f *Fetcher) GetWeeklyBarsRange(ctx context.Context, code string, from, to time.Time) (contracts.Bars, error) {
	key := redis.KlineKey(code, eastmoney.Weekly.String(), dateKey(from), dateKey(to))
	bars, err := redis.GetOrSet(ctx, f.cache, key, redis.TTLLong, func() (contracts.Bars, error) {
		return f.source.Klines(ctx, code, eastmoney.Weekly, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("weekly bars %s: %w", code, err)
	}
	return bars, nil
}

// GetMarketCap returns total market cap in 亿 CNY.
// Callers bound it with a context deadline.
func (f *Fetcher) GetMarketCap(ctx context.Context, code string) (float64, error) {
	f.capMu.RLock()
	e, ok := f.caps[code]
	f.capMu.RUnlock()
	if ok && f.now().Sub(e.fetchedAt) < marketCapTTL {
		return e.value, nil
	}

	q, err := f.GetQuote(ctx, code)
	if err != nil {
		return 0, err
	}
	if q.MarketCap <= 0 {
		return 0, fmt.Errorf("market cap %s: %w", code, contracts.ErrNotFound)
	}

	f.capMu.Lock()
	f.caps[code] = capEntry{value: q.MarketCap, fetchedAt: f.now()}
	f.capMu.Unlock()
	return q.MarketCap, nil
}

// GetQuote returns the live snapshot
func (f *Fetcher) GetQuote(ctx context.Context, code string) (*contracts.Quote, error) {
	q, err := redis.GetOrSet(ctx, f.cache, redis.QuoteKey(code), redis.TTLShort, func() (*contracts.Quote, error) {
		return f.source.Quote(ctx, code)
	})
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", code, err)
	}
	return q, nil
}

// GetProfile returns the company profile
func (f *Fetcher) GetProfile(ctx context.Context, code string) (*contracts.Profile, error) {
	if f.profiles == nil {
		return nil, fmt.Errorf("profile %s: no profile source configured", code)
	}
	return f.profiles.Profile(ctx, code)
}

// IsTradable keeps main board, ChiNext, STAR and BJ codes and drops ST or delisting names
func IsTradable(s contracts.StockInfo) bool {
	if len(s.Code) != 6 {
		return false
	}
	if strings.Contains(strings.ToUpper(s.Name), "ST") || strings.Contains(s.Name, "退") {
		return false
	}
	for _, p := range []string{"60", "00", "30", "68", "8", "4", "92"} {
		if strings.HasPrefix(s.Code, p) {
			return true
		}
	}
	return false
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return "all"
	}
	return t.Format("20060102")
}
