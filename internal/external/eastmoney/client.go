package eastmoney

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wonny/bullscan/pkg/config"
	"github.com/wonny/bullscan/pkg/httputil"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

// Referer is required by the quote servers; requests without it are throttled hard.
const Referer = "https://quote.eastmoney.com/"

// Client talks to the Eastmoney public quote API.
// Every Eastmoney call in the process goes through one Client.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	listURL    string
	quoteURL   string
	klineURL   string
}

// NewHTTPClient builds the paced HTTP client the quote API expects.
// limiter may be nil or disabled, in which case only the local token bucket applies.
func NewHTTPClient(cfg config.EastmoneyConfig, limiter *redis.RateLimiter, log *logger.Logger) *httputil.Client {
	hc := httputil.NewWithTimeout(log, cfg.Timeout).
		WithRetry(3, 500*time.Millisecond).
		WithRPS(cfg.RPS)
	httputil.BrowserHeaders(hc, Referer)
	hc.WithHeader("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	if limiter != nil {
		hc.WithRateLimiter(limiter, redis.EastmoneyRateLimit)
	}
	return hc
}

// NewClient creates a new Eastmoney client
func NewClient(httpClient *httputil.Client, cfg config.EastmoneyConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithComponent("eastmoney"),
		listURL:    cfg.ListURL,
		quoteURL:   cfg.QuoteURL,
		klineURL:   cfg.KlineURL,
	}
}

func (c *Client) get(ctx context.Context, base string, params url.Values) ([]byte, error) {
	fullURL := base
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", base, params.Encode())
	}

	body, err := c.httpClient.GetBytes(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("eastmoney request: %w", err)
	}
	return body, nil
}

// SecID converts a six-digit code to the market-prefixed id the API wants.
// Shanghai codes start with 6 and live on market 1; everything else is market 0.
func SecID(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "6") {
		return "1." + code
	}
	return "0." + code
}
