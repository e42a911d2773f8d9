package eastmoney

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wonny/bullscan/internal/contracts"
)

// Period selects the kline granularity
type Period string

const (
	Daily  Period = "101"
	Weekly Period = "102"
)

// String returns the cache-key name of the period
func (p Period) String() string {
	switch p {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	default:
		return string(p)
	}
}

const (
	klineFields1 = "f1,f2,f3,f4,f5,f6"
	klineFields2 = "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"
	openEnd      = "20500101"
)

// Klines fetches forward-adjusted bars in [from, to]. A zero from means the full history.
func (c *Client) Klines(ctx context.Context, code string, period Period, from, to time.Time) (contracts.Bars, error) {
	params := c.klineParams(code, period)
	params.Set("beg", "0")
	if !from.IsZero() {
		params.Set("beg", from.Format("20060102"))
	}
	params.Set("end", openEnd)
	if !to.IsZero() {
		params.Set("end", to.Format("20060102"))
	}

	body, err := c.get(ctx, c.klineURL, params)
	if err != nil {
		return nil, err
	}

	bars, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", code, period, err)
	}

	c.logger.WithFields(map[string]interface{}{
		"code":   code,
		"period": period.String(),
		"count":  len(bars),
	}).Debug("Fetched klines")
	return bars, nil
}

// RecentKlines fetches the last limit bars up to today
func (c *Client) RecentKlines(ctx context.Context, code string, period Period, limit int) (contracts.Bars, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}
	params := c.klineParams(code, period)
	params.Set("end", openEnd)
	params.Set("lmt", strconv.Itoa(limit))

	body, err := c.get(ctx, c.klineURL, params)
	if err != nil {
		return nil, err
	}

	bars, err := parseKlines(body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", code, period, err)
	}
	return bars, nil
}

func (c *Client) klineParams(code string, period Period) url.Values {
	params := url.Values{}
	params.Set("secid", SecID(code))
	params.Set("fields1", klineFields1)
	params.Set("fields2", klineFields2)
	params.Set("klt", string(period))
	params.Set("fqt", "1")
	return params
}

// parseKlines reads data.klines where each entry is
// "date,open,close,high,low,volume,amount,amplitude,pct,change,turnover".
func parseKlines(body []byte) (contracts.Bars, error) {
	klines := gjson.GetBytes(body, "data.klines")
	if !klines.Exists() || !klines.IsArray() {
		return nil, contracts.ErrInsufficientData
	}

	arr := klines.Array()
	bars := make(contracts.Bars, 0, len(arr))
	for _, v := range arr {
		bar, ok := parseKlineLine(v.String())
		if !ok {
			continue
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, contracts.ErrInsufficientData
	}
	return bars, nil
}

func parseKlineLine(line string) (contracts.Bar, bool) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 6 {
		return contracts.Bar{}, false
	}

	date, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return contracts.Bar{}, false
	}

	bar := contracts.Bar{
		Date:   date,
		Open:   parseFloat(parts[1]),
		Close:  parseFloat(parts[2]),
		High:   parseFloat(parts[3]),
		Low:    parseFloat(parts[4]),
		Volume: parseFloat(parts[5]),
	}
	if len(parts) > 6 {
		bar.Amount = parseFloat(parts[6])
	}
	if len(parts) > 8 {
		bar.PctChange = parseFloat(parts[8])
	}
	if bar.Close <= 0 {
		return contracts.Bar{}, false
	}
	return bar, true
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
