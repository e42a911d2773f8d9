package eastmoney

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wonny/bullscan/internal/contracts"
)

// Quote fetches the live snapshot. f116 is total market cap in CNY.
func (c *Client) Quote(ctx context.Context, code string) (*contracts.Quote, error) {
	params := url.Values{}
	params.Set("secid", SecID(code))
	params.Set("fltt", "2")
	params.Set("invt", "2")
	params.Set("fields", "f43,f57,f58,f116,f170")

	body, err := c.get(ctx, c.quoteURL, params)
	if err != nil {
		return nil, err
	}

	q, err := parseQuote(body)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", code, err)
	}
	return q, nil
}

func parseQuote(body []byte) (*contracts.Quote, error) {
	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, contracts.ErrNotFound
	}

	q := &contracts.Quote{
		Code:      strings.TrimSpace(data.Get("f57").String()),
		Name:      strings.TrimSpace(data.Get("f58").String()),
		Price:     numeric(data.Get("f43")),
		PctChange: numeric(data.Get("f170")),
		FetchedAt: time.Now(),
	}
	if capYuan := numeric(data.Get("f116")); capYuan > 0 {
		q.MarketCap = contracts.Round(capYuan/1e8, 2)
	}
	return q, nil
}

// numeric treats the API's "-" placeholder as zero
func numeric(r gjson.Result) float64 {
	if r.Type == gjson.Number {
		return r.Float()
	}
	return 0
}
