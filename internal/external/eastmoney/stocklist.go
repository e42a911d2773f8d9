package eastmoney

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wonny/bullscan/internal/contracts"
)

const (
	listPageSize = 500
	// SZ main + ChiNext, SH main + STAR, BJ
	listMarkets = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"
	maxPages    = 40
)

// StockList pages through the full A-share list
func (c *Client) StockList(ctx context.Context) ([]contracts.StockInfo, error) {
	var out []contracts.StockInfo

	for page := 1; page <= maxPages; page++ {
		params := url.Values{}
		params.Set("pn", strconv.Itoa(page))
		params.Set("pz", strconv.Itoa(listPageSize))
		params.Set("po", "1")
		params.Set("np", "1")
		params.Set("fltt", "2")
		params.Set("invt", "2")
		params.Set("fid", "f12")
		params.Set("fs", listMarkets)
		params.Set("fields", "f12,f14")

		body, err := c.get(ctx, c.listURL, params)
		if err != nil {
			return nil, fmt.Errorf("stock list page %d: %w", page, err)
		}

		items, total := parseStockPage(body)
		out = append(out, items...)

		if len(items) == 0 || len(out) >= total {
			break
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("stock list: empty response")
	}

	c.logger.WithField("count", len(out)).Info("Fetched stock list")
	return out, nil
}

func parseStockPage(body []byte) ([]contracts.StockInfo, int) {
	total := int(gjson.GetBytes(body, "data.total").Int())
	diff := gjson.GetBytes(body, "data.diff")
	if !diff.Exists() {
		return nil, total
	}

	var items []contracts.StockInfo
	diff.ForEach(func(_, v gjson.Result) bool {
		code := strings.TrimSpace(v.Get("f12").String())
		name := strings.TrimSpace(v.Get("f14").String())
		if code != "" {
			items = append(items, contracts.StockInfo{Code: code, Name: name})
		}
		return true
	})
	return items, total
}
