package eastmoney

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/config"
	"github.com/wonny/bullscan/pkg/httputil"
	"github.com/wonny/bullscan/pkg/logger"
)

const klineBody = `{"rc":0,"data":{"code":"600519","klines":[
"2024-01-05,1700.00,1720.50,1730.00,1690.00,25000,4300000000.00,2.35,1.20,20.40,0.20",
"2024-01-12,1720.50,1680.00,1725.00,1670.00,31000,5200000000.00,3.20,-2.35,-40.50,0.25",
"bad,line",
"2024-01-19,1680.00,1700.00,1710.00,1660.00,28000,4700000000.00,2.98,1.19,20.00,0.22"
]}}`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.EastmoneyConfig{
		ListURL:  server.URL + "/clist",
		QuoteURL: server.URL + "/quote",
		KlineURL: server.URL + "/kline",
		Timeout:  2 * time.Second,
	}
	hc := httputil.New(logger.Nop()).DisableRetry()
	httputil.BrowserHeaders(hc, Referer)
	return NewClient(hc, cfg, logger.Nop())
}

func TestSecID(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"600519", "1.600519"},
		{"688001", "1.688001"},
		{"000001", "0.000001"},
		{"300750", "0.300750"},
		{"830799", "0.830799"},
		{" 601318 ", "1.601318"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SecID(tt.code), tt.code)
	}
}

func TestParseKlines(t *testing.T) {
	bars, err := parseKlines([]byte(klineBody))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	first := bars[0]
	assert.Equal(t, "2024-01-05", first.Date.Format("2006-01-02"))
	assert.Equal(t, 1700.0, first.Open)
	assert.Equal(t, 1720.5, first.Close)
	assert.Equal(t, 1730.0, first.High)
	assert.Equal(t, 1690.0, first.Low)
	assert.Equal(t, 25000.0, first.Volume)
	assert.Equal(t, 4.3e9, first.Amount)
	assert.Equal(t, 1.2, first.PctChange)
	assert.Equal(t, -2.35, bars[1].PctChange)
}

func TestParseKlines_Empty(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"null data", `{"rc":0,"data":null}`},
		{"no klines", `{"data":{"code":"1"}}`},
		{"only garbage", `{"data":{"klines":["x","y,z"]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseKlines([]byte(tt.body))
			assert.ErrorIs(t, err, contracts.ErrInsufficientData)
		})
	}
}

func TestKlines_Request(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/kline", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1.600519", q.Get("secid"))
		assert.Equal(t, "102", q.Get("klt"))
		assert.Equal(t, "1", q.Get("fqt"))
		assert.Equal(t, "20240101", q.Get("beg"))
		assert.Equal(t, "20240131", q.Get("end"))
		assert.Equal(t, Referer, r.Header.Get("Referer"))
		fmt.Fprint(w, klineBody)
	})

	from, _ := time.Parse("2006-01-02", "2024-01-01")
	to, _ := time.Parse("2006-01-02", "2024-01-31")
	bars, err := c.Klines(context.Background(), "600519", Weekly, from, to)
	require.NoError(t, err)
	assert.Len(t, bars, 3)
}

func TestRecentKlines(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "120", r.URL.Query().Get("lmt"))
		assert.Equal(t, "101", r.URL.Query().Get("klt"))
		fmt.Fprint(w, klineBody)
	})

	bars, err := c.RecentKlines(context.Background(), "000001", Daily, 120)
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	_, err = c.RecentKlines(context.Background(), "000001", Daily, 0)
	assert.Error(t, err)
}

func TestStockList_Paging(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		switch page {
		case 1:
			fmt.Fprint(w, `{"data":{"total":3,"diff":[{"f12":"600519","f14":"贵州茅台"},{"f12":"000001","f14":"平安银行"}]}}`)
		case 2:
			fmt.Fprint(w, `{"data":{"total":3,"diff":[{"f12":"300750","f14":"宁德时代"}]}}`)
		default:
			t.Errorf("unexpected page %d", page)
		}
	})

	list, err := c.StockList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, contracts.StockInfo{Code: "300750", Name: "宁德时代"}, list[2])
}

func TestParseStockPage_ObjectDiff(t *testing.T) {
	items, total := parseStockPage([]byte(`{"data":{"total":1,"diff":{"0":{"f12":"600000","f14":"浦发银行"}}}}`))
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "600000", items[0].Code)
}

func TestQuote(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0.000001", r.URL.Query().Get("secid"))
		fmt.Fprint(w, `{"data":{"f43":10.52,"f57":"000001","f58":"平安银行","f116":204150000000.0,"f170":-1.23}}`)
	})

	q, err := c.Quote(context.Background(), "000001")
	require.NoError(t, err)
	assert.Equal(t, "平安银行", q.Name)
	assert.Equal(t, 10.52, q.Price)
	assert.Equal(t, 2041.5, q.MarketCap)
	assert.Equal(t, -1.23, q.PctChange)
}

func TestParseQuote_Placeholders(t *testing.T) {
	q, err := parseQuote([]byte(`{"data":{"f43":"-","f57":"830799","f58":"艾融软件","f116":"-","f170":"-"}}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, q.Price)
	assert.Equal(t, 0.0, q.MarketCap)

	_, err = parseQuote([]byte(`{"data":null}`))
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}
