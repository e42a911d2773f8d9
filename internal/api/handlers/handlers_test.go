package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/bullscan/internal/auth"
	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/pkg/config"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

func asUser(r *http.Request, username string, tier contracts.Tier) *http.Request {
	c := &auth.Claims{Tier: tier}
	c.Subject = username
	return r.WithContext(WithClaims(r.Context(), c))
}

func TestCaller(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	u, tier := caller(r)
	assert.Empty(t, u)
	assert.Equal(t, contracts.TierFree, tier)

	u, tier = caller(asUser(r, "alice", contracts.TierPremium))
	assert.Equal(t, "alice", u)
	assert.Equal(t, contracts.TierPremium, tier)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		N int `json:"n"`
	}
	w := httptest.NewRecorder()

	require.NoError(t, decodeJSON(w, httptest.NewRequest("POST", "/", strings.NewReader("")), &dst))
	require.NoError(t, decodeJSON(w, httptest.NewRequest("POST", "/", strings.NewReader(`{"n":3}`)), &dst))
	assert.Equal(t, 3, dst.N)
	assert.Error(t, decodeJSON(w, httptest.NewRequest("POST", "/", strings.NewReader(`{"n":`)), &dst))
}

func TestScanParams(t *testing.T) {
	h := NewScanHandler(nil, nil, config.ScanConfig{
		MinMatchScore: 0.93,
		MaxMarketCap:  100,
		BatchSize:     200,
		Workers:       5,
		StockTimeout:  10 * time.Second,
	}, logger.Nop())

	score := 0.8
	zeroCap := 0.0
	p, err := h.params(scanRequest{
		MinScore:     &score,
		MaxCap:       &zeroCap,
		ScanDate:     "2024-07-12",
		BatchSize:    50,
		StockTimeout: 3,
		SkipTrend:    true,
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0.8, p.MinMatchScore)
	assert.Zero(t, p.MaxMarketCap)
	assert.Equal(t, 50, p.BatchSize)
	assert.Equal(t, 5, p.Workers)
	assert.Equal(t, 3*time.Second, p.StockTimeout)
	assert.Equal(t, time.Date(2024, 7, 12, 0, 0, 0, 0, time.UTC), p.ScanDate)
	assert.True(t, p.SkipTrendFilter)
	assert.Equal(t, "bob", p.Username)

	p, err = h.params(scanRequest{}, "")
	require.NoError(t, err)
	assert.Equal(t, 0.93, p.MinMatchScore)
	assert.Equal(t, 100.0, p.MaxMarketCap)

	bad := 1.2
	_, err = h.params(scanRequest{MinScore: &bad}, "")
	assert.Error(t, err)
	_, err = h.params(scanRequest{ScanDate: "12/07/2024"}, "")
	assert.Error(t, err)
}

func seededScan(t *testing.T) (*ScanHandler, string) {
	t.Helper()
	store := scan.NewMemoryProgressStore()
	ctx := context.Background()
	id := "scan_1720742400_abcd"
	mcap := 42.0
	require.NoError(t, store.SaveProgress(ctx, &contracts.Progress{
		ScanID: id,
		Status: contracts.StatusComplete,
		Params: contracts.ScanParams{Username: "carol"},
	}))
	require.NoError(t, store.SaveResults(ctx, id, []contracts.Candidate{
		{Code: "600000", Name: "浦发银行", Score: 0.95, BuyPrice: 8.1, MarketCap: &mcap},
	}))
	require.NoError(t, store.SetLatest(ctx, "carol", id))

	kv := redis.NewKV(redis.Disabled())
	driver := scan.NewDriver(nil, store, nil, logger.Nop())
	return NewScanHandler(driver, scan.NewLimits(kv, 15), config.ScanConfig{}, logger.Nop()), id
}

func TestScanResultsAndExport(t *testing.T) {
	h, id := seededScan(t)

	rec := httptest.NewRecorder()
	h.Results(rec, asUser(httptest.NewRequest("GET", "/api/scan/results", nil), "carol", contracts.TierSuper))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scan_id":"`+id+`"`)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	tests := []struct {
		format      string
		contentType string
		contains    string
	}{
		{"csv", "text/csv", "600000"},
		{"json", "application/json", `"code": "600000"`},
		{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "PK"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/scan/export?format="+tt.format, nil)
			h.Export(rec, asUser(req, "carol", contracts.TierSuper))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), tt.contentType)
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "bullscan_"+id+"."+tt.format)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestScanStartFailureKeepsQuota(t *testing.T) {
	kv := redis.NewKV(redis.Disabled())
	afterClose := func() time.Time { return time.Date(2024, 7, 24, 16, 0, 0, 0, time.FixedZone("CST", 8*3600)) }
	limits := scan.NewLimits(kv, 15).WithClock(afterClose)
	driver := scan.NewDriver(nil, scan.NewMemoryProgressStore(), nil, logger.Nop())
	h := NewScanHandler(driver, limits, config.ScanConfig{}, logger.Nop())

	for _, body := range []string{`{}`, `{}`, `{"batch":true}`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/scan", strings.NewReader(body))
		h.Start(rec, asUser(req, "dave", contracts.TierFree))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	}

	used, err := limits.Used(context.Background(), "dave")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestScanOwnership(t *testing.T) {
	tests := []struct {
		name string
		user string
		tier contracts.Tier
		want int
	}{
		{"owner", "carol", contracts.TierFree, http.StatusOK},
		{"other user", "mallory", contracts.TierPremium, http.StatusForbidden},
		{"super", "admin", contracts.TierSuper, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, id := seededScan(t)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/scan/stop", strings.NewReader(`{"scan_id":"`+id+`"}`))
			h.Stop(rec, asUser(req, tt.user, tt.tier))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	h, id := seededScan(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/scan/continue", strings.NewReader(`{"scan_id":"`+id+`","batch":2}`))
	h.Continue(rec, asUser(req, "mallory", contracts.TierFree))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/scan/stop", strings.NewReader(`{"scan_id":"scan_missing"}`))
	h.Stop(rec, asUser(req, "carol", contracts.TierFree))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanResultsUnknownUser(t *testing.T) {
	h, _ := seededScan(t)
	rec := httptest.NewRecorder()
	h.Results(rec, asUser(httptest.NewRequest("GET", "/api/scan/results", nil), "dave", contracts.TierSuper))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type scriptedProgress struct {
	mu    sync.Mutex
	steps []contracts.Progress
	calls int
}

func (s *scriptedProgress) Progress(_ context.Context, scanID string) (*contracts.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scanID != "s1" {
		return nil, scan.ErrScanNotFound
	}
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	p := s.steps[i]
	return &p, nil
}

func TestProgressStream(t *testing.T) {
	t0 := time.Date(2024, 7, 24, 8, 0, 0, 0, time.UTC)
	src := &scriptedProgress{steps: []contracts.Progress{
		{ScanID: "s1", Status: contracts.StatusRunning, Current: 0, Total: 10, UpdatedAt: t0},
		{ScanID: "s1", Status: contracts.StatusRunning, Current: 0, Total: 10, UpdatedAt: t0},
		{ScanID: "s1", Status: contracts.StatusRunning, Current: 5, Total: 10, UpdatedAt: t0.Add(time.Second)},
		{ScanID: "s1", Status: contracts.StatusRunning, Current: 5, Total: 10, UpdatedAt: t0.Add(time.Second)},
		{ScanID: "s1", Status: contracts.StatusComplete, Current: 10, Total: 10, UpdatedAt: t0.Add(2 * time.Second)},
	}}
	stream := NewProgressStream(src, logger.Nop())
	stream.poll = 5 * time.Millisecond

	r := mux.NewRouter()
	r.HandleFunc("/ws/scan/{id}", stream.Serve)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scan/s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []contracts.Progress
	for {
		var p contracts.Progress
		if err := conn.ReadJSON(&p); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			break
		}
		got = append(got, p)
	}

	require.Len(t, got, 3, "unchanged progress is not resent")
	assert.Equal(t, 0, got[0].Current)
	assert.Equal(t, 5, got[1].Current)
	assert.Equal(t, contracts.StatusComplete, got[2].Status)
}

func TestProgressStreamUnknownScan(t *testing.T) {
	stream := NewProgressStream(&scriptedProgress{}, logger.Nop())
	r := mux.NewRouter()
	r.HandleFunc("/ws/scan/{id}", stream.Serve)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/scan/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
