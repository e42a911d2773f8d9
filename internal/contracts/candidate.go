package contracts

import "time"

// StockInfo identifies a listed stock
type StockInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Quote is a live snapshot of one stock
type Quote struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	PctChange float64   `json:"pct_change"`
	MarketCap float64   `json:"market_cap"` // 亿 CNY
	FetchedAt time.Time `json:"fetched_at"`
}

// Profile is the company profile scraped from Sina
type Profile struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Industry    string    `json:"industry"`
	ListingDate time.Time `json:"listing_date"`
}

// Candidate is one stock that passed every scan filter
type Candidate struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`

	BuyDate  time.Time `json:"buy_date"`
	BuyPrice float64   `json:"buy_price"`

	CurrentPrice float64  `json:"current_price"`
	MarketCap    *float64 `json:"market_cap,omitempty"` // nil when it could not be resolved

	ScanDate    time.Time `json:"scan_date"`
	ScanSession string    `json:"scan_session,omitempty"`

	Gain4W        *float64   `json:"gain_4w,omitempty"`
	Gain10W       *float64   `json:"gain_10w,omitempty"`
	Gain20W       *float64   `json:"gain_20w,omitempty"`
	MaxGain10W    *float64   `json:"max_gain_10w,omitempty"`
	StopLossPrice float64    `json:"stop_loss_price"`
	BestSellPrice *float64   `json:"best_sell_price,omitempty"`
	BestSellDate  *time.Time `json:"best_sell_date,omitempty"`

	CoreMatches map[string]float64 `json:"core_matches,omitempty"`
	Features    FeatureVector      `json:"features,omitempty"`

	DataOutdated   bool      `json:"data_outdated"`
	LatestDataDate time.Time `json:"latest_data_date"`
}
