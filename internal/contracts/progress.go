package contracts

import "time"

// Status is the lifecycle state of a scan
type Status string

const (
	StatusPreparing Status = "preparing"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
	StatusComplete  Status = "complete"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusFailed || s == StatusComplete
}

// CanTransition reports whether s may move to next.
// Preparing -> Running -> {Stopped | Failed | Complete}; preparing may also fail or stop.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPreparing:
		return next == StatusRunning || next == StatusFailed || next == StatusStopped
	case StatusRunning:
		return next == StatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// ScanParams are the knobs of one scan
type ScanParams struct {
	MinMatchScore float64       `json:"min_match_score"`
	MaxMarketCap  float64       `json:"max_market_cap"` // 亿 CNY, 0 disables
	Limit         int           `json:"limit,omitempty"`
	ScanDate      time.Time     `json:"scan_date"`
	ScanSession   string        `json:"scan_session,omitempty"`
	Workers       int           `json:"workers"`
	BatchSize     int           `json:"batch_size"`
	StockTimeout  time.Duration `json:"stock_timeout"`
	CapTimeout    time.Duration `json:"cap_timeout"`

	SkipTrendFilter   bool `json:"skip_trend_filter,omitempty"`
	SkipBearishFilter bool `json:"skip_bearish_filter,omitempty"`

	Username string `json:"username,omitempty"`
}

// Progress is the polled state of a scan
type Progress struct {
	ScanID     string  `json:"scan_id"`
	Status     Status  `json:"status"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Found      int     `json:"found"`
	Errors     int     `json:"errors"`

	Batch        int `json:"batch,omitempty"`
	TotalBatches int `json:"total_batches,omitempty"`

	CurrentStock string `json:"current_stock,omitempty"`
	CurrentName  string `json:"current_name,omitempty"`
	Detail       string `json:"detail,omitempty"`

	Candidates []Candidate `json:"candidates,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Params     ScanParams  `json:"params"`
}

// SetCounts updates the counters and percentage together
func (p *Progress) SetCounts(current, total int) {
	p.Current = current
	p.Total = total
	if total > 0 {
		p.Percentage = Round(float64(current)/float64(total)*100, 1)
	} else {
		p.Percentage = 0
	}
}
