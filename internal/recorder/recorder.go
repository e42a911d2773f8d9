package recorder

import (
	"context"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
)

// Recorder keeps a local history of finished scans.
type Recorder interface {
	RecordScan(ctx context.Context, p *contracts.Progress, cands []contracts.Candidate) error
	Runs(ctx context.Context, limit int) ([]Run, error)
	Hits(ctx context.Context, code string) ([]Hit, error)
	Close() error
}

// Run is one recorded scan
type Run struct {
	ScanID     string
	Status     contracts.Status
	ScanDate   string
	Total      int
	Found      int
	Errors     int
	StartedAt  time.Time
	RecordedAt time.Time
}

// Hit is one stock that appeared in a recorded scan
type Hit struct {
	ScanID   string
	ScanDate string
	Code     string
	Name     string
	Score    float64
	BuyPrice float64
}
