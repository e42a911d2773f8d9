package recorder

import (
	"context"

	"github.com/wonny/bullscan/internal/contracts"
)

// NoopRecorder is used when RECORDER_PATH is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordScan(context.Context, *contracts.Progress, []contracts.Candidate) error {
	return nil
}
func (n *NoopRecorder) Runs(context.Context, int) ([]Run, error)    { return nil, nil }
func (n *NoopRecorder) Hits(context.Context, string) ([]Hit, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                { return nil }
