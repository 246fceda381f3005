package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/agenda/pkg/types"
)

// DefaultBatchConcurrency bounds SubmitBatch when no limit is given.
const DefaultBatchConcurrency = 4

// BatchItem pairs a request with its outcome.
type BatchItem struct {
	Request types.ExtractionRequest
	Result  *Result
	Err     error
}

// SubmitBatch processes independent requests concurrently, at most
// concurrency at a time. Requests of the same owner still serialize on the
// owner lock. A failing request never cancels its siblings; each item
// carries its own error.
func (p *Pipeline) SubmitBatch(ctx context.Context, reqs []types.ExtractionRequest, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		i, req := i, req
		items[i].Request = req
		g.Go(func() error {
			items[i].Result, items[i].Err = p.SubmitExtraction(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return items
}
